package enums

import "fmt"

// SessionStatus describes the lifecycle state of an import session.
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusReady      SessionStatus = "ready"
	SessionStatusExpanding  SessionStatus = "expanding"
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusEnqueued   SessionStatus = "enqueued"
	SessionStatusImporting  SessionStatus = "importing"
	SessionStatusImported   SessionStatus = "imported"
	SessionStatusCanceled   SessionStatus = "canceled"
	SessionStatusExpired    SessionStatus = "expired"
	SessionStatusError      SessionStatus = "error"
	SessionStatusFailed     SessionStatus = "failed"
)

var validSessionStatuses = []SessionStatus{
	SessionStatusPending,
	SessionStatusReady,
	SessionStatusExpanding,
	SessionStatusProcessing,
	SessionStatusEnqueued,
	SessionStatusImporting,
	SessionStatusImported,
	SessionStatusCanceled,
	SessionStatusExpired,
	SessionStatusError,
	SessionStatusFailed,
}

// String returns the literal string for the status.
func (s SessionStatus) String() string {
	return string(s)
}

// IsValid reports whether the status is known.
func (s SessionStatus) IsValid() bool {
	for _, candidate := range validSessionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the session has reached a final state.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusImported, SessionStatusCanceled, SessionStatusExpired, SessionStatusError, SessionStatusFailed:
		return true
	}
	return false
}

// ParseSessionStatus converts raw input into a SessionStatus.
func ParseSessionStatus(value string) (SessionStatus, error) {
	for _, candidate := range validSessionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid session status %q", value)
}
