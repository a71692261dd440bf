package statemachine

import (
	"github.com/photark/photark-backend/pkg/enums"
)

// sessionChain is the happy-path progression. Side branches to the terminal
// failure states are legal from any non-terminal state.
var sessionChain = map[enums.SessionStatus]enums.SessionStatus{
	enums.SessionStatusPending:    enums.SessionStatusReady,
	enums.SessionStatusReady:      enums.SessionStatusExpanding,
	enums.SessionStatusExpanding:  enums.SessionStatusProcessing,
	enums.SessionStatusProcessing: enums.SessionStatusEnqueued,
	enums.SessionStatusEnqueued:   enums.SessionStatusImporting,
	enums.SessionStatusImporting:  enums.SessionStatusImported,
}

var sessionSideBranches = []enums.SessionStatus{
	enums.SessionStatusCanceled,
	enums.SessionStatusExpired,
	enums.SessionStatusError,
	enums.SessionStatusFailed,
}

// ValidateSessionTransition returns a *TransitionError when from -> to is not
// a legal session edge.
func ValidateSessionTransition(from, to enums.SessionStatus) error {
	if !from.IsValid() || !to.IsValid() || from.IsTerminal() {
		return &TransitionError{Entity: "session", From: from.String(), To: to.String()}
	}
	if sessionChain[from] == to {
		return nil
	}
	for _, branch := range sessionSideBranches {
		if branch == to {
			return nil
		}
	}
	return &TransitionError{Entity: "session", From: from.String(), To: to.String()}
}

// ItemStateCounts is the distribution of a session's items by status.
type ItemStateCounts struct {
	Pending   int
	Enqueued  int
	Running   int
	Imported  int
	Duplicate int
	Failed    int
	Expired   int
	Skipped   int
}

// Total returns the number of counted items.
func (c ItemStateCounts) Total() int {
	return c.Pending + c.Enqueued + c.Running + c.Imported + c.Duplicate +
		c.Failed + c.Expired + c.Skipped
}

// Terminal returns the number of items in a final state.
func (c ItemStateCounts) Terminal() int {
	return c.Imported + c.Duplicate + c.Failed + c.Expired + c.Skipped
}

// ExpectedSessionStatus recomputes the session state implied by its items.
// The consistency validator compares this against the stored state and
// reports (never corrects) any mismatch.
func ExpectedSessionStatus(current enums.SessionStatus, counts ItemStateCounts) enums.SessionStatus {
	// Terminal session states and the pre-expansion phases carry no item
	// distribution to check against.
	if current.IsTerminal() || counts.Total() == 0 {
		return current
	}
	switch {
	case counts.Terminal() == counts.Total():
		if counts.Failed == counts.Total() {
			return enums.SessionStatusFailed
		}
		return enums.SessionStatusImported
	case counts.Running > 0:
		return enums.SessionStatusImporting
	case counts.Enqueued > 0:
		return enums.SessionStatusEnqueued
	default:
		return enums.SessionStatusProcessing
	}
}
