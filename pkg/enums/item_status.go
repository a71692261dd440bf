package enums

import "fmt"

// ItemStatus describes the lifecycle state of a selection item.
type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusEnqueued  ItemStatus = "enqueued"
	ItemStatusRunning   ItemStatus = "running"
	ItemStatusImported  ItemStatus = "imported"
	ItemStatusDuplicate ItemStatus = "duplicate"
	ItemStatusFailed    ItemStatus = "failed"
	ItemStatusExpired   ItemStatus = "expired"
	ItemStatusSkipped   ItemStatus = "skipped"
)

var validItemStatuses = []ItemStatus{
	ItemStatusPending,
	ItemStatusEnqueued,
	ItemStatusRunning,
	ItemStatusImported,
	ItemStatusDuplicate,
	ItemStatusFailed,
	ItemStatusExpired,
	ItemStatusSkipped,
}

// String returns the literal string for the status.
func (s ItemStatus) String() string {
	return string(s)
}

// IsValid reports whether the status is known.
func (s ItemStatus) IsValid() bool {
	for _, candidate := range validItemStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the item has reached a final state.
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case ItemStatusImported, ItemStatusDuplicate, ItemStatusFailed, ItemStatusExpired, ItemStatusSkipped:
		return true
	}
	return false
}

// ParseItemStatus converts raw input into an ItemStatus.
func ParseItemStatus(value string) (ItemStatus, error) {
	for _, candidate := range validItemStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid item status %q", value)
}
