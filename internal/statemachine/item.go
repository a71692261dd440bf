package statemachine

import (
	"fmt"

	"github.com/photark/photark-backend/pkg/enums"
)

// TransitionError reports a rejected state machine edge. No state is mutated
// when one is returned.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s transition %s -> %s is not allowed", e.Entity, e.From, e.To)
}

// itemEdges lists every legal item transition. Terminal states have no
// outgoing edges; running -> enqueued is the retry requeue path.
var itemEdges = map[enums.ItemStatus][]enums.ItemStatus{
	enums.ItemStatusPending: {
		enums.ItemStatusEnqueued,
		enums.ItemStatusRunning,
		enums.ItemStatusSkipped,
		enums.ItemStatusExpired,
	},
	enums.ItemStatusEnqueued: {
		enums.ItemStatusRunning,
		enums.ItemStatusSkipped,
		enums.ItemStatusExpired,
	},
	enums.ItemStatusRunning: {
		enums.ItemStatusImported,
		enums.ItemStatusDuplicate,
		enums.ItemStatusFailed,
		enums.ItemStatusExpired,
		enums.ItemStatusSkipped,
		enums.ItemStatusEnqueued,
	},
}

// ValidateItemTransition returns a *TransitionError when from -> to is not a
// legal item edge.
func ValidateItemTransition(from, to enums.ItemStatus) error {
	if !from.IsValid() || !to.IsValid() {
		return &TransitionError{Entity: "item", From: from.String(), To: to.String()}
	}
	for _, next := range itemEdges[from] {
		if next == to {
			return nil
		}
	}
	return &TransitionError{Entity: "item", From: from.String(), To: to.String()}
}
