package statemachine

import (
	"context"

	"github.com/photark/photark-backend/pkg/enums"
)

// FinishFunc applies a terminal transition for the guarded item.
type FinishFunc func(ctx context.Context, status enums.ItemStatus, reason string) error

// Guard pins a claimed (running) item to a deterministic terminal transition.
// Exactly one terminal transition is applied no matter how the processing
// scope exits; a deferred Ensure covers panic and early-return paths.
type Guard struct {
	finish   FinishFunc
	finished bool
}

// NewGuard wraps the terminal transition for one claimed item.
func NewGuard(finish FinishFunc) *Guard {
	return &Guard{finish: finish}
}

// Complete applies the terminal transition. Later calls are no-ops so that a
// deferred Ensure never double-fires.
func (g *Guard) Complete(ctx context.Context, status enums.ItemStatus, reason string) error {
	if g == nil || g.finished || g.finish == nil {
		return nil
	}
	g.finished = true
	return g.finish(ctx, status, reason)
}

// Finished reports whether a terminal transition was applied.
func (g *Guard) Finished() bool {
	return g != nil && g.finished
}

// Ensure fails the item if the scope exited without completing. Intended for
// use with defer right after a successful claim.
func (g *Guard) Ensure(ctx context.Context) {
	if g == nil || g.finished {
		return
	}
	_ = g.Complete(ctx, enums.ItemStatusFailed, "processing aborted before completion")
}
