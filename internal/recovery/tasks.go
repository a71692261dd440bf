package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// taskStore is the Redis surface the registry needs.
type taskStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
	Del(ctx context.Context, keys ...string) error
	TaskKey(sessionID string) string
}

// TaskRegistry marks live worker activity per session. Workers register when
// they start on a session and renew while processing; entries expire on their
// own when a worker dies, which is exactly what makes the scanner's
// active-worker check trustworthy.
type TaskRegistry struct {
	store taskStore
	ttl   time.Duration
}

func NewTaskRegistry(store taskStore, ttl time.Duration) (*TaskRegistry, error) {
	if store == nil {
		return nil, fmt.Errorf("task registry: store is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("task registry: ttl must be positive")
	}
	return &TaskRegistry{store: store, ttl: ttl}, nil
}

// Register marks the session as actively worked by workerID.
func (r *TaskRegistry) Register(ctx context.Context, sessionID uuid.UUID, workerID string) error {
	return r.store.Set(ctx, r.store.TaskKey(sessionID.String()), workerID, r.ttl)
}

// Renew refreshes the activity marker. Called alongside item heartbeats.
// Falls back to a fresh Set when the key already expired.
func (r *TaskRegistry) Renew(ctx context.Context, sessionID uuid.UUID, workerID string) error {
	renewed, err := r.store.Expire(ctx, r.store.TaskKey(sessionID.String()), r.ttl)
	if err != nil {
		return err
	}
	if !renewed {
		return r.Register(ctx, sessionID, workerID)
	}
	return nil
}

// Deregister removes the marker when a worker finishes the session.
func (r *TaskRegistry) Deregister(ctx context.Context, sessionID uuid.UUID) error {
	return r.store.Del(ctx, r.store.TaskKey(sessionID.String()))
}

// IsActive reports whether any worker currently holds a live marker for the
// session.
func (r *TaskRegistry) IsActive(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	count, err := r.store.Exists(ctx, r.store.TaskKey(sessionID.String()))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
