package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeTaskStore struct {
	values  map[string]string
	expired bool
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{values: map[string]string{}}
}

func (f *fakeTaskStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	f.values[key] = value.(string)
	return nil
}

func (f *fakeTaskStore) Expire(_ context.Context, key string, _ time.Duration) (bool, error) {
	if f.expired {
		return false, nil
	}
	_, ok := f.values[key]
	return ok, nil
}

func (f *fakeTaskStore) Exists(_ context.Context, keys ...string) (int64, error) {
	var count int64
	for _, key := range keys {
		if _, ok := f.values[key]; ok {
			count++
		}
	}
	return count, nil
}

func (f *fakeTaskStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.values, key)
	}
	return nil
}

func (f *fakeTaskStore) TaskKey(sessionID string) string {
	return "ptk:task:session:" + sessionID
}

func TestTaskRegistry_lifecycle(t *testing.T) {
	store := newFakeTaskStore()
	registry, err := NewTaskRegistry(store, 5*time.Minute)
	if err != nil {
		t.Fatalf("NewTaskRegistry: %v", err)
	}
	sessionID := uuid.New()
	ctx := context.Background()

	if active, _ := registry.IsActive(ctx, sessionID); active {
		t.Fatal("fresh session must not be active")
	}

	if err := registry.Register(ctx, sessionID, "worker-a"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if active, _ := registry.IsActive(ctx, sessionID); !active {
		t.Fatal("registered session must be active")
	}

	if err := registry.Deregister(ctx, sessionID); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if active, _ := registry.IsActive(ctx, sessionID); active {
		t.Fatal("deregistered session must not be active")
	}
}

func TestTaskRegistry_renewFallsBackToRegister(t *testing.T) {
	store := newFakeTaskStore()
	store.expired = true
	registry, _ := NewTaskRegistry(store, 5*time.Minute)
	sessionID := uuid.New()

	if err := registry.Renew(context.Background(), sessionID, "worker-a"); err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if active, _ := registry.IsActive(context.Background(), sessionID); !active {
		t.Fatal("renew on an expired key must re-register the marker")
	}
}

func TestNewTaskRegistryValidation(t *testing.T) {
	if _, err := NewTaskRegistry(nil, time.Minute); err == nil {
		t.Fatal("expected store validation error")
	}
	if _, err := NewTaskRegistry(newFakeTaskStore(), 0); err == nil {
		t.Fatal("expected ttl validation error")
	}
}
