package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeLockStore struct {
	values map[string]string
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{values: map[string]string{}}
}

func (f *fakeLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value.(string)
	return true, nil
}

func (f *fakeLockStore) Get(_ context.Context, key string) (string, error) {
	value, ok := f.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (f *fakeLockStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.values, key)
	}
	return nil
}

func TestRedisLock_exclusive(t *testing.T) {
	store := newFakeLockStore()
	first, _ := NewRedisLock(store, "ptk:lock:recovery", time.Minute)
	second, _ := NewRedisLock(store, "ptk:lock:recovery", time.Minute)
	ctx := context.Background()

	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("second acquire must fail while held")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatal("acquire must succeed after release")
	}
}

func TestRedisLock_releaseOnlyOwnValue(t *testing.T) {
	store := newFakeLockStore()
	lock, _ := NewRedisLock(store, "ptk:lock:recovery", time.Minute)
	ctx := context.Background()

	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}
	// Simulate TTL expiry plus takeover by another instance.
	store.values["ptk:lock:recovery"] = "someone-else"

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.values["ptk:lock:recovery"] != "someone-else" {
		t.Fatal("release must not delete a lock it no longer owns")
	}
}

func TestNewRedisLockValidation(t *testing.T) {
	if _, err := NewRedisLock(nil, "key", time.Minute); err == nil {
		t.Fatal("expected client validation error")
	}
	if _, err := NewRedisLock(newFakeLockStore(), "", time.Minute); err == nil {
		t.Fatal("expected key validation error")
	}
}
