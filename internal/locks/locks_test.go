package locks

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalTryLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewLocal()
	release, err := l.TryLock(ctx, "event:1", time.Minute)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := l.TryLock(ctx, "event:1", time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("err = %v, want ErrHeld", err)
	}
	if _, err := l.TryLock(ctx, "event:2", time.Minute); err != nil {
		t.Fatalf("other key: %v", err)
	}
	release()
	if _, err := l.TryLock(ctx, "event:1", time.Minute); err != nil {
		t.Fatalf("after release: %v", err)
	}
}

func TestLocalLockExpires(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocal()
	l.clock = func() time.Time { return now }
	stale, _ := l.TryLock(context.Background(), "k", time.Second)

	now = now.Add(2 * time.Second)
	if _, err := l.TryLock(context.Background(), "k", time.Second); err != nil {
		t.Fatalf("expired lock should be reclaimable: %v", err)
	}
	stale()
	if _, err := l.TryLock(context.Background(), "k", time.Second); !errors.Is(err, ErrHeld) {
		t.Fatalf("stale release must not free the new holder, err = %v", err)
	}
}
