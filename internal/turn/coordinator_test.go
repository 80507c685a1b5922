package turn

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"
)

func newTestCoordinator(retryCeiling int) (*Coordinator, *MemoryStore) {
	logger := log.New(os.Stdout, "", 0)
	store := NewMemoryStore()
	return NewCoordinator(logger, store, time.Minute, retryCeiling), store
}

func TestCoordinatorRetryCeiling(t *testing.T) {
	coordinator, _ := newTestCoordinator(2)
	ctx := context.Background()

	_, lease, err := coordinator.Acquire(ctx, "t1", "s1", "a1", "msg-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	_, retryable, err := coordinator.Fail(ctx, lease, FailProviderError, "transient")
	if err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	if !retryable {
		t.Fatalf("first failure should be retryable below the ceiling")
	}

	_, lease, err = coordinator.Acquire(ctx, "t1", "s1", "a1", "msg-1")
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	_, retryable, err = coordinator.Fail(ctx, lease, FailProviderError, "transient again")
	if err != nil {
		t.Fatalf("second fail failed: %v", err)
	}
	if retryable {
		t.Fatalf("retry ceiling of 2 should stop after the second attempt")
	}
}

func TestCoordinatorNonRetryableKinds(t *testing.T) {
	coordinator, _ := newTestCoordinator(5)
	ctx := context.Background()

	_, lease, err := coordinator.Acquire(ctx, "t1", "s1", "a1", "msg-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	_, retryable, err := coordinator.Fail(ctx, lease, FailFatal, "boundary violation")
	if err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	if retryable {
		t.Fatalf("fatal failures must never be retryable")
	}
}

func TestCoordinatorHeartbeatAndRelease(t *testing.T) {
	coordinator, store := newTestCoordinator(3)
	ctx := context.Background()

	_, lease, err := coordinator.Acquire(ctx, "t1", "s1", "a1", "msg-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	extended, err := coordinator.Heartbeat(ctx, lease)
	if err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}
	if !extended.ExpiresAt.After(lease.ExpiresAt.Add(-time.Second)) {
		t.Fatalf("heartbeat did not extend the lease")
	}

	released, err := coordinator.Release(ctx, extended, StateCompleted)
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if released.State != StateCompleted {
		t.Fatalf("expected completed, got %s", released.State)
	}

	stored, err := store.GetTurn(ctx, released.TurnID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.CompletedAt.IsZero() {
		t.Fatalf("completion timestamp missing")
	}

	if _, err := coordinator.Heartbeat(ctx, extended); !errors.Is(err, ErrStaleLease) {
		t.Fatalf("expected ErrStaleLease after release, got %v", err)
	}
}

func TestSweeperReclaimsAndNotifies(t *testing.T) {
	logger := log.New(os.Stdout, "", 0)
	store := NewMemoryStore()
	coordinator := NewCoordinator(logger, store, 10*time.Millisecond, 3)
	ctx := context.Background()

	if _, _, err := coordinator.Acquire(ctx, "t1", "s1", "a1", "msg-1"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	reclaimed := make(chan TurnRecord, 1)
	sweeper := NewSweeper(logger, coordinator, 10*time.Millisecond, func(rec TurnRecord) {
		select {
		case reclaimed <- rec:
		default:
		}
	})
	sweeper.Start()
	defer sweeper.Stop()

	select {
	case rec := <-reclaimed:
		if rec.FailureKind != FailLeaseExpired {
			t.Fatalf("expected lease_expired, got %s", rec.FailureKind)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for sweep reclamation")
	}

	if _, _, err := coordinator.Acquire(ctx, "t1", "s1", "a1", "msg-1"); err != nil {
		t.Fatalf("reacquire after reclamation failed: %v", err)
	}
}
