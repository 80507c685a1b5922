package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"relaystack.local/relay-gateway/internal/ids"
)

func makeTurn(sessionID, agentID, idempotencyKey string, expiresAt time.Time) TurnRecord {
	return TurnRecord{
		TurnID:         ids.New(),
		TenantID:       "t1",
		SessionID:      sessionID,
		AgentID:        agentID,
		IdempotencyKey: idempotencyKey,
		LeaseToken:     ids.NewToken(),
		LeaseExpiresAt: expiresAt,
	}
}

func TestAcquireTurnExactlyOneWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	expiresAt := time.Now().UTC().Add(time.Minute)

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan TurnRecord, workers)
	losses := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := store.AcquireTurn(ctx, makeTurn("s1", "a1", "msg-1", expiresAt))
			if err != nil {
				losses <- err
				return
			}
			wins <- rec
		}()
	}
	wg.Wait()
	close(wins)
	close(losses)

	if len(wins) != 1 {
		t.Fatalf("expected exactly one acquire to win, got %d", len(wins))
	}
	for err := range losses {
		if !errors.Is(err, ErrLeaseConflict) {
			t.Fatalf("loser got %v, want ErrLeaseConflict", err)
		}
	}
}

func TestAcquireTurnIndependentPairs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	expiresAt := time.Now().UTC().Add(time.Minute)

	if _, err := store.AcquireTurn(ctx, makeTurn("s1", "a1", "m1", expiresAt)); err != nil {
		t.Fatalf("acquire s1/a1 failed: %v", err)
	}
	if _, err := store.AcquireTurn(ctx, makeTurn("s1", "a2", "m2", expiresAt)); err != nil {
		t.Fatalf("acquire for a different agent should succeed: %v", err)
	}
	if _, err := store.AcquireTurn(ctx, makeTurn("s2", "a1", "m3", expiresAt)); err != nil {
		t.Fatalf("acquire for a different session should succeed: %v", err)
	}
}

func TestDuplicateDeliveryAfterCompletion(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	rec := makeTurn("s1", "a1", "msg-1", time.Now().UTC().Add(time.Minute))

	if _, err := store.AcquireTurn(ctx, rec); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if _, err := store.ReleaseTurn(ctx, rec.LeaseToken, StateCompleted); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	_, err := store.AcquireTurn(ctx, makeTurn("s1", "a1", "msg-1", time.Now().UTC().Add(time.Minute)))
	if !errors.Is(err, ErrDuplicateDelivery) {
		t.Fatalf("expected ErrDuplicateDelivery, got %v", err)
	}
}

func TestHeartbeatExtendsLease(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	rec := makeTurn("s1", "a1", "msg-1", time.Now().UTC().Add(time.Second))

	if _, err := store.AcquireTurn(ctx, rec); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	extended := time.Now().UTC().Add(time.Hour)
	updated, err := store.HeartbeatTurn(ctx, rec.LeaseToken, extended)
	if err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}
	if !updated.LeaseExpiresAt.Equal(extended) {
		t.Fatalf("lease not extended: %s", updated.LeaseExpiresAt)
	}

	if _, err := store.HeartbeatTurn(ctx, "bogus-token", extended); !errors.Is(err, ErrStaleLease) {
		t.Fatalf("expected ErrStaleLease for unknown token, got %v", err)
	}
}

func TestSweepReclaimsLapsedLease(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	rec := makeTurn("s1", "a1", "msg-1", time.Now().UTC().Add(-time.Second))

	if _, err := store.AcquireTurn(ctx, rec); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	reclaimed, err := store.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(reclaimed) != 1 {
		t.Fatalf("expected one reclaimed turn, got %d", len(reclaimed))
	}
	if reclaimed[0].FailureKind != FailLeaseExpired {
		t.Fatalf("expected lease_expired failure, got %s", reclaimed[0].FailureKind)
	}

	// The pair is free again; a new delivery may acquire immediately.
	fresh, err := store.AcquireTurn(ctx, makeTurn("s1", "a1", "msg-1", time.Now().UTC().Add(time.Minute)))
	if err != nil {
		t.Fatalf("reacquire after sweep failed: %v", err)
	}
	if fresh.AttemptCount != reclaimed[0].AttemptCount {
		t.Fatalf("fresh turn lost the attempt history: got %d want %d", fresh.AttemptCount, reclaimed[0].AttemptCount)
	}

	// The reclaimed lease token is dead.
	if _, err := store.HeartbeatTurn(ctx, rec.LeaseToken, time.Now().UTC().Add(time.Minute)); !errors.Is(err, ErrStaleLease) {
		t.Fatalf("expected ErrStaleLease on reclaimed token, got %v", err)
	}
}

func TestFailTurnCountsAttempts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	rec := makeTurn("s1", "a1", "msg-1", time.Now().UTC().Add(time.Minute))

	if _, err := store.AcquireTurn(ctx, rec); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	failed, err := store.FailTurn(ctx, rec.LeaseToken, FailProviderError, "boom")
	if err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	if failed.AttemptCount != 1 {
		t.Fatalf("expected attempt count 1, got %d", failed.AttemptCount)
	}

	retry := makeTurn("s1", "a1", "msg-1", time.Now().UTC().Add(time.Minute))
	acquired, err := store.AcquireTurn(ctx, retry)
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	if acquired.AttemptCount != 1 {
		t.Fatalf("expected inherited attempt count 1, got %d", acquired.AttemptCount)
	}
	failed, err = store.FailTurn(ctx, retry.LeaseToken, FailProviderError, "boom again")
	if err != nil {
		t.Fatalf("second fail failed: %v", err)
	}
	if failed.AttemptCount != 2 {
		t.Fatalf("expected attempt count 2, got %d", failed.AttemptCount)
	}
}

func TestResumeTurnRequiresSuspendedAndFreePair(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	rec := makeTurn("s1", "a1", "msg-1", time.Now().UTC().Add(time.Minute))

	if _, err := store.AcquireTurn(ctx, rec); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if _, err := store.ReleaseTurn(ctx, rec.LeaseToken, StateSuspended); err != nil {
		t.Fatalf("suspend failed: %v", err)
	}

	blocker := makeTurn("s1", "a1", "msg-2", time.Now().UTC().Add(time.Minute))
	if _, err := store.AcquireTurn(ctx, blocker); err != nil {
		t.Fatalf("acquire blocker failed: %v", err)
	}
	if _, err := store.ResumeTurn(ctx, rec.TurnID, ids.NewToken(), time.Now().UTC().Add(time.Minute)); !errors.Is(err, ErrLeaseConflict) {
		t.Fatalf("expected ErrLeaseConflict while pair is busy, got %v", err)
	}

	if _, err := store.ReleaseTurn(ctx, blocker.LeaseToken, StateCompleted); err != nil {
		t.Fatalf("release blocker failed: %v", err)
	}
	resumed, err := store.ResumeTurn(ctx, rec.TurnID, ids.NewToken(), time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed.State != StateRunning {
		t.Fatalf("expected running after resume, got %s", resumed.State)
	}
}
