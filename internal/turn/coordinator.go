package turn

import (
	"context"
	"fmt"
	"log"
	"time"

	"relaystack.local/relay-gateway/internal/ids"
)

// Lease is a live claim on a running turn. The token must accompany every
// heartbeat, release, and fail.
type Lease struct {
	TurnID    string
	Token     string
	ExpiresAt time.Time
}

// Coordinator manages the turn lifecycle. Exclusivity per (session, agent)
// pair comes from the store's conditional acquire; the coordinator adds
// lease bookkeeping and the retry ceiling.
type Coordinator struct {
	logger        *log.Logger
	store         Store
	leaseDuration time.Duration
	retryCeiling  int
	nowFunc       func() time.Time
}

func NewCoordinator(logger *log.Logger, store Store, leaseDuration time.Duration, retryCeiling int) *Coordinator {
	if leaseDuration <= 0 {
		leaseDuration = 60 * time.Second
	}
	return &Coordinator{
		logger:        logger,
		store:         store,
		leaseDuration: leaseDuration,
		retryCeiling:  retryCeiling,
		nowFunc:       time.Now,
	}
}

// Acquire claims a new turn for the pair. Exactly one of N concurrent
// callers wins; the rest get ErrLeaseConflict.
func (c *Coordinator) Acquire(ctx context.Context, tenantID, sessionID, agentID, idempotencyKey string) (TurnRecord, Lease, error) {
	token := ids.NewToken()
	rec := TurnRecord{
		TurnID:         ids.New(),
		TenantID:       tenantID,
		SessionID:      sessionID,
		AgentID:        agentID,
		IdempotencyKey: idempotencyKey,
		LeaseToken:     token,
		LeaseExpiresAt: c.nowFunc().UTC().Add(c.leaseDuration),
	}
	acquired, err := c.store.AcquireTurn(ctx, rec)
	if err != nil {
		return TurnRecord{}, Lease{}, err
	}
	c.logger.Printf("turn acquired turn_id=%s session_id=%s agent_id=%s attempt=%d",
		acquired.TurnID, sessionID, agentID, acquired.AttemptCount)
	return acquired, Lease{TurnID: acquired.TurnID, Token: token, ExpiresAt: acquired.LeaseExpiresAt}, nil
}

// Heartbeat extends the lease. ErrStaleLease means the sweep reclaimed the
// turn; the caller must abandon its work.
func (c *Coordinator) Heartbeat(ctx context.Context, lease Lease) (Lease, error) {
	expiresAt := c.nowFunc().UTC().Add(c.leaseDuration)
	if _, err := c.store.HeartbeatTurn(ctx, lease.Token, expiresAt); err != nil {
		return Lease{}, err
	}
	lease.ExpiresAt = expiresAt
	return lease, nil
}

// Release closes a running turn as completed, or parks it as suspended for
// human takeover.
func (c *Coordinator) Release(ctx context.Context, lease Lease, state State) (TurnRecord, error) {
	rec, err := c.store.ReleaseTurn(ctx, lease.Token, state)
	if err != nil {
		return TurnRecord{}, err
	}
	c.logger.Printf("turn released turn_id=%s state=%s", rec.TurnID, rec.State)
	return rec, nil
}

// Fail closes a running turn as failed. The second return value reports
// whether the caller may immediately acquire a fresh turn for the same
// delivery: the kind must be retryable and the attempt count below the
// ceiling.
func (c *Coordinator) Fail(ctx context.Context, lease Lease, kind FailKind, message string) (TurnRecord, bool, error) {
	rec, err := c.store.FailTurn(ctx, lease.Token, kind, message)
	if err != nil {
		return TurnRecord{}, false, err
	}
	retryable := kind.Retryable() && rec.AttemptCount < c.retryCeiling
	c.logger.Printf("turn failed turn_id=%s kind=%s attempt=%d retryable=%t err=%s",
		rec.TurnID, kind, rec.AttemptCount, retryable, message)
	return rec, retryable, nil
}

// Resume moves a suspended turn back to running under a fresh lease,
// subject to the same pair exclusivity as Acquire.
func (c *Coordinator) Resume(ctx context.Context, turnID string) (TurnRecord, Lease, error) {
	token := ids.NewToken()
	expiresAt := c.nowFunc().UTC().Add(c.leaseDuration)
	rec, err := c.store.ResumeTurn(ctx, turnID, token, expiresAt)
	if err != nil {
		return TurnRecord{}, Lease{}, err
	}
	c.logger.Printf("turn resumed turn_id=%s", rec.TurnID)
	return rec, Lease{TurnID: rec.TurnID, Token: token, ExpiresAt: expiresAt}, nil
}

// Cancel fails a running turn with kind=cancelled.
func (c *Coordinator) Cancel(ctx context.Context, lease Lease, reason string) (TurnRecord, error) {
	rec, err := c.store.FailTurn(ctx, lease.Token, FailCancelled, reason)
	if err != nil {
		return TurnRecord{}, err
	}
	c.logger.Printf("turn cancelled turn_id=%s reason=%s", rec.TurnID, reason)
	return rec, nil
}

// Sweep reclaims running turns whose heartbeat lapsed, freeing their pairs
// for a new Acquire.
func (c *Coordinator) Sweep(ctx context.Context) ([]TurnRecord, error) {
	reclaimed, err := c.store.SweepExpired(ctx, c.nowFunc().UTC())
	if err != nil {
		return nil, fmt.Errorf("sweep expired turns: %w", err)
	}
	for _, rec := range reclaimed {
		c.logger.Printf("turn reclaimed turn_id=%s session_id=%s agent_id=%s", rec.TurnID, rec.SessionID, rec.AgentID)
	}
	return reclaimed, nil
}
