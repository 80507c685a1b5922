package turn

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrLeaseConflict: another turn holds a live lease for the pair.
	// Callers treat this as a duplicate-delivery signal.
	ErrLeaseConflict = errors.New("lease conflict")

	// ErrDuplicateDelivery: a terminal turn already exists for this
	// idempotency key; the inbound event was already processed.
	ErrDuplicateDelivery = errors.New("duplicate delivery")

	// ErrStaleLease: the lease token no longer names a running turn. The
	// reconciliation sweep reclaimed it, or the turn was already closed.
	ErrStaleLease = errors.New("stale lease")
)

// Store persists turns. AcquireTurn is the exclusivity point: the insert
// succeeds only when no non-expired running turn exists for the
// (session, agent) pair, evaluated atomically so concurrent callers race
// and exactly one wins.
type Store interface {
	AcquireTurn(ctx context.Context, rec TurnRecord) (TurnRecord, error)
	HeartbeatTurn(ctx context.Context, leaseToken string, expiresAt time.Time) (TurnRecord, error)
	ReleaseTurn(ctx context.Context, leaseToken string, state State) (TurnRecord, error)
	FailTurn(ctx context.Context, leaseToken string, kind FailKind, message string) (TurnRecord, error)
	ResumeTurn(ctx context.Context, turnID, leaseToken string, expiresAt time.Time) (TurnRecord, error)
	SweepExpired(ctx context.Context, now time.Time) ([]TurnRecord, error)
	GetTurn(ctx context.Context, turnID string) (TurnRecord, error)
	ListTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	Close() error
}
