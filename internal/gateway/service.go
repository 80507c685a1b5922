package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"relaystack.local/relay-gateway/internal/dispatch"
	"relaystack.local/relay-gateway/internal/event"
	"relaystack.local/relay-gateway/internal/failover"
	"relaystack.local/relay-gateway/internal/ids"
	"relaystack.local/relay-gateway/internal/provider"
	"relaystack.local/relay-gateway/internal/routing"
	"relaystack.local/relay-gateway/internal/session"
	"relaystack.local/relay-gateway/internal/turn"
)

const defaultMaxTokens = 4096

// PolicyResolver supplies tenant routing policy from an external settings
// collaborator.
type PolicyResolver interface {
	PolicyFor(ctx context.Context, tenantID string) (routing.TenantRoutingPolicy, error)
}

// StaticPolicyResolver returns the same policy for every tenant. Used when
// no settings collaborator is wired.
type StaticPolicyResolver struct {
	Policy routing.TenantRoutingPolicy
}

func (r StaticPolicyResolver) PolicyFor(_ context.Context, _ string) (routing.TenantRoutingPolicy, error) {
	return r.Policy, nil
}

// Service accepts inbound turn requests, serializes them per session, and
// drives each through the lease, router, and failover orchestrator.
type Service struct {
	logger            *log.Logger
	dispatcher        *dispatch.Dispatcher
	scheduler         *session.Scheduler
	sessions          session.Store
	bindings          routing.BindingStore
	coordinator       *turn.Coordinator
	router            *routing.Router
	orchestrator      *failover.Orchestrator
	records           failover.RecordStore
	policies          PolicyResolver
	heartbeatInterval time.Duration
}

type Options struct {
	QueueSize         int
	HeartbeatInterval time.Duration
	Policies          PolicyResolver
}

func NewService(logger *log.Logger, dispatcher *dispatch.Dispatcher, sessions session.Store, bindings routing.BindingStore, coordinator *turn.Coordinator, router *routing.Router, orchestrator *failover.Orchestrator, records failover.RecordStore, opts Options) *Service {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 20 * time.Second
	}
	if opts.Policies == nil {
		opts.Policies = StaticPolicyResolver{}
	}
	svc := &Service{
		logger:            logger,
		dispatcher:        dispatcher,
		sessions:          sessions,
		bindings:          bindings,
		coordinator:       coordinator,
		router:            router,
		orchestrator:      orchestrator,
		records:           records,
		policies:          opts.Policies,
		heartbeatInterval: opts.HeartbeatInterval,
	}
	svc.scheduler = session.NewScheduler(logger, opts.QueueSize, svc.processRequest)
	return svc
}

// AcceptRequest validates and enqueues an inbound turn request on its
// session's serial queue.
func (s *Service) AcceptRequest(ctx context.Context, req event.InboundTurnRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	key := session.ComputeRoutingKey(session.Identity{
		TenantID:       req.TenantID,
		Channel:        req.Channel,
		InstallationID: req.InstallationID,
		PeerID:         req.PeerID,
		AgentID:        req.AgentID,
	})
	return s.scheduler.Enqueue(ctx, key, req)
}

func (s *Service) processRequest(ctx context.Context, req event.InboundTurnRequest) {
	rec, err := s.sessions.ResolveSession(ctx, session.Identity{
		TenantID:       req.TenantID,
		Channel:        req.Channel,
		InstallationID: req.InstallationID,
		PeerID:         req.PeerID,
		AgentID:        req.AgentID,
	})
	if err != nil {
		s.logger.Printf("session resolve failed idempotency_key=%s err=%v", req.IdempotencyKey, err)
		return
	}

	binding, err := routing.ResolveBinding(ctx, s.bindings, routing.RouteSelector{
		TenantID:       req.TenantID,
		Channel:        req.Channel,
		InstallationID: req.InstallationID,
		AccountID:      req.AccountID,
		TeamID:         req.TeamID,
		PeerID:         req.PeerID,
		ChannelTopicID: req.ChannelTopicID,
	})
	if err != nil {
		s.logger.Printf("binding resolve failed session_id=%s err=%v", rec.SessionID, err)
		return
	}

	for {
		retry, err := s.runAttempt(ctx, req, rec, binding)
		if err != nil || !retry {
			return
		}
	}
}

// runAttempt acquires one turn, dispatches it, and closes it out. The
// returned bool asks the caller for an immediate fresh acquire after a
// retryable failure below the ceiling.
func (s *Service) runAttempt(ctx context.Context, req event.InboundTurnRequest, rec session.SessionRecord, binding routing.BindingRecord) (bool, error) {
	turnRec, lease, err := s.coordinator.Acquire(ctx, req.TenantID, rec.SessionID, req.AgentID, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, turn.ErrLeaseConflict) || errors.Is(err, turn.ErrDuplicateDelivery) {
			s.logger.Printf("duplicate delivery session_id=%s agent_id=%s idempotency_key=%s err=%v",
				rec.SessionID, req.AgentID, req.IdempotencyKey, err)
			s.emit(ctx, event.TypeTurnDuplicate, req.TenantID, rec.SessionID, req.AgentID, "", map[string]any{
				"idempotency_key": req.IdempotencyKey,
			})
			return false, nil
		}
		s.logger.Printf("turn acquire failed session_id=%s err=%v", rec.SessionID, err)
		return false, err
	}

	if err := s.sessions.TouchActivity(ctx, rec.SessionID, turnRec.TurnID); err != nil {
		s.logger.Printf("session touch failed session_id=%s err=%v", rec.SessionID, err)
	}
	s.emit(ctx, event.TypeTurnStarted, req.TenantID, rec.SessionID, req.AgentID, turnRec.TurnID, map[string]any{
		"idempotency_key": req.IdempotencyKey,
		"attempt":         turnRec.AttemptCount,
	})

	dispatchCtx, cancel := context.WithCancel(ctx)
	stopHeartbeat := s.startHeartbeat(dispatchCtx, lease, cancel)

	result, dispatchErr := s.dispatchTurn(dispatchCtx, req, turnRec, binding)
	stopHeartbeat()
	cancel()

	if dispatchErr == nil {
		if _, err := s.coordinator.Release(ctx, lease, turn.StateCompleted); err != nil {
			s.logger.Printf("turn release failed turn_id=%s err=%v", turnRec.TurnID, err)
			return false, err
		}
		if err := s.sessions.TouchActivity(ctx, rec.SessionID, ""); err != nil {
			s.logger.Printf("session touch failed session_id=%s err=%v", rec.SessionID, err)
		}
		s.emit(ctx, event.TypeTurnCompleted, req.TenantID, rec.SessionID, req.AgentID, turnRec.TurnID, map[string]any{
			"provider":         result.ProviderID,
			"model":            result.ModelID,
			"profile_id":       result.ProfileID,
			"stage1_rotations": result.Stage1Rotations,
			"stage2_advances":  result.Stage2Advances,
			"content":          result.Response.Content,
			"input_tokens":     result.Response.InputTokens,
			"output_tokens":    result.Response.OutputTokens,
		})
		return false, nil
	}

	kind := turn.FailProviderError
	if errors.Is(dispatchErr, routing.ErrCrossBoundaryCredential) {
		kind = turn.FailFatal
	}
	failed, retryable, err := s.coordinator.Fail(ctx, lease, kind, dispatchErr.Error())
	if err != nil {
		if errors.Is(err, turn.ErrStaleLease) {
			// The sweep already reclaimed this turn.
			s.logger.Printf("turn already reclaimed turn_id=%s", turnRec.TurnID)
			return false, nil
		}
		return false, err
	}
	s.emitFailure(ctx, req, rec, failed, dispatchErr)
	return retryable, nil
}

func (s *Service) dispatchTurn(ctx context.Context, req event.InboundTurnRequest, turnRec turn.TurnRecord, binding routing.BindingRecord) (failover.Result, error) {
	policy, err := s.policies.PolicyFor(ctx, req.TenantID)
	if err != nil {
		return failover.Result{}, fmt.Errorf("resolve tenant policy: %w", err)
	}

	chain, err := s.router.ResolveFallbackChain([]string{routing.CapabilityText}, policy)
	if err != nil {
		return failover.Result{}, fmt.Errorf("resolve fallback chain: %w", err)
	}

	return s.orchestrator.Execute(ctx, turnRec.TurnID, binding, chain, provider.Request{
		TurnID:    turnRec.TurnID,
		TenantID:  req.TenantID,
		Messages:  []provider.Message{{Role: provider.RoleUser, Content: req.Text}},
		MaxTokens: defaultMaxTokens,
	})
}

// startHeartbeat extends the lease on a fixed interval until stopped. A
// stale lease means the sweep reclaimed the turn; the dispatch context is
// cancelled so in-flight work stops producing side effects.
func (s *Service) startHeartbeat(ctx context.Context, lease turn.Lease, cancel context.CancelFunc) func() {
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.heartbeatInterval)
		defer ticker.Stop()
		current := lease
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				extended, err := s.coordinator.Heartbeat(ctx, current)
				if err != nil {
					if errors.Is(err, turn.ErrStaleLease) {
						s.logger.Printf("lease reclaimed mid-turn turn_id=%s", lease.TurnID)
						cancel()
						return
					}
					s.logger.Printf("heartbeat failed turn_id=%s err=%v", lease.TurnID, err)
					continue
				}
				current = extended
			}
		}
	}()

	return func() {
		close(stop)
		<-done
	}
}

// ResumeTurn moves a suspended turn back to running on behalf of an
// operator, returning the fresh lease for explicit release.
func (s *Service) ResumeTurn(ctx context.Context, turnID string) (turn.TurnRecord, turn.Lease, error) {
	return s.coordinator.Resume(ctx, turnID)
}

// ListTurnRecords returns the failover history for a turn.
func (s *Service) ListTurnRecords(ctx context.Context, turnID string) ([]failover.AttemptRecord, error) {
	return s.records.ListRecords(ctx, turnID)
}

func (s *Service) emitFailure(ctx context.Context, req event.InboundTurnRequest, rec session.SessionRecord, failed turn.TurnRecord, dispatchErr error) {
	history, err := s.records.ListRecords(ctx, failed.TurnID)
	if err != nil {
		s.logger.Printf("list failover records failed turn_id=%s err=%v", failed.TurnID, err)
	}
	s.emit(ctx, event.TypeTurnFailed, req.TenantID, rec.SessionID, req.AgentID, failed.TurnID, map[string]any{
		"error":            dispatchErr.Error(),
		"failure_kind":     failed.FailureKind,
		"attempt":          failed.AttemptCount,
		"failover_history": history,
	})
}

func (s *Service) emit(ctx context.Context, eventType event.Type, tenantID, sessionID, agentID, turnID string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Printf("marshal telemetry payload failed type=%s err=%v", eventType, err)
		return
	}
	s.dispatcher.Dispatch(ctx, event.Envelope{
		EventID:    ids.New(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		TenantID:   tenantID,
		SessionID:  sessionID,
		AgentID:    agentID,
		TurnID:     turnID,
		Payload:    data,
	})
}

// EmitReclaimed publishes telemetry for a turn the sweeper reclaimed.
func (s *Service) EmitReclaimed(rec turn.TurnRecord) {
	s.emit(context.Background(), event.TypeTurnReclaimed, rec.TenantID, rec.SessionID, rec.AgentID, rec.TurnID, map[string]any{
		"failure_kind": rec.FailureKind,
	})
}
