package failover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"relaystack.local/relay-gateway/internal/credential"
	"relaystack.local/relay-gateway/internal/dispatch"
	"relaystack.local/relay-gateway/internal/event"
	"relaystack.local/relay-gateway/internal/ids"
	"relaystack.local/relay-gateway/internal/provider"
	"relaystack.local/relay-gateway/internal/routing"
)

// ErrAllProvidersExhausted: the fallback chain ran out with no success.
// Terminal for this dispatch attempt; the caller may retry after backoff.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// Result is a successful dispatch with its attribution.
type Result struct {
	Response        provider.Response
	ProviderID      string
	ModelID         string
	ProfileID       string
	Stage1Rotations int
	Stage2Advances  int
}

// Orchestrator drives the two-stage failover protocol: exhaust credential
// rotation within a provider (the cheap remedy, same model quality and
// cost) before advancing to a different candidate.
type Orchestrator struct {
	logger     *log.Logger
	registry   *credential.Registry
	rotator    *credential.Rotator
	adapters   *provider.Registry
	records    RecordStore
	dispatcher *dispatch.Dispatcher
	nowFunc    func() time.Time
}

func NewOrchestrator(logger *log.Logger, registry *credential.Registry, rotator *credential.Rotator, adapters *provider.Registry, records RecordStore, dispatcher *dispatch.Dispatcher) *Orchestrator {
	return &Orchestrator{
		logger:     logger,
		registry:   registry,
		rotator:    rotator,
		adapters:   adapters,
		records:    records,
		dispatcher: dispatcher,
		nowFunc:    time.Now,
	}
}

// Execute dispatches the request through the fallback chain. Every
// transition is recorded as an AttemptRecord and mirrored to telemetry.
// A cross-boundary authorization failure aborts the whole dispatch: it is
// a security violation, not a provider fault.
func (o *Orchestrator) Execute(ctx context.Context, turnID string, binding routing.BindingRecord, chain []routing.Candidate, req provider.Request) (Result, error) {
	if len(chain) == 0 {
		return Result{}, fmt.Errorf("empty fallback chain: %w", ErrAllProvidersExhausted)
	}

	var failures []string
	stage1 := 0
	stage2 := 0

	for ci, cand := range chain {
		result, candErr := o.tryCandidate(ctx, turnID, binding, cand, req, &stage1)
		if candErr == nil {
			result.Stage1Rotations = stage1
			result.Stage2Advances = stage2
			return result, nil
		}
		if errors.Is(candErr, routing.ErrCrossBoundaryCredential) || ctx.Err() != nil {
			return Result{}, candErr
		}
		failures = append(failures, fmt.Sprintf("%s/%s: %v", cand.ProviderID, cand.ModelID, candErr))

		nextModel := ""
		if ci+1 < len(chain) {
			nextModel = chain[ci+1].ProviderID + "/" + chain[ci+1].ModelID
		}
		stage2++
		o.record(ctx, AttemptRecord{
			TurnID:      turnID,
			Stage:       StageModelFallback,
			ProviderID:  cand.ProviderID,
			ModelID:     cand.ModelID,
			FromModelID: cand.ProviderID + "/" + cand.ModelID,
			ToModelID:   nextModel,
			Reason:      candErr.Error(),
		}, binding.TenantID)
	}

	return Result{}, fmt.Errorf("%w: %s", ErrAllProvidersExhausted, strings.Join(failures, "; "))
}

// tryCandidate runs stage 1 for one (provider, model) candidate: rotate
// through the eligible credential pool until success, a non-retryable
// fault, or pool exhaustion.
func (o *Orchestrator) tryCandidate(ctx context.Context, turnID string, binding routing.BindingRecord, cand routing.Candidate, req provider.Request, stage1 *int) (Result, error) {
	adapter, ok := o.adapters.Get(cand.ProviderID)
	if !ok {
		return Result{}, fmt.Errorf("no adapter registered for provider %q", cand.ProviderID)
	}

	exclude := make(map[string]bool)
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		prof, err := o.selectFromPools(ctx, binding, cand.ProviderID, exclude)
		if err != nil {
			return Result{}, err
		}

		if err := routing.Authorize(binding, prof); err != nil {
			return Result{}, err
		}

		secret, err := o.registry.Resolve(ctx, prof.ProfileID)
		if err != nil {
			// Revoked or unreadable between select and resolve. Treat as
			// a rotation: penalize and move on within the pool.
			_ = o.rotator.RecordFailure(ctx, prof.ProfileID, credential.FailureRevoked)
			exclude[prof.ProfileID] = true
			*stage1++
			o.record(ctx, AttemptRecord{
				TurnID:        turnID,
				Stage:         StageAuthRotation,
				ProviderID:    cand.ProviderID,
				ModelID:       cand.ModelID,
				FromProfileID: prof.ProfileID,
				Reason:        fmt.Sprintf("resolve secret: %v", err),
			}, binding.TenantID)
			continue
		}

		resp, sendErr := adapter.Send(ctx, provider.Credential{
			ProfileID: secret.ProfileID,
			Secret:    secret.Secret,
			Endpoint:  secret.Endpoint,
		}, cand.ModelID, req)
		if sendErr == nil {
			if err := o.rotator.RecordSuccess(ctx, prof.ProfileID); err != nil {
				o.logger.Printf("record success failed profile_id=%s err=%v", prof.ProfileID, err)
			}
			return Result{
				Response:   resp,
				ProviderID: cand.ProviderID,
				ModelID:    cand.ModelID,
				ProfileID:  prof.ProfileID,
			}, nil
		}

		classified := provider.Classify(sendErr, cand.ProviderID, cand.ModelID)
		if !classified.Kind.Retryable() {
			// The request itself was rejected; no credential will fix it.
			// Abort this candidate without penalizing the profile.
			return Result{}, classified
		}

		if err := o.rotator.RecordFailure(ctx, prof.ProfileID, failureKind(classified.Kind)); err != nil {
			o.logger.Printf("record failure failed profile_id=%s err=%v", prof.ProfileID, err)
		}
		exclude[prof.ProfileID] = true
		*stage1++
		o.record(ctx, AttemptRecord{
			TurnID:        turnID,
			Stage:         StageAuthRotation,
			ProviderID:    cand.ProviderID,
			ModelID:       cand.ModelID,
			FromProfileID: prof.ProfileID,
			Reason:        classified.Error(),
		}, binding.TenantID)
	}
}

// selectFromPools tries the binding's own scope first; an organization
// binding with platform fallback enabled may continue into the platform
// pool once its own pool is exhausted.
func (o *Orchestrator) selectFromPools(ctx context.Context, binding routing.BindingRecord, providerID string, exclude map[string]bool) (credential.ProfileRecord, error) {
	prof, err := o.rotator.SelectProfile(ctx, providerID, binding.OwnerScope, binding.TenantID, exclude)
	if err == nil {
		return prof, nil
	}
	if !errors.Is(err, credential.ErrNoEligibleProfile) {
		return credential.ProfileRecord{}, err
	}
	if binding.OwnerScope == credential.ScopeOrganization && binding.AllowPlatformFallback {
		return o.rotator.SelectProfile(ctx, providerID, credential.ScopePlatform, "", exclude)
	}
	return credential.ProfileRecord{}, err
}

func (o *Orchestrator) record(ctx context.Context, rec AttemptRecord, tenantID string) {
	rec.RecordID = ids.New()
	rec.OccurredAt = o.nowFunc().UTC()
	if err := o.records.AppendRecord(ctx, rec); err != nil {
		o.logger.Printf("append failover record failed turn_id=%s err=%v", rec.TurnID, err)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	o.dispatcher.Dispatch(ctx, event.Envelope{
		EventID:    ids.New(),
		Type:       event.TypeFailoverAttempt,
		OccurredAt: rec.OccurredAt,
		TenantID:   tenantID,
		TurnID:     rec.TurnID,
		Payload:    payload,
	})
}

func failureKind(kind provider.ErrorKind) credential.FailureKind {
	switch kind {
	case provider.KindTimeout:
		return credential.FailureTimeout
	case provider.KindRateLimited:
		return credential.FailureRateLimited
	case provider.KindServerError:
		return credential.FailureServerError
	case provider.KindAuth:
		return credential.FailureAuth
	case provider.KindBillingDisabled:
		return credential.FailureBillingDisabled
	case provider.KindRevoked:
		return credential.FailureRevoked
	default:
		return credential.FailureUnknown
	}
}
