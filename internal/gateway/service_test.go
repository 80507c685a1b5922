package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"relaystack.local/relay-gateway/internal/credential"
	"relaystack.local/relay-gateway/internal/dispatch"
	"relaystack.local/relay-gateway/internal/event"
	"relaystack.local/relay-gateway/internal/failover"
	"relaystack.local/relay-gateway/internal/provider"
	"relaystack.local/relay-gateway/internal/routing"
	"relaystack.local/relay-gateway/internal/session"
	"relaystack.local/relay-gateway/internal/subscribers"
	"relaystack.local/relay-gateway/internal/turn"
)

type captureSubscriber struct {
	ch chan event.Envelope
}

func (c *captureSubscriber) Name() string { return "capture" }

func (c *captureSubscriber) Handle(_ context.Context, env event.Envelope) error {
	c.ch <- env
	return nil
}

type failingAdapter struct {
	kind provider.ErrorKind
}

func (a *failingAdapter) Send(_ context.Context, _ provider.Credential, modelID string, _ provider.Request) (provider.Response, error) {
	return provider.Response{}, &provider.Error{Kind: a.kind, Model: modelID, Wrapped: errors.New("scripted failure")}
}

type testEnv struct {
	service  *Service
	capture  *captureSubscriber
	turns    *turn.MemoryStore
	sessions *session.MemoryStore
}

func newTestEnv(t *testing.T, adapter provider.Adapter, retryCeiling int) *testEnv {
	t.Helper()
	logger := log.New(os.Stdout, "", 0)
	capture := &captureSubscriber{ch: make(chan event.Envelope, 64)}
	dispatcher := dispatch.New(logger, []subscribers.Subscriber{capture})

	credStore := credential.NewMemoryStore()
	cipher, err := credential.NewCipher(base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	registry := credential.NewRegistry(logger, credStore, cipher, []string{"alpha"})
	if _, err := registry.Connect(context.Background(), "alpha", "", credential.ScopePlatform, "sk-alpha", credential.ProfileMetadata{}); err != nil {
		t.Fatalf("connect profile: %v", err)
	}
	rotator := credential.NewRotator(logger, credStore, credential.DefaultBackoffPolicy())

	adapters := provider.NewRegistry()
	adapters.Register("alpha", adapter)

	records := failover.NewMemoryRecordStore()
	orchestrator := failover.NewOrchestrator(logger, registry, rotator, adapters, records, dispatcher)

	bindings := routing.NewMemoryBindingStore()
	if err := bindings.CreateBinding(context.Background(), routing.BindingRecord{
		BindingID:      "b1",
		TenantID:       "t1",
		Channel:        "chat",
		InstallationID: "i1",
		OwnerScope:     credential.ScopePlatform,
	}); err != nil {
		t.Fatalf("create binding: %v", err)
	}

	sessions := session.NewMemoryStore()
	turns := turn.NewMemoryStore()
	coordinator := turn.NewCoordinator(logger, turns, time.Minute, retryCeiling)
	router := routing.NewRouter([]routing.Candidate{
		{ProviderID: "alpha", ModelID: "alpha-large", Capabilities: []string{routing.CapabilityText}, Priority: 1},
	}, "alpha-large")

	service := NewService(logger, dispatcher, sessions, bindings, coordinator, router, orchestrator, records, Options{
		QueueSize:         16,
		HeartbeatInterval: 50 * time.Millisecond,
	})
	return &testEnv{service: service, capture: capture, turns: turns, sessions: sessions}
}

func makeRequest(idempotencyKey string) event.InboundTurnRequest {
	return event.InboundTurnRequest{
		TenantID:       "t1",
		Channel:        "chat",
		InstallationID: "i1",
		PeerID:         "u1",
		AgentID:        "a1",
		IdempotencyKey: idempotencyKey,
		Text:           "hello there",
	}
}

func waitForEvent(t *testing.T, ch chan event.Envelope, eventType event.Type) event.Envelope {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case env := <-ch:
			if env.Type == eventType {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func TestServiceProcessesTurnEndToEnd(t *testing.T) {
	env := newTestEnv(t, provider.NewStaticAdapter("canned reply"), 3)

	if err := env.service.AcceptRequest(context.Background(), makeRequest("msg-1")); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	completed := waitForEvent(t, env.capture.ch, event.TypeTurnCompleted)
	var payload struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
		Content  string `json:"content"`
	}
	if err := completed.DecodePayload(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Provider != "alpha" || payload.Model != "alpha-large" {
		t.Fatalf("unexpected attribution: %s/%s", payload.Provider, payload.Model)
	}
	if payload.Content != "canned reply" {
		t.Fatalf("unexpected content: %q", payload.Content)
	}

	rec, err := env.turns.GetTurn(context.Background(), completed.TurnID)
	if err != nil {
		t.Fatalf("get turn: %v", err)
	}
	if rec.State != turn.StateCompleted {
		t.Fatalf("expected completed state, got %s", rec.State)
	}
}

func TestServiceReportsDuplicateDelivery(t *testing.T) {
	env := newTestEnv(t, provider.NewStaticAdapter("ok"), 3)
	ctx := context.Background()

	if err := env.service.AcceptRequest(ctx, makeRequest("msg-1")); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	waitForEvent(t, env.capture.ch, event.TypeTurnCompleted)

	if err := env.service.AcceptRequest(ctx, makeRequest("msg-1")); err != nil {
		t.Fatalf("duplicate accept failed: %v", err)
	}
	waitForEvent(t, env.capture.ch, event.TypeTurnDuplicate)
}

func TestServiceRetriesUpToCeiling(t *testing.T) {
	env := newTestEnv(t, &failingAdapter{kind: provider.KindServerError}, 2)

	if err := env.service.AcceptRequest(context.Background(), makeRequest("msg-1")); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	first := waitForEvent(t, env.capture.ch, event.TypeTurnFailed)
	second := waitForEvent(t, env.capture.ch, event.TypeTurnFailed)
	if first.TurnID == second.TurnID {
		t.Fatalf("retry must acquire a fresh turn, got the same id twice")
	}

	var payload struct {
		Attempt int `json:"attempt"`
	}
	if err := second.DecodePayload(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Attempt != 2 {
		t.Fatalf("expected the second failure at attempt 2, got %d", payload.Attempt)
	}

	select {
	case extra := <-env.capture.ch:
		if extra.Type == event.TypeTurnStarted || extra.Type == event.TypeTurnFailed {
			t.Fatalf("dispatch continued past the retry ceiling: %s", extra.Type)
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestServiceRejectsInvalidRequests(t *testing.T) {
	env := newTestEnv(t, provider.NewStaticAdapter("ok"), 3)
	req := makeRequest("msg-1")
	req.TenantID = ""
	if err := env.service.AcceptRequest(context.Background(), req); err == nil {
		t.Fatalf("expected validation error")
	}
}
