package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"relaystack.local/relay-gateway/internal/config"
	"relaystack.local/relay-gateway/internal/credential"
	"relaystack.local/relay-gateway/internal/db"
	"relaystack.local/relay-gateway/internal/dispatch"
	"relaystack.local/relay-gateway/internal/failover"
	"relaystack.local/relay-gateway/internal/gateway"
	"relaystack.local/relay-gateway/internal/httpapi"
	"relaystack.local/relay-gateway/internal/provider"
	"relaystack.local/relay-gateway/internal/routing"
	"relaystack.local/relay-gateway/internal/session"
	"relaystack.local/relay-gateway/internal/subscribers"
	logging "relaystack.local/relay-gateway/internal/subscribers/logging"
	"relaystack.local/relay-gateway/internal/subscribers/webhook"
	"relaystack.local/relay-gateway/internal/subscribers/wshub"
	"relaystack.local/relay-gateway/internal/turn"
)

func main() {
	logger := log.New(os.Stdout, "relay ", log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC)
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	hub := wshub.New(logger)
	subs := []subscribers.Subscriber{logging.New(logger), hub}
	for idx, webhookURL := range cfg.WebhookURLs {
		subs = append(subs, webhook.New(webhookSubscriberName(idx, webhookURL), webhookURL, logger))
	}
	dispatcher := dispatch.New(logger, subs)

	gormDB, err := db.OpenGorm(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}

	credStore, err := credential.NewGormStoreFromDB(gormDB)
	if err != nil {
		logger.Fatalf("failed to initialize credential store: %v", err)
	}
	sessionStore, err := session.NewGormStoreFromDB(gormDB)
	if err != nil {
		logger.Fatalf("failed to initialize session store: %v", err)
	}
	turnStore, err := turn.NewGormStoreFromDB(gormDB)
	if err != nil {
		logger.Fatalf("failed to initialize turn store: %v", err)
	}
	bindingStore, err := routing.NewGormBindingStoreFromDB(gormDB)
	if err != nil {
		logger.Fatalf("failed to initialize binding store: %v", err)
	}
	recordStore, err := failover.NewGormRecordStoreFromDB(gormDB)
	if err != nil {
		logger.Fatalf("failed to initialize failover record store: %v", err)
	}
	defer func() {
		if err := turnStore.Close(); err != nil {
			logger.Printf("store close error: %v", err)
		}
	}()

	cipher, err := credential.NewCipher(cfg.MasterKey)
	if err != nil {
		logger.Fatalf("failed to initialize secret cipher: %v", err)
	}
	registry := credential.NewRegistry(logger, credStore, cipher, cfg.ProviderAllowlist)
	rotator := credential.NewRotator(logger, credStore, credential.BackoffPolicy{
		Base: cfg.CooldownBase,
		Cap:  cfg.CooldownCap,
	})

	// Real model adapters mount through provider.Registry from the embedding
	// program; the bundled binary ships the canned adapter for every
	// allowlisted provider so dev deployments can dispatch end to end.
	adapters := provider.NewRegistry()
	for _, providerID := range cfg.ProviderAllowlist {
		adapters.Register(providerID, provider.NewStaticAdapter(""))
	}

	orchestrator := failover.NewOrchestrator(logger, registry, rotator, adapters, recordStore, dispatcher)
	coordinator := turn.NewCoordinator(logger, turnStore, cfg.LeaseDuration, cfg.RetryCeiling)
	router := routing.NewRouter(catalogCandidates(cfg.Catalog), cfg.DefaultModel)

	service := gateway.NewService(logger, dispatcher, sessionStore, bindingStore, coordinator, router, orchestrator, recordStore, gateway.Options{
		QueueSize:         cfg.QueueSize,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})

	sweeper := turn.NewSweeper(logger, coordinator, cfg.SweepInterval, service.EmitReclaimed)
	sweeper.Start()
	defer sweeper.Stop()

	srv := httpapi.NewServer(logger, cfg.HTTPAddr, service, registry, turnStore, coordinator, hub)
	go func() {
		logger.Printf("gateway_id=%s listening on %s", cfg.GatewayID, cfg.HTTPAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server crashed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("server shutdown error: %v", err)
	}
}

func catalogCandidates(entries []config.CatalogEntry) []routing.Candidate {
	if len(entries) == 0 {
		return nil
	}
	out := make([]routing.Candidate, 0, len(entries))
	for _, entry := range entries {
		out = append(out, routing.Candidate{
			ProviderID:   entry.Provider,
			ModelID:      entry.Model,
			Capabilities: entry.Capabilities,
			Priority:     entry.Priority,
		})
	}
	return out
}

func webhookSubscriberName(index int, webhookURL string) string {
	parsed, err := url.Parse(webhookURL)
	if err == nil {
		host := strings.TrimSpace(parsed.Host)
		if host != "" {
			return host
		}
	}
	return fmt.Sprintf("webhook-%d", index+1)
}
