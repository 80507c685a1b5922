package logging

import (
	"context"
	"log"

	"relaystack.local/relay-gateway/internal/event"
)

// Subscriber mirrors every telemetry envelope onto the process log.
type Subscriber struct {
	logger *log.Logger
}

func New(logger *log.Logger) *Subscriber {
	return &Subscriber{logger: logger}
}

func (s *Subscriber) Name() string {
	return "logging"
}

func (s *Subscriber) Handle(_ context.Context, env event.Envelope) error {
	s.logger.Printf("telemetry type=%s event_id=%s tenant_id=%s session_id=%s turn_id=%s",
		env.Type, env.EventID, env.TenantID, env.SessionID, env.TurnID)
	return nil
}
