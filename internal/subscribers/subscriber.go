package subscribers

import (
	"context"

	"relaystack.local/relay-gateway/internal/event"
)

// Subscriber receives every telemetry envelope the gateway emits.
type Subscriber interface {
	Name() string
	Handle(context.Context, event.Envelope) error
}
