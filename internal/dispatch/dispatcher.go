package dispatch

import (
	"context"
	"log"
	"time"

	"relaystack.local/relay-gateway/internal/event"
	"relaystack.local/relay-gateway/internal/subscribers"
)

// Dispatcher fans telemetry envelopes out to subscribers. Delivery is
// asynchronous and best-effort with bounded retries; telemetry must never
// block or fail a turn.
type Dispatcher struct {
	logger       *log.Logger
	subscribers  []subscribers.Subscriber
	retryCount   int
	retryBackoff time.Duration
}

func New(logger *log.Logger, subs []subscribers.Subscriber) *Dispatcher {
	return &Dispatcher{
		logger:       logger,
		subscribers:  subs,
		retryCount:   3,
		retryBackoff: 150 * time.Millisecond,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, env event.Envelope) {
	for _, sub := range d.subscribers {
		s := sub
		go d.dispatchOne(ctx, s, env)
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, sub subscribers.Subscriber, env event.Envelope) {
	for attempt := 1; attempt <= d.retryCount; attempt++ {
		err := sub.Handle(ctx, env)
		if err == nil {
			return
		}

		d.logger.Printf("subscriber=%s event_id=%s attempt=%d err=%v", sub.Name(), env.EventID, attempt, err)
		if attempt == d.retryCount {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.retryBackoff):
		}
	}
}
