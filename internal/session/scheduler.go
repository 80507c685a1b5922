package session

import (
	"context"
	"errors"
	"log"
	"sync"

	"relaystack.local/relay-gateway/internal/event"
)

var ErrQueueFull = errors.New("session queue full")

type RequestHandler func(context.Context, event.InboundTurnRequest)

// Scheduler serializes inbound requests per routing key. One goroutine per
// key drains its queue in arrival order, so a session's requests reach the
// turn coordinator one at a time even before the durable lease is taken.
type Scheduler struct {
	logger    *log.Logger
	handler   RequestHandler
	queueSize int

	mu      sync.Mutex
	workers map[string]*worker
}

type worker struct {
	ch chan event.InboundTurnRequest
}

func NewScheduler(logger *log.Logger, queueSize int, handler RequestHandler) *Scheduler {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Scheduler{
		logger:    logger,
		handler:   handler,
		queueSize: queueSize,
		workers:   make(map[string]*worker),
	}
}

func (s *Scheduler) Enqueue(ctx context.Context, routingKey string, req event.InboundTurnRequest) error {
	w := s.workerFor(routingKey)

	select {
	case w.ch <- req:
		return nil
	default:
		s.logger.Printf("session queue full routing_key=%s idempotency_key=%s", routingKey, req.IdempotencyKey)
		return ErrQueueFull
	}
}

func (s *Scheduler) workerFor(key string) *worker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.workers[key]; ok {
		return w
	}

	w := &worker{ch: make(chan event.InboundTurnRequest, s.queueSize)}
	s.workers[key] = w

	go func() {
		for req := range w.ch {
			s.handler(context.Background(), req)
		}
	}()

	return w
}
