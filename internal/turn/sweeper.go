package turn

import (
	"context"
	"log"
	"time"
)

// Sweeper runs the reconciliation sweep on a fixed interval. OnReclaim is
// invoked for every reclaimed turn so telemetry can observe the transition.
type Sweeper struct {
	logger      *log.Logger
	coordinator *Coordinator
	interval    time.Duration
	onReclaim   func(TurnRecord)
	stop        chan struct{}
	done        chan struct{}
}

func NewSweeper(logger *log.Logger, coordinator *Coordinator, interval time.Duration, onReclaim func(TurnRecord)) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		logger:      logger,
		coordinator: coordinator,
		interval:    interval,
		onReclaim:   onReclaim,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.run()
}

func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	reclaimed, err := s.coordinator.Sweep(ctx)
	if err != nil {
		s.logger.Printf("sweep error: %v", err)
		return
	}
	if s.onReclaim == nil {
		return
	}
	for _, rec := range reclaimed {
		s.onReclaim(rec)
	}
}
