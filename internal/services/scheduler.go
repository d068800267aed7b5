package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/velopay/backend/internal/domain"
	"github.com/velopay/backend/internal/messaging"
)

// Scheduler owns the background loops: outbox dispatch, inbox consumption,
// rate-lock expiry sweeps and retention cleanup. Start launches each loop in
// its own goroutine; Stop cancels them and waits for a clean exit.
type Scheduler struct {
	dispatcher *messaging.OutboxDispatcher
	consumer   *messaging.InboxConsumer
	fxRates    *FXRateService

	locks       domain.RateLockRepository
	outbox      domain.OutboxRepository
	inbox       domain.InboxRepository
	idempotency domain.IdempotencyRepository

	dispatchInterval  time.Duration
	sweepInterval     time.Duration
	retentionInterval time.Duration
	retentionWindow   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type SchedulerConfig struct {
	DispatchInterval  time.Duration
	SweepInterval     time.Duration
	RetentionInterval time.Duration
	RetentionWindow   time.Duration
}

func NewScheduler(
	dispatcher *messaging.OutboxDispatcher,
	consumer *messaging.InboxConsumer,
	fxRates *FXRateService,
	locks domain.RateLockRepository,
	outbox domain.OutboxRepository,
	inbox domain.InboxRepository,
	idempotency domain.IdempotencyRepository,
	cfg SchedulerConfig,
) *Scheduler {
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.RetentionInterval <= 0 {
		cfg.RetentionInterval = time.Hour
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = 7 * 24 * time.Hour
	}
	return &Scheduler{
		dispatcher:        dispatcher,
		consumer:          consumer,
		fxRates:           fxRates,
		locks:             locks,
		outbox:            outbox,
		inbox:             inbox,
		idempotency:       idempotency,
		dispatchInterval:  cfg.DispatchInterval,
		sweepInterval:     cfg.SweepInterval,
		retentionInterval: cfg.RetentionInterval,
		retentionWindow:   cfg.RetentionWindow,
	}
}

func (s *Scheduler) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	s.wg.Add(1)
	go s.dispatchLoop(ctx)

	if s.consumer != nil {
		for _, topic := range s.consumer.Topics() {
			s.wg.Add(1)
			go s.consumeLoop(ctx, topic)
		}
	}

	s.wg.Add(1)
	go s.sweepLoop(ctx)

	s.wg.Add(1)
	go s.retentionLoop(ctx)

	log.Printf("[SCHEDULER] Started (dispatch %s, sweep %s, retention every %s keeping %s)",
		s.dispatchInterval, s.sweepInterval, s.retentionInterval, s.retentionWindow)
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	log.Printf("[SCHEDULER] Stopped")
}

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.dispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.dispatcher.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[SCHEDULER] Outbox dispatch: %v", err)
			}
		}
	}
}

func (s *Scheduler) consumeLoop(ctx context.Context, topic string) {
	defer s.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.consumer.Poll(ctx, topic, 2*time.Second); err != nil && ctx.Err() == nil {
			log.Printf("[SCHEDULER] Consume %s: %v", topic, err)
			// Back off so a poisoned message cannot spin the loop.
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.fxRates.SweepExpired(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[SCHEDULER] Rate lock sweep: %v", err)
			}
		}
	}
}

func (s *Scheduler) retentionLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.retentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runRetention(ctx)
		}
	}
}

func (s *Scheduler) runRetention(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.retentionWindow)

	if n, err := s.outbox.DeletePublishedBefore(ctx, cutoff); err != nil {
		log.Printf("[SCHEDULER] Outbox retention: %v", err)
	} else if n > 0 {
		log.Printf("[SCHEDULER] Purged %d published outbox events", n)
	}

	if n, err := s.inbox.DeleteProcessedBefore(ctx, cutoff); err != nil {
		log.Printf("[SCHEDULER] Inbox retention: %v", err)
	} else if n > 0 {
		log.Printf("[SCHEDULER] Purged %d processed inbox events", n)
	}

	if n, err := s.locks.DeleteTerminalBefore(ctx, cutoff); err != nil {
		log.Printf("[SCHEDULER] Rate lock retention: %v", err)
	} else if n > 0 {
		log.Printf("[SCHEDULER] Purged %d finished rate locks", n)
	}

	if n, err := s.idempotency.DeleteExpired(ctx, time.Now().UTC()); err != nil {
		log.Printf("[SCHEDULER] Idempotency retention: %v", err)
	} else if n > 0 {
		log.Printf("[SCHEDULER] Purged %d expired request mappings", n)
	}
}
