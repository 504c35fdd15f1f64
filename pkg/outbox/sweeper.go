package outbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically re-scans the outbox for unsent records and publishes
// them, oldest first. It is the durability backstop: a crash between commit
// and relay self-heals within one sweep interval.
type Sweeper struct {
	store     Store
	publisher Publisher
	lock      Locker
	logger    *zap.Logger

	interval        time.Duration
	readTimeout     time.Duration
	publishTimeout  time.Duration
	markSentTimeout time.Duration
	batchSize       int

	started int32
	closed  int32
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// SweeperOption configures a Sweeper instance.
type SweeperOption func(*Sweeper)

// WithInterval sets the time between sweep cycles. Default is 5 seconds.
func WithInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.interval = interval
	}
}

// WithReadTimeout bounds the unsent-records query. Default is 5 seconds.
func WithReadTimeout(timeout time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.readTimeout = timeout
	}
}

// WithPublishTimeout bounds each publish attempt, so a hung broker
// connection cannot block the next sweep cycle indefinitely.
// Default is 5 seconds.
func WithPublishTimeout(timeout time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.publishTimeout = timeout
	}
}

// WithMarkSentTimeout bounds the sent-flag update after a successful publish.
// Default is 5 seconds.
func WithMarkSentTimeout(timeout time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.markSentTimeout = timeout
	}
}

// WithBatchSize sets the maximum number of records processed per cycle.
// Default is 100.
func WithBatchSize(batchSize int) SweeperOption {
	return func(s *Sweeper) {
		s.batchSize = batchSize
	}
}

// WithLock makes sweep cycles single-owner across service instances. A cycle
// that cannot acquire the lock is skipped; another instance is sweeping.
// Running without a lock is correct under at-least-once delivery, it just
// duplicates work.
func WithLock(lock Locker) SweeperOption {
	return func(s *Sweeper) {
		s.lock = lock
	}
}

// WithSweeperLogger sets the logger for sweep failures.
func WithSweeperLogger(logger *zap.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSweeper creates a Sweeper over the given store and publisher.
func NewSweeper(store Store, publisher Publisher, opts ...SweeperOption) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Sweeper{
		store:     store,
		publisher: publisher,
		logger:    zap.NewNop(),
		ctx:       ctx,
		cancel:    cancel,

		interval:        5 * time.Second,
		readTimeout:     5 * time.Second,
		publishTimeout:  5 * time.Second,
		markSentTimeout: 5 * time.Second,
		batchSize:       100,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins the background sweep loop. If Start is called multiple times,
// only the first call has an effect.
func (s *Sweeper) Start() {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return
	}

	s.wg.Add(1)
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		defer s.wg.Done()

		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// Stop gracefully shuts down the sweep loop. It prevents new cycles from
// starting and waits for an ongoing cycle to complete; the provided context
// bounds that wait. Calling Stop multiple times is safe and only the first
// call has an effect.
func (s *Sweeper) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	s.cancel() // signal stop

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep runs one catch-up cycle: query unsent records oldest first, publish
// each and mark it sent, continuing past individual failures so one bad
// record cannot stall the rest. It is exported so schedulers other than the
// built-in ticker, and tests, can drive cycles directly.
func (s *Sweeper) Sweep() {
	if s.lock != nil {
		acquired, err := s.lock.TryLock(s.ctx)
		if err != nil {
			s.logger.Warn("failed to acquire sweep lock", zap.Error(err))
			return
		}
		if !acquired {
			return // another instance owns this cycle
		}
		defer func() {
			if err := s.lock.Unlock(s.ctx); err != nil {
				s.logger.Warn("failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	records, err := s.readUnsent()
	if err != nil {
		s.logger.Warn("failed to read unsent outbox records", zap.Error(err))
		return
	}

	for _, rec := range records {
		if err := s.publishRecord(rec); err != nil {
			s.logger.Warn("failed to publish unsent outbox record",
				zap.String("record_id", rec.ID.String()),
				zap.String("exchange", rec.Exchange),
				zap.Error(err))
			continue
		}

		if err := s.markSent(rec); err != nil {
			s.logger.Warn("failed to mark outbox record as sent",
				zap.String("record_id", rec.ID.String()),
				zap.Error(err))
		}
	}
}

func (s *Sweeper) readUnsent() ([]Record, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.readTimeout)
	defer cancel()

	return s.store.Unsent(ctx, s.batchSize)
}

func (s *Sweeper) publishRecord(rec Record) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.publishTimeout)
	defer cancel()

	return s.publisher.Publish(ctx, rec.Exchange, rec.RoutingKey, rec.Envelope())
}

func (s *Sweeper) markSent(rec Record) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.markSentTimeout)
	defer cancel()

	return s.store.MarkSent(ctx, rec.ID)
}
