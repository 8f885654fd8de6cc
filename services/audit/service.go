package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// insertTimeout bounds a single sink write.
const insertTimeout = 5 * time.Second

// AsyncSink decouples decision persistence from the routing hot path.
// Records are buffered on a channel and written by background workers;
// when the buffer is full the record is dropped rather than blocking a
// routing decision.
type AsyncSink struct {
	inner       DecisionSink
	logger      *zap.Logger
	records     chan DecisionRecord
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	mu          sync.Mutex
}

// Config holds configuration for the AsyncSink.
type Config struct {
	BufferSize  int // Size of the record buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 5,
	}
}

// NewAsyncSink creates an AsyncSink writing through to inner.
func NewAsyncSink(inner DecisionSink, logger *zap.Logger, config Config) *AsyncSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncSink{
		inner:       inner,
		logger:      logger,
		records:     make(chan DecisionRecord, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start starts the background workers.
func (s *AsyncSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit sink already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit sink",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop drains pending records and stops the workers. Returns an error
// if the drain does not finish within the timeout.
func (s *AsyncSink) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit sink not started")
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info("stopping audit sink", zap.Int("pending_records", len(s.records)))

	close(s.records)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit sink stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit sink stop timeout after %v", timeout)
	}
}

// RecordDecision enqueues the record without blocking. A full buffer
// drops the record.
func (s *AsyncSink) RecordDecision(_ context.Context, rec DecisionRecord) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit sink not started")
	}
	s.mu.Unlock()

	select {
	case s.records <- rec:
		return nil
	default:
		s.logger.Warn("audit buffer full, dropping decision",
			zap.String("request_id", rec.RequestID),
			zap.String("model", rec.Model))
		return fmt.Errorf("audit buffer full")
	}
}

// worker writes records from the channel until it is closed.
func (s *AsyncSink) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for rec := range s.records {
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		err := s.inner.RecordDecision(ctx, rec)
		cancel()
		if err != nil {
			s.logger.Error("failed to persist routing decision",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("request_id", rec.RequestID))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// Stats represents sink statistics.
type Stats struct {
	BufferSize     int
	PendingRecords int
	WorkerCount    int
	Started        bool
}

// GetStats returns statistics about the sink.
func (s *AsyncSink) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:     s.bufferSize,
		PendingRecords: len(s.records),
		WorkerCount:    s.workerCount,
		Started:        s.started,
	}
}
