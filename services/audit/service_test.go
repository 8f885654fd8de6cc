package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/x402labs/llm-router/models"
)

// capturingSink records every write it receives.
type capturingSink struct {
	mu      sync.Mutex
	records []DecisionRecord
	err     error
}

func (c *capturingSink) RecordDecision(_ context.Context, rec DecisionRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.records = append(c.records, rec)
	return nil
}

func (c *capturingSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func sampleRecord(requestID string) DecisionRecord {
	return NewRecord(requestID, models.RoutingDecision{
		Tier:       models.TierSimple,
		Model:      "gemini-2.5-flash",
		Confidence: 0.9,
		Method:     "rules",
		Meta:       models.DecisionMeta{Fingerprint: "abc"},
	})
}

func TestAsyncSinkWritesThrough(t *testing.T) {
	defer goleak.VerifyNone(t)

	inner := &capturingSink{}
	sink := NewAsyncSink(inner, zap.NewNop(), Config{BufferSize: 16, WorkerCount: 2})
	require.NoError(t, sink.Start())

	for i := 0; i < 5; i++ {
		require.NoError(t, sink.RecordDecision(context.Background(), sampleRecord("req")))
	}

	require.NoError(t, sink.Stop(time.Second))
	assert.Equal(t, 5, inner.count())
}

func TestAsyncSinkRejectsBeforeStart(t *testing.T) {
	sink := NewAsyncSink(&capturingSink{}, zap.NewNop(), DefaultConfig())

	err := sink.RecordDecision(context.Background(), sampleRecord("req"))
	assert.Error(t, err)
}

func TestAsyncSinkDropsWhenBufferFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	// Zero workers: nothing drains the channel.
	inner := &capturingSink{}
	sink := NewAsyncSink(inner, zap.NewNop(), Config{BufferSize: 2, WorkerCount: 0})
	require.NoError(t, sink.Start())

	require.NoError(t, sink.RecordDecision(context.Background(), sampleRecord("a")))
	require.NoError(t, sink.RecordDecision(context.Background(), sampleRecord("b")))

	err := sink.RecordDecision(context.Background(), sampleRecord("c"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit buffer full")

	require.NoError(t, sink.Stop(time.Second))
}

func TestAsyncSinkDoubleStart(t *testing.T) {
	sink := NewAsyncSink(&capturingSink{}, zap.NewNop(), Config{BufferSize: 1, WorkerCount: 1})
	require.NoError(t, sink.Start())
	assert.Error(t, sink.Start())
	require.NoError(t, sink.Stop(time.Second))
}

func TestAsyncSinkStopNotStarted(t *testing.T) {
	sink := NewAsyncSink(&capturingSink{}, zap.NewNop(), DefaultConfig())
	assert.Error(t, sink.Stop(time.Second))
}

func TestAsyncSinkKeepsGoingOnWriteError(t *testing.T) {
	defer goleak.VerifyNone(t)

	inner := &capturingSink{err: assert.AnError}
	sink := NewAsyncSink(inner, zap.NewNop(), Config{BufferSize: 4, WorkerCount: 1})
	require.NoError(t, sink.Start())

	require.NoError(t, sink.RecordDecision(context.Background(), sampleRecord("a")))
	require.NoError(t, sink.RecordDecision(context.Background(), sampleRecord("b")))

	require.NoError(t, sink.Stop(time.Second))
	assert.Equal(t, 0, inner.count())
}

func TestAsyncSinkStats(t *testing.T) {
	sink := NewAsyncSink(&capturingSink{}, zap.NewNop(), Config{BufferSize: 8, WorkerCount: 3})

	stats := sink.GetStats()
	assert.Equal(t, 8, stats.BufferSize)
	assert.Equal(t, 3, stats.WorkerCount)
	assert.False(t, stats.Started)

	require.NoError(t, sink.Start())
	assert.True(t, sink.GetStats().Started)
	require.NoError(t, sink.Stop(time.Second))
}

func TestNopSink(t *testing.T) {
	assert.NoError(t, NopSink{}.RecordDecision(context.Background(), sampleRecord("req")))
}
