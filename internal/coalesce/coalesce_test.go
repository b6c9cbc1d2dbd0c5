package coalesce

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/opencode-core/internal/wire"
)

func envelope() *wire.Envelope {
	return &wire.Envelope{Type: wire.SessionUpdated, Properties: json.RawMessage(`{}`)}
}

func TestCoalescer_BatchesWithinWindow(t *testing.T) {
	var mu sync.Mutex
	var batches [][]*wire.Envelope

	c := New(Config{BatchWindowMs: 20}, func(batch []*wire.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, batch)
	})

	c.Add(envelope())
	c.Add(envelope())
	c.Add(envelope())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, batches[0], 3)
}

func TestCoalescer_DropsOnQueueFull(t *testing.T) {
	var fullCalls int
	c := New(Config{MaxQueueSize: 2, OnQueueFull: func() { fullCalls++ }}, func([]*wire.Envelope) {})

	c.Add(envelope())
	c.Add(envelope())
	c.Add(envelope())

	assert.Equal(t, 1, fullCalls)
	m := c.GetMetrics()
	assert.Equal(t, 1, m.TotalDropped)
}

func TestCoalescer_DrainFiresImmediately(t *testing.T) {
	var got []*wire.Envelope
	c := New(Config{BatchWindowMs: 10_000}, func(batch []*wire.Envelope) { got = batch })

	c.Add(envelope())
	c.Drain()

	require.Len(t, got, 1)
	assert.Equal(t, 1, c.GetMetrics().TotalBatches)
}

func TestCoalescer_FlushDoesNotInvokeCallback(t *testing.T) {
	called := false
	c := New(Config{BatchWindowMs: 10_000}, func([]*wire.Envelope) { called = true })

	c.Add(envelope())
	out := c.Flush()

	assert.Len(t, out, 1)
	assert.False(t, called)
	assert.Equal(t, 0, c.GetMetrics().CurrentQueueSize)
}
