// Package coalesce implements the Event Coalescer (component D of
// spec.md §2, detailed in §4.4): time-windowed batching of admitted
// events for reactive downstream consumption.
package coalesce

import (
	"sync"
	"time"

	"github.com/opencode-ai/opencode-core/internal/wire"
)

// DefaultBatchWindow and DefaultMaxQueueSize are the §4.4 defaults.
const (
	DefaultBatchWindow  = 20 * time.Millisecond
	DefaultMaxQueueSize = 1000
)

// BatchFunc receives one coalesced batch, in admission order.
type BatchFunc func(batch []*wire.Envelope)

// Config tunes the coalescing window and queue bound.
type Config struct {
	BatchWindowMs int
	MaxQueueSize  int
	OnQueueFull   func()
}

func (c Config) window() time.Duration {
	if c.BatchWindowMs <= 0 {
		return DefaultBatchWindow
	}
	return time.Duration(c.BatchWindowMs) * time.Millisecond
}

func (c Config) maxQueueSize() int {
	if c.MaxQueueSize <= 0 {
		return DefaultMaxQueueSize
	}
	return c.MaxQueueSize
}

// Metrics mirrors the getMetrics() operation of §4.4.
type Metrics struct {
	TotalEventsProcessed int `json:"totalEventsProcessed"`
	TotalBatches         int `json:"totalBatches"`
	TotalDropped         int `json:"totalDropped"`
	CurrentQueueSize     int `json:"currentQueueSize"`
}

// Coalescer batches admitted events into micro-batches fired on a timer.
type Coalescer struct {
	cfg     Config
	onBatch BatchFunc

	mu      sync.Mutex
	queue   []*wire.Envelope
	timer   *time.Timer
	metrics Metrics
}

// New creates a Coalescer. onBatch is invoked with each fired batch.
func New(cfg Config, onBatch BatchFunc) *Coalescer {
	if onBatch == nil {
		onBatch = func([]*wire.Envelope) {}
	}
	return &Coalescer{cfg: cfg, onBatch: onBatch}
}

// Add enqueues an event. The first event in an otherwise-empty window
// starts the batch timer; once the window elapses, Drain fires
// automatically. If the queue is at capacity, the newest event is
// dropped and OnQueueFull (if set) is invoked.
func (c *Coalescer) Add(e *wire.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) >= c.cfg.maxQueueSize() {
		c.metrics.TotalDropped++
		if c.cfg.OnQueueFull != nil {
			c.cfg.OnQueueFull()
		}
		return
	}

	c.queue = append(c.queue, e)
	c.metrics.TotalEventsProcessed++
	c.metrics.CurrentQueueSize = len(c.queue)

	if c.timer == nil {
		c.timer = time.AfterFunc(c.cfg.window(), c.fireDrain)
	}
}

func (c *Coalescer) fireDrain() {
	c.mu.Lock()
	batch := c.queue
	c.queue = nil
	c.timer = nil
	if len(batch) > 0 {
		c.metrics.TotalBatches++
	}
	c.metrics.CurrentQueueSize = 0
	c.mu.Unlock()

	if len(batch) > 0 {
		c.onBatch(batch)
	}
}

// Drain fires the batched callback immediately with the queued events
// and clears the timer/queue.
func (c *Coalescer) Drain() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	batch := c.queue
	c.queue = nil
	if len(batch) > 0 {
		c.metrics.TotalBatches++
	}
	c.metrics.CurrentQueueSize = 0
	c.mu.Unlock()

	if len(batch) > 0 {
		c.onBatch(batch)
	}
}

// Flush returns and clears the queued events without invoking the
// callback — used by shutdown (§4.4, §5).
func (c *Coalescer) Flush() []*wire.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	batch := c.queue
	c.queue = nil
	c.metrics.CurrentQueueSize = 0
	return batch
}

// GetMetrics returns a snapshot of the coalescer's counters.
func (c *Coalescer) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}
