// Package core wires the nine processing components (spec.md §2) into
// the module's public surface: validate (A) → dedup (B) → ordering (C) →
// coalesce (D) → router (H, internally consulting correlate F/G and the
// store E) for incoming SSE envelopes, plus the Optimistic Issuer (I)
// for UI-initiated turns.
package core

import (
	"context"
	"fmt"

	"github.com/opencode-ai/opencode-core/internal/coalesce"
	"github.com/opencode-ai/opencode-core/internal/config"
	"github.com/opencode-ai/opencode-core/internal/dedup"
	"github.com/opencode-ai/opencode-core/internal/event"
	"github.com/opencode-ai/opencode-core/internal/issuer"
	"github.com/opencode-ai/opencode-core/internal/logging"
	"github.com/opencode-ai/opencode-core/internal/ordering"
	"github.com/opencode-ai/opencode-core/internal/permission"
	"github.com/opencode-ai/opencode-core/internal/router"
	"github.com/opencode-ai/opencode-core/internal/store"
	"github.com/opencode-ai/opencode-core/internal/wire"
	"github.com/opencode-ai/opencode-core/pkg/types"
)

// StreamSource is the external collaborator that feeds raw envelopes;
// the core itself never opens or manages a network connection (§1
// Non-goals: transport/SSE-client implementation is out of scope).
type StreamSource interface {
	Next(ctx context.Context) (*wire.Envelope, error)
}

// Clipboard is the external collaborator `copy(messageId)` writes to
// (§6.4). The core ships a trivial no-op default since clipboard access
// is platform-specific UI surface, not reconciliation-core scope.
type Clipboard interface {
	Write(text string) error
}

type noopClipboard struct{}

func (noopClipboard) Write(string) error { return nil }

// StoreView is the read-only surface an observer (a UI layer) queries
// after a `store.changed` diagnostic fires. *store.Store satisfies it.
type StoreView interface {
	GetSession(id string) (*types.Session, error)
	ListMessagesBySession(sessionID string) []*types.Message
	ListPartsByMessage(messageID string) []*types.Part
}

// Core is the module's public entry point (§6.4 Public core API).
type Core struct {
	cfg *config.Config

	store     *store.Store
	dedup     *dedup.Deduplicator
	ordering  *ordering.Buffer
	coalescer *coalesce.Coalescer
	router    *router.Router
	issuer    *issuer.Issuer
	bus       *event.Bus
	clipboard Clipboard
}

// Option configures optional Core collaborators.
type Option func(*Core)

// WithClipboard overrides the default no-op Clipboard.
func WithClipboard(c Clipboard) Option {
	return func(core *Core) { core.clipboard = c }
}

// WithBus overrides the default private diagnostics Bus.
func WithBus(b *event.Bus) Option {
	return func(core *Core) { core.bus = b }
}

// New builds a Core from loaded tunables and a chat transport for the
// Optimistic Issuer.
func New(cfg *config.Config, transport issuer.ChatTransport, opts ...Option) *Core {
	if cfg == nil {
		cfg = &config.Config{}
	}

	c := &Core{
		cfg:       cfg,
		store:     store.New(),
		clipboard: noopClipboard{},
		bus:       event.NewBus(),
	}
	for _, opt := range opts {
		opt(c)
	}

	permQueue := permission.NewQueue()
	c.router = router.New(router.Config{CorrelationWindowMs: cfg.Correlation.WindowMs}, c.store, permQueue, c.bus)
	c.dedup = dedup.New(cfg.Dedup.MaxSize)
	c.coalescer = coalesce.New(coalesce.Config{
		BatchWindowMs: cfg.Coalescer.BatchWindowMs,
		MaxQueueSize:  cfg.Coalescer.MaxQueueSize,
		OnQueueFull:   c.onCoalesceQueueFull,
	}, c.onBatch)
	c.ordering = ordering.New(ordering.Config{
		TimeoutMs:    cfg.Ordering.TimeoutMs,
		MaxQueueSize: cfg.Ordering.MaxQueueSize,
	}, c.onOrderingRelease, c.onOrderingDiagnostic)
	c.issuer = issuer.New(c.store, transport)

	return c
}

// Store returns the reconciled StoreView for UI observers.
func (c *Core) Store() StoreView { return c.store }

// Bus returns the diagnostics bus subscribers attach to.
func (c *Core) Bus() *event.Bus { return c.bus }

// ApplyEvent runs an incoming envelope through validate → dedup →
// ordering, then enqueues whatever was admitted into the coalescer.
// It returns the envelopes admitted by the ordering stage in this call
// (possibly empty, if the event was queued pending a gap fill or
// dropped as a duplicate/stale/invalid) — §6.4 `applyEvent`.
func (c *Core) ApplyEvent(e *wire.Envelope) []*wire.Envelope {
	result := wire.Validate(e)
	if !result.OK {
		logging.Logger.Warn().Str("eventId", e.EventID).Str("type", string(e.Type)).Str("reason", result.Reason).Msg("core: dropping invalid event")
		return nil
	}

	if c.dedup.IsDuplicate(e.EventID) {
		return nil
	}

	admitted := c.ordering.Admit(e)
	for _, ae := range admitted {
		c.coalescer.Add(ae)
	}
	return admitted
}

// onOrderingRelease feeds events force-released by a per-session timeout
// back into the coalescer, exactly like a synchronously admitted batch.
func (c *Core) onOrderingRelease(_ string, events []*wire.Envelope) {
	for _, e := range events {
		c.coalescer.Add(e)
	}
}

func (c *Core) onOrderingDiagnostic(d ordering.Diagnostic) {
	switch d.Kind {
	case "ordering-timeout":
		c.bus.PublishSync(event.Event{Type: event.OrderingTimeout, Data: event.OrderingTimeoutData{SessionID: d.SessionID, Detail: d.Detail}})
	case "queue-overflow":
		c.bus.PublishSync(event.Event{Type: event.QueueOverflow, Data: event.QueueOverflowData{SessionID: d.SessionID, Detail: d.Detail}})
	}
}

func (c *Core) onCoalesceQueueFull() {
	c.bus.PublishSync(event.Event{Type: event.QueueOverflow, Data: event.QueueOverflowData{Detail: "coalescer queue full; dropped newest event"}})
}

func (c *Core) onBatch(batch []*wire.Envelope) {
	c.router.ApplyBatch(batch)
}

// Drain forces the coalescer to fire its current (possibly partial)
// batch immediately instead of waiting out the batch window. Useful for
// deterministic tests and for an orderly shutdown path alongside Flush.
func (c *Core) Drain() { c.coalescer.Drain() }

// Flush drops whatever is queued in the coalescer without applying it —
// the orderly-shutdown path of §5 ("flush() on the coalescer drops
// events silently").
func (c *Core) Flush() { c.coalescer.Flush() }

// SendMessage issues an optimistic user turn and drives the synchronous
// chat stream to completion (§6.4 `sendMessage`).
func (c *Core) SendMessage(ctx context.Context, sessionID, text string) error {
	return c.issuer.SendMessage(ctx, sessionID, text)
}

// Stop aborts the in-flight stream for sessionID and reaps stale
// optimistics (§6.4 `stop`).
func (c *Core) Stop(sessionID string) { c.issuer.Stop(sessionID) }

// Retry re-sends a prior user turn (§6.4 `retry`).
func (c *Core) Retry(ctx context.Context, messageID string) error {
	return c.issuer.Retry(ctx, messageID)
}

// Copy concatenates a message's text parts and writes them to the
// Clipboard collaborator (§6.4 `copy`).
func (c *Core) Copy(messageID string) error {
	var text string
	for _, p := range c.store.ListPartsByMessage(messageID) {
		if p.Type == types.PartText {
			text += p.Text
		}
	}
	if err := c.clipboard.Write(text); err != nil {
		return fmt.Errorf("core: copy: %w", err)
	}
	return nil
}

// Delete removes a message and cascades to its parts (§6.4 `delete`).
func (c *Core) Delete(messageID string) { c.store.RemoveMessage(messageID) }

// ClearSessionState forgets the per-session ordering buffer, pending
// parts, and ancillary-request queue state for sessionID (§6.4,
// `clearSessionState`).
func (c *Core) ClearSessionState(sessionID string) {
	c.ordering.ClearSession(sessionID)
	c.router.ClearSessionState(sessionID)
}

// ClearAllProcessingState resets the ordering buffer (every session's
// sequence counter, gap queue and timer) and the dedup cache (§6.4
// `clearAllProcessingState`). It does not clear the coalescer's queue,
// the Router's pending-parts buffer, or the pending permission and
// question queues.
func (c *Core) ClearAllProcessingState() {
	c.ordering.Reset()
	c.dedup.Reset()
}

// GetOrderingStats returns ordering-buffer diagnostics, for one session
// or, if sessionID is empty, every known session (§6.4).
func (c *Core) GetOrderingStats(sessionID string) []ordering.SessionStats {
	return c.ordering.Stats(sessionID)
}

// GetDeduplicatorStats returns the dedup cache's occupancy snapshot
// (§6.4).
func (c *Core) GetDeduplicatorStats() dedup.Stats {
	return c.dedup.GetStats()
}

// Run pumps envelopes from a StreamSource into ApplyEvent until the
// source is exhausted or ctx is cancelled. It is a convenience loop for
// simple callers — the library itself never blocks on a transport.
func (c *Core) Run(ctx context.Context, src StreamSource) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		e, err := src.Next(ctx)
		if err != nil {
			return err
		}
		if e == nil {
			return nil
		}
		c.ApplyEvent(e)
	}
}
