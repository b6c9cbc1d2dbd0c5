// Package ordering implements the Event Ordering Buffer (component C of
// spec.md §2, detailed in §4.3): a per-session sequence-gap queue with
// timeout-driven release.
package ordering

import (
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/opencode-ai/opencode-core/internal/logging"
	"github.com/opencode-ai/opencode-core/internal/wire"
)

// DefaultTimeout and DefaultMaxQueueSize are the §4.3 configuration
// defaults.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxQueueSize = 1000
)

// Diagnostic is emitted for queue-overflow and timeout-recovery events
// (§4.3, §7) — surfaced to the caller rather than logged silently, since
// both are testable properties (P7) and operator-visible conditions.
type Diagnostic struct {
	SessionID string
	Kind      string // "queue-overflow" | "ordering-timeout"
	Detail    string
}

// ReleaseFunc receives events force-released by a timeout, asynchronously,
// outside of any Admit call. The caller is expected to feed these back
// into the downstream pipeline (Coalescer) exactly like a synchronously
// admitted batch.
type ReleaseFunc func(sessionID string, events []*wire.Envelope)

// DiagnosticFunc receives Diagnostic notifications.
type DiagnosticFunc func(Diagnostic)

// Config tunes the buffer's timeout and capacity.
type Config struct {
	TimeoutMs    int
	MaxQueueSize int
}

func (c Config) timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c Config) maxQueueSize() int {
	if c.MaxQueueSize <= 0 {
		return DefaultMaxQueueSize
	}
	return c.MaxQueueSize
}

type queuedEvent struct {
	envelope *wire.Envelope
	timer    *time.Timer
}

type sessionState struct {
	hasLast     bool
	lastApplied uint64
	queue       *orderedmap.OrderedMap[uint64, *queuedEvent]
}

// Buffer is the per-session ordering buffer. Each Core owns one Buffer
// instance; it multiplexes state per sessionID internally
// (§2 control-flow invariant: one ordering buffer, one sequence counter,
// one lifecycle state machine per session).
type Buffer struct {
	cfg     Config
	onRelease ReleaseFunc
	onDiag    DiagnosticFunc

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New creates an ordering Buffer. onRelease is invoked (off the calling
// goroutine) whenever a timeout force-releases events; onDiag is invoked
// for diagnostics. Both may be nil.
func New(cfg Config, onRelease ReleaseFunc, onDiag DiagnosticFunc) *Buffer {
	if onRelease == nil {
		onRelease = func(string, []*wire.Envelope) {}
	}
	if onDiag == nil {
		onDiag = func(Diagnostic) {}
	}
	return &Buffer{
		cfg:       cfg,
		onRelease: onRelease,
		onDiag:    onDiag,
		sessions:  make(map[string]*sessionState),
	}
}

func (b *Buffer) stateFor(sessionID string) *sessionState {
	st, ok := b.sessions[sessionID]
	if !ok {
		st = &sessionState{queue: orderedmap.New[uint64, *queuedEvent]()}
		b.sessions[sessionID] = st
	}
	return st
}

// Admit resolves the envelope's session, applies the ordering rules of
// §4.3, and returns the list of envelopes ready to apply in this call
// (possibly empty if the event was queued pending a gap fill, or dropped
// as stale).
func (b *Buffer) Admit(e *wire.Envelope) []*wire.Envelope {
	sessionID := e.ResolveSessionID()
	if sessionID == "" {
		// Ordering is per-session; session-agnostic events bypass (§4.3 step 1).
		return []*wire.Envelope{e}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stateFor(sessionID)
	seq := e.SeqOrZero()

	if !st.hasLast {
		st.hasLast = true
		st.lastApplied = seq
		return []*wire.Envelope{e}
	}

	if seq <= st.lastApplied {
		// Stale or duplicate-by-sequence.
		return nil
	}

	if seq == st.lastApplied+1 {
		drained := []*wire.Envelope{e}
		st.lastApplied = seq
		drained = append(drained, b.drainContiguousLocked(st)...)
		return drained
	}

	// Gap: queue it.
	b.enqueueLocked(sessionID, st, e)
	return nil
}

// drainContiguousLocked flushes any queued events whose sequence
// immediately continues lastApplied, cancelling their timers.
func (b *Buffer) drainContiguousLocked(st *sessionState) []*wire.Envelope {
	var drained []*wire.Envelope
	for {
		next := st.lastApplied + 1
		qe, ok := st.queue.Get(next)
		if !ok {
			break
		}
		if qe.timer != nil {
			qe.timer.Stop()
		}
		st.queue.Delete(next)
		st.lastApplied = next
		drained = append(drained, qe.envelope)
	}
	return drained
}

func (b *Buffer) enqueueLocked(sessionID string, st *sessionState, e *wire.Envelope) {
	seq := e.SeqOrZero()

	if st.queue.Len() >= b.cfg.maxQueueSize() {
		if oldest := st.queue.Oldest(); oldest != nil {
			if oldest.Value.timer != nil {
				oldest.Value.timer.Stop()
			}
			st.queue.Delete(oldest.Key)
			b.onDiag(Diagnostic{
				SessionID: sessionID,
				Kind:      "queue-overflow",
				Detail:    "dropped oldest queued event to respect maxQueueSize",
			})
			logging.Warn().
				Str("sessionID", sessionID).
				Uint64("droppedSequence", oldest.Key).
				Msg("ordering buffer overflow: dropped oldest queued event")
		}
	}

	qe := &queuedEvent{envelope: e}
	qe.timer = time.AfterFunc(b.cfg.timeout(), func() {
		b.onTimeout(sessionID, seq)
	})
	st.queue.Set(seq, qe)
}

// onTimeout force-releases a timed-out event and any contiguous
// successors, jumping lastApplied forward and discarding anything left
// behind with a lower sequence (§4.3 Timeout semantics).
func (b *Buffer) onTimeout(sessionID string, seq uint64) {
	b.mu.Lock()
	st, ok := b.sessions[sessionID]
	if !ok {
		b.mu.Unlock()
		return
	}
	qe, ok := st.queue.Get(seq)
	if !ok {
		// Already flushed normally; nothing to do.
		b.mu.Unlock()
		return
	}
	st.queue.Delete(seq)

	// Discard anything still queued below the released sequence — it
	// missed its chance and would otherwise violate monotonicity.
	for pair := st.queue.Oldest(); pair != nil; {
		next := pair.Next()
		if pair.Key < seq {
			if pair.Value.timer != nil {
				pair.Value.timer.Stop()
			}
			st.queue.Delete(pair.Key)
		}
		pair = next
	}

	st.lastApplied = seq
	released := []*wire.Envelope{qe.envelope}
	released = append(released, b.drainContiguousLocked(st)...)
	b.mu.Unlock()

	b.onDiag(Diagnostic{
		SessionID: sessionID,
		Kind:      "ordering-timeout",
		Detail:    "gap not filled within timeout; force-released",
	})
	logging.Warn().
		Str("sessionID", sessionID).
		Uint64("sequence", seq).
		Int("releasedCount", len(released)).
		Msg("ordering buffer timeout: force-released event(s)")

	b.onRelease(sessionID, released)
}

// SessionStats is the diagnostic snapshot for one session.
type SessionStats struct {
	SessionID   string `json:"sessionID"`
	LastApplied uint64 `json:"lastApplied"`
	QueueSize   int    `json:"queueSize"`
}

// Stats returns ordering diagnostics. If sessionID is empty, every known
// session's stats are returned.
func (b *Buffer) Stats(sessionID string) []SessionStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sessionID != "" {
		st, ok := b.sessions[sessionID]
		if !ok {
			return nil
		}
		return []SessionStats{{SessionID: sessionID, LastApplied: st.lastApplied, QueueSize: st.queue.Len()}}
	}

	stats := make([]SessionStats, 0, len(b.sessions))
	for id, st := range b.sessions {
		stats = append(stats, SessionStats{SessionID: id, LastApplied: st.lastApplied, QueueSize: st.queue.Len()})
	}
	return stats
}

// ClearSession cancels all timers for sessionID and forgets its state
// (§5 "clearSessionState cancels per-session timers, purges the
// ordering-buffer state").
func (b *Buffer) ClearSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearSessionLocked(sessionID)
}

func (b *Buffer) clearSessionLocked(sessionID string) {
	st, ok := b.sessions[sessionID]
	if !ok {
		return
	}
	for pair := st.queue.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.timer != nil {
			pair.Value.timer.Stop()
		}
	}
	delete(b.sessions, sessionID)
}

// Reset clears every session's state (clearAllProcessingState, §6.4).
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sessionID := range b.sessions {
		b.clearSessionLocked(sessionID)
	}
}
