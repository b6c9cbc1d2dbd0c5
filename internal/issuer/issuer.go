// Package issuer implements the Optimistic Issuer (component I of
// spec.md §2, §4.8): generates optimistic user/assistant entities ahead
// of the canonical event stream, drives the synchronous chat-stream
// parser, and reconciles its own optimistic state on stop/retry/error.
package issuer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/opencode-core/internal/correlate"
	"github.com/opencode-ai/opencode-core/internal/logging"
	"github.com/opencode-ai/opencode-core/internal/store"
	"github.com/opencode-ai/opencode-core/pkg/types"
)

// StreamingStatus is the Issuer's own connection/stream state machine
// (§4.8, §5 concurrency guard).
type StreamingStatus string

const (
	StreamIdle       StreamingStatus = "idle"
	StreamConnecting StreamingStatus = "connecting"
	StreamStreaming  StreamingStatus = "streaming"
	StreamDone       StreamingStatus = "done"
	StreamError      StreamingStatus = "error"
)

// ChatResponse is what a ChatTransport hands back once the HTTP response
// head has arrived: the canonical (possibly newly-minted) session id and
// the synchronous stream body to parse (§6.2, §6.3).
type ChatResponse struct {
	SessionID string // from X-Task-Session-ID, "" if absent
	Body      io.ReadCloser
}

// ChatTransport is the external HTTP collaborator the core does not
// implement (out of scope per §1 — the core only reconciles events,
// it does not own the network client).
type ChatTransport interface {
	SendMessage(ctx context.Context, sessionID, text string) (*ChatResponse, error)
}

// OptimisticFloor is the minimum age an optimistic entity must reach
// before stop() reaps it, so a stop() issued a moment after sendMessage
// doesn't race the entity's own creation.
const OptimisticFloor = 50 * time.Millisecond

// Issuer owns the optimistic half of a turn: it writes optimistic
// Messages/Parts straight to the Store (the Router only ever sees
// canonical events), and tracks enough state to reconcile or reap them.
type Issuer struct {
	mu        sync.Mutex
	store     *store.Store
	transport ChatTransport
	now       func() int64

	status     map[string]StreamingStatus // sessionID -> status
	cancelFns  map[string]context.CancelFunc
	lastUserID map[string]string // sessionID -> most recent optimistic/canonical user message id

	pendingRetryOf string // assistant messageID this SendMessage call is a retry of, if any
}

// New creates an Issuer bound to a Store and a ChatTransport.
func New(st *store.Store, transport ChatTransport) *Issuer {
	return &Issuer{
		store:      st,
		transport:  transport,
		now:        func() int64 { return time.Now().UnixMilli() },
		status:     make(map[string]StreamingStatus),
		cancelFns:  make(map[string]context.CancelFunc),
		lastUserID: make(map[string]string),
	}
}

// Status returns the current streaming status for a session ("" sessions
// default to idle).
func (i *Issuer) Status(sessionID string) StreamingStatus {
	i.mu.Lock()
	defer i.mu.Unlock()
	if s, ok := i.status[sessionID]; ok {
		return s
	}
	return StreamIdle
}

func (i *Issuer) setStatus(sessionID string, s StreamingStatus) {
	i.mu.Lock()
	i.status[sessionID] = s
	i.mu.Unlock()
}

// SendMessage issues an optimistic user message/part, opens the chat
// stream and drives it to completion. It ignores the call outright if
// the session is already connecting/streaming (§5 concurrency guard).
func (i *Issuer) SendMessage(ctx context.Context, sessionID, text string) error {
	i.mu.Lock()
	cur := i.status[sessionID]
	if cur == StreamConnecting || cur == StreamStreaming {
		i.mu.Unlock()
		return errors.New("issuer: a send is already in flight for this session")
	}
	i.status[sessionID] = StreamConnecting
	ctx, cancel := context.WithCancel(ctx)
	i.cancelFns[sessionID] = cancel
	i.mu.Unlock()

	defer func() {
		i.mu.Lock()
		delete(i.cancelFns, sessionID)
		i.mu.Unlock()
	}()

	now := i.now()
	userMsg := i.newOptimisticUserMessage(sessionID, now)
	i.lastUserID[sessionID] = userMsg.ID
	i.store.UpsertMessage(userMsg)

	userPart := &types.Part{
		ID:        newPartID(),
		Type:      types.PartText,
		MessageID: userMsg.ID,
		SessionID: sessionID,
		Text:      text,
	}
	i.tagOptimistic(userPart, now)
	if err := i.store.UpsertPart(userPart); err != nil {
		logging.Logger.Warn().Err(err).Msg("issuer: failed to attach optimistic user part")
	}

	resp, err := i.sendWithRetry(ctx, sessionID, text)
	if err != nil {
		i.setStatus(sessionID, StreamError)
		i.reapOptimistics(sessionID, 0)
		return fmt.Errorf("issuer: send message: %w", err)
	}

	canonicalSessionID := sessionID
	if resp.SessionID != "" {
		if !isUUIDv7(resp.SessionID) {
			i.setStatus(sessionID, StreamError)
			i.reapOptimistics(sessionID, 0)
			return fmt.Errorf("issuer: invalid X-Task-Session-ID %q", resp.SessionID)
		}
		canonicalSessionID = resp.SessionID
	}

	if canonicalSessionID != sessionID {
		i.migrateSession(sessionID, canonicalSessionID, userMsg.ID)
	}

	i.setStatus(canonicalSessionID, StreamStreaming)
	if resp.Body != nil {
		defer resp.Body.Close()
		i.drive(ctx, canonicalSessionID, userMsg.ID, resp.Body)
	}
	i.setStatus(canonicalSessionID, StreamDone)
	return nil
}

// migrateSession rewrites an optimistic message's sessionID (and its
// session-scoped bookkeeping) to the canonical id the transport returned,
// before any canonical events referencing that id can arrive (§4.8).
func (i *Issuer) migrateSession(oldID, newID, userMessageID string) {
	if !i.store.HasSession(newID) {
		i.store.UpsertSession(&types.Session{ID: newID, Directory: "default"})
	}
	if msg, err := i.store.GetMessage(userMessageID); err == nil {
		msg.SessionID = newID
		i.store.UpsertMessage(msg)
		for _, part := range i.store.ListPartsByMessage(userMessageID) {
			part.SessionID = newID
			_ = i.store.UpsertPart(part)
		}
	}
	i.mu.Lock()
	if s, ok := i.status[oldID]; ok {
		i.status[newID] = s
		delete(i.status, oldID)
	}
	if id, ok := i.lastUserID[oldID]; ok {
		i.lastUserID[newID] = id
		delete(i.lastUserID, oldID)
	}
	i.mu.Unlock()
}

// tagOptimistic marks p as a live optimistic stand-in, using the same
// correlation key the Correlation Engine derives for its canonical twin
// (§4.6.1) so MatchPart can find it once that twin arrives.
func (i *Issuer) tagOptimistic(p *types.Part, now int64) {
	p.Optimistic = &types.OptimisticMetadata{
		Optimistic:     true,
		Source:         "issuer",
		CorrelationKey: correlate.PartKey(p),
		Timestamp:      now,
	}
}

// newOptimisticUserMessage mints a user Message tagged optimistic with a
// freshly computed correlation key (§3.1, §4.6.1).
func (i *Issuer) newOptimisticUserMessage(sessionID string, now int64) *types.Message {
	m := &types.Message{
		ID:        newMessageID(),
		SessionID: sessionID,
		Role:      types.RoleUser,
		Time:      types.MessageTime{Created: now},
	}
	m.Optimistic = &types.OptimisticMetadata{
		Optimistic:     true,
		Source:         "issuer",
		CorrelationKey: fmt.Sprintf("msg:%s:%s:%d", m.Role, m.ParentIDOrDefault(), now),
		Timestamp:      now,
	}
	return m
}

// Stop aborts the in-flight stream for sessionID (if any) and immediately
// reaps optimistic entities older than OptimisticFloor (§4.8, §5).
func (i *Issuer) Stop(sessionID string) {
	i.mu.Lock()
	cancel, ok := i.cancelFns[sessionID]
	i.mu.Unlock()
	if ok {
		cancel()
	}
	i.setStatus(sessionID, StreamIdle)
	i.reapOptimistics(sessionID, OptimisticFloor.Milliseconds())
}

// reapOptimistics synchronously removes every optimistic Message (and its
// Parts) in sessionID at least minAgeMs old.
func (i *Issuer) reapOptimistics(sessionID string, minAgeMs int64) {
	now := i.now()
	for _, msg := range i.store.ListOptimisticMessages(sessionID) {
		if now-msg.Optimistic.Timestamp < minAgeMs {
			continue
		}
		for _, part := range i.store.ListPartsByMessage(msg.ID) {
			i.store.RemovePart(part.ID)
		}
		i.store.RemoveMessage(msg.ID)
	}
}

// Retry re-sends the text of messageID's own user message (or, if
// messageID names an assistant message, its parent user message),
// tagging the new optimistic assistant turn with retryOfAssistantMessageId
// metadata (§4.8).
func (i *Issuer) Retry(ctx context.Context, messageID string) error {
	msg, err := i.store.GetMessage(messageID)
	if err != nil {
		return fmt.Errorf("issuer: retry: %w", err)
	}

	userMsg := msg
	var retryOfAssistantID string
	if msg.Role == types.RoleAssistant {
		retryOfAssistantID = msg.ID
		if msg.ParentID == nil {
			return errors.New("issuer: retry: assistant message has no parent user message")
		}
		userMsg, err = i.store.GetMessage(*msg.ParentID)
		if err != nil {
			return fmt.Errorf("issuer: retry: parent user message: %w", err)
		}
	}
	if userMsg.Role != types.RoleUser {
		return errors.New("issuer: retry: target is not a user message or assistant reply")
	}

	text := concatenatedText(i.store.ListPartsByMessage(userMsg.ID))

	// Stashed here so drive() can attach retryOfAssistantMessageId once the
	// resend's optimistic assistant message exists.
	i.mu.Lock()
	i.pendingRetryOf = retryOfAssistantID
	i.mu.Unlock()

	return i.SendMessage(ctx, userMsg.SessionID, text)
}

func concatenatedText(parts []*types.Part) string {
	var out string
	for _, p := range parts {
		if p.Type == types.PartText {
			out += p.Text
		}
	}
	return out
}

func isUUIDv7(s string) bool {
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return u.Version() == 7
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return ulid.Make().String()
	}
	return id.String()
}

func newPartID() string { return ulid.Make().String() }

// sendWithRetry wraps the transport call in a jittered exponential-backoff
// retry policy, so a transient connection failure before streaming even
// starts doesn't immediately surface as an error.
func (i *Issuer) sendWithRetry(ctx context.Context, sessionID, text string) (*ChatResponse, error) {
	var resp *ChatResponse
	op := func() error {
		r, err := i.transport.SendMessage(ctx, sessionID, text)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}
	if err := backoff.Retry(op, newRetryBackoff(ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}

// newRetryBackoff builds a jittered exponential backoff for transient
// stream-send failures; sendWithRetry uses it for every send, from
// SendMessage and Retry alike.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = time.Minute
	b.RandomizationFactor = 0.3
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx)
}
