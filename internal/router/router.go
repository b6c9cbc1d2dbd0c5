// Package router implements the Event Router (component H of spec.md
// §2): the sole mutator of the Entity Stores, dispatching each
// ordered, deduplicated event to the correct store mutation, running
// reconciliation (§4.6), and performing orphan cleanup (§4.7).
package router

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/opencode-ai/opencode-core/internal/correlate"
	"github.com/opencode-ai/opencode-core/internal/event"
	"github.com/opencode-ai/opencode-core/internal/logging"
	"github.com/opencode-ai/opencode-core/internal/permission"
	"github.com/opencode-ai/opencode-core/internal/store"
	"github.com/opencode-ai/opencode-core/internal/wire"
	"github.com/opencode-ai/opencode-core/pkg/types"
)

// NowFunc returns the current time in epoch milliseconds. Tests may
// override it to control staleness/window math deterministically.
type NowFunc func() int64

func defaultNow() int64 { return time.Now().UnixMilli() }

// Config tunes the Router's reconciliation window.
type Config struct {
	CorrelationWindowMs int64
	Now                 NowFunc
}

func (c Config) windowMs() int64 {
	if c.CorrelationWindowMs <= 0 {
		return correlate.DefaultWindowMs
	}
	return c.CorrelationWindowMs
}

func (c Config) now() int64 {
	if c.Now == nil {
		return defaultNow()
	}
	return c.Now()
}

// Router is the only mutator of the Store (§3.3). It owns the
// pending-parts buffer, which is router state rather than store state,
// since a deferred part has not yet satisfied its FK and does not
// belong among canonical records.
type Router struct {
	cfg   Config
	store *store.Store
	queue *permission.Queue
	bus   *event.Bus

	pendingParts map[string]*orderedmap.OrderedMap[string, *types.Part] // messageID -> partID -> part
}

// New creates a Router bound to a Store, an ancillary permission/question
// Queue, and a diagnostics Bus (any of queue/bus may be nil to use a
// private default).
func New(cfg Config, st *store.Store, queue *permission.Queue, bus *event.Bus) *Router {
	if queue == nil {
		queue = permission.NewQueue()
	}
	if bus == nil {
		bus = event.NewBus()
	}
	return &Router{
		cfg:          cfg,
		store:        st,
		queue:        queue,
		bus:          bus,
		pendingParts: make(map[string]*orderedmap.OrderedMap[string, *types.Part]),
	}
}

// Store exposes the underlying Entity Store for read access (StoreView).
func (r *Router) Store() *store.Store { return r.store }

// PermissionQueue exposes the ancillary Permission/Question Queue.
func (r *Router) PermissionQueue() *permission.Queue { return r.queue }

// ApplyBatch applies a coalesced batch of ordered, deduplicated,
// validated envelopes (§4.5). Every per-event mutation is isolated: a
// panic from one event's handling is recovered and logged, and
// processing continues with the rest of the batch (§4.5 failure policy).
func (r *Router) ApplyBatch(batch []*wire.Envelope) {
	touched := make(map[string]struct{})
	for _, e := range batch {
		r.applyOne(e, touched)
	}
	if len(touched) == 0 {
		return
	}
	sessionIDs := make([]string, 0, len(touched))
	for id := range touched {
		sessionIDs = append(sessionIDs, id)
	}
	r.bus.PublishSync(event.Event{Type: event.StoreChanged, Data: event.StoreChangedData{SessionIDs: sessionIDs}})
}

func (r *Router) applyOne(e *wire.Envelope, touched map[string]struct{}) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Logger.Error().
				Str("eventID", e.EventID).
				Str("type", string(e.Type)).
				Interface("panic", rec).
				Msg("router: recovered from panic applying event")
			r.bus.PublishSync(event.Event{
				Type: event.RouterError,
				Data: event.RouterErrorData{EventID: e.EventID, Type: string(e.Type), Reason: fmt.Sprintf("%v", rec)},
			})
		}
	}()

	sessionID := ""
	switch e.Type {
	case wire.SessionCreated, wire.SessionUpdated:
		sessionID = r.applySessionUpdated(e)
	case wire.SessionStatusType:
		sessionID = r.applySessionStatus(e)
	case wire.SessionDeleted:
		sessionID = r.applySessionDeleted(e)
	case wire.MessageUpdated:
		sessionID = r.applyMessageUpdated(e)
	case wire.MessageRemoved:
		sessionID = r.applyMessageRemoved(e)
	case wire.PartUpdated:
		sessionID = r.applyPartUpdated(e)
	case wire.PartRemoved:
		sessionID = r.applyPartRemoved(e)
	case wire.PermissionAsked:
		sessionID = r.applyPermissionAsked(e)
	case wire.PermissionReplied:
		sessionID = r.applyPermissionReplied(e)
	case wire.QuestionAsked:
		sessionID = r.applyQuestionAsked(e)
	case wire.QuestionReplied:
		sessionID = r.applyQuestionReplied(e)
	case wire.QuestionRejected:
		sessionID = r.applyQuestionRejected(e)
	default:
		// Unknown/server/file events: no store mutation (§4.5.7).
		return
	}

	if sessionID != "" {
		touched[sessionID] = struct{}{}
	}
}

func decodeProps[P any](e *wire.Envelope) P {
	var p P
	if len(e.Properties) > 0 {
		_ = json.Unmarshal(e.Properties, &p)
	}
	return p
}

// ### 4.5.1 session.created | session.updated

func (r *Router) applySessionUpdated(e *wire.Envelope) string {
	p := decodeProps[wire.SessionUpdatedProps](e)
	if p.SessionID == "" {
		return ""
	}

	sess, err := r.store.GetSession(p.SessionID)
	if err != nil {
		sess = &types.Session{ID: p.SessionID, Directory: "default"}
	}
	if p.Info != nil && p.Info.Directory != "" {
		sess.Directory = p.Info.Directory
	}
	if p.Status != nil {
		sess.Status = *p.Status
	}
	r.store.UpsertSession(sess)
	return p.SessionID
}

// ### 4.5.2 session.status

func (r *Router) applySessionStatus(e *wire.Envelope) string {
	p := decodeProps[wire.SessionStatusProps](e)
	if p.SessionID == "" {
		return ""
	}

	sess, err := r.store.GetSession(p.SessionID)
	if err != nil {
		sess = &types.Session{ID: p.SessionID, Directory: "default"}
	}

	prevStatus := sess.Status
	sess.Status = p.Status
	r.store.UpsertSession(sess)

	if p.Status.Kind == types.SessionRetry && prevStatus.Signature() != p.Status.Signature() {
		r.bus.PublishSync(event.Event{Type: event.RetrySignal, Data: event.RetrySignalData{SessionID: p.SessionID, Status: p.Status}})
	}

	if prevStatus.Kind == types.SessionRetry && p.Status.Kind == types.SessionIdle {
		if err := r.latestAssistantMessageError(p.SessionID); err != nil {
			r.bus.PublishSync(event.Event{Type: event.RetryExhausted, Data: event.RetryOutcomeData{
				SessionID: p.SessionID,
				Status:    p.Status,
				Error:     err,
			}})
		} else {
			r.bus.PublishSync(event.Event{Type: event.RetryRecovered, Data: event.RetryOutcomeData{
				SessionID: p.SessionID,
				Status:    p.Status,
			}})
		}
	}

	if p.Status.Kind == types.SessionIdle {
		r.orphanCleanup(p.SessionID)
	}

	return p.SessionID
}

// latestAssistantMessageError returns the error carried by the session's
// most recently created assistant message, or nil if it completed clean.
func (r *Router) latestAssistantMessageError(sessionID string) *types.MessageError {
	msgs := r.store.ListMessagesBySession(sessionID)
	var latest *types.Message
	for _, m := range msgs {
		if m.Role != types.RoleAssistant {
			continue
		}
		if latest == nil || m.Time.Created > latest.Time.Created {
			latest = m
		}
	}
	if latest == nil {
		return nil
	}
	return latest.Error
}

// applySessionDeleted handles `session.deleted`: removes the Session and
// cascades through the Store.
func (r *Router) applySessionDeleted(e *wire.Envelope) string {
	p := decodeProps[wire.SessionDeletedProps](e)
	if p.SessionID == "" {
		return ""
	}
	r.store.DeleteSession(p.SessionID)
	r.ClearSessionState(p.SessionID)
	return p.SessionID
}

// ### 4.5.3 message.updated

func (r *Router) applyMessageUpdated(e *wire.Envelope) string {
	p := decodeProps[wire.MessageUpdatedProps](e)
	info := p.Info
	if info.ID == "" || info.Role == "" {
		return ""
	}

	sessionID := info.SessionID
	if sessionID == "" {
		sessionID = e.ResolveSessionID()
	}
	if sessionID == "" {
		if parent, ok := r.findParentSessionID(info.ParentID); ok {
			sessionID = parent
		}
	}
	if sessionID == "" {
		logging.Logger.Warn().Str("messageID", info.ID).Msg("router: message.updated with no resolvable sessionID, dropping")
		return ""
	}

	if !r.store.HasSession(sessionID) {
		r.store.UpsertSession(&types.Session{ID: sessionID, Directory: "default"})
	}

	canonical := &types.Message{
		ID:        info.ID,
		SessionID: sessionID,
		Role:      types.MessageRole(info.Role),
		ParentID:  info.ParentID,
		Model:     info.Model,
		Provider:  info.Provider,
	}
	if info.Time != nil {
		canonical.Time = types.MessageTime{Created: info.Time.Created, Completed: info.Time.Completed}
	}

	optimistics := r.store.ListOptimisticMessages(sessionID)
	result := correlate.ReconcileMessages([]*types.Message{canonical}, optimistics, r.cfg.windowMs(), r.cfg.now())

	for _, upsert := range result.ToUpsert {
		r.store.UpsertMessage(upsert)
	}

	for _, optID := range result.ToRemove {
		if optID == canonical.ID {
			continue
		}
		parts := r.store.ListPartsByMessage(optID)
		for _, part := range parts {
			_ = r.store.RepointPart(part.ID, canonical.ID)
		}
		r.store.RemoveMessage(optID)
	}

	r.flushPendingParts(canonical.ID, sessionID)

	return sessionID
}

func (r *Router) findParentSessionID(parentID *string) (string, bool) {
	if parentID == nil || *parentID == "" {
		return "", false
	}
	parent, err := r.store.GetMessage(*parentID)
	if err != nil {
		return "", false
	}
	return parent.SessionID, true
}

// applyMessageRemoved handles the supplemented `message.removed` event.
func (r *Router) applyMessageRemoved(e *wire.Envelope) string {
	p := decodeProps[wire.MessageRemovedProps](e)
	if p.MessageID == "" {
		return ""
	}
	sessionID := p.SessionID
	if sessionID == "" {
		if m, err := r.store.GetMessage(p.MessageID); err == nil {
			sessionID = m.SessionID
		}
	}
	r.store.RemoveMessage(p.MessageID)
	return sessionID
}

// ### 4.5.4 message.part.updated

func (r *Router) applyPartUpdated(e *wire.Envelope) string {
	p := decodeProps[wire.PartUpdatedProps](e)
	part := p.Part
	if part.ID == "" || part.MessageID == "" || part.SessionID == "" {
		return ""
	}

	incoming := part.Clone()
	if incoming.Metadata == nil {
		incoming.Metadata = make(map[string]any)
	}
	incoming.Metadata["__eventSequence"] = e.SeqOrZero()
	incoming.Metadata["__eventTimestamp"] = e.TimestampOrZero()

	if !r.store.HasMessage(incoming.MessageID) {
		r.deferPart(incoming)
		return incoming.SessionID
	}

	if existing, err := r.store.GetPart(incoming.ID); err == nil {
		if partsStructurallyEqual(existing, incoming) {
			return incoming.SessionID
		}
	}

	optimistics := r.store.ListOptimisticParts(incoming.MessageID)
	result := correlate.ReconcilePart(incoming, optimistics)
	for _, optID := range result.ToRemove {
		r.store.RemovePart(optID)
	}
	_ = r.store.UpsertPart(result.ToUpsert)

	return incoming.SessionID
}

// partsStructurallyEqual implements the idempotence short-circuit of
// §4.5.4: equal after stripping the transient bookkeeping fields.
func partsStructurallyEqual(a, b *types.Part) bool {
	sa, sb := *a, *b
	sa.Metadata = a.StrippedMetadata()
	sb.Metadata = b.StrippedMetadata()
	sa.Optimistic, sb.Optimistic = nil, nil
	return reflect.DeepEqual(sa, sb)
}

func (r *Router) deferPart(part *types.Part) {
	q, ok := r.pendingParts[part.MessageID]
	if !ok {
		q = orderedmap.New[string, *types.Part]()
		r.pendingParts[part.MessageID] = q
	}
	q.Set(part.ID, part)
}

// flushPendingParts applies every part queued against messageID, now
// that the message exists (§4.5.3 last step, §4.5.4).
func (r *Router) flushPendingParts(messageID, sessionID string) {
	q, ok := r.pendingParts[messageID]
	if !ok {
		return
	}
	delete(r.pendingParts, messageID)

	for pair := q.Oldest(); pair != nil; pair = pair.Next() {
		part := pair.Value
		optimistics := r.store.ListOptimisticParts(messageID)
		result := correlate.ReconcilePart(part, optimistics)
		for _, optID := range result.ToRemove {
			r.store.RemovePart(optID)
		}
		_ = r.store.UpsertPart(result.ToUpsert)
	}
	_ = sessionID
}

// ### 4.5.5 message.part.removed

func (r *Router) applyPartRemoved(e *wire.Envelope) string {
	p := decodeProps[wire.PartRemovedProps](e)
	if p.PartID == "" || p.MessageID == "" {
		return ""
	}
	r.store.RemovePartByMessage(p.MessageID, p.PartID)
	return p.SessionID
}

// ### 4.5.6 permission & question events

func (r *Router) applyPermissionAsked(e *wire.Envelope) string {
	p := decodeProps[wire.PermissionAskedProps](e)
	if p.ID == "" || p.SessionID == "" {
		return ""
	}
	req := &types.PermissionRequest{
		ID:         p.ID,
		SessionID:  p.SessionID,
		Permission: p.Permission,
		Patterns:   p.Patterns,
		Always:     p.Always,
		Metadata:   p.Metadata,
		Timestamp:  r.cfg.now(),
	}
	if p.Tool != nil {
		req.MessageID = p.Tool.MessageID
		req.CallID = p.Tool.CallID
	}
	r.queue.AskPermission(req)
	r.bus.PublishSync(event.Event{Type: event.PermissionAsked, Data: event.PermissionAskedData{Request: req}})
	return p.SessionID
}

func (r *Router) applyPermissionReplied(e *wire.Envelope) string {
	p := decodeProps[wire.PermissionRepliedProps](e)
	if p.RequestID == "" {
		return ""
	}
	r.queue.ReplyPermission(p.RequestID, permission.Reply(p.Reply))
	return p.SessionID
}

func (r *Router) applyQuestionAsked(e *wire.Envelope) string {
	p := decodeProps[wire.QuestionAskedProps](e)
	if p.ID == "" || p.SessionID == "" {
		return ""
	}
	req := &types.QuestionRequest{
		ID:        p.ID,
		SessionID: p.SessionID,
		Questions: p.Questions,
		Timestamp: r.cfg.now(),
	}
	if p.Tool != nil {
		req.MessageID = p.Tool.MessageID
		req.CallID = p.Tool.CallID
	}
	r.queue.AskQuestion(req)
	r.bus.PublishSync(event.Event{Type: event.QuestionAsked, Data: event.QuestionAskedData{Request: req}})
	return p.SessionID
}

func (r *Router) applyQuestionReplied(e *wire.Envelope) string {
	p := decodeProps[wire.QuestionRepliedProps](e)
	if p.RequestID == "" {
		return ""
	}
	r.queue.ReplyQuestion(p.RequestID, p.Reply)
	return p.SessionID
}

func (r *Router) applyQuestionRejected(e *wire.Envelope) string {
	p := decodeProps[wire.QuestionRejectedProps](e)
	if p.RequestID == "" {
		return ""
	}
	r.queue.RejectQuestion(p.RequestID, p.Reason)
	return p.SessionID
}

// ## 4.7 Orphan Cleanup

func (r *Router) orphanCleanup(sessionID string) {
	window := r.cfg.windowMs()
	now := r.cfg.now()

	for _, msg := range r.store.ListMessagesBySession(sessionID) {
		parts := r.store.ListPartsByMessage(msg.ID)
		for _, part := range parts {
			if part.IsOptimistic() && now-part.Optimistic.Timestamp > window {
				r.store.RemovePart(part.ID)
			}
		}
	}

	for _, msg := range r.store.ListOptimisticMessages(sessionID) {
		if now-msg.Optimistic.Timestamp > window {
			for _, part := range r.store.ListPartsByMessage(msg.ID) {
				r.store.RemovePart(part.ID)
			}
			r.store.RemoveMessage(msg.ID)
		}
	}
}

// ClearSessionState cancels per-session pending parts and ancillary
// requests (§6.4). Ordering-buffer timers are the caller's
// responsibility — the Router has no reference to the ordering.Buffer.
func (r *Router) ClearSessionState(sessionID string) {
	for messageID, q := range r.pendingParts {
		for pair := q.Oldest(); pair != nil; {
			next := pair.Next()
			if pair.Value.SessionID == sessionID {
				q.Delete(pair.Key)
			}
			pair = next
		}
		if q.Len() == 0 {
			delete(r.pendingParts, messageID)
		}
	}
	r.queue.ClearSession(sessionID)
}
