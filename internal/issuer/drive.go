package issuer

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/opencode-ai/opencode-core/internal/logging"
	"github.com/opencode-ai/opencode-core/pkg/types"
)

// drive consumes the synchronous chat stream body, fabricating and
// coalescing optimistic assistant Parts as events arrive (§4.8, §6.2).
// The assistant Message itself is created lazily on the first event that
// needs it, since the transport gives no prior notice of one.
func (i *Issuer) drive(ctx context.Context, sessionID, userMessageID string, body io.ReadCloser) {
	reader := NewStreamReader(body)

	var assistantMsgID string
	textParts := make(map[string]string)    // stream-part id -> partID
	thoughtParts := make(map[string]string) // reasoning id -> partID
	toolParts := make(map[string]string)    // toolCallId -> partID

	ensureAssistantMessage := func() string {
		if assistantMsgID != "" {
			return assistantMsgID
		}
		now := i.now()
		msg := &types.Message{
			ID:        newMessageID(),
			SessionID: sessionID,
			Role:      types.RoleAssistant,
			ParentID:  &userMessageID,
			Time:      types.MessageTime{Created: now},
		}
		msg.Optimistic = &types.OptimisticMetadata{
			Optimistic:     true,
			Source:         "issuer",
			CorrelationKey: "msg:assistant:" + userMessageID,
			Timestamp:      now,
		}

		i.mu.Lock()
		retryOf := i.pendingRetryOf
		i.pendingRetryOf = ""
		i.mu.Unlock()
		if retryOf != "" {
			msg.Metadata = map[string]any{"retryOfAssistantMessageId": retryOf}
		}

		i.store.UpsertMessage(msg)
		assistantMsgID = msg.ID
		return assistantMsgID
	}

	upsertPart := func(p *types.Part) {
		i.tagOptimistic(p, i.now())
		if err := i.store.UpsertPart(p); err != nil {
			// Assistant message genuinely doesn't exist yet in the store
			// (e.g. evicted by a concurrent clearSessionState); nothing
			// useful to do but log and drop this delta.
			logging.Logger.Warn().Err(err).Str("partID", p.ID).Msg("issuer: dropping part, no parent message")
		}
	}

	for {
		ev, err := reader.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return
			}
			logging.Logger.Warn().Err(err).Msg("issuer: chat stream read error")
			return
		}

		switch ev.Type {
		case EventTextDelta:
			msgID := ensureAssistantMessage()
			partID, ok := textParts[ev.ID]
			if !ok {
				partID = ev.ID + "-text"
				textParts[ev.ID] = partID
			}
			accumulated := ev.Delta
			if existing, err := i.store.GetPart(partID); err == nil {
				accumulated = existing.Text + ev.Delta
			}
			upsertPart(&types.Part{
				ID: partID, Type: types.PartText, MessageID: msgID, SessionID: sessionID,
				Text: accumulated,
			})

		case EventThought:
			msgID := ensureAssistantMessage()
			partID, ok := thoughtParts[ev.ID]
			if !ok {
				partID = ev.ID + "-thought"
				thoughtParts[ev.ID] = partID
			}
			text := ev.ThoughtText
			if existing, err := i.store.GetPart(partID); err == nil && ev.ThoughtStatus != "complete" {
				text = existing.Text + ev.ThoughtText
			}
			upsertPart(&types.Part{
				ID: partID, Type: types.PartReasoning, MessageID: msgID, SessionID: sessionID,
				Text: text, ReasoningID: ev.ID,
			})

		case EventToolCall:
			msgID := ensureAssistantMessage()
			partID, ok := toolParts[ev.ToolCallID]
			if !ok {
				partID = ev.ID + "-tool"
				toolParts[ev.ToolCallID] = partID
			}
			upsertPart(&types.Part{
				ID: partID, Type: types.PartToolCall, MessageID: msgID, SessionID: sessionID,
				CallID: ev.ToolCallID, ToolName: ev.ToolName, Input: ev.ToolArgs, State: "pending",
			})

		case EventToolResult:
			partID, ok := toolParts[ev.ToolCallID]
			if !ok {
				// Result for a call we never saw the start of; nothing to patch.
				continue
			}
			msgID := assistantMsgID
			existing, err := i.store.GetPart(partID)
			if err == nil {
				msgID = existing.MessageID
			}
			outStr := toOutputString(ev.ToolResult)
			upsertPart(&types.Part{
				ID: partID, Type: types.PartToolResult, MessageID: msgID, SessionID: sessionID,
				CallID: ev.ToolCallID, Output: &outStr, State: "completed",
			})

		case EventFinish:
			return

		case EventStreamError:
			logging.Logger.Warn().Str("error", ev.Error).Str("sessionID", sessionID).Msg("issuer: chat stream reported error")
			return
		}
	}
}

func toOutputString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
