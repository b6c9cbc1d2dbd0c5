// Package wire defines the server-sent event envelope (§6.1) and the
// Event Validator (component A of spec.md §2).
package wire

import "encoding/json"

// EventType is the wire `type` discriminator.
type EventType string

const (
	ServerConnected   EventType = "server.connected"
	ServerHeartbeat   EventType = "server.heartbeat"
	SessionCreated    EventType = "session.created"
	SessionUpdated    EventType = "session.updated"
	SessionStatusType EventType = "session.status"
	SessionDeleted    EventType = "session.deleted"
	SessionDiff       EventType = "session.diff"
	MessageUpdated    EventType = "message.updated"
	MessageRemoved    EventType = "message.removed"
	PartUpdated       EventType = "message.part.updated"
	PartRemoved       EventType = "message.part.removed"
	PermissionAsked   EventType = "permission.asked"
	PermissionReplied EventType = "permission.replied"
	QuestionAsked     EventType = "question.asked"
	QuestionReplied   EventType = "question.replied"
	QuestionRejected  EventType = "question.rejected"
	FileEdited        EventType = "file.edited"
)

// Envelope is the outer SSE payload shape every event arrives in.
type Envelope struct {
	Type       EventType       `json:"type"`
	Properties json.RawMessage `json:"properties"`
	EventID    string          `json:"eventId"`
	Sequence   *float64        `json:"sequence"`
	Timestamp  *float64        `json:"timestamp"`
	Directory  string          `json:"directory,omitempty"`
	SessionID  string          `json:"sessionID,omitempty"`
}

// SeqOrZero returns the sequence number, or 0 if absent (only valid to
// call after Validate has accepted the envelope for types that require it).
func (e *Envelope) SeqOrZero() uint64 {
	if e.Sequence == nil {
		return 0
	}
	return uint64(*e.Sequence)
}

// TimestampOrZero mirrors SeqOrZero for the timestamp field.
func (e *Envelope) TimestampOrZero() int64 {
	if e.Timestamp == nil {
		return 0
	}
	return int64(*e.Timestamp)
}

// ResolveSessionID resolves the session an event belongs to, trying the
// envelope field first and falling back to the type-specific properties
// (§4.3 step 1). Returns "" for session-agnostic events.
func (e *Envelope) ResolveSessionID() string {
	if e.SessionID != "" {
		return e.SessionID
	}
	var probe struct {
		SessionID string `json:"sessionID"`
		Info      struct {
			SessionID string `json:"sessionID"`
		} `json:"info"`
		Part struct {
			SessionID string `json:"sessionID"`
		} `json:"part"`
	}
	if len(e.Properties) > 0 {
		_ = json.Unmarshal(e.Properties, &probe)
	}
	switch {
	case probe.SessionID != "":
		return probe.SessionID
	case probe.Info.SessionID != "":
		return probe.Info.SessionID
	case probe.Part.SessionID != "":
		return probe.Part.SessionID
	default:
		return ""
	}
}
