package wire

import "github.com/opencode-ai/opencode-core/pkg/types"

// SessionCreatedProps is `session.created`'s `properties` shape.
type SessionCreatedProps struct {
	SessionID string `json:"sessionID"`
	Directory string `json:"directory"`
}

// SessionUpdatedProps is `session.updated`'s `properties` shape.
type SessionUpdatedProps struct {
	SessionID string               `json:"sessionID"`
	Status    *types.SessionStatus `json:"status,omitempty"`
	Info      *SessionUpdatedInfo  `json:"info,omitempty"`
}

// SessionUpdatedInfo carries a session patch when `info` is present.
type SessionUpdatedInfo struct {
	Directory string `json:"directory,omitempty"`
}

// SessionStatusProps is `session.status`'s `properties` shape.
type SessionStatusProps struct {
	SessionID string              `json:"sessionID"`
	Status    types.SessionStatus `json:"status"`
}

// SessionDeletedProps is `session.deleted`'s `properties` shape.
type SessionDeletedProps struct {
	SessionID string `json:"sessionID"`
}

// SessionDiffProps is `session.diff`'s `properties` shape (diagnostics
// only, never mutates the Entity Stores).
type SessionDiffProps struct {
	SessionID string `json:"sessionID"`
}

// MessageInfo is the `info` object carried by `message.updated`.
type MessageInfo struct {
	ID         string  `json:"id"`
	Role       string  `json:"role"`
	SessionID  string  `json:"sessionID,omitempty"`
	ParentID   *string `json:"parentID,omitempty"`
	Time       *struct {
		Created   int64  `json:"created"`
		Completed *int64 `json:"completed,omitempty"`
	} `json:"time,omitempty"`
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// MessageUpdatedProps is `message.updated`'s `properties` shape.
type MessageUpdatedProps struct {
	Info MessageInfo `json:"info"`
}

// MessageRemovedProps is `message.removed`'s `properties` shape.
type MessageRemovedProps struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
}

// PartUpdatedProps is `message.part.updated`'s `properties` shape.
type PartUpdatedProps struct {
	Part types.Part `json:"part"`
}

// PartRemovedProps is `message.part.removed`'s `properties` shape.
type PartRemovedProps struct {
	PartID    string `json:"partID"`
	MessageID string `json:"messageID"`
	SessionID string `json:"sessionID"`
}

// PermissionAskedProps is `permission.asked`'s `properties` shape.
type PermissionAskedProps struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionID"`
	Permission string         `json:"permission"`
	Patterns   []string       `json:"patterns,omitempty"`
	Always     []string       `json:"always,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Tool       *ToolRef       `json:"tool,omitempty"`
}

// ToolRef identifies the message/call a permission or question request
// was raised from.
type ToolRef struct {
	MessageID string `json:"messageID"`
	CallID    string `json:"callID"`
}

// PermissionRepliedProps is `permission.replied`'s `properties` shape.
type PermissionRepliedProps struct {
	SessionID string `json:"sessionID"`
	RequestID string `json:"requestID"`
	Reply     string `json:"reply"` // "once" | "always" | "reject"
}

// QuestionAskedProps is `question.asked`'s `properties` shape.
type QuestionAskedProps struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionID"`
	Questions []types.Question  `json:"questions"`
	Tool      *ToolRef          `json:"tool,omitempty"`
}

// QuestionRepliedProps is `question.replied`'s `properties` shape.
type QuestionRepliedProps struct {
	SessionID string `json:"sessionID"`
	RequestID string `json:"requestID"`
	Reply     string `json:"reply"`
}

// QuestionRejectedProps is `question.rejected`'s `properties` shape.
type QuestionRejectedProps struct {
	SessionID string `json:"sessionID"`
	RequestID string `json:"requestID"`
	Reason    string `json:"reason,omitempty"`
}

// FileEditedProps is `file.edited`'s `properties` shape.
type FileEditedProps struct {
	File string `json:"file"`
}
