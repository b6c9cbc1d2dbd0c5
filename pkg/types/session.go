// Package types provides the core data types for the streaming event
// reconciliation core: sessions, messages, parts, and the ancillary
// permission/question records that ride the same event pipeline.
package types

// SessionStatusKind tags the variant held by SessionStatus.
type SessionStatusKind string

const (
	SessionIdle  SessionStatusKind = "idle"
	SessionBusy  SessionStatusKind = "busy"
	SessionRetry SessionStatusKind = "retry"
)

// SessionStatus is a tagged sum type: only the fields relevant to Kind are
// populated. The wire protocol is string-tagged (§9 design note), so the
// Kind check is unavoidable even though Go can't express a closed union.
type SessionStatus struct {
	Kind SessionStatusKind `json:"type"`

	// Retry-only fields.
	Attempt int    `json:"attempt,omitempty"`
	Message string `json:"message,omitempty"`
	Next    int64  `json:"next,omitempty"`
}

// Signature returns a comparable value for detecting whether a retry
// transition actually changed (§4.5.2: "emit a diagnostic iff signature
// changed").
func (s SessionStatus) Signature() [3]any {
	return [3]any{s.Kind, s.Attempt, s.Next}
}

// Session identifies a conversation scoped to a workspace directory.
type Session struct {
	ID        string        `json:"id"`
	Directory string        `json:"directory"`
	Status    SessionStatus `json:"status"`
}

// Clone returns a deep-enough copy for safe handoff across the store
// boundary (callers must not observe in-place mutation of stored records).
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}
