package event

import "github.com/opencode-ai/opencode-core/pkg/types"

// StoreChangedData is published after the Router applies a coalesced
// batch and its reconciliation consequences, so a StoreView-style
// observer can re-render without inspecting the store directly.
type StoreChangedData struct {
	SessionIDs []string `json:"sessionIDs"`
}

// OrderingTimeoutData mirrors an ordering.Diagnostic of kind
// "ordering-timeout" for subscribers that only care about diagnostics,
// not raw envelopes.
type OrderingTimeoutData struct {
	SessionID string `json:"sessionID"`
	Detail    string `json:"detail"`
}

// QueueOverflowData mirrors an ordering.Diagnostic of kind
// "queue-overflow", or reports that the coalescer's queue was full and
// dropped an event (SessionID is then empty).
type QueueOverflowData struct {
	SessionID string `json:"sessionID"`
	Detail    string `json:"detail"`
}

// RetrySignalData is published whenever a session enters or re-signatures
// a `retry` status (§4.5.2).
type RetrySignalData struct {
	SessionID string              `json:"sessionID"`
	Status    types.SessionStatus `json:"status"`
}

// RetryOutcomeData is published exactly once on every `retry → idle`
// transition (§4.5.2), as RetryRecovered when the session's latest
// assistant message completed without error, or RetryExhausted
// (with Error populated) when it didn't.
type RetryOutcomeData struct {
	SessionID string              `json:"sessionID"`
	Status    types.SessionStatus `json:"status"`
	Error     *types.MessageError `json:"error,omitempty"`
}

// PermissionAskedData mirrors a newly queued PermissionRequest.
type PermissionAskedData struct {
	Request *types.PermissionRequest `json:"request"`
}

// QuestionAskedData mirrors a newly queued QuestionRequest.
type QuestionAskedData struct {
	Request *types.QuestionRequest `json:"request"`
}

// RouterErrorData is published when a per-event mutation panics (the
// panic is recovered); processing of the rest of the batch continues
// regardless (§4.5 failure policy).
type RouterErrorData struct {
	EventID string `json:"eventId"`
	Type    string `json:"type"`
	Reason  string `json:"reason"`
}
