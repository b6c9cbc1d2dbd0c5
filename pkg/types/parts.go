package types

import "encoding/json"

// PartType enumerates the recognized Part variants (§3.1). Unknown types
// pass through rather than failing validation.
type PartType string

const (
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartTool       PartType = "tool"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
	PartError      PartType = "error"
)

// Part is a fragment of a Message. It is modeled as a tagged sum type
// keyed on Type — only the fields relevant to Type carry meaning for a
// given instance.
type Part struct {
	ID        string   `json:"id"`
	Type      PartType `json:"type"`
	MessageID string   `json:"messageID"`
	SessionID string   `json:"sessionID"`

	// Text / reasoning payload.
	Text        string `json:"text,omitempty"`
	ReasoningID string `json:"reasoningId,omitempty"`

	// Tool / tool-call / tool-result payload.
	CallID   string         `json:"callID,omitempty"`
	ToolName string         `json:"toolName,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	Output   *string        `json:"output,omitempty"`
	State    string         `json:"state,omitempty"`

	// Error payload.
	ErrorMessage string `json:"errorMessage,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	Optimistic *OptimisticMetadata `json:"optimistic,omitempty"`

	// Raw is a slot for the original payload of a part. It is excluded
	// from JSON encoding and decoding and nothing in this module sets it,
	// so a part of an unrecognized Type keeps only the fields declared
	// on Part; its other fields are not preserved.
	Raw json.RawMessage `json:"-"`
}

// IsOptimistic reports whether the part still carries live optimistic
// metadata.
func (p *Part) IsOptimistic() bool {
	return p != nil && p.Optimistic != nil && p.Optimistic.Optimistic
}

// Clone returns a copy safe for handing out of the store.
func (p *Part) Clone() *Part {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Output != nil {
		out := *p.Output
		clone.Output = &out
	}
	if p.Optimistic != nil {
		opt := *p.Optimistic
		clone.Optimistic = &opt
	}
	if p.Input != nil {
		clone.Input = make(map[string]any, len(p.Input))
		for k, v := range p.Input {
			clone.Input[k] = v
		}
	}
	if p.Metadata != nil {
		clone.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// StrippedMetadata returns a copy of Metadata with the transient fields
// the Router attaches for bookkeeping (§4.5.4) removed, so structural
// comparisons for the idempotence short-circuit aren't fooled by them.
func (p *Part) StrippedMetadata() map[string]any {
	if p == nil || len(p.Metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(p.Metadata))
	for k, v := range p.Metadata {
		if k == "__eventSequence" || k == "__eventTimestamp" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
