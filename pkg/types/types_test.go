package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage_IsOptimistic(t *testing.T) {
	m := &Message{ID: "m1"}
	assert.False(t, m.IsOptimistic())

	m.Optimistic = &OptimisticMetadata{Optimistic: true}
	assert.True(t, m.IsOptimistic())

	m.Optimistic.Optimistic = false
	assert.False(t, m.IsOptimistic())
}

func TestMessage_ParentIDOrDefault(t *testing.T) {
	m := &Message{ID: "m1"}
	assert.Equal(t, "no-parent", m.ParentIDOrDefault())

	parent := "m0"
	m.ParentID = &parent
	assert.Equal(t, "m0", m.ParentIDOrDefault())
}

func TestMessage_Clone_IsIndependent(t *testing.T) {
	parent := "m0"
	orig := &Message{
		ID:       "m1",
		ParentID: &parent,
		Metadata: map[string]any{"retryOfAssistantMessageId": "a0"},
		Optimistic: &OptimisticMetadata{
			Optimistic: true, CorrelationKey: "msg:user:no-parent:1000",
		},
	}

	clone := orig.Clone()
	clone.Metadata["retryOfAssistantMessageId"] = "a1"
	*clone.ParentID = "mutated"
	clone.Optimistic.Optimistic = false

	assert.Equal(t, "a0", orig.Metadata["retryOfAssistantMessageId"])
	assert.Equal(t, "m0", *orig.ParentID)
	assert.True(t, orig.Optimistic.Optimistic)
}

func TestPart_IsOptimistic(t *testing.T) {
	p := &Part{ID: "p1"}
	assert.False(t, p.IsOptimistic())

	p.Optimistic = &OptimisticMetadata{Optimistic: true}
	assert.True(t, p.IsOptimistic())
}

func TestPart_StrippedMetadata_RemovesTransientFields(t *testing.T) {
	p := &Part{Metadata: map[string]any{
		"__eventSequence":  float64(3),
		"__eventTimestamp": float64(1000),
		"custom":           "keepme",
	}}

	stripped := p.StrippedMetadata()
	assert.Equal(t, map[string]any{"custom": "keepme"}, stripped)
}

func TestPart_StrippedMetadata_NilWhenOnlyTransientFields(t *testing.T) {
	p := &Part{Metadata: map[string]any{"__eventSequence": float64(1)}}
	assert.Nil(t, p.StrippedMetadata())
}

func TestPart_StrippedMetadata_NilWhenEmpty(t *testing.T) {
	p := &Part{}
	assert.Nil(t, p.StrippedMetadata())
}

func TestPart_Clone_IsIndependent(t *testing.T) {
	out := "result"
	orig := &Part{
		ID:     "p1",
		Output: &out,
		Input:  map[string]any{"path": "a.go"},
	}

	clone := orig.Clone()
	*clone.Output = "mutated"
	clone.Input["path"] = "b.go"

	assert.Equal(t, "result", *orig.Output)
	assert.Equal(t, "a.go", orig.Input["path"])
}

func TestSessionStatus_Signature_ChangesWithAttemptOrNext(t *testing.T) {
	a := SessionStatus{Kind: SessionRetry, Attempt: 1, Next: 2000}
	b := SessionStatus{Kind: SessionRetry, Attempt: 1, Next: 2000}
	assert.Equal(t, a.Signature(), b.Signature())

	c := SessionStatus{Kind: SessionRetry, Attempt: 2, Next: 2000}
	assert.NotEqual(t, a.Signature(), c.Signature())
}

func TestSession_Clone_IsIndependent(t *testing.T) {
	orig := &Session{ID: "s1", Directory: "/tmp/proj"}
	clone := orig.Clone()
	clone.Directory = "/tmp/other"

	assert.Equal(t, "/tmp/proj", orig.Directory)
}
