package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/opencode-core/pkg/types"
)

func mustProps(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func f64(v float64) *float64 { return &v }

func TestValidate_NilEnvelope(t *testing.T) {
	assert.False(t, Validate(nil).OK)
}

func TestValidate_RequiresEventID(t *testing.T) {
	e := &Envelope{Type: ServerHeartbeat, Sequence: f64(1), Timestamp: f64(1000)}
	result := Validate(e)
	assert.False(t, result.OK)
	assert.Contains(t, result.Reason, "eventId")
}

func TestValidate_RequiresFiniteNonNegativeSequence(t *testing.T) {
	for _, seq := range []float64{-1, 1.5} {
		e := &Envelope{Type: ServerHeartbeat, EventID: "e1", Sequence: f64(seq), Timestamp: f64(1000)}
		assert.False(t, Validate(e).OK, "sequence %v should be rejected", seq)
	}
}

func TestValidate_ServerEventsNeedNoProperties(t *testing.T) {
	e := &Envelope{Type: ServerConnected, EventID: "e1", Sequence: f64(0), Timestamp: f64(0)}
	assert.True(t, Validate(e).OK)
}

func TestValidate_SessionUpdatedRequiresSessionID(t *testing.T) {
	e := &Envelope{
		Type: SessionUpdated, EventID: "e1", Sequence: f64(1), Timestamp: f64(1000),
		Properties: mustProps(t, SessionUpdatedProps{}),
	}
	result := Validate(e)
	assert.False(t, result.OK)
	assert.Contains(t, result.Reason, "sessionID")
}

func TestValidate_SessionStatusRequiresKind(t *testing.T) {
	e := &Envelope{
		Type: SessionStatusType, EventID: "e1", Sequence: f64(1), Timestamp: f64(1000),
		Properties: mustProps(t, SessionStatusProps{SessionID: "s1"}),
	}
	assert.False(t, Validate(e).OK)

	e.Properties = mustProps(t, SessionStatusProps{SessionID: "s1", Status: types.SessionStatus{Kind: types.SessionBusy}})
	assert.True(t, Validate(e).OK)
}

func TestValidate_MessageUpdatedRequiresIDAndRole(t *testing.T) {
	e := &Envelope{
		Type: MessageUpdated, EventID: "e1", Sequence: f64(1), Timestamp: f64(1000),
		Properties: mustProps(t, MessageUpdatedProps{Info: MessageInfo{SessionID: "s1"}}),
	}
	assert.False(t, Validate(e).OK)

	e.Properties = mustProps(t, MessageUpdatedProps{Info: MessageInfo{ID: "m1", Role: "user", SessionID: "s1"}})
	assert.True(t, Validate(e).OK)
}

func TestValidate_PartUpdatedRequiresIDs(t *testing.T) {
	e := &Envelope{
		Type: PartUpdated, EventID: "e1", Sequence: f64(1), Timestamp: f64(1000),
		Properties: mustProps(t, PartUpdatedProps{Part: types.Part{ID: "p1"}}),
	}
	assert.False(t, Validate(e).OK)

	e.Properties = mustProps(t, PartUpdatedProps{Part: types.Part{ID: "p1", MessageID: "m1", SessionID: "s1", Type: types.PartText}})
	assert.True(t, Validate(e).OK)
}

func TestValidate_MalformedPropertiesRejected(t *testing.T) {
	e := &Envelope{
		Type: SessionUpdated, EventID: "e1", Sequence: f64(1), Timestamp: f64(1000),
		Properties: json.RawMessage(`not json`),
	}
	result := Validate(e)
	assert.False(t, result.OK)
	assert.Contains(t, result.Reason, "malformed properties")
}

func TestValidate_UnknownTypePassesThrough(t *testing.T) {
	e := &Envelope{Type: EventType("future.event"), EventID: "e1", Sequence: f64(1), Timestamp: f64(1000)}
	assert.True(t, Validate(e).OK)
}
