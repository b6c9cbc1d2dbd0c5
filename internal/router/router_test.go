package router

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/opencode-core/internal/event"
	"github.com/opencode-ai/opencode-core/internal/permission"
	"github.com/opencode-ai/opencode-core/internal/store"
	"github.com/opencode-ai/opencode-core/internal/wire"
	"github.com/opencode-ai/opencode-core/pkg/types"
)

func props(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func newTestRouter(now int64) (*Router, *store.Store) {
	st := store.New()
	r := New(Config{Now: func() int64 { return now }}, st, permission.NewQueue(), nil)
	return r, st
}

func TestRouter_SessionUpdatedCreatesSession(t *testing.T) {
	r, st := newTestRouter(1000)

	e := &wire.Envelope{
		Type:       wire.SessionUpdated,
		Properties: props(t, wire.SessionUpdatedProps{SessionID: "s1", Info: &wire.SessionUpdatedInfo{Directory: "/tmp/proj"}}),
	}
	r.ApplyBatch([]*wire.Envelope{e})

	sess, err := st.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/proj", sess.Directory)
}

func TestRouter_SessionStatusRetryEmitsSignal(t *testing.T) {
	r, st := newTestRouter(1000)
	st.UpsertSession(&types.Session{ID: "s1", Directory: "d"})

	var signaled bool
	unsub := r.bus.SubscribeAll(func(ev event.Event) {
		if ev.Type == event.RetrySignal {
			signaled = true
		}
	})
	defer unsub()

	e := &wire.Envelope{
		Type:       wire.SessionStatusType,
		Properties: props(t, wire.SessionStatusProps{SessionID: "s1", Status: types.SessionStatus{Kind: types.SessionRetry, Attempt: 1, Next: 2000}}),
	}
	r.ApplyBatch([]*wire.Envelope{e})

	sess, err := st.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionRetry, sess.Status.Kind)
	assert.True(t, signaled, "a retry status change should publish a retry signal")
}

func TestRouter_RetryIdleTransitionEmitsRecovered(t *testing.T) {
	r, st := newTestRouter(1000)
	st.UpsertSession(&types.Session{ID: "s1", Status: types.SessionStatus{Kind: types.SessionRetry, Attempt: 1}})
	st.UpsertMessage(&types.Message{ID: "m1", SessionID: "s1", Role: types.RoleAssistant, Time: types.MessageTime{Created: 1000}})

	var recovered, exhausted bool
	unsub := r.bus.SubscribeAll(func(ev event.Event) {
		switch ev.Type {
		case event.RetryRecovered:
			recovered = true
		case event.RetryExhausted:
			exhausted = true
		}
	})
	defer unsub()

	e := &wire.Envelope{
		Type:       wire.SessionStatusType,
		Properties: props(t, wire.SessionStatusProps{SessionID: "s1", Status: types.SessionStatus{Kind: types.SessionIdle}}),
	}
	r.ApplyBatch([]*wire.Envelope{e})

	assert.True(t, recovered, "a clean retry->idle transition should emit RetryRecovered")
	assert.False(t, exhausted)
}

func TestRouter_RetryIdleTransitionEmitsExhausted(t *testing.T) {
	r, st := newTestRouter(1000)
	st.UpsertSession(&types.Session{ID: "s1", Status: types.SessionStatus{Kind: types.SessionRetry, Attempt: 3}})
	st.UpsertMessage(&types.Message{
		ID: "m1", SessionID: "s1", Role: types.RoleAssistant, Time: types.MessageTime{Created: 1000},
		Error: &types.MessageError{Type: "api", Message: "rate limited"},
	})

	var recovered, exhausted bool
	unsub := r.bus.SubscribeAll(func(ev event.Event) {
		switch ev.Type {
		case event.RetryRecovered:
			recovered = true
		case event.RetryExhausted:
			exhausted = true
		}
	})
	defer unsub()

	e := &wire.Envelope{
		Type:       wire.SessionStatusType,
		Properties: props(t, wire.SessionStatusProps{SessionID: "s1", Status: types.SessionStatus{Kind: types.SessionIdle}}),
	}
	r.ApplyBatch([]*wire.Envelope{e})

	assert.True(t, exhausted, "a failed retry->idle transition should emit RetryExhausted")
	assert.False(t, recovered)
}

func TestRouter_MessageUpdatedCreatesStubSession(t *testing.T) {
	r, st := newTestRouter(1000)

	e := &wire.Envelope{
		Type: wire.MessageUpdated,
		Properties: props(t, wire.MessageUpdatedProps{Info: wire.MessageInfo{
			ID: "m1", Role: "user", SessionID: "s1",
		}}),
	}
	r.ApplyBatch([]*wire.Envelope{e})

	assert.True(t, st.HasSession("s1"))
	msg, err := st.GetMessage("m1")
	require.NoError(t, err)
	assert.Equal(t, types.RoleUser, msg.Role)
}

func TestRouter_MessageUpdatedReconcilesOptimistic(t *testing.T) {
	r, st := newTestRouter(1000)
	st.UpsertSession(&types.Session{ID: "s1"})

	optMsg := &types.Message{
		ID: "opt-1", SessionID: "s1", Role: types.RoleUser,
		Time:       types.MessageTime{Created: 995},
		Optimistic: &types.OptimisticMetadata{Optimistic: true, Timestamp: 995},
	}
	st.UpsertMessage(optMsg)
	optPart := &types.Part{ID: "opt-part-1", MessageID: "opt-1", SessionID: "s1", Type: types.PartText, Text: "hi"}
	require.NoError(t, st.UpsertPart(optPart))

	e := &wire.Envelope{
		Type: wire.MessageUpdated,
		Properties: props(t, wire.MessageUpdatedProps{Info: wire.MessageInfo{
			ID: "canon-1", Role: "user", SessionID: "s1",
			Time: &struct {
				Created   int64  `json:"created"`
				Completed *int64 `json:"completed,omitempty"`
			}{Created: 1000},
		}}),
	}
	r.ApplyBatch([]*wire.Envelope{e})

	_, err := st.GetMessage("opt-1")
	assert.Error(t, err, "optimistic message should be removed after reconciliation")

	canon, err := st.GetMessage("canon-1")
	require.NoError(t, err)
	assert.False(t, canon.IsOptimistic())

	repointed, err := st.GetPart("opt-part-1")
	require.NoError(t, err)
	assert.Equal(t, "canon-1", repointed.MessageID, "part should be repointed to the canonical message")
}

func TestRouter_PartUpdatedDefersWhenMessageMissing(t *testing.T) {
	r, st := newTestRouter(1000)
	st.UpsertSession(&types.Session{ID: "s1"})

	partEnv := &wire.Envelope{
		Type: wire.PartUpdated,
		Properties: props(t, wire.PartUpdatedProps{Part: types.Part{
			ID: "p1", MessageID: "m-not-yet", SessionID: "s1", Type: types.PartText, Text: "hello",
		}}),
		Sequence: f64ptr(1),
	}
	r.ApplyBatch([]*wire.Envelope{partEnv})

	_, err := st.GetPart("p1")
	assert.Error(t, err, "part should be deferred, not stored, while its message is missing")

	msgEnv := &wire.Envelope{
		Type: wire.MessageUpdated,
		Properties: props(t, wire.MessageUpdatedProps{Info: wire.MessageInfo{
			ID: "m-not-yet", Role: "assistant", SessionID: "s1",
		}}),
	}
	r.ApplyBatch([]*wire.Envelope{msgEnv})

	flushed, err := st.GetPart("p1")
	require.NoError(t, err, "deferred part should be flushed once its message arrives")
	assert.Equal(t, "hello", flushed.Text)
}

func TestRouter_PartUpdatedIdempotentNoOp(t *testing.T) {
	r, st := newTestRouter(1000)
	st.UpsertSession(&types.Session{ID: "s1"})
	st.UpsertMessage(&types.Message{ID: "m1", SessionID: "s1", Role: types.RoleAssistant})

	mkEnv := func(seq float64) *wire.Envelope {
		return &wire.Envelope{
			Type: wire.PartUpdated,
			Properties: props(t, wire.PartUpdatedProps{Part: types.Part{
				ID: "p1", MessageID: "m1", SessionID: "s1", Type: types.PartText, Text: "hello",
			}}),
			Sequence: f64ptr(seq),
		}
	}

	r.ApplyBatch([]*wire.Envelope{mkEnv(1)})
	first, err := st.GetPart("p1")
	require.NoError(t, err)

	r.ApplyBatch([]*wire.Envelope{mkEnv(2)})
	second, err := st.GetPart("p1")
	require.NoError(t, err)

	assert.Equal(t, first.Text, second.Text)
}

func TestRouter_PermissionAskedQueuesRequest(t *testing.T) {
	r, st := newTestRouter(1000)
	st.UpsertSession(&types.Session{ID: "s1"})

	e := &wire.Envelope{
		Type: wire.PermissionAsked,
		Properties: props(t, wire.PermissionAskedProps{
			ID: "perm-1", SessionID: "s1", Permission: "bash.exec",
		}),
	}
	r.ApplyBatch([]*wire.Envelope{e})

	perms, _ := r.PermissionQueue().PendingForSession("s1")
	require.Len(t, perms, 1)
	assert.Equal(t, "perm-1", perms[0].ID)
}

func TestRouter_UnknownEventTypeDropped(t *testing.T) {
	r, st := newTestRouter(1000)
	e := &wire.Envelope{Type: wire.ServerHeartbeat}
	assert.NotPanics(t, func() { r.ApplyBatch([]*wire.Envelope{e}) })
	_ = st
}

func TestRouter_OrphanCleanupOnIdleRemovesStaleOptimistics(t *testing.T) {
	r, st := newTestRouter(100_000)
	st.UpsertSession(&types.Session{ID: "s1"})

	st.UpsertMessage(&types.Message{
		ID: "opt-old", SessionID: "s1", Role: types.RoleUser,
		Optimistic: &types.OptimisticMetadata{Optimistic: true, Timestamp: 1000},
	})

	e := &wire.Envelope{
		Type:       wire.SessionStatusType,
		Properties: props(t, wire.SessionStatusProps{SessionID: "s1", Status: types.SessionStatus{Kind: types.SessionIdle}}),
	}
	r.ApplyBatch([]*wire.Envelope{e})

	_, err := st.GetMessage("opt-old")
	assert.Error(t, err, "stale optimistic message should be cleaned up once the session goes idle")
}

func f64ptr(v float64) *float64 { return &v }
