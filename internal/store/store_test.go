package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/opencode-core/pkg/types"
)

func TestStore_UpsertAndGetSession(t *testing.T) {
	s := New()
	s.UpsertSession(&types.Session{ID: "s1", Directory: "/tmp"})

	got, err := s.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, "/tmp", got.Directory)
}

func TestStore_UpsertPartRequiresMessage(t *testing.T) {
	s := New()
	err := s.UpsertPart(&types.Part{ID: "p1", MessageID: "missing", SessionID: "s1"})
	assert.ErrorIs(t, err, ErrNoSuchMessage)
}

func TestStore_RemoveMessageCascadesParts(t *testing.T) {
	s := New()
	s.UpsertSession(&types.Session{ID: "s1"})
	s.UpsertMessage(&types.Message{ID: "m1", SessionID: "s1", Role: types.RoleUser})
	require.NoError(t, s.UpsertPart(&types.Part{ID: "p1", MessageID: "m1", SessionID: "s1", Type: types.PartText}))
	require.NoError(t, s.UpsertPart(&types.Part{ID: "p2", MessageID: "m1", SessionID: "s1", Type: types.PartText}))

	s.RemoveMessage("m1")

	assert.Empty(t, s.ListPartsByMessage("m1"))
	_, err := s.GetPart("p1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetPart("p2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RepointPartMovesUnderNewMessage(t *testing.T) {
	s := New()
	s.UpsertSession(&types.Session{ID: "s1"})
	s.UpsertMessage(&types.Message{ID: "mopt", SessionID: "s1", Role: types.RoleAssistant})
	s.UpsertMessage(&types.Message{ID: "mcanon", SessionID: "s1", Role: types.RoleAssistant})
	require.NoError(t, s.UpsertPart(&types.Part{ID: "p1", MessageID: "mopt", SessionID: "s1", Type: types.PartText, Text: "hi"}))

	require.NoError(t, s.RepointPart("p1", "mcanon"))

	assert.Empty(t, s.ListPartsByMessage("mopt"))
	parts := s.ListPartsByMessage("mcanon")
	require.Len(t, parts, 1)
	assert.Equal(t, "hi", parts[0].Text)
}

func TestStore_DeleteSessionCascades(t *testing.T) {
	s := New()
	s.UpsertSession(&types.Session{ID: "s1"})
	s.UpsertMessage(&types.Message{ID: "m1", SessionID: "s1", Role: types.RoleUser})
	require.NoError(t, s.UpsertPart(&types.Part{ID: "p1", MessageID: "m1", SessionID: "s1", Type: types.PartText}))

	s.DeleteSession("s1")

	_, err := s.GetSession("s1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetPart("p1")
	assert.ErrorIs(t, err, ErrNotFound)
}
