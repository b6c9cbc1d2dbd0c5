package correlate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/opencode-core/pkg/types"
)

func optimisticUserMessage(id, parentID string, ts int64) *types.Message {
	return &types.Message{
		ID:       id,
		Role:     types.RoleUser,
		ParentID: &parentID,
		Optimistic: &types.OptimisticMetadata{
			Optimistic:     true,
			Source:         "useChat",
			CorrelationKey: "k1",
			Timestamp:      ts,
		},
	}
}

func TestMatchMessage_ExactID(t *testing.T) {
	parentID := "u1"
	opt := optimisticUserMessage("m1", parentID, 1000)
	canon := &types.Message{ID: "m1", Role: types.RoleUser, ParentID: &parentID, Time: types.MessageTime{Created: 1500}}

	m := MatchMessage(canon, []*types.Message{opt}, 0)
	require.NotNil(t, m.Optimistic)
	assert.Equal(t, StrategyExact, m.Strategy)
}

func TestMatchMessage_CorrelationWithinWindow(t *testing.T) {
	parentID := "u1"
	opt := optimisticUserMessage("opt-1", parentID, 1000)
	canon := &types.Message{ID: "canon-1", Role: types.RoleUser, ParentID: &parentID, Time: types.MessageTime{Created: 1000 + 500}}

	m := MatchMessage(canon, []*types.Message{opt}, 30_000)
	require.NotNil(t, m.Optimistic)
	assert.Equal(t, StrategyCorrelation, m.Strategy)
	assert.Equal(t, "opt-1", m.Optimistic.ID)
}

func TestMatchMessage_OutsideWindowNoMatch(t *testing.T) {
	parentID := "u1"
	opt := optimisticUserMessage("opt-1", parentID, 1000)
	canon := &types.Message{ID: "canon-1", Role: types.RoleUser, ParentID: &parentID, Time: types.MessageTime{Created: 1000 + 60_000}}

	m := MatchMessage(canon, []*types.Message{opt}, 30_000)
	assert.Nil(t, m.Optimistic)
}

func TestReconcileMessages_ExactMatchNotRemoved(t *testing.T) {
	parentID := "u1"
	opt := optimisticUserMessage("m1", parentID, 1000)
	canon := &types.Message{ID: "m1", Role: types.RoleUser, ParentID: &parentID, Time: types.MessageTime{Created: 1500}}

	result := ReconcileMessages([]*types.Message{canon}, []*types.Message{opt}, 0, 2000)

	assert.Equal(t, 1, result.Stats.Matched)
	assert.Empty(t, result.ToRemove, "exact-id matches are not removed")
	require.Len(t, result.ToUpsert, 1)
	assert.Nil(t, result.ToUpsert[0].Optimistic)
}

func TestReconcileMessages_CorrelationMatchRemoved(t *testing.T) {
	parentID := "u1"
	opt := optimisticUserMessage("opt-1", parentID, 1000)
	canon := &types.Message{ID: "canon-1", Role: types.RoleUser, ParentID: &parentID, Time: types.MessageTime{Created: 1500}}

	result := ReconcileMessages([]*types.Message{canon}, []*types.Message{opt}, 30_000, 2000)

	assert.Equal(t, []string{"opt-1"}, result.ToRemove)
	assert.Equal(t, 1, result.Stats.Strategy[StrategyCorrelation])
}

func TestReconcilePart_ToolCallByCallID(t *testing.T) {
	opt := &types.Part{ID: "p-opt", MessageID: "m1", Type: types.PartToolCall, CallID: "c1",
		Optimistic: &types.OptimisticMetadata{Optimistic: true, Timestamp: 1000}}
	canon := &types.Part{ID: "p-canon", MessageID: "m1", Type: types.PartToolCall, CallID: "c1"}

	r := ReconcilePart(canon, []*types.Part{opt})
	assert.True(t, r.Matched)
	assert.Equal(t, StrategyCorrelation, r.Strategy)
	assert.Equal(t, []string{"p-opt"}, r.ToRemove)
}

func TestReconcilePart_NoMatch(t *testing.T) {
	canon := &types.Part{ID: "p-canon", MessageID: "m1", Type: types.PartText}
	r := ReconcilePart(canon, nil)
	assert.False(t, r.Matched)
	assert.Empty(t, r.ToRemove)
}
