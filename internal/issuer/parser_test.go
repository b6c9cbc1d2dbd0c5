package issuer

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamReader_ParsesAllEventTypes(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"text-delta","id":"s1","delta":"Hel"}`,
		"",
		`data: {"type":"text-delta","id":"s1","delta":"lo"}`,
		"",
		`data: {"type":"data-thought","id":"s1","data":{"text":"thinking...","status":"thinking"}}`,
		"",
		`data: {"type":"data-tool-call","id":"s1","data":{"toolCallId":"c1","toolName":"read_file","args":{"path":"a.go"}}}`,
		"",
		`data: {"type":"data-tool-result","id":"s1","data":{"toolCallId":"c1","result":"file contents"}}`,
		"",
		`data: {"type":"finish","finishReason":"stop"}`,
		"",
	}, "\n")

	r := NewStreamReader(strings.NewReader(body))
	ctx := context.Background()

	ev, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventTextDelta, ev.Type)
	assert.Equal(t, "Hel", ev.Delta)

	ev, err = r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "lo", ev.Delta)

	ev, err = r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventThought, ev.Type)
	assert.Equal(t, "thinking", ev.ThoughtStatus)

	ev, err = r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventToolCall, ev.Type)
	assert.Equal(t, "c1", ev.ToolCallID)
	assert.Equal(t, "read_file", ev.ToolName)

	ev, err = r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventToolResult, ev.Type)
	assert.Equal(t, "file contents", ev.ToolResult)

	ev, err = r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventFinish, ev.Type)
	assert.Equal(t, "stop", ev.FinishReason)

	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamReader_SkipsMalformedLines(t *testing.T) {
	body := strings.Join([]string{
		`data: not json at all`,
		"",
		`data: {"type":"finish","finishReason":"stop"}`,
		"",
	}, "\n")

	r := NewStreamReader(strings.NewReader(body))
	ev, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EventFinish, ev.Type)
}

func TestStreamReader_SkipsUnknownType(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"some-future-event"}`,
		"",
		`data: {"type":"finish","finishReason":"stop"}`,
		"",
	}, "\n")

	r := NewStreamReader(strings.NewReader(body))
	ev, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EventFinish, ev.Type)
}

func TestStreamReader_RespectsContextCancellation(t *testing.T) {
	r := NewStreamReader(strings.NewReader(`data: {"type":"finish","finishReason":"stop"}` + "\n\n"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
