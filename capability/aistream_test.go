package capability

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-ide/lumen/host"
)

func streamFixture(t *testing.T) (*API, *host.Bus) {
	t.Helper()
	f := newFixture(t, func(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
		require.Equal(t, host.CmdLLMChat, command)
		return json.RawMessage(`{"channel":"llm:test"}`), nil
	})
	api := NewBuilder(f.deps).Build("alpha")
	return api, f.bus
}

func TestStreamYieldsFragmentsInOrderThenEnds(t *testing.T) {
	api, bus := streamFixture(t)
	ctx := context.Background()

	stream, err := api.AI.Stream(ctx, map[string]any{"messages": []any{}})
	require.NoError(t, err)

	bus.Publish("llm:test", json.RawMessage(`{"choices":[{"delta":{"content":"a"}}]}`))
	bus.Publish("llm:test", json.RawMessage(`{"choices":[{"delta":{"content":"b"}}]}`))
	bus.Publish("llm:test", json.RawMessage(`"[DONE]"`))

	first, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(first), `"a"`)

	second, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(second), `"b"`)

	_, err = stream.Next(ctx)
	assert.Equal(t, io.EOF, err)

	_, err = stream.Next(ctx)
	assert.Equal(t, io.EOF, err, "a finished stream stays finished")
}

func TestStreamErrorYieldsNoFragments(t *testing.T) {
	api, bus := streamFixture(t)
	ctx := context.Background()

	stream, err := api.AI.Stream(ctx, nil)
	require.NoError(t, err)

	bus.Publish("llm:test", json.RawMessage(`{"error":"model exploded"}`))
	bus.Publish("llm:test", json.RawMessage(`"[DONE]"`))

	_, err = stream.Next(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model exploded")
}

func TestStreamDrainsBufferedFragmentsBeforeError(t *testing.T) {
	api, bus := streamFixture(t)
	ctx := context.Background()

	stream, err := api.AI.Stream(ctx, nil)
	require.NoError(t, err)

	bus.Publish("llm:test", json.RawMessage(`{"choices":[1]}`))
	bus.Publish("llm:test", json.RawMessage(`{"error":"late failure"}`))

	_, err = stream.Next(ctx)
	require.NoError(t, err, "buffered fragment is delivered before the error")

	_, err = stream.Next(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "late failure")
}

func TestStreamDropsMalformedFragments(t *testing.T) {
	api, bus := streamFixture(t)
	ctx := context.Background()

	stream, err := api.AI.Stream(ctx, nil)
	require.NoError(t, err)

	bus.Publish("llm:test", json.RawMessage(`not json at all`))
	bus.Publish("llm:test", json.RawMessage(`{"choices":["ok"]}`))
	bus.Publish("llm:test", json.RawMessage(`"[DONE]"`))

	fragment, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(fragment), "ok")

	_, err = stream.Next(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestStreamNextHonorsContextCancellation(t *testing.T) {
	api, _ := streamFixture(t)

	stream, err := api.AI.Stream(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
