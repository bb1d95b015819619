package capability

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-ide/lumen/errors"
	"github.com/lumen-ide/lumen/host"
)

func TestDispatchRegisterAndExecuteCommand(t *testing.T) {
	f := newFixture(t, nil)
	api := NewBuilder(f.deps).Build("alpha")

	api.SetGuestInvoker(func(ctx context.Context, export string, args json.RawMessage) (json.RawMessage, error) {
		require.Equal(t, "on_hello", export)
		return json.RawMessage(`"hello from guest"`), nil
	})

	_, err := api.Dispatch(context.Background(), "commands.register",
		json.RawMessage(`{"id":"alpha.hello","title":"Hello","callback":"on_hello"}`))
	require.NoError(t, err)

	result, err := api.Dispatch(context.Background(), "commands.execute",
		json.RawMessage(`{"id":"alpha.hello"}`))
	require.NoError(t, err)
	assert.Contains(t, string(result), "hello from guest")
}

func TestDispatchCallbackWinsOverHandler(t *testing.T) {
	f := newFixture(t, nil)
	api := NewBuilder(f.deps).Build("alpha")

	var invoked string
	api.SetGuestInvoker(func(ctx context.Context, export string, args json.RawMessage) (json.RawMessage, error) {
		invoked = export
		return nil, nil
	})

	_, err := api.Dispatch(context.Background(), "commands.register",
		json.RawMessage(`{"id":"alpha.both","callback":"cb","handler":"h"}`))
	require.NoError(t, err)

	_, err = f.commands.Execute(context.Background(), "alpha.both", nil)
	require.NoError(t, err)
	assert.Equal(t, "cb", invoked)
}

func TestDispatchRegisterWithoutCallbackFails(t *testing.T) {
	f := newFixture(t, nil)
	api := NewBuilder(f.deps).Build("alpha")

	_, err := api.Dispatch(context.Background(), "commands.register",
		json.RawMessage(`{"id":"alpha.broken"}`))
	assert.Error(t, err)
}

func TestDispatchUnknownMethod(t *testing.T) {
	f := newFixture(t, nil)
	api := NewBuilder(f.deps).Build("alpha")

	_, err := api.Dispatch(context.Background(), "nosuch.method", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestDispatchStorageRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	api := NewBuilder(f.deps).Build("alpha")

	_, err := api.Dispatch(context.Background(), "storage.set",
		json.RawMessage(`{"key":"theme","value":"dark"}`))
	require.NoError(t, err)

	result, err := api.Dispatch(context.Background(), "storage.get",
		json.RawMessage(`{"key":"theme"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"dark"}`, string(result))

	got, err := f.settings.Get("plugin:alpha:theme")
	require.NoError(t, err)
	assert.Equal(t, "dark", got)
}

func TestDispatchWindowOpenTab(t *testing.T) {
	f := newFixture(t, nil)
	api := NewBuilder(f.deps).Build("alpha")

	result, err := api.Dispatch(context.Background(), "window.openTab",
		json.RawMessage(`{"title":"Preview"}`))
	require.NoError(t, err)

	var p struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(result, &p))
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, []string{p.ID}, f.contrib.Snapshot("alpha").OpenedTabs)
	require.Len(t, f.openedTabs, 1)
	assert.Equal(t, "Preview", f.openedTabs[0].Title)
}

func TestDispatchWatcherOverBoundary(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
		switch command {
		case host.CmdWatchPath:
			return json.RawMessage(`{"channel":"fs:alpha"}`), nil
		case host.CmdUnwatchPath:
			return nil, nil
		default:
			return nil, errors.NewHostCallError(errors.New("unexpected command"), command)
		}
	})
	api := NewBuilder(f.deps).Build("alpha")
	ctx := context.Background()

	result, err := api.Dispatch(ctx, "workspace.watch", json.RawMessage(`{"path":"/src"}`))
	require.NoError(t, err)
	var started struct {
		Watch string `json:"watch"`
	}
	require.NoError(t, json.Unmarshal(result, &started))

	f.bus.Publish("fs:alpha", json.RawMessage(`{"op":"create","path":"/src/new.go"}`))

	next, err := api.Dispatch(ctx, "workspace.nextEvent", json.RawMessage(`{"watch":"`+started.Watch+`"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":{"op":"create","path":"/src/new.go"}}`, string(next))

	next, err = api.Dispatch(ctx, "workspace.nextEvent", json.RawMessage(`{"watch":"`+started.Watch+`"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":null}`, string(next))

	_, err = api.Dispatch(ctx, "workspace.unwatch", json.RawMessage(`{"watch":"`+started.Watch+`"}`))
	require.NoError(t, err)
	assert.Equal(t, 0, f.bus.SubscriberCount("fs:alpha"))

	_, err = api.Dispatch(ctx, "workspace.nextEvent", json.RawMessage(`{"watch":"`+started.Watch+`"}`))
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestDispatchStreamOverBoundary(t *testing.T) {
	api, bus := streamFixture(t)
	ctx := context.Background()

	result, err := api.Dispatch(ctx, "ai.stream", json.RawMessage(`{"request":{"messages":[]}}`))
	require.NoError(t, err)
	var started struct {
		Stream string `json:"stream"`
	}
	require.NoError(t, json.Unmarshal(result, &started))

	bus.Publish("llm:test", json.RawMessage(`{"choices":["x"]}`))
	bus.Publish("llm:test", json.RawMessage(`"[DONE]"`))

	next, err := api.Dispatch(ctx, "ai.next", json.RawMessage(`{"stream":"`+started.Stream+`"}`))
	require.NoError(t, err)
	assert.Contains(t, string(next), `"x"`)

	next, err = api.Dispatch(ctx, "ai.next", json.RawMessage(`{"stream":"`+started.Stream+`"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"done":true}`, string(next))

	_, err = api.Dispatch(ctx, "ai.next", json.RawMessage(`{"stream":"`+started.Stream+`"}`))
	assert.True(t, errors.Is(err, errors.ErrNotFound), "a finished stream is removed from the table")
}
