package agent

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-ide/lumen/chat"
	"github.com/lumen-ide/lumen/errors"
)

type scriptedStream struct {
	fragments []string
	err       error
	pos       int
}

func (s *scriptedStream) Next(ctx context.Context) (json.RawMessage, error) {
	if s.pos < len(s.fragments) {
		fragment := s.fragments[s.pos]
		s.pos++
		return json.RawMessage(fragment), nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

type scriptedOpener struct {
	streams  []*scriptedStream
	requests []map[string]any
}

func (o *scriptedOpener) Stream(ctx context.Context, request map[string]any) (FragmentStream, error) {
	o.requests = append(o.requests, request)
	if len(o.streams) == 0 {
		return &scriptedStream{}, nil
	}
	stream := o.streams[0]
	o.streams = o.streams[1:]
	return stream, nil
}

type recordingStream struct {
	statuses  []string
	markdown  []string
	toolCalls []chat.ToolCall
	errs      []error
	doneCount int
}

func (r *recordingStream) Status(status string)         { r.statuses = append(r.statuses, status) }
func (r *recordingStream) Markdown(fragment string)     { r.markdown = append(r.markdown, fragment) }
func (r *recordingStream) ToolCall(call chat.ToolCall)  { r.toolCalls = append(r.toolCalls, call) }
func (r *recordingStream) Error(err error)              { r.errs = append(r.errs, err) }
func (r *recordingStream) Done()                        { r.doneCount++ }

func textFragment(content string) string {
	return `{"choices":[{"delta":{"content":` + mustJSON(content) + `}}]}`
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func toolFragment(index int, id, name, args string) string {
	return `{"choices":[{"delta":{"tool_calls":[{"index":` + mustJSON(index) + `,"id":` + mustJSON(id) +
		`,"function":{"name":` + mustJSON(name) + `,"arguments":` + mustJSON(args) + `}}]},"finish_reason":"tool_calls"}]}`
}

func echoTool(executed *[]string, fail bool) Tool {
	return Tool{
		Definition: mcp.NewTool("echo",
			mcp.WithDescription("Echo the input"),
			mcp.WithString("value", mcp.Required()),
		),
		Execute: func(ctx context.Context, arguments json.RawMessage) (string, error) {
			*executed = append(*executed, string(arguments))
			if fail {
				return "", errors.New("echo broke")
			}
			return "echoed", nil
		},
	}
}

func TestRunnerStreamsFinalAnswer(t *testing.T) {
	opener := &scriptedOpener{streams: []*scriptedStream{
		{fragments: []string{textFragment("Hello"), textFragment(" world")}},
	}}
	runner := NewRunner(opener, nil)
	stream := &recordingStream{}

	err := runner.Handle(context.Background(), chat.Request{Prompt: "hi"}, stream)

	require.NoError(t, err)
	assert.Equal(t, []string{"thinking", "streaming"}, stream.statuses)
	assert.Equal(t, []string{"Hello", " world"}, stream.markdown, "fragments forward incrementally in order")
	assert.Equal(t, 1, stream.doneCount)
	assert.Empty(t, stream.errs)
	require.Len(t, opener.requests, 1)
}

func TestRunnerHistoryShape(t *testing.T) {
	opener := &scriptedOpener{streams: []*scriptedStream{{fragments: []string{textFragment("ok")}}}}
	runner := NewRunner(opener, nil)

	req := chat.Request{
		Prompt: "and now?",
		History: []chat.Message{
			{Role: "user", Content: "first question"},
			{Role: "agent", Content: "first answer"},
		},
	}
	require.NoError(t, runner.Handle(context.Background(), req, &recordingStream{}))

	messages := opener.requests[0]["messages"].([]map[string]any)
	require.Len(t, messages, 4)
	assert.Equal(t, "system", messages[0]["role"])
	assert.Equal(t, "user", messages[1]["role"])
	assert.Equal(t, "assistant", messages[2]["role"])
	assert.Equal(t, "user", messages[3]["role"])
	assert.Equal(t, "and now?", messages[3]["content"])
}

func TestRunnerExecutesToolAndContinues(t *testing.T) {
	opener := &scriptedOpener{streams: []*scriptedStream{
		{fragments: []string{toolFragment(0, "call_1", "echo", `{"value":"x"}`)}},
		{fragments: []string{textFragment("the echo said: echoed")}},
	}}
	var executed []string
	runner := NewRunner(opener, []Tool{echoTool(&executed, false)})
	stream := &recordingStream{}

	err := runner.Handle(context.Background(), chat.Request{Prompt: "echo x"}, stream)

	require.NoError(t, err)
	assert.Equal(t, []string{`{"value":"x"}`}, executed)
	require.Len(t, stream.toolCalls, 2)
	assert.Equal(t, "calling", stream.toolCalls[0].Status)
	assert.Equal(t, "success", stream.toolCalls[1].Status)
	assert.Equal(t, "echoed", stream.toolCalls[1].Result)
	assert.Equal(t, 1, stream.doneCount)
	assert.Empty(t, stream.errs)

	// second round carries the assistant tool-call turn and the tool result
	require.Len(t, opener.requests, 2)
	messages := opener.requests[1]["messages"].([]map[string]any)
	last := messages[len(messages)-1]
	assert.Equal(t, "tool", last["role"])
	assert.Equal(t, "call_1", last["tool_call_id"])
	assert.Equal(t, "echoed", last["content"])
	assistant := messages[len(messages)-2]
	assert.Equal(t, "assistant", assistant["role"])

	// the declared tool schema rides along on every request
	assert.NotNil(t, opener.requests[0]["tools"])
}

func TestRunnerFeedsToolErrorBackToModel(t *testing.T) {
	opener := &scriptedOpener{streams: []*scriptedStream{
		{fragments: []string{toolFragment(0, "call_1", "echo", `{}`)}},
		{fragments: []string{textFragment("sorry")}},
	}}
	var executed []string
	runner := NewRunner(opener, []Tool{echoTool(&executed, true)})
	stream := &recordingStream{}

	err := runner.Handle(context.Background(), chat.Request{Prompt: "echo"}, stream)

	require.NoError(t, err, "a tool failure is not a handler failure")
	require.Len(t, stream.toolCalls, 2)
	assert.Equal(t, "error", stream.toolCalls[1].Status)
	assert.Contains(t, stream.toolCalls[1].Result, "echo broke")
	assert.Equal(t, 1, stream.doneCount)

	messages := opener.requests[1]["messages"].([]map[string]any)
	last := messages[len(messages)-1]
	assert.Equal(t, "tool", last["role"])
	assert.Contains(t, last["content"], "echo broke")
}

func TestRunnerStopsAtRoundCap(t *testing.T) {
	toolOnly := func() *scriptedStream {
		return &scriptedStream{fragments: []string{toolFragment(0, "call_1", "echo", `{}`)}}
	}
	opener := &scriptedOpener{streams: []*scriptedStream{toolOnly(), toolOnly(), toolOnly(), toolOnly()}}
	var executed []string
	runner := NewRunner(opener, []Tool{echoTool(&executed, false)})
	stream := &recordingStream{}

	err := runner.Handle(context.Background(), chat.Request{Prompt: "loop"}, stream)

	require.NoError(t, err)
	assert.Len(t, opener.requests, 3, "the loop is bounded")
	assert.Equal(t, 1, stream.doneCount, "hitting the cap is completion, not an error")
	assert.Empty(t, stream.errs)
}

func TestRunnerStreamFailureErrorsExactlyOnce(t *testing.T) {
	opener := &scriptedOpener{streams: []*scriptedStream{
		{fragments: []string{textFragment("partial")}, err: errors.New("connection dropped")},
	}}
	runner := NewRunner(opener, nil)
	stream := &recordingStream{}

	err := runner.Handle(context.Background(), chat.Request{Prompt: "hi"}, stream)

	require.Error(t, err)
	assert.Len(t, stream.errs, 1)
	assert.Zero(t, stream.doneCount, "never both done and error")
	assert.Equal(t, []string{"partial"}, stream.markdown)
}

func TestRunnerDropsMalformedFragments(t *testing.T) {
	opener := &scriptedOpener{streams: []*scriptedStream{
		{fragments: []string{"not json", textFragment("fine")}},
	}}
	runner := NewRunner(opener, nil)
	stream := &recordingStream{}

	require.NoError(t, runner.Handle(context.Background(), chat.Request{Prompt: "hi"}, stream))
	assert.Equal(t, []string{"fine"}, stream.markdown)
	assert.Equal(t, 1, stream.doneCount)
}

func TestRunnerUnknownToolReportsError(t *testing.T) {
	opener := &scriptedOpener{streams: []*scriptedStream{
		{fragments: []string{toolFragment(0, "call_1", "ghost", `{}`)}},
		{fragments: []string{textFragment("recovered")}},
	}}
	runner := NewRunner(opener, []Tool{})
	stream := &recordingStream{}

	require.NoError(t, runner.Handle(context.Background(), chat.Request{Prompt: "x"}, stream))
	require.Len(t, stream.toolCalls, 2)
	assert.Equal(t, "error", stream.toolCalls[1].Status)
	assert.Contains(t, stream.toolCalls[1].Result, "unknown tool")
}
