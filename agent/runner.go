package agent

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/lumen-ide/lumen/chat"
	"github.com/lumen-ide/lumen/errors"
	"github.com/lumen-ide/lumen/logger"
)

// maxToolRounds bounds tool-use recursion. After the third round the
// answer is considered final whether or not the model wants more tools.
const maxToolRounds = 3

const systemPreamble = `You are Lumen's coding assistant. You can read files, list directories, search the workspace, and run commands through the provided tools. Answer in markdown. Use tools when the answer depends on workspace state; otherwise answer directly.`

// FragmentStream is a pull-based sequence of completion fragments.
// Next returns io.EOF at normal end of stream.
type FragmentStream interface {
	Next(ctx context.Context) (json.RawMessage, error)
}

// StreamOpener starts one streaming model completion.
type StreamOpener interface {
	Stream(ctx context.Context, request map[string]any) (FragmentStream, error)
}

// Runner is the built-in chat participant handler: a bounded loop of
// streaming completions and tool executions.
type Runner struct {
	opener StreamOpener
	tools  []Tool
	log    *zap.SugaredLogger
}

// NewRunner creates a runner over the given completion opener and
// toolset.
func NewRunner(opener StreamOpener, tools []Tool) *Runner {
	return &Runner{
		opener: opener,
		tools:  tools,
		log:    logger.Named("agent"),
	}
}

// Participant wraps the runner as a registrable chat participant.
func (r *Runner) Participant() chat.Participant {
	return chat.Participant{
		ID:          "lumen",
		DisplayName: "Lumen Assistant",
		Description: "Workspace-aware coding assistant",
		Handler:     r.Handle,
	}
}

// completionChunk is one streamed delta fragment.
type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Handle answers one chat request. Exactly one of stream.Error or
// stream.Done terminates the turn.
func (r *Runner) Handle(ctx context.Context, req chat.Request, stream chat.ResponseStream) error {
	history := buildHistory(req)
	stream.Status("thinking")

	for round := 0; round < maxToolRounds; round++ {
		request := map[string]any{"messages": history}
		if len(r.tools) > 0 {
			request["tools"] = schemaPayload(r.tools)
		}

		fragments, err := r.opener.Stream(ctx, request)
		if err != nil {
			stream.Error(err)
			return err
		}
		stream.Status("streaming")

		var buffer strings.Builder
		var acc ToolCallAccumulator

	consume:
		for {
			fragment, err := fragments.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				stream.Error(err)
				return err
			}

			var chunk completionChunk
			if err := json.Unmarshal(fragment, &chunk); err != nil {
				// malformed delta, dropped without ending the turn
				r.log.Warnw("Dropping malformed completion fragment",
					logger.FieldError, errors.Wrap(errors.ErrStreamProtocol, err.Error()))
				continue
			}

			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					buffer.WriteString(choice.Delta.Content)
					// forwarded immediately so the UI sees partial output
					stream.Markdown(choice.Delta.Content)
				}
				for _, tc := range choice.Delta.ToolCalls {
					acc.Merge(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
				}
				if choice.FinishReason == "tool_calls" {
					break consume
				}
			}
		}

		calls := acc.Calls()
		if len(calls) == 0 {
			stream.Done()
			return nil
		}

		history = append(history, assistantToolMessage(buffer.String(), calls))
		for _, call := range calls {
			stream.ToolCall(chat.ToolCall{
				Name:   call.FunctionName,
				Args:   call.ArgumentsText,
				Status: "calling",
			})

			result, err := r.executeTool(ctx, call)
			if err != nil {
				// fed back to the model as the tool's result so it can react
				result = "tool error: " + err.Error()
				stream.ToolCall(chat.ToolCall{
					Name:   call.FunctionName,
					Args:   call.ArgumentsText,
					Status: "error",
					Result: err.Error(),
				})
			} else {
				stream.ToolCall(chat.ToolCall{
					Name:   call.FunctionName,
					Args:   call.ArgumentsText,
					Status: "success",
					Result: summarize(result),
				})
			}

			history = append(history, map[string]any{
				"role":         "tool",
				"tool_call_id": call.ID,
				"content":      result,
			})
		}
	}

	// round cap reached, the last streamed text stands as the answer
	stream.Done()
	return nil
}

func (r *Runner) executeTool(ctx context.Context, call AccumulatedCall) (string, error) {
	tool, ok := findTool(r.tools, call.FunctionName)
	if !ok {
		return "", errors.Wrapf(errors.ErrToolExecution, "unknown tool %s", call.FunctionName)
	}
	arguments := call.ArgumentsText
	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}
	result, err := tool.Execute(ctx, json.RawMessage(arguments))
	if err != nil {
		return "", errors.Wrap(errors.ErrToolExecution, err.Error())
	}
	return result, nil
}

// buildHistory maps the request into the completion wire shape: fixed
// system preamble, the caller's prior turns, then the new prompt last.
func buildHistory(req chat.Request) []map[string]any {
	history := []map[string]any{
		{"role": "system", "content": systemPreamble},
	}
	for _, turn := range req.History {
		role := "user"
		if turn.Role == "agent" || turn.Role == "assistant" {
			role = "assistant"
		}
		history = append(history, map[string]any{"role": role, "content": turn.Content})
	}
	history = append(history, map[string]any{"role": "user", "content": req.Prompt})
	return history
}

func assistantToolMessage(content string, calls []AccumulatedCall) map[string]any {
	toolCalls := make([]map[string]any, 0, len(calls))
	for _, call := range calls {
		toolCalls = append(toolCalls, map[string]any{
			"id":   call.ID,
			"type": "function",
			"function": map[string]any{
				"name":      call.FunctionName,
				"arguments": call.ArgumentsText,
			},
		})
	}
	msg := map[string]any{"role": "assistant", "tool_calls": toolCalls}
	if content != "" {
		msg["content"] = content
	} else {
		msg["content"] = nil
	}
	return msg
}

func summarize(result string) string {
	const limit = 200
	if len(result) <= limit {
		return result
	}
	return result[:limit] + "…"
}
