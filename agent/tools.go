package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lumen-ide/lumen/errors"
	"github.com/lumen-ide/lumen/host"
)

// Tool pairs a declared schema with its executor. Execute returns the
// result text fed back to the model.
type Tool struct {
	Definition mcp.Tool
	Execute    func(ctx context.Context, arguments json.RawMessage) (string, error)
}

// schemaPayload renders the tools in the wire shape the completion
// endpoint expects.
func schemaPayload(tools []Tool) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Definition.Name,
				"description": tool.Definition.Description,
				"parameters":  tool.Definition.InputSchema,
			},
		})
	}
	return out
}

func findTool(tools []Tool, name string) (Tool, bool) {
	for _, tool := range tools {
		if tool.Definition.Name == name {
			return tool, true
		}
	}
	return Tool{}, false
}

// WorkspaceTools is the built-in toolset: file reading, listing,
// searching, and command execution through the privileged host.
func WorkspaceTools(invoker host.Invoker) []Tool {
	return []Tool{
		{
			Definition: mcp.NewTool("read_file",
				mcp.WithDescription("Read a file's contents"),
				mcp.WithString("path", mcp.Required(), mcp.Description("Path of the file to read")),
			),
			Execute: func(ctx context.Context, arguments json.RawMessage) (string, error) {
				var args struct {
					Path string `json:"path"`
				}
				if err := json.Unmarshal(arguments, &args); err != nil {
					return "", errors.Wrap(err, "read_file arguments")
				}
				raw, err := invoker.Invoke(ctx, host.CmdReadFile, map[string]any{"path": args.Path})
				if err != nil {
					return "", err
				}
				var result struct {
					Content string `json:"content"`
				}
				if err := json.Unmarshal(raw, &result); err != nil {
					return "", errors.Wrap(err, "decoding read_file result")
				}
				return result.Content, nil
			},
		},
		{
			Definition: mcp.NewTool("list_directory",
				mcp.WithDescription("List the entries of a directory"),
				mcp.WithString("path", mcp.Required(), mcp.Description("Directory to list")),
			),
			Execute: func(ctx context.Context, arguments json.RawMessage) (string, error) {
				var args struct {
					Path string `json:"path"`
				}
				if err := json.Unmarshal(arguments, &args); err != nil {
					return "", errors.Wrap(err, "list_directory arguments")
				}
				raw, err := invoker.Invoke(ctx, host.CmdReadDirectory, map[string]any{"path": args.Path})
				if err != nil {
					return "", err
				}
				return string(raw), nil
			},
		},
		{
			Definition: mcp.NewTool("find_files",
				mcp.WithDescription("Find files matching a glob pattern"),
				mcp.WithString("root", mcp.Required(), mcp.Description("Directory to search under")),
				mcp.WithString("pattern", mcp.Required(), mcp.Description("Glob pattern to match file names against")),
			),
			Execute: func(ctx context.Context, arguments json.RawMessage) (string, error) {
				var args struct {
					Root    string `json:"root"`
					Pattern string `json:"pattern"`
				}
				if err := json.Unmarshal(arguments, &args); err != nil {
					return "", errors.Wrap(err, "find_files arguments")
				}
				raw, err := invoker.Invoke(ctx, host.CmdFindFiles, map[string]any{
					"root":    args.Root,
					"pattern": args.Pattern,
				})
				if err != nil {
					return "", err
				}
				return string(raw), nil
			},
		},
		{
			Definition: mcp.NewTool("exec",
				mcp.WithDescription("Run a shell command and return its output"),
				mcp.WithString("command", mcp.Required(), mcp.Description("Command line to execute")),
			),
			Execute: func(ctx context.Context, arguments json.RawMessage) (string, error) {
				var args struct {
					Command string `json:"command"`
				}
				if err := json.Unmarshal(arguments, &args); err != nil {
					return "", errors.Wrap(err, "exec arguments")
				}
				raw, err := invoker.Invoke(ctx, host.CmdExec, map[string]any{"command": args.Command})
				if err != nil {
					return "", err
				}
				var result struct {
					Stdout   string `json:"stdout"`
					Stderr   string `json:"stderr"`
					ExitCode int    `json:"exit_code"`
				}
				if err := json.Unmarshal(raw, &result); err != nil {
					return "", errors.Wrap(err, "decoding exec result")
				}
				if result.ExitCode != 0 {
					return "", errors.Wrapf(errors.ErrToolExecution,
						"command exited %d: %s", result.ExitCode, result.Stderr)
				}
				return fmt.Sprintf("%s%s", result.Stdout, result.Stderr), nil
			},
		},
	}
}
