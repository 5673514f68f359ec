package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/tb0hdan/toolpilot-mcp/pkg/session"
)

type recordKey struct{}

// Record lets a wrapped handler describe the interaction stored for the
// current call. It is a no-op outside WrapToolHandler.
func Record(ctx context.Context, fn func(in *session.Interaction)) {
	if in, ok := ctx.Value(recordKey{}).(*session.Interaction); ok {
		fn(in)
	}
}

// WrapToolHandler wraps a tool handler so every call that names a catalog
// tool is appended to the active session with its duration and outcome.
// The handler sets the tool id through Record; calls that never do are not recorded.
func WrapToolHandler[In, Out any](
	sessions *session.Store,
	toolName string,
	handler func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, Out, error),
) func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, Out, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input In) (*mcp.CallToolResult, Out, error) {
		startTime := time.Now()

		in := &session.Interaction{
			Action: toolName,
			Inputs: toPayload(input),
		}
		ctx = context.WithValue(ctx, recordKey{}, in)

		// Execute the actual handler
		result, output, err := handler(ctx, req, input)

		if in.ToolID == "" {
			return result, output, err
		}

		in.DurationMs = time.Since(startTime).Milliseconds()
		in.Success = err == nil && (result == nil || !result.IsError)
		if err != nil {
			in.ErrorMessage = err.Error()
		}
		sessions.AppendInteraction(*in)

		return result, output, err
	}
}

// toPayload converts a tool input into a generic object. Inputs that do not
// encode to a JSON object are stored under "input".
func toPayload(v any) session.Payload {
	data, err := json.Marshal(v)
	if err != nil {
		return session.Payload{}
	}
	var payload session.Payload
	if err := json.Unmarshal(data, &payload); err != nil || payload == nil {
		var raw any
		_ = json.Unmarshal(data, &raw)
		return session.Payload{"input": raw}
	}
	return payload
}
