package runner

import (
	"context"
	"fmt"
	"maps"

	"github.com/go-playground/validator/v10"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/tb0hdan/toolpilot-mcp/pkg/config"
	"github.com/tb0hdan/toolpilot-mcp/pkg/registry"
	"github.com/tb0hdan/toolpilot-mcp/pkg/server"
	"github.com/tb0hdan/toolpilot-mcp/pkg/session"
	"github.com/tb0hdan/toolpilot-mcp/pkg/tools"
)

const toolName = "run_tool"

type Input struct {
	ToolID     string         `json:"tool_id" validate:"required"`
	Action     string         `json:"action,omitempty" validate:"max=128"`
	Inputs     map[string]any `json:"inputs,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	TokensUsed int            `json:"tokens_used,omitempty" validate:"min=0"`
	CostUSD    float64        `json:"cost_usd,omitempty" validate:"min=0"`
}

// Invocation is everything a client needs to run a catalog tool.
type Invocation struct {
	SessionID    string         `json:"session_id"`
	ToolID       string         `json:"tool_id"`
	DisplayName  string         `json:"display_name"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Prompts      []string       `json:"prompts"`
	Inputs       map[string]any `json:"inputs"`
	Missing      []string       `json:"missing_fields,omitempty"`
	Next         []string       `json:"next_tools"`
}

type Tool struct {
	logger    zerolog.Logger
	validator *validator.Validate
	registry  *registry.Registry
	sessions  *session.Store
	config    *config.Config
}

func (t *Tool) Register(srv *server.Server) error {
	tool := &mcp.Tool{
		Name: toolName,
		Description: "Prepare a catalog tool for execution in the active session. Checks the configured user's " +
			"role, disciplines and feature flags against the tool and the session phase, merges staged pending " +
			"inputs with the given inputs and returns the system prompt, prompt templates and effective inputs. " +
			"Report what the tool produced through outputs, tokens_used and cost_usd so later tools can reuse it.",
	}

	t.registry = srv.Registry()
	t.sessions = srv.Sessions()
	t.config = srv.Config()

	wrappedHandler := tools.WrapToolHandler(
		t.sessions,
		toolName,
		t.RunHandler,
	)

	mcp.AddTool(&srv.Server, tool, wrappedHandler)
	t.logger.Debug().Msg("run_tool tool registered")

	return nil
}

// RunHandler handles MCP tool requests.
func (t *Tool) RunHandler(ctx context.Context, _ *mcp.CallToolRequest, input Input) (*mcp.CallToolResult, any, error) {
	if err := t.validator.Struct(input); err != nil {
		return nil, nil, fmt.Errorf("validation error: %w", err)
	}

	tool, ok := t.registry.Get(input.ToolID)
	if !ok {
		return nil, nil, fmt.Errorf("tool %q not found", input.ToolID)
	}

	sess, started := t.sessions.Ensure()
	if started {
		t.logger.Info().Str("session_id", sess.ID).Msg("started session for tool run")
	}

	action := input.Action
	if action == "" {
		action = "run"
	}
	// Until the run is allowed, the recorded inputs preview the staged ones.
	inputs := merge(sess.PendingInputs, input.Inputs)
	tools.Record(ctx, func(in *session.Interaction) {
		in.ToolID = tool.ID
		in.Action = action
		in.Inputs = inputs
		in.Outputs = input.Outputs
		in.TokensUsed = input.TokensUsed
		in.CostUSD = input.CostUSD
	})

	role := t.config.Role()
	if !t.registry.CanAccess(tool, role, t.config.User.Disciplines, sess.CurrentPhase) {
		return nil, nil, fmt.Errorf("access denied: %s cannot use %s in the %s phase", role, tool.ID, sess.CurrentPhase)
	}
	if flag := tool.Permissions.FeatureFlag; flag != "" && !t.config.FeatureEnabled(flag) {
		return nil, nil, fmt.Errorf("tool %s requires feature %q", tool.ID, flag)
	}
	if tool.Requirements.RequiresProject && sess.ProjectID == "" {
		return nil, nil, fmt.Errorf("tool %s requires a project: start the session with a project_id", tool.ID)
	}

	// Staged inputs are consumed by the run.
	if pending, ok := t.sessions.TakePendingInputs(); ok {
		inputs = merge(pending, input.Inputs)
		tools.Record(ctx, func(in *session.Interaction) {
			in.Inputs = inputs
		})
	}

	invocation := Invocation{
		SessionID:    sess.ID,
		ToolID:       tool.ID,
		DisplayName:  tool.DisplayName,
		SystemPrompt: tool.SystemPrompt,
		Prompts:      tool.DefaultPrompts,
		Inputs:       inputs,
		Missing:      missing(tool, inputs),
		Next:         tool.ChainableWith,
	}
	if invocation.Prompts == nil {
		invocation.Prompts = []string{}
	}
	if invocation.Next == nil {
		invocation.Next = []string{}
	}

	t.logger.Debug().Str("tool_id", tool.ID).Str("session_id", sess.ID).Msg("tool invocation prepared")

	result, err := tools.JSONResult(invocation)
	if err != nil {
		return nil, nil, err
	}
	return result, nil, nil
}

// merge overlays given on a copy of staged.
func merge(staged, given map[string]any) map[string]any {
	result := maps.Clone(staged)
	if result == nil {
		result = map[string]any{}
	}
	maps.Copy(result, given)
	return result
}

// missing lists required data fields absent from inputs.
func missing(tool *registry.Tool, inputs map[string]any) []string {
	var result []string
	for _, field := range tool.Requirements.MinDataFields {
		if _, ok := inputs[field]; !ok {
			result = append(result, field)
		}
	}
	return result
}

func New(logger zerolog.Logger) tools.Tool {
	return &Tool{
		logger:    logger.With().Str("tool", toolName).Logger(),
		validator: validator.New(),
	}
}
