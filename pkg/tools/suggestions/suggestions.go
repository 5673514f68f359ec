package suggestions

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/tb0hdan/toolpilot-mcp/pkg/config"
	"github.com/tb0hdan/toolpilot-mcp/pkg/server"
	"github.com/tb0hdan/toolpilot-mcp/pkg/session"
	"github.com/tb0hdan/toolpilot-mcp/pkg/suggest"
	"github.com/tb0hdan/toolpilot-mcp/pkg/tools"
	"github.com/tb0hdan/toolpilot-mcp/pkg/types"
)

// recentWindow is how many distinct recent tools of the session feed the ranking.
const recentWindow = 5

type Input struct {
	Mode          string            `json:"mode" validate:"required,oneof=next dashboard chat"`
	CurrentToolID string            `json:"current_tool_id,omitempty"`
	Phase         string            `json:"phase,omitempty" validate:"omitempty,oneof=initiation planning design execution monitoring closure"`
	RecentToolIDs []string          `json:"recent_tool_ids,omitempty"`
	Limit         int               `json:"limit,omitempty" validate:"min=0,max=50"`
	Role          string            `json:"role,omitempty" validate:"omitempty,oneof=admin project-manager engineer finance client"`
	Projects      []suggest.Project `json:"projects,omitempty"`
	Messages      []suggest.Message `json:"messages,omitempty"`
}

type Tool struct {
	logger    zerolog.Logger
	validator *validator.Validate
	engine    *suggest.Engine
	sessions  *session.Store
	config    *config.Config
}

func (t *Tool) Register(srv *server.Server) error {
	tool := &mcp.Tool{
		Name: "suggest",
		Description: "Suggest catalog tools. Modes: next (what to run after the current tool; defaults come " +
			"from the active session), dashboard (starter tools for a role, favouring the most recent project's " +
			"phase; projects are listed most recent first), chat (tools matching the last conversation messages).",
	}

	t.engine = srv.Engine()
	t.sessions = srv.Sessions()
	t.config = srv.Config()

	mcp.AddTool(&srv.Server, tool, t.SuggestHandler)
	t.logger.Debug().Msg("suggest tool registered")

	return nil
}

func (t *Tool) SuggestHandler(_ context.Context, _ *mcp.CallToolRequest, input Input) (*mcp.CallToolResult, any, error) {
	if err := t.validator.Struct(input); err != nil {
		return nil, nil, fmt.Errorf("validation error: %w", err)
	}

	sess, _ := t.sessions.Active()

	var list []suggest.Suggestion

	switch input.Mode {
	case "next":
		c := suggest.Context{
			CurrentToolID: input.CurrentToolID,
			ProjectPhase:  types.Phase(input.Phase),
			RecentToolIDs: input.RecentToolIDs,
			Session:       sess,
		}
		if sess != nil {
			if c.CurrentToolID == "" {
				c.CurrentToolID = sess.ActiveTool
			}
			if c.ProjectPhase == "" {
				c.ProjectPhase = sess.CurrentPhase
			}
			if c.RecentToolIDs == nil {
				c.RecentToolIDs = sess.RecentTools(recentWindow)
			}
		}
		limit := input.Limit
		if limit == 0 {
			limit = t.config.Suggest.DefaultLimit
		}
		list = t.engine.Generate(c, limit)

	case "dashboard":
		role := types.Role(input.Role)
		if role == "" {
			role = t.config.Role()
		}
		list = t.engine.Dashboard(role, input.Projects)

	case "chat":
		list = t.engine.ChatSidebar(input.Messages, sess)
	}

	t.logger.Debug().Str("mode", input.Mode).Int("count", len(list)).Msg("suggestions generated")

	result, err := tools.JSONResult(map[string]any{
		"mode":        input.Mode,
		"suggestions": list,
	})
	if err != nil {
		return nil, nil, err
	}
	return result, nil, nil
}

func New(logger zerolog.Logger) tools.Tool {
	return &Tool{
		logger:    logger.With().Str("tool", "suggest").Logger(),
		validator: validator.New(),
	}
}
