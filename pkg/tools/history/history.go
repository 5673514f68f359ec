package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/tb0hdan/toolpilot-mcp/pkg/server"
	"github.com/tb0hdan/toolpilot-mcp/pkg/session"
	"github.com/tb0hdan/toolpilot-mcp/pkg/storage"
	"github.com/tb0hdan/toolpilot-mcp/pkg/tools"
	"github.com/tb0hdan/toolpilot-mcp/pkg/types"
)

type Input struct {
	Action string `json:"action" validate:"required,oneof=list get delete clear"`
	ID     string `json:"id,omitempty"`
	Limit  int    `json:"limit,omitempty" validate:"min=0,max=100"`
	Offset int    `json:"offset,omitempty" validate:"min=0"`
}

type Tool struct {
	logger    zerolog.Logger
	validator *validator.Validate
	store     storage.Storage
	sessions  *session.Store
	userID    string
}

func (t *Tool) Register(srv *server.Server) error {
	if srv.Storage() == nil {
		return errors.New("history requires storage")
	}

	tool := &mcp.Tool{
		Name:        "history",
		Description: "Browse and manage saved tool sessions. Actions: list (paginated, most recently updated first), get (by ID, with interactions), delete (by ID), clear (all).",
	}

	t.store = srv.Storage()
	t.sessions = srv.Sessions()
	t.userID = srv.UserID()

	mcp.AddTool(&srv.Server, tool, t.HistoryHandler)
	t.logger.Debug().Msg("history tool registered")

	return nil
}

func (t *Tool) HistoryHandler(ctx context.Context, _ *mcp.CallToolRequest, input Input) (*mcp.CallToolResult, any, error) {
	if err := t.validator.Struct(input); err != nil {
		return nil, nil, fmt.Errorf("validation error: %w", err)
	}

	switch input.Action {
	case "list":
		limit := input.Limit
		if limit == 0 {
			limit = types.DefaultHistoryLimit
		}
		rows, total, err := t.store.ListSessions(ctx, t.userID, limit, input.Offset)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		return render(map[string]any{
			"total":    total,
			"limit":    limit,
			"offset":   input.Offset,
			"sessions": rows,
		})

	case "get":
		if input.ID == "" {
			return nil, nil, fmt.Errorf("id is required for get action")
		}
		row, err := t.store.GetSession(ctx, input.ID, t.userID)
		if err != nil {
			return nil, nil, fmt.Errorf("session not found: %w", err)
		}
		interactions, err := t.store.GetInteractions(ctx, input.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load interactions: %w", err)
		}
		sess, err := session.FromRows(row, interactions)
		if err != nil {
			return nil, nil, err
		}
		return render(sess)

	case "delete":
		if input.ID == "" {
			return nil, nil, fmt.Errorf("id is required for delete action")
		}
		if active, ok := t.sessions.Active(); ok && active.ID == input.ID {
			return nil, nil, fmt.Errorf("session %s is active, end it first", input.ID)
		}
		if err := t.store.DeleteSession(ctx, input.ID, t.userID); err != nil {
			return nil, nil, fmt.Errorf("failed to delete session: %w", err)
		}
		return tools.TextResult(fmt.Sprintf("Session %s deleted successfully", input.ID)), nil, nil

	case "clear":
		// Pending background writes would otherwise recreate rows after the delete.
		t.sessions.Flush()
		if err := t.store.DeleteAllSessions(ctx, t.userID); err != nil {
			return nil, nil, fmt.Errorf("failed to clear sessions: %w", err)
		}
		return tools.TextResult("All session history cleared"), nil, nil
	}

	return nil, nil, fmt.Errorf("unsupported action %q", input.Action)
}

func render(v any) (*mcp.CallToolResult, any, error) {
	result, err := tools.JSONResult(v)
	if err != nil {
		return nil, nil, err
	}
	return result, nil, nil
}

func New(logger zerolog.Logger) tools.Tool {
	return &Tool{
		logger:    logger.With().Str("tool", "history").Logger(),
		validator: validator.New(),
	}
}
