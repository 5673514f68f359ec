package sessions

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/tb0hdan/toolpilot-mcp/pkg/registry"
	"github.com/tb0hdan/toolpilot-mcp/pkg/server"
	"github.com/tb0hdan/toolpilot-mcp/pkg/session"
	"github.com/tb0hdan/toolpilot-mcp/pkg/tools"
	"github.com/tb0hdan/toolpilot-mcp/pkg/types"
)

type Input struct {
	Action         string         `json:"action" validate:"required,oneof=start end resume show switch context transfer pending workflow step save"`
	SessionID      string         `json:"session_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty" validate:"max=64"`
	ProjectID      string         `json:"project_id,omitempty" validate:"max=64"`
	Phase          string         `json:"phase,omitempty" validate:"omitempty,oneof=initiation planning design execution monitoring closure"`
	ToolID         string         `json:"tool_id,omitempty"`
	FromTool       string         `json:"from_tool,omitempty"`
	ToTool         string         `json:"to_tool,omitempty"`
	Fields         []string       `json:"fields,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	Workflow       *WorkflowInput `json:"workflow,omitempty"`
	Step           *int           `json:"step,omitempty" validate:"omitempty,min=0"`
	Status         string         `json:"status,omitempty" validate:"omitempty,oneof=pending active completed skipped"`
}

// WorkflowInput defines a workflow as an ordered list of catalog tools.
type WorkflowInput struct {
	Name  string   `json:"name" validate:"required"`
	Steps []string `json:"steps" validate:"required,min=1"`
}

type Tool struct {
	logger    zerolog.Logger
	validator *validator.Validate
	registry  *registry.Registry
	sessions  *session.Store
}

func (t *Tool) Register(srv *server.Server) error {
	tool := &mcp.Tool{
		Name: "session",
		Description: "Manage the active tool session. Actions: start, end, resume (by session_id), show, " +
			"switch (to tool_id, optionally changing phase; carries the previous tool's transfer fields), " +
			"context (merge data into shared context), transfer (copy fields from_tool outputs to pending inputs), " +
			"pending (replace pending inputs with data), workflow (set or clear a workflow), step (update a workflow step), save.",
	}

	t.registry = srv.Registry()
	t.sessions = srv.Sessions()

	mcp.AddTool(&srv.Server, tool, t.SessionHandler)
	t.logger.Debug().Msg("session tool registered")

	return nil
}

func (t *Tool) SessionHandler(ctx context.Context, _ *mcp.CallToolRequest, input Input) (*mcp.CallToolResult, any, error) {
	if err := t.validator.Struct(input); err != nil {
		return nil, nil, fmt.Errorf("validation error: %w", err)
	}

	switch input.Action {
	case "start":
		id := t.sessions.Start(input.ConversationID, input.ProjectID, types.Phase(input.Phase))
		return t.render(map[string]any{"session_id": id})

	case "end":
		t.sessions.End(ctx)
		return tools.TextResult("Session ended"), nil, nil

	case "resume":
		if input.SessionID == "" {
			return nil, nil, fmt.Errorf("session_id is required for resume action")
		}
		if !t.sessions.Resume(ctx, input.SessionID) {
			return nil, nil, fmt.Errorf("session %s could not be resumed", input.SessionID)
		}
		return t.show()

	case "show":
		return t.show()

	case "switch":
		return t.switchTool(input)

	case "context":
		if !t.sessions.UpdateSharedContext(input.Data) {
			return nil, nil, errNoSession
		}
		return t.show()

	case "transfer":
		if input.FromTool == "" || len(input.Fields) == 0 {
			return nil, nil, fmt.Errorf("from_tool and fields are required for transfer action")
		}
		if _, ok := t.sessions.Active(); !ok {
			return nil, nil, errNoSession
		}
		moved := t.sessions.TransferContext(input.FromTool, input.ToTool, input.Fields)
		return t.render(map[string]any{"transferred": emptyIfNil(moved)})

	case "pending":
		if !t.sessions.SetPendingInputs(input.Data) {
			return nil, nil, errNoSession
		}
		return t.show()

	case "workflow":
		return t.setWorkflow(input.Workflow)

	case "step":
		if input.Step == nil {
			return nil, nil, fmt.Errorf("step is required for step action")
		}
		patch := session.WorkflowStep{Status: input.Status, Outputs: input.Data}
		if !t.sessions.UpdateWorkflowStep(*input.Step, patch) {
			return nil, nil, fmt.Errorf("no workflow step %d", *input.Step)
		}
		return t.show()

	case "save":
		if _, ok := t.sessions.Active(); !ok {
			return nil, nil, errNoSession
		}
		if !t.sessions.Save(ctx) {
			return nil, nil, fmt.Errorf("failed to save session")
		}
		return tools.TextResult("Session saved"), nil, nil
	}

	return nil, nil, fmt.Errorf("unsupported action %q", input.Action)
}

var errNoSession = errors.New("no active session")

func (t *Tool) show() (*mcp.CallToolResult, any, error) {
	sess, ok := t.sessions.Active()
	if !ok {
		return nil, nil, errNoSession
	}
	return t.render(sess)
}

// switchTool makes input.ToolID active and stages the fields the previous
// tool declares as transferable.
func (t *Tool) switchTool(input Input) (*mcp.CallToolResult, any, error) {
	if input.ToolID == "" {
		return nil, nil, fmt.Errorf("tool_id is required for switch action")
	}
	if !t.registry.Has(input.ToolID) {
		return nil, nil, fmt.Errorf("tool %q not found", input.ToolID)
	}
	sess, ok := t.sessions.Active()
	if !ok {
		return nil, nil, errNoSession
	}

	transferred := session.Payload{}
	if previous, ok := t.registry.Get(sess.ActiveTool); ok && previous.ID != input.ToolID {
		if fields := previous.ContextSwitch.TransferFields; len(fields) > 0 {
			transferred = emptyIfNil(t.sessions.TransferContext(previous.ID, input.ToolID, fields))
		}
	}
	t.sessions.SetActiveTool(input.ToolID)
	if input.Phase != "" {
		t.sessions.SetPhase(types.Phase(input.Phase))
	}

	t.logger.Debug().Str("from", sess.ActiveTool).Str("to", input.ToolID).Msg("tool switched")

	sess, _ = t.sessions.Active()
	return t.render(map[string]any{
		"active_tool":   sess.ActiveTool,
		"previous_tool": sess.PreviousTool,
		"phase":         sess.CurrentPhase,
		"transferred":   transferred,
	})
}

func (t *Tool) setWorkflow(in *WorkflowInput) (*mcp.CallToolResult, any, error) {
	if _, ok := t.sessions.Active(); !ok {
		return nil, nil, errNoSession
	}
	if in == nil {
		t.sessions.SetActiveWorkflow(nil)
		return t.show()
	}
	if err := t.validator.Struct(in); err != nil {
		return nil, nil, fmt.Errorf("validation error: %w", err)
	}

	w := &session.Workflow{ID: uuid.NewString(), Name: in.Name}
	for i, id := range in.Steps {
		if !t.registry.Has(id) {
			return nil, nil, fmt.Errorf("workflow step %d: tool %q not found", i, id)
		}
		status := session.StepPending
		if i == 0 {
			status = session.StepActive
		}
		w.Steps = append(w.Steps, session.WorkflowStep{ToolID: id, Status: status})
	}
	t.sessions.SetActiveWorkflow(w)
	return t.show()
}

func (t *Tool) render(v any) (*mcp.CallToolResult, any, error) {
	result, err := tools.JSONResult(v)
	if err != nil {
		return nil, nil, err
	}
	return result, nil, nil
}

func emptyIfNil(p session.Payload) session.Payload {
	if p == nil {
		return session.Payload{}
	}
	return p
}

func New(logger zerolog.Logger) tools.Tool {
	return &Tool{
		logger:    logger.With().Str("tool", "session").Logger(),
		validator: validator.New(),
	}
}
