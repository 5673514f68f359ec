package catalog

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/tb0hdan/toolpilot-mcp/pkg/config"
	"github.com/tb0hdan/toolpilot-mcp/pkg/registry"
	"github.com/tb0hdan/toolpilot-mcp/pkg/server"
	"github.com/tb0hdan/toolpilot-mcp/pkg/tools"
	"github.com/tb0hdan/toolpilot-mcp/pkg/types"
)

type Input struct {
	Action      string   `json:"action" validate:"required,oneof=get list category capability role phase chain access stats"`
	ID          string   `json:"id,omitempty"`
	Category    string   `json:"category,omitempty" validate:"omitempty,oneof=assistant planning budgeting execution quality communication closure agent"`
	Capability  string   `json:"capability,omitempty"`
	Role        string   `json:"role,omitempty" validate:"omitempty,oneof=admin project-manager engineer finance client"`
	Phase       string   `json:"phase,omitempty" validate:"omitempty,oneof=initiation planning design execution monitoring closure"`
	Disciplines []string `json:"disciplines,omitempty"`
}

// Summary is the short form of a tool used in listings.
type Summary struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Category    types.Category `json:"category"`
	Description string         `json:"description"`
}

type Tool struct {
	logger    zerolog.Logger
	validator *validator.Validate
	registry  *registry.Registry
	config    *config.Config
}

func (t *Tool) Register(srv *server.Server) error {
	tool := &mcp.Tool{
		Name: "catalog",
		Description: "Browse the AI tool catalog. Actions: get (by id), list (all), category, capability, " +
			"role, phase (tools available in a project phase), chain (tools that follow a tool), " +
			"access (can the configured user run a tool), stats (counts by category and complexity).",
	}

	t.registry = srv.Registry()
	t.config = srv.Config()

	mcp.AddTool(&srv.Server, tool, t.CatalogHandler)
	t.logger.Debug().Msg("catalog tool registered")

	return nil
}

func (t *Tool) CatalogHandler(_ context.Context, _ *mcp.CallToolRequest, input Input) (*mcp.CallToolResult, any, error) {
	if err := t.validator.Struct(input); err != nil {
		return nil, nil, fmt.Errorf("validation error: %w", err)
	}

	if err := required(input); err != nil {
		return nil, nil, err
	}

	var payload any

	switch input.Action {
	case "get":
		tool, ok := t.registry.Get(input.ID)
		if !ok {
			return nil, nil, fmt.Errorf("tool %q not found", input.ID)
		}
		payload = tool

	case "list":
		payload = summarize(t.registry.All())

	case "category":
		payload = summarize(t.registry.ByCategory(types.Category(input.Category)))

	case "capability":
		payload = summarize(t.registry.ByCapability(input.Capability))

	case "role":
		payload = summarize(t.registry.ByRole(t.role(input)))

	case "phase":
		payload = summarize(t.registry.ByPhase(types.Phase(input.Phase)))

	case "chain":
		if !t.registry.Has(input.ID) {
			return nil, nil, fmt.Errorf("tool %q not found", input.ID)
		}
		payload = summarize(t.registry.Chainable(input.ID))

	case "access":
		tool, ok := t.registry.Get(input.ID)
		if !ok {
			return nil, nil, fmt.Errorf("tool %q not found", input.ID)
		}
		role := t.role(input)
		disciplines := input.Disciplines
		if disciplines == nil {
			disciplines = t.config.User.Disciplines
		}
		payload = map[string]any{
			"tool_id": tool.ID,
			"role":    role,
			"phase":   input.Phase,
			"allowed": t.registry.CanAccess(tool, role, disciplines, types.Phase(input.Phase)),
		}

	case "stats":
		payload = t.registry.Stats()
	}

	result, err := tools.JSONResult(payload)
	if err != nil {
		return nil, nil, err
	}
	return result, nil, nil
}

// required checks the fields each action depends on.
func required(input Input) error {
	switch input.Action {
	case "get", "chain", "access":
		if input.ID == "" {
			return fmt.Errorf("id is required for %s action", input.Action)
		}
	case "category":
		if input.Category == "" {
			return fmt.Errorf("category is required for category action")
		}
	case "capability":
		if input.Capability == "" {
			return fmt.Errorf("capability is required for capability action")
		}
	case "phase":
		if input.Phase == "" {
			return fmt.Errorf("phase is required for phase action")
		}
	}
	return nil
}

func (t *Tool) role(input Input) types.Role {
	if input.Role != "" {
		return types.Role(input.Role)
	}
	return t.config.Role()
}

func summarize(list []*registry.Tool) []Summary {
	result := make([]Summary, 0, len(list))
	for _, tool := range list {
		result = append(result, Summary{
			ID:          tool.ID,
			DisplayName: tool.DisplayName,
			Category:    tool.Category,
			Description: tool.Description,
		})
	}
	return result
}

func New(logger zerolog.Logger) tools.Tool {
	return &Tool{
		logger:    logger.With().Str("tool", "catalog").Logger(),
		validator: validator.New(),
	}
}
