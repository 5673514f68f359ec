package registry

import (
	"slices"

	"github.com/tb0hdan/toolpilot-mcp/pkg/types"
)

// Tool is a catalog entry describing one invokable AI capability.
// Tools are shared by every caller of a Registry and must be treated as read-only.
type Tool struct {
	ID             string         `yaml:"id" json:"id" validate:"required"`
	DisplayName    string         `yaml:"display_name" json:"display_name" validate:"required"`
	Description    string         `yaml:"description" json:"description"`
	Category       types.Category `yaml:"category" json:"category" validate:"required,oneof=assistant planning budgeting execution quality communication closure agent"`
	Capabilities   []string       `yaml:"capabilities" json:"capabilities"`
	Requirements   Requirements   `yaml:"requirements" json:"requirements"`
	DefaultPrompts []string       `yaml:"default_prompts" json:"default_prompts"`
	SystemPrompt   string         `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	ContextSwitch  ContextSwitch  `yaml:"context_switch" json:"context_switch"`
	ChainableWith  []string       `yaml:"chainable_with,omitempty" json:"chainable_with,omitempty"`
	Permissions    Permissions    `yaml:"permissions" json:"permissions"`
	Metadata       Metadata       `yaml:"metadata" json:"metadata"`
}

// Requirements describes what a tool needs before it can run.
type Requirements struct {
	RequiresProject bool     `yaml:"requires_project" json:"requires_project"`
	FileTypes       []string `yaml:"file_types,omitempty" json:"file_types,omitempty"`
	MinDataFields   []string `yaml:"min_data_fields,omitempty" json:"min_data_fields,omitempty"`
}

// ContextSwitch describes what survives a switch away from the tool.
type ContextSwitch struct {
	PreserveState  bool     `yaml:"preserve_state" json:"preserve_state"`
	TransferFields []string `yaml:"transfer_fields,omitempty" json:"transfer_fields,omitempty"`
}

// Permissions gate access to a tool.
type Permissions struct {
	Roles       []types.Role `yaml:"roles" json:"roles" validate:"required,min=1,dive,oneof=admin project-manager engineer finance client"`
	Disciplines []string     `yaml:"disciplines,omitempty" json:"disciplines,omitempty"`
	MinPhase    types.Phase  `yaml:"min_phase,omitempty" json:"min_phase,omitempty" validate:"omitempty,oneof=initiation planning design execution monitoring closure"`
	MaxPhase    types.Phase  `yaml:"max_phase,omitempty" json:"max_phase,omitempty" validate:"omitempty,oneof=initiation planning design execution monitoring closure"`
	FeatureFlag string       `yaml:"feature_flag,omitempty" json:"feature_flag,omitempty"`
}

// Metadata is display information.
type Metadata struct {
	Icon              string           `yaml:"icon" json:"icon"`
	Color             string           `yaml:"color" json:"color"`
	EstimatedDuration string           `yaml:"estimated_duration" json:"estimated_duration"`
	Complexity        types.Complexity `yaml:"complexity" json:"complexity" validate:"required,oneof=low medium high"`
}

// InPhase reports whether the tool is available in phase p.
// A tool without bounds is available in every phase. A missing lower bound
// means initiation and a missing upper bound means closure.
func (t *Tool) InPhase(p types.Phase) bool {
	minPhase, maxPhase := t.Permissions.MinPhase, t.Permissions.MaxPhase
	if minPhase == "" && maxPhase == "" {
		return true
	}

	idx := p.Index()
	if idx < 0 {
		return false
	}

	lower := 0
	if minPhase != "" {
		lower = minPhase.Index()
	}
	upper := len(types.Phases) - 1
	if maxPhase != "" {
		upper = maxPhase.Index()
	}

	return idx >= lower && idx <= upper
}

// HasCapability reports whether tag is one of the tool's capabilities.
func (t *Tool) HasCapability(tag string) bool {
	return slices.Contains(t.Capabilities, tag)
}

// AllowsRole reports whether role may use the tool.
func (t *Tool) AllowsRole(role types.Role) bool {
	return slices.Contains(t.Permissions.Roles, role)
}

// AllowsDisciplines reports whether any of the user's disciplines satisfies the tool.
// Tools without required disciplines accept everyone.
func (t *Tool) AllowsDisciplines(disciplines []string) bool {
	if len(t.Permissions.Disciplines) == 0 {
		return true
	}
	for _, d := range disciplines {
		if slices.Contains(t.Permissions.Disciplines, d) {
			return true
		}
	}
	return false
}
