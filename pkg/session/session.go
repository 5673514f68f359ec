package session

import (
	"maps"
	"slices"
	"time"

	"github.com/tb0hdan/toolpilot-mcp/pkg/types"
)

// Payload is an open key-value map carried between tools. Callers treat it
// as opaque unless a specific tool defines its fields.
type Payload = map[string]any

// Interaction records one completed tool invocation. It is never modified
// after being appended to a session.
type Interaction struct {
	ID           string    `json:"id"`
	ToolID       string    `json:"tool_id"`
	Action       string    `json:"action"`
	Inputs       Payload   `json:"inputs"`
	Outputs      Payload   `json:"outputs"`
	TokensUsed   int       `json:"tokens_used"`
	CostUSD      float64   `json:"cost_usd"`
	DurationMs   int64     `json:"duration_ms"`
	Timestamp    time.Time `json:"timestamp"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Step statuses of a workflow.
const (
	StepPending   = "pending"
	StepActive    = "active"
	StepCompleted = "completed"
	StepSkipped   = "skipped"
)

// Workflow is an optional multi-step plan embedded in a session.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Steps       []WorkflowStep `json:"steps"`
	CurrentStep int            `json:"current_step"`
}

// WorkflowStep is one tool run of a workflow.
type WorkflowStep struct {
	ToolID  string  `json:"tool_id"`
	Status  string  `json:"status"`
	Inputs  Payload `json:"inputs,omitempty"`
	Outputs Payload `json:"outputs,omitempty"`
}

// Session is the per-user record of tool usage and shared context.
type Session struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id,omitempty"`
	ProjectID      string        `json:"project_id,omitempty"`
	CurrentPhase   types.Phase   `json:"current_phase"`
	ActiveTool     string        `json:"active_tool,omitempty"`
	PreviousTool   string        `json:"previous_tool,omitempty"`
	Interactions   []Interaction `json:"interactions"`
	ToolChain      []string      `json:"tool_chain"`
	SharedContext  Payload       `json:"shared_context"`
	PendingInputs  Payload       `json:"pending_inputs"`
	ActiveWorkflow *Workflow     `json:"active_workflow,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// LastInteraction returns the most recent interaction with toolID.
func (s *Session) LastInteraction(toolID string) (Interaction, bool) {
	for i := len(s.Interactions) - 1; i >= 0; i-- {
		if s.Interactions[i].ToolID == toolID {
			return s.Interactions[i], true
		}
	}
	return Interaction{}, false
}

// RecentTools returns up to n distinct tool ids, most recently used first.
func (s *Session) RecentTools(n int) []string {
	result := make([]string, 0, n)
	for i := len(s.Interactions) - 1; i >= 0 && len(result) < n; i-- {
		id := s.Interactions[i].ToolID
		if !slices.Contains(result, id) {
			result = append(result, id)
		}
	}
	return result
}

// Clone copies the session so the copy can be read without holding the store lock.
// Payload maps are copied one level deep.
func (s *Session) Clone() *Session {
	c := *s
	c.Interactions = make([]Interaction, len(s.Interactions))
	for i, in := range s.Interactions {
		in.Inputs = maps.Clone(in.Inputs)
		in.Outputs = maps.Clone(in.Outputs)
		c.Interactions[i] = in
	}
	c.ToolChain = slices.Clone(s.ToolChain)
	c.SharedContext = maps.Clone(s.SharedContext)
	c.PendingInputs = maps.Clone(s.PendingInputs)
	if s.ActiveWorkflow != nil {
		c.ActiveWorkflow = s.ActiveWorkflow.Clone()
	}
	return &c
}

// Clone copies the workflow and its steps.
func (w *Workflow) Clone() *Workflow {
	c := *w
	c.Steps = make([]WorkflowStep, len(w.Steps))
	for i, step := range w.Steps {
		step.Inputs = maps.Clone(step.Inputs)
		step.Outputs = maps.Clone(step.Outputs)
		c.Steps[i] = step
	}
	return &c
}

// merge applies the non-zero fields of patch to the step. Payloads are merged key by key.
func (step *WorkflowStep) merge(patch WorkflowStep) {
	if patch.ToolID != "" {
		step.ToolID = patch.ToolID
	}
	if patch.Status != "" {
		step.Status = patch.Status
	}
	if len(patch.Inputs) > 0 {
		if step.Inputs == nil {
			step.Inputs = make(Payload, len(patch.Inputs))
		}
		maps.Copy(step.Inputs, patch.Inputs)
	}
	if len(patch.Outputs) > 0 {
		if step.Outputs == nil {
			step.Outputs = make(Payload, len(patch.Outputs))
		}
		maps.Copy(step.Outputs, patch.Outputs)
	}
}
