package suggest

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/tb0hdan/toolpilot-mcp/pkg/registry"
	"github.com/tb0hdan/toolpilot-mcp/pkg/session"
	"github.com/tb0hdan/toolpilot-mcp/pkg/types"
)

// Kind explains where a suggestion came from.
type Kind string

const (
	KindNextStep    Kind = "next-step"
	KindRecommended Kind = "recommended"
	KindPopular     Kind = "popular"
	KindRelated     Kind = "related"
)

// Priority is the display urgency of a suggestion.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Suggestion is a scored recommendation of one tool.
type Suggestion struct {
	Tool     *registry.Tool `json:"tool"`
	Score    int            `json:"score"`
	Reason   string         `json:"reason"`
	Category Kind           `json:"category"`
	Priority Priority       `json:"priority"`
}

// Context is what the engine knows about the caller.
type Context struct {
	CurrentToolID string
	ProjectPhase  types.Phase
	RecentToolIDs []string
	Session       *session.Session
}

// Project is the part of a project the dashboard needs.
type Project struct {
	ID    string      `json:"id"`
	Name  string      `json:"name,omitempty"`
	Phase types.Phase `json:"phase"`
}

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Engine ranks catalog tools for a caller. It never fails: unknown ids and
// empty inputs produce fewer suggestions.
type Engine struct {
	registry *registry.Registry
	rules    []rule
}

// rule appends suggestions for c, skipping tools already in seen.
type rule func(e *Engine, c Context, acc *accumulator)

func New(reg *registry.Registry) *Engine {
	return &Engine{
		registry: reg,
		rules: []rule{
			chainableRule,
			phaseRule,
			workflowRule,
			popularRule,
			relatedAgentsRule,
		},
	}
}

// Generate runs the rules in priority order until limit suggestions are
// collected, then ranks them by score. Ties keep rule order. A limit below
// one means types.DefaultSuggestionLimit.
func (e *Engine) Generate(c Context, limit int) []Suggestion {
	if limit <= 0 {
		limit = types.DefaultSuggestionLimit
	}

	acc := newAccumulator(c.CurrentToolID)
	for _, r := range e.rules {
		if len(acc.items) >= limit {
			break
		}
		r(e, c, acc)
	}

	return rank(acc.items, limit)
}

// Dashboard suggests starter tools for role, favouring those that fit the
// phase of the most recent project. recentProjects is ordered most recent first.
func (e *Engine) Dashboard(role types.Role, recentProjects []Project) []Suggestion {
	var phase types.Phase
	if len(recentProjects) > 0 {
		phase = recentProjects[0].Phase
	}

	acc := newAccumulator("")
	for _, id := range starterTools[role] {
		tool, ok := e.registry.Get(id)
		if !ok {
			continue
		}
		score := 50
		reason := fmt.Sprintf("Popular with %s users", role)
		if phase != "" && tool.Permissions.MinPhase == phase {
			score += 30
			reason = fmt.Sprintf("Suited to the %s phase", phase)
		}
		acc.add(tool, score, reason, KindRecommended, tier(score, 60))
	}

	return rank(acc.items, types.DashboardLimit)
}

// ChatSidebar suggests tools whose prompt templates overlap with the last
// messages of a conversation. The match is a case-insensitive substring test
// of each template word against the joined messages.
func (e *Engine) ChatSidebar(messages []Message, sess *session.Session) []Suggestion {
	window := messages[max(0, len(messages)-types.ChatHistoryWindow):]
	parts := make([]string, 0, len(window))
	for _, m := range window {
		parts = append(parts, m.Content)
	}
	text := strings.ToLower(strings.Join(parts, " "))

	activeTool := ""
	if sess != nil {
		activeTool = sess.ActiveTool
	}

	acc := newAccumulator("")
	for _, tool := range e.registry.All() {
		score := 0
		if text != "" {
			for _, prompt := range tool.DefaultPrompts {
				for _, word := range strings.Fields(strings.ToLower(prompt)) {
					if strings.Contains(text, word) {
						score += 5
					}
				}
			}
		}
		reason := "Matches your conversation"
		if activeTool != "" && e.registry.IsChainable(activeTool, tool.ID) {
			score += 20
			if score == 20 {
				reason = "Works well after your current tool"
			}
		}
		if score > 0 {
			acc.add(tool, score, reason, KindRelated, chatPriority(score))
		}
	}

	return rank(acc.items, types.ChatSidebarLimit)
}

// Validate checks that every tool referenced by the built-in sequences exists.
func (e *Engine) Validate() error {
	var errs []error
	check := func(table, id string) {
		if !e.registry.Has(id) {
			errs = append(errs, fmt.Errorf("%s: unknown tool %q", table, id))
		}
	}

	for from, next := range workflowSequences {
		check("workflow sequences", from)
		for _, id := range next {
			check("workflow sequences", id)
		}
	}
	for from, related := range relatedAgents {
		for _, id := range append([]string{from}, related...) {
			tool, ok := e.registry.Get(id)
			if !ok || tool.Category != types.CategoryAgent {
				errs = append(errs, fmt.Errorf("related agents: %q is not an agent", id))
			}
		}
	}
	for role, ids := range starterTools {
		for _, id := range ids {
			tool, ok := e.registry.Get(id)
			if !ok {
				check("starter tools", id)
				continue
			}
			if !tool.AllowsRole(role) {
				errs = append(errs, fmt.Errorf("starter tools: %q is not available to %s", id, role))
			}
		}
	}

	return errors.Join(errs...)
}

func chainableRule(e *Engine, c Context, acc *accumulator) {
	if c.CurrentToolID == "" {
		return
	}
	current, ok := e.registry.Get(c.CurrentToolID)
	if !ok {
		return
	}
	for _, tool := range e.registry.Chainable(current.ID) {
		score := 40
		if c.ProjectPhase != "" && tool.Permissions.MinPhase == c.ProjectPhase {
			score += 30
		}
		if slices.Contains(c.RecentToolIDs, tool.ID) {
			score += 10
		}
		acc.add(tool, score, "Natural next step after "+current.DisplayName, KindNextStep, tier(score, 60))
	}
}

func phaseRule(e *Engine, c Context, acc *accumulator) {
	if c.ProjectPhase == "" {
		return
	}
	reason := fmt.Sprintf("Recommended for %s phase", c.ProjectPhase)
	for _, tool := range e.registry.ByPhase(c.ProjectPhase) {
		score := 30
		if !slices.Contains(c.RecentToolIDs, tool.ID) {
			score += 15
		}
		if tool.Metadata.Complexity == types.ComplexityHigh {
			score += 10
		}
		acc.add(tool, score, reason, KindRecommended, tier(score, 50))
	}
}

func workflowRule(e *Engine, c Context, acc *accumulator) {
	for _, id := range workflowSequences[c.CurrentToolID] {
		if tool, ok := e.registry.Get(id); ok {
			acc.add(tool, 35, "Part of common workflow sequence", KindRecommended, PriorityMedium)
		}
	}
}

func popularRule(e *Engine, c Context, acc *accumulator) {
	if c.Session == nil || c.Session.ActiveTool == "" {
		return
	}
	active, ok := e.registry.Get(c.Session.ActiveTool)
	if !ok {
		return
	}
	reason := fmt.Sprintf("Popular %s tool", active.Category)
	for _, tool := range e.registry.ByCategory(active.Category) {
		acc.add(tool, 15, reason, KindPopular, PriorityLow)
	}
}

func relatedAgentsRule(e *Engine, c Context, acc *accumulator) {
	current, ok := e.registry.Get(c.CurrentToolID)
	if !ok || current.Category != types.CategoryAgent {
		return
	}
	for _, id := range relatedAgents[current.ID] {
		if tool, ok := e.registry.Get(id); ok {
			acc.add(tool, 25, "Related engineering discipline", KindRelated, PriorityMedium)
		}
	}
}

// tier is high above threshold and medium otherwise.
func tier(score, threshold int) Priority {
	if score > threshold {
		return PriorityHigh
	}
	return PriorityMedium
}

func chatPriority(score int) Priority {
	switch {
	case score > 40:
		return PriorityHigh
	case score > 20:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

type accumulator struct {
	items []Suggestion
	seen  map[string]bool
}

// newAccumulator never suggests exclude, usually the tool the caller is already using.
func newAccumulator(exclude string) *accumulator {
	acc := &accumulator{items: []Suggestion{}, seen: make(map[string]bool)}
	if exclude != "" {
		acc.seen[exclude] = true
	}
	return acc
}

func (a *accumulator) add(tool *registry.Tool, score int, reason string, kind Kind, priority Priority) {
	if a.seen[tool.ID] {
		return
	}
	a.seen[tool.ID] = true
	a.items = append(a.items, Suggestion{
		Tool:     tool,
		Score:    score,
		Reason:   reason,
		Category: kind,
		Priority: priority,
	})
}

func rank(items []Suggestion, limit int) []Suggestion {
	slices.SortStableFunc(items, func(a, b Suggestion) int {
		return b.Score - a.Score
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
