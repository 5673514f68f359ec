package suggest

import "github.com/tb0hdan/toolpilot-mcp/pkg/types"

// workflowSequences lists the tools commonly run after a given tool.
var workflowSequences = map[string][]string{
	"project-charter":       {"stakeholder-mapper", "wbs-builder", "risk-register"},
	"document-analyzer":     {"requirements-gatherer", "compliance-checker", "report-writer"},
	"requirements-gatherer": {"scope-definer", "wbs-builder", "cost-estimator"},
	"wbs-builder":           {"schedule-planner", "resource-planner", "cost-estimator"},
	"schedule-planner":      {"resource-planner", "task-manager", "progress-tracker"},
	"cost-estimator":        {"quotation-builder", "budget-tracker", "cash-flow-forecaster"},
	"task-manager":          {"progress-tracker", "site-diary", "status-reporter"},
	"progress-tracker":      {"status-reporter", "issue-log", "change-request"},
	"quality-checklist":     {"inspection-planner", "issue-log", "compliance-checker"},
	"issue-log":             {"change-request", "risk-register"},
	"invoice-generator":     {"cash-flow-forecaster", "final-account"},
	"lessons-learned":       {"project-closeout", "handover-pack"},
	"project-closeout":      {"handover-pack", "final-account", "lessons-learned"},
}

// relatedAgents links engineering disciplines that usually work together.
var relatedAgents = map[string][]string{
	"civil-agent":         {"structural-agent", "geotechnical-agent", "survey-agent", "hydraulic-agent", "transport-agent"},
	"structural-agent":    {"civil-agent", "geotechnical-agent", "architectural-agent"},
	"geotechnical-agent":  {"civil-agent", "structural-agent"},
	"survey-agent":        {"civil-agent", "transport-agent"},
	"mechanical-agent":    {"electrical-agent", "hydraulic-agent"},
	"electrical-agent":    {"mechanical-agent", "architectural-agent"},
	"environmental-agent": {"hydraulic-agent", "civil-agent"},
	"hydraulic-agent":     {"civil-agent", "environmental-agent", "mechanical-agent"},
	"transport-agent":     {"civil-agent", "survey-agent"},
	"architectural-agent": {"structural-agent", "mechanical-agent"},
}

// starterTools are shown on an empty dashboard, per role.
var starterTools = map[types.Role][]string{
	types.RoleAdmin: {
		"ai-assistant", "project-charter", "budget-tracker",
		"progress-tracker", "status-reporter", "risk-register",
	},
	types.RoleProjectManager: {
		"project-charter", "wbs-builder", "schedule-planner",
		"risk-register", "status-reporter", "meeting-minutes",
	},
	types.RoleEngineer: {
		"ai-assistant", "document-analyzer", "civil-agent",
		"structural-agent", "quality-checklist", "site-diary",
	},
	types.RoleFinance: {
		"cost-estimator", "budget-tracker", "invoice-generator",
		"cash-flow-forecaster", "quotation-builder", "final-account",
	},
	types.RoleClient: {
		"ai-assistant", "status-reporter", "meeting-minutes",
	},
}
