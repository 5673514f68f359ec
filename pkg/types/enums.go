package types

// Category groups catalog tools.
type Category string

const (
	CategoryAssistant     Category = "assistant"
	CategoryPlanning      Category = "planning"
	CategoryBudgeting     Category = "budgeting"
	CategoryExecution     Category = "execution"
	CategoryQuality       Category = "quality"
	CategoryCommunication Category = "communication"
	CategoryClosure       Category = "closure"
	CategoryAgent         Category = "agent"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryAssistant,
	CategoryPlanning,
	CategoryBudgeting,
	CategoryExecution,
	CategoryQuality,
	CategoryCommunication,
	CategoryClosure,
	CategoryAgent,
}

// Complexity is the effort tier shown for a tool.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Complexities lists every complexity tier.
var Complexities = []Complexity{ComplexityLow, ComplexityMedium, ComplexityHigh}

// Role is the workspace role of a user.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleProjectManager Role = "project-manager"
	RoleEngineer       Role = "engineer"
	RoleFinance        Role = "finance"
	RoleClient         Role = "client"
)

// Roles lists every known role.
var Roles = []Role{RoleAdmin, RoleProjectManager, RoleEngineer, RoleFinance, RoleClient}
