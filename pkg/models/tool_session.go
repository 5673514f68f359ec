package models

import (
	"gorm.io/datatypes"
)

// ToolSession is the durable row of a tool session.
// Timestamps are ISO-8601 strings in types.TimestampLayout.
type ToolSession struct {
	ID                string         `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	UserID            string         `gorm:"column:user_id;type:varchar(64);index;not null" json:"user_id"`
	ConversationID    *string        `gorm:"column:conversation_id;type:varchar(64)" json:"conversation_id"`
	ProjectID         *string        `gorm:"column:project_id;type:varchar(64);index" json:"project_id"`
	CurrentPhase      string         `gorm:"column:current_phase;type:varchar(32)" json:"current_phase"`
	ActiveTool        *string        `gorm:"column:active_tool;type:varchar(128)" json:"active_tool"`
	PreviousTool      *string        `gorm:"column:previous_tool;type:varchar(128)" json:"previous_tool"`
	ToolChain         datatypes.JSON `gorm:"column:tool_chain" json:"tool_chain"`
	SharedContext     datatypes.JSON `gorm:"column:shared_context" json:"shared_context"`
	PendingInputs     datatypes.JSON `gorm:"column:pending_inputs" json:"pending_inputs"`
	ActiveWorkflow    datatypes.JSON `gorm:"column:active_workflow" json:"active_workflow"`
	InteractionsCount int            `gorm:"column:interactions_count" json:"interactions_count"`
	CreatedAt         string         `gorm:"column:created_at;type:varchar(32);index" json:"created_at"`
	UpdatedAt         string         `gorm:"column:updated_at;type:varchar(32)" json:"updated_at"`
}

func (ToolSession) TableName() string {
	return "tool_sessions"
}
