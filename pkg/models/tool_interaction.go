package models

import (
	"gorm.io/datatypes"
)

// ToolInteraction is the durable row of one tool invocation inside a session.
type ToolInteraction struct {
	ID           string         `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	SessionID    string         `gorm:"column:session_id;type:varchar(64);index;not null" json:"session_id"`
	ToolID       string         `gorm:"column:tool_id;type:varchar(128);index;not null" json:"tool_id"`
	Action       string         `gorm:"column:action;type:varchar(128)" json:"action"`
	Inputs       datatypes.JSON `gorm:"column:inputs" json:"inputs"`
	Outputs      datatypes.JSON `gorm:"column:outputs" json:"outputs"`
	TokensUsed   int            `gorm:"column:tokens_used" json:"tokens_used"`
	CostUSD      float64        `gorm:"column:cost_usd;type:decimal(12,6)" json:"cost_usd"`
	DurationMs   int64          `gorm:"column:duration_ms" json:"duration_ms"`
	Success      bool           `gorm:"column:success;index" json:"success"`
	ErrorMessage *string        `gorm:"column:error_message;type:text" json:"error_message"`
	CreatedAt    string         `gorm:"column:created_at;type:varchar(32);index" json:"created_at"`
}

func (ToolInteraction) TableName() string {
	return "tool_interactions"
}
