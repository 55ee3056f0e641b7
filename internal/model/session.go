package model

import (
	"time"

	"gorm.io/datatypes"
)

// Session 代表一次完整的对话，在身份确认后写入 sessions 表。
type Session struct {
	ID         string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	IdentityID string     `gorm:"type:varchar(36);index;not null" json:"identityId"`
	Phase      Phase      `gorm:"type:varchar(20);not null" json:"phase"`
	StartedAt  time.Time  `gorm:"autoCreateTime" json:"startedAt"`
	EndedAt    *time.Time `gorm:"default:null" json:"endedAt"`
	Summary    string     `gorm:"type:text" json:"summary"`
	Outcome    string     `gorm:"type:varchar(50)" json:"outcome"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Session) TableName() string {
	return "sessions"
}

// TurnRecord 是持久化的单条对话消息，创建后不再修改。
// (session_id, turn_index) 唯一，turn_index 在会话内严格递增。
type TurnRecord struct {
	ID        string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID string            `gorm:"type:varchar(36);not null;uniqueIndex:idx_turn_session_index" json:"sessionId"`
	TurnIndex int               `gorm:"not null;uniqueIndex:idx_turn_session_index" json:"turnIndex"`
	Role      string            `gorm:"type:varchar(20);not null" json:"role"`
	Content   string            `gorm:"type:text;not null" json:"content"`
	Facts     datatypes.JSONMap `json:"facts"`
	CreatedAt time.Time         `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (TurnRecord) TableName() string {
	return "turn_records"
}
