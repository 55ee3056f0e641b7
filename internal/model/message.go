package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage 代表存储在 Redis 中的单条对话消息。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionMetadata 是会话在 Redis 哈希中的元数据镜像。
// TurnCount 始终等于消息列表长度。
type SessionMetadata struct {
	SessionID        string
	Phase            Phase
	IdentityID       string
	PhoneLastFour    string
	IdentityVerified bool
	IsReturning      bool
	Degraded         bool
	DurableSessionID string
	TurnCount        int
	CreatedAt        time.Time
}

// SessionMetadataUpdate 是对元数据的部分更新，nil 字段保持不变。
type SessionMetadataUpdate struct {
	Phase            *Phase
	IdentityID       *string
	PhoneLastFour    *string
	IdentityVerified *bool
	IsReturning      *bool
	Degraded         *bool
	DurableSessionID *string
}

// IsEmpty 判断更新是否不包含任何字段。
func (u SessionMetadataUpdate) IsEmpty() bool {
	return u.Phase == nil && u.IdentityID == nil && u.PhoneLastFour == nil &&
		u.IdentityVerified == nil && u.IsReturning == nil && u.Degraded == nil &&
		u.DurableSessionID == nil
}

// SessionSnapshot 是一次读取得到的临时会话快照。
// Metadata 为 nil 表示会话从未存在或已过期。
type SessionSnapshot struct {
	Metadata *SessionMetadata
	Turns    []ChatMessage
}

// Exists 判断快照是否对应一个仍然存活的会话。
func (s SessionSnapshot) Exists() bool {
	return s.Metadata != nil
}

// DurableContext 是某个身份在持久层中的全部上下文。
type DurableContext struct {
	Identity *Identity
	Profile  *Profile
	Sessions []Session // 按开始时间倒序
	Insights []Insight
}
