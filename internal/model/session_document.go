package model

import "time"

// SessionDocument 是写入 Elasticsearch 的已结束会话文档。
type SessionDocument struct {
	SessionID        string    `json:"session_id"`
	DurableSessionID string    `json:"durable_session_id,omitempty"`
	IdentityID       string    `json:"identity_id,omitempty"`
	PhoneLastFour    string    `json:"phone_last_four,omitempty"`
	Phase            Phase     `json:"phase"`
	Summary          string    `json:"summary"`
	Outcome          string    `json:"outcome"`
	TurnCount        int       `json:"turn_count"`
	EndedAt          time.Time `json:"ended_at"`
}

// SessionSearchHit 是会话检索的一条结果。
type SessionSearchHit struct {
	SessionDocument
	Score float64 `json:"score"`
}

// Transcript 是会话结束时归档到对象存储的完整对话。
type Transcript struct {
	SessionID        string        `json:"sessionId"`
	DurableSessionID string        `json:"durableSessionId,omitempty"`
	IdentityID       string        `json:"identityId,omitempty"`
	Phase            Phase         `json:"phase"`
	Summary          string        `json:"summary,omitempty"`
	Outcome          string        `json:"outcome,omitempty"`
	Turns            []ChatMessage `json:"turns"`
	EndedAt          time.Time     `json:"endedAt"`
}
