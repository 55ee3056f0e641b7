// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import (
	"askto-go/internal/model"
	"time"
)

// MemoryWriteTask 是一次写入持久层失败后放入重试队列的任务。
// 重放使用同样的 TurnIndex 和幂等的合并/upsert，重复消费不会产生重复数据。
type MemoryWriteTask struct {
	TaskID     string             `json:"task_id"`
	IdentityID string             `json:"identity_id"`
	SessionID  string             `json:"session_id,omitempty"`
	Turns      []model.TurnRecord `json:"turns,omitempty"`
	Facts      model.Facts        `json:"facts,omitempty"`
	EnqueuedAt time.Time          `json:"enqueued_at"`
}
