package pipeline

import (
	"askto-go/internal/service"
	"askto-go/pkg/log"
	"askto-go/pkg/tasks"
	"context"
	"errors"
)

// MemoryReplayer 消费重试队列，把写入失败的增量重新写入持久层。
type MemoryReplayer struct {
	memory service.MemoryService
}

// NewMemoryReplayer 创建一个新的 MemoryReplayer 实例。
func NewMemoryReplayer(memory service.MemoryService) *MemoryReplayer {
	return &MemoryReplayer{memory: memory}
}

// Process 重放一个写入任务。对话记录按 (session_id, turn_index) 去重，画像合并和洞察 upsert 幂等，
// 重复投递不会产生重复数据。
func (r *MemoryReplayer) Process(ctx context.Context, task tasks.MemoryWriteTask) error {
	if task.IdentityID == "" {
		log.Warnf("[MemoryReplayer] 任务 %s 缺少身份 ID，丢弃", task.TaskID)
		return nil
	}
	log.Infof("[MemoryReplayer] 重放任务 %s, 身份 %s, %d 条对话记录", task.TaskID, task.IdentityID, len(task.Turns))
	_, err := r.memory.WriteDurable(ctx, task.IdentityID, service.DurableDelta{
		SessionID: task.SessionID,
		Turns:     task.Turns,
		Facts:     task.Facts,
	})
	if errors.Is(err, service.ErrIdentityNotFound) {
		// 重试也不会成功
		log.Warnf("[MemoryReplayer] 任务 %s 的身份 %s 不存在，丢弃", task.TaskID, task.IdentityID)
		return nil
	}
	return err
}
