// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"askto-go/internal/config"
	"askto-go/pkg/log"
	"askto-go/pkg/tasks"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// maxAttempts 是同一个任务的最大处理次数，达到后提交 offset 放弃重试。
const maxAttempts = 3

// TaskProcessor 处理从队列中取出的持久化写入任务。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.MemoryWriteTask) error
}

// Producer 把写入失败的持久化增量发送到重试主题。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	log.Infof("Kafka 生产者初始化成功, topic: %s", cfg.Topic)
	return &Producer{writer: w}
}

// PublishMemoryWrite 发送一个持久化写入任务，同一身份的任务落在同一分区以保持顺序。
func (p *Producer) PublishMemoryWrite(ctx context.Context, task tasks.MemoryWriteTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.IdentityID),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

type outcome int

const (
	outcomeCommit outcome = iota
	outcomeRetry
)

func attemptsKey(taskID string) string {
	return fmt.Sprintf("kafka:attempts:%s", taskID)
}

// handleMessage 处理一条消息并决定是提交 offset 还是稍后重试。
// 失败次数记在 Redis 中，进程重启后仍然有效。
func handleMessage(ctx context.Context, rdb *redis.Client, processor TaskProcessor, value []byte) outcome {
	var task tasks.MemoryWriteTask
	if err := json.Unmarshal(value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		// 消息格式错误，直接提交，避免阻塞队列
		return outcomeCommit
	}

	key := attemptsKey(task.TaskID)
	if err := processor.Process(ctx, task); err != nil {
		log.Errorf("持久化写入任务失败: task=%s identity=%s err=%v", task.TaskID, task.IdentityID, err)
		attempts, incErr := rdb.Incr(ctx, key).Result()
		if incErr != nil {
			// Redis 异常时不提交 offset，让任务重试
			log.Warnf("记录任务失败次数出错: %v", incErr)
			return outcomeRetry
		}
		_ = rdb.Expire(ctx, key, 24*time.Hour).Err()
		if attempts >= maxAttempts {
			log.Errorf("持久化写入任务多次失败(>=%d)，提交 offset 终止重试: task=%s", maxAttempts, task.TaskID)
			return outcomeCommit
		}
		return outcomeRetry
	}

	log.Infof("持久化写入任务处理成功: task=%s identity=%s", task.TaskID, task.IdentityID)
	_ = rdb.Del(ctx, key).Err()
	return outcomeCommit
}

// maxRetryBackoff 是同一条消息两次重试之间的最长等待。
const maxRetryBackoff = time.Minute

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxRetryBackoff {
		return maxRetryBackoff
	}
	return d
}

// StartConsumer 启动消费者重放持久化写入任务，直到 ctx 被取消。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, rdb *redis.Client, processor TaskProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			return
		}

		backoff := time.Second
		for handleMessage(ctx, rdb, processor, m.Value) == outcomeRetry {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff)
		}

		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}
