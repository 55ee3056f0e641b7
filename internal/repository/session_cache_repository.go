// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"askto-go/internal/model"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// SessionCacheRepository 定义了会话临时缓存的操作接口。
// 元数据存放在 session:{id} 哈希中，消息存放在 session:{id}:messages 列表中，
// 每次写操作都会刷新整组 key 的 TTL。
type SessionCacheRepository interface {
	CreateSession(ctx context.Context, meta model.SessionMetadata) error
	GetMetadata(ctx context.Context, sessionID string) (*model.SessionMetadata, error)
	UpdateMetadata(ctx context.Context, sessionID string, update model.SessionMetadataUpdate) error
	AppendTurn(ctx context.Context, sessionID string, msg model.ChatMessage) (int, error)
	ListTurns(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error)
	DeleteAll(ctx context.Context, sessionID string) error

	SetContext(ctx context.Context, sessionID string, payload []byte) error
	GetContext(ctx context.Context, sessionID string) ([]byte, error)

	SetActiveSession(ctx context.Context, identityID, sessionID string) error
	GetActiveSession(ctx context.Context, identityID string) (string, error)

	AcquireTurnLock(ctx context.Context, sessionID, owner string, ttl time.Duration) (bool, error)
	RenewTurnLock(ctx context.Context, sessionID, owner string, ttl time.Duration) (bool, error)
	ReleaseTurnLock(ctx context.Context, sessionID, owner string) error
}

type redisSessionCacheRepository struct {
	redisClient *redis.Client
	sessionTTL  time.Duration
	contextTTL  time.Duration
}

// NewSessionCacheRepository 创建一个新的 SessionCacheRepository 实例。
func NewSessionCacheRepository(redisClient *redis.Client, sessionTTL, contextTTL time.Duration) SessionCacheRepository {
	return &redisSessionCacheRepository{
		redisClient: redisClient,
		sessionTTL:  sessionTTL,
		contextTTL:  contextTTL,
	}
}

// appendTurnScript 原子地追加消息、同步 turn_count 并刷新 TTL。
// KEYS[1]=元数据哈希 KEYS[2]=消息列表 ARGV[1]=消息 JSON ARGV[2]=TTL 秒数
var appendTurnScript = redis.NewScript(`
local n = redis.call('RPUSH', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'turn_count', tostring(n))
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[2]))
redis.call('EXPIRE', KEYS[2], tonumber(ARGV[2]))
return n
`)

// releaseLockScript 只删除属于 owner 的锁。
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// renewLockScript 只为属于 owner 的锁续期。ARGV[2]=TTL 毫秒数
var renewLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[2]))
end
return 0
`)

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

func messagesKey(sessionID string) string {
	return "session:" + sessionID + ":messages"
}

func contextKey(sessionID string) string {
	return "session:" + sessionID + ":context"
}

func lockKey(sessionID string) string {
	return "session:" + sessionID + ":lock"
}

func activeSessionKey(identityID string) string {
	return fmt.Sprintf("user:%s:active_session", identityID)
}

// CreateSession 写入一份完整的会话元数据，turn_count 取当前消息列表长度。
func (r *redisSessionCacheRepository) CreateSession(ctx context.Context, meta model.SessionMetadata) error {
	key := sessionKey(meta.SessionID)
	// 元数据过期而消息列表仍在时，保持计数与列表一致
	n, err := r.redisClient.LLen(ctx, messagesKey(meta.SessionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to read message count: %w", err)
	}
	meta.TurnCount = int(n)
	fields := encodeMetadata(meta)
	_, err = r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, r.sessionTTL)
		pipe.Expire(ctx, messagesKey(meta.SessionID), r.sessionTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create session metadata: %w", err)
	}
	return nil
}

// GetMetadata 读取会话元数据，会话不存在或已过期时返回 nil。
func (r *redisSessionCacheRepository) GetMetadata(ctx context.Context, sessionID string) (*model.SessionMetadata, error) {
	data, err := r.redisClient.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session metadata: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	meta := decodeMetadata(data)
	if meta.SessionID == "" {
		meta.SessionID = sessionID
	}
	return meta, nil
}

// UpdateMetadata 更新部分元数据字段并刷新整组 key 的 TTL。
func (r *redisSessionCacheRepository) UpdateMetadata(ctx context.Context, sessionID string, update model.SessionMetadataUpdate) error {
	if update.IsEmpty() {
		return nil
	}
	fields := encodeMetadataUpdate(update)
	_, err := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey(sessionID), fields)
		pipe.Expire(ctx, sessionKey(sessionID), r.sessionTTL)
		pipe.Expire(ctx, messagesKey(sessionID), r.sessionTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update session metadata: %w", err)
	}
	return nil
}

// AppendTurn 追加一条消息并返回追加后的消息总数。
func (r *redisSessionCacheRepository) AppendTurn(ctx context.Context, sessionID string, msg model.ChatMessage) (int, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal chat message: %w", err)
	}
	ttl := int64(r.sessionTTL / time.Second)
	n, err := appendTurnScript.Run(ctx, r.redisClient,
		[]string{sessionKey(sessionID), messagesKey(sessionID)},
		string(payload), ttl).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to append chat message: %w", err)
	}
	return n, nil
}

// ListTurns 按顺序返回会话消息；limit > 0 时只返回最近的 limit 条。
func (r *redisSessionCacheRepository) ListTurns(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := r.redisClient.LRange(ctx, messagesKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	messages := make([]model.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg model.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// DeleteAll 删除会话的整组 key。
func (r *redisSessionCacheRepository) DeleteAll(ctx context.Context, sessionID string) error {
	err := r.redisClient.Del(ctx,
		sessionKey(sessionID),
		messagesKey(sessionID),
		contextKey(sessionID),
		lockKey(sessionID),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to delete session keys: %w", err)
	}
	return nil
}

// SetContext 缓存为该会话计算出的上下文。
func (r *redisSessionCacheRepository) SetContext(ctx context.Context, sessionID string, payload []byte) error {
	if err := r.redisClient.Set(ctx, contextKey(sessionID), payload, r.contextTTL).Err(); err != nil {
		return fmt.Errorf("failed to set session context: %w", err)
	}
	return nil
}

// GetContext 读取缓存的上下文，不存在时返回 nil。
func (r *redisSessionCacheRepository) GetContext(ctx context.Context, sessionID string) ([]byte, error) {
	data, err := r.redisClient.Get(ctx, contextKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session context: %w", err)
	}
	return data, nil
}

// SetActiveSession 记录某个身份当前活跃的会话。
func (r *redisSessionCacheRepository) SetActiveSession(ctx context.Context, identityID, sessionID string) error {
	if err := r.redisClient.Set(ctx, activeSessionKey(identityID), sessionID, r.sessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to set active session: %w", err)
	}
	return nil
}

// GetActiveSession 返回某个身份当前活跃的会话 ID，不存在时返回空字符串。
func (r *redisSessionCacheRepository) GetActiveSession(ctx context.Context, identityID string) (string, error) {
	id, err := r.redisClient.Get(ctx, activeSessionKey(identityID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get active session: %w", err)
	}
	return id, nil
}

// AcquireTurnLock 尝试获取会话的轮次锁，同一会话同一时刻只允许一个轮次执行。
func (r *redisSessionCacheRepository) AcquireTurnLock(ctx context.Context, sessionID, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.redisClient.SetNX(ctx, lockKey(sessionID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire turn lock: %w", err)
	}
	return ok, nil
}

// RenewTurnLock 延长 owner 持有的轮次锁，锁已过期或被他人持有时返回 false。
func (r *redisSessionCacheRepository) RenewTurnLock(ctx context.Context, sessionID, owner string, ttl time.Duration) (bool, error) {
	n, err := renewLockScript.Run(ctx, r.redisClient, []string{lockKey(sessionID)}, owner, ttl.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("failed to renew turn lock: %w", err)
	}
	return n == 1, nil
}

// ReleaseTurnLock 释放 owner 持有的轮次锁。
func (r *redisSessionCacheRepository) ReleaseTurnLock(ctx context.Context, sessionID, owner string) error {
	if err := releaseLockScript.Run(ctx, r.redisClient, []string{lockKey(sessionID)}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release turn lock: %w", err)
	}
	return nil
}

func encodeMetadata(meta model.SessionMetadata) map[string]interface{} {
	createdAt := meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return map[string]interface{}{
		"session_id":         meta.SessionID,
		"phase":              string(meta.Phase),
		"identity_id":        meta.IdentityID,
		"phone_last_four":    meta.PhoneLastFour,
		"identity_verified":  formatBool(meta.IdentityVerified),
		"is_returning":       formatBool(meta.IsReturning),
		"degraded":           formatBool(meta.Degraded),
		"durable_session_id": meta.DurableSessionID,
		"turn_count":         meta.TurnCount,
		"created_at":         createdAt.UTC().Format(time.RFC3339Nano),
	}
}

func encodeMetadataUpdate(u model.SessionMetadataUpdate) map[string]interface{} {
	fields := make(map[string]interface{})
	if u.Phase != nil {
		fields["phase"] = string(*u.Phase)
	}
	if u.IdentityID != nil {
		fields["identity_id"] = *u.IdentityID
	}
	if u.PhoneLastFour != nil {
		fields["phone_last_four"] = *u.PhoneLastFour
	}
	if u.IdentityVerified != nil {
		fields["identity_verified"] = formatBool(*u.IdentityVerified)
	}
	if u.IsReturning != nil {
		fields["is_returning"] = formatBool(*u.IsReturning)
	}
	if u.Degraded != nil {
		fields["degraded"] = formatBool(*u.Degraded)
	}
	if u.DurableSessionID != nil {
		fields["durable_session_id"] = *u.DurableSessionID
	}
	return fields
}

func decodeMetadata(data map[string]string) *model.SessionMetadata {
	meta := &model.SessionMetadata{
		SessionID:        data["session_id"],
		Phase:            model.Phase(data["phase"]),
		IdentityID:       data["identity_id"],
		PhoneLastFour:    data["phone_last_four"],
		IdentityVerified: data["identity_verified"] == "1",
		IsReturning:      data["is_returning"] == "1",
		Degraded:         data["degraded"] == "1",
		DurableSessionID: data["durable_session_id"],
	}
	if n, err := strconv.Atoi(data["turn_count"]); err == nil {
		meta.TurnCount = n
	}
	if t, err := time.Parse(time.RFC3339Nano, data["created_at"]); err == nil {
		meta.CreatedAt = t
	}
	return meta
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
