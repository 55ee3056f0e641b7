package repository

import (
	"askto-go/internal/model"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSessionNotFound 表示持久层中不存在该会话。
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository 接口定义了会话和对话轮次的持久化操作。
type SessionRepository interface {
	Create(ctx context.Context, identityID string, phase model.Phase) (*model.Session, error)
	FindByID(ctx context.Context, sessionID string) (*model.Session, error)
	End(ctx context.Context, sessionID, summary, outcome string) error
	ListByIdentity(ctx context.Context, identityID string, phase model.Phase, limit int) ([]model.Session, error)
	AppendTurnRecord(ctx context.Context, record *model.TurnRecord) error
	ListTurnRecords(ctx context.Context, sessionID string) ([]model.TurnRecord, error)
}

// sessionRepository 是 SessionRepository 接口的 GORM 实现。
type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// Create 为身份创建一个新的会话。
func (r *sessionRepository) Create(ctx context.Context, identityID string, phase model.Phase) (*model.Session, error) {
	session := &model.Session{
		ID:         uuid.NewString(),
		IdentityID: identityID,
		Phase:      phase,
		StartedAt:  time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// FindByID 根据 ID 查找会话。
func (r *sessionRepository) FindByID(ctx context.Context, sessionID string) (*model.Session, error) {
	var session model.Session
	err := r.db.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return &session, nil
}

// End 记录会话的结束时间、摘要和结果标签。
func (r *sessionRepository) End(ctx context.Context, sessionID, summary, outcome string) error {
	result := r.db.WithContext(ctx).Model(&model.Session{}).Where("id = ?", sessionID).Updates(map[string]interface{}{
		"ended_at": time.Now(),
		"summary":  summary,
		"outcome":  outcome,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to end session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ListByIdentity 按开始时间倒序列出身份的会话，phase 为空时不按阶段过滤。
func (r *sessionRepository) ListByIdentity(ctx context.Context, identityID string, phase model.Phase, limit int) ([]model.Session, error) {
	var sessions []model.Session
	db := r.db.WithContext(ctx).Where("identity_id = ?", identityID)
	if phase != "" {
		db = db.Where("phase = ?", phase)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	if err := db.Order("started_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// AppendTurnRecord 写入一条对话记录。相同 (session_id, turn_index) 的重复写入会被忽略，
// 所以重放失败任务是安全的。
func (r *sessionRepository) AppendTurnRecord(ctx context.Context, record *model.TurnRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "turn_index"}},
		DoNothing: true,
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("failed to append turn record: %w", err)
	}
	return nil
}

// ListTurnRecords 按 turn_index 顺序返回会话的全部对话记录。
func (r *sessionRepository) ListTurnRecords(ctx context.Context, sessionID string) ([]model.TurnRecord, error) {
	var records []model.TurnRecord
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("turn_index ASC").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list turn records: %w", err)
	}
	return records, nil
}
