package repository

import (
	"askto-go/internal/model"
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InsightRepository 接口定义了洞察指标的持久化操作。
type InsightRepository interface {
	Upsert(ctx context.Context, identityID string, input model.InsightInput) error
	UpsertMany(ctx context.Context, identityID string, inputs []model.InsightInput) error
	List(ctx context.Context, identityID, insightType string) ([]model.Insight, error)
}

// insightRepository 是 InsightRepository 接口的 GORM 实现。
type insightRepository struct {
	db *gorm.DB
}

// NewInsightRepository 创建一个新的 InsightRepository 实例。
func NewInsightRepository(db *gorm.DB) InsightRepository {
	return &insightRepository{db: db}
}

// Upsert 按 (identity_id, insight_type, insight_key) 写入一条洞察，已存在时原地覆盖。
func (r *insightRepository) Upsert(ctx context.Context, identityID string, input model.InsightInput) error {
	if err := upsertInsight(r.db.WithContext(ctx), identityID, input); err != nil {
		return fmt.Errorf("failed to upsert insight %s/%s: %w", input.Type, input.Key, err)
	}
	return nil
}

// UpsertMany 在一个事务中写入多条洞察。
func (r *insightRepository) UpsertMany(ctx context.Context, identityID string, inputs []model.InsightInput) error {
	if len(inputs) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, input := range inputs {
			if err := upsertInsight(tx, identityID, input); err != nil {
				return fmt.Errorf("%s/%s: %w", input.Type, input.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert insights: %w", err)
	}
	return nil
}

func upsertInsight(db *gorm.DB, identityID string, input model.InsightInput) error {
	confidence := input.Confidence
	if confidence == 0 {
		confidence = 1.0
	}
	insight := &model.Insight{
		ID:              uuid.NewString(),
		IdentityID:      identityID,
		InsightType:     input.Type,
		InsightKey:      input.Key,
		InsightValue:    input.Value,
		NumericValue:    input.Numeric,
		Confidence:      confidence,
		SourceSessionID: input.SourceSessionID,
	}
	updates := []string{"insight_value", "numeric_value", "confidence", "updated_at"}
	// 没有来源会话时保留原来的回溯引用
	if input.SourceSessionID != nil {
		updates = append(updates, "source_session_id")
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "identity_id"},
			{Name: "insight_type"},
			{Name: "insight_key"},
		},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(insight).Error
}

// List 列出身份的洞察，insightType 为空时返回全部类型。
func (r *insightRepository) List(ctx context.Context, identityID, insightType string) ([]model.Insight, error) {
	var insights []model.Insight
	db := r.db.WithContext(ctx).Where("identity_id = ?", identityID)
	if insightType != "" {
		db = db.Where("insight_type = ?", insightType)
	}
	if err := db.Order("insight_type ASC, insight_key ASC").Find(&insights).Error; err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}
	return insights, nil
}
