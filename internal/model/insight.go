package model

import "time"

const (
	InsightTypeSpending        = "spending"
	InsightTypeComputedSavings = "computed_savings"
)

// Insight 是由事实推导出的指标，(identity_id, insight_type, insight_key) 唯一。
type Insight struct {
	ID              string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	IdentityID      string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_insight_identity_type_key" json:"identityId"`
	InsightType     string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_insight_identity_type_key" json:"insightType"`
	InsightKey      string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_insight_identity_type_key" json:"insightKey"`
	InsightValue    string    `gorm:"type:text;not null" json:"insightValue"`
	NumericValue    *float64  `json:"numericValue"`
	Confidence      float64   `gorm:"not null" json:"confidence"`
	SourceSessionID *string   `gorm:"type:varchar(36)" json:"sourceSessionId"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Insight) TableName() string {
	return "insights"
}

// InsightInput 描述一次洞察写入。
type InsightInput struct {
	Type            string
	Key             string
	Value           string
	Numeric         *float64
	Confidence      float64
	SourceSessionID *string
}
