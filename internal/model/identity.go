package model

import (
	"time"

	"gorm.io/datatypes"
)

// Identity 定义了 identities 表的 ORM 模型。
// 一个规范化手机号只对应一条记录，号码本身只以 SHA-256 哈希形式保存。
type Identity struct {
	ID            string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	PhoneHash     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	PhoneLastFour string    `gorm:"type:varchar(4)" json:"phoneLastFour"`
	Name          string    `gorm:"type:varchar(255)" json:"name"`
	Location      string    `gorm:"type:varchar(255)" json:"location"`
	WorkStatus    string    `gorm:"type:varchar(100)" json:"workStatus"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Identity) TableName() string {
	return "identities"
}

// IdentityUpdate 描述对 Identity 可变字段的部分更新，nil 表示不修改。
type IdentityUpdate struct {
	Name       *string
	Location   *string
	WorkStatus *string
}

// IsEmpty 判断更新是否不包含任何字段。
func (u IdentityUpdate) IsEmpty() bool {
	return u.Name == nil && u.Location == nil && u.WorkStatus == nil
}

// Profile 与 Identity 一一对应，保存可合并的画像字段。
// 除 PainPoints 外均为浅合并的键值表，PainPoints 为去重追加的集合。
type Profile struct {
	ID               string                      `gorm:"type:varchar(36);primaryKey" json:"id"`
	IdentityID       string                      `gorm:"type:varchar(36);uniqueIndex;not null" json:"identityId"`
	SpendingPatterns datatypes.JSONMap           `json:"spendingPatterns"`
	FoodHabits       datatypes.JSONMap           `json:"foodHabits"`
	FinancialGoals   datatypes.JSONMap           `json:"financialGoals"`
	CurrentCards     datatypes.JSONMap           `json:"currentCards"`
	Preferences      datatypes.JSONMap           `json:"preferences"`
	PainPoints       datatypes.JSONSlice[string] `json:"painPoints"`
	CreatedAt        time.Time                   `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time                   `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Profile) TableName() string {
	return "profiles"
}

// NewProfile 返回一个所有字段都已初始化的空画像。
func NewProfile(id, identityID string) *Profile {
	return &Profile{
		ID:               id,
		IdentityID:       identityID,
		SpendingPatterns: datatypes.JSONMap{},
		FoodHabits:       datatypes.JSONMap{},
		FinancialGoals:   datatypes.JSONMap{},
		CurrentCards:     datatypes.JSONMap{},
		Preferences:      datatypes.JSONMap{},
		PainPoints:       datatypes.JSONSlice[string]{},
	}
}

// ProfileDelta 是一次画像合并的增量。
type ProfileDelta struct {
	SpendingPatterns map[string]interface{}
	FoodHabits       map[string]interface{}
	FinancialGoals   map[string]interface{}
	CurrentCards     map[string]interface{}
	Preferences      map[string]interface{}
	PainPoints       []string
}

// IsEmpty 判断增量是否为空。
func (d ProfileDelta) IsEmpty() bool {
	return len(d.SpendingPatterns) == 0 && len(d.FoodHabits) == 0 &&
		len(d.FinancialGoals) == 0 && len(d.CurrentCards) == 0 &&
		len(d.Preferences) == 0 && len(d.PainPoints) == 0
}

// Merge 把增量应用到画像上：键值表浅合并，后到的键覆盖，PainPoints 去重追加。
// 对同一个增量重复调用结果不变。
func (p *Profile) Merge(d ProfileDelta) {
	p.SpendingPatterns = mergeMap(p.SpendingPatterns, d.SpendingPatterns)
	p.FoodHabits = mergeMap(p.FoodHabits, d.FoodHabits)
	p.FinancialGoals = mergeMap(p.FinancialGoals, d.FinancialGoals)
	p.CurrentCards = mergeMap(p.CurrentCards, d.CurrentCards)
	p.Preferences = mergeMap(p.Preferences, d.Preferences)
	p.PainPoints = appendUnique(p.PainPoints, d.PainPoints)
}

func mergeMap(dst datatypes.JSONMap, src map[string]interface{}) datatypes.JSONMap {
	if dst == nil {
		dst = datatypes.JSONMap{}
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func appendUnique(dst datatypes.JSONSlice[string], src []string) datatypes.JSONSlice[string] {
	if dst == nil {
		dst = datatypes.JSONSlice[string]{}
	}
	seen := make(map[string]struct{}, len(dst))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range src {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		dst = append(dst, s)
	}
	return dst
}
