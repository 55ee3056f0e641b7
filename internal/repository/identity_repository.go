package repository

import (
	"askto-go/internal/model"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IdentityRepository 接口定义了身份与画像的持久化操作。
type IdentityRepository interface {
	FindByPhoneHash(ctx context.Context, phoneHash string) (*model.Identity, error)
	FindByID(ctx context.Context, identityID string) (*model.Identity, error)
	CreateWithProfile(ctx context.Context, phoneHash, lastFour string) (*model.Identity, bool, error)
	Update(ctx context.Context, identityID string, update model.IdentityUpdate) error
	GetProfile(ctx context.Context, identityID string) (*model.Profile, error)
	MergeProfile(ctx context.Context, identityID string, delta model.ProfileDelta) (*model.Profile, error)
}

// identityRepository 是 IdentityRepository 接口的 GORM 实现。
type identityRepository struct {
	db *gorm.DB
}

// NewIdentityRepository 创建一个新的 IdentityRepository 实例。
func NewIdentityRepository(db *gorm.DB) IdentityRepository {
	return &identityRepository{db: db}
}

// FindByPhoneHash 根据号码哈希查找身份，不存在时返回 nil, nil。
func (r *identityRepository) FindByPhoneHash(ctx context.Context, phoneHash string) (*model.Identity, error) {
	var identity model.Identity
	err := r.db.WithContext(ctx).Where("phone_hash = ?", phoneHash).First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	return &identity, nil
}

// FindByID 根据 ID 查找身份，不存在时返回 nil, nil。
func (r *identityRepository) FindByID(ctx context.Context, identityID string) (*model.Identity, error) {
	var identity model.Identity
	err := r.db.WithContext(ctx).Where("id = ?", identityID).First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	return &identity, nil
}

// CreateWithProfile 在同一个事务中创建身份和空画像。
// 并发创建同一号码时唯一索引保证只有一条成功，失败方回读已存在的记录，第二个返回值为 false。
func (r *identityRepository) CreateWithProfile(ctx context.Context, phoneHash, lastFour string) (*model.Identity, bool, error) {
	identity := &model.Identity{
		ID:            uuid.NewString(),
		PhoneHash:     phoneHash,
		PhoneLastFour: lastFour,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(identity).Error; err != nil {
			return err
		}
		return tx.Create(model.NewProfile(uuid.NewString(), identity.ID)).Error
	})
	if err == nil {
		return identity, true, nil
	}

	existing, findErr := r.FindByPhoneHash(ctx, phoneHash)
	if findErr == nil && existing != nil {
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("failed to create identity: %w", err)
}

// Update 更新身份的可变字段。
func (r *identityRepository) Update(ctx context.Context, identityID string, update model.IdentityUpdate) error {
	if update.IsEmpty() {
		return nil
	}
	columns := make(map[string]interface{})
	if update.Name != nil {
		columns["name"] = *update.Name
	}
	if update.Location != nil {
		columns["location"] = *update.Location
	}
	if update.WorkStatus != nil {
		columns["work_status"] = *update.WorkStatus
	}
	err := r.db.WithContext(ctx).Model(&model.Identity{}).Where("id = ?", identityID).Updates(columns).Error
	if err != nil {
		return fmt.Errorf("failed to update identity: %w", err)
	}
	return nil
}

// GetProfile 读取画像，不存在时返回 nil, nil。
func (r *identityRepository) GetProfile(ctx context.Context, identityID string) (*model.Profile, error) {
	var profile model.Profile
	err := r.db.WithContext(ctx).Where("identity_id = ?", identityID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &profile, nil
}

// MergeProfile 把增量合并进画像并返回合并后的结果，画像不存在时会先创建。
// 身份不存在时返回 ErrIdentityNotFound。
func (r *identityRepository) MergeProfile(ctx context.Context, identityID string, delta model.ProfileDelta) (*model.Profile, error) {
	var merged *model.Profile
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var profile model.Profile
		err := tx.Where("identity_id = ?", identityID).First(&profile).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			var count int64
			if err := tx.Model(&model.Identity{}).Where("id = ?", identityID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrIdentityNotFound
			}
			profile = *model.NewProfile(uuid.NewString(), identityID)
			profile.Merge(delta)
			merged = &profile
			return tx.Create(&profile).Error
		}
		if err != nil {
			return err
		}
		profile.Merge(delta)
		merged = &profile
		return tx.Save(&profile).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to merge profile: %w", err)
	}
	return merged, nil
}
