package repository

import (
	"askto-go/internal/model"

	"gorm.io/gorm"
)

// AutoMigrate 创建或更新持久层所需的全部表。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Identity{},
		&model.Profile{},
		&model.Session{},
		&model.TurnRecord{},
		&model.Insight{},
	)
}
