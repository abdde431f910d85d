package repository

import (
	"fmt"

	"gorm.io/gorm"

	"gopherai-rag/internal/model"
)

func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.Source{}, &model.Fragment{}); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	return nil
}
