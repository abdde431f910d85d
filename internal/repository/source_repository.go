package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gopherai-rag/internal/model"
)

type SourceRepository struct {
	db *gorm.DB
}

func NewSourceRepository(db *gorm.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// GetOrCreate returns the source for key, inserting it if absent. Concurrent
// callers with the same key all observe the same row: the insert is a no-op
// on conflict with the unique key index.
func (r *SourceRepository) GetOrCreate(ctx context.Context, key string) (*model.Source, error) {
	source := model.Source{Key: key}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "doc_key"}}, DoNothing: true}).
		Create(&source).Error
	if err != nil {
		return nil, fmt.Errorf("create source failed: %w", err)
	}

	found, err := r.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("source %q vanished after insert", key)
	}
	return found, nil
}

func (r *SourceRepository) FindByKey(ctx context.Context, key string) (*model.Source, error) {
	var source model.Source
	if err := r.db.WithContext(ctx).Where("doc_key = ?", key).First(&source).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query source by key failed: %w", err)
	}
	return &source, nil
}

func (r *SourceRepository) GetByID(ctx context.Context, id uint) (*model.Source, error) {
	var source model.Source
	if err := r.db.WithContext(ctx).First(&source, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query source by id failed: %w", err)
	}
	return &source, nil
}

// List returns every source with its fragment count, newest first.
func (r *SourceRepository) List(ctx context.Context) ([]model.SourceSummary, error) {
	var list []model.SourceSummary
	err := r.db.WithContext(ctx).
		Model(&model.Source{}).
		Select("sources.id, sources.doc_key, sources.created_at, COUNT(fragments.id) AS fragment_count").
		Joins("LEFT JOIN fragments ON fragments.source_id = sources.id").
		Group("sources.id, sources.doc_key, sources.created_at").
		Order("sources.created_at DESC, sources.id DESC").
		Scan(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list sources failed: %w", err)
	}
	return list, nil
}

// Delete removes a source and its fragments in one transaction. It reports
// false when no such source exists.
func (r *SourceRepository) Delete(ctx context.Context, id uint) (bool, error) {
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_id = ?", id).Delete(&model.Fragment{}).Error; err != nil {
			return fmt.Errorf("delete fragments by source failed: %w", err)
		}
		res := tx.Delete(&model.Source{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete source failed: %w", res.Error)
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}
