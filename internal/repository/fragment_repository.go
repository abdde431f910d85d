package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gopherai-rag/internal/model"
)

type FragmentRepository struct {
	db *gorm.DB
}

func NewFragmentRepository(db *gorm.DB) *FragmentRepository {
	return &FragmentRepository{db: db}
}

func (r *FragmentRepository) Exists(ctx context.Context, sourceID uint, snippet string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Fragment{}).
		Where("source_id = ? AND snippet_hash = ?", sourceID, model.HashSnippet(snippet)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check fragment exists failed: %w", err)
	}
	return count > 0, nil
}

// Upsert stores fragment unless (source, snippet) is already present, in
// which case nothing is written and created is false. The snippet and its
// vector land in a single row insert.
func (r *FragmentRepository) Upsert(ctx context.Context, fragment *model.Fragment) (bool, error) {
	fragment.SnippetHash = model.HashSnippet(fragment.Snippet)
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_id"}, {Name: "snippet_hash"}},
			DoNothing: true,
		}).
		Create(fragment)
	if res.Error != nil {
		return false, fmt.Errorf("upsert fragment failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *FragmentRepository) GetByID(ctx context.Context, id uint) (*model.Fragment, error) {
	var fragment model.Fragment
	if err := r.db.WithContext(ctx).First(&fragment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query fragment by id failed: %w", err)
	}
	return &fragment, nil
}

// ListAll loads every fragment with its vector, ordered by id.
func (r *FragmentRepository) ListAll(ctx context.Context) ([]model.Fragment, error) {
	var fragments []model.Fragment
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&fragments).Error; err != nil {
		return nil, fmt.Errorf("list fragments failed: %w", err)
	}
	return fragments, nil
}

func (r *FragmentRepository) CountBySource(ctx context.Context, sourceID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Fragment{}).Where("source_id = ?", sourceID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count fragments failed: %w", err)
	}
	return count, nil
}
