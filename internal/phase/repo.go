package phase

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/netcomp-backend/pkg/db/models"
)

// Repository persists overrides and one-time tier awards.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOverride(ctx context.Context, memberID uuid.UUID) (*models.PhaseOverride, error)
	UpsertOverride(ctx context.Context, override *models.PhaseOverride) error
	DeleteOverride(ctx context.Context, memberID uuid.UUID) (int64, error)
	ListAwards(ctx context.Context, memberID uuid.UUID) ([]models.TierAward, error)
	CreateAward(ctx context.Context, award *models.TierAward) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindOverride returns nil without error when no override exists.
func (r *repository) FindOverride(ctx context.Context, memberID uuid.UUID) (*models.PhaseOverride, error) {
	var override models.PhaseOverride
	err := r.db.WithContext(ctx).Where("member_id = ?", memberID).First(&override).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &override, nil
}

func (r *repository) UpsertOverride(ctx context.Context, override *models.PhaseOverride) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "member_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"tier", "reason", "set_by", "set_at"}),
		}).
		Create(override).Error
}

func (r *repository) DeleteOverride(ctx context.Context, memberID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Where("member_id = ?", memberID).Delete(&models.PhaseOverride{})
	return res.RowsAffected, res.Error
}

func (r *repository) ListAwards(ctx context.Context, memberID uuid.UUID) ([]models.TierAward, error) {
	var awards []models.TierAward
	if err := r.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("tier ASC").
		Find(&awards).Error; err != nil {
		return nil, err
	}
	return awards, nil
}

func (r *repository) CreateAward(ctx context.Context, award *models.TierAward) error {
	return r.db.WithContext(ctx).Create(award).Error
}
