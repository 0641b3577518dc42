package network

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/netcomp-backend/pkg/db/models"
)

// Repository manages persistence for sponsor edges and activity status.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Member, error)
	ListChildIDs(ctx context.Context, sponsorID uuid.UUID) ([]uuid.UUID, error)
	Create(ctx context.Context, member *models.Member) error
	UpdateActive(ctx context.Context, id uuid.UUID, active bool) (int64, error)
	ListActiveIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a member repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Member, error) {
	var member models.Member
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&member).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *repository) ListChildIDs(ctx context.Context, sponsorID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.Member{}).
		Where("sponsor_id = ?", sponsorID).
		Order("enrolled_at ASC").
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) Create(ctx context.Context, member *models.Member) error {
	return r.db.WithContext(ctx).Create(member).Error
}

func (r *repository) UpdateActive(ctx context.Context, id uuid.UUID, active bool) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Member{}).
		Where("id = ?", id).
		Update("active", active)
	return res.RowsAffected, res.Error
}

func (r *repository) ListActiveIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var active []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.Member{}).
		Where("id IN ? AND active = ?", ids, true).
		Pluck("id", &active).Error; err != nil {
		return nil, err
	}
	return active, nil
}
