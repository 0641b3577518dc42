package commissions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/netcomp-backend/pkg/db/models"
	"github.com/angelmondragon/netcomp-backend/pkg/pagination"
)

// Repository manages settlement rows and their commission records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindSettlement(ctx context.Context, orderID string) (*models.CommissionSettlement, error)
	CreateSettlement(ctx context.Context, settlement *models.CommissionSettlement) error
	CreateRecord(ctx context.Context, record *models.CommissionRecord) error
	ListByOrder(ctx context.Context, orderID string) ([]models.CommissionRecord, error)
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.CommissionRecord, error)
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

// FindSettlement returns nil without error for an unsettled order.
func (r *repository) FindSettlement(ctx context.Context, orderID string) (*models.CommissionSettlement, error) {
	var settlement models.CommissionSettlement
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&settlement).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

func (r *repository) CreateSettlement(ctx context.Context, settlement *models.CommissionSettlement) error {
	return r.db.WithContext(ctx).Create(settlement).Error
}

func (r *repository) CreateRecord(ctx context.Context, record *models.CommissionRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) ListByOrder(ctx context.Context, orderID string) ([]models.CommissionRecord, error) {
	var records []models.CommissionRecord
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("level ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) ListByRecipient(ctx context.Context, recipientID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.CommissionRecord, error) {
	var records []models.CommissionRecord
	if err := r.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Scopes(pagination.Keyset(cursor, limit)).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
