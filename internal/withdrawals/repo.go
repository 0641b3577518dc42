package withdrawals

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/netcomp-backend/pkg/db/models"
	"github.com/angelmondragon/netcomp-backend/pkg/enums"
	"github.com/angelmondragon/netcomp-backend/pkg/pagination"
)

var inFlightStatuses = []enums.PaymentRequestStatus{enums.PaymentRequestPending, enums.PaymentRequestProcessing}

// Repository manages payout wallets and payment requests.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindWallet(ctx context.Context, id uuid.UUID) (*models.PayoutWallet, error)
	ListWallets(ctx context.Context, activeOnly bool) ([]models.PayoutWallet, error)
	CreateWallet(ctx context.Context, wallet *models.PayoutWallet) error
	FindRequest(ctx context.Context, id uuid.UUID) (*models.PaymentRequest, error)
	FindRequestForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentRequest, error)
	CreateRequest(ctx context.Context, request *models.PaymentRequest) error
	UpdateRequest(ctx context.Context, id uuid.UUID, from enums.PaymentRequestStatus, updates map[string]any) (int64, error)
	ListByUser(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.PaymentRequest, error)
	ListStale(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.PaymentRequest, error)
	ListOverdueUsers(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	CountInFlight(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
	SumUsage(ctx context.Context, userID uuid.UUID, from, to, now time.Time) (int64, error)
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

func (r *repository) FindWallet(ctx context.Context, id uuid.UUID) (*models.PayoutWallet, error) {
	var wallet models.PayoutWallet
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) ListWallets(ctx context.Context, activeOnly bool) ([]models.PayoutWallet, error) {
	query := r.db.WithContext(ctx).Order("provider ASC").Order("name ASC")
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var wallets []models.PayoutWallet
	if err := query.Find(&wallets).Error; err != nil {
		return nil, err
	}
	return wallets, nil
}

func (r *repository) CreateWallet(ctx context.Context, wallet *models.PayoutWallet) error {
	return r.db.WithContext(ctx).Create(wallet).Error
}

func (r *repository) FindRequest(ctx context.Context, id uuid.UUID) (*models.PaymentRequest, error) {
	var request models.PaymentRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&request).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) FindRequestForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentRequest, error) {
	var request models.PaymentRequest
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&request).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) CreateRequest(ctx context.Context, request *models.PaymentRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

// UpdateRequest applies updates only while the row still holds status from.
func (r *repository) UpdateRequest(ctx context.Context, id uuid.UUID, from enums.PaymentRequestStatus, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.PaymentRequest, error) {
	var requests []models.PaymentRequest
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Scopes(pagination.Keyset(cursor, limit)).
		Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

// ListStale returns in-flight requests whose expiry has passed but is not yet
// persisted.
func (r *repository) ListStale(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.PaymentRequest, error) {
	var requests []models.PaymentRequest
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ? AND expires_at <= ?", userID, inFlightStatuses, now).
		Order("created_at ASC").
		Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

// ListOverdueUsers returns members holding at least one in-flight request past
// its expiry, oldest expiry first.
func (r *repository) ListOverdueUsers(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var users []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.PaymentRequest{}).
		Select("user_id").
		Where("status IN ? AND expires_at <= ?", inFlightStatuses, now).
		Group("user_id").
		Order("MIN(expires_at) ASC").
		Limit(limit).
		Pluck("user_id", &users).Error
	return users, err
}

func (r *repository) CountInFlight(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.PaymentRequest{}).
		Where("user_id = ? AND status IN ? AND expires_at > ?", userID, inFlightStatuses, now).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// SumUsage totals the requests created in [from, to) that count against an
// allowance: completed ones and live in-flight ones.
func (r *repository) SumUsage(ctx context.Context, userID uuid.UUID, from, to, now time.Time) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.PaymentRequest{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, from, to).
		Where("(status = ? OR (status IN ? AND expires_at > ?))", enums.PaymentRequestCompleted, inFlightStatuses, now).
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}
