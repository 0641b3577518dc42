package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/netcomp-backend/pkg/db/models"
	"github.com/angelmondragon/netcomp-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
	"github.com/angelmondragon/netcomp-backend/pkg/locks"
	"github.com/angelmondragon/netcomp-backend/pkg/metrics"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/netcomp-backend/pkg/pagination"
)

// Service is the append-only member wallet. Balances are always derived from
// the transaction sum; nothing stores a running total.
//
// Credit and Debit accept an optional transaction so callers can fold the
// ledger row into their own unit of work. A nil tx runs in a fresh one.
type Service interface {
	Credit(ctx context.Context, tx *gorm.DB, input CreditInput) (*models.WalletTransaction, error)
	Debit(ctx context.Context, tx *gorm.DB, input DebitInput) (*models.WalletTransaction, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	BalanceTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error)
	History(ctx context.Context, userID uuid.UUID, params pagination.Params) (*HistoryPage, error)
}

// CreditInput describes a positive balance movement.
type CreditInput struct {
	UserID      uuid.UUID
	AmountCents int64
	Reason      enums.WalletTransactionReason
	Reference   *string
	ActorID     uuid.UUID
	ActorRole   enums.MemberRole
}

// DebitInput describes a negative balance movement. AmountCents is positive.
type DebitInput struct {
	UserID      uuid.UUID
	AmountCents int64
	Reason      enums.WalletTransactionReason
	Reference   *string
	ActorID     uuid.UUID
	ActorRole   enums.MemberRole
}

// HistoryPage is one newest-first statement page.
type HistoryPage struct {
	Items      []models.WalletTransaction `json:"items"`
	NextCursor string                     `json:"nextCursor,omitempty"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	metrics *metrics.EngineMetrics
	keyed   *locks.KeyedMutex
	now     func() time.Time
}

// NewService wires the wallet ledger. metrics may be nil.
func NewService(repo Repository, tx txRunner, publisher outboxPublisher, m *metrics.EngineMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:    repo,
		tx:      tx,
		outbox:  publisher,
		metrics: m,
		keyed:   locks.NewKeyedMutex(),
		now:     time.Now,
	}, nil
}

func (s *service) Credit(ctx context.Context, tx *gorm.DB, input CreditInput) (*models.WalletTransaction, error) {
	if err := validateMovement(input.UserID, input.ActorID, input.AmountCents, input.Reason); err != nil {
		return nil, err
	}
	if !input.Reason.Credit() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "%s cannot be credited", input.Reason)
	}
	var created *models.WalletTransaction
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now().UTC()
		if err := repo.EnsureAccount(ctx, input.UserID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ensure wallet account")
		}
		txn, err := s.append(ctx, tx, repo, input.UserID, input.AmountCents, input.Reason, input.Reference, input.ActorID, input.ActorRole, now)
		if err != nil {
			return err
		}
		created = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) Debit(ctx context.Context, tx *gorm.DB, input DebitInput) (*models.WalletTransaction, error) {
	if err := validateMovement(input.UserID, input.ActorID, input.AmountCents, input.Reason); err != nil {
		return nil, err
	}
	// Held until a transaction this call opens has committed. A caller's tx
	// commits later; LockAccount's FOR UPDATE orders those on Postgres.
	unlock := s.keyed.Lock(input.UserID.String())
	defer unlock()

	var created *models.WalletTransaction
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now().UTC()
		if err := repo.EnsureAccount(ctx, input.UserID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ensure wallet account")
		}
		if err := repo.LockAccount(ctx, input.UserID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock wallet account")
		}
		balance, err := repo.SumByUser(ctx, input.UserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet balance")
		}
		if balance < input.AmountCents {
			return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient wallet balance").
				WithDetails(map[string]any{
					"balanceCents":   balance,
					"requestedCents": input.AmountCents,
					"shortfallCents": input.AmountCents - balance,
				})
		}
		txn, err := s.append(ctx, tx, repo, input.UserID, -input.AmountCents, input.Reason, input.Reference, input.ActorID, input.ActorRole, now)
		if err != nil {
			return err
		}
		created = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.BalanceTx(ctx, nil, userID)
}

// BalanceTx reads the balance through tx when one is provided.
func (s *service) BalanceTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	total, err := s.repo.WithTx(tx).SumByUser(ctx, userID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet balance")
	}
	return total, nil
}

func (s *service) History(ctx context.Context, userID uuid.UUID, params pagination.Params) (*HistoryPage, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListByUser(ctx, userID, cursor, params.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallet transactions")
	}
	page := &HistoryPage{}
	page.Items, page.NextCursor = pagination.Trim(rows, params.Limit, func(t models.WalletTransaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	})
	return page, nil
}

func (s *service) append(
	ctx context.Context,
	tx *gorm.DB,
	repo Repository,
	userID uuid.UUID,
	delta int64,
	reason enums.WalletTransactionReason,
	reference *string,
	actorID uuid.UUID,
	actorRole enums.MemberRole,
	now time.Time,
) (*models.WalletTransaction, error) {
	txn := &models.WalletTransaction{
		ID:         uuid.New(),
		UserID:     userID,
		DeltaCents: delta,
		Reason:     reason,
		Reference:  reference,
		CreatedBy:  actorID,
		CreatedAt:  now,
	}
	if err := repo.Create(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append wallet transaction")
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventWalletTransactionRecorded,
		AggregateType: enums.AggregateWalletTransaction,
		AggregateID:   txn.ID,
		Actor:         &outbox.ActorRef{UserID: actorID, Role: string(actorRole)},
		Data: payloads.WalletTransactionRecordedEvent{
			TransactionID: txn.ID,
			UserID:        txn.UserID,
			DeltaCents:    txn.DeltaCents,
			Reason:        txn.Reason,
			Reference:     txn.Reference,
			CreatedBy:     txn.CreatedBy,
			CreatedAt:     txn.CreatedAt,
		},
		OccurredAt: now,
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit wallet transaction event")
	}
	s.metrics.IncWalletTransaction(string(reason))
	return txn, nil
}

func (s *service) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.tx.WithTx(ctx, fn)
}

func validateMovement(userID, actorID uuid.UUID, amount int64, reason enums.WalletTransactionReason) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if actorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	if amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive").
			WithDetails(map[string]any{"amountCents": amount})
	}
	if !reason.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid wallet transaction reason %q", reason))
	}
	return nil
}

// IsInsufficientFunds reports whether err is a rejected overdraw.
func IsInsufficientFunds(err error) bool {
	var typed *pkgerrors.Error
	return errors.As(err, &typed) && typed.Code() == pkgerrors.CodeInsufficientFunds
}
