package withdrawals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/netcomp-backend/internal/wallet"
	"github.com/angelmondragon/netcomp-backend/pkg/db/models"
	"github.com/angelmondragon/netcomp-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
	"github.com/angelmondragon/netcomp-backend/pkg/locks"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
	"github.com/angelmondragon/netcomp-backend/pkg/metrics"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/netcomp-backend/pkg/pagination"
)

const (
	DefaultRequestTTL = 24 * time.Hour
	defaultSweepLimit = 200
)

// CreateInput is a member's cash-out request.
type CreateInput struct {
	UserID      uuid.UUID
	WalletID    uuid.UUID
	AmountCents int64
}

// CreateWalletInput registers a payout channel.
type CreateWalletInput struct {
	Provider       string
	Name           string
	MinAmountCents int64
	MaxAmountCents int64
}

// RequestPage is one newest-first page of a member's requests.
type RequestPage struct {
	Items      []models.PaymentRequest `json:"items"`
	NextCursor string                  `json:"nextCursor,omitempty"`
}

// Service runs the withdrawal request state machine on top of the wallet.
type Service interface {
	CheckLimits(ctx context.Context, userID, walletID uuid.UUID, amountCents int64) (*LimitCheck, error)
	Create(ctx context.Context, input CreateInput) (*models.PaymentRequest, error)
	AttachProof(ctx context.Context, requestID, userID uuid.UUID, proofURL string) (*models.PaymentRequest, error)
	Approve(ctx context.Context, requestID, adminID uuid.UUID) (*models.PaymentRequest, error)
	Reject(ctx context.Context, requestID, adminID uuid.UUID, reason string) (*models.PaymentRequest, error)
	Get(ctx context.Context, requestID uuid.UUID) (*models.PaymentRequest, error)
	ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*RequestPage, error)
	ListWallets(ctx context.Context, activeOnly bool) ([]models.PayoutWallet, error)
	CreateWallet(ctx context.Context, input CreateWalletInput) (*models.PayoutWallet, error)
	ExpireOverdue(ctx context.Context, limit int) (int, error)
}

type ledger interface {
	Credit(ctx context.Context, tx *gorm.DB, input wallet.CreditInput) (*models.WalletTransaction, error)
	Debit(ctx context.Context, tx *gorm.DB, input wallet.DebitInput) (*models.WalletTransaction, error)
	BalanceTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error)
}

type userLocker interface {
	Acquire(ctx context.Context, parts ...string) (func(context.Context) error, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Deps groups the collaborators of the withdrawal workflow.
type Deps struct {
	Repo        Repository
	Wallet      ledger
	Locker      userLocker
	Tx          txRunner
	Outbox      outboxPublisher
	Metrics     *metrics.EngineMetrics
	Logger      *logger.Logger
	Limits      Limits
	RequestTTL  time.Duration
	SystemActor uuid.UUID
}

type service struct {
	repo    Repository
	wallet  ledger
	locker  userLocker
	tx      txRunner
	outbox  outboxPublisher
	metrics *metrics.EngineMetrics
	logg    *logger.Logger
	limits  Limits
	ttl     time.Duration
	system  uuid.UUID
	now     func() time.Time
}

func NewService(deps Deps) (Service, error) {
	switch {
	case deps.Repo == nil:
		return nil, fmt.Errorf("withdrawal repository required")
	case deps.Wallet == nil:
		return nil, fmt.Errorf("wallet service required")
	case deps.Locker == nil:
		return nil, fmt.Errorf("user locker required")
	case deps.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case deps.Limits.DailyCents <= 0 || deps.Limits.MonthlyCents <= 0:
		return nil, fmt.Errorf("withdrawal limits must be positive")
	case deps.SystemActor == uuid.Nil:
		return nil, fmt.Errorf("system actor id required")
	}
	ttl := deps.RequestTTL
	if ttl <= 0 {
		ttl = DefaultRequestTTL
	}
	logg := deps.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:    deps.Repo,
		wallet:  deps.Wallet,
		locker:  deps.Locker,
		tx:      deps.Tx,
		outbox:  deps.Outbox,
		metrics: deps.Metrics,
		logg:    logg,
		limits:  deps.Limits,
		ttl:     ttl,
		system:  deps.SystemActor,
		now:     time.Now,
	}, nil
}

func (s *service) CheckLimits(ctx context.Context, userID, walletID uuid.UUID, amountCents int64) (*LimitCheck, error) {
	if err := validateCreate(CreateInput{UserID: userID, WalletID: walletID, AmountCents: amountCents}); err != nil {
		return nil, err
	}
	check, _, err := s.evaluate(ctx, nil, userID, walletID, amountCents)
	if err != nil {
		return nil, err
	}
	return &check, nil
}

// Create holds the amount on the ledger and opens a pending request. Only one
// caller per member runs the guards at a time, across instances.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.PaymentRequest, error) {
	if err := validateCreate(input); err != nil {
		return nil, err
	}
	release, err := s.locker.Acquire(ctx, "withdrawal", input.UserID.String())
	if err != nil {
		if errors.Is(err, locks.ErrNotAcquired) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "another withdrawal is being created").
				WithDetails(map[string]any{"userId": input.UserID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire withdrawal lock")
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "withdrawal lock release failed")
		}
	}()

	var created *models.PaymentRequest
	var transitions []enums.PaymentRequestStatus
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		transitions = transitions[:0]
		expired, err := s.expireStale(ctx, tx, input.UserID)
		if err != nil {
			return err
		}
		for range expired {
			transitions = append(transitions, enums.PaymentRequestExpired)
		}

		check, payout, err := s.evaluate(ctx, tx, input.UserID, input.WalletID, input.AmountCents)
		if err != nil {
			return err
		}
		if !check.Allowed {
			return check.Error()
		}

		now := s.now().UTC()
		requestID := uuid.New()
		reference := "withdrawal:" + requestID.String()
		hold, err := s.wallet.Debit(ctx, tx, wallet.DebitInput{
			UserID:      input.UserID,
			AmountCents: input.AmountCents,
			Reason:      enums.WalletReasonWithdrawalHold,
			Reference:   &reference,
			ActorID:     input.UserID,
			ActorRole:   enums.MemberRoleMember,
		})
		if err != nil {
			return err
		}

		request := &models.PaymentRequest{
			ID:                requestID,
			UserID:            input.UserID,
			WalletID:          input.WalletID,
			AmountCents:       input.AmountCents,
			Status:            enums.PaymentRequestPending,
			HoldTransactionID: hold.ID,
			ExpiresAt:         now.Add(s.ttl),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.repo.WithTx(tx).CreateRequest(ctx, request); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment request")
		}
		if err := s.emitStatus(ctx, tx, request, "", payout.Provider, "", input.UserID, enums.MemberRoleMember); err != nil {
			return err
		}
		created = request
		transitions = append(transitions, enums.PaymentRequestPending)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, status := range transitions {
		s.metrics.IncWithdrawalTransition(string(status))
	}
	return created, nil
}

func (s *service) AttachProof(ctx context.Context, requestID, userID uuid.UUID, proofURL string) (*models.PaymentRequest, error) {
	proofURL = strings.TrimSpace(proofURL)
	if proofURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "proof url required")
	}
	return s.transition(ctx, requestID, enums.PaymentRequestProcessing, userID, enums.MemberRoleMember,
		func(request *models.PaymentRequest) error {
			if request.UserID != userID {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payment request not found")
			}
			return nil
		},
		func(tx *gorm.DB, request *models.PaymentRequest, updates map[string]any) (string, error) {
			updates["proof_url"] = proofURL
			request.ProofURL = &proofURL
			return "", nil
		})
}

// Approve completes a processing request. The hold taken at creation is the
// final debit, so the ledger is not touched.
func (s *service) Approve(ctx context.Context, requestID, adminID uuid.UUID) (*models.PaymentRequest, error) {
	if adminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "admin id required")
	}
	return s.transition(ctx, requestID, enums.PaymentRequestCompleted, adminID, enums.MemberRoleAdmin, nil,
		func(tx *gorm.DB, request *models.PaymentRequest, updates map[string]any) (string, error) {
			updates["processed_by"] = adminID
			request.ProcessedBy = &adminID
			return "", nil
		})
}

// Reject closes the request and returns the held funds with a compensating
// credit. Earlier ledger rows stay as they are.
func (s *service) Reject(ctx context.Context, requestID, adminID uuid.UUID, reason string) (*models.PaymentRequest, error) {
	if adminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "admin id required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection reason required")
	}
	return s.transition(ctx, requestID, enums.PaymentRequestRejected, adminID, enums.MemberRoleAdmin, nil,
		func(tx *gorm.DB, request *models.PaymentRequest, updates map[string]any) (string, error) {
			releaseID, err := s.releaseHold(ctx, tx, request, adminID, enums.MemberRoleAdmin)
			if err != nil {
				return "", err
			}
			updates["processed_by"] = adminID
			updates["rejection_reason"] = reason
			updates["release_transaction_id"] = releaseID
			request.ProcessedBy = &adminID
			request.RejectionReason = &reason
			request.ReleaseTransactionID = &releaseID
			return reason, nil
		})
}

func (s *service) Get(ctx context.Context, requestID uuid.UUID) (*models.PaymentRequest, error) {
	if requestID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request id required")
	}
	request, err := s.repo.FindRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment request")
	}
	s.applyExpiryView(request)
	return request, nil
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*RequestPage, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListByUser(ctx, userID, cursor, params.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payment requests")
	}
	page := &RequestPage{}
	page.Items, page.NextCursor = pagination.Trim(rows, params.Limit, func(p models.PaymentRequest) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
	for i := range page.Items {
		s.applyExpiryView(&page.Items[i])
	}
	return page, nil
}

func (s *service) ListWallets(ctx context.Context, activeOnly bool) ([]models.PayoutWallet, error) {
	wallets, err := s.repo.ListWallets(ctx, activeOnly)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payout wallets")
	}
	if wallets == nil {
		wallets = []models.PayoutWallet{}
	}
	return wallets, nil
}

func (s *service) CreateWallet(ctx context.Context, input CreateWalletInput) (*models.PayoutWallet, error) {
	provider := strings.TrimSpace(input.Provider)
	name := strings.TrimSpace(input.Name)
	if provider == "" || name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider and name required")
	}
	if input.MinAmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "minimum amount must be positive")
	}
	if input.MaxAmountCents != 0 && input.MaxAmountCents < input.MinAmountCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "maximum amount below minimum")
	}
	now := s.now().UTC()
	payout := &models.PayoutWallet{
		ID:             uuid.New(),
		Provider:       provider,
		Name:           name,
		Active:         true,
		MinAmountCents: input.MinAmountCents,
		MaxAmountCents: input.MaxAmountCents,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateWallet(ctx, payout); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payout wallet")
	}
	return payout, nil
}

type mutateFunc func(tx *gorm.DB, request *models.PaymentRequest, updates map[string]any) (string, error)

// transition moves a request to next inside a transaction. A request found
// past its expiry is expired and its hold released first; that write commits
// and the caller receives INVALID_STATE.
func (s *service) transition(
	ctx context.Context,
	requestID uuid.UUID,
	next enums.PaymentRequestStatus,
	actorID uuid.UUID,
	actorRole enums.MemberRole,
	authorize func(*models.PaymentRequest) error,
	mutate mutateFunc,
) (*models.PaymentRequest, error) {
	if requestID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request id required")
	}

	var updated *models.PaymentRequest
	var expiredNow bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		expiredNow = false
		repo := s.repo.WithTx(tx)
		request, err := repo.FindRequestForUpdate(ctx, requestID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payment request not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment request")
		}
		if authorize != nil {
			if err := authorize(request); err != nil {
				return err
			}
		}
		if s.isStale(request) {
			if err := s.expire(ctx, tx, request); err != nil {
				return err
			}
			expiredNow = true
			updated = request
			return nil
		}
		if !request.Status.CanTransitionTo(next) {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "illegal payment request transition").
				WithDetails(map[string]any{"from": request.Status, "to": next})
		}

		previous := request.Status
		now := s.now().UTC()
		updates := map[string]any{"status": next, "updated_at": now}
		reason, err := mutate(tx, request, updates)
		if err != nil {
			return err
		}
		rows, err := repo.UpdateRequest(ctx, request.ID, previous, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment request")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment request changed concurrently")
		}
		request.Status = next
		request.UpdatedAt = now

		provider, err := s.providerFor(ctx, tx, request.WalletID)
		if err != nil {
			return err
		}
		if err := s.emitStatus(ctx, tx, request, previous, provider, reason, actorID, actorRole); err != nil {
			return err
		}
		updated = request
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expiredNow {
		s.metrics.IncWithdrawalTransition(string(enums.PaymentRequestExpired))
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "payment request expired").
			WithDetails(map[string]any{"from": enums.PaymentRequestExpired, "to": next, "requestId": requestID})
	}
	s.metrics.IncWithdrawalTransition(string(next))
	return updated, nil
}

// ExpireOverdue persists expiry for up to limit members with overdue requests
// and releases their holds. Members whose withdrawal lock is busy are left for
// the next sweep.
func (s *service) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	users, err := s.repo.ListOverdueUsers(ctx, s.now().UTC(), limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list overdue withdrawals")
	}

	expired := 0
	for _, userID := range users {
		release, err := s.locker.Acquire(ctx, "withdrawal", userID.String())
		if err != nil {
			if errors.Is(err, locks.ErrNotAcquired) {
				continue
			}
			return expired, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire withdrawal lock")
		}
		var count int
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			stale, err := s.expireStale(ctx, tx, userID)
			count = len(stale)
			return err
		})
		if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", relErr.Error()), "withdrawal lock release failed")
		}
		if err != nil {
			return expired, err
		}
		for i := 0; i < count; i++ {
			s.metrics.IncWithdrawalTransition(string(enums.PaymentRequestExpired))
		}
		expired += count
	}
	return expired, nil
}

func (s *service) isStale(request *models.PaymentRequest) bool {
	return request.Status.InFlight() && !s.now().Before(request.ExpiresAt)
}

func (s *service) applyExpiryView(request *models.PaymentRequest) {
	if s.isStale(request) {
		request.Status = enums.PaymentRequestExpired
	}
}

// expireStale persists expiry for every overdue in-flight request of userID.
func (s *service) expireStale(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]models.PaymentRequest, error) {
	stale, err := s.repo.WithTx(tx).ListStale(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load expired withdrawals")
	}
	for i := range stale {
		if err := s.expire(ctx, tx, &stale[i]); err != nil {
			return nil, err
		}
	}
	return stale, nil
}

func (s *service) expire(ctx context.Context, tx *gorm.DB, request *models.PaymentRequest) error {
	previous := request.Status
	releaseID, err := s.releaseHold(ctx, tx, request, s.system, enums.MemberRoleSystem)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	rows, err := s.repo.WithTx(tx).UpdateRequest(ctx, request.ID, previous, map[string]any{
		"status":                 enums.PaymentRequestExpired,
		"release_transaction_id": releaseID,
		"updated_at":             now,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire payment request")
	}
	if rows == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment request changed concurrently")
	}
	request.Status = enums.PaymentRequestExpired
	request.ReleaseTransactionID = &releaseID
	request.UpdatedAt = now

	provider, err := s.providerFor(ctx, tx, request.WalletID)
	if err != nil {
		return err
	}
	return s.emitStatus(ctx, tx, request, previous, provider, "expired", s.system, enums.MemberRoleSystem)
}

func (s *service) releaseHold(ctx context.Context, tx *gorm.DB, request *models.PaymentRequest, actorID uuid.UUID, role enums.MemberRole) (uuid.UUID, error) {
	reference := "withdrawal:" + request.ID.String()
	txn, err := s.wallet.Credit(ctx, tx, wallet.CreditInput{
		UserID:      request.UserID,
		AmountCents: request.AmountCents,
		Reason:      enums.WalletReasonWithdrawalRelease,
		Reference:   &reference,
		ActorID:     actorID,
		ActorRole:   role,
	})
	if err != nil {
		return uuid.Nil, err
	}
	return txn.ID, nil
}

func (s *service) providerFor(ctx context.Context, tx *gorm.DB, walletID uuid.UUID) (string, error) {
	payout, err := s.repo.WithTx(tx).FindWallet(ctx, walletID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout wallet")
	}
	return payout.Provider, nil
}

func (s *service) emitStatus(
	ctx context.Context,
	tx *gorm.DB,
	request *models.PaymentRequest,
	previous enums.PaymentRequestStatus,
	provider string,
	reason string,
	actorID uuid.UUID,
	role enums.MemberRole,
) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventWithdrawalStatusChanged,
		AggregateType: enums.AggregatePaymentRequest,
		AggregateID:   request.ID,
		Actor:         &outbox.ActorRef{UserID: actorID, Role: string(role)},
		Data: payloads.WithdrawalStatusChangedEvent{
			RequestID:      request.ID,
			UserID:         request.UserID,
			Status:         request.Status,
			PreviousStatus: previous,
			AmountCents:    request.AmountCents,
			WalletProvider: provider,
			Reason:         reason,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit withdrawal status event")
	}
	return nil
}

func validateCreate(input CreateInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.WalletID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "wallet id required")
	}
	if input.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	return nil
}
