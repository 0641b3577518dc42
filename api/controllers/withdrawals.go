package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/netcomp-backend/api/responses"
	"github.com/angelmondragon/netcomp-backend/api/validators"
	"github.com/angelmondragon/netcomp-backend/internal/withdrawals"
	"github.com/angelmondragon/netcomp-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
	"github.com/angelmondragon/netcomp-backend/pkg/pagination"
)

type withdrawalService interface {
	CheckLimits(ctx context.Context, userID, walletID uuid.UUID, amountCents int64) (*withdrawals.LimitCheck, error)
	Create(ctx context.Context, input withdrawals.CreateInput) (*models.PaymentRequest, error)
	AttachProof(ctx context.Context, requestID, userID uuid.UUID, proofURL string) (*models.PaymentRequest, error)
	Get(ctx context.Context, requestID uuid.UUID) (*models.PaymentRequest, error)
	ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*withdrawals.RequestPage, error)
	ListWallets(ctx context.Context, activeOnly bool) ([]models.PayoutWallet, error)
}

type withdrawalAdmin interface {
	Approve(ctx context.Context, requestID, adminID uuid.UUID) (*models.PaymentRequest, error)
	Reject(ctx context.Context, requestID, adminID uuid.UUID, reason string) (*models.PaymentRequest, error)
	ListWallets(ctx context.Context, activeOnly bool) ([]models.PayoutWallet, error)
	CreateWallet(ctx context.Context, input withdrawals.CreateWalletInput) (*models.PayoutWallet, error)
}

func unavailable(w http.ResponseWriter, r *http.Request, logg *logger.Logger) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "withdrawal service unavailable"))
}

// WithdrawalLimits previews whether a request of amountCents would pass the
// creation guards right now.
func WithdrawalLimits(svc withdrawalService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		userID, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		walletID, err := validators.ParseQueryUUID(r, "walletId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, present, err := validators.ParseQueryInt64(r, "amountCents")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !present {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "query parameter required").
				WithDetails(map[string]any{"field": "amountCents"}))
			return
		}

		check, err := svc.CheckLimits(r.Context(), userID, walletID, amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, check)
	}
}

type withdrawalCreateRequest struct {
	WalletID    string `json:"walletId" validate:"required,uuid"`
	AmountCents int64  `json:"amountCents" validate:"required,gt=0"`
}

// WithdrawalCreate opens a pending request and holds the amount.
func WithdrawalCreate(svc withdrawalService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		userID, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		var req withdrawalCreateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		request, err := svc.Create(r.Context(), withdrawals.CreateInput{
			UserID:      userID,
			WalletID:    uuid.MustParse(req.WalletID),
			AmountCents: req.AmountCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, request)
	}
}

// WithdrawalList pages through the caller's requests with expiry applied.
func WithdrawalList(svc withdrawalService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		userID, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListByUser(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// WithdrawalGet returns one request. Members only see their own.
func WithdrawalGet(svc withdrawalService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		userID, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		requestID, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		request, err := svc.Get(r.Context(), requestID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if request.UserID != userID && !isAdmin(r) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "payment request not found"))
			return
		}
		responses.WriteSuccess(w, request)
	}
}

type proofRequest struct {
	ProofURL string `json:"proofUrl" validate:"required,url,max=2048"`
}

// WithdrawalAttachProof moves a pending request to processing.
func WithdrawalAttachProof(svc withdrawalService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		userID, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		requestID, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req proofRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		request, err := svc.AttachProof(r.Context(), requestID, userID, req.ProofURL)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, request)
	}
}

// PayoutWallets lists the channels members may withdraw to.
func PayoutWallets(svc withdrawalService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		wallets, err := svc.ListWallets(r.Context(), true)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if wallets == nil {
			wallets = []models.PayoutWallet{}
		}
		responses.WriteSuccess(w, wallets)
	}
}

// AdminWithdrawalApprove completes a processing request.
func AdminWithdrawalApprove(svc withdrawalAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		adminID, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		requestID, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		request, err := svc.Approve(r.Context(), requestID, adminID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, request)
	}
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// AdminWithdrawalReject rejects a request and releases its hold.
func AdminWithdrawalReject(svc withdrawalAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		adminID, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		requestID, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req rejectRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		request, err := svc.Reject(r.Context(), requestID, adminID, validators.SanitizeString(req.Reason, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, request)
	}
}

// AdminPayoutWallets lists every payout channel, including inactive ones.
func AdminPayoutWallets(svc withdrawalAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		wallets, err := svc.ListWallets(r.Context(), false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if wallets == nil {
			wallets = []models.PayoutWallet{}
		}
		responses.WriteSuccess(w, wallets)
	}
}

type payoutWalletRequest struct {
	Provider       string `json:"provider" validate:"required,max=64"`
	Name           string `json:"name" validate:"required,max=120"`
	MinAmountCents int64  `json:"minAmountCents" validate:"min=0"`
	MaxAmountCents int64  `json:"maxAmountCents" validate:"min=0"`
}

// AdminPayoutWalletCreate registers a payout channel.
func AdminPayoutWalletCreate(svc withdrawalAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		var req payoutWalletRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		wallet, err := svc.CreateWallet(r.Context(), withdrawals.CreateWalletInput{
			Provider:       validators.SanitizeString(req.Provider, 64),
			Name:           validators.SanitizeString(req.Name, 120),
			MinAmountCents: req.MinAmountCents,
			MaxAmountCents: req.MaxAmountCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, wallet)
	}
}
