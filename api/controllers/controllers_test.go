package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/netcomp-backend/api/middleware"
	"github.com/angelmondragon/netcomp-backend/api/responses"
	"github.com/angelmondragon/netcomp-backend/internal/commissions"
	"github.com/angelmondragon/netcomp-backend/internal/phase"
	"github.com/angelmondragon/netcomp-backend/internal/tree"
	"github.com/angelmondragon/netcomp-backend/internal/wallet"
	"github.com/angelmondragon/netcomp-backend/internal/withdrawals"
	"github.com/angelmondragon/netcomp-backend/pkg/compplan"
	"github.com/angelmondragon/netcomp-backend/pkg/config"
	"github.com/angelmondragon/netcomp-backend/pkg/db/models"
	"github.com/angelmondragon/netcomp-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
	"github.com/angelmondragon/netcomp-backend/pkg/pagination"
)

type staticPlans struct {
	plan *compplan.Plan
	err  error
}

func (s staticPlans) Current(context.Context) (*compplan.Plan, error) {
	return s.plan, s.err
}

func testPlan() *compplan.Plan {
	return &compplan.Plan{
		Version:            1,
		Name:               "test",
		MaxCommissionDepth: 3,
		MaxPayoutRatio:     decimal.RequireFromString("0.4"),
		Tiers:              []compplan.Tier{{Tier: 0, Name: "base", CommissionRate: decimal.RequireFromString("0.02")}},
	}
}

// serve routes req through a chi mux so URL params resolve, with the caller
// identity already in the context.
func serve(pattern, method, path, body string, actor uuid.UUID, role enums.MemberRole, h http.HandlerFunc) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Method(method, pattern, h)

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	ctx := req.Context()
	if actor != uuid.Nil {
		ctx = middleware.WithUserID(ctx, actor.String())
		ctx = middleware.WithRole(ctx, string(role))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := responses.SuccessEnvelope{Data: dest}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope responses.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

type stubMembers struct {
	known map[uuid.UUID]bool
}

func (s stubMembers) Get(_ context.Context, id uuid.UUID) (*models.Member, error) {
	if !s.known[id] {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "member not found")
	}
	return &models.Member{ID: id, DisplayName: "m"}, nil
}

type recordingBuilder struct {
	depth int
}

func (b *recordingBuilder) BuildLevels(_ context.Context, rootID uuid.UUID, maxDepth int) (*tree.Downline, error) {
	b.depth = maxDepth
	child := uuid.New()
	return &tree.Downline{
		RootID:   rootID,
		MaxDepth: maxDepth,
		Levels:   map[int][]uuid.UUID{1: {child}},
		Parents:  map[uuid.UUID]uuid.UUID{child: rootID},
	}, nil
}

func TestMemberDownline(t *testing.T) {
	member := uuid.New()
	other := uuid.New()
	builder := &recordingBuilder{}
	handler := MemberDownline(stubMembers{known: map[uuid.UUID]bool{member: true, other: true}}, builder,
		config.TreeConfig{DefaultDepth: 10, MaxDepthCap: 10}, nil)
	pattern := "/members/{memberId}/downline"

	rec := serve(pattern, http.MethodGet, "/members/"+member.String()+"/downline?depth=2", "", member, enums.MemberRoleMember, handler)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, builder.depth)
	var body struct {
		RootID uuid.UUID `json:"rootId"`
		Size   int       `json:"size"`
	}
	decodeData(t, rec, &body)
	assert.Equal(t, member, body.RootID)
	assert.Equal(t, 1, body.Size)

	rec = serve(pattern, http.MethodGet, "/members/"+other.String()+"/downline", "", member, enums.MemberRoleMember, handler)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(pattern, http.MethodGet, "/members/"+other.String()+"/downline", "", member, enums.MemberRoleAdmin, handler)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, builder.depth)

	rec = serve(pattern, http.MethodGet, "/members/"+member.String()+"/downline?depth=11", "", member, enums.MemberRoleMember, handler)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	unknown := uuid.New()
	rec = serve(pattern, http.MethodGet, "/members/"+unknown.String()+"/downline", "", unknown, enums.MemberRoleMember, handler)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(pattern, http.MethodGet, "/members/"+member.String()+"/downline", "", uuid.Nil, "", handler)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type stubPhase struct {
	plan     *compplan.Plan
	override *phase.OverrideInput
	cleared  uuid.UUID
	awarded  uuid.UUID
}

func (s *stubPhase) Status(_ context.Context, plan *compplan.Plan, memberID uuid.UUID) (*phase.Status, error) {
	s.plan = plan
	return &phase.Status{MemberID: memberID, Computed: 1, Effective: 1}, nil
}

func (s *stubPhase) SetOverride(_ context.Context, plan *compplan.Plan, input phase.OverrideInput) (*models.PhaseOverride, error) {
	s.override = &input
	return &models.PhaseOverride{MemberID: input.MemberID, Tier: input.Tier, Reason: input.Reason, SetBy: input.AdminID}, nil
}

func (s *stubPhase) ClearOverride(_ context.Context, memberID uuid.UUID) error {
	s.cleared = memberID
	return nil
}

func (s *stubPhase) AwardTierRewards(_ context.Context, _ *compplan.Plan, memberID, _ uuid.UUID) ([]models.TierAward, error) {
	s.awarded = memberID
	return nil, nil
}

func TestMemberPhaseLoadsCurrentPlan(t *testing.T) {
	member := uuid.New()
	phases := &stubPhase{}
	plan := testPlan()

	rec := serve("/members/{memberId}/phase", http.MethodGet, "/members/"+member.String()+"/phase", "",
		member, enums.MemberRoleMember, MemberPhase(phases, staticPlans{plan: plan}, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Same(t, plan, phases.plan)

	rec = serve("/members/{memberId}/phase", http.MethodGet, "/members/"+member.String()+"/phase", "",
		member, enums.MemberRoleMember, MemberPhase(phases, staticPlans{err: pkgerrors.New(pkgerrors.CodeConfigurationInvalid, "no active plan")}, nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeConfigurationInvalid), errorCode(t, rec))
}

func TestAdminPhaseOverride(t *testing.T) {
	admin := uuid.New()
	member := uuid.New()
	phases := &stubPhase{}
	pattern := "/members/{memberId}/phase-override"
	path := "/members/" + member.String() + "/phase-override"

	rec := serve(pattern, http.MethodPut, path, `{"tier":0,"reason":"  promo  "}`, admin, enums.MemberRoleAdmin,
		AdminSetPhaseOverride(phases, staticPlans{plan: testPlan()}, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, phases.override)
	assert.Equal(t, 0, phases.override.Tier)
	assert.Equal(t, "promo", phases.override.Reason)
	assert.Equal(t, admin, phases.override.AdminID)

	rec = serve(pattern, http.MethodPut, path, `{"reason":"missing tier"}`, admin, enums.MemberRoleAdmin,
		AdminSetPhaseOverride(phases, staticPlans{plan: testPlan()}, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(pattern, http.MethodDelete, path, "", admin, enums.MemberRoleAdmin, AdminClearPhaseOverride(phases, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, member, phases.cleared)

	rec = serve("/members/{memberId}/rewards", http.MethodPost, "/members/"+member.String()+"/rewards", "", admin, enums.MemberRoleAdmin,
		AdminAwardTierRewards(phases, staticPlans{plan: testPlan()}, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, member, phases.awarded)
	assert.Contains(t, rec.Body.String(), `"granted":[]`)
}

type stubSettler struct {
	calls   int
	settled map[string]*commissions.Settlement
}

func (s *stubSettler) SettleOrder(_ context.Context, plan *compplan.Plan, order commissions.OrderPaid) (*commissions.Settlement, error) {
	s.calls++
	if existing, ok := s.settled[order.OrderID]; ok {
		replay := *existing
		replay.AlreadyProcessed = true
		return &replay, pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "order already settled")
	}
	result := &commissions.Settlement{OrderID: order.OrderID, BuyerID: order.BuyerID, PaidAmountCents: order.PaidAmountCents, PlanVersion: plan.Version}
	s.settled[order.OrderID] = result
	return result, nil
}

func TestOrderPaidWebhook(t *testing.T) {
	settler := &stubSettler{settled: map[string]*commissions.Settlement{}}
	handler := OrderPaidWebhook(settler, staticPlans{plan: testPlan()}, nil)
	system := uuid.New()
	body := `{"orderId":"ord-1","buyerId":"` + uuid.NewString() + `","paidAmountCents":10000}`

	rec := serve("/orders/paid", http.MethodPost, "/orders/paid", body, system, enums.MemberRoleSystem, handler)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = serve("/orders/paid", http.MethodPost, "/orders/paid", body, system, enums.MemberRoleSystem, handler)
	require.Equal(t, http.StatusOK, rec.Code)
	var replay commissions.Settlement
	decodeData(t, rec, &replay)
	assert.True(t, replay.AlreadyProcessed)
	assert.Equal(t, "ord-1", replay.OrderID)

	rec = serve("/orders/paid", http.MethodPost, "/orders/paid", `{"orderId":"ord-2","buyerId":"`+uuid.NewString()+`","paidAmountCents":0}`,
		system, enums.MemberRoleSystem, handler)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 2, settler.calls)
}

type stubWithdrawalService struct {
	requests map[uuid.UUID]*models.PaymentRequest
	created  *withdrawals.CreateInput
	limit    *withdrawals.LimitCheck
}

func (s *stubWithdrawalService) CheckLimits(_ context.Context, _, _ uuid.UUID, amount int64) (*withdrawals.LimitCheck, error) {
	if s.limit != nil {
		return s.limit, nil
	}
	return &withdrawals.LimitCheck{Allowed: true, RemainingCents: 10000 - amount}, nil
}

func (s *stubWithdrawalService) Create(_ context.Context, input withdrawals.CreateInput) (*models.PaymentRequest, error) {
	s.created = &input
	if input.AmountCents > 5000 {
		return nil, pkgerrors.New(pkgerrors.CodeLimitExceeded, "daily withdrawal limit reached").
			WithDetails(map[string]any{"reason": "daily_limit", "limitCents": 5000, "usedCents": 0, "remainingCents": 5000})
	}
	return &models.PaymentRequest{ID: uuid.New(), UserID: input.UserID, AmountCents: input.AmountCents, Status: enums.PaymentRequestPending}, nil
}

func (s *stubWithdrawalService) AttachProof(_ context.Context, requestID, userID uuid.UUID, url string) (*models.PaymentRequest, error) {
	request, ok := s.requests[requestID]
	if !ok || request.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment request not found")
	}
	request.ProofURL = &url
	request.Status = enums.PaymentRequestProcessing
	return request, nil
}

func (s *stubWithdrawalService) Get(_ context.Context, requestID uuid.UUID) (*models.PaymentRequest, error) {
	request, ok := s.requests[requestID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment request not found")
	}
	return request, nil
}

func (s *stubWithdrawalService) ListByUser(context.Context, uuid.UUID, pagination.Params) (*withdrawals.RequestPage, error) {
	return &withdrawals.RequestPage{Items: []models.PaymentRequest{}}, nil
}

func (s *stubWithdrawalService) ListWallets(_ context.Context, activeOnly bool) ([]models.PayoutWallet, error) {
	wallets := []models.PayoutWallet{{ID: uuid.New(), Provider: "whish", Active: true}}
	if !activeOnly {
		wallets = append(wallets, models.PayoutWallet{ID: uuid.New(), Provider: "omt"})
	}
	return wallets, nil
}

func TestWithdrawalCreateMapsLimitErrors(t *testing.T) {
	user := uuid.New()
	svc := &stubWithdrawalService{}
	walletID := uuid.New()

	rec := serve("/withdrawals", http.MethodPost, "/withdrawals", `{"walletId":"`+walletID.String()+`","amountCents":2500}`,
		user, enums.MemberRoleMember, WithdrawalCreate(svc, nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, svc.created)
	assert.Equal(t, user, svc.created.UserID)
	assert.Equal(t, walletID, svc.created.WalletID)

	rec = serve("/withdrawals", http.MethodPost, "/withdrawals", `{"walletId":"`+walletID.String()+`","amountCents":9000}`,
		user, enums.MemberRoleMember, WithdrawalCreate(svc, nil))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var envelope responses.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, string(pkgerrors.CodeLimitExceeded), envelope.Error.Code)
	details, ok := envelope.Error.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "daily_limit", details["reason"])

	rec = serve("/withdrawals", http.MethodPost, "/withdrawals", `{"walletId":"nope","amountCents":100}`,
		user, enums.MemberRoleMember, WithdrawalCreate(svc, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWithdrawalLimitsQuery(t *testing.T) {
	user := uuid.New()
	svc := &stubWithdrawalService{}
	handler := WithdrawalLimits(svc, nil)

	rec := serve("/withdrawals/limits", http.MethodGet, "/withdrawals/limits?walletId="+uuid.NewString()+"&amountCents=1500", "",
		user, enums.MemberRoleMember, handler)
	require.Equal(t, http.StatusOK, rec.Code)
	var check withdrawals.LimitCheck
	decodeData(t, rec, &check)
	assert.True(t, check.Allowed)
	assert.Equal(t, int64(8500), check.RemainingCents)

	rec = serve("/withdrawals/limits", http.MethodGet, "/withdrawals/limits?walletId="+uuid.NewString(), "",
		user, enums.MemberRoleMember, handler)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWithdrawalGetHidesOtherMembersRequests(t *testing.T) {
	owner := uuid.New()
	requestID := uuid.New()
	svc := &stubWithdrawalService{requests: map[uuid.UUID]*models.PaymentRequest{
		requestID: {ID: requestID, UserID: owner, Status: enums.PaymentRequestPending},
	}}
	handler := WithdrawalGet(svc, nil)
	path := "/withdrawals/" + requestID.String()

	rec := serve("/withdrawals/{requestId}", http.MethodGet, path, "", owner, enums.MemberRoleMember, handler)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve("/withdrawals/{requestId}", http.MethodGet, path, "", uuid.New(), enums.MemberRoleMember, handler)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve("/withdrawals/{requestId}", http.MethodGet, path, "", uuid.New(), enums.MemberRoleAdmin, handler)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWithdrawalAttachProof(t *testing.T) {
	owner := uuid.New()
	requestID := uuid.New()
	svc := &stubWithdrawalService{requests: map[uuid.UUID]*models.PaymentRequest{
		requestID: {ID: requestID, UserID: owner, Status: enums.PaymentRequestPending},
	}}
	handler := WithdrawalAttachProof(svc, nil)
	path := "/withdrawals/" + requestID.String() + "/proof"

	rec := serve("/withdrawals/{requestId}/proof", http.MethodPost, path, `{"proofUrl":"not a url"}`, owner, enums.MemberRoleMember, handler)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve("/withdrawals/{requestId}/proof", http.MethodPost, path, `{"proofUrl":"https://cdn.example.com/receipt.png"}`, owner, enums.MemberRoleMember, handler)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, enums.PaymentRequestProcessing, svc.requests[requestID].Status)
}

func TestPayoutWalletsListsActiveOnly(t *testing.T) {
	rec := serve("/payout-wallets", http.MethodGet, "/payout-wallets", "", uuid.New(), enums.MemberRoleMember,
		PayoutWallets(&stubWithdrawalService{}, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var wallets []models.PayoutWallet
	decodeData(t, rec, &wallets)
	assert.Len(t, wallets, 1)
}

type stubWallet struct{}

func (stubWallet) Balance(context.Context, uuid.UUID) (int64, error) {
	return 4200, nil
}

func (stubWallet) History(context.Context, uuid.UUID, pagination.Params) (*wallet.HistoryPage, error) {
	return &wallet.HistoryPage{Items: []models.WalletTransaction{}}, nil
}

func TestWalletBalance(t *testing.T) {
	user := uuid.New()
	rec := serve("/wallet", http.MethodGet, "/wallet", "", user, enums.MemberRoleMember, WalletBalance(stubWallet{}, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body balanceResponse
	decodeData(t, rec, &body)
	assert.Equal(t, user, body.UserID)
	assert.Equal(t, int64(4200), body.BalanceCents)

	rec = serve("/wallet/transactions", http.MethodGet, "/wallet/transactions?limit=500", "", user, enums.MemberRoleMember, WalletTransactions(stubWallet{}, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
