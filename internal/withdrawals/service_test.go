package withdrawals

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/netcomp-backend/internal/wallet"
	"github.com/angelmondragon/netcomp-backend/pkg/db/dbtest"
	"github.com/angelmondragon/netcomp-backend/pkg/db/models"
	"github.com/angelmondragon/netcomp-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
	"github.com/angelmondragon/netcomp-backend/pkg/locks"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox"
	"github.com/angelmondragon/netcomp-backend/pkg/pagination"
)

type memoryLockStore struct {
	mu     sync.Mutex
	owners map[string]string
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.owners[key]; held {
		return false, nil
	}
	m.owners[key] = value.(string)
	return true, nil
}

func (m *memoryLockStore) ReleaseIfOwner(_ context.Context, key, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owners[key] != owner {
		return false, nil
	}
	delete(m.owners, key)
	return true, nil
}

func (m *memoryLockStore) LockKey(parts ...string) string {
	return "nc:lock:" + strings.Join(parts, ":")
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc    *service
	wallet wallet.Service
	conn   *gorm.DB
	locks  *memoryLockStore
	clock  *testClock
	outbox *outbox.Repository
	payout *models.PayoutWallet
	user   uuid.UUID
	admin  uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.Client(t)
	outboxRepo := outbox.NewRepository(client.DB())
	publisher := outbox.NewService(outboxRepo, nil)
	walletSvc, err := wallet.NewService(wallet.NewRepository(client.DB()), client, publisher, nil)
	require.NoError(t, err)

	store := &memoryLockStore{owners: map[string]string{}}
	locker, err := locks.NewRedisLocker(store, time.Second)
	require.NoError(t, err)

	svc, err := NewService(Deps{
		Repo:        NewRepository(client.DB()),
		Wallet:      walletSvc,
		Locker:      locker,
		Tx:          client,
		Outbox:      publisher,
		Limits:      Limits{DailyCents: 10000, MonthlyCents: 15000},
		SystemActor: uuid.New(),
	})
	require.NoError(t, err)
	impl := svc.(*service)
	clock := &testClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	impl.now = clock.Now

	payout, err := impl.CreateWallet(context.Background(), CreateWalletInput{
		Provider: "whish", Name: "Whish Money", MinAmountCents: 1000, MaxAmountCents: 9500,
	})
	require.NoError(t, err)

	h := &harness{
		svc:    impl,
		wallet: walletSvc,
		conn:   client.DB(),
		locks:  store,
		clock:  clock,
		outbox: outboxRepo,
		payout: payout,
		user:   uuid.New(),
		admin:  uuid.New(),
	}
	_, err = walletSvc.Credit(context.Background(), nil, wallet.CreditInput{
		UserID: h.user, AmountCents: 20000, Reason: enums.WalletReasonCommission, ActorID: uuid.New(),
	})
	require.NoError(t, err)
	return h
}

func (h *harness) create(amount int64) (*models.PaymentRequest, error) {
	return h.svc.Create(context.Background(), CreateInput{UserID: h.user, WalletID: h.payout.ID, AmountCents: amount})
}

func (h *harness) complete(t *testing.T, amount int64) *models.PaymentRequest {
	t.Helper()
	request, err := h.create(amount)
	require.NoError(t, err)
	_, err = h.svc.AttachProof(context.Background(), request.ID, h.user, "https://files.example.com/proof.png")
	require.NoError(t, err)
	done, err := h.svc.Approve(context.Background(), request.ID, h.admin)
	require.NoError(t, err)
	return done
}

func (h *harness) balance(t *testing.T) int64 {
	t.Helper()
	balance, err := h.wallet.Balance(context.Background(), h.user)
	require.NoError(t, err)
	return balance
}

func limitReason(t *testing.T, err error) enums.WithdrawalLimitReason {
	t.Helper()
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeLimitExceeded), "got %v", err)
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	return details["reason"].(enums.WithdrawalLimitReason)
}

func TestCreateHoldsFunds(t *testing.T) {
	h := newHarness(t)

	request, err := h.create(5000)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentRequestPending, request.Status)
	assert.Equal(t, DefaultRequestTTL, request.ExpiresAt.Sub(request.CreatedAt))
	assert.NotEqual(t, uuid.Nil, request.HoldTransactionID)
	assert.Equal(t, int64(15000), h.balance(t))

	events, err := h.outbox.ListByAggregate(request.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventWithdrawalStatusChanged, events[0].EventType)
}

func TestCreateRejectsBoundsAndOutstanding(t *testing.T) {
	h := newHarness(t)

	_, err := h.create(500)
	assert.Equal(t, enums.LimitReasonBelowMinimum, limitReason(t, err))

	_, err = h.create(9600)
	assert.Equal(t, enums.LimitReasonAboveMaximum, limitReason(t, err))

	_, err = h.create(2000)
	require.NoError(t, err)
	_, err = h.create(1000)
	assert.Equal(t, enums.LimitReasonRequestInFlight, limitReason(t, err))

	assert.Equal(t, int64(18000), h.balance(t))
}

func TestCreateEnforcesDailyRemaining(t *testing.T) {
	h := newHarness(t)
	h.complete(t, 8000)

	check, err := h.svc.CheckLimits(context.Background(), h.user, h.payout.ID, 3000)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, enums.LimitReasonDailyLimit, check.Reason)
	assert.Equal(t, int64(10000), check.LimitCents)
	assert.Equal(t, int64(8000), check.UsedCents)
	assert.Equal(t, int64(2000), check.RemainingCents)

	_, err = h.create(3000)
	require.Error(t, err)
	details := pkgerrors.As(err).Details().(map[string]any)
	assert.Equal(t, int64(2000), details["remainingCents"])

	_, err = h.create(2000)
	require.NoError(t, err)
}

func TestCreateEnforcesMonthlyLimit(t *testing.T) {
	h := newHarness(t)
	h.complete(t, 9000)
	h.clock.Advance(24 * time.Hour)

	_, err := h.create(7000)
	assert.Equal(t, enums.LimitReasonMonthlyLimit, limitReason(t, err))

	_, err = h.create(6000)
	require.NoError(t, err)
}

func TestCreateRejectsInactiveWalletAndInsufficientFunds(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Create(context.Background(), CreateInput{UserID: uuid.New(), WalletID: h.payout.ID, AmountCents: 2000})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFunds), "got %v", err)
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, enums.LimitReasonInsufficientFunds, details["reason"])
	assert.Equal(t, int64(0), details["balanceCents"])
	assert.Equal(t, int64(2000), details["requestedCents"])
	assert.Equal(t, int64(2000), details["shortfallCents"])

	require.NoError(t, h.conn.Model(&models.PayoutWallet{}).Where("id = ?", h.payout.ID).Update("active", false).Error)
	_, err = h.create(2000)
	assert.Equal(t, enums.LimitReasonWalletInactive, limitReason(t, err))

	_, err = h.svc.Create(context.Background(), CreateInput{UserID: h.user, WalletID: uuid.New(), AmountCents: 2000})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestCreateRequiresUserLock(t *testing.T) {
	h := newHarness(t)
	h.locks.owners[h.locks.LockKey("withdrawal", h.user.String())] = "someone-else"

	_, err := h.create(2000)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Equal(t, int64(20000), h.balance(t))
}

func TestLockIsReleasedAfterCreate(t *testing.T) {
	h := newHarness(t)
	_, err := h.create(500)
	require.Error(t, err)
	assert.Empty(t, h.locks.owners)
}

func TestApproveFlow(t *testing.T) {
	h := newHarness(t)
	request, err := h.create(4000)
	require.NoError(t, err)

	_, err = h.svc.Approve(context.Background(), request.ID, h.admin)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidState))

	_, err = h.svc.AttachProof(context.Background(), request.ID, uuid.New(), "https://files.example.com/p.png")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	processing, err := h.svc.AttachProof(context.Background(), request.ID, h.user, "https://files.example.com/p.png")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentRequestProcessing, processing.Status)
	require.NotNil(t, processing.ProofURL)

	done, err := h.svc.Approve(context.Background(), request.ID, h.admin)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentRequestCompleted, done.Status)
	require.NotNil(t, done.ProcessedBy)
	assert.Equal(t, h.admin, *done.ProcessedBy)
	assert.Equal(t, int64(16000), h.balance(t))

	_, err = h.svc.Reject(context.Background(), request.ID, h.admin, "too late")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidState))

	events, err := h.outbox.ListByAggregate(request.ID)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestRejectReleasesHold(t *testing.T) {
	h := newHarness(t)
	request, err := h.create(4000)
	require.NoError(t, err)

	rejected, err := h.svc.Reject(context.Background(), request.ID, h.admin, "account mismatch")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentRequestRejected, rejected.Status)
	require.NotNil(t, rejected.ReleaseTransactionID)
	assert.Equal(t, int64(20000), h.balance(t))

	var release models.WalletTransaction
	require.NoError(t, h.conn.Where("id = ?", *rejected.ReleaseTransactionID).First(&release).Error)
	assert.Equal(t, int64(4000), release.DeltaCents)
	assert.Equal(t, enums.WalletReasonWithdrawalRelease, release.Reason)

	// rejected requests no longer count against the allowance
	_, err = h.create(9500)
	require.NoError(t, err)
}

func TestLazyExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	request, err := h.create(5000)
	require.NoError(t, err)

	h.clock.Advance(DefaultRequestTTL + time.Minute)

	view, err := h.svc.Get(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentRequestExpired, view.Status)

	var stored models.PaymentRequest
	require.NoError(t, h.conn.Where("id = ?", request.ID).First(&stored).Error)
	assert.Equal(t, enums.PaymentRequestPending, stored.Status)
	assert.Equal(t, int64(15000), h.balance(t))

	check, err := h.svc.CheckLimits(ctx, h.user, h.payout.ID, 5000)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.Equal(t, int64(20000), check.BalanceCents)

	_, err = h.svc.AttachProof(ctx, request.ID, h.user, "https://files.example.com/late.png")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidState))

	require.NoError(t, h.conn.Where("id = ?", request.ID).First(&stored).Error)
	assert.Equal(t, enums.PaymentRequestExpired, stored.Status)
	require.NotNil(t, stored.ReleaseTransactionID)
	assert.Equal(t, int64(20000), h.balance(t))

	_, err = h.svc.AttachProof(ctx, request.ID, h.user, "https://files.example.com/late.png")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidState))
	assert.Equal(t, int64(20000), h.balance(t))
}

func TestCreateExpiresStaleRequests(t *testing.T) {
	h := newHarness(t)
	first, err := h.create(5000)
	require.NoError(t, err)
	h.clock.Advance(DefaultRequestTTL + time.Minute)

	second, err := h.create(6000)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentRequestPending, second.Status)
	assert.Equal(t, int64(14000), h.balance(t))

	stored, err := h.svc.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentRequestExpired, stored.Status)
	require.NotNil(t, stored.ReleaseTransactionID)
}

func TestListByUserAppliesExpiryView(t *testing.T) {
	h := newHarness(t)
	h.complete(t, 3000)
	_, err := h.create(2000)
	require.NoError(t, err)
	h.clock.Advance(DefaultRequestTTL + time.Minute)

	page, err := h.svc.ListByUser(context.Background(), h.user, pagination.Params{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, enums.PaymentRequestExpired, page.Items[0].Status)
	require.NotEmpty(t, page.NextCursor)

	rest, err := h.svc.ListByUser(context.Background(), h.user, pagination.Params{Limit: 1, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	assert.Equal(t, enums.PaymentRequestCompleted, rest.Items[0].Status)
}

func TestListWallets(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.CreateWallet(context.Background(), CreateWalletInput{Provider: "bank", Name: "Wire", MinAmountCents: 5000})
	require.NoError(t, err)

	wallets, err := h.svc.ListWallets(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, wallets, 2)
	assert.Equal(t, "bank", wallets[0].Provider)

	_, err = h.svc.CreateWallet(context.Background(), CreateWalletInput{Provider: "bank", Name: "Bad", MinAmountCents: 5000, MaxAmountCents: 10})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestExpireOverdueReleasesHolds(t *testing.T) {
	h := newHarness(t)
	_, err := h.create(4000)
	require.NoError(t, err)
	assert.Equal(t, int64(16000), h.balance(t))

	expired, err := h.svc.ExpireOverdue(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, expired)

	h.clock.Advance(DefaultRequestTTL + time.Minute)
	expired, err = h.svc.ExpireOverdue(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, int64(20000), h.balance(t))

	expired, err = h.svc.ExpireOverdue(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, expired)
}

func TestExpireOverdueSkipsLockedMembers(t *testing.T) {
	h := newHarness(t)
	_, err := h.create(4000)
	require.NoError(t, err)
	h.clock.Advance(DefaultRequestTTL + time.Minute)

	h.locks.owners[h.locks.LockKey("withdrawal", h.user.String())] = "someone-else"
	expired, err := h.svc.ExpireOverdue(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, expired)
	assert.Equal(t, int64(16000), h.balance(t))
}
