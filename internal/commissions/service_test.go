package commissions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/netcomp-backend/internal/network"
	"github.com/angelmondragon/netcomp-backend/internal/phase"
	"github.com/angelmondragon/netcomp-backend/internal/tree"
	"github.com/angelmondragon/netcomp-backend/internal/wallet"
	"github.com/angelmondragon/netcomp-backend/pkg/compplan"
	"github.com/angelmondragon/netcomp-backend/pkg/db/dbtest"
	"github.com/angelmondragon/netcomp-backend/pkg/db/models"
	"github.com/angelmondragon/netcomp-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox"
	"github.com/angelmondragon/netcomp-backend/pkg/pagination"
)

type harness struct {
	svc     Service
	conn    *gorm.DB
	network network.Service
	phase   phase.Service
	wallet  wallet.Service
	plan    *compplan.Plan
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.Client(t)
	publisher := outbox.NewService(outbox.NewRepository(client.DB()), nil)

	networkSvc, err := network.NewService(network.NewRepository(client.DB()))
	require.NoError(t, err)
	builder, err := tree.NewBuilder(networkSvc, nil, nil, tree.Options{})
	require.NoError(t, err)
	classifier, err := phase.NewClassifier(builder, networkSvc)
	require.NoError(t, err)
	walletSvc, err := wallet.NewService(wallet.NewRepository(client.DB()), client, publisher, nil)
	require.NoError(t, err)
	phaseSvc, err := phase.NewService(classifier, phase.NewRepository(client.DB()), walletSvc, client, publisher)
	require.NoError(t, err)

	svc, err := NewService(Deps{
		Repo:        NewRepository(client.DB()),
		Members:     networkSvc,
		Tiers:       phaseSvc,
		Wallet:      walletSvc,
		Tx:          client,
		Outbox:      publisher,
		SystemActor: uuid.New(),
	})
	require.NoError(t, err)

	plan := &compplan.Plan{
		Version:        7,
		MaxPayoutRatio: decimal.RequireFromString("0.5"),
		Tiers: []compplan.Tier{
			{Tier: 0, CommissionRate: decimal.RequireFromString("0.02")},
			{Tier: 1, CommissionRate: decimal.RequireFromString("0.05"), MinActiveDirects: 2},
			{Tier: 2, CommissionRate: decimal.RequireFromString("0.10"), MinActiveDirects: 4},
		},
	}
	require.NoError(t, plan.Validate())

	return &harness{svc: svc, conn: client.DB(), network: networkSvc, phase: phaseSvc, wallet: walletSvc, plan: plan}
}

func (h *harness) enroll(t *testing.T, sponsor *uuid.UUID, active bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := h.network.Enroll(context.Background(), network.EnrollInput{
		MemberID: id, SponsorID: sponsor, DisplayName: "m", Active: active,
	})
	require.NoError(t, err)
	return id
}

func (h *harness) override(t *testing.T, member uuid.UUID, tier int) {
	t.Helper()
	_, err := h.phase.SetOverride(context.Background(), h.plan, phase.OverrideInput{
		MemberID: member, Tier: tier, Reason: "fixture", AdminID: uuid.New(),
	})
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, member uuid.UUID) int64 {
	t.Helper()
	balance, err := h.wallet.Balance(context.Background(), member)
	require.NoError(t, err)
	return balance
}

// chain builds D <- C <- B <- A <- buyer, with C inactive.
type chain struct {
	d, c, b, a, buyer uuid.UUID
}

func (h *harness) chain(t *testing.T) chain {
	t.Helper()
	var ch chain
	ch.d = h.enroll(t, nil, true)
	ch.c = h.enroll(t, &ch.d, false)
	ch.b = h.enroll(t, &ch.c, true)
	ch.a = h.enroll(t, &ch.b, true)
	ch.buyer = h.enroll(t, &ch.a, true)
	h.override(t, ch.a, 2)
	h.override(t, ch.b, 1)
	return ch
}

func TestSettleOrderDistributesByRecipientTier(t *testing.T) {
	h := newHarness(t)
	ch := h.chain(t)

	settlement, err := h.svc.SettleOrder(context.Background(), h.plan, OrderPaid{
		OrderID: "order-100", BuyerID: ch.buyer, PaidAmountCents: 10000,
	})
	require.NoError(t, err)
	require.Len(t, settlement.Records, 3)

	byRecipient := map[uuid.UUID]models.CommissionRecord{}
	for _, record := range settlement.Records {
		byRecipient[record.RecipientID] = record
	}
	assert.Equal(t, int64(1000), byRecipient[ch.a].AmountCents)
	assert.Equal(t, 1, byRecipient[ch.a].Level)
	assert.Equal(t, int64(500), byRecipient[ch.b].AmountCents)
	assert.Equal(t, 2, byRecipient[ch.b].Level)
	assert.NotContains(t, byRecipient, ch.c)
	// the walk continues past the inactive sponsor; level is upline distance
	assert.Equal(t, int64(200), byRecipient[ch.d].AmountCents)
	assert.Equal(t, 4, byRecipient[ch.d].Level)

	assert.Equal(t, int64(1700), settlement.DistributedCents)
	assert.Equal(t, 7, settlement.PlanVersion)
	assert.Equal(t, int64(1000), h.balance(t, ch.a))
	assert.Equal(t, int64(500), h.balance(t, ch.b))
	assert.Equal(t, int64(0), h.balance(t, ch.c))
	assert.Equal(t, int64(200), h.balance(t, ch.d))

	var commissionRows int64
	require.NoError(t, h.conn.Model(&models.WalletTransaction{}).
		Where("reason = ?", enums.WalletReasonCommission).
		Count(&commissionRows).Error)
	assert.Equal(t, int64(3), commissionRows)
}

func TestSettleOrderIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ch := h.chain(t)
	order := OrderPaid{OrderID: "order-dup", BuyerID: ch.buyer, PaidAmountCents: 10000}

	first, err := h.svc.SettleOrder(context.Background(), h.plan, order)
	require.NoError(t, err)

	second, err := h.svc.SettleOrder(context.Background(), h.plan, order)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAlreadyProcessed))
	require.NotNil(t, second)
	assert.True(t, second.AlreadyProcessed)
	assert.Len(t, second.Records, len(first.Records))
	assert.Equal(t, first.DistributedCents, second.DistributedCents)

	assert.Equal(t, int64(1000), h.balance(t, ch.a))
}

func TestConcurrentSettlementsProduceOneRecordSet(t *testing.T) {
	h := newHarness(t)
	ch := h.chain(t)
	order := OrderPaid{OrderID: "order-race", BuyerID: ch.buyer, PaidAmountCents: 10000}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.SettleOrder(context.Background(), h.plan, order)
		}(i)
	}
	wg.Wait()

	settled, processed := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			settled++
		case pkgerrors.IsCode(err, pkgerrors.CodeAlreadyProcessed):
			processed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, settled)
	assert.Equal(t, 1, processed)

	records, err := h.svc.ListByOrder(context.Background(), order.OrderID)
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, int64(1000), h.balance(t, ch.a))
}

func TestSettleOrderRejectsOverAllocatedPlan(t *testing.T) {
	h := newHarness(t)
	ch := h.chain(t)
	tight := h.plan.Clone()
	tight.MaxPayoutRatio = decimal.RequireFromString("0.12")

	_, err := h.svc.SettleOrder(context.Background(), tight, OrderPaid{
		OrderID: "order-cfg", BuyerID: ch.buyer, PaidAmountCents: 10000,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConfigurationInvalid))

	assert.Zero(t, h.balance(t, ch.a))
	records, err := h.svc.ListByOrder(context.Background(), "order-cfg")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSettleOrderRespectsMaxDepth(t *testing.T) {
	h := newHarness(t)
	ch := h.chain(t)
	shallow := h.plan.Clone()
	shallow.MaxCommissionDepth = 2

	settlement, err := h.svc.SettleOrder(context.Background(), shallow, OrderPaid{
		OrderID: "order-shallow", BuyerID: ch.buyer, PaidAmountCents: 10000,
	})
	require.NoError(t, err)
	require.Len(t, settlement.Records, 2)
	assert.Zero(t, h.balance(t, ch.d))
}

func TestSettleOrderUnknownBuyer(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.SettleOrder(context.Background(), h.plan, OrderPaid{
		OrderID: "order-ghost", BuyerID: uuid.New(), PaidAmountCents: 500,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSettleOrderRootBuyerSettlesEmpty(t *testing.T) {
	h := newHarness(t)
	root := h.enroll(t, nil, true)

	settlement, err := h.svc.SettleOrder(context.Background(), h.plan, OrderPaid{
		OrderID: "order-root", BuyerID: root, PaidAmountCents: 500,
	})
	require.NoError(t, err)
	assert.Empty(t, settlement.Records)

	_, err = h.svc.SettleOrder(context.Background(), h.plan, OrderPaid{
		OrderID: "order-root", BuyerID: root, PaidAmountCents: 500,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAlreadyProcessed))
}

func TestSettleOrderDetectsSponsorCycle(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	x, y, buyer := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, h.conn.Create(&models.Member{ID: x, DisplayName: "x", EnrolledAt: now}).Error)
	require.NoError(t, h.conn.Create(&models.Member{ID: y, SponsorID: &x, DisplayName: "y", EnrolledAt: now}).Error)
	require.NoError(t, h.conn.Model(&models.Member{}).Where("id = ?", x).Update("sponsor_id", y).Error)
	require.NoError(t, h.conn.Create(&models.Member{ID: buyer, SponsorID: &x, DisplayName: "b", Active: true, EnrolledAt: now}).Error)

	_, err := h.svc.SettleOrder(context.Background(), h.plan, OrderPaid{
		OrderID: "order-cycle", BuyerID: buyer, PaidAmountCents: 1000,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
}

func TestSettleOrderValidatesInput(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.SettleOrder(context.Background(), h.plan, OrderPaid{OrderID: " ", BuyerID: uuid.New(), PaidAmountCents: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = h.svc.SettleOrder(context.Background(), h.plan, OrderPaid{OrderID: "o", BuyerID: uuid.New(), PaidAmountCents: 0})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = h.svc.SettleOrder(context.Background(), nil, OrderPaid{OrderID: "o", BuyerID: uuid.New(), PaidAmountCents: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConfigurationInvalid))
}

func TestListByRecipientPages(t *testing.T) {
	h := newHarness(t)
	ch := h.chain(t)
	for _, id := range []string{"o-1", "o-2", "o-3"} {
		_, err := h.svc.SettleOrder(context.Background(), h.plan, OrderPaid{OrderID: id, BuyerID: ch.buyer, PaidAmountCents: 1000})
		require.NoError(t, err)
	}

	page, err := h.svc.ListByRecipient(context.Background(), ch.a, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	rest, err := h.svc.ListByRecipient(context.Background(), ch.a, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	assert.Empty(t, rest.NextCursor)
}

func TestCommissionCentsRoundsHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		paid int64
		rate string
		want int64
	}{
		{10000, "0.10", 1000},
		{333, "0.05", 17},
		{10, "0.05", 1},
		{30, "0.05", 2},
		{29, "0.05", 1},
		{1, "0.02", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CommissionCents(tc.paid, decimal.RequireFromString(tc.rate)), "%d x %s", tc.paid, tc.rate)
	}
}

func TestSumNeverExceedsPayoutRatio(t *testing.T) {
	h := newHarness(t)
	ch := h.chain(t)
	for i, paid := range []int64{1, 7, 99, 1001, 123457} {
		settlement, err := h.svc.SettleOrder(context.Background(), h.plan, OrderPaid{
			OrderID: "order-sum-" + string(rune('a'+i)), BuyerID: ch.buyer, PaidAmountCents: paid,
		})
		require.NoError(t, err)
		limit := decimal.NewFromInt(paid).Mul(h.plan.MaxPayoutRatio)
		assert.False(t, decimal.NewFromInt(settlement.DistributedCents).GreaterThan(limit), "paid %d", paid)
	}
}
