package phase

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/netcomp-backend/internal/wallet"
	"github.com/angelmondragon/netcomp-backend/pkg/db/dbtest"
	"github.com/angelmondragon/netcomp-backend/pkg/db/models"
	"github.com/angelmondragon/netcomp-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox"
)

type serviceHarness struct {
	svc     Service
	wallet  wallet.Service
	network *fakeNetwork
	outbox  *outbox.Repository
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()
	client := dbtest.Client(t)
	outboxRepo := outbox.NewRepository(client.DB())
	publisher := outbox.NewService(outboxRepo, nil)
	walletSvc, err := wallet.NewService(wallet.NewRepository(client.DB()), client, publisher, nil)
	require.NoError(t, err)

	network := newFakeNetwork()
	svc, err := NewService(newTestClassifier(t, network), NewRepository(client.DB()), walletSvc, client, publisher)
	require.NoError(t, err)
	return &serviceHarness{svc: svc, wallet: walletSvc, network: network, outbox: outboxRepo}
}

func TestStatusTracksOverrideSeparately(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	plan := testPlan(t)
	member := uuid.New()
	h.network.addBranch(member, true, 1)
	h.network.addBranch(member, true, 1)

	status, err := h.svc.Status(ctx, plan, member)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Computed)
	assert.Equal(t, 1, status.Effective)
	assert.Nil(t, status.Override)
	assert.False(t, status.Discrepancy)

	_, err = h.svc.SetOverride(ctx, plan, OverrideInput{MemberID: member, Tier: 3, Reason: "founding leader", AdminID: uuid.New()})
	require.NoError(t, err)

	status, err = h.svc.Status(ctx, plan, member)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Computed)
	require.NotNil(t, status.Override)
	assert.Equal(t, 3, *status.Override)
	assert.Equal(t, 3, status.Effective)
	assert.True(t, status.Discrepancy)
	assert.Equal(t, "founding leader", status.OverrideReason)

	tier, err := h.svc.EffectiveTier(ctx, plan, member)
	require.NoError(t, err)
	assert.Equal(t, 3, tier.Tier)

	// a second override replaces the first
	_, err = h.svc.SetOverride(ctx, plan, OverrideInput{MemberID: member, Tier: 1, Reason: "aligned", AdminID: uuid.New()})
	require.NoError(t, err)
	status, err = h.svc.Status(ctx, plan, member)
	require.NoError(t, err)
	assert.False(t, status.Discrepancy)

	require.NoError(t, h.svc.ClearOverride(ctx, member))
	status, err = h.svc.Status(ctx, plan, member)
	require.NoError(t, err)
	assert.Nil(t, status.Override)

	err = h.svc.ClearOverride(ctx, member)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSetOverrideValidatesTier(t *testing.T) {
	h := newServiceHarness(t)
	_, err := h.svc.SetOverride(context.Background(), testPlan(t), OverrideInput{
		MemberID: uuid.New(), Tier: 9, Reason: "typo", AdminID: uuid.New(),
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.SetOverride(context.Background(), testPlan(t), OverrideInput{
		MemberID: uuid.New(), Tier: 1, AdminID: uuid.New(),
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestEffectiveTierMissingFromPlan(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	member := uuid.New()
	_, err := h.svc.SetOverride(ctx, testPlan(t), OverrideInput{MemberID: member, Tier: 3, Reason: "promo", AdminID: uuid.New()})
	require.NoError(t, err)

	smaller := testPlan(t)
	smaller.Version = 2
	smaller.Tiers = smaller.Tiers[:2]
	_, err = h.svc.EffectiveTier(ctx, smaller, member)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConfigurationInvalid))
}

func TestAwardTierRewardsGrantsOnce(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	plan := testPlan(t)
	member := uuid.New()
	admin := uuid.New()
	for i := 0; i < 3; i++ {
		h.network.addBranch(member, true, 2)
	}

	granted, err := h.svc.AwardTierRewards(ctx, plan, member, admin)
	require.NoError(t, err)
	require.Len(t, granted, 2)
	assert.Equal(t, 1, granted[0].Tier)
	assert.Equal(t, 2, granted[1].Tier)
	assert.Equal(t, int64(5000), granted[1].FreeProductValueCents)
	require.NotNil(t, granted[0].WalletTransactionID)

	balance, err := h.wallet.Balance(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, int64(3500), balance)

	again, err := h.svc.AwardTierRewards(ctx, plan, member, admin)
	require.NoError(t, err)
	assert.Empty(t, again)
	balance, err = h.wallet.Balance(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, int64(3500), balance)

	// reaching gold later only grants gold
	for _, direct := range h.network.children[member] {
		h.network.children[direct] = append(h.network.children[direct], uuid.New())
	}
	granted, err = h.svc.AwardTierRewards(ctx, plan, member, admin)
	require.NoError(t, err)
	require.Len(t, granted, 1)
	assert.Equal(t, 3, granted[0].Tier)

	events, err := h.outbox.ListByAggregate(member)
	require.NoError(t, err)
	rewards := 0
	for _, event := range events {
		if event.EventType == enums.EventTierRewardGranted {
			rewards++
		}
	}
	assert.Equal(t, 3, rewards)

	status, err := h.svc.Status(ctx, plan, member)
	require.NoError(t, err)
	assert.Len(t, status.Awards, 3)
	assert.IsType(t, []models.TierAward{}, status.Awards)
}
