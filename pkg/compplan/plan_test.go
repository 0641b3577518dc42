package compplan

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/netcomp-backend/pkg/db/dbtest"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
)

func TestLoadFileYAMLSortsTiers(t *testing.T) {
	plan, err := LoadFile(filepath.Join("testdata", "plan.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 3, plan.Version)
	assert.Equal(t, 5, plan.MaxCommissionDepth)
	assert.True(t, plan.MaxPayoutRatio.Equal(decimal.RequireFromString("0.5")))
	require.Len(t, plan.Tiers, 4)
	for i, tier := range plan.Tiers {
		assert.Equal(t, i, tier.Tier)
	}
	gold, ok := plan.TierByRank(3)
	require.True(t, ok)
	assert.True(t, gold.CommissionRate.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, 2, gold.MinBranchSecondLevel)
	assert.Equal(t, 0, plan.BaseTier().Tier)
	assert.Len(t, plan.TiersUpTo(1), 2)
}

func TestLoadFileJSONDefaultsDepth(t *testing.T) {
	plan, err := LoadFile(filepath.Join("testdata", "plan.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxCommissionDepth, plan.MaxCommissionDepth)
	assert.True(t, plan.Tiers[0].CommissionRate.Equal(decimal.RequireFromString("0.05")))
}

func TestLoadFileTOML(t *testing.T) {
	plan, err := LoadFile(filepath.Join("testdata", "plan.toml"))
	require.NoError(t, err)
	assert.Equal(t, 5, plan.Version)
	assert.True(t, plan.MaxPayoutRatio.Equal(decimal.RequireFromString("0.4")))
	require.Len(t, plan.Tiers, 2)
	assert.Equal(t, 0, plan.Tiers[0].Tier)
	assert.True(t, plan.Tiers[1].CommissionRate.Equal(decimal.RequireFromString("0.08")))
	assert.Equal(t, 4, plan.Tiers[1].MinActiveDirects)
}

func TestLoadFileRejectsUnknownExtension(t *testing.T) {
	_, err := LoadFile(filepath.Join("testdata", "plan.ini"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestValidate(t *testing.T) {
	valid := func() *Plan {
		return &Plan{
			Version:        1,
			MaxPayoutRatio: decimal.RequireFromString("0.4"),
			Tiers: []Tier{
				{Tier: 0, CommissionRate: decimal.RequireFromString("0.02")},
				{Tier: 1, CommissionRate: decimal.RequireFromString("0.05"), MinActiveDirects: 2},
			},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(p *Plan){
		"missing version":   func(p *Plan) { p.Version = 0 },
		"no tiers":          func(p *Plan) { p.Tiers = nil },
		"ratio above one":   func(p *Plan) { p.MaxPayoutRatio = decimal.RequireFromString("1.2") },
		"ratio zero":        func(p *Plan) { p.MaxPayoutRatio = decimal.Zero },
		"negative depth":    func(p *Plan) { p.MaxCommissionDepth = -1 },
		"duplicate tier":    func(p *Plan) { p.Tiers[1].Tier = 0 },
		"rate above one":    func(p *Plan) { p.Tiers[0].CommissionRate = decimal.RequireFromString("1.5") },
		"negative reward":   func(p *Plan) { p.Tiers[1].CreditCents = -1 },
		"negative treshold": func(p *Plan) { p.Tiers[1].MinSecondLevel = -3 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			plan := valid()
			mutate(plan)
			require.Error(t, plan.Validate())
		})
	}
}

func TestRepositoryPublishAndCurrent(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	_, err := repo.Current(ctx)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConfigurationInvalid))

	first, err := LoadFile(filepath.Join("testdata", "plan.yaml"))
	require.NoError(t, err)
	require.NoError(t, repo.Publish(ctx, first))

	second, err := LoadFile(filepath.Join("testdata", "plan.json"))
	require.NoError(t, err)
	require.NoError(t, repo.Publish(ctx, second))

	current, err := repo.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, current.Version)
	assert.True(t, current.MaxPayoutRatio.Equal(decimal.RequireFromString("0.3")))

	require.Error(t, repo.Publish(ctx, &Plan{Version: 5}))
}

func TestFileSourceWrapsErrors(t *testing.T) {
	_, err := NewFileSource(filepath.Join("testdata", "missing.yaml")).Current(context.Background())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConfigurationInvalid))
}

func TestCloneDetachesTiers(t *testing.T) {
	plan := &Plan{
		Version:        2,
		MaxPayoutRatio: decimal.RequireFromString("0.3"),
		Tiers: []Tier{
			{Tier: 1, CommissionRate: decimal.RequireFromString("0.05")},
			{Tier: 0, CommissionRate: decimal.RequireFromString("0.01")},
		},
	}
	clone := plan.Clone()
	require.NoError(t, clone.Validate())

	assert.Equal(t, 0, clone.Tiers[0].Tier)
	assert.Equal(t, 1, plan.Tiers[0].Tier)
	assert.Zero(t, plan.MaxCommissionDepth)
	assert.Nil(t, (*Plan)(nil).Clone())
}
