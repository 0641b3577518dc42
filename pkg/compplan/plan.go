// Package compplan holds the versioned compensation plan every commission and
// phase computation is evaluated against.
package compplan

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

const (
	DefaultMaxCommissionDepth = 10
	maxCommissionDepthCap     = 50
)

// Tier is one compensation phase: its payout rate, one-time rewards and the
// downline thresholds that unlock it.
type Tier struct {
	Tier                  int             `json:"tier" yaml:"tier" toml:"tier"`
	Name                  string          `json:"name" yaml:"name" toml:"name"`
	CommissionRate        decimal.Decimal `json:"commissionRate" yaml:"commissionRate" toml:"commissionRate"`
	CreditCents           int64           `json:"creditCents" yaml:"creditCents" toml:"creditCents"`
	FreeProductValueCents int64           `json:"freeProductValueCents" yaml:"freeProductValueCents" toml:"freeProductValueCents"`
	MinActiveDirects      int             `json:"minActiveDirects" yaml:"minActiveDirects" toml:"minActiveDirects"`
	MinSecondLevel        int             `json:"minSecondLevel" yaml:"minSecondLevel" toml:"minSecondLevel"`
	MinBranchSecondLevel  int             `json:"minBranchSecondLevel" yaml:"minBranchSecondLevel" toml:"minBranchSecondLevel"`
}

// Plan is immutable for the duration of a computation and passed explicitly.
type Plan struct {
	Version            int             `json:"version" yaml:"version" toml:"version"`
	Name               string          `json:"name" yaml:"name" toml:"name"`
	MaxCommissionDepth int             `json:"maxCommissionDepth" yaml:"maxCommissionDepth" toml:"maxCommissionDepth"`
	MaxPayoutRatio     decimal.Decimal `json:"maxPayoutRatio" yaml:"maxPayoutRatio" toml:"maxPayoutRatio"`
	Tiers              []Tier          `json:"tiers" yaml:"tiers" toml:"tiers"`
}

// Validate normalizes tier order and rejects plans that cannot be evaluated.
func (p *Plan) Validate() error {
	if p == nil {
		return fmt.Errorf("plan is required")
	}
	if p.Version <= 0 {
		return fmt.Errorf("plan version must be positive")
	}
	if len(p.Tiers) == 0 {
		return fmt.Errorf("plan %d has no tiers", p.Version)
	}
	if p.MaxCommissionDepth == 0 {
		p.MaxCommissionDepth = DefaultMaxCommissionDepth
	}
	if p.MaxCommissionDepth < 0 || p.MaxCommissionDepth > maxCommissionDepthCap {
		return fmt.Errorf("max commission depth %d outside 1..%d", p.MaxCommissionDepth, maxCommissionDepthCap)
	}
	if !p.MaxPayoutRatio.IsPositive() || p.MaxPayoutRatio.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("max payout ratio %s outside (0, 1]", p.MaxPayoutRatio)
	}

	sort.SliceStable(p.Tiers, func(i, j int) bool { return p.Tiers[i].Tier < p.Tiers[j].Tier })
	for i, tier := range p.Tiers {
		if i > 0 && p.Tiers[i-1].Tier == tier.Tier {
			return fmt.Errorf("tier %d declared twice", tier.Tier)
		}
		if tier.Tier < 0 {
			return fmt.Errorf("tier %d must be non-negative", tier.Tier)
		}
		if tier.CommissionRate.IsNegative() || tier.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("tier %d commission rate %s outside [0, 1]", tier.Tier, tier.CommissionRate)
		}
		if tier.CreditCents < 0 || tier.FreeProductValueCents < 0 {
			return fmt.Errorf("tier %d rewards must be non-negative", tier.Tier)
		}
		if tier.MinActiveDirects < 0 || tier.MinSecondLevel < 0 || tier.MinBranchSecondLevel < 0 {
			return fmt.Errorf("tier %d thresholds must be non-negative", tier.Tier)
		}
	}
	return nil
}

// BaseTier is the lowest configured tier; every member holds at least it.
func (p *Plan) BaseTier() Tier {
	return p.Tiers[0]
}

// TierByRank looks up a tier by its rank number.
func (p *Plan) TierByRank(rank int) (Tier, bool) {
	for _, tier := range p.Tiers {
		if tier.Tier == rank {
			return tier, true
		}
	}
	return Tier{}, false
}

// TiersUpTo returns the tiers ranked at or below rank, lowest first.
func (p *Plan) TiersUpTo(rank int) []Tier {
	out := []Tier{}
	for _, tier := range p.Tiers {
		if tier.Tier <= rank {
			out = append(out, tier)
		}
	}
	return out
}

// Clone copies the plan so a computation can normalize it without touching
// the caller's value.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := *p
	out.Tiers = append([]Tier(nil), p.Tiers...)
	return &out
}
