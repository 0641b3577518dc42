package phase

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/netcomp-backend/internal/tree"
	"github.com/angelmondragon/netcomp-backend/pkg/compplan"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
)

type downlineBuilder interface {
	BuildLevels(ctx context.Context, rootID uuid.UUID, maxDepth int) (*tree.Downline, error)
}

type activityReader interface {
	ActiveSet(ctx context.Context, memberIDs []uuid.UUID) (map[uuid.UUID]bool, error)
}

// Branch is one direct recruit and the size of their own first level.
type Branch struct {
	DirectID    uuid.UUID `json:"directId"`
	Active      bool      `json:"active"`
	SecondLevel int       `json:"secondLevel"`
}

// Stats are the downline counts a tier is evaluated against.
// MinBranchSecondLevel is the second-level count of the smallest active
// branch, zero when there are no active directs.
type Stats struct {
	DirectActiveCount    int      `json:"directActiveCount"`
	TotalDirectCount     int      `json:"totalDirectCount"`
	SecondLevelTotal     int      `json:"secondLevelTotal"`
	MinBranchSecondLevel int      `json:"minBranchSecondLevel"`
	Branches             []Branch `json:"branches"`
}

// Classification is the computed tier and the counts that produced it.
type Classification struct {
	MemberID    uuid.UUID `json:"memberId"`
	PlanVersion int       `json:"planVersion"`
	Tier        int       `json:"tier"`
	Stats
}

// Classifier derives a member's tier from levels 1 and 2 of their downline.
type Classifier struct {
	tree  downlineBuilder
	graph activityReader
}

func NewClassifier(builder downlineBuilder, graph activityReader) (*Classifier, error) {
	if builder == nil {
		return nil, fmt.Errorf("tree builder required")
	}
	if graph == nil {
		return nil, fmt.Errorf("referral graph required")
	}
	return &Classifier{tree: builder, graph: graph}, nil
}

// Classify is a pure read.
func (c *Classifier) Classify(ctx context.Context, plan *compplan.Plan, rootID uuid.UUID) (*Classification, error) {
	if plan == nil || len(plan.Tiers) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConfigurationInvalid, "compensation plan required")
	}
	downline, err := c.tree.BuildLevels(ctx, rootID, 2)
	if err != nil {
		return nil, err
	}
	directs := downline.Level(1)
	active, err := c.graph.ActiveSet(ctx, directs)
	if err != nil {
		return nil, err
	}

	perBranch := make(map[uuid.UUID]int, len(directs))
	for _, member := range downline.Level(2) {
		perBranch[downline.Parents[member]]++
	}

	stats := Stats{
		TotalDirectCount: len(directs),
		SecondLevelTotal: len(downline.Level(2)),
		Branches:         make([]Branch, 0, len(directs)),
	}
	first := true
	for _, direct := range directs {
		branch := Branch{DirectID: direct, Active: active[direct], SecondLevel: perBranch[direct]}
		stats.Branches = append(stats.Branches, branch)
		if !branch.Active {
			continue
		}
		stats.DirectActiveCount++
		if first || branch.SecondLevel < stats.MinBranchSecondLevel {
			stats.MinBranchSecondLevel = branch.SecondLevel
			first = false
		}
	}

	return &Classification{
		MemberID:    rootID,
		PlanVersion: plan.Version,
		Tier:        Evaluate(plan, stats),
		Stats:       stats,
	}, nil
}

// Evaluate returns the highest tier whose thresholds hold, walking tiers in
// ascending order and stopping at the first miss. The base tier is always held.
//
// The branch threshold is checked against the smallest active branch, so one
// large branch cannot stand in for empty ones. Recruiting an active direct
// with no downline of its own can therefore drop a tier that sets one.
func Evaluate(plan *compplan.Plan, stats Stats) int {
	if plan == nil || len(plan.Tiers) == 0 {
		return 0
	}
	reached := plan.Tiers[0].Tier
	for _, tier := range plan.Tiers[1:] {
		if !qualifies(tier, stats) {
			break
		}
		reached = tier.Tier
	}
	return reached
}

func qualifies(tier compplan.Tier, stats Stats) bool {
	if stats.DirectActiveCount < tier.MinActiveDirects {
		return false
	}
	if stats.SecondLevelTotal < tier.MinSecondLevel {
		return false
	}
	if tier.MinBranchSecondLevel > 0 {
		if stats.DirectActiveCount == 0 || stats.MinBranchSecondLevel < tier.MinBranchSecondLevel {
			return false
		}
	}
	return true
}
