package phase

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/netcomp-backend/internal/wallet"
	"github.com/angelmondragon/netcomp-backend/pkg/compplan"
	dbpkg "github.com/angelmondragon/netcomp-backend/pkg/db"
	"github.com/angelmondragon/netcomp-backend/pkg/db/models"
	"github.com/angelmondragon/netcomp-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox/payloads"
)

// Status keeps the computed tier and any administrator override side by side.
type Status struct {
	MemberID       uuid.UUID          `json:"memberId"`
	Computed       int                `json:"computedTier"`
	Override       *int               `json:"overrideTier,omitempty"`
	OverrideReason string             `json:"overrideReason,omitempty"`
	Effective      int                `json:"effectiveTier"`
	Discrepancy    bool               `json:"discrepancy"`
	Classification *Classification    `json:"classification"`
	Awards         []models.TierAward `json:"awards"`
}

// OverrideInput is an administrator's tier assignment.
type OverrideInput struct {
	MemberID uuid.UUID
	Tier     int
	Reason   string
	AdminID  uuid.UUID
}

// Service exposes classification, overrides and one-time rewards.
type Service interface {
	Classify(ctx context.Context, plan *compplan.Plan, memberID uuid.UUID) (*Classification, error)
	Status(ctx context.Context, plan *compplan.Plan, memberID uuid.UUID) (*Status, error)
	EffectiveTier(ctx context.Context, plan *compplan.Plan, memberID uuid.UUID) (compplan.Tier, error)
	SetOverride(ctx context.Context, plan *compplan.Plan, input OverrideInput) (*models.PhaseOverride, error)
	ClearOverride(ctx context.Context, memberID uuid.UUID) error
	AwardTierRewards(ctx context.Context, plan *compplan.Plan, memberID, actorID uuid.UUID) ([]models.TierAward, error)
}

type walletCrediter interface {
	Credit(ctx context.Context, tx *gorm.DB, input wallet.CreditInput) (*models.WalletTransaction, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type service struct {
	classifier *Classifier
	repo       Repository
	wallet     walletCrediter
	tx         txRunner
	outbox     outboxPublisher
	now        func() time.Time
}

func NewService(classifier *Classifier, repo Repository, wallet walletCrediter, tx txRunner, publisher outboxPublisher) (Service, error) {
	if classifier == nil {
		return nil, fmt.Errorf("classifier required")
	}
	if repo == nil {
		return nil, fmt.Errorf("phase repository required")
	}
	if wallet == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		classifier: classifier,
		repo:       repo,
		wallet:     wallet,
		tx:         tx,
		outbox:     publisher,
		now:        time.Now,
	}, nil
}

func (s *service) Classify(ctx context.Context, plan *compplan.Plan, memberID uuid.UUID) (*Classification, error) {
	return s.classifier.Classify(ctx, plan, memberID)
}

func (s *service) Status(ctx context.Context, plan *compplan.Plan, memberID uuid.UUID) (*Status, error) {
	status, err := s.resolve(ctx, plan, memberID)
	if err != nil {
		return nil, err
	}
	awards, err := s.repo.ListAwards(ctx, memberID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tier awards")
	}
	if awards == nil {
		awards = []models.TierAward{}
	}
	status.Awards = awards
	return status, nil
}

// EffectiveTier resolves the tier whose rate and rewards apply to the member.
func (s *service) EffectiveTier(ctx context.Context, plan *compplan.Plan, memberID uuid.UUID) (compplan.Tier, error) {
	status, err := s.resolve(ctx, plan, memberID)
	if err != nil {
		return compplan.Tier{}, err
	}
	tier, ok := plan.TierByRank(status.Effective)
	if !ok {
		return compplan.Tier{}, pkgerrors.New(pkgerrors.CodeConfigurationInvalid, "effective tier missing from plan").
			WithDetails(map[string]any{"memberId": memberID, "tier": status.Effective, "planVersion": plan.Version})
	}
	return tier, nil
}

func (s *service) resolve(ctx context.Context, plan *compplan.Plan, memberID uuid.UUID) (*Status, error) {
	classification, err := s.classifier.Classify(ctx, plan, memberID)
	if err != nil {
		return nil, err
	}
	override, err := s.repo.FindOverride(ctx, memberID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load phase override")
	}
	status := &Status{
		MemberID:       memberID,
		Computed:       classification.Tier,
		Effective:      classification.Tier,
		Classification: classification,
	}
	if override != nil {
		tier := override.Tier
		status.Override = &tier
		status.OverrideReason = override.Reason
		status.Effective = tier
		status.Discrepancy = tier != classification.Tier
	}
	return status, nil
}

func (s *service) SetOverride(ctx context.Context, plan *compplan.Plan, input OverrideInput) (*models.PhaseOverride, error) {
	if input.MemberID == uuid.Nil || input.AdminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "member and admin ids required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "override reason required")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfigurationInvalid, "compensation plan required")
	}
	if _, ok := plan.TierByRank(input.Tier); !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tier not defined by the active plan").
			WithDetails(map[string]any{"tier": input.Tier, "planVersion": plan.Version})
	}
	override := &models.PhaseOverride{
		MemberID: input.MemberID,
		Tier:     input.Tier,
		Reason:   reason,
		SetBy:    input.AdminID,
		SetAt:    s.now().UTC(),
	}
	if err := s.repo.UpsertOverride(ctx, override); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save phase override")
	}
	return override, nil
}

func (s *service) ClearOverride(ctx context.Context, memberID uuid.UUID) error {
	rows, err := s.repo.DeleteOverride(ctx, memberID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear phase override")
	}
	if rows == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "phase override not found")
	}
	return nil
}

// AwardTierRewards grants the one-time rewards of every tier up to the
// member's effective tier that has not been granted yet.
func (s *service) AwardTierRewards(ctx context.Context, plan *compplan.Plan, memberID, actorID uuid.UUID) ([]models.TierAward, error) {
	if actorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	effective, err := s.EffectiveTier(ctx, plan, memberID)
	if err != nil {
		return nil, err
	}

	var granted []models.TierAward
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.ListAwards(ctx, memberID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tier awards")
		}
		awarded := make(map[int]struct{}, len(existing))
		for _, award := range existing {
			awarded[award.Tier] = struct{}{}
		}

		for _, tier := range plan.TiersUpTo(effective.Tier) {
			if _, ok := awarded[tier.Tier]; ok {
				continue
			}
			if tier.CreditCents == 0 && tier.FreeProductValueCents == 0 {
				continue
			}
			award := models.TierAward{
				ID:                    uuid.New(),
				MemberID:              memberID,
				Tier:                  tier.Tier,
				PlanVersion:           plan.Version,
				CreditCents:           tier.CreditCents,
				FreeProductValueCents: tier.FreeProductValueCents,
				AwardedBy:             actorID,
				CreatedAt:             s.now().UTC(),
			}
			if tier.CreditCents > 0 {
				reference := "tier:" + strconv.Itoa(tier.Tier)
				txn, err := s.wallet.Credit(ctx, tx, wallet.CreditInput{
					UserID:      memberID,
					AmountCents: tier.CreditCents,
					Reason:      enums.WalletReasonTierReward,
					Reference:   &reference,
					ActorID:     actorID,
					ActorRole:   enums.MemberRoleAdmin,
				})
				if err != nil {
					return err
				}
				award.WalletTransactionID = &txn.ID
			}
			if err := repo.CreateAward(ctx, &award); err != nil {
				if dbpkg.IsUniqueViolation(err, "ux_tier_awards_member_tier") {
					return pkgerrors.New(pkgerrors.CodeConflict, "tier reward granted concurrently").
						WithDetails(map[string]any{"memberId": memberID, "tier": tier.Tier})
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record tier award")
			}
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventTierRewardGranted,
				AggregateType: enums.AggregateMember,
				AggregateID:   memberID,
				Actor:         &outbox.ActorRef{UserID: actorID, Role: string(enums.MemberRoleAdmin)},
				Data: payloads.TierRewardGrantedEvent{
					AwardID:               award.ID,
					MemberID:              memberID,
					Tier:                  award.Tier,
					PlanVersion:           award.PlanVersion,
					CreditCents:           award.CreditCents,
					FreeProductValueCents: award.FreeProductValueCents,
					WalletTransactionID:   award.WalletTransactionID,
				},
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit tier reward event")
			}
			granted = append(granted, award)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if granted == nil {
		granted = []models.TierAward{}
	}
	return granted, nil
}
