package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/netcomp-backend/api/responses"
	"github.com/angelmondragon/netcomp-backend/api/validators"
	"github.com/angelmondragon/netcomp-backend/internal/network"
	"github.com/angelmondragon/netcomp-backend/internal/phase"
	"github.com/angelmondragon/netcomp-backend/internal/tree"
	"github.com/angelmondragon/netcomp-backend/pkg/compplan"
	"github.com/angelmondragon/netcomp-backend/pkg/config"
	"github.com/angelmondragon/netcomp-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
)

type memberReader interface {
	Get(ctx context.Context, memberID uuid.UUID) (*models.Member, error)
}

type downlineBuilder interface {
	BuildLevels(ctx context.Context, rootID uuid.UUID, maxDepth int) (*tree.Downline, error)
}

type downlineResponse struct {
	*tree.Downline
	Size int `json:"size"`
}

// MemberDownline returns the member's downline grouped by level.
func MemberDownline(members memberReader, builder downlineBuilder, cfg config.TreeConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if members == nil || builder == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "tree service unavailable"))
			return
		}
		actorID, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		memberID, err := validators.ParseUUIDParam(r, "memberId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := authorizeMember(r, actorID, memberID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		depth, err := validators.ParseQueryInt(r, "depth", cfg.DefaultDepth, 1, cfg.MaxDepthCap)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := members.Get(r.Context(), memberID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		downline, err := builder.BuildLevels(r.Context(), memberID, depth)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, downlineResponse{Downline: downline, Size: downline.Size()})
	}
}

type phaseStatusReader interface {
	Status(ctx context.Context, plan *compplan.Plan, memberID uuid.UUID) (*phase.Status, error)
}

// MemberPhase reports computed, overridden and effective tiers.
func MemberPhase(phases phaseStatusReader, plans compplan.Source, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if phases == nil || plans == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "phase service unavailable"))
			return
		}
		actorID, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		memberID, err := validators.ParseUUIDParam(r, "memberId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := authorizeMember(r, actorID, memberID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		plan, err := plans.Current(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := phases.Status(r.Context(), plan, memberID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

type enrollRequest struct {
	MemberID    string  `json:"memberId" validate:"required,uuid"`
	SponsorID   *string `json:"sponsorId" validate:"omitempty,uuid"`
	DisplayName string  `json:"displayName" validate:"required,max=120"`
	Email       *string `json:"email" validate:"omitempty,email"`
	Active      bool    `json:"active"`
}

func (r enrollRequest) toInput() network.EnrollInput {
	input := network.EnrollInput{
		MemberID:    uuid.MustParse(r.MemberID),
		DisplayName: validators.SanitizeString(r.DisplayName, 120),
		Active:      r.Active,
	}
	if r.SponsorID != nil {
		sponsorID := uuid.MustParse(*r.SponsorID)
		input.SponsorID = &sponsorID
	}
	if r.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*r.Email))
		input.Email = &email
	}
	return input
}

type memberEnroller interface {
	Enroll(ctx context.Context, input network.EnrollInput) (*models.Member, error)
}

// AdminEnrollMember places a new member under an existing sponsor, or as a root.
func AdminEnrollMember(svc memberEnroller, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "network service unavailable"))
			return
		}
		var req enrollRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		member, err := svc.Enroll(r.Context(), req.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, member)
	}
}

type activityRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type activityWriter interface {
	SetActive(ctx context.Context, memberID uuid.UUID, active bool) error
}

// AdminSetMemberActive records a subscription status change.
func AdminSetMemberActive(svc activityWriter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "network service unavailable"))
			return
		}
		memberID, err := validators.ParseUUIDParam(r, "memberId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req activityRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.SetActive(r.Context(), memberID, *req.Active); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"memberId": memberID, "active": *req.Active})
	}
}

type overrideRequest struct {
	Tier   *int   `json:"tier" validate:"required,min=0"`
	Reason string `json:"reason" validate:"required,max=500"`
}

type overrideWriter interface {
	SetOverride(ctx context.Context, plan *compplan.Plan, input phase.OverrideInput) (*models.PhaseOverride, error)
	ClearOverride(ctx context.Context, memberID uuid.UUID) error
}

// AdminSetPhaseOverride pins a member to a tier of the active plan.
func AdminSetPhaseOverride(svc overrideWriter, plans compplan.Source, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || plans == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "phase service unavailable"))
			return
		}
		adminID, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		memberID, err := validators.ParseUUIDParam(r, "memberId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req overrideRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		plan, err := plans.Current(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		override, err := svc.SetOverride(r.Context(), plan, phase.OverrideInput{
			MemberID: memberID,
			Tier:     *req.Tier,
			Reason:   validators.SanitizeString(req.Reason, 500),
			AdminID:  adminID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, override)
	}
}

// AdminClearPhaseOverride returns the member to their computed tier.
func AdminClearPhaseOverride(svc overrideWriter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "phase service unavailable"))
			return
		}
		memberID, err := validators.ParseUUIDParam(r, "memberId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.ClearOverride(r.Context(), memberID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type rewardGranter interface {
	AwardTierRewards(ctx context.Context, plan *compplan.Plan, memberID, actorID uuid.UUID) ([]models.TierAward, error)
}

// AdminAwardTierRewards grants any tier rewards the member has reached but not
// yet received.
func AdminAwardTierRewards(svc rewardGranter, plans compplan.Source, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || plans == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "phase service unavailable"))
			return
		}
		adminID, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		memberID, err := validators.ParseUUIDParam(r, "memberId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		plan, err := plans.Current(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		awards, err := svc.AwardTierRewards(r.Context(), plan, memberID, adminID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if awards == nil {
			awards = []models.TierAward{}
		}
		responses.WriteSuccess(w, map[string]any{"memberId": memberID, "granted": awards})
	}
}
