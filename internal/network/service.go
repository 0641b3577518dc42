package network

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/netcomp-backend/pkg/db"
	"github.com/angelmondragon/netcomp-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
)

// maxAncestryWalk bounds the enrollment-time ancestry check.
const maxAncestryWalk = 10000

// Service is the referral graph store. Reads never conflate a missing sponsor
// with a failed lookup: roots return a nil sponsor, store failures return a
// DEPENDENCY_ERROR.
type Service interface {
	GetSponsor(ctx context.Context, memberID uuid.UUID) (*uuid.UUID, error)
	GetChildren(ctx context.Context, memberID uuid.UUID) ([]uuid.UUID, error)
	IsActive(ctx context.Context, memberID uuid.UUID) (bool, error)
	ActiveSet(ctx context.Context, memberIDs []uuid.UUID) (map[uuid.UUID]bool, error)
	Get(ctx context.Context, memberID uuid.UUID) (*models.Member, error)
	Enroll(ctx context.Context, input EnrollInput) (*models.Member, error)
	AssignSponsor(ctx context.Context, memberID, sponsorID uuid.UUID) error
	SetActive(ctx context.Context, memberID uuid.UUID, active bool) error
}

// EnrollInput captures a new member. SponsorID is nil for a root.
type EnrollInput struct {
	MemberID    uuid.UUID
	SponsorID   *uuid.UUID
	DisplayName string
	Email       *string
	Active      bool
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires the graph store over the member repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("member repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) Get(ctx context.Context, memberID uuid.UUID) (*models.Member, error) {
	if memberID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "member id required")
	}
	member, err := s.repo.FindByID(ctx, memberID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "member not found").
				WithDetails(map[string]any{"memberId": memberID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load member")
	}
	return member, nil
}

func (s *service) GetSponsor(ctx context.Context, memberID uuid.UUID) (*uuid.UUID, error) {
	member, err := s.Get(ctx, memberID)
	if err != nil {
		return nil, err
	}
	return member.SponsorID, nil
}

func (s *service) GetChildren(ctx context.Context, memberID uuid.UUID) ([]uuid.UUID, error) {
	if memberID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "member id required")
	}
	ids, err := s.repo.ListChildIDs(ctx, memberID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list children")
	}
	return ids, nil
}

func (s *service) IsActive(ctx context.Context, memberID uuid.UUID) (bool, error) {
	member, err := s.Get(ctx, memberID)
	if err != nil {
		return false, err
	}
	return member.Active, nil
}

// ActiveSet resolves activity for many members in one read. Unknown ids are
// reported inactive.
func (s *service) ActiveSet(ctx context.Context, memberIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(memberIDs))
	if len(memberIDs) == 0 {
		return out, nil
	}
	active, err := s.repo.ListActiveIDs(ctx, memberIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load member activity")
	}
	for _, id := range memberIDs {
		out[id] = false
	}
	for _, id := range active {
		out[id] = true
	}
	return out, nil
}

func (s *service) Enroll(ctx context.Context, input EnrollInput) (*models.Member, error) {
	if input.MemberID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "member id required")
	}
	name := strings.TrimSpace(input.DisplayName)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "display name required")
	}
	if input.SponsorID != nil {
		if *input.SponsorID == input.MemberID {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "member cannot sponsor itself")
		}
		if err := s.ensureAcyclic(ctx, input.MemberID, *input.SponsorID); err != nil {
			return nil, err
		}
	}

	member := &models.Member{
		ID:          input.MemberID,
		SponsorID:   input.SponsorID,
		DisplayName: name,
		Email:       input.Email,
		Active:      input.Active,
		EnrolledAt:  s.now().UTC(),
	}
	if err := s.repo.Create(ctx, member); err != nil {
		if dbpkg.IsUniqueViolation(err, "members_pkey") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "member already enrolled").
				WithDetails(map[string]any{"memberId": input.MemberID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create member")
	}
	return member, nil
}

// AssignSponsor exists so that reassignment attempts fail loudly: a sponsor is
// set once, at enrollment.
func (s *service) AssignSponsor(ctx context.Context, memberID, sponsorID uuid.UUID) error {
	member, err := s.Get(ctx, memberID)
	if err != nil {
		return err
	}
	if member.SponsorID != nil && *member.SponsorID == sponsorID {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "sponsor is immutable after enrollment").
		WithDetails(map[string]any{"memberId": memberID, "sponsorId": member.SponsorID})
}

func (s *service) SetActive(ctx context.Context, memberID uuid.UUID, active bool) error {
	if memberID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "member id required")
	}
	rows, err := s.repo.UpdateActive(ctx, memberID, active)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update member activity")
	}
	if rows == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "member not found")
	}
	return nil
}

// ensureAcyclic walks from sponsorID to its root and fails if memberID is met
// or the existing chain already loops.
func (s *service) ensureAcyclic(ctx context.Context, memberID, sponsorID uuid.UUID) error {
	seen := map[uuid.UUID]struct{}{}
	current := sponsorID
	for steps := 0; steps < maxAncestryWalk; steps++ {
		if current == memberID {
			return pkgerrors.New(pkgerrors.CodeValidation, "sponsor assignment would create a cycle").
				WithDetails(map[string]any{"memberId": memberID, "sponsorId": sponsorID})
		}
		if _, ok := seen[current]; ok {
			return pkgerrors.New(pkgerrors.CodeInternal, "sponsor chain contains a cycle").
				WithDetails(map[string]any{"memberId": current})
		}
		seen[current] = struct{}{}

		ancestor, err := s.repo.FindByID(ctx, current)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if current == sponsorID {
					return pkgerrors.New(pkgerrors.CodeNotFound, "sponsor not found").
						WithDetails(map[string]any{"sponsorId": sponsorID})
				}
				return pkgerrors.New(pkgerrors.CodeInternal, "sponsor chain references a missing member").
					WithDetails(map[string]any{"memberId": current})
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "walk sponsor chain")
		}
		if ancestor.SponsorID == nil {
			return nil
		}
		current = *ancestor.SponsorID
	}
	return pkgerrors.New(pkgerrors.CodeInternal, "sponsor chain exceeds maximum depth")
}
