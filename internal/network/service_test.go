package network

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/netcomp-backend/pkg/db/dbtest"
	"github.com/angelmondragon/netcomp-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
)

func newTestService(t *testing.T) (*service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)
	impl := svc.(*service)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	impl.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	return impl, conn
}

func enroll(t *testing.T, svc Service, sponsor *uuid.UUID, active bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := svc.Enroll(context.Background(), EnrollInput{
		MemberID:    id,
		SponsorID:   sponsor,
		DisplayName: "member " + id.String()[:8],
		Active:      active,
	})
	require.NoError(t, err)
	return id
}

func TestNewServiceRequiresRepository(t *testing.T) {
	_, err := NewService(nil)
	require.Error(t, err)
}

func TestEnrollAndReadGraph(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	root := enroll(t, svc, nil, true)
	first := enroll(t, svc, &root, true)
	second := enroll(t, svc, &root, false)

	sponsor, err := svc.GetSponsor(ctx, root)
	require.NoError(t, err)
	require.Nil(t, sponsor)

	sponsor, err = svc.GetSponsor(ctx, first)
	require.NoError(t, err)
	require.NotNil(t, sponsor)
	require.Equal(t, root, *sponsor)

	children, err := svc.GetChildren(ctx, root)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{first, second}, children)

	leaf, err := svc.GetChildren(ctx, second)
	require.NoError(t, err)
	require.Empty(t, leaf)

	active, err := svc.IsActive(ctx, second)
	require.NoError(t, err)
	require.False(t, active)

	set, err := svc.ActiveSet(ctx, []uuid.UUID{first, second, uuid.New()})
	require.NoError(t, err)
	require.Len(t, set, 3)
	require.True(t, set[first])
	require.False(t, set[second])

	require.NoError(t, svc.SetActive(ctx, second, true))
	active, err = svc.IsActive(ctx, second)
	require.NoError(t, err)
	require.True(t, active)
}

func TestGetSponsorUnknownMember(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetSponsor(context.Background(), uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	err = svc.SetActive(context.Background(), uuid.New(), true)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestEnrollRejectsInvalidSponsors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	self := uuid.New()
	_, err := svc.Enroll(ctx, EnrollInput{MemberID: self, SponsorID: &self, DisplayName: "self"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	missing := uuid.New()
	_, err = svc.Enroll(ctx, EnrollInput{MemberID: uuid.New(), SponsorID: &missing, DisplayName: "orphan"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.Enroll(ctx, EnrollInput{MemberID: uuid.New(), DisplayName: "  "})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestEnrollDuplicateMember(t *testing.T) {
	svc, _ := newTestService(t)
	root := enroll(t, svc, nil, true)

	_, err := svc.Enroll(context.Background(), EnrollInput{MemberID: root, DisplayName: "again"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestEnrollDetectsCorruptedChain(t *testing.T) {
	svc, conn := newTestService(t)
	a := uuid.New()
	b := uuid.New()
	now := time.Now().UTC()
	require.NoError(t, conn.Create(&models.Member{ID: a, DisplayName: "a", EnrolledAt: now}).Error)
	require.NoError(t, conn.Create(&models.Member{ID: b, SponsorID: &a, DisplayName: "b", EnrolledAt: now}).Error)
	require.NoError(t, conn.Model(&models.Member{}).Where("id = ?", a).Update("sponsor_id", b).Error)

	_, err := svc.Enroll(context.Background(), EnrollInput{MemberID: uuid.New(), SponsorID: &b, DisplayName: "c"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
}

func TestAssignSponsorIsImmutable(t *testing.T) {
	svc, _ := newTestService(t)
	root := enroll(t, svc, nil, true)
	other := enroll(t, svc, nil, true)
	child := enroll(t, svc, &root, true)

	require.NoError(t, svc.AssignSponsor(context.Background(), child, root))

	err := svc.AssignSponsor(context.Background(), child, other)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

type failingRepository struct {
	Repository
}

func (failingRepository) FindByID(context.Context, uuid.UUID) (*models.Member, error) {
	return nil, errors.New("connection reset")
}

func (failingRepository) ListChildIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return nil, errors.New("connection reset")
}

func TestStoreFailuresAreDependencyErrors(t *testing.T) {
	svc, err := NewService(failingRepository{})
	require.NoError(t, err)

	_, err = svc.GetSponsor(context.Background(), uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	_, err = svc.GetChildren(context.Background(), uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}
