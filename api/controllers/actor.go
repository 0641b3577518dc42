package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/netcomp-backend/api/middleware"
	"github.com/angelmondragon/netcomp-backend/api/responses"
	"github.com/angelmondragon/netcomp-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
)

// requireActor resolves the authenticated member or writes a 401.
func requireActor(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
	actorID, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
		return uuid.Nil, false
	}
	return actorID, true
}

func isAdmin(r *http.Request) bool {
	return middleware.RoleFromContext(r.Context()) == string(enums.MemberRoleAdmin)
}

func actorRole(r *http.Request) enums.MemberRole {
	role, err := enums.ParseMemberRole(middleware.RoleFromContext(r.Context()))
	if err != nil {
		return enums.MemberRoleMember
	}
	return role
}

// authorizeMember admits the member themselves or an administrator.
func authorizeMember(r *http.Request, actorID, memberID uuid.UUID) error {
	if actorID == memberID || isAdmin(r) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "member access denied")
}
