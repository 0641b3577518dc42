package enums

import "slices"

// MemberRole is the platform role carried in access tokens. System is used
// for settlement runs and trusted webhooks.
type MemberRole string

const (
	MemberRoleMember MemberRole = "member"
	MemberRoleAdmin  MemberRole = "admin"
	MemberRoleSystem MemberRole = "system"
)

var memberRoles = []MemberRole{MemberRoleMember, MemberRoleAdmin, MemberRoleSystem}

func (m MemberRole) String() string { return string(m) }

func (m MemberRole) IsValid() bool { return slices.Contains(memberRoles, m) }

func ParseMemberRole(value string) (MemberRole, error) {
	return parse("member role", value, memberRoles)
}
