// Package auth maps actor roles to the permissions the engine checks.
package auth

import (
	"fmt"
	"sort"

	"signupsheet/internal/domain"
)

type Permission string

const (
	PermAssignmentManage Permission = "assignment.manage"
	PermTeamManage       Permission = "team.manage"
	PermSubmissionAdd    Permission = "submission.add"
	PermTopicManage      Permission = "topic.manage"
	PermTopicSuggest     Permission = "topic.suggest"
	PermDeadlineManage   Permission = "deadline.manage"
	PermSignUp           Permission = "signup.self"
	PermSignUpAssign     Permission = "signup.assign"
	PermBid              Permission = "bid.self"
	PermResolve          Permission = "bidding.resolve"
)

var studentPermissions = []Permission{
	PermTeamManage,
	PermSubmissionAdd,
	PermTopicSuggest,
	PermSignUp,
	PermBid,
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission Permission
	Role       domain.Role
}

func (e ForbiddenError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("permission %s required", e.Permission)
	}
	return fmt.Sprintf("permission %s required (role %s)", e.Permission, e.Role)
}

// Permissions lists what a role may do. Instructors may do everything.
func Permissions(role domain.Role) []Permission {
	var perms []Permission
	switch role {
	case domain.RoleInstructor:
		perms = []Permission{
			PermAssignmentManage, PermTeamManage, PermSubmissionAdd, PermTopicManage, PermTopicSuggest,
			PermDeadlineManage, PermSignUp, PermSignUpAssign, PermBid, PermResolve,
		}
	case domain.RoleStudent:
		perms = append(perms, studentPermissions...)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}

func HasPermission(actor domain.Actor, perm Permission) bool {
	for _, p := range Permissions(actor.Role) {
		if p == perm {
			return true
		}
	}
	return false
}

// Require returns ForbiddenError unless the actor holds perm.
func Require(actor domain.Actor, perm Permission) error {
	if actor.ID == "" || !HasPermission(actor, perm) {
		return ForbiddenError{Permission: perm, Role: actor.Role}
	}
	return nil
}
