package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signupsheet/internal/domain"
)

func TestRequire(t *testing.T) {
	student := domain.Actor{ID: "s1", Role: domain.RoleStudent}
	instructor := domain.Actor{ID: "i1", Role: domain.RoleInstructor}

	require.NoError(t, Require(student, PermSignUp))
	require.NoError(t, Require(instructor, PermSignUpAssign))

	err := Require(student, PermSignUpAssign)
	var forbidden ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, PermSignUpAssign, forbidden.Permission)
	assert.Contains(t, err.Error(), "role student")

	assert.Error(t, Require(domain.Actor{Role: domain.RoleInstructor}, PermResolve))
	assert.Error(t, Require(domain.Actor{ID: "x", Role: "guest"}, PermSignUp))
}

func TestInstructorHoldsEveryStudentPermission(t *testing.T) {
	instructor := domain.Actor{ID: "i1", Role: domain.RoleInstructor}
	for _, p := range Permissions(domain.RoleStudent) {
		assert.True(t, HasPermission(instructor, p), p)
	}
}
