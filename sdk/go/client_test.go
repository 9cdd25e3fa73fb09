package signupsdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signupsheet/internal/db"
	"signupsheet/internal/domain"
	"signupsheet/internal/engine"
	"signupsheet/internal/migrate"
	"signupsheet/internal/server"
)

const secret = "sdk-secret"

func newClients(t *testing.T) (prof, student *Client) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	t.Cleanup(func() { conn.Close() })
	e := engine.New(conn)
	e.Now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	authCfg := server.AuthConfig{JWTSecret: secret}
	handler, err := server.New(server.Config{Engine: e, Auth: authCfg})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	profToken, err := server.SignToken(authCfg, domain.Actor{ID: "prof", Role: domain.RoleInstructor}, time.Hour)
	require.NoError(t, err)
	studentToken, err := server.SignToken(authCfg, domain.Actor{ID: "sam", Role: domain.RoleStudent}, time.Hour)
	require.NoError(t, err)
	return New(srv.URL, profToken), New(srv.URL, studentToken)
}

func TestClientSignUpFlow(t *testing.T) {
	ctx := context.Background()
	prof, student := newClients(t)

	_, err := prof.CreateAssignment(ctx, "asg", "Project", false)
	require.NoError(t, err)
	_, err = prof.CreateTopic(ctx, "asg", "t1", "Parsers", 1)
	require.NoError(t, err)
	for _, id := range []string{"a", "b"} {
		_, err = student.CreateTeam(ctx, "asg", id, "Team "+id, []string{id + "@example.org"})
		require.NoError(t, err)
	}

	first, err := student.SignUp(ctx, "a", "t1")
	require.NoError(t, err)
	assert.False(t, first.IsWaitlisted)
	second, err := student.SignUp(ctx, "b", "t1")
	require.NoError(t, err)
	assert.True(t, second.IsWaitlisted)

	sheet, err := student.TopicSheet(ctx, "asg")
	require.NoError(t, err)
	require.Len(t, sheet, 1)
	assert.Equal(t, 1, sheet[0].Occupancy)
	assert.Equal(t, 1, sheet[0].WaitlistSize)

	w, err := student.Withdraw(ctx, "a", "t1")
	require.NoError(t, err)
	require.Len(t, w.Promoted, 1)
	assert.Equal(t, "b", w.Promoted[0].TeamID)

	waitlist, err := student.Waitlist(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, waitlist)

	evts, err := prof.Events(ctx, "asg", 3)
	require.NoError(t, err)
	require.Len(t, evts, 3)
	assert.Equal(t, "signup.promote", evts[0].Type)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	ctx := context.Background()
	prof, student := newClients(t)
	_, err := prof.CreateAssignment(ctx, "asg", "Project", false)
	require.NoError(t, err)
	_, err = prof.CreateTopic(ctx, "asg", "t1", "Parsers", 1)
	require.NoError(t, err)
	_, err = student.CreateTeam(ctx, "asg", "a", "Team a", nil)
	require.NoError(t, err)

	_, err = student.SetBid(ctx, "a", "t1", 1)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "bidding_disabled", apiErr.Code)

	_, err = student.Resolve(ctx, "asg")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}
