package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signupsheet/internal/db"
	"signupsheet/internal/domain"
	"signupsheet/internal/engine"
	"signupsheet/internal/migrate"
)

const testSecret = "test-secret"

var (
	prof    = domain.Actor{ID: "prof", Role: domain.RoleInstructor}
	alice   = domain.Actor{ID: "alice", Role: domain.RoleStudent}
	fixedAt = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
)

type testServer struct {
	URL    string
	client *http.Client
}

func newTestServer(t *testing.T, legacy bool) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err, "open db")
	require.NoError(t, migrate.Migrate(conn), "migrate")
	e := engine.New(conn)
	e.Now = func() time.Time { return fixedAt }
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: legacy},
	})
	require.NoError(t, err, "build handler")
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err, "listen")
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	return &testServer{URL: "http://" + ln.Addr().String(), client: &http.Client{}}
}

func bearer(t *testing.T, a domain.Actor) map[string]string {
	t.Helper()
	token, err := SignToken(AuthConfig{JWTSecret: testSecret}, a, time.Hour)
	require.NoError(t, err, "sign token")
	return map[string]string{"Authorization": "Bearer " + token}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err, "marshal body")
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err, "new request")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := s.client.Do(req)
	require.NoError(t, err, "do request")
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err, "read body")
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), "unmarshal %s", string(data))
	return v
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func seed(t *testing.T, s *testServer, capacity int) {
	t.Helper()
	as := bearer(t, prof)
	res, body := s.do(t, http.MethodPost, "/v1/assignments", map[string]any{"id": "asg", "name": "Project"}, as)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	res, body = s.do(t, http.MethodPost, "/v1/assignments/asg/topics", map[string]any{"id": "t1", "name": "Compilers", "capacity": capacity}, as)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	for _, id := range []string{"team-1", "team-2"} {
		res, body = s.do(t, http.MethodPost, "/v1/assignments/asg/teams", map[string]any{"id": id, "name": id}, as)
		require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	}
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t, false)
	res, body := s.do(t, http.MethodGet, "/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, body)["status"])
	assert.NotEmpty(t, res.Header.Get("X-Request-Id"))
}

func TestRequestsNeedCredentials(t *testing.T) {
	s := newTestServer(t, false)
	res, body := s.do(t, http.MethodGet, "/v1/assignments/asg", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decode[errorEnvelope](t, body).Error.Code)

	res, _ = s.do(t, http.MethodGet, "/v1/assignments/asg", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = s.do(t, http.MethodGet, "/v1/assignments/asg", nil, map[string]string{"X-Actor-Id": "prof"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode, "legacy header is off by default")
}

func TestLegacyActorHeader(t *testing.T) {
	s := newTestServer(t, true)
	headers := map[string]string{"X-Actor-Id": "prof", "X-Actor-Role": "instructor"}
	res, body := s.do(t, http.MethodPost, "/v1/assignments", map[string]any{"id": "asg", "name": "Project"}, headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	assert.Equal(t, "prof", decode[domain.Assignment](t, body).InstructorID)
}

func TestStudentCannotManageTopics(t *testing.T) {
	s := newTestServer(t, false)
	seed(t, s, 1)
	res, body := s.do(t, http.MethodPost, "/v1/assignments/asg/topics", map[string]any{"name": "Mine", "capacity": 1}, bearer(t, alice))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(body))
	env := decode[errorEnvelope](t, body)
	assert.Equal(t, "forbidden", env.Error.Code)
	assert.Equal(t, "topic.manage", env.Error.Details["permission"])
}

func TestSignUpWaitlistAndPromotionOverHTTP(t *testing.T) {
	s := newTestServer(t, false)
	seed(t, s, 1)
	as := bearer(t, alice)

	res, body := s.do(t, http.MethodPost, "/v1/topics/t1/signups", map[string]any{"team_id": "team-1"}, as)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	assert.False(t, decode[domain.SignUp](t, body).IsWaitlisted)

	res, body = s.do(t, http.MethodPost, "/v1/topics/t1/signups", map[string]any{"team_id": "team-2"}, as)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	assert.True(t, decode[domain.SignUp](t, body).IsWaitlisted)

	res, body = s.do(t, http.MethodPost, "/v1/topics/t1/signups", map[string]any{"team_id": "team-1"}, as)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(body))
	assert.Equal(t, "already_assigned", decode[errorEnvelope](t, body).Error.Code)

	res, body = s.do(t, http.MethodGet, "/v1/topics/t1/waitlist", nil, as)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	waitlist := decode[itemsResponse[domain.SignUp]](t, body)
	require.Len(t, waitlist.Items, 1)
	assert.Equal(t, "team-2", waitlist.Items[0].TeamID)

	res, body = s.do(t, http.MethodDelete, "/v1/topics/t1/signups/team-1", nil, as)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	wr := decode[engine.WithdrawResult](t, body)
	assert.Equal(t, "team-1", wr.Withdrawn.TeamID)
	require.Len(t, wr.Promoted, 1)
	assert.Equal(t, "team-2", wr.Promoted[0].TeamID)

	res, body = s.do(t, http.MethodGet, "/v1/assignments/asg/topics", nil, as)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	sheet := decode[itemsResponse[domain.TopicSlot]](t, body)
	require.Len(t, sheet.Items, 1)
	assert.Equal(t, 1, sheet.Items[0].Occupancy)
	assert.Equal(t, 0, sheet.Items[0].Available)
	assert.Equal(t, 0, sheet.Items[0].WaitlistSize)
}

func TestDropDeadlineAndSubmittedWork(t *testing.T) {
	s := newTestServer(t, false)
	seed(t, s, 2)
	as := bearer(t, alice)
	ps := bearer(t, prof)

	for _, team := range []string{"team-1", "team-2"} {
		res, body := s.do(t, http.MethodPost, "/v1/topics/t1/signups", map[string]any{"team_id": team}, as)
		require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	}
	res, body := s.do(t, http.MethodPost, "/v1/teams/team-1/submissions", map[string]any{"kind": "link", "ref": "https://example.org"}, as)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))

	res, body = s.do(t, http.MethodPut, "/v1/assignments/asg/deadlines/drop", map[string]any{"due_at": fixedAt.Add(-time.Hour)}, ps)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.True(t, decode[DeadlineResponse](t, body).Created)

	res, body = s.do(t, http.MethodDelete, "/v1/topics/t1/signups/team-1", nil, as)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(body))
	assert.Equal(t, "has_submitted_work", decode[errorEnvelope](t, body).Error.Code)

	res, body = s.do(t, http.MethodDelete, "/v1/topics/t1/signups/team-2", nil, as)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(body))
	assert.Equal(t, "drop_deadline_passed", decode[errorEnvelope](t, body).Error.Code)
}

func TestBiddingResolveOverHTTP(t *testing.T) {
	s := newTestServer(t, false)
	seed(t, s, 1)
	as := bearer(t, alice)
	ps := bearer(t, prof)

	res, body := s.do(t, http.MethodPut, "/v1/teams/team-1/bids/t1", map[string]any{"priority": 1}, as)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(body))
	assert.Equal(t, "bidding_disabled", decode[errorEnvelope](t, body).Error.Code)

	res, body = s.do(t, http.MethodPatch, "/v1/assignments/asg", map[string]any{"is_bidding_enabled": true}, ps)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	res, body = s.do(t, http.MethodPost, "/v1/topics/t1/signups", map[string]any{"team_id": "team-1"}, as)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(body))
	assert.Equal(t, "invalid_state", decode[errorEnvelope](t, body).Error.Code)

	res, body = s.do(t, http.MethodPut, "/v1/teams/team-1/bids/t1", map[string]any{"priority": 0}, as)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(body))
	assert.Equal(t, "invalid_priority", decode[errorEnvelope](t, body).Error.Code)

	for _, team := range []string{"team-1", "team-2"} {
		res, body = s.do(t, http.MethodPut, "/v1/teams/"+team+"/bids/t1", map[string]any{"priority": 1}, as)
		require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	}

	res, body = s.do(t, http.MethodPost, "/v1/assignments/asg/resolve", nil, as)
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(body))

	res, body = s.do(t, http.MethodPost, "/v1/assignments/asg/resolve", nil, ps)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	resolution := decode[engine.Resolution](t, body)
	require.Len(t, resolution.Confirmed, 1)
	assert.Equal(t, "team-1", resolution.Confirmed[0].TeamID)
	require.Len(t, resolution.Waitlisted, 1)
	assert.Equal(t, "team-2", resolution.Waitlisted[0].TeamID)

	res, body = s.do(t, http.MethodDelete, "/v1/teams/team-2/bids/t1", nil, as)
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(body))
	res, body = s.do(t, http.MethodGet, "/v1/teams/team-2/bids", nil, as)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.Empty(t, decode[itemsResponse[domain.Bid]](t, body).Items)
}

func TestInstructorPlacementAndEvents(t *testing.T) {
	s := newTestServer(t, false)
	seed(t, s, 1)
	as := bearer(t, alice)
	ps := bearer(t, prof)

	res, body := s.do(t, http.MethodPost, "/v1/topics/t1/signups", map[string]any{"team_id": "team-1"}, as)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))

	res, body = s.do(t, http.MethodPost, "/v1/topics/t1/placements", map[string]any{"team_id": "team-2"}, as)
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(body))

	res, body = s.do(t, http.MethodPost, "/v1/topics/t1/placements", map[string]any{"team_id": "team-2"}, ps)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	ar := decode[engine.AssignResult](t, body)
	assert.Equal(t, "team-2", ar.SignUp.TeamID)
	assert.Equal(t, domain.SourceInstructor, ar.SignUp.Source)

	res, body = s.do(t, http.MethodGet, "/v1/topics/t1/teams", nil, as)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.Len(t, decode[itemsResponse[domain.TopicTeam]](t, body).Items, 2)

	res, body = s.do(t, http.MethodDelete, "/v1/topics/t1/placements/team-2", nil, ps)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	res, body = s.do(t, http.MethodGet, "/v1/assignments/asg/events?entity_kind=signup&limit=5", nil, ps)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	evts := decode[itemsResponse[EventResponse]](t, body).Items
	require.NotEmpty(t, evts)
	assert.Equal(t, "signup", evts[0].EntityKind)
	assert.LessOrEqual(t, len(evts), 5)
}

func TestNotFoundAndValidation(t *testing.T) {
	s := newTestServer(t, false)
	seed(t, s, 1)
	as := bearer(t, alice)
	ps := bearer(t, prof)

	res, body := s.do(t, http.MethodPost, "/v1/topics/missing/signups", map[string]any{"team_id": "team-1"}, as)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(body))
	assert.Equal(t, "not_found", decode[errorEnvelope](t, body).Error.Code)

	res, body = s.do(t, http.MethodPost, "/v1/assignments/asg/topics", map[string]any{"name": "Zero", "capacity": 0}, ps)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(body))
	assert.Equal(t, "invalid_argument", decode[errorEnvelope](t, body).Error.Code)

	res, body = s.do(t, http.MethodPost, "/v1/topics/t1/signups", map[string]any{}, as)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(body))
}

func TestSuggestApproveAndSwitch(t *testing.T) {
	s := newTestServer(t, false)
	seed(t, s, 1)
	as := bearer(t, alice)
	ps := bearer(t, prof)

	res, body := s.do(t, http.MethodPost, "/v1/topics/t1/signups", map[string]any{"team_id": "team-1"}, as)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	res, body = s.do(t, http.MethodPost, "/v1/topics/t1/signups", map[string]any{"team_id": "team-2"}, as)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))

	res, body = s.do(t, http.MethodPost, "/v1/assignments/asg/suggestions", map[string]any{"team_id": "team-1", "id": "own", "name": "Our idea"}, as)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	assert.Equal(t, domain.TopicSuggested, decode[domain.Topic](t, body).State)

	res, body = s.do(t, http.MethodPost, "/v1/topics/own/switch", map[string]any{"team_id": "team-1"}, as)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(body))
	assert.Equal(t, "invalid_state", decode[errorEnvelope](t, body).Error.Code)

	res, body = s.do(t, http.MethodPost, "/v1/topics/own/approve", nil, ps)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	res, body = s.do(t, http.MethodPost, "/v1/topics/own/switch", map[string]any{"team_id": "team-1"}, as)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	ar := decode[engine.AssignResult](t, body)
	assert.Equal(t, "own", ar.SignUp.TopicID)
	require.Len(t, ar.Promoted, 1)
	assert.Equal(t, "team-2", ar.Promoted[0].TeamID)
}

func TestOpenAPIDocument(t *testing.T) {
	s := newTestServer(t, false)
	res, body := s.do(t, http.MethodGet, "/v1/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	doc := decode[map[string]any](t, body)
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/v1/topics/{topic_id}/signups")
	assert.Contains(t, paths, "/v1/assignments/{assignment_id}/resolve")
}

func TestOpenAPIDocumentUnderParallelRequests(t *testing.T) {
	s := newTestServer(t, false)
	bodies := make([][]byte, 8)
	var wg sync.WaitGroup
	for i := range bodies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.client.Get(s.URL + "/v1/openapi.json")
			if !assert.NoError(t, err) {
				return
			}
			defer res.Body.Close()
			bodies[i], err = io.ReadAll(res.Body)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.NotEmpty(t, bodies[0])
	for _, b := range bodies[1:] {
		assert.Equal(t, bodies[0], b)
	}
}

func TestSignTokenRoundTrip(t *testing.T) {
	cfg := AuthConfig{JWTSecret: testSecret, Issuer: "signup"}
	token, err := SignToken(cfg, prof, time.Minute)
	require.NoError(t, err)
	actor, err := authenticateJWT(token, cfg)
	require.NoError(t, err)
	assert.Equal(t, prof, actor)

	_, err = authenticateJWT(token, AuthConfig{JWTSecret: "other"})
	assert.Error(t, err)
	_, err = SignToken(AuthConfig{}, prof, 0)
	assert.Error(t, err)
}
