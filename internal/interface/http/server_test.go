package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/alem-hub/mentorship-hub/internal/application/command"
	"github.com/alem-hub/mentorship-hub/internal/application/query"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
	"github.com/alem-hub/mentorship-hub/internal/infrastructure/persistence/memory"
)

const adminKey = "s3cret-admin-key"

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	RequestID string          `json:"request_id"`
}

type testAPI struct {
	t      *testing.T
	srv    *httptest.Server
	health *HealthChecker
}

func newTestAPI(t *testing.T, hashes ...string) *testAPI {
	t.Helper()
	if hashes == nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
		require.NoError(t, err)
		hashes = []string{string(hash)}
	}

	store := memory.NewStore()
	exec := command.NewExecutor(command.ExecutorDeps{}, command.ExecutorConfig{
		OperationTimeout:  5 * time.Second,
		RetryInitialDelay: time.Millisecond,
	})
	health := NewHealthChecker("test")

	cfg := DefaultConfig()
	cfg.APIKeyHashes = hashes
	s, err := NewServer(cfg, Dependencies{
		Lifecycle:  command.NewLifecycle(store, exec, command.DefaultReconcileConfig()),
		Candidates: query.NewFindCandidatesHandler(store, nil, query.DefaultMatchingConfig(), nil),
		Pending:    query.NewListPendingHandler(store, nil, nil),
		Mentorship: query.NewGetMentorshipHandler(store),
		Health:     health,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testAPI{t: t, srv: srv, health: health}
}

func (a *testAPI) do(method, path string, body any, headers ...string) (int, envelope) {
	a.t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(a.t, err)
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, a.srv.URL+path, rdr)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := a.srv.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(a.t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (a *testAPI) admin(method, path string, body any) (int, envelope) {
	return a.do(method, path, body, "X-API-Key", adminKey)
}

func (a *testAPI) saveMentor(uid string, slots int, categories ...string) {
	a.t.Helper()
	code, env := a.admin(http.MethodPut, "/api/v1/admin/users/"+uid, map[string]any{
		"type":                 "mentor",
		"name":                 "Mentor " + uid,
		"max_mentees":          slots,
		"expertise_categories": categories,
	})
	require.Equal(a.t, http.StatusOK, code, "%+v", env.Error)
}

func (a *testAPI) saveStudent(uid string, interests ...string) {
	a.t.Helper()
	code, env := a.admin(http.MethodPut, "/api/v1/admin/users/"+uid, map[string]any{
		"type":      "student",
		"name":      "Student " + uid,
		"interests": interests,
	})
	require.Equal(a.t, http.StatusOK, code, "%+v", env.Error)
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestAPI_MentorshipFlow(t *testing.T) {
	api := newTestAPI(t)
	api.saveMentor("m-full", 1, "go")
	api.saveMentor("m-next", 2, "go")
	api.saveStudent("s1", "go")
	api.saveStudent("s2", "go")

	code, env := api.do(http.MethodPost, "/api/v1/mentorships", map[string]any{
		"student_uid": "s1", "mentor_uid": "m-full", "goals": []string{"<b>learn</b> go"},
	})
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, env.RequestID)
	created := decodeData[mentorshipResponse](t, env)
	assert.Equal(t, "pending", created.Mentorship.Status)
	assert.Equal(t, []string{"learn go"}, created.Mentorship.Goals)

	code, env = api.do(http.MethodPost, "/api/v1/mentorships", map[string]any{
		"student_uid": "s1", "mentor_uid": "m-full",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, codeConflict, env.Error.Code)

	code, _ = api.do(http.MethodPost, "/api/v1/mentorships", map[string]any{
		"student_uid": "s2", "mentor_uid": "m-full",
	})
	require.Equal(t, http.StatusCreated, code)

	code, env = api.do(http.MethodGet, "/api/v1/mentors/m-full/pending", nil)
	require.Equal(t, http.StatusOK, code)
	queue := decodeData[query.ListPendingResult](t, env)
	require.Len(t, queue.Requests, 2)
	assert.Equal(t, "s1", queue.Requests[0].StudentUID)

	code, env = api.do(http.MethodPost, "/api/v1/mentorships/s1/m-full/respond", map[string]string{"decision": "accept"})
	require.Equal(t, http.StatusOK, code)
	accepted := decodeData[mentorshipResponse](t, env)
	assert.Equal(t, "active", accepted.Mentorship.Status)
	require.NotNil(t, accepted.Mentor)
	assert.Equal(t, 1, accepted.Mentor.CurrentMentees)

	// the mentor is full now: the second accept is refused with a suggestion
	code, env = api.do(http.MethodPost, "/api/v1/mentorships/s2/m-full/respond", map[string]string{"decision": "accept"})
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, codeCapacityExceeded, env.Error.Code)
	next, ok := env.Error.Details["next_candidate"].(map[string]any)
	require.True(t, ok, "details: %+v", env.Error.Details)
	assert.Equal(t, "m-next", next["mentor"].(map[string]any)["uid"])

	code, env = api.do(http.MethodGet, "/api/v1/mentorships/s2/m-full", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pending", decodeData[query.EdgeDTO](t, env).Status)

	code, env = api.do(http.MethodPost, "/api/v1/mentorships/s1/m-full/annotations", map[string]any{
		"goals": []string{"ship a service"}, "note": "first call went well",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"first call went well"}, decodeData[mentorshipResponse](t, env).Mentorship.Notes)

	code, env = api.do(http.MethodPost, "/api/v1/mentorships/s1/m-full/terminate", map[string]any{
		"reason": "finished", "graceful": true,
	})
	require.Equal(t, http.StatusOK, code)
	ended := decodeData[mentorshipResponse](t, env)
	assert.Equal(t, "completed", ended.Mentorship.Status)
	assert.Equal(t, 0, ended.Mentor.CurrentMentees)

	code, env = api.do(http.MethodPost, "/api/v1/mentorships/s1/m-full/terminate", map[string]any{})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, codeInvalidTransition, env.Error.Code)
}

func TestAPI_FindCandidates(t *testing.T) {
	api := newTestAPI(t)
	api.saveMentor("m1", 2, "go", "ml")
	api.saveMentor("m2", 2, "design")
	api.saveStudent("s1", "go")

	code, env := api.do(http.MethodGet, "/api/v1/students/s1/candidates?limit=5&exclude=m2", nil)
	require.Equal(t, http.StatusOK, code)
	res := decodeData[query.FindCandidatesResult](t, env)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "m1", res.Candidates[0].Mentor.UID.String())

	code, env = api.do(http.MethodGet, "/api/v1/students/s1/candidates?category=design", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "m2", decodeData[query.FindCandidatesResult](t, env).Candidates[0].Mentor.UID.String())

	code, env = api.do(http.MethodGet, "/api/v1/students/nobody/candidates", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, codeNotFound, env.Error.Code)

	code, env = api.do(http.MethodGet, "/api/v1/students/s1/candidates?limit=many", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, codeInvalidRequest, env.Error.Code)
}

func TestAPI_BadRequests(t *testing.T) {
	api := newTestAPI(t)

	code, env := api.do(http.MethodPost, "/api/v1/mentorships", `{"student_uid":`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, codeInvalidRequest, env.Error.Code)

	code, env = api.do(http.MethodPost, "/api/v1/mentorships", map[string]string{"student_uid": "s1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, codeInvalidRequest, env.Error.Code)

	code, env = api.do(http.MethodPost, "/api/v1/mentorships/s1/m1/respond", map[string]string{"decision": "maybe"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, codeInvalidRequest, env.Error.Code)

	code, env = api.do(http.MethodGet, "/api/v1/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.Success)
}

func TestAPI_AdminAuth(t *testing.T) {
	api := newTestAPI(t)

	code, env := api.do(http.MethodPost, "/api/v1/admin/reconcile", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "missing_api_key", env.Error.Code)

	code, env = api.do(http.MethodPost, "/api/v1/admin/reconcile", nil, "X-API-Key", "guess")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid_api_key", env.Error.Code)

	code, _ = api.do(http.MethodPost, "/api/v1/admin/reconcile?repair=true", nil, "Authorization", "Bearer "+adminKey)
	assert.Equal(t, http.StatusOK, code)

	disabled := newTestAPI(t, []string{}...)
	code, env = disabled.admin(http.MethodPost, "/api/v1/admin/reconcile", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "admin_disabled", env.Error.Code)
}

func TestAPI_Reconcile(t *testing.T) {
	api := newTestAPI(t)
	api.saveMentor("m1", 2, "go")

	code, env := api.admin(http.MethodPost, "/api/v1/admin/reconcile?repair=false", nil)
	require.Equal(t, http.StatusOK, code)
	res := decodeData[command.ReconcileCapacityResult](t, env)
	assert.Equal(t, 1, res.MentorsChecked)
	assert.Empty(t, res.Discrepancies)

	code, _ = api.admin(http.MethodPost, "/api/v1/admin/reconcile?repair=sometimes", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestNewAPIKeyAuth_RejectsPlaintext(t *testing.T) {
	_, err := NewAPIKeyAuth("", []string{"not-a-hash"})
	assert.Error(t, err)
}

func TestAPI_Health(t *testing.T) {
	api := newTestAPI(t)

	code, env := api.do(http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	api.health.AddOptionalCheck("cache", func(context.Context) error { return errors.New("redis down") })
	code, _ = api.do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, code)

	api.health.AddCheck("store", func(context.Context) error { return errors.New("connection refused") })
	code, env = api.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.True(t, strings.Contains(env.Error.Message, "store"))
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{shared.ErrMentorNotFound, http.StatusNotFound, codeNotFound},
		{shared.ErrOpenEdgeExists, http.StatusConflict, codeConflict},
		{shared.ErrMentorAtCapacity, http.StatusConflict, codeCapacityExceeded},
		{shared.ErrInvalidTransition, http.StatusConflict, codeInvalidTransition},
		{shared.ErrSelfMentorship, http.StatusBadRequest, codeInvalidRequest},
		{shared.ErrStoreUnavailable.With(errors.New("dial tcp")), http.StatusServiceUnavailable, codeStoreUnavailable},
		{shared.ErrOperationAbandoned.With(context.Canceled), http.StatusGatewayTimeout, codeOutcomeUnknown},
		{shared.ErrOperationTimedOut.With(errors.New("respond after 10s")), http.StatusGatewayTimeout, codeOutcomeUnknown},
		{shared.ErrStoreUnavailable.With(context.DeadlineExceeded), http.StatusGatewayTimeout, codeOutcomeUnknown},
		{errors.New("boom"), http.StatusInternalServerError, codeInternal},
	}
	for _, tc := range cases {
		m := mapError(tc.err)
		assert.Equal(t, tc.status, m.status, tc.err.Error())
		assert.Equal(t, tc.code, m.code, tc.err.Error())
	}
}
