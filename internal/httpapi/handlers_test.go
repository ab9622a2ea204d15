package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/nurse-dispatch/internal/engine"
	"github.com/example/nurse-dispatch/internal/location"
	"github.com/example/nurse-dispatch/internal/match"
	"github.com/example/nurse-dispatch/internal/models"
	"github.com/example/nurse-dispatch/internal/notify"
	"github.com/example/nurse-dispatch/internal/request"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	locations := location.NewMemoryStore(0)
	requests := request.NewMemoryStore()
	eng := &engine.Engine{Store: requests, Logger: logger}
	matcher := &match.Service{
		Requests:        requests,
		Locations:       locations,
		RadiusKm:        2000,
		Limit:           8,
		DefaultSpeedMps: 10,
	}
	auth := &StaticTokenProvider{Tokens: map[string]models.Actor{
		"tok-patient": {UserID: "patient-1", Role: models.RolePatient},
		"tok-nurse-a": {UserID: "nurse-a", Role: models.RoleNurse},
		"tok-nurse-b": {UserID: "nurse-b", Role: models.RoleNurse},
		"tok-admin":   {UserID: "admin-1", Role: models.RoleAdmin},
	}}
	return NewServer(logger, Deps{
		Auth:      auth,
		Locations: locations,
		Requests:  requests,
		Engine:    eng,
		Matcher:   matcher,
		Sessions:  notify.NewWSRegistry(),
	})
}

func do(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestLocationUpdateValidatesBounds(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/v1/nurses/nurse-a/location", "tok-nurse-a",
		map[string]float64{"lat": 95, "lng": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/nurses/nurse-a/location", "tok-nurse-a",
		map[string]float64{"lat": 0, "lng": -190})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLocationUpdateRequiresOwnIdentity(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/nurses/nurse-a/location", "",
		map[string]float64{"lat": 0, "lng": 0})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/nurses/nurse-a/location", "tok-nurse-b",
		map[string]float64{"lat": 0, "lng": 0})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLocationUpdateReportsThrottle(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	locations := location.NewMemoryStore(time.Hour)
	requests := request.NewMemoryStore()
	s := NewServer(logger, Deps{
		Auth: &StaticTokenProvider{Tokens: map[string]models.Actor{
			"tok": {UserID: "nurse-a", Role: models.RoleNurse},
		}},
		Locations: locations,
		Requests:  requests,
		Engine:    &engine.Engine{Store: requests},
		Matcher:   &match.Service{Requests: requests, Locations: locations, RadiusKm: 1, Limit: 1},
		Sessions:  notify.NewWSRegistry(),
	})

	first := do(t, s, http.MethodPost, "/api/v1/nurses/nurse-a/location", "tok",
		map[string]float64{"lat": 1, "lng": 1})
	require.Equal(t, http.StatusOK, first.Code)
	assert.False(t, decode[locationResponse](t, first).Throttled)

	second := do(t, s, http.MethodPost, "/api/v1/nurses/nurse-a/location", "tok",
		map[string]float64{"lat": 2, "lng": 2})
	require.Equal(t, http.StatusOK, second.Code)
	resp := decode[locationResponse](t, second)
	assert.True(t, resp.Throttled)
	assert.Equal(t, decode[locationResponse](t, first).LastUpdated, resp.LastUpdated)
}

func TestCreateRequestRequiresPatient(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/requests", "tok-nurse-a",
		map[string]float64{"lat": 0, "lng": 0})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/requests", "tok-patient",
		map[string]float64{"lat": 0, "lng": 0})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[models.ServiceRequest](t, rec)
	assert.Equal(t, "patient-1", created.PatientID)
	assert.Equal(t, models.StatePending, created.State)
	assert.Equal(t, int64(1), created.Version)
}

func TestActionErrorMapping(t *testing.T) {
	s := newTestServer(t)

	// 401: no actor
	rec := do(t, s, http.MethodPost, "/api/v1/requests/whatever/actions", "",
		map[string]string{"action": "cancel"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// 404: unknown request
	rec = do(t, s, http.MethodPost, "/api/v1/requests/missing/actions", "tok-admin",
		map[string]string{"action": "cancel"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// 400: unknown action and assign without nurse_id
	created := decode[models.ServiceRequest](t, do(t, s, http.MethodPost, "/api/v1/requests", "tok-patient",
		map[string]float64{"lat": 0, "lng": 0}))
	rec = do(t, s, http.MethodPost, "/api/v1/requests/"+created.ID+"/actions", "tok-admin",
		map[string]string{"action": "explode"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodPost, "/api/v1/requests/"+created.ID+"/actions", "tok-admin",
		map[string]string{"action": "assign"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 403: nurse assigning
	rec = do(t, s, http.MethodPost, "/api/v1/requests/"+created.ID+"/actions", "tok-nurse-a",
		map[string]string{"action": "assign", "nurse_id": "nurse-a"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// 409: completing a pending request as admin
	rec = do(t, s, http.MethodPost, "/api/v1/requests/"+created.ID+"/actions", "tok-admin",
		map[string]string{"action": "complete"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminPingRoleGate(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/api/v1/admin/ping", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/api/v1/admin/ping", "tok-patient", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/v1/admin/ping", "tok-admin", nil).Code)
}

func TestGetRequestVisibility(t *testing.T) {
	s := newTestServer(t)
	created := decode[models.ServiceRequest](t, do(t, s, http.MethodPost, "/api/v1/requests", "tok-patient",
		map[string]float64{"lat": 0, "lng": 0}))

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/v1/requests/"+created.ID, "tok-patient", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/v1/requests/"+created.ID, "tok-admin", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/api/v1/requests/"+created.ID, "tok-nurse-a", nil).Code)
}

// The full dispatch walk-through: create, report locations, rank, assign,
// complete, then verify terminal-state behavior.
func TestDispatchEndToEnd(t *testing.T) {
	s := newTestServer(t)

	created := decode[models.ServiceRequest](t, do(t, s, http.MethodPost, "/api/v1/requests", "tok-patient",
		map[string]float64{"lat": 0, "lng": 0}))

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/v1/nurses/nurse-a/location", "tok-nurse-a",
		map[string]float64{"lat": 0, "lng": 0.01}).Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/v1/nurses/nurse-b/location", "tok-nurse-b",
		map[string]float64{"lat": 0, "lng": 10}).Code)

	rec := do(t, s, http.MethodGet, "/api/v1/requests/"+created.ID+"/candidates", "tok-admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cands := decode[map[string][]match.Proposal](t, rec)["candidates"]
	require.Len(t, cands, 2)
	assert.Equal(t, "nurse-a", cands[0].NurseID)
	assert.Equal(t, "nurse-b", cands[1].NurseID)

	actionPath := fmt.Sprintf("/api/v1/requests/%s/actions", created.ID)

	rec = do(t, s, http.MethodPost, actionPath, "tok-admin",
		map[string]string{"action": "assign", "nurse_id": "nurse-a"})
	require.Equal(t, http.StatusOK, rec.Code)
	assigned := decode[models.ServiceRequest](t, rec)
	assert.Equal(t, models.StateAssigned, assigned.State)
	assert.Equal(t, "nurse-a", assigned.AssignedNurseID)

	// the wrong nurse cannot complete
	rec = do(t, s, http.MethodPost, actionPath, "tok-nurse-b", map[string]string{"action": "complete"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, http.MethodPost, actionPath, "tok-nurse-a", map[string]string{"action": "complete"})
	require.Equal(t, http.StatusOK, rec.Code)
	completed := decode[models.ServiceRequest](t, rec)
	assert.Equal(t, models.StateCompleted, completed.State)

	// completed is terminal
	rec = do(t, s, http.MethodPost, actionPath, "tok-patient", map[string]string{"action": "cancel"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWSReconnectKeepsNewSession(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/nurses/nurse-a"
	hdr := http.Header{"Authorization": {"Bearer tok-nurse-a"}}

	first, _, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	require.NoError(t, err)
	defer first.Close()

	// reconnect: the registry closes the first connection and keeps the second
	second, _, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	require.NoError(t, err)
	defer second.Close()

	// the first connection's read loop unblocks on the close; it must not
	// tear down the replacement session
	_ = first.SetReadDeadline(time.Now().Add(time.Second))
	_, _, _ = first.ReadMessage()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, s.deps.Sessions.Push("nurse-a", map[string]string{"event": "assigned"}))

	_ = second.SetReadDeadline(time.Now().Add(time.Second))
	var got map[string]string
	require.NoError(t, second.ReadJSON(&got))
	assert.Equal(t, "assigned", got["event"])
}
