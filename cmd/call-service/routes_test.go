package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultcall-backend/internal/domain"
	callHandler "consultcall-backend/internal/handler/http/call"
	doctorHandler "consultcall-backend/internal/handler/http/doctor"
	iceHandler "consultcall-backend/internal/handler/http/ice"
	wsHandler "consultcall-backend/internal/handler/ws"
	"consultcall-backend/internal/repository/memory"
	"consultcall-backend/internal/service/availability"
	callService "consultcall-backend/internal/service/call"
	"consultcall-backend/internal/signaling"
	"consultcall-backend/pkg/config"
	"consultcall-backend/pkg/iceconfig"
	"consultcall-backend/pkg/jwt"
	"consultcall-backend/pkg/metrics"
)

const testSecret = "routes-test-secret-0123456789abcdef"

type noPresence struct{}

func (noPresence) SetAvailability(context.Context, uuid.UUID, bool) error { return nil }

func (noPresence) ListAvailable(context.Context) (*domain.AvailableDoctors, error) {
	return &domain.AvailableDoctors{DoctorIDs: []uuid.UUID{}}, nil
}

type app struct {
	router http.Handler
	jwt    *jwt.JWTManager
}

func newApp(t *testing.T) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := metrics.NewMetrics("call-service-test")
	jwtManager := jwt.NewJWTManager(testSecret, time.Minute)

	ice, err := iceconfig.Build(config.ICEConfig{STUNURLs: []string{"stun:stun.example.org:3478"}})
	require.NoError(t, err)

	hub := wsHandler.NewSignalingHub(config.SignalingConfig{}, nil, m)
	hub.SetHandler(signaling.NewRelay(signaling.NewRegistry(), hub, signaling.WithMetrics(m)))
	t.Cleanup(hub.Shutdown)

	router := newRouter(routerDeps{
		ServiceName:    "call-service",
		RequestTimeout: 5 * time.Second,
		JWT:            jwtManager,
		Metrics:        m,
		Calls:          callHandler.NewHandler(callService.NewService(memory.NewCallRepository(), callService.WithMetrics(m))),
		Doctors:        doctorHandler.NewHandler(availability.NewService(noPresence{}, nil)),
		ICE:            iceHandler.NewHandler(ice),
		Signaling:      hub,
	})

	return &app{router: router, jwt: jwtManager}
}

func (a *app) token(t *testing.T, userID uuid.UUID, role domain.Role) string {
	t.Helper()
	token, err := a.jwt.GenerateAccessToken(userID, string(role))
	require.NoError(t, err)
	return token
}

func (a *app) do(t *testing.T, method, path, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var body map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestRouter_PublicEndpoints(t *testing.T) {
	a := newApp(t)

	w, body := a.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])

	for _, path := range []string{"/v1/ice", "/v1/config/ice"} {
		w, body = a.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, body, "iceServers")
	}

	w, _ = a.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestRouter_RequiresAuthAndRole(t *testing.T) {
	a := newApp(t)
	patient := a.token(t, uuid.New(), domain.RolePatient)
	doctor := a.token(t, uuid.New(), domain.RoleDoctor)

	w, _ := a.do(t, http.MethodPost, "/v1/calls/request", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = a.do(t, http.MethodPost, "/v1/calls/request", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = a.do(t, http.MethodPost, "/v1/calls/request", doctor)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = a.do(t, http.MethodGet, "/v1/calls/waiting", patient)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = a.do(t, http.MethodPatch, "/v1/doctors/me/availability", patient)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = a.do(t, http.MethodGet, "/v1/doctors/available", patient)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_CallLifecycle(t *testing.T) {
	a := newApp(t)
	patient := a.token(t, uuid.New(), domain.RolePatient)
	doctor := a.token(t, uuid.New(), domain.RoleDoctor)

	w, body := a.do(t, http.MethodPost, "/v1/calls/request", patient)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := body["data"].(map[string]any)
	callID := data["call_id"].(string)
	assert.Regexp(t, `^room-[0-9a-f]{10}$`, data["room_id"])

	for _, step := range []struct {
		path   string
		token  string
		status string
	}{
		{"/claim", doctor, "assigned"},
		{"/start", patient, "in_progress"},
		{"/resume", doctor, "in_progress"},
		{"/end", patient, "ended"},
	} {
		w, body = a.do(t, http.MethodPost, "/v1/calls/"+callID+step.path, step.token)
		require.Equal(t, http.StatusOK, w.Code, "%s: %s", step.path, w.Body.String())
		assert.Equal(t, step.status, body["data"].(map[string]any)["status"], step.path)
	}

	w, body = a.do(t, http.MethodGet, "/v1/metrics/calls", doctor)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["data"].(map[string]any)["ended"])
}

func TestRouter_SignalingAcceptsQueryToken(t *testing.T) {
	a := newApp(t)
	srv := httptest.NewServer(a.router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/signaling/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := a.token(t, uuid.New(), domain.RolePatient)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?access_token="+url.QueryEscape(token), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env wsHandler.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, signaling.EventConnected, env.Event)
}
