package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultcall-backend/internal/domain"
	"consultcall-backend/pkg/jwt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRevocation struct {
	revoked bool
	err     error
}

func (s stubRevocation) IsRevoked(context.Context, string) (bool, error) {
	return s.revoked, s.err
}

func newAuthRouter(manager *jwt.JWTManager, checker RevocationChecker, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{AuthMiddleware(manager, checker)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		caller, ok := CallerFromContext(c)
		if !ok {
			c.String(http.StatusInternalServerError, "no caller")
			return
		}
		c.String(http.StatusOK, caller.UserID.String()+" "+string(caller.Role))
	})
	r.GET("/protected", handlers...)
	return r
}

func do(r http.Handler, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func TestAuthMiddleware(t *testing.T) {
	manager := jwt.NewJWTManager("test-secret", 15*time.Minute)
	userID := uuid.New()
	token, err := manager.GenerateAccessToken(userID, "doctor")
	require.NoError(t, err)

	expired, err := jwt.NewJWTManager("test-secret", -time.Minute).GenerateAccessToken(userID, "doctor")
	require.NoError(t, err)
	badRole, err := manager.GenerateAccessToken(userID, "admin")
	require.NoError(t, err)

	tests := []struct {
		name     string
		target   string
		header   http.Header
		checker  RevocationChecker
		wantCode int
		wantBody string
	}{
		{"valid header", "/protected", bearer(token), nil, http.StatusOK, userID.String() + " doctor"},
		{"query token", "/protected?access_token=" + token, nil, nil, http.StatusOK, userID.String() + " doctor"},
		{"missing token", "/protected", nil, nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong scheme", "/protected", http.Header{"Authorization": []string{"Basic abc"}}, nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"garbage token", "/protected", bearer("nope"), nil, http.StatusUnauthorized, "INVALID_TOKEN"},
		{"expired token", "/protected", bearer(expired), nil, http.StatusUnauthorized, "EXPIRED_TOKEN"},
		{"unknown role", "/protected", bearer(badRole), nil, http.StatusUnauthorized, "INVALID_TOKEN"},
		{"revoked", "/protected", bearer(token), stubRevocation{revoked: true}, http.StatusUnauthorized, "Token revoked"},
		{"revocation store down", "/protected", bearer(token), stubRevocation{err: errors.New("redis down")}, http.StatusOK, "doctor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(newAuthRouter(manager, tt.checker), tt.target, tt.header)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestRequireRole(t *testing.T) {
	manager := jwt.NewJWTManager("test-secret", 15*time.Minute)
	doctorToken, _ := manager.GenerateAccessToken(uuid.New(), "doctor")
	patientToken, _ := manager.GenerateAccessToken(uuid.New(), "patient")
	r := newAuthRouter(manager, nil, RequireRole(domain.RoleDoctor))

	assert.Equal(t, http.StatusOK, do(r, "/protected", bearer(doctorToken)).Code)

	w := do(r, "/protected", bearer(patientToken))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "FORBIDDEN")
}

func TestRequireRole_WithoutAuth(t *testing.T) {
	r := gin.New()
	r.GET("/x", RequireRole(domain.RoleDoctor), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusUnauthorized, do(r, "/x", nil).Code)
}
