package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"consultcall-backend/internal/domain"
	apperrors "consultcall-backend/pkg/errors"
	"consultcall-backend/pkg/jwt"
	"consultcall-backend/pkg/logger"
	"consultcall-backend/pkg/response"
)

// Gin context keys set by AuthMiddleware
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// RevocationChecker defines interface for checking if a token is revoked (blacklisted)
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// AuthMiddleware validates the bearer token and stores the caller identity.
// Browsers cannot set headers on a WebSocket upgrade, so the token is also
// accepted as the access_token query parameter.
// revocationChecker may be nil.
func AuthMiddleware(jwtManager *jwt.JWTManager, revocationChecker RevocationChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			response.FromError(c, apperrors.UnauthorizedError("Authorization header required"))
			c.Abort()
			return
		}

		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil {
			if errors.Is(err, jwt.ErrExpiredToken) {
				response.FromError(c, apperrors.ExpiredTokenError())
			} else {
				response.FromError(c, apperrors.InvalidTokenError("Invalid token"))
			}
			c.Abort()
			return
		}

		role, err := domain.ParseRole(claims.Role)
		if err != nil {
			response.FromError(c, apperrors.InvalidTokenError("Token carries an unknown role"))
			c.Abort()
			return
		}

		if revocationChecker != nil && claims.ID != "" {
			revoked, err := revocationChecker.IsRevoked(c.Request.Context(), claims.ID)
			switch {
			case err != nil:
				// Fail-open: the signature already checked out
				logger.FromContext(c.Request.Context()).Warn("Token revocation check failed, allowing request",
					zap.String("user_id", claims.UserID.String()),
					zap.Error(err))
			case revoked:
				response.FromError(c, apperrors.UnauthorizedError("Token revoked"))
				c.Abort()
				return
			}
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, role)
		c.Next()
	}
}

// RequireRole rejects callers whose role is not listed
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := CallerFromContext(c)
		if !ok {
			response.FromError(c, apperrors.UnauthorizedError("Authentication required"))
			c.Abort()
			return
		}
		for _, role := range roles {
			if caller.Role == role {
				c.Next()
				return
			}
		}
		response.FromError(c, apperrors.ForbiddenError("This action requires the "+string(roles[0])+" role"))
		c.Abort()
	}
}

// CallerFromContext returns the identity stored by AuthMiddleware
func CallerFromContext(c *gin.Context) (domain.Caller, bool) {
	rawID, ok := c.Get(ContextUserID)
	if !ok {
		return domain.Caller{}, false
	}
	userID, ok := rawID.(uuid.UUID)
	if !ok {
		return domain.Caller{}, false
	}
	role, _ := c.Get(ContextRole)
	r, _ := role.(domain.Role)
	return domain.Caller{UserID: userID, Role: r}, true
}

func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("access_token"); token != "" {
		return token, true
	}
	return "", false
}
