package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rl1809/farm-fulfillment/pkg/apierror"
)

// AuthMiddleware validates the bearer token and places the actor on both
// the gin context and the request context.
func AuthMiddleware(jwtManager *JWTManager, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Warn("Missing authorization header",
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, apierror.NewUnauthenticated("Please sign in to continue.", "missing authorization header"))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			logger.Warn("Invalid authorization header format",
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, apierror.NewUnauthenticated("Please sign in to continue.", "expected: Bearer <token>"))
			return
		}

		actor, err := jwtManager.ValidateToken(parts[1])
		if err != nil {
			details := "invalid token"
			if errors.Is(err, ErrExpiredToken) {
				details = "token has expired, please login again"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, apierror.NewUnauthenticated("Please sign in to continue.", details))
			return
		}

		c.Set("user_id", actor.ID)
		c.Set("username", actor.DisplayName)
		c.Request = c.Request.WithContext(WithActor(c.Request.Context(), actor))

		c.Next()
	}
}
