package middleware

import (
	"strings"

	"rtcstats/internal/core/services"
	"rtcstats/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ContextKeyApp is the gin context key holding the authenticated app name.
const ContextKeyApp = "app"

// AuthMiddleware requires a valid bearer token. A nil authService disables the
// check so deployments without auth.jwt_secret accept anonymous uploads.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	if authService == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithAppError(c, errors.NewUnauthorizedError("authorization header required"))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortWithAppError(c, errors.NewUnauthorizedError("invalid authorization header format"))
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			abortWithAppError(c, errors.NewUnauthorizedError(err.Error()))
			return
		}

		c.Set(ContextKeyApp, claims.App)
		c.Next()
	}
}

func abortWithAppError(c *gin.Context, appErr *errors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}
