package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/jomardyan/FlexiFocus/internal/errors"
	"github.com/jomardyan/FlexiFocus/internal/service"
)

const ClientContextKey = "client"

// Auth accepts a bearer token, or a token query parameter for EventSource
// clients that cannot set headers.
func Auth(tokenService *service.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, apiErr := bearerToken(c)
		if apiErr != nil {
			writeError(c, apiErr)
			return
		}

		client, apiErr := tokenService.ParseToken(token)
		if apiErr != nil {
			writeError(c, apiErr)
			return
		}

		c.Set(ClientContextKey, client)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, *apperrors.APIError) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := strings.TrimSpace(c.Query("token")); token != "" {
			return token, nil
		}
		return "", apperrors.Unauthorized("missing authorization header")
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", apperrors.Unauthorized("invalid authorization format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", apperrors.Unauthorized("invalid authorization format")
	}
	return token, nil
}

// Client returns the client name recorded by Auth.
func Client(c *gin.Context) string {
	value, ok := c.Get(ClientContextKey)
	if !ok {
		return ""
	}
	client, ok := value.(string)
	if !ok {
		return ""
	}
	return client
}

func writeError(c *gin.Context, apiErr *apperrors.APIError) {
	c.AbortWithStatusJSON(apiErr.Status, gin.H{
		"error": gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
			"details": apiErr.Details,
		},
	})
}
