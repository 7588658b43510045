package middleware

import (
	"log"
	"net/http"
	"strings"

	"ocr-task-server/internal/models"
	"ocr-task-server/internal/services"

	"github.com/gin-gonic/gin"
)

const subjectKey = "auth_subject"

// JWTAuth requires a valid bearer token. Browsers cannot set headers on a
// WebSocket handshake, so a "token" query parameter is accepted as well.
// A nil service disables authentication.
func JWTAuth(jwtService *services.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtService == nil {
			c.Next()
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Status:  "error",
				Message: "authorization token required",
			})
			return
		}

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			log.Printf("[AUTH] Rejected token from %s: %v", c.ClientIP(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Status:  "error",
				Message: "invalid token",
			})
			return
		}

		c.Set(subjectKey, claims.Subject)
		c.Next()
	}
}

// GetSubject returns the authenticated API client, if any
func GetSubject(c *gin.Context) string {
	return c.GetString(subjectKey)
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
