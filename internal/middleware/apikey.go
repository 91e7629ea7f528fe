package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/user/shortlink/internal/models"
)

// APIKeyHeader carries the admin key. Standard convention; never
// logged.
const APIKeyHeader = "x-api-key"

// RequireAPIKey guards the admin surface with a single configured
// UUID key. The header is parsed as a UUID first so the comparison
// runs over fixed-length binary values in constant time.
func RequireAPIKey(expected uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		supplied, err := uuid.Parse(c.GetHeader(APIKeyHeader))
		if err != nil || subtle.ConstantTimeCompare(supplied[:], expected[:]) != 1 {
			c.JSON(http.StatusUnauthorized,
				models.Error("Invalid or missing API key", http.StatusUnauthorized))
			c.Abort()
			return
		}
		c.Next()
	}
}
