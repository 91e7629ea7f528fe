package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/user/shortlink/internal/models"
)

// ClientMetaKey is the gin context key for the extracted client
// metadata.
const ClientMetaKey = "client_meta"

// ClientMeta extracts the caller's IP and user agent for the auth
// handlers. Resolution order: first X-Forwarded-For entry, then
// X-Real-IP, then the socket peer.
func ClientMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ClientMetaKey, models.ClientMeta{
			IP:        clientIP(c),
			UserAgent: c.Request.UserAgent(),
		})
		c.Next()
	}
}

// GetClientMeta reads the metadata stored by ClientMeta, resolving it
// on the spot if the middleware did not run.
func GetClientMeta(c *gin.Context) models.ClientMeta {
	if v, ok := c.Get(ClientMetaKey); ok {
		if meta, ok := v.(models.ClientMeta); ok {
			return meta
		}
	}
	return models.ClientMeta{IP: clientIP(c), UserAgent: c.Request.UserAgent()}
}

func clientIP(c *gin.Context) string {
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if real := strings.TrimSpace(c.GetHeader("X-Real-IP")); real != "" {
		return real
	}

	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}
