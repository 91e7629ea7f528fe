package handler

import (
	"github.com/gin-gonic/gin"
)

// Health handles GET /api/health_check: the standard envelope with a
// null data field. Liveness only - it does not probe dependencies, so
// a degraded cache never flaps the load balancer.
func Health(c *gin.Context) {
	respondOK(c, nil)
}
