// ===========================================
// Package handler - HTTP Layer
// ===========================================
// Handlers parse requests, call services, and translate outcomes into
// the JSON envelope. No business logic lives here; a handler that
// grows an if-ladder about domain rules is a bug.
// ===========================================

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/shortlink/internal/models"
	"github.com/user/shortlink/internal/service"
)

// respondOK writes a success envelope around data.
func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, models.Success(data))
}

// respondErr maps a service error onto the envelope.
func respondErr(c *gin.Context, err *service.Error) {
	status := err.Status()
	c.JSON(status, models.Error(err.Message, status))
}

// respondBadJSON answers a request whose body failed binding.
func respondBadJSON(c *gin.Context) {
	c.JSON(http.StatusBadRequest,
		models.Error("Invalid request body", http.StatusBadRequest))
}
