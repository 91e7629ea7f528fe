package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/user/shortlink/internal/middleware"
	"github.com/user/shortlink/internal/service"
)

// UserHandler serves the /api/v1/user surface.
type UserHandler struct {
	users *service.UserService
}

func NewUserHandler(users *service.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// Me handles GET /api/v1/user/me.
func (h *UserHandler) Me(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respondErr(c, service.Unauthorized("invalid token"))
		return
	}

	resp, verr := h.users.Me(c.Request.Context(), user.ID)
	if verr != nil {
		respondErr(c, verr)
		return
	}
	respondOK(c, resp)
}
