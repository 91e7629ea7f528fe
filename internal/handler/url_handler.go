package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user/shortlink/internal/middleware"
	"github.com/user/shortlink/internal/models"
	"github.com/user/shortlink/internal/service"
)

// URLHandler serves the shorten and redirect endpoints.
type URLHandler struct {
	shortener *service.ShortenerService
}

func NewURLHandler(shortener *service.ShortenerService) *URLHandler {
	return &URLHandler{shortener: shortener}
}

// Shorten handles POST /api/public/shorten and POST /api/shorten.
func (h *URLHandler) Shorten(c *gin.Context) {
	var req models.ShortenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadJSON(c)
		return
	}

	resp, verr := h.shortener.Shorten(c.Request.Context(), &req)
	if verr != nil {
		respondErr(c, verr)
		return
	}

	logger := middleware.Logger(c)
	logger.Info().
		Str("shortened_url", resp.ShortenedURL).
		Msg("Shorten request served")
	respondOK(c, resp)
}

// Redirect handles GET /:id and GET /api/redirect/:id with a 308 so
// clients preserve the method across the hop.
func (h *URLHandler) Redirect(c *gin.Context) {
	code := c.Param("id")

	target, verr := h.shortener.Resolve(c.Request.Context(), code)
	if verr != nil {
		respondErr(c, verr)
		return
	}

	c.Redirect(http.StatusPermanentRedirect, target)
}

// AttachAlias handles POST /api/alias on the admin surface: attach an
// extra identifier to an existing short URL.
func (h *URLHandler) AttachAlias(c *gin.Context) {
	var req struct {
		Alias string `json:"alias" binding:"required"`
		Code  string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadJSON(c)
		return
	}

	if verr := h.shortener.AttachAlias(c.Request.Context(), req.Alias, req.Code); verr != nil {
		respondErr(c, verr)
		return
	}
	respondOK(c, nil)
}
