package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user/shortlink/internal/middleware"
	"github.com/user/shortlink/internal/models"
	"github.com/user/shortlink/internal/service"
)

const (
	accessCookieMaxAge  = 30 * 60           // 30 minutes
	refreshCookieMaxAge = 30 * 24 * 60 * 60 // 30 days
	refreshCookiePath   = "/api/v1/auth/refresh"
)

// AuthHandler serves the /api/v1/auth surface.
type AuthHandler struct {
	auth *service.AuthService

	// secureCookies controls the Secure flag; true in production.
	secureCookies bool
}

func NewAuthHandler(auth *service.AuthService, secureCookies bool) *AuthHandler {
	return &AuthHandler{auth: auth, secureCookies: secureCookies}
}

// SignUp handles POST /api/v1/auth/sign-up.
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req models.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadJSON(c)
		return
	}

	bundle, user, verr := h.auth.SignUp(c.Request.Context(), &req, middleware.GetClientMeta(c))
	if verr != nil {
		respondErr(c, verr)
		return
	}

	h.setAuthCookies(c, bundle)
	logger := middleware.Logger(c)
	logger.Info().Str("user_id", user.ID.String()).Msg("Sign-up served")
	respondOK(c, bundle)
}

// SignIn handles POST /api/v1/auth/sign-in.
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req models.SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadJSON(c)
		return
	}

	bundle, verr := h.auth.SignIn(c.Request.Context(), &req, middleware.GetClientMeta(c))
	if verr != nil {
		respondErr(c, verr)
		return
	}

	h.setAuthCookies(c, bundle)
	respondOK(c, bundle)
}

// Refresh handles POST /api/v1/auth/refresh. The refresh plaintext
// arrives in the scoped cookie or the Authorization header.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		respondBadJSON(c)
		return
	}

	plain := h.extractRefreshToken(c)
	if plain == "" {
		respondErr(c, service.Unauthorized("invalid refresh token"))
		return
	}

	bundle, verr := h.auth.Refresh(c.Request.Context(), plain, req.DeviceID)
	if verr != nil {
		respondErr(c, verr)
		return
	}

	h.setAuthCookies(c, bundle)
	respondOK(c, bundle)
}

// SignOut handles POST /api/v1/auth/sign-out.
func (h *AuthHandler) SignOut(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respondErr(c, service.Unauthorized("invalid token"))
		return
	}

	var req models.SignOutRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		respondBadJSON(c)
		return
	}

	if verr := h.auth.SignOut(c.Request.Context(), user.ID, req.DeviceID); verr != nil {
		respondErr(c, verr)
		return
	}

	h.clearAuthCookies(c)
	respondOK(c, nil)
}

// SignOutAll handles POST /api/v1/auth/sign-out-all.
func (h *AuthHandler) SignOutAll(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respondErr(c, service.Unauthorized("invalid token"))
		return
	}

	if verr := h.auth.SignOutAll(c.Request.Context(), user.ID); verr != nil {
		respondErr(c, verr)
		return
	}

	h.clearAuthCookies(c)
	respondOK(c, nil)
}

// ChangePassword handles POST /api/v1/auth/change-password.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respondErr(c, service.Unauthorized("invalid token"))
		return
	}

	var req models.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadJSON(c)
		return
	}

	if verr := h.auth.ChangePassword(c.Request.Context(), user.ID, req.OldPassword, req.NewPassword); verr != nil {
		respondErr(c, verr)
		return
	}

	h.clearAuthCookies(c)
	respondOK(c, nil)
}

// RequestEmailVerification handles GET /api/v1/auth/verify-email/request.
func (h *AuthHandler) RequestEmailVerification(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respondErr(c, service.Unauthorized("invalid token"))
		return
	}

	if verr := h.auth.RequestEmailVerification(c.Request.Context(), user.ID); verr != nil {
		respondErr(c, verr)
		return
	}
	respondOK(c, nil)
}

// ConfirmEmailVerification handles POST /api/v1/auth/verify-email/confirm.
func (h *AuthHandler) ConfirmEmailVerification(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respondErr(c, service.Unauthorized("invalid token"))
		return
	}

	var req models.ConfirmCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadJSON(c)
		return
	}

	if verr := h.auth.ConfirmEmailVerification(c.Request.Context(), user.ID, req.Code); verr != nil {
		respondErr(c, verr)
		return
	}
	respondOK(c, nil)
}

// RequestPasswordReset handles POST /api/v1/auth/password-reset/request.
// Always 200: the response must not reveal whether the address exists.
func (h *AuthHandler) RequestPasswordReset(c *gin.Context) {
	var req models.PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadJSON(c)
		return
	}

	if verr := h.auth.RequestPasswordReset(c.Request.Context(), req.Email); verr != nil {
		respondErr(c, verr)
		return
	}
	respondOK(c, nil)
}

// ConfirmPasswordReset handles POST /api/v1/auth/password-reset/confirm.
func (h *AuthHandler) ConfirmPasswordReset(c *gin.Context) {
	var req models.PasswordResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadJSON(c)
		return
	}

	if verr := h.auth.ConfirmPasswordReset(c.Request.Context(), req.Email, req.Code, req.NewPassword); verr != nil {
		respondErr(c, verr)
		return
	}
	respondOK(c, nil)
}

// RequestEmailChange handles POST /api/v1/auth/change-email/request.
func (h *AuthHandler) RequestEmailChange(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respondErr(c, service.Unauthorized("invalid token"))
		return
	}

	var req models.ChangeEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadJSON(c)
		return
	}

	if verr := h.auth.RequestEmailChange(c.Request.Context(), user.ID, req.NewEmail, req.CurrentPassword); verr != nil {
		respondErr(c, verr)
		return
	}
	respondOK(c, nil)
}

// ConfirmEmailChange handles POST /api/v1/auth/change-email/confirm.
func (h *AuthHandler) ConfirmEmailChange(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respondErr(c, service.Unauthorized("invalid token"))
		return
	}

	var req models.ConfirmCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadJSON(c)
		return
	}

	if verr := h.auth.ConfirmEmailChange(c.Request.Context(), user.ID, req.Code); verr != nil {
		respondErr(c, verr)
		return
	}
	respondOK(c, nil)
}

// setAuthCookies installs the token pair. The refresh cookie is
// scoped to the refresh endpoint and Strict so the browser never
// attaches it anywhere else.
func (h *AuthHandler) setAuthCookies(c *gin.Context, bundle *models.AuthBundle) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessTokenCookie, bundle.AccessToken,
		accessCookieMaxAge, "/", "", h.secureCookies, true)

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie("refresh_token", bundle.RefreshToken,
		refreshCookieMaxAge, refreshCookiePath, "", h.secureCookies, true)
}

func (h *AuthHandler) clearAuthCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessTokenCookie, "", -1, "/", "", h.secureCookies, true)

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie("refresh_token", "", -1, refreshCookiePath, "", h.secureCookies, true)
}

func (h *AuthHandler) extractRefreshToken(c *gin.Context) string {
	if cookie, err := c.Cookie("refresh_token"); err == nil && cookie != "" {
		return cookie
	}
	if h := c.GetHeader("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		return h[7:]
	}
	return ""
}
