package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/user/shortlink/internal/config"
	"github.com/user/shortlink/internal/middleware"
	"github.com/user/shortlink/internal/service"
)

// Router assembles the HTTP surface. Three tiers:
//
//	public:    landing page, health, redirects, public shorten
//	admin:     API-key-protected shorten and alias management
//	auth/user: access-token-protected account surface
//
// rateLimiter may be nil when rate limiting is disabled. auth and
// users may be nil when the deployment runs without the account
// subsystem (SQLite-only URL store); the account routes are then not
// registered at all.
func Router(
	cfg *config.Config,
	shortener *service.ShortenerService,
	auth *service.AuthService,
	users *service.UserService,
	rateLimiter *middleware.RateLimiter,
	log zerolog.Logger,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID(log))
	router.Use(middleware.ClientMeta())
	router.Use(middleware.SecurityHeaders())

	urlHandler := NewURLHandler(shortener)

	limited := func() gin.HandlerFunc {
		if rateLimiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return rateLimiter.Limit()
	}

	// Public surface.
	router.GET("/", Home)
	router.GET("/api/health_check", Health)
	router.GET("/:id", urlHandler.Redirect)
	router.GET("/api/redirect/:id", urlHandler.Redirect)
	router.POST("/api/public/shorten", limited(), urlHandler.Shorten)

	// Admin surface, guarded by the configured API key.
	admin := router.Group("/api")
	admin.Use(middleware.RequireAPIKey(cfg.Application.ParsedAPIKey))
	{
		admin.POST("/shorten", limited(), urlHandler.Shorten)
		admin.POST("/alias", urlHandler.AttachAlias)
	}

	if auth == nil {
		return router
	}

	// Account surface.
	authHandler := NewAuthHandler(auth, config.ProductionEnv())
	userHandler := NewUserHandler(users)

	authGroup := router.Group("/api/v1/auth")
	{
		authGroup.POST("/sign-up", authHandler.SignUp)
		authGroup.POST("/sign-in", authHandler.SignIn)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/password-reset/request", authHandler.RequestPasswordReset)
		authGroup.POST("/password-reset/confirm", authHandler.ConfirmPasswordReset)

		protected := authGroup.Group("")
		protected.Use(middleware.RequireAccessToken(auth))
		{
			protected.POST("/sign-out", authHandler.SignOut)
			protected.POST("/sign-out-all", authHandler.SignOutAll)
			protected.POST("/change-password", authHandler.ChangePassword)
			protected.GET("/verify-email/request", authHandler.RequestEmailVerification)
			protected.POST("/verify-email/confirm", authHandler.ConfirmEmailVerification)
			protected.POST("/change-email/request", authHandler.RequestEmailChange)
			protected.POST("/change-email/confirm", authHandler.ConfirmEmailChange)
		}
	}

	user := router.Group("/api/v1/user")
	user.Use(middleware.RequireAccessToken(auth))
	{
		user.GET("/me", userHandler.Me)
	}

	return router
}
