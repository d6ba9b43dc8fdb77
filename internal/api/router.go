package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rahulnair23/foyer/internal/auth"
	"github.com/rahulnair23/foyer/internal/handlers"
	"github.com/rahulnair23/foyer/internal/middleware"
	"github.com/rahulnair23/foyer/internal/services"
)

// Services bundles the wired application services the router exposes.
type Services struct {
	Auth      *services.AuthService
	Signup    *services.SignupService
	Invites   *services.InviteService
	Passwords *services.PasswordService
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(tokens *auth.TokenService, svcs Services) (*gin.Engine, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token service must be provided")
	}
	if svcs.Auth == nil || svcs.Signup == nil || svcs.Invites == nil || svcs.Passwords == nil {
		return nil, fmt.Errorf("all services must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	// Health endpoint (public)
	r.GET("/health", handlers.Health())

	authHandler := handlers.NewAuthHandler(svcs.Auth)
	signupHandler := handlers.NewSignupHandler(svcs.Signup)
	inviteHandler := handlers.NewInviteHandler(svcs.Invites)
	passwordHandler := handlers.NewPasswordHandler(svcs.Passwords)

	// Public auth routes
	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/login/verify-otp", authHandler.VerifyOtp)
		authGroup.POST("/login/verify-totp", authHandler.VerifyTotp)
		authGroup.POST("/refresh", authHandler.Refresh)
	}

	// Public signup routes; the invite ID is the credential here
	signupGroup := r.Group("/api/signup")
	{
		signupGroup.POST("", signupHandler.Begin)
		signupGroup.POST("/verify-otp", signupHandler.VerifyOtp)
		signupGroup.POST("/verify-totp", signupHandler.VerifyTotp)
	}

	// Public password recovery routes
	passwordGroup := r.Group("/api/password")
	{
		passwordGroup.POST("/forgot", passwordHandler.Forgot)
		passwordGroup.POST("/forgot/verify-otp", passwordHandler.ForgotVerifyOtp)
		passwordGroup.POST("/forgot/verify-totp", passwordHandler.ForgotVerifyTotp)
		passwordGroup.POST("/reset", passwordHandler.Reset)
	}

	// Protected routes
	requireAuth := middleware.Auth(tokens)

	api := r.Group("/api")
	api.Use(requireAuth)

	invites := api.Group("/invites")
	{
		invites.POST("", inviteHandler.Create)
		invites.GET("", inviteHandler.List)
		invites.DELETE("/:inviteID", inviteHandler.Revoke)
	}

	api.PUT("/password", passwordHandler.Update)

	// Metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
