package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/portalauth/internal/middleware"
)

type RouterDeps struct {
	Auth            *AuthHandler
	OAuth           *OAuthHandler
	Account         *AccountHandler
	Sessions        *SessionManager
	RateLimitWindow time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	authGroup := api.Group("/auth")
	authGroup.Use(middleware.LoadSession(deps.Sessions.Store(), deps.Sessions.Cookie()))
	limit := middleware.RateLimit(deps.RateLimitWindow)

	authGroup.GET("/login", deps.Auth.LoginOptions)
	authGroup.POST("/login", limit, deps.Auth.Login)
	authGroup.GET("/login/:idp_alias", deps.OAuth.Login)
	authGroup.GET("/callback", deps.OAuth.Callback)
	authGroup.GET("/logout", deps.Auth.Logout)
	authGroup.GET("/error", deps.Auth.Error)
	authGroup.GET("/session", middleware.RequireSession(), deps.Auth.Session)

	authGroup.POST("/create-account", limit, deps.Account.CreateAccount)
	authGroup.GET("/verify-email/:code", deps.Account.VerifyEmail)
	authGroup.GET("/resend-email-link", deps.Account.ResendForm)
	authGroup.POST("/resend-email-link", limit, deps.Account.ResendEmailLink)
}
