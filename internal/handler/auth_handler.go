package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/portalauth/internal/config"
	"github.com/xxxsen/portalauth/internal/middleware"
	"github.com/xxxsen/portalauth/internal/pkg/errcode"
	appErr "github.com/xxxsen/portalauth/internal/pkg/errors"
	"github.com/xxxsen/portalauth/internal/pkg/response"
	"github.com/xxxsen/portalauth/internal/service"
)

type AuthHandler struct {
	auth          *service.AuthService
	sessions      *SessionManager
	loginURL      string
	loginRedirect string
	logoutTarget  string
}

func NewAuthHandler(auth *service.AuthService, sessions *SessionManager, cfg *config.Config) *AuthHandler {
	return &AuthHandler{
		auth:          auth,
		sessions:      sessions,
		loginURL:      cfg.LoginURL,
		loginRedirect: cfg.LoginRedirectURL,
		logoutTarget:  cfg.LogoutRedirectURL,
	}
}

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
	IDPAlias string `json:"idp_alias" form:"idp_alias"`
	Next     string `json:"next" form:"next"`
}

func (h *AuthHandler) LoginOptions(c *gin.Context) {
	response.Success(c, gin.H{
		"options": h.auth.Options(),
		"next":    safeNext(c.Query("next"), ""),
	})
}

// Login handles the login form. Picking an external provider hands over to
// the federated flow; otherwise the credentials are checked by the broker.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		handleError(c, appErr.ErrInvalid)
		return
	}
	next := safeNext(req.Next, "")
	if req.IDPAlias != "" {
		target := "/auth/login/" + url.PathEscape(req.IDPAlias)
		if next != "" {
			target += "?next=" + url.QueryEscape(next)
		}
		c.Redirect(http.StatusFound, target)
		return
	}
	profile, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, appErr.ErrUnauthorized):
		response.FailWithData(c, http.StatusUnauthorized, errcode.ErrUnauthorized, "Invalid username or password", gin.H{
			"username": req.Username,
			"next":     next,
		})
		return
	case errors.Is(err, appErr.ErrForbidden):
		handleError(c, err)
		return
	default:
		logutil.GetLogger(c.Request.Context()).Error("password login failed",
			zap.String("username", req.Username), zap.Error(err))
		c.Redirect(http.StatusFound, errorPagePath)
		return
	}
	if err := h.sessions.login(c, profile); err != nil {
		handleError(c, err)
		return
	}
	logutil.GetLogger(c.Request.Context()).Info("user logged in", zap.String("username", profile.Username), zap.String("method", "password"))
	c.Redirect(http.StatusFound, safeNext(next, h.loginRedirect))
}

func (h *AuthHandler) Logout(c *gin.Context) {
	sess, err := h.sessions.current(c)
	if err != nil {
		logutil.GetLogger(c.Request.Context()).Warn("load session on logout failed", zap.Error(err))
	}
	idToken := ""
	if sess != nil {
		idToken = sess.IDToken
	}
	if err := h.sessions.destroy(c, sess); err != nil {
		logutil.GetLogger(c.Request.Context()).Warn("delete session failed", zap.Error(err))
	}
	target, err := h.auth.LogoutURL(idToken)
	if err != nil {
		logutil.GetLogger(c.Request.Context()).Error("build logout url failed", zap.Error(err))
		c.Redirect(http.StatusFound, h.logoutTarget)
		return
	}
	c.Redirect(http.StatusFound, target)
}

func (h *AuthHandler) Error(c *gin.Context) {
	response.Success(c, gin.H{
		"message":   "Login failed, please try again.",
		"login_url": h.loginURL,
	})
}

func (h *AuthHandler) Session(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	response.Success(c, gin.H{
		"username":   sess.Username,
		"email":      sess.Email,
		"expires_at": sess.ExpiresAt.Unix(),
	})
}
