package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/portalauth/internal/config"
	"github.com/xxxsen/portalauth/internal/service"
	"github.com/xxxsen/portalauth/internal/session"
)

type OAuthHandler struct {
	handshake     *service.HandshakeService
	sessions      *SessionManager
	loginRedirect string
}

func NewOAuthHandler(handshake *service.HandshakeService, sessions *SessionManager, cfg *config.Config) *OAuthHandler {
	return &OAuthHandler{
		handshake:     handshake,
		sessions:      sessions,
		loginRedirect: cfg.LoginRedirectURL,
	}
}

// Login starts a federated login. Unknown aliases fail before any redirect.
func (h *OAuthHandler) Login(c *gin.Context) {
	hs, authURL, err := h.handshake.Initiate(c.Param("idp_alias"), safeNext(c.Query("next"), ""))
	if err != nil {
		handleError(c, err)
		return
	}
	sess, err := h.sessions.ensure(c)
	if err != nil {
		handleError(c, err)
		return
	}
	sess.Handshake = hs
	if err := h.sessions.save(c, sess); err != nil {
		handleError(c, err)
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// Callback finishes the handshake. The stored handshake is taken out of the
// store atomically before it is checked, so a state value can be presented
// only once even by concurrent callbacks. Every failure ends on the generic
// error page.
func (h *OAuthHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logutil.GetLogger(ctx)
	sess, err := h.sessions.current(c)
	if err != nil {
		logger.Error("load session on callback failed", zap.Error(err))
		c.Redirect(http.StatusFound, errorPagePath)
		return
	}
	var hs *session.Handshake
	if sess != nil {
		hs, err = h.sessions.Store().TakeHandshake(ctx, sess.ID)
		if err != nil {
			logger.Error("take handshake failed", zap.Error(err))
			c.Redirect(http.StatusFound, errorPagePath)
			return
		}
		sess.Handshake = nil
	}
	profile, err := h.handshake.Complete(ctx, hs, service.CallbackParams{
		State:            c.Query("state"),
		Code:             c.Query("code"),
		Error:            c.Query("error"),
		ErrorDescription: c.Query("error_description"),
	})
	if err != nil {
		logger.Error("oauth callback failed",
			zap.String("callback_url", c.Request.URL.String()),
			zap.Error(err),
		)
		c.Redirect(http.StatusFound, errorPagePath)
		return
	}
	if err := h.sessions.login(c, profile); err != nil {
		logger.Error("establish session failed", zap.String("username", profile.Username), zap.Error(err))
		c.Redirect(http.StatusFound, errorPagePath)
		return
	}
	logger.Info("user logged in", zap.String("username", profile.Username), zap.String("method", "oauth"))
	c.Redirect(http.StatusFound, safeNext(hs.Next, h.loginRedirect))
}
