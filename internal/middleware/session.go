package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/portalauth/internal/pkg/errcode"
	"github.com/xxxsen/portalauth/internal/pkg/response"
	"github.com/xxxsen/portalauth/internal/session"
)

const (
	ContextSessionKey  = "session"
	ContextUsernameKey = "username"
)

// LoadSession attaches the session named by the request cookie, if any. A
// store failure is logged and the request continues as anonymous.
func LoadSession(store session.Store, opts session.CookieOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := session.ReadCookie(c.Request, opts)
		if id == "" {
			c.Next()
			return
		}
		sess, err := store.Get(c.Request.Context(), id)
		if err != nil {
			logutil.GetLogger(c.Request.Context()).Error("load session failed", zap.Error(err))
			c.Next()
			return
		}
		if sess != nil {
			c.Set(ContextSessionKey, sess)
			if sess.Authenticated() {
				c.Set(ContextUsernameKey, sess.Username)
			}
		}
		c.Next()
	}
}

func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentSession(c).Authenticated() {
			c.Next()
			return
		}
		response.ErrorWithStatus(c, http.StatusUnauthorized, errcode.ErrUnauthorized, "unauthorized")
		c.Abort()
	}
}

// CurrentSession returns the session loaded by LoadSession, or nil.
func CurrentSession(c *gin.Context) *session.Session {
	value, ok := c.Get(ContextSessionKey)
	if !ok {
		return nil
	}
	sess, _ := value.(*session.Session)
	return sess
}
