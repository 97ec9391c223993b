package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/portalauth/internal/middleware"
	"github.com/xxxsen/portalauth/internal/oauth"
	"github.com/xxxsen/portalauth/internal/session"
)

// SessionManager ties the session store to the request cookie.
type SessionManager struct {
	store  session.Store
	cookie session.CookieOptions
	ttl    time.Duration
}

func NewSessionManager(store session.Store, cookie session.CookieOptions, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionManager{store: store, cookie: cookie, ttl: ttl}
}

func (m *SessionManager) Store() session.Store {
	return m.store
}

func (m *SessionManager) Cookie() session.CookieOptions {
	return m.cookie
}

// current returns the request's session, loading it when the middleware did
// not run.
func (m *SessionManager) current(c *gin.Context) (*session.Session, error) {
	if sess := middleware.CurrentSession(c); sess != nil {
		return sess, nil
	}
	id := session.ReadCookie(c.Request, m.cookie)
	if id == "" {
		return nil, nil
	}
	return m.store.Get(c.Request.Context(), id)
}

// ensure returns the current session or a fresh anonymous one.
func (m *SessionManager) ensure(c *gin.Context) (*session.Session, error) {
	sess, err := m.current(c)
	if err != nil || sess != nil {
		return sess, err
	}
	return m.newSession()
}

func (m *SessionManager) newSession() (*session.Session, error) {
	id, err := session.GenerateID()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &session.Session{ID: id, CreatedAt: now, ExpiresAt: now.Add(m.ttl)}, nil
}

func (m *SessionManager) save(c *gin.Context, sess *session.Session) error {
	if err := m.store.Save(c.Request.Context(), sess); err != nil {
		return err
	}
	session.SetCookie(c.Writer, sess.ID, sess.ExpiresAt, m.cookie)
	c.Set(middleware.ContextSessionKey, sess)
	return nil
}

// login replaces any existing session with an authenticated one under a new
// id.
func (m *SessionManager) login(c *gin.Context, profile *oauth.Profile) error {
	if old, _ := m.current(c); old != nil {
		_ = m.store.Delete(c.Request.Context(), old.ID)
	}
	sess, err := m.newSession()
	if err != nil {
		return err
	}
	sess.Username = profile.Username
	sess.Email = profile.Email
	sess.IDToken = profile.IDToken
	if err := m.save(c, sess); err != nil {
		return err
	}
	c.Set(middleware.ContextUsernameKey, sess.Username)
	return nil
}

func (m *SessionManager) destroy(c *gin.Context, sess *session.Session) error {
	session.ClearCookie(c.Writer, m.cookie)
	if sess == nil {
		return nil
	}
	return m.store.Delete(c.Request.Context(), sess.ID)
}
