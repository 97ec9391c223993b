package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/portalauth/internal/config"
	"github.com/xxxsen/portalauth/internal/db"
	"github.com/xxxsen/portalauth/internal/iam"
	"github.com/xxxsen/portalauth/internal/model"
	"github.com/xxxsen/portalauth/internal/oauth"
	"github.com/xxxsen/portalauth/internal/pkg/dbutil"
	appErr "github.com/xxxsen/portalauth/internal/pkg/errors"
	"github.com/xxxsen/portalauth/internal/repo"
	"github.com/xxxsen/portalauth/internal/service"
	"github.com/xxxsen/portalauth/internal/session"
)

const cookieName = "portal_session"

type stubProvider struct {
	mu       sync.Mutex
	lastAuth oauth.AuthRequest
}

func (p *stubProvider) Name() string { return "keycloak" }

func (p *stubProvider) AuthURL(req oauth.AuthRequest) (string, error) {
	p.mu.Lock()
	p.lastAuth = req
	p.mu.Unlock()
	q := url.Values{}
	q.Set("state", req.State)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("kc_idp_hint", req.IDPHint)
	return "https://iam.example.org/auth?" + q.Encode(), nil
}

func (p *stubProvider) ExchangeCode(_ context.Context, code, _, _ string) (*oauth.Profile, error) {
	if code != "good-code" {
		return nil, appErr.ErrUnauthorized
	}
	return &oauth.Profile{Username: "alice", Email: "alice@example.org", IDToken: "id-token"}, nil
}

func (p *stubProvider) PasswordLogin(_ context.Context, username, password string) (*oauth.Profile, error) {
	switch password {
	case "correct":
		return &oauth.Profile{Username: username, Email: username + "@example.org", IDToken: "pw-token"}, nil
	case "broken":
		return nil, appErr.ErrUnavailable
	default:
		return nil, appErr.ErrUnauthorized
	}
}

func (p *stubProvider) LogoutURL(postLogoutRedirect, idTokenHint string) (string, error) {
	q := url.Values{}
	q.Set("post_logout_redirect_uri", postLogoutRedirect)
	q.Set("id_token_hint", idTokenHint)
	return "https://iam.example.org/logout?" + q.Encode(), nil
}

type stubIAM struct {
	mu          sync.Mutex
	users       map[string]*model.UserProfile
	enableCalls int
}

func (s *stubIAM) RegisterUser(_ context.Context, reg iam.Registration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[reg.Username]; ok {
		return false, nil
	}
	s.users[reg.Username] = &model.UserProfile{Username: reg.Username, Emails: []string{reg.Email}, FirstName: reg.FirstName, LastName: reg.LastName}
	return true, nil
}

func (s *stubIAM) IsUserEnabled(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return false, &iam.Error{Op: "is_user_enabled", Err: appErr.ErrNotFound}
	}
	return u.Enabled, nil
}

func (s *stubIAM) EnableUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enableCalls++
	s.users[username].Enabled = true
	return nil
}

func (s *stubIAM) IsUserExist(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[username]
	return ok, nil
}

func (s *stubIAM) GetUser(_ context.Context, username string) (*model.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.users[username]
	return &cp, nil
}

type recordingSender struct {
	mu     sync.Mutex
	bodies []string
	admins int
}

func (r *recordingSender) Send(_, _, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, body)
	return nil
}

func (r *recordingSender) SendAdmins(_, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admins++
	return nil
}

type testEnv struct {
	router   http.Handler
	provider *stubProvider
	iam      *stubIAM
	sender   *recordingSender
	store    *session.MemoryStore
	repo     *repo.EmailVerificationRepo
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		PublicBaseURL:     "https://portal.example.org",
		LoginURL:          "/auth/login",
		LoginRedirectURL:  "/workspace",
		LogoutRedirectURL: "/",
		Keycloak:          config.KeycloakConfig{TimeoutSeconds: 1},
		IAM:               config.IAMConfig{TimeoutSeconds: 1},
		AuthOptions: config.AuthOptions{
			Password: &config.PasswordOption{Name: "Portal account"},
			External: []config.ExternalProvider{{Name: "CILogon", IDPAlias: "cilogon"}},
		},
	}
	conn, err := db.Open(config.DatabaseConfig{Driver: dbutil.DriverSQLite, DSN: filepath.Join(t.TempDir(), "handler.db")})
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(conn))
	t.Cleanup(func() { _ = conn.Close() })

	env := &testEnv{
		provider: &stubProvider{},
		iam:      &stubIAM{users: map[string]*model.UserProfile{}},
		sender:   &recordingSender{},
		store:    session.NewMemoryStore(100, time.Hour),
		repo:     repo.NewEmailVerificationRepo(conn, dbutil.DriverSQLite),
	}
	sessions := NewSessionManager(env.store, session.CookieOptions{Name: cookieName}, time.Hour)
	verifier := service.NewEmailVerificationService(env.repo, env.iam, env.sender, cfg)
	deps := RouterDeps{
		Auth:     NewAuthHandler(service.NewAuthService(env.provider, cfg), sessions, cfg),
		OAuth:    NewOAuthHandler(service.NewHandshakeService(env.provider, cfg), sessions, cfg),
		Account:  NewAccountHandler(service.NewAccountService(env.iam, verifier, cfg), verifier, cfg),
		Sessions: sessions,
	}
	engine := gin.New()
	RegisterRoutes(engine.Group(""), deps)
	env.router = engine
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// sessionCookie returns the last live session cookie set by the response.
func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	var out *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName && c.MaxAge >= 0 && c.Value != "" {
			out = c
		}
	}
	return out
}

type envelope struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var out envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}
