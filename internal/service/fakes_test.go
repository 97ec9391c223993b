package service

import (
	"context"
	"net/url"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/portalauth/internal/config"
	"github.com/xxxsen/portalauth/internal/db"
	"github.com/xxxsen/portalauth/internal/iam"
	"github.com/xxxsen/portalauth/internal/model"
	"github.com/xxxsen/portalauth/internal/oauth"
	"github.com/xxxsen/portalauth/internal/pkg/dbutil"
	appErr "github.com/xxxsen/portalauth/internal/pkg/errors"
	"github.com/xxxsen/portalauth/internal/repo"
)

func testConfig() *config.Config {
	return &config.Config{
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
}

func openTestRepo(t *testing.T) *repo.EmailVerificationRepo {
	t.Helper()
	conn, err := db.Open(config.DatabaseConfig{Driver: dbutil.DriverSQLite, DSN: filepath.Join(t.TempDir(), "service.db")})
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(conn))
	t.Cleanup(func() { _ = conn.Close() })
	return repo.NewEmailVerificationRepo(conn, dbutil.DriverSQLite)
}

type fakeProvider struct {
	mu           sync.Mutex
	lastAuth     oauth.AuthRequest
	exchanges    int
	lastRedirect string
	lastVerifier string
}

func (p *fakeProvider) Name() string { return "keycloak" }

func (p *fakeProvider) AuthURL(req oauth.AuthRequest) (string, error) {
	p.mu.Lock()
	p.lastAuth = req
	p.mu.Unlock()
	q := url.Values{}
	q.Set("state", req.State)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("kc_idp_hint", req.IDPHint)
	return "https://iam.example.org/auth?" + q.Encode(), nil
}

func (p *fakeProvider) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*oauth.Profile, error) {
	p.mu.Lock()
	p.exchanges++
	p.lastRedirect = redirectURI
	p.lastVerifier = codeVerifier
	p.mu.Unlock()
	switch code {
	case "good-code":
		return &oauth.Profile{Provider: "keycloak", Subject: "sub-1", Username: "alice", Email: "alice@example.org", IDToken: "id-token"}, nil
	case "slow-code":
		<-ctx.Done()
		return nil, ctx.Err()
	case "anonymous-code":
		return &oauth.Profile{Subject: "sub-2"}, nil
	default:
		return nil, appErr.ErrUnauthorized
	}
}

func (p *fakeProvider) PasswordLogin(ctx context.Context, username, password string) (*oauth.Profile, error) {
	if username == "slow" {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if password != "correct" {
		return nil, appErr.ErrUnauthorized
	}
	return &oauth.Profile{Username: username, Email: username + "@example.org", IDToken: "id-token"}, nil
}

func (p *fakeProvider) LogoutURL(postLogoutRedirect, idTokenHint string) (string, error) {
	q := url.Values{}
	q.Set("post_logout_redirect_uri", postLogoutRedirect)
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	return "https://iam.example.org/logout?" + q.Encode(), nil
}

type fakeIAM struct {
	mu          sync.Mutex
	users       map[string]*model.UserProfile
	registered  []iam.Registration
	enableCalls int
	rejectNext  bool
	failWith    error
}

func newFakeIAM() *fakeIAM {
	return &fakeIAM{users: map[string]*model.UserProfile{}}
}

func (f *fakeIAM) RegisterUser(_ context.Context, reg iam.Registration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return false, f.failWith
	}
	if f.rejectNext {
		return false, nil
	}
	if _, ok := f.users[reg.Username]; ok {
		return false, nil
	}
	f.registered = append(f.registered, reg)
	f.users[reg.Username] = &model.UserProfile{
		Username: reg.Username, Emails: []string{reg.Email}, FirstName: reg.FirstName, LastName: reg.LastName,
	}
	return true, nil
}

func (f *fakeIAM) IsUserEnabled(_ context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return false, f.failWith
	}
	u, ok := f.users[username]
	if !ok {
		return false, &iam.Error{Op: "is_user_enabled", Err: appErr.ErrNotFound}
	}
	return u.Enabled, nil
}

func (f *fakeIAM) EnableUser(_ context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enableCalls++
	u, ok := f.users[username]
	if !ok {
		return &iam.Error{Op: "enable_user", Err: appErr.ErrNotFound}
	}
	u.Enabled = true
	return nil
}

func (f *fakeIAM) IsUserExist(_ context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return false, f.failWith
	}
	_, ok := f.users[username]
	return ok, nil
}

func (f *fakeIAM) GetUser(_ context.Context, username string) (*model.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return nil, &iam.Error{Op: "get_user", Err: appErr.ErrNotFound}
	}
	cp := *u
	return &cp, nil
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentMail
	admins []sentMail
	err    error
}

func (f *fakeSender) Send(to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (f *fakeSender) SendAdmins(subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admins = append(f.admins, sentMail{Subject: subject, Body: body})
	return nil
}
