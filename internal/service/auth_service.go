package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/xxxsen/portalauth/internal/config"
	"github.com/xxxsen/portalauth/internal/oauth"
	appErr "github.com/xxxsen/portalauth/internal/pkg/errors"
)

// LoginOptions lists the ways a user may sign in.
type LoginOptions struct {
	Password *config.PasswordOption    `json:"password,omitempty"`
	External []config.ExternalProvider `json:"external"`
}

type AuthService struct {
	provider      oauth.Provider
	options       config.AuthOptions
	publicBaseURL string
	logoutTarget  string
	timeout       time.Duration
}

func NewAuthService(provider oauth.Provider, cfg *config.Config) *AuthService {
	return &AuthService{
		provider:      provider,
		options:       cfg.AuthOptions,
		publicBaseURL: cfg.PublicBaseURL,
		logoutTarget:  cfg.LogoutRedirectURL,
		timeout:       time.Duration(cfg.Keycloak.TimeoutSeconds) * time.Second,
	}
}

func (s *AuthService) Options() LoginOptions {
	external := s.options.External
	if external == nil {
		external = []config.ExternalProvider{}
	}
	return LoginOptions{Password: s.options.Password, External: external}
}

func (s *AuthService) PasswordEnabled() bool {
	return s.options.Password != nil
}

// Login authenticates username and password against the broker. Rejected
// credentials are ErrUnauthorized; a broker timeout is ErrUnavailable.
func (s *AuthService) Login(ctx context.Context, username, password string) (*oauth.Profile, error) {
	if !s.PasswordEnabled() {
		return nil, appErr.ErrForbidden
	}
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, appErr.ErrUnauthorized
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	profile, err := s.provider.PasswordLogin(ctx, username, password)
	if err != nil {
		if errors.Is(err, appErr.ErrUnauthorized) {
			return nil, appErr.ErrUnauthorized
		}
		return nil, asUnavailable(ctx, err)
	}
	return profile, nil
}

// LogoutURL is where the browser goes after the local session is gone. The
// broker sends the user on to the configured logout redirect.
func (s *AuthService) LogoutURL(idToken string) (string, error) {
	return s.provider.LogoutURL(s.AbsoluteURL(s.logoutTarget), idToken)
}

func (s *AuthService) AbsoluteURL(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	return s.publicBaseURL + target
}
