package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/xxxsen/portalauth/internal/config"
	"github.com/xxxsen/portalauth/internal/oauth"
	appErr "github.com/xxxsen/portalauth/internal/pkg/errors"
	"github.com/xxxsen/portalauth/internal/session"
)

const callbackPath = "/auth/callback"

// CallbackParams are the query parameters the provider appends to the
// callback redirect.
type CallbackParams struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

// HandshakeService drives the authorization code grant through the broker.
// It never touches the session store: callers persist the returned
// Handshake and hand it back on the callback.
type HandshakeService struct {
	provider    oauth.Provider
	aliases     map[string]struct{}
	callbackURL string
	timeout     time.Duration
}

func NewHandshakeService(provider oauth.Provider, cfg *config.Config) *HandshakeService {
	return &HandshakeService{
		provider:    provider,
		aliases:     cfg.AuthOptions.IDPAliases(),
		callbackURL: cfg.PublicBaseURL + callbackPath,
		timeout:     time.Duration(cfg.Keycloak.TimeoutSeconds) * time.Second,
	}
}

// Initiate starts a federated login through idpAlias. The returned handshake
// must be stored before the user is redirected to the returned URL.
func (s *HandshakeService) Initiate(idpAlias, next string) (*session.Handshake, string, error) {
	if _, ok := s.aliases[idpAlias]; !ok || idpAlias == "" {
		return nil, "", appErr.ErrInvalidProvider
	}
	redirectURI := s.callbackURL
	if next != "" {
		redirectURI += "?next=" + url.QueryEscape(next)
	}
	hs := &session.Handshake{
		State:        newState(),
		RedirectURI:  redirectURI,
		CodeVerifier: newCodeVerifier(),
		Next:         next,
	}
	authURL, err := s.provider.AuthURL(oauth.AuthRequest{
		State:        hs.State,
		RedirectURI:  hs.RedirectURI,
		CodeVerifier: hs.CodeVerifier,
		IDPHint:      idpAlias,
	})
	if err != nil {
		return nil, "", fmt.Errorf("build authorize url: %w", err)
	}
	return hs, authURL, nil
}

// Complete validates the callback against hs and resolves the user. Every
// failure is a *appErr.HandshakeError.
func (s *HandshakeService) Complete(ctx context.Context, hs *session.Handshake, params CallbackParams) (*oauth.Profile, error) {
	if hs == nil || hs.State == "" {
		return nil, appErr.NewHandshakeError("state", errors.New("no pending handshake"))
	}
	if params.Error != "" {
		return nil, appErr.NewHandshakeError("authorize", fmt.Errorf("provider returned %s: %s", params.Error, params.ErrorDescription))
	}
	if params.State == "" || subtle.ConstantTimeCompare([]byte(params.State), []byte(hs.State)) != 1 {
		return nil, appErr.NewHandshakeError("state", errors.New("state mismatch"))
	}
	if params.Code == "" {
		return nil, appErr.NewHandshakeError("code", errors.New("missing authorization code"))
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	profile, err := s.provider.ExchangeCode(ctx, params.Code, hs.RedirectURI, hs.CodeVerifier)
	if err != nil {
		return nil, appErr.NewHandshakeError("exchange", asUnavailable(ctx, err))
	}
	if profile == nil || profile.Username == "" {
		return nil, appErr.NewHandshakeError("user", errors.New("provider returned no username"))
	}
	return profile, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// asUnavailable tags err with ErrUnavailable when ctx ran out.
func asUnavailable(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", appErr.ErrUnavailable, err)
	}
	return err
}
