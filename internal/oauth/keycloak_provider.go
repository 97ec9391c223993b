package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	appErr "github.com/xxxsen/portalauth/internal/pkg/errors"
)

const keycloakProviderName = "keycloak"

// keycloakProvider talks to a Keycloak realm acting as identity broker.
// Federated providers are selected with the kc_idp_hint parameter.
type keycloakProvider struct {
	cfg       ProviderArgs
	client    *http.Client
	oidc      *oidc.Provider
	verifier  *oidc.IDTokenVerifier
	endpoint  oauth2.Endpoint
	logoutURL string
}

func (k *keycloakProvider) Name() string {
	return keycloakProviderName
}

func (k *keycloakProvider) config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     k.cfg.Config.ClientID,
		ClientSecret: k.cfg.Config.ClientSecret,
		Endpoint:     k.endpoint,
		RedirectURL:  redirectURI,
		Scopes:       k.cfg.Config.Scopes,
	}
}

func (k *keycloakProvider) AuthURL(req AuthRequest) (string, error) {
	if req.State == "" || req.RedirectURI == "" {
		return "", appErr.ErrInvalid
	}
	var opts []oauth2.AuthCodeOption
	if req.CodeVerifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(req.CodeVerifier))
	}
	if req.IDPHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("kc_idp_hint", req.IDPHint))
	}
	return k.config(req.RedirectURI).AuthCodeURL(req.State, opts...), nil
}

func (k *keycloakProvider) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*Profile, error) {
	if code == "" || redirectURI == "" {
		return nil, appErr.ErrInvalid
	}
	ctx = oidc.ClientContext(ctx, k.client)
	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}
	token, err := k.config(redirectURI).Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("keycloak token exchange failed: %w", err)
	}
	return k.profile(ctx, token)
}

func (k *keycloakProvider) PasswordLogin(ctx context.Context, username, password string) (*Profile, error) {
	if username == "" || password == "" {
		return nil, appErr.ErrUnauthorized
	}
	ctx = oidc.ClientContext(ctx, k.client)
	token, err := k.config("").PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && isCredentialRejection(retrieveErr) {
			return nil, appErr.ErrUnauthorized
		}
		return nil, fmt.Errorf("keycloak password grant failed: %w", err)
	}
	return k.profile(ctx, token)
}

func (k *keycloakProvider) LogoutURL(postLogoutRedirect, idTokenHint string) (string, error) {
	if k.logoutURL == "" {
		return "", appErr.ErrInvalid
	}
	target, err := url.Parse(k.logoutURL)
	if err != nil {
		return "", fmt.Errorf("parse keycloak logout url: %w", err)
	}
	params := target.Query()
	params.Set("client_id", k.cfg.Config.ClientID)
	if postLogoutRedirect != "" {
		params.Set("post_logout_redirect_uri", postLogoutRedirect)
	}
	if idTokenHint != "" {
		params.Set("id_token_hint", idTokenHint)
	}
	target.RawQuery = params.Encode()
	return target.String(), nil
}

func (k *keycloakProvider) profile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	rawIDToken, _ := token.Extra("id_token").(string)
	var idSubject string
	if rawIDToken != "" {
		idToken, err := k.verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, fmt.Errorf("keycloak id_token verification failed: %w", err)
		}
		idSubject = idToken.Subject
	}
	info, err := k.oidc.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, fmt.Errorf("keycloak userinfo failed: %w", err)
	}
	if idSubject != "" && idSubject != info.Subject {
		return nil, errors.New("keycloak userinfo subject does not match id_token")
	}
	var claims struct {
		PreferredUsername string `json:"preferred_username"`
		GivenName         string `json:"given_name"`
		FamilyName        string `json:"family_name"`
	}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("keycloak userinfo claims parse failed: %w", err)
	}
	if info.Subject == "" || claims.PreferredUsername == "" {
		return nil, errors.New("keycloak userinfo missing required claims")
	}
	return &Profile{
		Provider:      keycloakProviderName,
		Subject:       info.Subject,
		Username:      claims.PreferredUsername,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		FirstName:     claims.GivenName,
		LastName:      claims.FamilyName,
		IDToken:       rawIDToken,
	}, nil
}

func isCredentialRejection(err *oauth2.RetrieveError) bool {
	if err.ErrorCode == "invalid_grant" || err.ErrorCode == "unauthorized_client" {
		return true
	}
	return err.Response != nil && err.Response.StatusCode == http.StatusUnauthorized
}

func newKeycloakProvider(ctx context.Context, args interface{}) (Provider, error) {
	cfg, err := decodeProviderArgs(args)
	if err != nil {
		return nil, err
	}
	if cfg.Config.Issuer == "" || cfg.Config.ClientID == "" {
		return nil, errors.New("keycloak oauth config missing required fields")
	}
	if len(cfg.Config.Scopes) == 0 {
		cfg.Config.Scopes = []string{oidc.ScopeOpenID}
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	discovered, err := oidc.NewProvider(oidc.ClientContext(ctx, client), cfg.Config.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to init keycloak oidc provider: %w", err)
	}
	endpoint := discovered.Endpoint()
	if cfg.Config.AuthorizeURL != "" {
		endpoint.AuthURL = cfg.Config.AuthorizeURL
	}
	var meta struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := discovered.Claims(&meta); err != nil {
		return nil, fmt.Errorf("keycloak discovery claims parse failed: %w", err)
	}
	logoutURL := cfg.Config.LogoutURL
	if logoutURL == "" {
		logoutURL = meta.EndSessionEndpoint
	}
	return &keycloakProvider{
		cfg:       cfg,
		client:    client,
		oidc:      discovered,
		verifier:  discovered.Verifier(&oidc.Config{ClientID: cfg.Config.ClientID}),
		endpoint:  endpoint,
		logoutURL: logoutURL,
	}, nil
}

func init() {
	Register(keycloakProviderName, newKeycloakProvider)
}
