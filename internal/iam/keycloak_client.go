package iam

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/xxxsen/portalauth/internal/model"
	appErr "github.com/xxxsen/portalauth/internal/pkg/errors"
)

type KeycloakConfig struct {
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Timeout      time.Duration
}

// KeycloakClient calls the Keycloak admin API with a service-account token
// obtained through the client credentials grant.
type KeycloakClient struct {
	gc      *gocloak.GoCloak
	tokens  oauth2.TokenSource
	realm   string
	timeout time.Duration
}

func NewKeycloakClient(ctx context.Context, cfg KeycloakConfig) (*KeycloakClient, error) {
	if cfg.BaseURL == "" || cfg.Realm == "" || cfg.ClientID == "" || cfg.TokenURL == "" {
		return nil, errors.New("iam keycloak config missing required fields")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: timeout})
	return &KeycloakClient{
		gc:      gocloak.NewClient(strings.TrimRight(cfg.BaseURL, "/")),
		tokens:  cc.TokenSource(tokenCtx),
		realm:   cfg.Realm,
		timeout: timeout,
	}, nil
}

// RegisterUser creates the account disabled, with its password in the same
// request so a rejected password never leaves a credential-less user behind.
// Keycloak answers 409 for a taken username or email and 400 for a password
// policy violation; both report false.
func (k *KeycloakClient) RegisterUser(ctx context.Context, reg Registration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	token, err := k.token(ctx, "register_user")
	if err != nil {
		return false, err
	}
	user := gocloak.User{
		Username:  gocloak.StringP(reg.Username),
		Email:     gocloak.StringP(reg.Email),
		FirstName: gocloak.StringP(reg.FirstName),
		LastName:  gocloak.StringP(reg.LastName),
		Enabled:   gocloak.BoolP(false),
		Credentials: &[]gocloak.CredentialRepresentation{{
			Type:      gocloak.StringP("password"),
			Value:     gocloak.StringP(reg.Password),
			Temporary: gocloak.BoolP(false),
		}},
	}
	if _, err := k.gc.CreateUser(ctx, token, k.realm, user); err != nil {
		iamErr := k.wrap(ctx, "register_user", err)
		if iamErr.Status == http.StatusConflict || iamErr.Status == http.StatusBadRequest {
			return false, nil
		}
		return false, iamErr
	}
	return true, nil
}

func (k *KeycloakClient) IsUserEnabled(ctx context.Context, username string) (bool, error) {
	user, err := k.findUser(ctx, "is_user_enabled", username)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, &Error{Op: "is_user_enabled", Err: appErr.ErrNotFound}
	}
	return gocloak.PBool(user.Enabled), nil
}

// EnableUser only sets the enabled and emailVerified flags, so repeating it
// is harmless.
func (k *KeycloakClient) EnableUser(ctx context.Context, username string) error {
	user, err := k.findUser(ctx, "enable_user", username)
	if err != nil {
		return err
	}
	if user == nil {
		return &Error{Op: "enable_user", Err: appErr.ErrNotFound}
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	token, err := k.token(ctx, "enable_user")
	if err != nil {
		return err
	}
	update := gocloak.User{
		ID:            user.ID,
		Enabled:       gocloak.BoolP(true),
		EmailVerified: gocloak.BoolP(true),
	}
	if err := k.gc.UpdateUser(ctx, token, k.realm, update); err != nil {
		return k.wrap(ctx, "enable_user", err)
	}
	return nil
}

func (k *KeycloakClient) IsUserExist(ctx context.Context, username string) (bool, error) {
	user, err := k.findUser(ctx, "is_user_exist", username)
	if err != nil {
		return false, err
	}
	return user != nil, nil
}

func (k *KeycloakClient) GetUser(ctx context.Context, username string) (*model.UserProfile, error) {
	user, err := k.findUser(ctx, "get_user", username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, &Error{Op: "get_user", Err: appErr.ErrNotFound}
	}
	profile := &model.UserProfile{
		ID:        gocloak.PString(user.ID),
		Username:  gocloak.PString(user.Username),
		FirstName: gocloak.PString(user.FirstName),
		LastName:  gocloak.PString(user.LastName),
		Enabled:   gocloak.PBool(user.Enabled),
	}
	if email := gocloak.PString(user.Email); email != "" {
		profile.Emails = []string{email}
	}
	return profile, nil
}

// findUser returns nil, nil when no account matches. Keycloak's exact search
// still compares case-insensitively, so the match is rechecked here.
func (k *KeycloakClient) findUser(ctx context.Context, op, username string) (*gocloak.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	token, err := k.token(ctx, op)
	if err != nil {
		return nil, err
	}
	users, err := k.gc.GetUsers(ctx, token, k.realm, gocloak.GetUsersParams{
		Username: gocloak.StringP(username),
		Exact:    gocloak.BoolP(true),
	})
	if err != nil {
		return nil, k.wrap(ctx, op, err)
	}
	for _, user := range users {
		if user != nil && strings.EqualFold(gocloak.PString(user.Username), username) {
			return user, nil
		}
	}
	return nil, nil
}

func (k *KeycloakClient) token(ctx context.Context, op string) (string, error) {
	tok, err := k.tokens.Token()
	if err != nil {
		return "", k.wrap(ctx, op, err)
	}
	return tok.AccessToken, nil
}

// wrap converts a gocloak or token error into *Error. gocloak flattens
// transport failures into a message, so an expired call context is what
// marks a timeout.
func (k *KeycloakClient) wrap(ctx context.Context, op string, err error) *Error {
	if ctx.Err() != nil {
		return &Error{Op: op, Err: fmt.Errorf("%w: %v", appErr.ErrUnavailable, err)}
	}
	var apiErr *gocloak.APIError
	if errors.As(err, &apiErr) {
		return &Error{Op: op, Status: apiErr.Code, Err: err}
	}
	return &Error{Op: op, Err: err}
}
