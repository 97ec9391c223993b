package oauth

import (
	"context"
	"fmt"
	"strings"
)

// Profile is the identity the broker asserts after a successful login.
type Profile struct {
	Provider      string
	Subject       string
	Username      string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
	IDToken       string
}

// AuthRequest carries the per-attempt values of an authorization request.
// RedirectURI must be sent again, unchanged, when the code is exchanged.
type AuthRequest struct {
	State        string
	RedirectURI  string
	CodeVerifier string
	IDPHint      string
}

type Provider interface {
	Name() string
	AuthURL(req AuthRequest) (string, error)
	ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*Profile, error)
	PasswordLogin(ctx context.Context, username, password string) (*Profile, error)
	LogoutURL(postLogoutRedirect, idTokenHint string) (string, error)
}

type ProviderFactory func(ctx context.Context, args interface{}) (Provider, error)

var registry = map[string]ProviderFactory{}

func Register(name string, factory ProviderFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func NewProvider(ctx context.Context, name string, args interface{}) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("oauth provider is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported oauth provider: %s", name)
	}
	return factory(ctx, args)
}
