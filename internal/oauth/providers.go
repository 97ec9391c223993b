package oauth

import (
	"net/http"
	"strings"
)

type ProviderConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	AuthorizeURL string
	LogoutURL    string
	Scopes       []string
}

type ProviderArgs struct {
	Config ProviderConfig
	Client *http.Client
}

func decodeProviderArgs(args interface{}) (ProviderArgs, error) {
	if args == nil {
		return ProviderArgs{}, nil
	}
	if cfg, ok := args.(ProviderArgs); ok {
		cfg.Config.Issuer = strings.TrimRight(strings.TrimSpace(cfg.Config.Issuer), "/")
		cfg.Config.ClientID = strings.TrimSpace(cfg.Config.ClientID)
		cfg.Config.ClientSecret = strings.TrimSpace(cfg.Config.ClientSecret)
		cfg.Config.AuthorizeURL = strings.TrimSpace(cfg.Config.AuthorizeURL)
		cfg.Config.LogoutURL = strings.TrimSpace(cfg.Config.LogoutURL)
		return cfg, nil
	}
	return ProviderArgs{}, nil
}
