package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port              int              `json:"port"`
	PublicBaseURL     string           `json:"public_base_url"`
	LoginURL          string           `json:"login_url"`
	LoginRedirectURL  string           `json:"login_redirect_url"`
	LogoutRedirectURL string           `json:"logout_redirect_url"`
	CORSOrigins       []string         `json:"cors_origins"`
	LogConfig         logger.LogConfig `json:"log_config"`
	Database          DatabaseConfig   `json:"database"`
	Redis             RedisConfig      `json:"redis"`
	Session           SessionConfig    `json:"session"`
	Keycloak          KeycloakConfig   `json:"keycloak"`
	IAM               IAMConfig        `json:"iam"`
	Mail              MailConfig       `json:"mail"`
	AuthOptions       AuthOptions      `json:"authentication_options"`
	RateLimit         RateLimitConfig  `json:"rate_limit"`
	Jobs              JobConfig        `json:"jobs"`
}

type DatabaseConfig struct {
	Driver   string `json:"driver"`
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type SessionConfig struct {
	CookieName string `json:"cookie_name"`
	TTLHours   int    `json:"ttl_hours"`
	Secure     bool   `json:"secure"`
	MemorySize int    `json:"memory_size"`
}

// KeycloakConfig describes the OIDC client the portal uses against the broker.
// AuthorizeURL and LogoutURL override the discovered endpoints when the broker
// is reached through a different public address than the issuer.
type KeycloakConfig struct {
	Issuer         string   `json:"issuer"`
	ClientID       string   `json:"client_id"`
	ClientSecret   string   `json:"client_secret"`
	AuthorizeURL   string   `json:"authorize_url"`
	LogoutURL      string   `json:"logout_url"`
	Scopes         []string `json:"scopes"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

type IAMConfig struct {
	BaseURL        string `json:"base_url"`
	Realm          string `json:"realm"`
	ClientID       string `json:"client_id"`
	ClientSecret   string `json:"client_secret"`
	TokenURL       string `json:"token_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type MailConfig struct {
	Host          string   `json:"host"`
	Port          int      `json:"port"`
	Username      string   `json:"username"`
	Password      string   `json:"password"`
	From          string   `json:"from"`
	Admins        []string `json:"admins"`
	SubjectPrefix string   `json:"subject_prefix"`
}

type AuthOptions struct {
	Password *PasswordOption    `json:"password,omitempty"`
	External []ExternalProvider `json:"external"`
}

type PasswordOption struct {
	Name string `json:"name"`
}

type ExternalProvider struct {
	Name     string `json:"name"`
	IDPAlias string `json:"idp_alias"`
	Logo     string `json:"logo,omitempty"`
}

type RateLimitConfig struct {
	WindowSeconds int `json:"window_seconds"`
}

type JobConfig struct {
	PendingReportSpec string `json:"pending_report_spec"`
	PendingStaleDays  int    `json:"pending_stale_days"`
}

// secretEnv lists the values operators usually keep out of the config file.
type secretEnv struct {
	DatabaseDSN          string `env:"PORTALAUTH_DATABASE_DSN"`
	RedisPassword        string `env:"PORTALAUTH_REDIS_PASSWORD"`
	KeycloakClientSecret string `env:"PORTALAUTH_KEYCLOAK_CLIENT_SECRET"`
	IAMClientSecret      string `env:"PORTALAUTH_IAM_CLIENT_SECRET"`
	MailPassword         string `env:"PORTALAUTH_MAIL_PASSWORD"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	var raw secretEnv
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if raw.DatabaseDSN != "" {
		cfg.Database.DSN = raw.DatabaseDSN
	}
	if raw.RedisPassword != "" {
		cfg.Redis.Password = raw.RedisPassword
	}
	if raw.KeycloakClientSecret != "" {
		cfg.Keycloak.ClientSecret = raw.KeycloakClientSecret
	}
	if raw.IAMClientSecret != "" {
		cfg.IAM.ClientSecret = raw.IAMClientSecret
	}
	if raw.MailPassword != "" {
		cfg.Mail.Password = raw.MailPassword
	}
	return nil
}

func (cfg *Config) normalize() error {
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if cfg.PublicBaseURL == "" {
		return fmt.Errorf("public_base_url is required")
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = "/auth/login"
	}
	if cfg.LoginRedirectURL == "" {
		cfg.LoginRedirectURL = "/"
	}
	if cfg.LogoutRedirectURL == "" {
		cfg.LogoutRedirectURL = "/"
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	switch cfg.Database.Driver {
	case "postgres":
		if cfg.Database.DSN == "" && cfg.Database.Host == "" {
			return fmt.Errorf("database.dsn or database.host is required for postgres")
		}
		if cfg.Database.Port == 0 {
			cfg.Database.Port = 5432
		}
	case "sqlite":
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for sqlite")
		}
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite")
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "portal_session"
	}
	if cfg.Session.TTLHours == 0 {
		cfg.Session.TTLHours = 24
	}
	if cfg.Session.MemorySize == 0 {
		cfg.Session.MemorySize = 10000
	}
	if cfg.Keycloak.Issuer == "" || cfg.Keycloak.ClientID == "" {
		return fmt.Errorf("keycloak.issuer and keycloak.client_id are required")
	}
	if len(cfg.Keycloak.Scopes) == 0 {
		cfg.Keycloak.Scopes = []string{"openid"}
	}
	if cfg.Keycloak.TimeoutSeconds == 0 {
		cfg.Keycloak.TimeoutSeconds = 10
	}
	if cfg.IAM.BaseURL == "" || cfg.IAM.Realm == "" || cfg.IAM.ClientID == "" {
		return fmt.Errorf("iam.base_url, iam.realm and iam.client_id are required")
	}
	cfg.IAM.BaseURL = strings.TrimRight(cfg.IAM.BaseURL, "/")
	if cfg.IAM.TokenURL == "" {
		cfg.IAM.TokenURL = cfg.IAM.BaseURL + "/realms/" + cfg.IAM.Realm + "/protocol/openid-connect/token"
	}
	if cfg.IAM.TimeoutSeconds == 0 {
		cfg.IAM.TimeoutSeconds = 10
	}
	seen := make(map[string]struct{}, len(cfg.AuthOptions.External))
	for _, item := range cfg.AuthOptions.External {
		if strings.TrimSpace(item.IDPAlias) == "" {
			return fmt.Errorf("authentication_options.external: idp_alias is required")
		}
		if _, ok := seen[item.IDPAlias]; ok {
			return fmt.Errorf("authentication_options.external: duplicate idp_alias %s", item.IDPAlias)
		}
		seen[item.IDPAlias] = struct{}{}
	}
	if cfg.RateLimit.WindowSeconds < 0 {
		cfg.RateLimit.WindowSeconds = 0
	}
	if cfg.Jobs.PendingReportSpec == "" {
		cfg.Jobs.PendingReportSpec = "0 3 * * *"
	}
	if cfg.Jobs.PendingStaleDays == 0 {
		cfg.Jobs.PendingStaleDays = 7
	}
	return nil
}

// IDPAliases returns the set of external identity providers users may pick.
func (o AuthOptions) IDPAliases() map[string]struct{} {
	out := make(map[string]struct{}, len(o.External))
	for _, item := range o.External {
		out[item.IDPAlias] = struct{}{}
	}
	return out
}
