package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const baseConfig = `{
	"port": 8080,
	"public_base_url": "https://portal.example.org/",
	"database": {"driver": "sqlite", "dsn": "/tmp/portal.db"},
	"keycloak": {"issuer": "https://iam.example.org/realms/portal", "client_id": "pga"},
	"iam": {"base_url": "https://iam.example.org/", "realm": "portal", "client_id": "admin-cli"},
	"authentication_options": {
		"password": {"name": "Portal account"},
		"external": [{"name": "CILogon", "idp_alias": "cilogon"}]
	}
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig))
	require.NoError(t, err)
	require.Equal(t, "https://portal.example.org", cfg.PublicBaseURL)
	require.Equal(t, "/auth/login", cfg.LoginURL)
	require.Equal(t, "/", cfg.LoginRedirectURL)
	require.Equal(t, "portal_session", cfg.Session.CookieName)
	require.Equal(t, 24, cfg.Session.TTLHours)
	require.Equal(t, []string{"openid"}, cfg.Keycloak.Scopes)
	require.Equal(t, "https://iam.example.org/realms/portal/protocol/openid-connect/token", cfg.IAM.TokenURL)
	require.Equal(t, "info", cfg.LogConfig.Level)
	require.Equal(t, 7, cfg.Jobs.PendingStaleDays)
	require.Contains(t, cfg.AuthOptions.IDPAliases(), "cilogon")
}

func TestLoad_EnvOverridesSecrets(t *testing.T) {
	t.Setenv("PORTALAUTH_KEYCLOAK_CLIENT_SECRET", "kc-secret")
	t.Setenv("PORTALAUTH_IAM_CLIENT_SECRET", "iam-secret")
	cfg, err := Load(writeConfig(t, baseConfig))
	require.NoError(t, err)
	require.Equal(t, "kc-secret", cfg.Keycloak.ClientSecret)
	require.Equal(t, "iam-secret", cfg.IAM.ClientSecret)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing port", content: `{"public_base_url": "https://x"}`},
		{name: "missing base url", content: `{"port": 1}`},
		{name: "bad driver", content: `{"port": 1, "public_base_url": "https://x", "database": {"driver": "mysql"}}`},
		{name: "missing keycloak", content: `{"port": 1, "public_base_url": "https://x", "database": {"driver": "sqlite", "dsn": "x.db"}}`},
		{name: "duplicate alias", content: `{"port": 1, "public_base_url": "https://x",
			"database": {"driver": "sqlite", "dsn": "x.db"},
			"keycloak": {"issuer": "https://kc", "client_id": "c"},
			"iam": {"base_url": "https://kc", "realm": "r", "client_id": "c"},
			"authentication_options": {"external": [{"idp_alias": "a"}, {"idp_alias": "a"}]}}`},
		{name: "not json", content: `port=1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
		})
	}
}
