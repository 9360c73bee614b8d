package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, 8*time.Hour, cfg.Auth.TokenTTL)
	require.Equal(t, NotifyLog, cfg.Notify.Mode)
	require.Equal(t, int64(1<<20), cfg.HTTP.MaxBodyBytes)
	require.Error(t, cfg.Validate(), "missing secret must fail validation")
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "confhub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9000"
auth:
  secret: from-file-secret-value
  token_ttl: 30m
notify:
  mode: SMTP
mail:
  host: smtp.example.org
  port: 2525
`), 0o600))
	t.Setenv("CONFHUB_HTTP_ADDR", ":9100")
	t.Setenv("CONFHUB_AUTH_ISSUER", "confhub-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9100", cfg.HTTP.Addr)
	require.Equal(t, "confhub-test", cfg.Auth.Issuer)
	require.Equal(t, "from-file-secret-value", cfg.Auth.Secret)
	require.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL)
	require.Equal(t, NotifySMTP, cfg.Notify.Mode)
	require.Equal(t, 2525, cfg.Mail.Port)
	require.NoError(t, cfg.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CONFHUB_DB_DSN=postgres://localhost/confhub_dotenv\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CONFHUB_DB_DSN") })

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "postgres://localhost/confhub_dotenv", cfg.DB.DSN)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Config{
		HTTP:   HTTPConfig{MaxBodyBytes: 1024},
		Auth:   AuthConfig{Secret: "s", TokenTTL: -time.Second},
		Notify: NotifyConfig{Mode: "pigeon"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "auth.token_ttl")
	require.Contains(t, err.Error(), "notify.mode")
}

func TestBootstrapAdminFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFHUB_AUTH_SECRET", "env-secret-value-0123")
	t.Setenv("CONFHUB_AUTH_BOOTSTRAP_ADMIN_USERNAME", "root")
	t.Setenv("CONFHUB_HTTP_TRUSTED_PROXIES", "10.0.0.0/8")

	cfg, err := Load("")
	require.NoError(t, err)
	require.True(t, cfg.Auth.BootstrapAdmin.Enabled())
	require.Equal(t, "root", cfg.Auth.BootstrapAdmin.Username)
	require.Equal(t, []string{"10.0.0.0/8"}, cfg.HTTP.TrustedProxies)
	require.ErrorContains(t, cfg.Validate(), "auth.bootstrap_admin")

	t.Setenv("CONFHUB_AUTH_BOOTSTRAP_ADMIN_EMAIL", "root@example.org")
	t.Setenv("CONFHUB_AUTH_BOOTSTRAP_ADMIN_PASSWORD", "root-password-1")
	cfg, err = Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
}
