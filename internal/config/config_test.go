package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, env := range envBindings {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "client-uploads", cfg.Supabase.Bucket)
	assert.Equal(t, "upload_visibility", cfg.Supabase.HiddenTable)
	assert.Equal(t, "supabase", cfg.Storage.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Production())
	assert.False(t, cfg.StorageConfigured())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "8088")
	t.Setenv("DATABASE_URL", "postgres://localhost/tax")
	t.Setenv("SSN_ENCRYPTION_KEY", "a2V5")
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "service")
	t.Setenv("PREPARER_EMAIL_DOMAIN", "@firm.com")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,192.0.2.7")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/tax", cfg.Database.URL)
	assert.Equal(t, "a2V5", cfg.Crypto.SSNKey)
	assert.Equal(t, "@firm.com", cfg.Preparer.EmailDomain)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.7"}, cfg.Server.TrustedProxies)
	assert.True(t, cfg.Production())
	assert.True(t, cfg.StorageConfigured())
}

func TestLoadReadsDotEnvAndConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	os.Unsetenv("PREPARER_EMAILS")
	os.Unsetenv("STORAGE_DRIVER")
	os.Unsetenv("S3_BUCKET")
	t.Cleanup(func() {
		os.Unsetenv("PREPARER_EMAILS")
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PREPARER_EMAILS=a@x.com,b@x.com\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("storage:\n  driver: s3\n  s3_bucket: tax-docs\n"), 0o600))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "a@x.com,b@x.com", cfg.Preparer.Emails)
	assert.Equal(t, "s3", cfg.Storage.Driver)
	assert.Equal(t, "tax-docs", cfg.Storage.S3Bucket)
	assert.True(t, cfg.StorageConfigured())
}
