package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

// Config holds the full service configuration.
type Config struct {
	Env      string         `yaml:"env" mapstructure:"env"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Crypto   CryptoConfig   `yaml:"crypto" mapstructure:"crypto"`
	Supabase SupabaseConfig `yaml:"supabase" mapstructure:"supabase"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Preparer PreparerConfig `yaml:"preparer" mapstructure:"preparer"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host           string   `yaml:"host" mapstructure:"host"`
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	// TrustedProxies are the addresses or CIDRs whose X-Forwarded-For is
	// believed. Empty means the socket peer is the client.
	TrustedProxies []string `yaml:"trusted_proxies" mapstructure:"trusted_proxies"`
}

// DatabaseConfig configures PostgreSQL access.
type DatabaseConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// CryptoConfig carries the base64 AES-256 key for SSN / IP PIN protection.
type CryptoConfig struct {
	SSNKey string `yaml:"ssn_key" mapstructure:"ssn_key"`
}

// SupabaseConfig holds hosted identity/storage credentials.
type SupabaseConfig struct {
	URL            string `yaml:"url" mapstructure:"url"`
	ServiceRoleKey string `yaml:"service_role_key" mapstructure:"service_role_key"`
	AnonKey        string `yaml:"anon_key" mapstructure:"anon_key"`
	JWTSecret      string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	Bucket         string `yaml:"bucket" mapstructure:"bucket"`
	HiddenTable    string `yaml:"hidden_table" mapstructure:"hidden_table"`
}

// StorageConfig selects the object-store backend: supabase, s3 or none.
type StorageConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	S3Bucket string `yaml:"s3_bucket" mapstructure:"s3_bucket"`
	Region   string `yaml:"region" mapstructure:"region"`
}

// PreparerConfig decides which signed-in emails are preparers.
type PreparerConfig struct {
	EmailDomain string `yaml:"email_domain" mapstructure:"email_domain"`
	Emails      string `yaml:"emails" mapstructure:"emails"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// envBindings maps config keys to the deployment's variable names.
var envBindings = map[string]string{
	"env":                       "APP_ENV",
	"server.host":               "HOST",
	"server.port":               "PORT",
	"server.allowed_origins":    "ALLOWED_ORIGINS",
	"server.trusted_proxies":    "TRUSTED_PROXIES",
	"database.url":              "DATABASE_URL",
	"crypto.ssn_key":            "SSN_ENCRYPTION_KEY",
	"supabase.url":              "SUPABASE_URL",
	"supabase.service_role_key": "SUPABASE_SERVICE_ROLE_KEY",
	"supabase.anon_key":         "SUPABASE_ANON_KEY",
	"supabase.jwt_secret":       "SUPABASE_JWT_SECRET",
	"supabase.bucket":           "SUPABASE_BUCKET",
	"supabase.hidden_table":     "SUPABASE_HIDDEN_TABLE",
	"storage.driver":            "STORAGE_DRIVER",
	"storage.s3_bucket":         "S3_BUCKET",
	"storage.region":            "AWS_REGION",
	"preparer.email_domain":     "PREPARER_EMAIL_DOMAIN",
	"preparer.emails":           "PREPARER_EMAILS",
	"log.level":                 "LOG_LEVEL",
	"log.format":                "LOG_FORMAT",
}

// Load reads .env (if present), config.yaml (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", env)
		}
	}

	v.SetDefault("env", "development")
	v.SetDefault("server.port", 3000)
	v.SetDefault("supabase.bucket", "client-uploads")
	v.SetDefault("supabase.hidden_table", "upload_visibility")
	v.SetDefault("storage.driver", "supabase")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.Server.AllowedOrigins = splitList(v.GetString("server.allowed_origins"), cfg.Server.AllowedOrigins)
	cfg.Server.TrustedProxies = splitList(v.GetString("server.trusted_proxies"), cfg.Server.TrustedProxies)
	return &cfg, nil
}

// Production reports whether the service runs with production hardening.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// StorageConfigured reports whether an object store can be constructed.
func (c *Config) StorageConfigured() bool {
	switch strings.ToLower(c.Storage.Driver) {
	case "s3":
		return c.Storage.S3Bucket != ""
	case "supabase":
		return c.Supabase.URL != "" && c.Supabase.ServiceRoleKey != ""
	default:
		return false
	}
}

func splitList(raw string, fallback []string) []string {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
