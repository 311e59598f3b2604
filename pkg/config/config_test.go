package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/observability"
)

// clearEnv unsets every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		FileEnv, "LISTEN_ADDRESS", "READ_TIMEOUT", "WRITE_TIMEOUT", "IDLE_TIMEOUT", "SHUTDOWN_TIMEOUT",
		"METRICS_ADDRESS", "DATABASE_URL", "DATABASE_REPLICA_URLS", "DATABASE_MAX_OPEN_CONNS",
		"DATABASE_MAX_IDLE_CONNS", "DATABASE_CONN_MAX_LIFETIME", "DATABASE_CONN_MAX_IDLE_TIME",
		"DATABASE_CONNECT_TIMEOUT", "REDIS_URL", "CACHE_TTL_SECONDS", "CACHE_L1_SIZE", "CACHE_L1_TTL", "S3_ENDPOINT",
		"S3_REGION", "S3_BUCKET", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY", "S3_USE_PATH_STYLE",
		"S3_PUBLIC_BASE_URL", "AUTH_MODE", "OIDC_ISSUER_URL", "OIDC_CLIENT_ID", "RATE_LIMIT_ENABLED",
		"RATE_LIMIT_USER_PER_MINUTE", "RATE_LIMIT_ANONYMOUS_PER_MINUTE", "RATE_LIMIT_TRUSTED_PROXIES", "AUDIT_DATABASE", "AUDIT_FILE_DIR",
		"AUDIT_FILE_MAX_SIZE", "AUDIT_FILE_MAX_KEEP", "LOG_LEVEL", "OTEL_ENABLED", "OTEL_ENDPOINT",
		"OTEL_SERVICE_NAME", "OTEL_SERVICE_VERSION", "OTEL_INSECURE", "OTEL_SAMPLE_RATIO",
		"TENANCY_ALLOW_ANONYMOUS_MEMBER_LIST",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddress)
	assert.Equal(t, ":9090", cfg.Server.MetricsAddress)
	assert.Empty(t, cfg.Database.URL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "header", cfg.Auth.Mode)
	assert.Equal(t, 10*time.Second, cfg.Cache.L1TTL)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Empty(t, cfg.RateLimit.TrustedProxies)
	assert.False(t, cfg.Tenancy.AllowAnonymousMemberListing)
	assert.Equal(t, observability.InfoLevel, cfg.LogLevel())
}

func TestLoad_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv("LISTEN_ADDRESS", ":8000")
	t.Setenv("DATABASE_URL", "postgres://localhost/tenancy")
	t.Setenv("DATABASE_REPLICA_URLS", "postgres://r1/tenancy, postgres://r2/tenancy")
	t.Setenv("CACHE_TTL_SECONDS", "30")
	t.Setenv("CACHE_L1_TTL", "2s")
	t.Setenv("RATE_LIMIT_TRUSTED_PROXIES", "10.0.0.0/8, ,192.168.1.1/32")
	t.Setenv("S3_BUCKET", "avatars")
	t.Setenv("S3_USE_PATH_STYLE", "true")
	t.Setenv("AUTH_MODE", "OIDC")
	t.Setenv("OIDC_ISSUER_URL", "https://issuer.example.com")
	t.Setenv("OIDC_CLIENT_ID", "tenancy")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TENANCY_ALLOW_ANONYMOUS_MEMBER_LIST", "1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.ListenAddress)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 2*time.Second, cfg.Cache.L1TTL)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1/32"}, cfg.RateLimit.TrustedProxies)
	assert.True(t, cfg.Storage.S3UsePathStyle)
	assert.Equal(t, "oidc", cfg.Auth.Mode)
	assert.True(t, cfg.Tenancy.AllowAnonymousMemberListing)
	assert.Equal(t, observability.DebugLevel, cfg.LogLevel())

	conn := cfg.ConnectionConfig()
	assert.Equal(t, "postgres://localhost/tenancy", conn.PrimaryURL)
	assert.Equal(t, []string{"postgres://r1/tenancy", "postgres://r2/tenancy"}, conn.ReplicaURLs)
	assert.Equal(t, 20, conn.MaxConns)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "tenancy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen_address: ":7000"
  read_timeout: 5s
cache:
  redis_url: redis://cache:6379/0
  l1_size: 50
observability:
  log_level: warn
  otel_enabled: true
  otel_endpoint: collector:4317
tenancy:
  allow_anonymous_member_listing: true
`), 0o600))

	t.Setenv(FileEnv, path)
	t.Setenv("LISTEN_ADDRESS", ":7100")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7100", cfg.Server.ListenAddress, "env wins over file")
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout, "defaults survive the overlay")
	assert.Equal(t, "redis://cache:6379/0", cfg.Cache.RedisURL)
	assert.Equal(t, 50, cfg.Cache.L1Size)
	assert.Equal(t, observability.WarnLevel, cfg.LogLevel())
	assert.True(t, cfg.Tenancy.AllowAnonymousMemberListing)

	otel := cfg.OTelConfig()
	assert.True(t, otel.Enabled)
	assert.Equal(t, "collector:4317", otel.Endpoint)
	assert.Equal(t, "tenancy", otel.ServiceName)
}

func TestLoad_FileErrors(t *testing.T) {
	clearEnv(t)

	t.Run("missing file", func(t *testing.T) {
		t.Setenv(FileEnv, filepath.Join(t.TempDir(), "missing.yaml"))
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o600))
		t.Setenv(FileEnv, path)
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr []string
	}{
		{"defaults", func(c *Config) {}, nil},
		{"same listeners", func(c *Config) { c.Server.MetricsAddress = c.Server.ListenAddress }, []string{"must be different"}},
		{"missing listen address", func(c *Config) { c.Server.ListenAddress = "" }, []string{"listen address is required"}},
		{"replicas without primary", func(c *Config) { c.Database.ReplicaURLs = "postgres://r1" }, []string{"require a primary"}},
		{"idle above open", func(c *Config) {
			c.Database.URL = "postgres://db"
			c.Database.MaxIdleConns = 50
		}, []string{"max idle connections"}},
		{"audit db without db", func(c *Config) { c.Audit.Database = true }, []string{"requires a database URL"}},
		{"half s3 credentials", func(c *Config) { c.Storage.S3AccessKeyID = "AKIA" }, []string{"must be set together"}},
		{"bad auth mode", func(c *Config) { c.Auth.Mode = "saml" }, []string{"invalid auth mode"}},
		{"oidc without issuer", func(c *Config) { c.Auth.Mode = "oidc" }, []string{"OIDC issuer URL"}},
		{"zero rate limit", func(c *Config) { c.RateLimit.UserPerMinute = 0 }, []string{"rate limits must be positive"}},
		{"bad trusted proxy", func(c *Config) { c.RateLimit.TrustedProxies = []string{"10.0.0.1"} }, []string{"invalid trusted proxy CIDR"}},
		{"zero l1 ttl", func(c *Config) { c.Cache.L1TTL = 0 }, []string{"cache L1 TTL must be positive"}},
		{"rate limit disabled ignores zero", func(c *Config) {
			c.RateLimit.Enabled = false
			c.RateLimit.UserPerMinute = 0
		}, nil},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, []string{"OpenTelemetry endpoint"}},
		{"aggregates errors", func(c *Config) {
			c.Auth.Mode = "saml"
			c.Cache.TTL = 0
		}, []string{"invalid auth mode", "cache TTL must be positive"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "12")
	t.Setenv("TEST_BAD_INT", "twelve")
	t.Setenv("TEST_BOOL", "TRUE")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_FLOAT", "0.25")

	assert.Equal(t, 12, getEnvInt("TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("TEST_BAD_INT", 1))
	assert.True(t, getEnvBool("TEST_BOOL", false))
	assert.True(t, getEnvBool("TEST_UNSET_BOOL", true))
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", time.Second))
	assert.Equal(t, 0.25, getEnvFloat("TEST_FLOAT", 1))
	assert.Equal(t, "fallback", getEnv("TEST_UNSET_STRING", "fallback"))
}
