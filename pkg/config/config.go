package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/storage/postgres"
)

// FileEnv names the optional YAML file applied before environment variables
const FileEnv = "TENANCY_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
	Tenancy       TenancyConfig       `yaml:"tenancy"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	ListenAddress   string        `yaml:"listen_address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Metrics and health listener, separate from the API for k8s probes
	MetricsAddress string `yaml:"metrics_address"`
}

// DatabaseConfig holds PostgreSQL settings. An empty URL selects the
// in-memory stores.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	ReplicaURLs     string        `yaml:"replica_urls"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// CacheConfig holds organization cache settings. An empty redis URL keeps
// the cache in process.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
	L1Size   int           `yaml:"l1_size"`
	// L1TTL bounds in-process entries when redis is shared between instances
	L1TTL time.Duration `yaml:"l1_ttl"`
}

// StorageConfig holds avatar object storage settings. An empty bucket
// disables avatar uploads.
type StorageConfig struct {
	S3Endpoint        string `yaml:"s3_endpoint"`
	S3Region          string `yaml:"s3_region"`
	S3Bucket          string `yaml:"s3_bucket"`
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key"`
	S3UsePathStyle    bool   `yaml:"s3_use_path_style"`
	S3PublicBaseURL   string `yaml:"s3_public_base_url"`
}

// AuthConfig selects how callers are identified
type AuthConfig struct {
	Mode          string `yaml:"mode"`
	OIDCIssuerURL string `yaml:"oidc_issuer_url"`
	OIDCClientID  string `yaml:"oidc_client_id"`
}

// RateLimitConfig holds per-minute request limits. Forwarding headers are
// honored only for requests arriving from a TrustedProxies CIDR.
type RateLimitConfig struct {
	Enabled            bool     `yaml:"enabled"`
	UserPerMinute      int      `yaml:"user_per_minute"`
	AnonymousPerMinute int      `yaml:"anonymous_per_minute"`
	TrustedProxies     []string `yaml:"trusted_proxies"`
}

// AuditConfig selects audit sinks in addition to the structured log
type AuditConfig struct {
	Database    bool   `yaml:"database"`
	FileDir     string `yaml:"file_dir"`
	FileMaxSize int64  `yaml:"file_max_size"`
	FileMaxKeep int    `yaml:"file_max_keep"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// TenancyConfig holds membership policy switches
type TenancyConfig struct {
	AllowAnonymousMemberListing bool `yaml:"allow_anonymous_member_listing"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:   ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MetricsAddress:  ":9090",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnectTimeout:  5 * time.Second,
		},
		Cache: CacheConfig{
			TTL:    5 * time.Minute,
			L1Size: 1000,
			L1TTL:  10 * time.Second,
		},
		Storage: StorageConfig{
			S3Region: "us-east-1",
		},
		Auth: AuthConfig{
			Mode: "header",
		},
		RateLimit: RateLimitConfig{
			Enabled:            true,
			UserPerMinute:      1000,
			AnonymousPerMinute: 100,
		},
		Audit: AuditConfig{
			FileMaxSize: 100 * 1024 * 1024,
			FileMaxKeep: 10,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "tenancy",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// Load reads defaults, then the YAML file named by TENANCY_CONFIG_FILE,
// then environment variables, and validates the result
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.ListenAddress = getEnv("LISTEN_ADDRESS", s.ListenAddress)
	s.ReadTimeout = getEnvDuration("READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MetricsAddress = getEnv("METRICS_ADDRESS", s.MetricsAddress)

	d := &c.Database
	d.URL = getEnv("DATABASE_URL", d.URL)
	d.ReplicaURLs = getEnv("DATABASE_REPLICA_URLS", d.ReplicaURLs)
	d.MaxOpenConns = getEnvInt("DATABASE_MAX_OPEN_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvInt("DATABASE_MAX_IDLE_CONNS", d.MaxIdleConns)
	d.ConnMaxLifetime = getEnvDuration("DATABASE_CONN_MAX_LIFETIME", d.ConnMaxLifetime)
	d.ConnMaxIdleTime = getEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", d.ConnMaxIdleTime)
	d.ConnectTimeout = getEnvDuration("DATABASE_CONNECT_TIMEOUT", d.ConnectTimeout)

	ca := &c.Cache
	ca.RedisURL = getEnv("REDIS_URL", ca.RedisURL)
	if seconds := getEnvInt("CACHE_TTL_SECONDS", 0); seconds > 0 {
		ca.TTL = time.Duration(seconds) * time.Second
	}
	ca.L1Size = getEnvInt("CACHE_L1_SIZE", ca.L1Size)
	ca.L1TTL = getEnvDuration("CACHE_L1_TTL", ca.L1TTL)

	st := &c.Storage
	st.S3Endpoint = getEnv("S3_ENDPOINT", st.S3Endpoint)
	st.S3Region = getEnv("S3_REGION", st.S3Region)
	st.S3Bucket = getEnv("S3_BUCKET", st.S3Bucket)
	st.S3AccessKeyID = getEnv("S3_ACCESS_KEY_ID", st.S3AccessKeyID)
	st.S3SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", st.S3SecretAccessKey)
	st.S3UsePathStyle = getEnvBool("S3_USE_PATH_STYLE", st.S3UsePathStyle)
	st.S3PublicBaseURL = getEnv("S3_PUBLIC_BASE_URL", st.S3PublicBaseURL)

	a := &c.Auth
	a.Mode = strings.ToLower(getEnv("AUTH_MODE", a.Mode))
	a.OIDCIssuerURL = getEnv("OIDC_ISSUER_URL", a.OIDCIssuerURL)
	a.OIDCClientID = getEnv("OIDC_CLIENT_ID", a.OIDCClientID)

	r := &c.RateLimit
	r.Enabled = getEnvBool("RATE_LIMIT_ENABLED", r.Enabled)
	r.UserPerMinute = getEnvInt("RATE_LIMIT_USER_PER_MINUTE", r.UserPerMinute)
	r.AnonymousPerMinute = getEnvInt("RATE_LIMIT_ANONYMOUS_PER_MINUTE", r.AnonymousPerMinute)
	if proxies := getEnv("RATE_LIMIT_TRUSTED_PROXIES", ""); proxies != "" {
		r.TrustedProxies = splitList(proxies)
	}

	au := &c.Audit
	au.Database = getEnvBool("AUDIT_DATABASE", au.Database)
	au.FileDir = getEnv("AUDIT_FILE_DIR", au.FileDir)
	au.FileMaxSize = getEnvInt64("AUDIT_FILE_MAX_SIZE", au.FileMaxSize)
	au.FileMaxKeep = getEnvInt("AUDIT_FILE_MAX_KEEP", au.FileMaxKeep)

	o := &c.Observability
	o.LogLevel = getEnv("LOG_LEVEL", o.LogLevel)
	o.OTelEnabled = getEnvBool("OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("OTEL_SAMPLE_RATIO", o.OTelSampleRatio)

	c.Tenancy.AllowAnonymousMemberListing = getEnvBool("TENANCY_ALLOW_ANONYMOUS_MEMBER_LIST", c.Tenancy.AllowAnonymousMemberListing)
}

// Validate checks the configuration and reports every problem found
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ListenAddress == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.Server.MetricsAddress == "" {
		errs = append(errs, errors.New("metrics address is required"))
	}
	if c.Server.ListenAddress != "" && c.Server.ListenAddress == c.Server.MetricsAddress {
		errs = append(errs, errors.New("listen address and metrics address must be different"))
	}

	if c.Database.URL != "" {
		if c.Database.MaxOpenConns <= 0 {
			errs = append(errs, errors.New("database max open connections must be positive"))
		}
		if c.Database.MaxIdleConns < 0 || c.Database.MaxIdleConns > c.Database.MaxOpenConns {
			errs = append(errs, errors.New("database max idle connections must be between 0 and max open connections"))
		}
	} else if c.Database.ReplicaURLs != "" {
		errs = append(errs, errors.New("database replicas require a primary database URL"))
	}
	if c.Audit.Database && c.Database.URL == "" {
		errs = append(errs, errors.New("database audit logging requires a database URL"))
	}

	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache TTL must be positive"))
	}
	if c.Cache.L1Size <= 0 {
		errs = append(errs, errors.New("cache L1 size must be positive"))
	}
	if c.Cache.L1TTL <= 0 {
		errs = append(errs, errors.New("cache L1 TTL must be positive"))
	}

	if c.Storage.S3Bucket != "" && c.Storage.S3Region == "" {
		errs = append(errs, errors.New("S3 region is required when an avatar bucket is set"))
	}
	if (c.Storage.S3AccessKeyID == "") != (c.Storage.S3SecretAccessKey == "") {
		errs = append(errs, errors.New("S3 access key id and secret access key must be set together"))
	}

	switch c.Auth.Mode {
	case "header":
	case "oidc":
		if c.Auth.OIDCIssuerURL == "" || c.Auth.OIDCClientID == "" {
			errs = append(errs, errors.New("OIDC issuer URL and client id are required for oidc auth"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid auth mode: %s (must be header or oidc)", c.Auth.Mode))
	}

	if c.RateLimit.Enabled && (c.RateLimit.UserPerMinute <= 0 || c.RateLimit.AnonymousPerMinute <= 0) {
		errs = append(errs, errors.New("rate limits must be positive when rate limiting is enabled"))
	}
	for _, cidr := range c.RateLimit.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errs = append(errs, fmt.Errorf("invalid trusted proxy CIDR %q", cidr))
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			errs = append(errs, errors.New("OpenTelemetry endpoint is required when OTel is enabled"))
		}
		if c.Observability.OTelServiceName == "" {
			errs = append(errs, errors.New("OpenTelemetry service name is required when OTel is enabled"))
		}
	}

	return errors.Join(errs...)
}

// LogLevel returns the parsed log level
func (c *Config) LogLevel() observability.LogLevel {
	return observability.ParseLogLevel(c.Observability.LogLevel)
}

// ConnectionConfig returns the postgres connection settings
func (c *Config) ConnectionConfig() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		PrimaryURL:  c.Database.URL,
		ReplicaURLs: postgres.ParseReplicaURLs(c.Database.ReplicaURLs),
		MaxConns:    c.Database.MaxOpenConns,
		MinConns:    c.Database.MaxIdleConns,
		Timeout:     c.Database.ConnectTimeout,
		MaxLifetime: c.Database.ConnMaxLifetime,
		MaxIdleTime: c.Database.ConnMaxIdleTime,
	}
}

// OTelConfig returns the OpenTelemetry settings
func (c *Config) OTelConfig() observability.OTelConfig {
	o := c.Observability
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// splitList splits a comma separated value, dropping blanks
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
