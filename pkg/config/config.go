// Package config loads server configuration from an optional YAML file and
// the environment. Environment variables use the REDUCER_ prefix and
// override file values; file values override defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tabulahq/reducer/pkg/audit"
	"github.com/tabulahq/reducer/pkg/authz"
	"github.com/tabulahq/reducer/pkg/cache"
	"github.com/tabulahq/reducer/pkg/reduction"
	"github.com/tabulahq/reducer/pkg/tenancy"
)

// Database dialects accepted by Config.Database.Type.
const (
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"
	DatabaseMySQL    = "mysql"
)

// Config is the full server configuration.
type Config struct {
	ListenAddress string `mapstructure:"listen_address"`

	Database DatabaseConfig `mapstructure:"database"`
	Registry RegistryConfig `mapstructure:"registry"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Authz    AuthzConfig    `mapstructure:"authz"`
	Tenancy  TenancyConfig  `mapstructure:"tenancy"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Cache    CacheConfig    `mapstructure:"cache"`
	CORS     CORSConfig     `mapstructure:"cors"`
}

// DatabaseConfig selects the backing database.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres or mysql
	DSN  string `mapstructure:"dsn"`
}

// RegistryConfig locates the content hierarchy registry file.
type RegistryConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// WorkerConfig controls the reduction worker pool.
type WorkerConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	WorkDir     string `mapstructure:"work_dir"`
	ServeDir    string `mapstructure:"serve_dir"`
}

// AuthzConfig controls authorization and identity extraction.
type AuthzConfig struct {
	Mode         string        `mapstructure:"mode"` // none or roles
	OperatorRole string        `mapstructure:"operator_role"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`

	JWTEnabled      bool   `mapstructure:"jwt_enabled"`
	JWTRolesClaim   string `mapstructure:"jwt_roles_claim"`
	JWTPublicKeyPEM string `mapstructure:"jwt_public_key_pem"`
	JWTIssuer       string `mapstructure:"jwt_issuer"`
	JWTAudience     string `mapstructure:"jwt_audience"`
}

// TenancyConfig controls client-scope resolution.
type TenancyConfig struct {
	Mode string `mapstructure:"mode"` // single or client
}

// AuditConfig controls the audit trail.
type AuditConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	RetentionDays int  `mapstructure:"retention_days"`
	LogDenied     bool `mapstructure:"log_denied"`
}

// CacheConfig controls the read-response cache.
type CacheConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	HierarchyTTL time.Duration `mapstructure:"hierarchy_ttl"`
	MaxSize      int           `mapstructure:"max_size"`
}

// CORSConfig controls cross-origin request handling.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_address", "0.0.0.0:8080")

	v.SetDefault("database.type", DatabaseSQLite)
	v.SetDefault("database.dsn", "reducer.db")

	v.SetDefault("registry.path", "")
	v.SetDefault("registry.watch", true)

	workerDefaults := reduction.DefaultConfig()
	v.SetDefault("worker.concurrency", workerDefaults.Concurrency)
	v.SetDefault("worker.work_dir", workerDefaults.WorkDir)
	v.SetDefault("worker.serve_dir", workerDefaults.ServeDir)

	v.SetDefault("authz.mode", string(authz.ModeNone))
	v.SetDefault("authz.operator_role", authz.RoleOperator)
	v.SetDefault("authz.cache_ttl", 10*time.Second)
	v.SetDefault("authz.jwt_enabled", false)
	v.SetDefault("authz.jwt_roles_claim", "roles")

	v.SetDefault("tenancy.mode", string(tenancy.ModeSingle))

	auditDefaults := audit.DefaultConfig()
	v.SetDefault("audit.enabled", auditDefaults.Enabled)
	v.SetDefault("audit.retention_days", auditDefaults.RetentionDays)
	v.SetDefault("audit.log_denied", auditDefaults.LogDenied)

	cacheDefaults := cache.DefaultConfig()
	v.SetDefault("cache.enabled", cacheDefaults.Enabled)
	v.SetDefault("cache.hierarchy_ttl", cacheDefaults.HierarchyTTL)
	v.SetDefault("cache.max_size", cacheDefaults.MaxSize)

	v.SetDefault("cors.allowed_origins", []string{})
}

// Load reads configuration from the given YAML file path (may be empty to
// skip file loading) merged with REDUCER_-prefixed environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("reducer")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enum fields and required values.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case DatabaseSQLite, DatabasePostgres, DatabaseMySQL:
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must not be empty")
	}

	switch authz.Mode(c.Authz.Mode) {
	case authz.ModeNone, authz.ModeRoles:
	default:
		return fmt.Errorf("unsupported authz mode %q", c.Authz.Mode)
	}

	switch tenancy.Mode(c.Tenancy.Mode) {
	case tenancy.ModeSingle, tenancy.ModeClient:
	default:
		return fmt.Errorf("unsupported tenancy mode %q", c.Tenancy.Mode)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1, got %d", c.Worker.Concurrency)
	}
	return nil
}

// ReductionConfig converts the worker section into the reduction package's
// config type.
func (c *Config) ReductionConfig() *reduction.Config {
	return &reduction.Config{
		Concurrency: c.Worker.Concurrency,
		WorkDir:     c.Worker.WorkDir,
		ServeDir:    c.Worker.ServeDir,
	}
}

// AuditSettings converts the audit section into the audit package's config.
func (c *Config) AuditSettings() *audit.Config {
	return &audit.Config{
		RetentionDays: c.Audit.RetentionDays,
		LogDenied:     c.Audit.LogDenied,
		Enabled:       c.Audit.Enabled,
	}
}

// CacheSettings converts the cache section into the cache package's config.
func (c *Config) CacheSettings() *cache.Config {
	return &cache.Config{
		Enabled:      c.Cache.Enabled,
		HierarchyTTL: c.Cache.HierarchyTTL,
		MaxSize:      c.Cache.MaxSize,
	}
}
