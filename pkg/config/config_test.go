package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddress)
	assert.Equal(t, DatabaseSQLite, cfg.Database.Type)
	assert.Equal(t, "reducer.db", cfg.Database.DSN)
	assert.Equal(t, 3, cfg.Worker.Concurrency)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "none", cfg.Authz.Mode)
	assert.Equal(t, "single", cfg.Tenancy.Mode)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
	assert.Equal(t, 30*time.Second, cfg.Cache.HierarchyTTL)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
listen_address: "127.0.0.1:9090"
database:
  type: postgres
  dsn: "host=localhost user=reducer dbname=reducer"
worker:
  concurrency: 8
  serve_dir: /var/lib/reducer/serve
authz:
  mode: roles
  operator_role: admins
tenancy:
  mode: client
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.ListenAddress)
	assert.Equal(t, DatabasePostgres, cfg.Database.Type)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, "/var/lib/reducer/serve", cfg.Worker.ServeDir)
	assert.Equal(t, "roles", cfg.Authz.Mode)
	assert.Equal(t, "admins", cfg.Authz.OperatorRole)
	assert.Equal(t, "client", cfg.Tenancy.Mode)
	// Unset sections keep their defaults.
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, 1000, cfg.Cache.MaxSize)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("REDUCER_LISTEN_ADDRESS", ":7070")
	t.Setenv("REDUCER_WORKER_CONCURRENCY", "5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.ListenAddress)
	assert.Equal(t, 5, cfg.Worker.Concurrency)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad database type",
			mutate:  func(c *Config) { c.Database.Type = "oracle" },
			wantErr: "unsupported database type",
		},
		{
			name:    "empty dsn",
			mutate:  func(c *Config) { c.Database.DSN = "" },
			wantErr: "DSN must not be empty",
		},
		{
			name:    "bad authz mode",
			mutate:  func(c *Config) { c.Authz.Mode = "rbac" },
			wantErr: "unsupported authz mode",
		},
		{
			name:    "bad tenancy mode",
			mutate:  func(c *Config) { c.Tenancy.Mode = "multi" },
			wantErr: "unsupported tenancy mode",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Worker.Concurrency = 0 },
			wantErr: "concurrency must be at least 1",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tc.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
