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
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, 8, cfg.Bidding.Shards)
	assert.Equal(t, "@every 1s", cfg.Scheduler.Spec)
	assert.Equal(t, 500*time.Millisecond, cfg.Scheduler.MinHold)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.MaxHold)
	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())

	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("REDIS_ADDRESS", "redis:6380")
	t.Setenv("CACHE_DRIVER", "memory")
	t.Setenv("POINTS_TIMEOUT", "750ms")
	t.Setenv("INSTANCE_ID", "bidding-7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis:6380", cfg.Redis.Address)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, 750*time.Millisecond, cfg.Points.Timeout)
	assert.Equal(t, "bidding-7", cfg.Instance.ID)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 7070
bidding:
  shards: 2
scheduler:
  spec: "@every 5s"
  min_hold: 1s
  max_hold: 10s
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Bidding.Shards)
	assert.Equal(t, "@every 5s", cfg.Scheduler.Spec)
	assert.Equal(t, time.Second, cfg.Scheduler.MinHold)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown cache driver", mutate: func(c *Config) { c.Cache.Driver = "memcached" }, wantErr: true},
		{name: "unknown points driver", mutate: func(c *Config) { c.Points.Driver = "grpc" }, wantErr: true},
		{name: "zero shards", mutate: func(c *Config) { c.Bidding.Shards = 0 }, wantErr: true},
		{name: "lease shorter than point timeout", mutate: func(c *Config) {
			c.Cache.LeaseTTL = time.Second
			c.Points.Timeout = 2 * time.Second
		}, wantErr: true},
		{name: "memory cache ignores lease", mutate: func(c *Config) {
			c.Cache.Driver = "memory"
			c.Cache.LeaseTTL = time.Second
			c.Points.Timeout = 2 * time.Second
		}},
		{name: "min hold above max hold", mutate: func(c *Config) { c.Scheduler.MinHold = time.Minute }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Cache:     CacheConfig{Driver: "redis"},
				Points:    PointsConfig{Driver: "memory"},
				Bidding:   BiddingConfig{Shards: 1},
				Scheduler: SchedulerConfig{MinHold: time.Second, MaxHold: 10 * time.Second},
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
