// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apereo/cas-sub078/pkg/registry"
	"github.com/apereo/cas-sub078/pkg/ticket"
	"github.com/apereo/cas-sub078/pkg/ticket/expiration"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.False(t, cfg.Debug)
	assert.Equal(t, BackendMemory, cfg.Registry.Backend)
	assert.Equal(t, 8*time.Hour, cfg.Tickets.TicketGranting.MaxTimeToLive)
	assert.Equal(t, 2*time.Hour, cfg.Tickets.TicketGranting.TimeToKill)
	assert.Equal(t, 1, cfg.Tickets.Service.NumberOfUses)
	assert.Equal(t, 10*time.Second, cfg.Tickets.Service.TimeToKill)
	assert.Equal(t, 5*time.Minute, cfg.Tickets.Transient.TimeToLive)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "casd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
debug: true
registry:
  backend: redis
  redis:
    addr: redis.example.org:6379
    key_prefix: "cas:prod:"
tickets:
  service:
    number_of_uses: 3
    time_to_kill: 30s
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
	assert.Equal(t, BackendRedis, cfg.Registry.Backend)
	assert.Equal(t, "redis.example.org:6379", cfg.Registry.Redis.Addr)
	assert.Equal(t, "cas:prod:", cfg.Registry.Redis.KeyPrefix)
	assert.Equal(t, 3, cfg.Tickets.Service.NumberOfUses)
	assert.Equal(t, 30*time.Second, cfg.Tickets.Service.TimeToKill)
	// Defaults survive partial files.
	assert.Equal(t, 8*time.Hour, cfg.Tickets.TicketGranting.MaxTimeToLive)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CAS_DEBUG", "true")
	t.Setenv("CAS_REGISTRY_BACKEND", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
	assert.Equal(t, BackendMemory, cfg.Registry.Backend)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "unknown backend",
			mutate: func(c *Config) { c.Registry.Backend = "etcd" },
		},
		{
			name: "redis without address",
			mutate: func(c *Config) {
				c.Registry.Backend = BackendRedis
				c.Registry.Redis.Addr = ""
			},
		},
		{
			name: "redis without key prefix",
			mutate: func(c *Config) {
				c.Registry.Backend = BackendRedis
				c.Registry.Redis.KeyPrefix = ""
			},
		},
		{
			name:   "encryption key not base64",
			mutate: func(c *Config) { c.Encryption.Key = "not base64!!" },
		},
		{
			name: "encryption key wrong length",
			mutate: func(c *Config) {
				c.Encryption.Key = base64.StdEncoding.EncodeToString([]byte("short"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBuildCatalog(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	catalog, err := cfg.BuildCatalog()
	require.NoError(t, err)
	assert.Len(t, catalog.Definitions(), 5)

	def, ok := catalog.ByKind(ticket.KindService)
	require.True(t, ok)
	policy := def.PolicyBuilder()
	multiUse, ok := policy.(*expiration.MultiTimeUseOrTimeout)
	require.True(t, ok)
	assert.Equal(t, 1, multiUse.NumberOfUses)
}

func TestBuildCatalogRememberMe(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Tickets.TicketGranting.RememberMeLifetime = 30 * 24 * time.Hour

	catalog, err := cfg.BuildCatalog()
	require.NoError(t, err)

	def, ok := catalog.ByKind(ticket.KindTicketGranting)
	require.True(t, ok)
	delegating, ok := def.PolicyBuilder().(*expiration.RememberMeDelegating)
	require.True(t, ok)
	assert.IsType(t, &expiration.TicketGranting{}, delegating.Primary)
	assert.IsType(t, &expiration.HardTimeout{}, delegating.RememberMe)
}

func TestBuildCipher(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cipher, err := cfg.BuildCipher()
	require.NoError(t, err)
	assert.IsType(t, registry.NoOpCipher{}, cipher)

	cfg.Encryption.Key = base64.StdEncoding.EncodeToString(make([]byte, 32))
	cipher, err = cfg.BuildCipher()
	require.NoError(t, err)
	assert.IsType(t, &registry.AESCipher{}, cipher)
}

func TestBuildRegistryMemory(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	catalog, err := cfg.BuildCatalog()
	require.NoError(t, err)

	reg, err := cfg.BuildRegistry(context.Background(), catalog)
	require.NoError(t, err)
	mem, ok := reg.(*registry.MemoryRegistry)
	require.True(t, ok)
	assert.NoError(t, mem.Close())
}
