// SPDX-License-Identifier: Apache-2.0

// Package config loads server configuration from file and environment and
// turns it into the runtime pieces: catalog, cipher, registry.
package config

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/apereo/cas-sub078/pkg/registry"
	"github.com/apereo/cas-sub078/pkg/ticket"
	"github.com/apereo/cas-sub078/pkg/ticket/expiration"
)

// Registry backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the full server configuration.
type Config struct {
	// Debug enables debug logging.
	Debug bool `mapstructure:"debug"`

	Registry   RegistryConfig   `mapstructure:"registry"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	Tickets    TicketsConfig    `mapstructure:"tickets"`
}

// RegistryConfig selects and configures the ticket registry backend.
type RegistryConfig struct {
	// Backend is "memory" or "redis".
	Backend string `mapstructure:"backend"`

	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`

	SentinelMaster string   `mapstructure:"sentinel_master"`
	SentinelAddrs  []string `mapstructure:"sentinel_addrs"`
}

// EncryptionConfig configures the at-rest ticket cipher.
type EncryptionConfig struct {
	// Key is the base64-encoded AES key (16, 24, or 32 bytes decoded).
	// Empty disables at-rest encryption.
	Key string `mapstructure:"key"`
}

// TicketsConfig carries per-kind expiration parameters.
type TicketsConfig struct {
	TicketGranting GrantingTicketConfig `mapstructure:"ticket_granting"`
	Service        ServiceTicketConfig  `mapstructure:"service"`
	ProxyGranting  GrantingTicketConfig `mapstructure:"proxy_granting"`
	Proxy          ServiceTicketConfig  `mapstructure:"proxy"`
	Transient      TransientConfig      `mapstructure:"transient"`
}

// GrantingTicketConfig parameterizes the composite TGT/PGT policy, plus the
// optional remember-me lifetime that swaps in a longer hard timeout when the
// originating credential carried the remember-me trait.
type GrantingTicketConfig struct {
	MaxTimeToLive      time.Duration `mapstructure:"max_time_to_live"`
	TimeToKill         time.Duration `mapstructure:"time_to_kill"`
	MinGapBetweenUses  time.Duration `mapstructure:"min_gap_between_uses"`
	RememberMeLifetime time.Duration `mapstructure:"remember_me_lifetime"`
}

// ServiceTicketConfig parameterizes the ST/PT use-or-timeout policy.
type ServiceTicketConfig struct {
	NumberOfUses int           `mapstructure:"number_of_uses"`
	TimeToKill   time.Duration `mapstructure:"time_to_kill"`
}

// TransientConfig parameterizes the TST hard timeout.
type TransientConfig struct {
	TimeToLive time.Duration `mapstructure:"time_to_live"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("registry.backend", BackendMemory)
	v.SetDefault("registry.redis.addr", "localhost:6379")
	v.SetDefault("registry.redis.key_prefix", "cas:tickets:")
	v.SetDefault("tickets.ticket_granting.max_time_to_live", 8*time.Hour)
	v.SetDefault("tickets.ticket_granting.time_to_kill", 2*time.Hour)
	v.SetDefault("tickets.proxy_granting.max_time_to_live", 8*time.Hour)
	v.SetDefault("tickets.proxy_granting.time_to_kill", 2*time.Hour)
	v.SetDefault("tickets.service.number_of_uses", 1)
	v.SetDefault("tickets.service.time_to_kill", 10*time.Second)
	v.SetDefault("tickets.proxy.number_of_uses", 1)
	v.SetDefault("tickets.proxy.time_to_kill", 10*time.Second)
	v.SetDefault("tickets.transient.time_to_live", 5*time.Minute)
}

// Load reads configuration from the optional file path and CAS_* environment
// variables, applying defaults for everything unset.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the runtime pieces cannot be built from.
func (c *Config) Validate() error {
	switch c.Registry.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Registry.Redis.SentinelMaster == "" && c.Registry.Redis.Addr == "" {
			return fmt.Errorf("redis backend requires an address or sentinel configuration")
		}
		if c.Registry.Redis.KeyPrefix == "" {
			return fmt.Errorf("redis backend requires a key prefix")
		}
	default:
		return fmt.Errorf("unknown registry backend %q", c.Registry.Backend)
	}

	if c.Encryption.Key != "" {
		key, err := base64.StdEncoding.DecodeString(c.Encryption.Key)
		if err != nil {
			return fmt.Errorf("encryption key is not valid base64: %w", err)
		}
		switch len(key) {
		case 16, 24, 32:
		default:
			return fmt.Errorf("encryption key must decode to 16, 24, or 32 bytes, got %d", len(key))
		}
	}
	return nil
}

// grantingPolicyBuilder builds the TGT/PGT policy, wrapping it in remember-me
// delegation when a remember-me lifetime is configured.
func grantingPolicyBuilder(cfg GrantingTicketConfig) func() expiration.Policy {
	return func() expiration.Policy {
		primary := expiration.NewTicketGranting(cfg.MaxTimeToLive, cfg.TimeToKill, cfg.MinGapBetweenUses)
		if cfg.RememberMeLifetime <= 0 {
			return primary
		}
		delegating, err := expiration.NewRememberMeDelegating(primary,
			expiration.NewHardTimeout(cfg.RememberMeLifetime))
		if err != nil {
			return primary
		}
		return delegating
	}
}

// BuildCatalog constructs the ticket catalog from the configured lifetimes.
func (c *Config) BuildCatalog() (*ticket.Catalog, error) {
	return ticket.NewCatalog(
		ticket.Definition{
			Kind:             ticket.KindTicketGranting,
			Prefix:           string(ticket.KindTicketGranting),
			StoragePartition: ticket.PartitionTicketGranting,
			PolicyBuilder:    grantingPolicyBuilder(c.Tickets.TicketGranting),
		},
		ticket.Definition{
			Kind:             ticket.KindService,
			Prefix:           string(ticket.KindService),
			StoragePartition: ticket.PartitionService,
			PolicyBuilder: func() expiration.Policy {
				return expiration.NewMultiTimeUseOrTimeout(c.Tickets.Service.NumberOfUses, c.Tickets.Service.TimeToKill)
			},
		},
		ticket.Definition{
			Kind:             ticket.KindProxyGranting,
			Prefix:           string(ticket.KindProxyGranting),
			StoragePartition: ticket.PartitionProxyGranting,
			PolicyBuilder:    grantingPolicyBuilder(c.Tickets.ProxyGranting),
		},
		ticket.Definition{
			Kind:             ticket.KindProxy,
			Prefix:           string(ticket.KindProxy),
			StoragePartition: ticket.PartitionProxy,
			PolicyBuilder: func() expiration.Policy {
				return expiration.NewMultiTimeUseOrTimeout(c.Tickets.Proxy.NumberOfUses, c.Tickets.Proxy.TimeToKill)
			},
		},
		ticket.Definition{
			Kind:             ticket.KindTransientSession,
			Prefix:           string(ticket.KindTransientSession),
			StoragePartition: ticket.PartitionTransientSession,
			PolicyBuilder: func() expiration.Policy {
				return expiration.NewHardTimeout(c.Tickets.Transient.TimeToLive)
			},
		},
	)
}

// BuildCipher constructs the at-rest cipher, a no-op when no key is set.
func (c *Config) BuildCipher() (registry.Cipher, error) {
	if c.Encryption.Key == "" {
		return registry.NoOpCipher{}, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.Encryption.Key)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
	}
	return registry.NewAESCipher(key)
}

// BuildRegistry constructs the configured registry backend.
func (c *Config) BuildRegistry(ctx context.Context, catalog *ticket.Catalog) (registry.Registry, error) {
	cipher, err := c.BuildCipher()
	if err != nil {
		return nil, err
	}

	switch c.Registry.Backend {
	case BackendMemory:
		return registry.NewMemoryRegistry(catalog, cipher), nil
	case BackendRedis:
		cfg := registry.RedisConfig{
			Addr:      c.Registry.Redis.Addr,
			Username:  c.Registry.Redis.Username,
			Password:  c.Registry.Redis.Password,
			DB:        c.Registry.Redis.DB,
			KeyPrefix: c.Registry.Redis.KeyPrefix,
		}
		if c.Registry.Redis.SentinelMaster != "" {
			cfg.SentinelConfig = &registry.SentinelConfig{
				MasterName:    c.Registry.Redis.SentinelMaster,
				SentinelAddrs: c.Registry.Redis.SentinelAddrs,
				DB:            c.Registry.Redis.DB,
			}
		}
		return registry.NewRedisRegistry(ctx, cfg, catalog, cipher)
	default:
		return nil, fmt.Errorf("unknown registry backend %q", c.Registry.Backend)
	}
}
