// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/apereo/cas-sub078/pkg/errors"
	"github.com/apereo/cas-sub078/pkg/logger"
	"github.com/apereo/cas-sub078/pkg/ticket"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// maxUpdateRetries bounds the optimistic-concurrency retry loop in
// UpdateTicket.
const maxUpdateRetries = 5

// RedisConfig holds Redis connection configuration for runtime use.
type RedisConfig struct {
	// Addr is the address of a standalone Redis server. Ignored when
	// SentinelConfig is set.
	Addr string

	// SentinelConfig enables Sentinel failover when set.
	SentinelConfig *SentinelConfig

	// Username and Password authenticate against Redis ACLs. Optional.
	Username string
	Password string

	// DB selects the logical database on a standalone server.
	DB int

	// KeyPrefix namespaces all ticket keys, e.g. "cas:tickets:".
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// SentinelConfig contains Redis Sentinel configuration.
type SentinelConfig struct {
	MasterName    string
	SentinelAddrs []string
	DB            int
}

// RedisRegistry is a Registry backed by Redis, shared by every server node in
// a deployment. Tickets are serialized to JSON, passed through the at-rest
// cipher, and stored under per-partition key namespaces with a store-side TTL
// derived from the expiration policy.
type RedisRegistry struct {
	client     redis.UniversalClient
	keyPrefix  string
	catalog    *ticket.Catalog
	cipher     Cipher
	serializer *ticket.SerializationManager
}

// NewRedisRegistry connects to Redis and verifies connectivity.
func NewRedisRegistry(ctx context.Context, cfg RedisConfig, catalog *ticket.Catalog, cipher Cipher) (*RedisRegistry, error) {
	if err := validateRedisConfig(&cfg); err != nil {
		return nil, errors.NewStorageError("invalid redis configuration", err)
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	var client redis.UniversalClient
	if cfg.SentinelConfig != nil {
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.SentinelConfig.MasterName,
			SentinelAddrs: cfg.SentinelConfig.SentinelAddrs,
			DB:            cfg.SentinelConfig.DB,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			DB:           cfg.DB,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.NewStorageError("failed to connect to redis", err)
	}

	return NewRedisRegistryWithClient(client, cfg.KeyPrefix, catalog, cipher), nil
}

// NewRedisRegistryWithClient creates a RedisRegistry with a pre-configured
// client. This is useful for testing with miniredis.
func NewRedisRegistryWithClient(client redis.UniversalClient, keyPrefix string, catalog *ticket.Catalog, cipher Cipher) *RedisRegistry {
	if cipher == nil {
		cipher = NoOpCipher{}
	}
	return &RedisRegistry{
		client:     client,
		keyPrefix:  keyPrefix,
		catalog:    catalog,
		cipher:     cipher,
		serializer: ticket.NewSerializationManager(),
	}
}

func validateRedisConfig(cfg *RedisConfig) error {
	if cfg.SentinelConfig != nil {
		if cfg.SentinelConfig.MasterName == "" {
			return stderrors.New("sentinel master name is required")
		}
		if len(cfg.SentinelConfig.SentinelAddrs) == 0 {
			return stderrors.New("at least one sentinel address is required")
		}
	} else if cfg.Addr == "" {
		return stderrors.New("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		return stderrors.New("key prefix is required")
	}
	return nil
}

// Close closes the Redis client connection.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

// Ping checks Redis connectivity (health check).
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// key builds the storage key for a ticket: prefix, partition, encoded id.
func (r *RedisRegistry) key(partition, encodedID string) string {
	return fmt.Sprintf("%s%s:%s", r.keyPrefix, partition, encodedID)
}

// locate resolves a ticket id to its catalog definition and storage key. The
// boolean is false when the id's prefix is unknown or the id cannot be
// encoded, which callers treat as "not found".
func (r *RedisRegistry) locate(id string) (ticket.Definition, string, bool) {
	def, ok := r.catalog.ByID(id)
	if !ok {
		return ticket.Definition{}, "", false
	}
	encoded, err := r.cipher.EncodeID(id)
	if err != nil {
		return ticket.Definition{}, "", false
	}
	return def, r.key(def.StoragePartition, encoded), true
}

// encode serializes a ticket and applies the at-rest payload cipher.
func (r *RedisRegistry) encode(t ticket.Ticket) ([]byte, error) {
	data, err := r.serializer.Serialize(t)
	if err != nil {
		return nil, err
	}
	return r.cipher.EncodePayload([]byte(data))
}

// decode reverses encode for the expected ticket kind.
func (r *RedisRegistry) decode(data []byte, kind ticket.Kind) (ticket.Ticket, error) {
	plain, err := r.cipher.DecodePayload(data)
	if err != nil {
		return nil, err
	}
	return r.serializer.Deserialize(string(plain), kind)
}

// storeTTL derives the store-side TTL from the ticket's expiration policy.
// Zero means no store-side eviction; the policy is still authoritative on
// every read.
func storeTTL(t ticket.Ticket, now time.Time) time.Duration {
	policy := t.ExpirationPolicy()
	if policy == nil {
		return 0
	}
	ttl := policy.TTL(t.State(), now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// AddTicket implements Registry.
func (r *RedisRegistry) AddTicket(ctx context.Context, t ticket.Ticket) error {
	if t == nil {
		return errors.NewStorageError("cannot add nil ticket", nil)
	}
	def, ok := r.catalog.ByKind(t.Kind())
	if !ok {
		return errors.NewStorageError(fmt.Sprintf("no catalog definition for ticket kind %q", t.Kind()), nil)
	}
	encoded, err := r.cipher.EncodeID(t.ID())
	if err != nil {
		return errors.NewStorageError(fmt.Sprintf("failed to encode id for %s", t.ID()), err)
	}
	data, err := r.encode(t)
	if err != nil {
		return errors.NewStorageError(fmt.Sprintf("failed to encode ticket %s", t.ID()), err)
	}

	key := r.key(def.StoragePartition, encoded)
	if err := r.client.Set(ctx, key, data, storeTTL(t, time.Now())).Err(); err != nil {
		return errors.NewStorageError(fmt.Sprintf("failed to store ticket %s", t.ID()), err)
	}
	return nil
}

// GetTicket implements Registry.
func (r *RedisRegistry) GetTicket(ctx context.Context, id string, predicate Predicate) (ticket.Ticket, error) {
	def, key, ok := r.locate(id)
	if !ok {
		return nil, nil
	}

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.NewStorageError(fmt.Sprintf("failed to get ticket %s", id), err)
	}

	t, err := r.decode(data, def.Kind)
	if err != nil {
		logger.Warnf("Discarding undecodable ticket %s: %v", id, err)
		return nil, nil
	}
	if predicate != nil && !predicate(t) {
		return nil, nil
	}
	return t, nil
}

// UpdateTicket implements Registry. Service-map merging across nodes uses a
// WATCH-based optimistic transaction: read the stored granting ticket, merge
// its services into the incoming one, write back; a concurrent write voids
// the transaction and the merge retries with exponential backoff.
func (r *RedisRegistry) UpdateTicket(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	if t == nil {
		return nil, errors.NewStorageError("cannot update nil ticket", nil)
	}
	def, ok := r.catalog.ByKind(t.Kind())
	if !ok {
		return nil, errors.NewStorageError(fmt.Sprintf("no catalog definition for ticket kind %q", t.Kind()), nil)
	}
	encoded, err := r.cipher.EncodeID(t.ID())
	if err != nil {
		return nil, errors.NewStorageError(fmt.Sprintf("failed to encode id for %s", t.ID()), err)
	}
	key := r.key(def.StoragePartition, encoded)

	operation := func() (ticket.Ticket, error) {
		merged := t.Clone()

		txErr := r.client.Watch(ctx, func(tx *redis.Tx) error {
			if gt, isGranting := merged.(*ticket.GrantingTicket); isGranting {
				stored, getErr := tx.Get(ctx, key).Bytes()
				switch {
				case getErr == nil:
					if existing, decErr := r.decode(stored, def.Kind); decErr == nil {
						if old, okOld := existing.(*ticket.GrantingTicket); okOld {
							mergeServices(gt, old)
						}
					}
				case !stderrors.Is(getErr, redis.Nil):
					return getErr
				}
			}

			data, encErr := r.encode(merged)
			if encErr != nil {
				return encErr
			}
			_, pipeErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, storeTTL(merged, time.Now()))
				return nil
			})
			return pipeErr
		}, key)

		if txErr != nil {
			if stderrors.Is(txErr, redis.TxFailedErr) {
				// Concurrent writer won the race; re-read and retry.
				return nil, txErr
			}
			return nil, backoff.Permanent(txErr)
		}
		return merged, nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 10 * time.Millisecond
	merged, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(maxUpdateRetries))
	if err != nil {
		return nil, errors.NewStorageError(fmt.Sprintf("failed to update ticket %s", t.ID()), err)
	}
	return merged, nil
}

// DeleteTicket implements Registry.
func (r *RedisRegistry) DeleteTicket(ctx context.Context, id string) (bool, error) {
	_, key, ok := r.locate(id)
	if !ok {
		return false, nil
	}
	removed, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, errors.NewStorageError(fmt.Sprintf("failed to delete ticket %s", id), err)
	}
	return removed > 0, nil
}

// DeleteAll implements Registry.
func (r *RedisRegistry) DeleteAll(ctx context.Context) (int, error) {
	removed := 0
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, errors.NewStorageError("failed to delete ticket key", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, errors.NewStorageError("failed to scan ticket keys", err)
	}
	return removed, nil
}

// GetTickets implements Registry. Tickets that expired but have not been
// evicted yet are filtered out; undecodable entries are skipped.
func (r *RedisRegistry) GetTickets(ctx context.Context) ([]ticket.Ticket, error) {
	now := time.Now()
	var out []ticket.Ticket

	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if stderrors.Is(err, redis.Nil) {
				continue
			}
			return nil, errors.NewStorageError("failed to get ticket key", err)
		}
		plain, err := r.cipher.DecodePayload(data)
		if err != nil {
			logger.Warnf("Skipping undecodable ticket at key %s: %v", iter.Val(), err)
			continue
		}
		t, err := r.serializer.DeserializeAny(string(plain))
		if err != nil {
			logger.Warnf("Skipping undecodable ticket at key %s: %v", iter.Val(), err)
			continue
		}
		if !t.IsExpiredAt(now) {
			out = append(out, t)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, errors.NewStorageError("failed to scan ticket keys", err)
	}
	return out, nil
}

// Compile-time interface compliance check
var _ Registry = (*RedisRegistry)(nil)
