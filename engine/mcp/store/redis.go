package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/toolgate/toolgate/engine/mcp"
	"github.com/toolgate/toolgate/pkg/logger"
)

const keyPrefix = "toolgate"

// tenantIDRe constrains tenant ids before they are embedded in key
// patterns. A glob character in a tenant id would widen the SCAN across
// tenant boundaries.
var tenantIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidTenantID reports whether the id is safe to embed in store keys.
func ValidTenantID(tenantID string) bool {
	return tenantIDRe.MatchString(tenantID)
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	URL          string
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns a default Redis configuration
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisStore implements Store backed by Redis. Tenant scoping lives in the
// key schema: every record key embeds the tenant id, and listing scans only
// within that tenant's key prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection with a short
// bounded retry. Retries happen only here at startup, never on the
// resolution hot path.
func NewRedisStore(ctx context.Context, cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	opt, err := redisOptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)

	backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, prefix: keyPrefix}, nil
}

// NewRedisStoreWithClient wraps an existing client, used by tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix}
}

func redisOptionsFromConfig(cfg *RedisConfig) (*redis.Options, error) {
	var opt *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opt = parsed
		if cfg.Password != "" {
			opt.Password = cfg.Password
		}
		if cfg.DB != 0 {
			opt.DB = cfg.DB
		}
	} else {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		opt = &redis.Options{
			Addr:     addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opt.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opt.WriteTimeout = cfg.WriteTimeout
	}
	return opt, nil
}

// ListForTenant loads all server records for one tenant using SCAN within
// the tenant's key prefix. Corrupt records are skipped with a warning;
// records whose stored tenant id disagrees with the key are dropped.
func (r *RedisStore) ListForTenant(ctx context.Context, tenantID string) ([]*TenantServerRecord, error) {
	log := logger.FromContext(ctx)
	if !ValidTenantID(tenantID) {
		return nil, fmt.Errorf("invalid tenant id: %q", tenantID)
	}

	pattern := r.serverKey(tenantID, "*")
	var records []*TenantServerRecord
	var cursor uint64

	for {
		keys, nextCursor, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant keys: %w", err)
		}

		if len(keys) > 0 {
			values, err := r.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("failed to get tenant records: %w", err)
			}

			for i, value := range values {
				if value == nil {
					// Key deleted between SCAN and MGET
					continue
				}
				raw, ok := value.(string)
				if !ok {
					log.Warn("unexpected value type for key", "key", keys[i])
					continue
				}
				var record TenantServerRecord
				if err := json.Unmarshal([]byte(raw), &record); err != nil {
					log.Warn("failed to unmarshal tenant record", "key", keys[i], "error", err)
					continue
				}
				if record.TenantID != tenantID {
					log.Warn("tenant record key/body mismatch, dropping",
						"key", keys[i], "record_tenant", record.TenantID)
					continue
				}
				records = append(records, &record)
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return records, nil
}

// Put saves a record. Used by the management CRUD surface and tests, never
// by the resolution path.
func (r *RedisStore) Put(ctx context.Context, record *TenantServerRecord) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}
	if !ValidTenantID(record.TenantID) {
		return fmt.Errorf("invalid tenant id: %q", record.TenantID)
	}
	if record.Definition == nil || !mcp.ValidName(record.Definition.Name) {
		return errors.New("record definition with a [A-Za-z0-9_-]+ name is required")
	}
	if err := record.Definition.Validate(); err != nil {
		return fmt.Errorf("invalid definition: %w", err)
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	key := r.serverKey(record.TenantID, record.Definition.Name)
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// Delete removes a record. Management surface only.
func (r *RedisStore) Delete(ctx context.Context, tenantID, name string) error {
	if !ValidTenantID(tenantID) {
		return fmt.Errorf("invalid tenant id: %q", tenantID)
	}
	if name == "" {
		return errors.New("name cannot be empty")
	}
	deleted, err := r.client.Del(ctx, r.serverKey(tenantID, name)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if deleted == 0 {
		return fmt.Errorf("server %q not found for tenant %q", name, tenantID)
	}
	return nil
}

// Ping tests the Redis connection
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) serverKey(tenantID, name string) string {
	return fmt.Sprintf("%s:tenant:%s:server:%s", r.prefix, tenantID, name)
}
