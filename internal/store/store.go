// Package store provides key-value backends for autosaved form drafts.
// Every backend stores opaque byte values under string keys with
// last-writer-wins semantics.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/livetemplate/formwizard/internal/config"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// Store is the interface for draft storage backends.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store
	Close() error
}

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Store, error) {
	ttl := cfg.GetTTL()

	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemoryStore(ttl), nil
	case config.DriverSQLite:
		s, err := NewSQLiteStore(ctx, cfg.SQLite.Path, cfg.SQLite.Table)
		if err != nil {
			return nil, err
		}
		s.ttl = ttl
		logger.Info("opened SQLite store", zap.String("path", s.path), zap.String("table", s.table))
		return s, nil
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis store: failed to connect to %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
		return NewRedisStore(client, ttl), nil
	case config.DriverPostgres:
		s, err := NewPostgresStore(ctx, cfg.Postgres.GetDSN(), cfg.Postgres.Table)
		if err != nil {
			return nil, err
		}
		s.ttl = ttl
		logger.Info("connected to PostgreSQL", zap.String("table", s.table))
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
	}
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// isValidIdentifier reports whether name is safe to splice into SQL as a
// table name.
func isValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// expiresAt returns the expiry for a value written now, or the zero time when
// ttl is 0.
func expiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
