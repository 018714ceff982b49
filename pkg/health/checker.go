package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// CheckerConfig controls how individual health checks run
type CheckerConfig struct {
	Timeout time.Duration
}

// DefaultCheckerConfig returns the config used when none is supplied
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{Timeout: 2 * time.Second}
}

// DatabaseChecker returns a health check function for the PostgreSQL pool
func DatabaseChecker(pool *pgxpool.Pool) func() error {
	return DatabaseCheckerWithConfig(pool, DefaultCheckerConfig())
}

// DatabaseCheckerWithConfig returns a pool health check with a custom timeout
func DatabaseCheckerWithConfig(pool *pgxpool.Pool, config CheckerConfig) func() error {
	return func() error {
		if pool == nil {
			return fmt.Errorf("database pool is nil")
		}
		ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
		defer cancel()
		return pool.Ping(ctx)
	}
}

// RedisChecker returns a health check function for Redis
func RedisChecker(client redis.UniversalClient) func() error {
	return RedisCheckerWithConfig(client, DefaultCheckerConfig())
}

// RedisCheckerWithConfig returns a Redis health check with a custom timeout
func RedisCheckerWithConfig(client redis.UniversalClient, config CheckerConfig) func() error {
	return func() error {
		if client == nil {
			return fmt.Errorf("redis client is nil")
		}
		ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
		defer cancel()
		return client.Ping(ctx).Err()
	}
}

// CompositeChecker combines several checks into one; it fails if any
// component fails and reports every failure
func CompositeChecker(checkers map[string]func() error) func() error {
	return func() error {
		var failures []string
		for name, check := range checkers {
			if err := check(); err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			}
		}
		if len(failures) > 0 {
			return fmt.Errorf("health checks failed: %s", strings.Join(failures, "; "))
		}
		return nil
	}
}
