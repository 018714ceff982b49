package reporting

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/glowdesk/glowdesk/internal/giftcards"
	"github.com/glowdesk/glowdesk/pkg/logger"
)

const statsCacheKey = "giftcards:stats"

// StatsProvider supplies the ledger aggregates
type StatsProvider interface {
	Stats(ctx context.Context) (*giftcards.Stats, error)
}

// Service serves gift card reporting aggregates with a short Redis cache in
// front of the ledger scan
type Service struct {
	provider StatsProvider
	cache    goredis.UniversalClient
	cacheTTL time.Duration
}

// NewService creates a new reporting service. A nil cache client disables
// caching and every call hits the store.
func NewService(provider StatsProvider, cache goredis.UniversalClient, cacheTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Service{
		provider: provider,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// GetStats returns the ledger aggregates, cached for the configured TTL.
// Cache failures degrade to a direct store read.
func (s *Service) GetStats(ctx context.Context) (*giftcards.Stats, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, statsCacheKey).Result()
		if err == nil {
			var cached giftcards.Stats
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return &cached, nil
			}
			logger.WithContext(ctx).Warn("failed to decode cached stats", zap.Error(err))
		} else if err != goredis.Nil {
			logger.WithContext(ctx).Warn("failed to read stats cache", zap.Error(err))
		}
	}

	stats, err := s.provider.Stats(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if encoded, err := json.Marshal(stats); err == nil {
			if err := s.cache.Set(ctx, statsCacheKey, encoded, s.cacheTTL).Err(); err != nil {
				logger.WithContext(ctx).Warn("failed to write stats cache", zap.Error(err))
			}
		}
	}

	return stats, nil
}

// Invalidate drops the cached aggregates so the next read is fresh
func (s *Service) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, statsCacheKey).Err(); err != nil {
		logger.WithContext(ctx).Warn("failed to invalidate stats cache", zap.Error(err))
	}
}
