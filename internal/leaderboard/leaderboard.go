// Package leaderboard serves group standings with a Redis cache in front
// of the ledger. Standings are recomputed on cache miss and invalidated by
// feed events, so readers stay cheap under fan-out.
package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/studycircle/studycircle/internal/models"
)

// DefaultTTL bounds staleness when an invalidation is missed.
const DefaultTTL = 5 * time.Minute

// Standings computes a group's ranking from the ledger.
type Standings interface {
	Leaderboard(ctx context.Context, groupID string) ([]models.LeaderboardEntry, error)
}

// NewClient dials Redis from a URL and verifies the connection.
func NewClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

// Service caches computed standings. rdb may be nil, in which case every
// read goes straight to the ledger.
type Service struct {
	source Standings
	rdb    *redis.Client
	ttl    time.Duration
}

// NewService creates the cached standings reader.
func NewService(source Standings, rdb *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{source: source, rdb: rdb, ttl: ttl}
}

func cacheKey(groupID string) string {
	return "leaderboard:" + groupID
}

// Top returns the group's standings, cached when possible.
func (s *Service) Top(ctx context.Context, groupID string) ([]models.LeaderboardEntry, error) {
	if s.rdb != nil {
		data, err := s.rdb.Get(ctx, cacheKey(groupID)).Bytes()
		switch {
		case err == nil:
			var entries []models.LeaderboardEntry
			if err := json.Unmarshal(data, &entries); err == nil {
				return entries, nil
			}
			log.Warn().Str("group_id", groupID).Msg("corrupt leaderboard cache entry, recomputing")
		case !errors.Is(err, redis.Nil):
			log.Warn().Err(err).Str("group_id", groupID).Msg("leaderboard cache read failed")
		}
	}

	entries, err := s.source.Leaderboard(ctx, groupID)
	if err != nil {
		return nil, err
	}

	if s.rdb != nil {
		data, err := json.Marshal(entries)
		if err == nil {
			if err := s.rdb.Set(ctx, cacheKey(groupID), data, s.ttl).Err(); err != nil {
				log.Warn().Err(err).Str("group_id", groupID).Msg("leaderboard cache write failed")
			}
		}
	}
	return entries, nil
}

// Invalidate drops a group's cached standings, called when the group's
// ledger changes.
func (s *Service) Invalidate(ctx context.Context, groupID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, cacheKey(groupID)).Err(); err != nil {
		log.Warn().Err(err).Str("group_id", groupID).Msg("leaderboard cache invalidation failed")
	}
}
