package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/happypulse/pulse-backend/internal/database"
	"github.com/happypulse/pulse-backend/internal/projection"
)

const (
	recentPostsKey    = "feed:recent"
	recentPostsMaxLen = 50
	recentPostsTTL    = 1 * time.Hour
)

// PushPostToRecentCache adds a post to the Redis recent cache (newest at
// head). Called by the projector write-through after a post changes.
// LPUSH + LTRIM keeps the last 50.
func PushPostToRecentCache(post *projection.Post) {
	if database.RedisClient == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(post)
	if err != nil {
		return
	}

	pipe := database.RedisClient.Pipeline()
	pipe.LPush(ctx, recentPostsKey, data)
	pipe.LTrim(ctx, recentPostsKey, 0, recentPostsMaxLen-1)
	pipe.Expire(ctx, recentPostsKey, recentPostsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("post_id", post.ID).Msg("feed cache push failed")
	}
}

// GetRecentPostsFromCache returns the most recent posts (newest-first).
// Returns (posts, true) on hit, (nil, false) on miss.
func GetRecentPostsFromCache(ctx context.Context) ([]projection.Post, bool) {
	if database.RedisClient == nil {
		return nil, false
	}

	raw, err := database.RedisClient.LRange(ctx, recentPostsKey, 0, -1).Result()
	if err != nil || len(raw) == 0 {
		return nil, false
	}

	var posts []projection.Post
	for _, entry := range raw {
		var p projection.Post
		if json.Unmarshal([]byte(entry), &p) != nil {
			continue
		}
		posts = append(posts, p)
	}
	return posts, true
}

// LoadPostsWithCache returns feed history. For the initial page (before==nil)
// it tries Redis first; on miss it fetches from Mongo and warms the cache.
func LoadPostsWithCache(ctx context.Context, before *time.Time, limit int64) ([]projection.Post, bool, error) {
	if before == nil && limit <= recentPostsMaxLen {
		if cached, ok := GetRecentPostsFromCache(ctx); ok {
			out := cached
			if int64(len(cached)) > limit {
				out = cached[:limit]
			}
			hasMore := int64(len(cached)) >= limit
			return out, hasMore, nil
		}
	}

	posts, hasMore, err := LoadPosts(ctx, before, limit)
	if err != nil {
		return nil, false, err
	}
	if before == nil && len(posts) > 0 {
		WarmRecentPostsCache(ctx, posts)
	}
	return posts, hasMore, nil
}

// WarmRecentPostsCache stores posts in Redis (newest at head).
func WarmRecentPostsCache(ctx context.Context, posts []projection.Post) {
	if database.RedisClient == nil || len(posts) == 0 {
		return
	}

	pipe := database.RedisClient.Pipeline()
	pipe.Del(ctx, recentPostsKey)
	for i := len(posts) - 1; i >= 0; i-- {
		data, err := json.Marshal(posts[i])
		if err != nil {
			continue
		}
		pipe.LPush(ctx, recentPostsKey, data)
	}
	pipe.LTrim(ctx, recentPostsKey, 0, recentPostsMaxLen-1)
	pipe.Expire(ctx, recentPostsKey, recentPostsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Msg("feed cache warm failed")
	}
}

// InvalidateRecentPostsCache drops the cached page. Called when a cached
// post changes shape (like/reply) so the next read refills from Mongo.
func InvalidateRecentPostsCache() {
	if database.RedisClient == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	database.RedisClient.Del(ctx, recentPostsKey)
}
