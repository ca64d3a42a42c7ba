// Package cache holds read-through caches in front of the datastore.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/splitbuddy/internal/domain"
	"github.com/tbourn/splitbuddy/internal/repo"
	"github.com/tbourn/splitbuddy/internal/utils"
)

const keyPrefix = "splitbuddy:user:username:"

// UserDirectory resolves usernames through Redis, falling back to the users
// table. Usernames are immutable, so a cached mapping never goes stale; only
// misses are not cached. Redis failures degrade to a database read.
type UserDirectory struct {
	DB    *gorm.DB
	Redis redis.Cmdable // nil disables caching
	TTL   time.Duration
}

// NewUserDirectory builds a directory. ttl <= 0 means one hour.
func NewUserDirectory(db *gorm.DB, rdb redis.Cmdable, ttl time.Duration) *UserDirectory {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &UserDirectory{DB: db, Redis: rdb, TTL: ttl}
}

// Key returns the cache key for username.
func Key(username string) string { return keyPrefix + username }

// ByUsername implements services.UserDirectory.
func (d *UserDirectory) ByUsername(ctx context.Context, username string) (*domain.User, error) {
	if d.Redis != nil {
		var u domain.User
		hit, err := utils.GetCache(ctx, d.Redis, Key(username), &u)
		if err != nil {
			log.Warn().Err(err).Str("username", username).Msg("user cache read failed")
		} else if hit {
			return &u, nil
		}
	}

	u, err := repo.GetUserByUsername(ctx, d.DB, username)
	if err != nil {
		return nil, err
	}

	if d.Redis != nil {
		if err := utils.SetCache(ctx, d.Redis, Key(username), u, d.TTL); err != nil {
			log.Warn().Err(err).Str("username", username).Msg("user cache write failed")
		}
	}
	return u, nil
}
