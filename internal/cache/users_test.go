package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/splitbuddy/internal/domain"
	"github.com/tbourn/splitbuddy/internal/repo"
)

func newCacheDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:cache_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if err := db.Create(&domain.User{ID: "u1", Username: "alice", DisplayName: "Alice"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	return db
}

func TestByUsername_NoRedis_ReadsDatabase(t *testing.T) {
	d := NewUserDirectory(newCacheDB(t), nil, 0)
	if d.TTL != time.Hour {
		t.Fatalf("default TTL = %v", d.TTL)
	}

	u, err := d.ByUsername(context.Background(), "alice")
	if err != nil || u.ID != "u1" {
		t.Fatalf("ByUsername = %+v, %v", u, err)
	}
	if _, err := d.ByUsername(context.Background(), "nobody"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("miss err = %v; want repo.ErrNotFound", err)
	}
}

func TestByUsername_RedisDown_DegradesToDatabase(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	d := NewUserDirectory(newCacheDB(t), rdb, time.Minute)
	u, err := d.ByUsername(context.Background(), "alice")
	if err != nil || u.Username != "alice" {
		t.Fatalf("ByUsername with dead redis = %+v, %v", u, err)
	}
}

func TestKey(t *testing.T) {
	if got := Key("alice"); got != "splitbuddy:user:username:alice" {
		t.Fatalf("Key = %q", got)
	}
}
