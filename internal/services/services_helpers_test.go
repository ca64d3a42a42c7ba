package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/splitbuddy/internal/domain"
	"github.com/tbourn/splitbuddy/internal/repo"
)

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seedUsers inserts users whose id is "id-<name>" and username is name.
func seedUsers(t *testing.T, db *gorm.DB, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := repo.UpsertUser(context.Background(), db, &domain.User{ID: "id-" + n, Username: n, DisplayName: strings.ToUpper(n[:1]) + n[1:]}); err != nil {
			t.Fatalf("seed user %s: %v", n, err)
		}
	}
}

// befriend makes a and b accepted buddies.
func befriend(t *testing.T, svc *BuddyService, a, b string) {
	t.Helper()
	ctx := context.Background()
	c, err := svc.SendRequest(ctx, "id-"+a, b)
	if err != nil {
		t.Fatalf("send %s->%s: %v", a, b, err)
	}
	if err := svc.AcceptRequest(ctx, c.ID, "id-"+b); err != nil {
		t.Fatalf("accept %s->%s: %v", a, b, err)
	}
}
