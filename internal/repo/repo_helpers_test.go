package repo

import (
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/splitbuddy/internal/domain"
)

// newRepoDB opens a unique in-memory database per test. Without models it
// stays empty so error paths can be exercised.
func newRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", name)
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
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func newFullRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := newRepoDB(t)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func seedUsers(t *testing.T, db *gorm.DB, names ...string) {
	t.Helper()
	for _, n := range names {
		u := &domain.User{ID: "id-" + n, Username: n, DisplayName: strings.ToUpper(n)}
		if err := db.Create(u).Error; err != nil {
			t.Fatalf("seed user %s: %v", n, err)
		}
	}
}

func seedTable(t *testing.T, db *gorm.DB, id, creator string, created time.Time, members ...string) *domain.Table {
	t.Helper()
	tbl := &domain.Table{ID: id, CreatorID: creator, Name: "T " + id, Status: domain.TableActive, CreatedAt: created, UpdatedAt: created}
	if err := db.Create(tbl).Error; err != nil {
		t.Fatalf("seed table: %v", err)
	}
	ps := []domain.TableParticipant{{TableID: id, UserID: creator, JoinedAt: created}}
	for _, m := range members {
		ps = append(ps, domain.TableParticipant{TableID: id, UserID: m, JoinedAt: created})
	}
	if err := db.Omit("Table").Create(&ps).Error; err != nil {
		t.Fatalf("seed participants: %v", err)
	}
	return tbl
}
