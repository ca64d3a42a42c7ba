package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/splitbuddy/internal/domain"
)

// InsertTable persists a fully populated table row. Callers creating a table
// together with its items and participants run this inside db.Transaction.
func InsertTable(ctx context.Context, db *gorm.DB, t *domain.Table) error {
	return db.WithContext(ctx).Create(t).Error
}

// GetTable fetches a table by id, or ErrNotFound.
func GetTable(ctx context.Context, db *gorm.DB, id string) (*domain.Table, error) {
	var t domain.Table
	if err := db.WithContext(ctx).Where("table_id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// participantOf restricts a tables query to those userID participates in.
func participantOf(userID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Joins("JOIN table_participants tp ON tp.table_id = tables.table_id").
			Where("tp.user_id = ?", userID)
	}
}

// CountTables returns how many tables userID participates in.
func CountTables(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Table{}).
		Scopes(participantOf(userID)).
		Count(&total).Error
	return total, err
}

// ListTablesPage returns a page of tables userID participates in, newest
// first. Use CountTables for the total.
func ListTablesPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Table, error) {
	var out []domain.Table
	err := db.WithContext(ctx).
		Scopes(participantOf(userID)).
		Order("tables.created_at desc, tables.table_id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CloseTable flips an active table owned by creatorID to closed. ErrNotFound
// means the guard did not match.
func CloseTable(ctx context.Context, db *gorm.DB, id, creatorID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Table{}).
		Where("table_id = ? AND creator_id = ? AND status = ?", id, creatorID, domain.TableActive).
		Updates(map[string]any{"status": domain.TableClosed, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetTableTotal stores the derived total of a table.
func SetTableTotal(ctx context.Context, db *gorm.DB, id string, total float64) error {
	res := db.WithContext(ctx).
		Model(&domain.Table{}).
		Where("table_id = ?", id).
		Updates(map[string]any{"total_amount": total, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
