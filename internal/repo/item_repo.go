package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/splitbuddy/internal/domain"
)

// InsertItems persists items in one statement.
func InsertItems(ctx context.Context, db *gorm.DB, items []domain.TableItem) error {
	if len(items) == 0 {
		return nil
	}
	return db.WithContext(ctx).Omit("Table").Create(&items).Error
}

// GetItem fetches an item by id, or ErrNotFound.
func GetItem(ctx context.Context, db *gorm.DB, id string) (*domain.TableItem, error) {
	var it domain.TableItem
	if err := db.WithContext(ctx).Where("item_id = ?", id).First(&it).Error; err != nil {
		return nil, err
	}
	return &it, nil
}

// ListItems returns a table's items in entry order.
func ListItems(ctx context.Context, db *gorm.DB, tableID string) ([]domain.TableItem, error) {
	var out []domain.TableItem
	err := db.WithContext(ctx).
		Where("table_id = ?", tableID).
		Order("position asc, created_at asc, item_id asc").
		Find(&out).Error
	return out, err
}

// UpdateItemIfVersion applies fields to an item only if its stored version is
// still version, and bumps the version. ErrNotFound means the row is gone or
// was written by someone else in between.
func UpdateItemIfVersion(ctx context.Context, db *gorm.DB, id string, version int64, fields map[string]any) error {
	updates := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		updates[k] = v
	}
	updates["version"] = gorm.Expr("version + 1")
	updates["updated_at"] = time.Now().UTC()

	res := db.WithContext(ctx).
		Model(&domain.TableItem{}).
		Where("item_id = ? AND version = ?", id, version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteItemIfVersion removes an item only if its stored version is still
// version.
func DeleteItemIfVersion(ctx context.Context, db *gorm.DB, id string, version int64) error {
	res := db.WithContext(ctx).
		Where("item_id = ? AND version = ?", id, version).
		Delete(&domain.TableItem{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
