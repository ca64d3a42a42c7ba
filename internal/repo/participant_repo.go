package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/splitbuddy/internal/domain"
)

// InsertParticipants persists a table roster.
func InsertParticipants(ctx context.Context, db *gorm.DB, ps []domain.TableParticipant) error {
	if len(ps) == 0 {
		return nil
	}
	return db.WithContext(ctx).Omit("Table").Create(&ps).Error
}

// IsParticipant reports whether userID belongs to tableID's roster.
func IsParticipant(ctx context.Context, db *gorm.DB, tableID, userID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.TableParticipant{}).
		Where("table_id = ? AND user_id = ?", tableID, userID).
		Count(&n).Error
	return n > 0, err
}

// ListParticipants returns a table's roster in join order.
func ListParticipants(ctx context.Context, db *gorm.DB, tableID string) ([]domain.TableParticipant, error) {
	var out []domain.TableParticipant
	err := db.WithContext(ctx).
		Where("table_id = ?", tableID).
		Order("joined_at asc, user_id asc").
		Find(&out).Error
	return out, err
}
