package repo

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist, or when a
// conditional write matched no row. It aliases gorm.ErrRecordNotFound so the
// service layer can test against either.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates an insert hit a unique index.
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation detects unique-index failures across drivers. glebarez/sqlite
// often returns plain-text errors, while postgres/mysql are translated by GORM
// when TranslateError is on.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key") ||
		strings.Contains(low, "duplicate entry")
}
