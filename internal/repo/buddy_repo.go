package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/splitbuddy/internal/domain"
)

// Party selects which side of a connection a user must occupy for a
// conditional write or a listing.
type Party int

const (
	PartySender Party = iota + 1
	PartyRecipient
	PartyEither
)

func (p Party) scope(userID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch p {
		case PartySender:
			return db.Where("sender_id = ?", userID)
		case PartyRecipient:
			return db.Where("recipient_id = ?", userID)
		default:
			return db.Where("(sender_id = ? OR recipient_id = ?)", userID, userID)
		}
	}
}

// CreateConnection inserts a pending connection from senderID to recipientID.
// A concurrent insert for the same unordered pair loses on the pair_key index
// and yields ErrDuplicate.
func CreateConnection(ctx context.Context, db *gorm.DB, senderID, recipientID string) (*domain.BuddyConnection, error) {
	now := time.Now().UTC()
	c := &domain.BuddyConnection{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		RecipientID: recipientID,
		PairKey:     domain.PairKey(senderID, recipientID),
		Status:      domain.ConnectionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.WithContext(ctx).Omit("Sender", "Recipient").Create(c).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return c, nil
}

// GetConnection fetches a connection by id, or ErrNotFound.
func GetConnection(ctx context.Context, db *gorm.DB, id string) (*domain.BuddyConnection, error) {
	var c domain.BuddyConnection
	if err := db.WithContext(ctx).Where("connection_id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// FindConnectionBetween returns the connection for the unordered pair {a, b}
// in any status, or ErrNotFound.
func FindConnectionBetween(ctx context.Context, db *gorm.DB, a, b string) (*domain.BuddyConnection, error) {
	var c domain.BuddyConnection
	if err := db.WithContext(ctx).Where("pair_key = ?", domain.PairKey(a, b)).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// TransitionConnection moves a connection from one status to another with a
// single conditional update guarded by status and the acting user's role.
// ErrNotFound means the guard did not match; the caller decides why.
func TransitionConnection(ctx context.Context, db *gorm.DB, id, userID string, party Party, from, to string) error {
	res := db.WithContext(ctx).
		Model(&domain.BuddyConnection{}).
		Scopes(party.scope(userID)).
		Where("connection_id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteConnection removes a connection with a single conditional delete
// guarded by status and the acting user's role. ErrNotFound means the guard
// did not match.
func DeleteConnection(ctx context.Context, db *gorm.DB, id, userID string, party Party, status string) error {
	res := db.WithContext(ctx).
		Scopes(party.scope(userID)).
		Where("connection_id = ? AND status = ?", id, status).
		Delete(&domain.BuddyConnection{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListConnections returns userID's connections in the given status where the
// user occupies party, newest first, with both profiles preloaded.
func ListConnections(ctx context.Context, db *gorm.DB, userID string, party Party, status string) ([]domain.BuddyConnection, error) {
	var out []domain.BuddyConnection
	err := db.WithContext(ctx).
		Preload("Sender").
		Preload("Recipient").
		Scopes(party.scope(userID)).
		Where("status = ?", status).
		Order("created_at desc, connection_id desc").
		Find(&out).Error
	return out, err
}

// AcceptedBuddiesAmong reports which of candidates are accepted buddies of
// userID.
func AcceptedBuddiesAmong(ctx context.Context, db *gorm.DB, userID string, candidates []string) (map[string]bool, error) {
	out := make(map[string]bool, len(candidates))
	if len(candidates) == 0 {
		return out, nil
	}
	keys := make([]string, 0, len(candidates))
	for _, c := range candidates {
		keys = append(keys, domain.PairKey(userID, c))
	}
	var rows []domain.BuddyConnection
	err := db.WithContext(ctx).
		Select("connection_id", "sender_id", "recipient_id").
		Where("pair_key IN ? AND status = ?", keys, domain.ConnectionAccepted).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.OtherParty(userID)] = true
	}
	return out, nil
}
