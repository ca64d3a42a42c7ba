// Package domain defines the persistence models for users, buddy connections,
// and shared tables. These types are mapped with GORM and form the core data
// layer of the splitbuddy service.
package domain

import (
	"strconv"
	"time"
)

// Buddy connection states. There is no terminal "rejected" state: rejecting,
// cancelling, or removing a connection deletes the row.
const (
	ConnectionPending  = "pending"
	ConnectionAccepted = "accepted"
)

// Table states.
const (
	TableActive = "active"
	TableClosed = "closed"
)

// User is the locally mirrored profile of an identity issued by the external
// identity provider. The service only reads these rows; they are written by the
// identity sync step when a verified identity is seen.
//
// Fields:
//   - ID: opaque, stable identifier issued by the identity provider.
//   - Username: unique and immutable handle used to address buddy requests.
//   - DisplayName: free-form name shown to other users.
type User struct {
	ID          string    `json:"id"           gorm:"type:varchar(64);primaryKey"`
	Username    string    `json:"username"     gorm:"type:varchar(64);not null;uniqueIndex:ux_users_username"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(255);not null;default:''"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// BuddyConnection is a friend relationship between two users. It is
// directional while pending (sender asked, recipient decides) and symmetric
// once accepted.
//
// PairKey is the canonical, order-independent key of the two user ids. Its
// unique index guarantees at most one connection per unordered pair no matter
// which side initiated it.
type BuddyConnection struct {
	ID          string    `json:"connection_id" gorm:"column:connection_id;type:char(36);primaryKey"`
	SenderID    string    `json:"sender_id"     gorm:"type:varchar(64);not null;index:idx_buddies_sender"`
	RecipientID string    `json:"recipient_id"  gorm:"type:varchar(64);not null;index:idx_buddies_recipient;check:chk_buddies_not_self,recipient_id <> sender_id"`
	PairKey     string    `json:"-"             gorm:"type:varchar(160);not null;uniqueIndex:ux_buddies_pair"`
	Status      string    `json:"status"        gorm:"type:varchar(16);not null;default:'pending';check:chk_buddies_status,status IN ('pending','accepted')"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Sender    User `json:"-" gorm:"foreignKey:SenderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Recipient User `json:"-" gorm:"foreignKey:RecipientID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for BuddyConnection.
func (BuddyConnection) TableName() string { return "buddies" }

// PairKey builds the canonical key for the unordered pair {a, b}. The lower
// id is length-prefixed, so ids containing the separator cannot collide.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return strconv.Itoa(len(a)) + ":" + a + "|" + b
}

// OtherParty returns the id of the participant that is not userID.
func (c BuddyConnection) OtherParty(userID string) string {
	if c.SenderID == userID {
		return c.RecipientID
	}
	return c.SenderID
}

// Table is one shared bill. TotalAmount is derived (items + tax + tip) and is
// rewritten by the ledger on every item mutation; it is never edited directly.
type Table struct {
	ID          string    `json:"table_id"     gorm:"column:table_id;type:char(36);primaryKey"`
	CreatorID   string    `json:"creator_id"   gorm:"type:varchar(64);not null;index:idx_tables_creator"`
	Name        string    `json:"name"         gorm:"type:varchar(255);not null"`
	TaxAmount   float64   `json:"tax_amount"   gorm:"not null;default:0;check:chk_tables_tax,tax_amount >= 0"`
	TipAmount   float64   `json:"tip_amount"   gorm:"not null;default:0;check:chk_tables_tip,tip_amount >= 0"`
	TotalAmount float64   `json:"total_amount" gorm:"not null;default:0"`
	Status      string    `json:"status"       gorm:"type:varchar(16);not null;default:'active';check:chk_tables_status,status IN ('active','closed')"`
	CreatedAt   time.Time `json:"created_at"   gorm:"index:idx_tables_created"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Table.
func (Table) TableName() string { return "tables" }

// TableItem is a priced line on a table. AssignedTo, when set, references a
// current participant of the same table. Version increments on every write and
// guards concurrent edits (compare-and-set). Position keeps the order in which
// items were entered.
type TableItem struct {
	ID         string    `json:"item_id"     gorm:"column:item_id;type:char(36);primaryKey"`
	TableID    string    `json:"table_id"    gorm:"type:char(36);not null;index:idx_items_table,priority:1"`
	Name       string    `json:"name"        gorm:"type:varchar(255);not null"`
	UnitPrice  float64   `json:"unit_price"  gorm:"not null;check:chk_items_price,unit_price >= 0"`
	Quantity   int       `json:"quantity"    gorm:"not null;check:chk_items_qty,quantity >= 1"`
	AssignedTo *string   `json:"assigned_to" gorm:"type:varchar(64);index"`
	Position   int       `json:"position"    gorm:"not null"`
	Version    int64     `json:"version"     gorm:"not null;default:1"`
	CreatedAt  time.Time `json:"created_at"  gorm:"index:idx_items_table,priority:2"`
	UpdatedAt  time.Time `json:"updated_at"`

	Table Table `json:"-" gorm:"foreignKey:TableID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for TableItem.
func (TableItem) TableName() string { return "table_items" }

// IsAssignedTo reports whether the item is currently assigned to userID.
func (it TableItem) IsAssignedTo(userID string) bool {
	return it.AssignedTo != nil && *it.AssignedTo == userID
}

// TableParticipant is the (table, user) membership pair. The creator is always
// a participant. There is no removal operation.
type TableParticipant struct {
	TableID  string    `json:"table_id"  gorm:"type:char(36);primaryKey"`
	UserID   string    `json:"user_id"   gorm:"type:varchar(64);primaryKey;index:idx_participants_user"`
	JoinedAt time.Time `json:"joined_at"`

	Table Table `json:"-" gorm:"foreignKey:TableID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for TableParticipant.
func (TableParticipant) TableName() string { return "table_participants" }
