// Package services – TableService
//
// This file implements the shared-table ledger: creating a table with its
// items and roster, assigning items to participants, editing and deleting
// items, and reading a table back with its live split.
//
// Item writes are compare-and-set on the item's version. The derived
// total_amount is rewritten in the same transaction as every item mutation.
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/splitbuddy/internal/calculator"
	"github.com/tbourn/splitbuddy/internal/domain"
	"github.com/tbourn/splitbuddy/internal/observability"
	"github.com/tbourn/splitbuddy/internal/repo"
)

// IdempotencyScopeTables scopes idempotency keys used for table creation.
const IdempotencyScopeTables = "tables"

// NewItem is one line of a table being created.
type NewItem struct {
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
}

// CreateTableInput carries everything needed to open a table.
//
// PreAssignedItemIndices are positions in Items that start assigned to the
// creator. IdempotencyKey, when set, makes a retried create return the table
// created by the first attempt.
type CreateTableInput struct {
	Name                   string
	Items                  []NewItem
	ParticipantIDs         []string
	TaxAmount              float64
	TipAmount              float64
	PreAssignedItemIndices []int
	IdempotencyKey         string
}

// ItemPatch is a partial item update. Nil fields are left untouched.
type ItemPatch struct {
	Name            *string
	UnitPrice       *float64
	Quantity        *int
	ExpectedVersion *int64
}

// ParticipantView is a roster entry with the member's profile.
type ParticipantView struct {
	UserView
	JoinedAt time.Time `json:"joined_at"`
}

// TableDetail is a table with its items and roster.
type TableDetail struct {
	Table        domain.Table       `json:"table"`
	Items        []domain.TableItem `json:"items"`
	Participants []ParticipantView  `json:"participants"`
}

// TableService owns the table/item/participant lifecycle.
type TableService struct {
	DB *gorm.DB
	// IdempotencyTTL bounds how long a create key replays. Zero means 24h.
	IdempotencyTTL time.Duration
	// MaxItems caps the number of items per table. Zero means no cap.
	MaxItems int
}

// NewTableService constructs a TableService with defaults.
func NewTableService(db *gorm.DB) *TableService {
	return &TableService{DB: db, IdempotencyTTL: 24 * time.Hour, MaxItems: 500}
}

func (s *TableService) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("services/TableService").Start(ctx, name, trace.WithAttributes(attrs...))
}

// errIdempotencyRace reports that another request claimed the same key while
// this one was writing.
var errIdempotencyRace = errors.New("idempotency key claimed concurrently")

// CreateTable validates the input and persists the table, its items, and its
// roster in one transaction. The roster is the creator plus ParticipantIDs,
// deduplicated; every member other than the creator must be an accepted buddy.
// A known idempotency key replays the earlier table before any validation, so
// a retry still succeeds after the roster's buddy links have changed. The
// boolean result is true when that replay happened.
func (s *TableService) CreateTable(ctx context.Context, creatorID string, in CreateTableInput) (detail *TableDetail, replayed bool, err error) {
	ctx, span := s.span(ctx, "CreateTable", attribute.String("user.id", creatorID), attribute.Int("items", len(in.Items)))
	defer span.End()
	defer func() { observability.LedgerWrite("create_table", resultLabel(err)) }()

	if in.IdempotencyKey != "" {
		if d, ok, err := s.replay(ctx, creatorID, in.IdempotencyKey); err != nil || ok {
			return d, ok, err
		}
	}

	name, items, roster, err := s.validateCreate(creatorID, in)
	if err != nil {
		return nil, false, err
	}

	others := make([]string, 0, len(roster))
	for _, id := range roster {
		if id != creatorID {
			others = append(others, id)
		}
	}
	buddies, err := repo.AcceptedBuddiesAmong(ctx, s.DB, creatorID, others)
	if err != nil {
		return nil, false, err
	}
	for _, id := range others {
		if !buddies[id] {
			return nil, false, invalid("participant %s is not an accepted buddy", id)
		}
	}

	now := time.Now().UTC()
	tbl := &domain.Table{
		ID:        uuid.NewString(),
		CreatorID: creatorID,
		Name:      name,
		TaxAmount: calculator.RoundCents(in.TaxAmount),
		TipAmount: calculator.RoundCents(in.TipAmount),
		Status:    domain.TableActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	rows := make([]domain.TableItem, len(items))
	calcItems := make([]calculator.Item, len(items))
	for i, it := range items {
		rows[i] = domain.TableItem{
			ID:         uuid.NewString(),
			TableID:    tbl.ID,
			Name:       it.name,
			UnitPrice:  it.price,
			Quantity:   it.qty,
			AssignedTo: it.assigned,
			Position:   i,
			Version:    1,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		calcItems[i] = calculator.Item{UnitPrice: it.price, Quantity: it.qty}
	}
	tbl.TotalAmount = calculator.TableTotal(calcItems, tbl.TaxAmount, tbl.TipAmount)

	members := make([]domain.TableParticipant, len(roster))
	for i, id := range roster {
		members[i] = domain.TableParticipant{TableID: tbl.ID, UserID: id, JoinedAt: now}
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.InsertTable(ctx, tx, tbl); err != nil {
			return err
		}
		if err := repo.InsertItems(ctx, tx, rows); err != nil {
			return err
		}
		if err := repo.InsertParticipants(ctx, tx, members); err != nil {
			return err
		}
		if in.IdempotencyKey != "" {
			_, err := repo.CreateIdempotency(ctx, tx, creatorID, IdempotencyScopeTables, in.IdempotencyKey, tbl.ID, http.StatusCreated, s.ttl())
			if errors.Is(err, repo.ErrDuplicate) {
				return errIdempotencyRace
			}
			return err
		}
		return nil
	})
	if errors.Is(err, errIdempotencyRace) {
		d, ok, rerr := s.replay(ctx, creatorID, in.IdempotencyKey)
		if rerr != nil {
			return nil, false, rerr
		}
		if ok {
			return d, true, nil
		}
		return nil, false, ErrConflict
	}
	if err != nil {
		return nil, false, err
	}

	log.Debug().Str("table_id", tbl.ID).Str("creator_id", creatorID).Int("items", len(rows)).Int("participants", len(members)).Msg("table created")
	d, err := s.load(ctx, s.DB, tbl.ID)
	return d, false, err
}

func (s *TableService) ttl() time.Duration {
	if s.IdempotencyTTL <= 0 {
		return 24 * time.Hour
	}
	return s.IdempotencyTTL
}

// replay returns the table created earlier under key, if any.
func (s *TableService) replay(ctx context.Context, creatorID, key string) (*TableDetail, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, creatorID, IdempotencyScopeTables, key, time.Now().UTC())
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	d, err := s.load(ctx, s.DB, rec.ResourceID)
	if isNotFound(err) {
		// The table was deleted after the key was stored; treat as fresh.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

type cleanItem struct {
	name     string
	price    float64
	qty      int
	assigned *string
}

func (s *TableService) validateCreate(creatorID string, in CreateTableInput) (string, []cleanItem, []string, error) {
	name := normalizeName(in.Name)
	if name == "" {
		return "", nil, nil, invalid("table name is required")
	}
	if len(in.Items) == 0 {
		return "", nil, nil, invalid("at least one item is required")
	}
	if s.MaxItems > 0 && len(in.Items) > s.MaxItems {
		return "", nil, nil, invalid("too many items (max %d)", s.MaxItems)
	}
	if err := checkAmount("tax_amount", in.TaxAmount); err != nil {
		return "", nil, nil, err
	}
	if err := checkAmount("tip_amount", in.TipAmount); err != nil {
		return "", nil, nil, err
	}

	pre := make(map[int]bool, len(in.PreAssignedItemIndices))
	for _, idx := range in.PreAssignedItemIndices {
		if idx < 0 || idx >= len(in.Items) {
			return "", nil, nil, invalid("pre-assigned item index %d out of range", idx)
		}
		pre[idx] = true
	}

	items := make([]cleanItem, len(in.Items))
	for i, it := range in.Items {
		n := normalizeName(it.Name)
		if n == "" {
			return "", nil, nil, invalid("item %d: name is required", i)
		}
		if math.IsNaN(it.UnitPrice) || math.IsInf(it.UnitPrice, 0) || it.UnitPrice <= 0 {
			return "", nil, nil, invalid("item %d: unit_price must be greater than 0", i)
		}
		if it.UnitPrice > calculator.MaxAmount {
			return "", nil, nil, invalid("item %d: unit_price must not exceed %d", i, calculator.MaxAmount)
		}
		qty := it.Quantity
		if qty == 0 {
			qty = 1
		}
		if qty < 1 {
			return "", nil, nil, invalid("item %d: quantity must be at least 1", i)
		}
		price := calculator.RoundCents(it.UnitPrice)
		if price <= 0 {
			return "", nil, nil, invalid("item %d: unit_price rounds to zero", i)
		}
		if msg := lineProblem(price, qty); msg != "" {
			return "", nil, nil, invalid("item %d: %s", i, msg)
		}
		items[i] = cleanItem{name: n, price: price, qty: qty}
		if pre[i] {
			owner := creatorID
			items[i].assigned = &owner
		}
	}

	if len(in.ParticipantIDs) == 0 {
		return "", nil, nil, invalid("at least one participant is required")
	}
	seen := map[string]bool{creatorID: true}
	roster := []string{creatorID}
	for _, id := range in.ParticipantIDs {
		if id == "" {
			return "", nil, nil, invalid("participant id must not be blank")
		}
		if !seen[id] {
			seen[id] = true
			roster = append(roster, id)
		}
	}
	return name, items, roster, nil
}

func checkAmount(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return invalid("%s must be a non-negative number", field)
	}
	if v > calculator.MaxAmount {
		return invalid("%s must not exceed %d", field, calculator.MaxAmount)
	}
	return nil
}

// lineProblem describes why a line falls outside the amount bounds, or
// returns "" when it fits.
func lineProblem(price float64, qty int) string {
	if qty > calculator.MaxQuantity {
		return fmt.Sprintf("quantity must not exceed %d", calculator.MaxQuantity)
	}
	if !calculator.LineInRange(price, qty) {
		return fmt.Sprintf("line total must not exceed %d", calculator.MaxAmount)
	}
	return ""
}

// GetTable returns a table with its items and roster. Only participants may
// read it.
func (s *TableService) GetTable(ctx context.Context, tableID, actingUserID string) (*TableDetail, error) {
	ctx, span := s.span(ctx, "GetTable", attribute.String("table.id", tableID), attribute.String("user.id", actingUserID))
	defer span.End()

	if err := s.requireMember(ctx, s.DB, tableID, actingUserID); err != nil {
		return nil, err
	}
	d, err := s.load(ctx, s.DB, tableID)
	if isNotFound(err) {
		return nil, ErrTableNotFound
	}
	return d, err
}

// Summary returns the live split of a table.
func (s *TableService) Summary(ctx context.Context, tableID, actingUserID string) (*calculator.Shares, error) {
	ctx, span := s.span(ctx, "Summary", attribute.String("table.id", tableID), attribute.String("user.id", actingUserID))
	defer span.End()

	d, err := s.GetTable(ctx, tableID, actingUserID)
	if err != nil {
		return nil, err
	}
	ps := make([]domain.TableParticipant, len(d.Participants))
	for i, p := range d.Participants {
		ps[i] = domain.TableParticipant{TableID: tableID, UserID: p.ID, JoinedAt: p.JoinedAt}
	}
	shares := calculator.ComputeShares(calculator.FromTable(d.Table, d.Items, ps))
	return &shares, nil
}

// ListTables returns a page of the tables userID participates in, newest
// first, and the total count.
func (s *TableService) ListTables(ctx context.Context, userID string, page, pageSize int) ([]domain.Table, int64, error) {
	ctx, span := s.span(ctx, "ListTables",
		attribute.String("user.id", userID),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountTables(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Table{}, 0, nil
	}
	items, err := repo.ListTablesPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// ListStats returns the number of tables userID participates in and the
// latest UpdatedAt among them, for list validators.
func (s *TableService) ListStats(ctx context.Context, userID string) (int64, *time.Time, error) {
	return repo.TablesStats(ctx, s.DB, userID)
}

// CloseTable marks a table closed. Only the creator may close it; a closed
// table rejects further item mutations.
func (s *TableService) CloseTable(ctx context.Context, tableID, actingUserID string) (err error) {
	ctx, span := s.span(ctx, "CloseTable", attribute.String("table.id", tableID), attribute.String("user.id", actingUserID))
	defer span.End()
	defer func() { observability.LedgerWrite("close_table", resultLabel(err)) }()

	err = repo.CloseTable(ctx, s.DB, tableID, actingUserID)
	if !isNotFound(err) {
		return err
	}
	tbl, rerr := repo.GetTable(ctx, s.DB, tableID)
	switch {
	case isNotFound(rerr):
		return ErrTableNotFound
	case rerr != nil:
		return rerr
	case tbl.CreatorID != actingUserID:
		member, merr := repo.IsParticipant(ctx, s.DB, tableID, actingUserID)
		if merr != nil {
			return merr
		}
		if !member {
			return ErrNotParticipant
		}
		return ErrNotCreator
	default:
		return ErrTableClosed
	}
}

// AssignItem sets the item's assignee to the acting user (assign=true) or
// clears it (assign=false). Repeating the call is a no-op success.
func (s *TableService) AssignItem(ctx context.Context, itemID, actingUserID string, assign bool) (item *domain.TableItem, err error) {
	ctx, span := s.span(ctx, "AssignItem",
		attribute.String("item.id", itemID),
		attribute.String("user.id", actingUserID),
		attribute.Bool("assign", assign),
	)
	defer span.End()
	defer func() { observability.LedgerWrite("assign_item", resultLabel(err)) }()

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		it, err := s.mutableItem(ctx, tx, itemID, actingUserID, nil)
		if err != nil {
			return err
		}
		if (assign && it.IsAssignedTo(actingUserID)) || (!assign && it.AssignedTo == nil) {
			item = it
			return nil
		}
		var to any
		if assign {
			to = actingUserID
		}
		if err := s.writeItem(ctx, tx, it, map[string]any{"assigned_to": to}); err != nil {
			return err
		}
		item, err = repo.GetItem(ctx, tx, itemID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// EditItem applies a partial update to an item and re-derives the table total.
func (s *TableService) EditItem(ctx context.Context, itemID, actingUserID string, patch ItemPatch) (item *domain.TableItem, err error) {
	ctx, span := s.span(ctx, "EditItem", attribute.String("item.id", itemID), attribute.String("user.id", actingUserID))
	defer span.End()
	defer func() { observability.LedgerWrite("edit_item", resultLabel(err)) }()

	fields := map[string]any{}
	if patch.Name != nil {
		n := normalizeName(*patch.Name)
		if n == "" {
			return nil, invalid("name must not be empty")
		}
		fields["name"] = n
	}
	if patch.UnitPrice != nil {
		if err := checkAmount("unit_price", *patch.UnitPrice); err != nil {
			return nil, err
		}
		fields["unit_price"] = calculator.RoundCents(*patch.UnitPrice)
	}
	if patch.Quantity != nil {
		if *patch.Quantity < 1 {
			return nil, invalid("quantity must be at least 1")
		}
		if *patch.Quantity > calculator.MaxQuantity {
			return nil, invalid("quantity must not exceed %d", calculator.MaxQuantity)
		}
		fields["quantity"] = *patch.Quantity
	}
	if len(fields) == 0 {
		return nil, invalid("nothing to update")
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		it, err := s.mutableItem(ctx, tx, itemID, actingUserID, patch.ExpectedVersion)
		if err != nil {
			return err
		}
		price, qty := it.UnitPrice, it.Quantity
		if v, ok := fields["unit_price"].(float64); ok {
			price = v
		}
		if patch.Quantity != nil {
			qty = *patch.Quantity
		}
		if msg := lineProblem(price, qty); msg != "" {
			return invalid("%s", msg)
		}
		if err := s.writeItem(ctx, tx, it, fields); err != nil {
			return err
		}
		if err := s.rederiveTotal(ctx, tx, it.TableID); err != nil {
			return err
		}
		item, err = repo.GetItem(ctx, tx, itemID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteItem removes an item and re-derives the table total.
func (s *TableService) DeleteItem(ctx context.Context, itemID, actingUserID string, expectedVersion *int64) (err error) {
	ctx, span := s.span(ctx, "DeleteItem", attribute.String("item.id", itemID), attribute.String("user.id", actingUserID))
	defer span.End()
	defer func() { observability.LedgerWrite("delete_item", resultLabel(err)) }()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		it, err := s.mutableItem(ctx, tx, itemID, actingUserID, expectedVersion)
		if err != nil {
			return err
		}
		if err := repo.DeleteItemIfVersion(ctx, tx, it.ID, it.Version); err != nil {
			if isNotFound(err) {
				return s.explainLostWrite(ctx, tx, it.ID)
			}
			return err
		}
		return s.rederiveTotal(ctx, tx, it.TableID)
	})
}

// mutableItem loads an item and checks that actingUserID may change it now.
func (s *TableService) mutableItem(ctx context.Context, tx *gorm.DB, itemID, actingUserID string, expectedVersion *int64) (*domain.TableItem, error) {
	it, err := repo.GetItem(ctx, tx, itemID)
	if isNotFound(err) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	tbl, err := repo.GetTable(ctx, tx, it.TableID)
	if isNotFound(err) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, tx, tbl.ID, actingUserID); err != nil {
		return nil, err
	}
	if tbl.Status == domain.TableClosed {
		return nil, ErrTableClosed
	}
	if expectedVersion != nil && *expectedVersion != it.Version {
		return nil, ErrVersionMismatch
	}
	return it, nil
}

// writeItem is the version-guarded write for an item read in this call.
func (s *TableService) writeItem(ctx context.Context, tx *gorm.DB, it *domain.TableItem, fields map[string]any) error {
	err := repo.UpdateItemIfVersion(ctx, tx, it.ID, it.Version, fields)
	if isNotFound(err) {
		return s.explainLostWrite(ctx, tx, it.ID)
	}
	return err
}

func (s *TableService) explainLostWrite(ctx context.Context, tx *gorm.DB, itemID string) error {
	_, err := repo.GetItem(ctx, tx, itemID)
	if isNotFound(err) {
		return ErrItemNotFound
	}
	if err != nil {
		return err
	}
	return ErrVersionMismatch
}

// rederiveTotal recomputes total_amount from the current items.
func (s *TableService) rederiveTotal(ctx context.Context, tx *gorm.DB, tableID string) error {
	tbl, err := repo.GetTable(ctx, tx, tableID)
	if err != nil {
		return err
	}
	rows, err := repo.ListItems(ctx, tx, tableID)
	if err != nil {
		return err
	}
	items := make([]calculator.Item, len(rows))
	for i, r := range rows {
		items[i] = calculator.Item{UnitPrice: r.UnitPrice, Quantity: r.Quantity}
	}
	return repo.SetTableTotal(ctx, tx, tableID, calculator.TableTotal(items, tbl.TaxAmount, tbl.TipAmount))
}

func (s *TableService) requireMember(ctx context.Context, db *gorm.DB, tableID, userID string) error {
	ok, err := repo.IsParticipant(ctx, db, tableID, userID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if _, err := repo.GetTable(ctx, db, tableID); isNotFound(err) {
		return ErrTableNotFound
	} else if err != nil {
		return err
	}
	return ErrNotParticipant
}

// load reads a table, its items, and its roster with profiles.
func (s *TableService) load(ctx context.Context, db *gorm.DB, tableID string) (*TableDetail, error) {
	tbl, err := repo.GetTable(ctx, db, tableID)
	if err != nil {
		return nil, err
	}
	items, err := repo.ListItems(ctx, db, tableID)
	if err != nil {
		return nil, err
	}
	members, err := repo.ListParticipants(ctx, db, tableID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	users, err := repo.ListUsersByID(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	ps := make([]ParticipantView, len(members))
	for i, m := range members {
		u, ok := byID[m.UserID]
		if !ok {
			u = domain.User{ID: m.UserID}
		}
		ps[i] = ParticipantView{UserView: viewOf(u), JoinedAt: m.JoinedAt}
	}
	// Creator first, then by join time.
	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].ID == tbl.CreatorID && ps[j].ID != tbl.CreatorID
	})
	return &TableDetail{Table: *tbl, Items: items, Participants: ps}, nil
}
