package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/splitbuddy/internal/domain"
)

func TestCreateConnection_DuplicatePairEitherDirection(t *testing.T) {
	db := newFullRepoDB(t)
	ctx := context.Background()
	seedUsers(t, db, "alice", "bob")

	c, err := CreateConnection(ctx, db, "id-alice", "id-bob")
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	if c.ID == "" || c.Status != domain.ConnectionPending || c.PairKey != "8:id-alice|id-bob" {
		t.Fatalf("unexpected connection: %+v", c)
	}

	if _, err := CreateConnection(ctx, db, "id-bob", "id-alice"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("reverse insert err = %v; want ErrDuplicate", err)
	}

	got, err := FindConnectionBetween(ctx, db, "id-bob", "id-alice")
	if err != nil || got.ID != c.ID {
		t.Fatalf("FindConnectionBetween = %+v, %v", got, err)
	}
	if _, err := FindConnectionBetween(ctx, db, "id-alice", "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing pair err = %v; want ErrNotFound", err)
	}
}

func TestTransitionConnection_GuardedByRoleAndStatus(t *testing.T) {
	db := newFullRepoDB(t)
	ctx := context.Background()
	seedUsers(t, db, "alice", "bob")
	c, _ := CreateConnection(ctx, db, "id-alice", "id-bob")

	// Sender cannot accept.
	err := TransitionConnection(ctx, db, c.ID, "id-alice", PartyRecipient, domain.ConnectionPending, domain.ConnectionAccepted)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("sender accept err = %v; want ErrNotFound", err)
	}
	if err := TransitionConnection(ctx, db, c.ID, "id-bob", PartyRecipient, domain.ConnectionPending, domain.ConnectionAccepted); err != nil {
		t.Fatalf("recipient accept: %v", err)
	}
	// Second accept matches nothing.
	err = TransitionConnection(ctx, db, c.ID, "id-bob", PartyRecipient, domain.ConnectionPending, domain.ConnectionAccepted)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("double accept err = %v; want ErrNotFound", err)
	}

	got, _ := GetConnection(ctx, db, c.ID)
	if got.Status != domain.ConnectionAccepted {
		t.Fatalf("status = %q; want accepted", got.Status)
	}
}

func TestDeleteConnection_AndListings(t *testing.T) {
	db := newFullRepoDB(t)
	ctx := context.Background()
	seedUsers(t, db, "alice", "bob", "carol")

	ab, _ := CreateConnection(ctx, db, "id-alice", "id-bob")
	ca, _ := CreateConnection(ctx, db, "id-carol", "id-alice")

	out, err := ListConnections(ctx, db, "id-alice", PartySender, domain.ConnectionPending)
	if err != nil || len(out) != 1 || out[0].ID != ab.ID || out[0].Recipient.Username != "bob" {
		t.Fatalf("outgoing = %+v, %v", out, err)
	}
	in, err := ListConnections(ctx, db, "id-alice", PartyRecipient, domain.ConnectionPending)
	if err != nil || len(in) != 1 || in[0].ID != ca.ID || in[0].Sender.Username != "carol" {
		t.Fatalf("incoming = %+v, %v", in, err)
	}

	// Removing a pending connection as "accepted" matches nothing.
	if err := DeleteConnection(ctx, db, ab.ID, "id-alice", PartyEither, domain.ConnectionAccepted); !errors.Is(err, ErrNotFound) {
		t.Fatalf("remove pending err = %v; want ErrNotFound", err)
	}
	// Sender cancels.
	if err := DeleteConnection(ctx, db, ab.ID, "id-alice", PartySender, domain.ConnectionPending); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := GetConnection(ctx, db, ab.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancelled row still present: %v", err)
	}

	// Accept carol's request, then either party can remove.
	if err := TransitionConnection(ctx, db, ca.ID, "id-alice", PartyRecipient, domain.ConnectionPending, domain.ConnectionAccepted); err != nil {
		t.Fatalf("accept: %v", err)
	}
	acc, err := ListConnections(ctx, db, "id-carol", PartyEither, domain.ConnectionAccepted)
	if err != nil || len(acc) != 1 {
		t.Fatalf("accepted = %+v, %v", acc, err)
	}
	set, err := AcceptedBuddiesAmong(ctx, db, "id-alice", []string{"id-carol", "id-bob"})
	if err != nil || !set["id-carol"] || set["id-bob"] {
		t.Fatalf("AcceptedBuddiesAmong = %v, %v", set, err)
	}
	if err := DeleteConnection(ctx, db, ca.ID, "id-bob", PartyEither, domain.ConnectionAccepted); !errors.Is(err, ErrNotFound) {
		t.Fatalf("outsider remove err = %v; want ErrNotFound", err)
	}
	if err := DeleteConnection(ctx, db, ca.ID, "id-carol", PartyEither, domain.ConnectionAccepted); err != nil {
		t.Fatalf("remove: %v", err)
	}
}

func TestUpsertUser_KeepsUsername(t *testing.T) {
	db := newFullRepoDB(t)
	ctx := context.Background()

	if err := UpsertUser(ctx, db, &domain.User{ID: "u1", Username: "alice", DisplayName: "Alice"}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if err := UpsertUser(ctx, db, &domain.User{ID: "u1", Username: "renamed", DisplayName: "Alice L."}); err != nil {
		t.Fatalf("UpsertUser again: %v", err)
	}
	u, err := GetUser(ctx, db, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Username != "alice" || u.DisplayName != "Alice L." {
		t.Fatalf("user = %+v; want username kept and display name refreshed", u)
	}
	if _, err := GetUserByUsername(ctx, db, "renamed"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("lookup by new username err = %v; want ErrNotFound", err)
	}
	if err := UpsertUser(ctx, db, &domain.User{ID: "u2", Username: "alice"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second id claiming alice err = %v; want ErrDuplicate", err)
	}
	list, err := ListUsersByID(ctx, db, []string{"u1", "ghost"})
	if err != nil || len(list) != 1 {
		t.Fatalf("ListUsersByID = %+v, %v", list, err)
	}
}
