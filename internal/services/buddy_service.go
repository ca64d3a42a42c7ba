// Package services – BuddyService
//
// This file implements the buddy graph: the friend-request lifecycle between
// two users. Every transition is a single conditional write guarded by status
// and the acting user's role, so a stale retry fails cleanly instead of
// corrupting state. When a guard matches nothing the row is re-read to tell
// the caller why.
//
//	∅ → pending → accepted → ∅ (remove)
//	    pending → ∅ (reject by recipient, cancel by sender)
//
// Observability: public methods open OpenTelemetry spans and record
// splitbuddy_buddy_transitions_total.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/splitbuddy/internal/domain"
	"github.com/tbourn/splitbuddy/internal/observability"
	"github.com/tbourn/splitbuddy/internal/repo"
)

// BuddyView is a connection as seen by one of its parties: User is always the
// other party.
type BuddyView struct {
	ConnectionID string    `json:"connection_id"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	User         UserView  `json:"user"`
}

// BuddyService owns the friend-request state machine.
type BuddyService struct {
	DB    *gorm.DB
	Users UserDirectory
}

// NewBuddyService wires a BuddyService. A nil directory reads usernames from
// the database directly.
func NewBuddyService(db *gorm.DB, users UserDirectory) *BuddyService {
	if users == nil {
		users = dbDirectory{db: db}
	}
	return &BuddyService{DB: db, Users: users}
}

func (s *BuddyService) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("services/BuddyService").Start(ctx, name, trace.WithAttributes(attrs...))
}

// SendRequest creates a pending connection from senderID to the user holding
// recipientUsername.
func (s *BuddyService) SendRequest(ctx context.Context, senderID, recipientUsername string) (c *domain.BuddyConnection, err error) {
	ctx, span := s.span(ctx, "SendRequest", attribute.String("user.id", senderID))
	defer span.End()
	defer func() { observability.BuddyTransition("send", resultLabel(err)) }()

	username := strings.TrimSpace(recipientUsername)
	if username == "" {
		return nil, invalid("username is required")
	}
	recipient, err := s.Users.ByUsername(ctx, username)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if recipient.ID == senderID {
		return nil, ErrSelfRequest
	}

	if _, err := repo.FindConnectionBetween(ctx, s.DB, senderID, recipient.ID); err == nil {
		return nil, ErrDuplicateConnection
	} else if !isNotFound(err) {
		return nil, err
	}

	c, err = repo.CreateConnection(ctx, s.DB, senderID, recipient.ID)
	if errors.Is(err, repo.ErrDuplicate) {
		// Lost a race with a concurrent send for the same pair.
		return nil, ErrDuplicateConnection
	}
	if err != nil {
		return nil, err
	}
	log.Debug().Str("connection_id", c.ID).Str("sender_id", senderID).Str("recipient_id", recipient.ID).Msg("buddy request sent")
	return c, nil
}

// AcceptRequest lets the recipient accept a pending request.
func (s *BuddyService) AcceptRequest(ctx context.Context, connectionID, actingUserID string) (err error) {
	ctx, span := s.span(ctx, "AcceptRequest", attribute.String("connection.id", connectionID), attribute.String("user.id", actingUserID))
	defer span.End()
	defer func() { observability.BuddyTransition("accept", resultLabel(err)) }()

	err = repo.TransitionConnection(ctx, s.DB, connectionID, actingUserID, repo.PartyRecipient, domain.ConnectionPending, domain.ConnectionAccepted)
	if isNotFound(err) {
		return s.explainPending(ctx, connectionID, actingUserID, repo.PartyRecipient)
	}
	return err
}

// RejectRequest lets the recipient decline a pending request. The row is
// deleted, so the sender may ask again later.
func (s *BuddyService) RejectRequest(ctx context.Context, connectionID, actingUserID string) (err error) {
	ctx, span := s.span(ctx, "RejectRequest", attribute.String("connection.id", connectionID), attribute.String("user.id", actingUserID))
	defer span.End()
	defer func() { observability.BuddyTransition("reject", resultLabel(err)) }()

	err = repo.DeleteConnection(ctx, s.DB, connectionID, actingUserID, repo.PartyRecipient, domain.ConnectionPending)
	if isNotFound(err) {
		return s.explainPending(ctx, connectionID, actingUserID, repo.PartyRecipient)
	}
	return err
}

// CancelRequest lets the sender withdraw a pending request.
func (s *BuddyService) CancelRequest(ctx context.Context, connectionID, actingUserID string) (err error) {
	ctx, span := s.span(ctx, "CancelRequest", attribute.String("connection.id", connectionID), attribute.String("user.id", actingUserID))
	defer span.End()
	defer func() { observability.BuddyTransition("cancel", resultLabel(err)) }()

	err = repo.DeleteConnection(ctx, s.DB, connectionID, actingUserID, repo.PartySender, domain.ConnectionPending)
	if isNotFound(err) {
		return s.explainPending(ctx, connectionID, actingUserID, repo.PartySender)
	}
	return err
}

// RemoveConnection lets either party end an accepted connection. Pending
// connections are not removable and report ErrConnectionNotFound.
func (s *BuddyService) RemoveConnection(ctx context.Context, connectionID, actingUserID string) (err error) {
	ctx, span := s.span(ctx, "RemoveConnection", attribute.String("connection.id", connectionID), attribute.String("user.id", actingUserID))
	defer span.End()
	defer func() { observability.BuddyTransition("remove", resultLabel(err)) }()

	err = repo.DeleteConnection(ctx, s.DB, connectionID, actingUserID, repo.PartyEither, domain.ConnectionAccepted)
	if !isNotFound(err) {
		return err
	}

	c, rerr := repo.GetConnection(ctx, s.DB, connectionID)
	switch {
	case isNotFound(rerr):
		return ErrConnectionNotFound
	case rerr != nil:
		return rerr
	case c.SenderID != actingUserID && c.RecipientID != actingUserID:
		return ErrNotConnected
	default:
		return ErrConnectionNotFound
	}
}

// explainPending classifies a failed guard on a pending-only transition.
// Role is checked before status.
func (s *BuddyService) explainPending(ctx context.Context, connectionID, actingUserID string, party repo.Party) error {
	c, err := repo.GetConnection(ctx, s.DB, connectionID)
	if isNotFound(err) {
		return ErrConnectionNotFound
	}
	if err != nil {
		return err
	}
	switch party {
	case repo.PartyRecipient:
		if c.RecipientID != actingUserID {
			if c.SenderID != actingUserID {
				return ErrNotConnected
			}
			return ErrNotRecipient
		}
	case repo.PartySender:
		if c.SenderID != actingUserID {
			if c.RecipientID != actingUserID {
				return ErrNotConnected
			}
			return ErrNotSender
		}
	}
	return ErrNotPending
}

// ListAccepted returns userID's buddies.
func (s *BuddyService) ListAccepted(ctx context.Context, userID string) ([]BuddyView, error) {
	return s.list(ctx, "ListAccepted", userID, repo.PartyEither, domain.ConnectionAccepted)
}

// ListIncoming returns pending requests sent to userID.
func (s *BuddyService) ListIncoming(ctx context.Context, userID string) ([]BuddyView, error) {
	return s.list(ctx, "ListIncoming", userID, repo.PartyRecipient, domain.ConnectionPending)
}

// ListOutgoing returns pending requests userID has sent.
func (s *BuddyService) ListOutgoing(ctx context.Context, userID string) ([]BuddyView, error) {
	return s.list(ctx, "ListOutgoing", userID, repo.PartySender, domain.ConnectionPending)
}

func (s *BuddyService) list(ctx context.Context, name, userID string, party repo.Party, status string) ([]BuddyView, error) {
	ctx, span := s.span(ctx, name, attribute.String("user.id", userID))
	defer span.End()

	rows, err := repo.ListConnections(ctx, s.DB, userID, party, status)
	if err != nil {
		return nil, err
	}
	out := make([]BuddyView, 0, len(rows))
	for _, c := range rows {
		other := c.Sender
		if c.SenderID == userID {
			other = c.Recipient
		}
		out = append(out, BuddyView{
			ConnectionID: c.ID,
			Status:       c.Status,
			CreatedAt:    c.CreatedAt,
			User:         viewOf(other),
		})
	}
	return out, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}
