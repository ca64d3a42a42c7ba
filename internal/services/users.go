package services

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/splitbuddy/internal/domain"
	"github.com/tbourn/splitbuddy/internal/repo"
)

// UserDirectory resolves usernames to users. Implementations return
// repo.ErrNotFound when nobody holds the username. The cache package provides
// a Redis-backed implementation.
type UserDirectory interface {
	ByUsername(ctx context.Context, username string) (*domain.User, error)
}

// dbDirectory reads straight from the users table.
type dbDirectory struct{ db *gorm.DB }

func (d dbDirectory) ByUsername(ctx context.Context, username string) (*domain.User, error) {
	return repo.GetUserByUsername(ctx, d.db, username)
}

// UserView is the public projection of a user.
type UserView struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

func viewOf(u domain.User) UserView {
	return UserView{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName}
}

// UserService mirrors verified identities into the users table.
type UserService struct {
	DB *gorm.DB
}

// Sync upserts the profile of an authenticated identity. The username of an
// existing user never changes; a new id claiming a held username gets
// ErrUsernameTaken.
func (s *UserService) Sync(ctx context.Context, id, username, displayName string) (*domain.User, error) {
	id = strings.TrimSpace(id)
	username = strings.TrimSpace(username)
	if id == "" || username == "" {
		return nil, invalid("identity must carry an id and a username")
	}
	u := &domain.User{ID: id, Username: username, DisplayName: normalizeName(displayName)}
	if err := repo.UpsertUser(ctx, s.DB, u); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return repo.GetUser(ctx, s.DB, id)
}

// Get returns the stored profile for id.
func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	u, err := repo.GetUser(ctx, s.DB, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// normalizeName applies NFC, trims, and collapses runs of whitespace.
func normalizeName(s string) string {
	s = norm.NFC.String(s)
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
