package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Dev-mode identity headers, honored only when IdentityOptions.TrustHeaders
// is set.
const (
	HeaderUserID      = "X-User-ID"
	HeaderUsername    = "X-Username"
	HeaderDisplayName = "X-Display-Name"
)

const (
	userIDKey   = "userID"
	identityKey = "identity"
)

// ErrInvalidToken is returned by ParseToken for any unusable bearer token.
var ErrInvalidToken = errors.New("invalid or expired token")

// ErrIdentityConflict is returned by an IdentitySync when the identity clashes
// with a different local user, such as a username another id already holds.
var ErrIdentityConflict = errors.New("identity conflicts with an existing user")

// Identity is the verified caller.
type Identity struct {
	ID          string
	Username    string
	DisplayName string
}

// Claims are the token claims issued by the identity provider: the subject is
// the user id.
type Claims struct {
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// IdentitySync mirrors a verified identity into local storage. It runs once
// per authenticated request before the handler.
type IdentitySync func(ctx context.Context, id Identity) error

// IdentityOptions configures RequireIdentity.
type IdentityOptions struct {
	// Secret is the HS256 signing key. Required unless TrustHeaders is set.
	Secret string
	// Issuer, when non-empty, must match the iss claim.
	Issuer string
	// TrustHeaders accepts X-User-ID / X-Username / X-Display-Name without
	// verification. Development only; ignored when Secret is set.
	TrustHeaders bool
	// Leeway tolerates clock skew on exp/nbf. Defaults to 30s.
	Leeway time.Duration
	// Sync is optional.
	Sync IdentitySync
}

// RequireIdentity authenticates the caller and stores the user id under "userID".
// Failures abort with 401 {code: "unauthorized"}. A Sync error wrapping
// ErrIdentityConflict aborts with 409 {code: "conflict"}; any other Sync error
// aborts with 500.
func RequireIdentity(opts IdentityOptions) gin.HandlerFunc {
	if opts.Leeway <= 0 {
		opts.Leeway = 30 * time.Second
	}
	return func(c *gin.Context) {
		var (
			id  Identity
			err error
		)
		switch {
		case opts.Secret != "":
			id, err = fromBearer(c.GetHeader("Authorization"), opts)
		case opts.TrustHeaders:
			id, err = fromHeaders(c)
		default:
			err = errors.New("no identity verifier configured")
		}
		if err != nil {
			LoggerFrom(c).Debug().Err(err).Msg("identity rejected")
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}

		if opts.Sync != nil {
			if err := opts.Sync(c.Request.Context(), id); err != nil {
				if errors.Is(err, ErrIdentityConflict) {
					LoggerFrom(c).Warn().Err(err).Str("user_id", id.ID).Str("username", id.Username).Msg("identity conflict")
					abortJSON(c, http.StatusConflict, "conflict", "username already belongs to another user")
					return
				}
				LoggerFrom(c).Error().Err(err).Str("user_id", id.ID).Msg("identity sync failed")
				abortJSON(c, http.StatusInternalServerError, "internal_error", "internal server error")
				return
			}
		}

		c.Set(userIDKey, id.ID)
		c.Set(identityKey, id)
		c.Next()
	}
}

// GetUserID returns the authenticated user id, or "" outside RequireIdentity.
func GetUserID(c *gin.Context) string {
	v, _ := c.Get(userIDKey)
	return asString(v)
}

// IdentityFrom returns the authenticated identity.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// ParseToken verifies an HS256 token and extracts the identity. The token
// must carry sub, preferred_username and exp.
func ParseToken(token, secret, issuer string, leeway time.Duration) (Identity, error) {
	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	}
	if issuer != "" {
		popts = append(popts, jwt.WithIssuer(issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, popts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	id := Identity{
		ID:          strings.TrimSpace(claims.Subject),
		Username:    strings.TrimSpace(claims.PreferredUsername),
		DisplayName: claims.Name,
	}
	if id.ID == "" || id.Username == "" {
		return Identity{}, fmt.Errorf("%w: missing sub or preferred_username", ErrInvalidToken)
	}
	return id, nil
}

func fromBearer(header string, opts IdentityOptions) (Identity, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return Identity{}, errors.New("missing bearer token")
	}
	return ParseToken(strings.TrimSpace(token), opts.Secret, opts.Issuer, opts.Leeway)
}

func fromHeaders(c *gin.Context) (Identity, error) {
	id := Identity{
		ID:          strings.TrimSpace(c.GetHeader(HeaderUserID)),
		Username:    strings.TrimSpace(c.GetHeader(HeaderUsername)),
		DisplayName: c.GetHeader(HeaderDisplayName),
	}
	if id.ID == "" || id.Username == "" {
		return Identity{}, errors.New("missing identity headers")
	}
	return id, nil
}
