/*
Package auth authenticates users and turns access tokens into pbb.Caller
values.

PURPOSE:
  The engine never sees credentials. This package owns password hashing
  (bcrypt), HS256 access tokens (jwt/v5) and the Login operation, and
  hands the transport a Caller built from the freshly loaded user row.

TOKEN FLOW:
  Login(username, password)  -> Token (signed claims: uid, role, village)
  Authenticate(token)        -> verify signature/expiry, reload the user,
                                reject inactive users, return Caller

  The user row is reloaded on every request, so role changes and
  deactivation take effect without waiting for the token to expire.
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/warp/pbb-engine/logging"
	"github.com/warp/pbb-engine/pbb"
)

var (
	// ErrInvalidCredentials is returned by Login for an unknown username or
	// a wrong password. The two cases are not distinguished.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrUnauthenticated is returned when a token is missing, malformed,
	// expired, or names a user that no longer exists or is inactive.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// =============================================================================
// PASSWORD HASHING
// =============================================================================

// Hasher implements pbb.PasswordHasher with bcrypt.
type Hasher struct {
	Cost int
}

func NewHasher(cost int) Hasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return Hasher{Cost: cost}
}

func (h Hasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare reports whether password matches the stored hash.
func (h Hasher) Compare(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// =============================================================================
// SERVICE
// =============================================================================

// UserStore is the subset of pbb.Store the service reads.
type UserStore interface {
	GetUser(ctx context.Context, id pbb.UserID) (*pbb.User, error)
	GetUserByUsername(ctx context.Context, username string) (*pbb.User, error)
}

// Service logs users in and authenticates their tokens.
type Service struct {
	users  UserStore
	hasher Hasher
	tokens *Tokens
	log    *logging.Logger
}

func NewService(users UserStore, hasher Hasher, tokens *Tokens, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		log:    logger.WithComponent(logging.ComponentAuth),
	}
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      pbb.User
}

// Login checks the credentials and issues an access token. Inactive users
// get a Forbidden failure even with the right password.
func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	u, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return LoginResult{}, fmt.Errorf("load user: %w", err)
	}
	if u == nil || !s.hasher.Compare(u.PasswordHash, password) {
		s.log.InfoContext(ctx, "login rejected", "username", username)
		return LoginResult{}, ErrInvalidCredentials
	}
	if !u.IsActive {
		return LoginResult{}, fmt.Errorf("%w: user %d is inactive", pbb.ErrForbidden, u.ID)
	}

	token, expiresAt, err := s.tokens.Issue(*u)
	if err != nil {
		return LoginResult{}, err
	}

	s.log.InfoContext(ctx, "login", logging.FieldUserID, u.ID)
	return LoginResult{Token: token, ExpiresAt: expiresAt, User: *u}, nil
}

// Authenticate verifies token and returns the caller for the current state
// of its user.
func (s *Service) Authenticate(ctx context.Context, token string) (pbb.Caller, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return pbb.Caller{}, err
	}

	u, err := s.users.GetUser(ctx, pbb.UserID(claims.UserID))
	if err != nil {
		return pbb.Caller{}, fmt.Errorf("load user: %w", err)
	}
	if u == nil || !u.IsActive {
		return pbb.Caller{}, fmt.Errorf("%w: user %d is unknown or inactive", ErrUnauthenticated, claims.UserID)
	}
	return pbb.CallerFor(*u), nil
}
