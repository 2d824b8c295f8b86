package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/pbb-engine/pbb"
	"github.com/warp/pbb-engine/pbb/store"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixture struct {
	ctx     context.Context
	store   *store.Memory
	engine  *pbb.Engine
	service *Service
	tokens  *Tokens
	admin   pbb.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	hasher := NewHasher(bcrypt.MinCost)
	engine := pbb.NewEngine(s, hasher, nil)
	tokens := NewTokens(testSecret, time.Hour)

	admin, err := engine.CreateUser(ctx, pbb.Caller{Role: pbb.RoleSuperAdmin}, pbb.NewUser{
		Username: "admin", Password: "rahasia123", FullName: "Admin", Role: pbb.RoleSuperAdmin,
	})
	require.NoError(t, err)

	return &fixture{
		ctx:     ctx,
		store:   s,
		engine:  engine,
		service: NewService(s, hasher, tokens, nil),
		tokens:  tokens,
		admin:   admin,
	}
}

// =============================================================================
// HASHER
// =============================================================================

func TestHasher(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	hash, err := h.Hash("rahasia123")
	require.NoError(t, err)
	assert.NotEqual(t, "rahasia123", hash)
	assert.True(t, h.Compare(hash, "rahasia123"))
	assert.False(t, h.Compare(hash, "wrong"))
	assert.False(t, h.Compare("not-a-hash", "rahasia123"))
}

func TestNewHasher_FallsBackToDefaultCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewHasher(0).Cost)
	assert.Equal(t, 12, NewHasher(12).Cost)
}

// =============================================================================
// TOKENS
// =============================================================================

func TestTokens_IssueAndParse(t *testing.T) {
	tokens := NewTokens(testSecret, time.Hour)
	village := pbb.VillageID(7)
	u := pbb.User{ID: 3, Role: pbb.RoleVillageUser, VillageID: &village}

	signed, expiresAt, err := tokens.Issue(u)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := tokens.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, int64(3), claims.UserID)
	assert.Equal(t, "village_user", claims.Role)
	require.NotNil(t, claims.VillageID)
	assert.Equal(t, int64(7), *claims.VillageID)
	assert.Equal(t, "3", claims.Subject)
	assert.NotEmpty(t, claims.ID)
}

func TestTokens_Rejects(t *testing.T) {
	tokens := NewTokens(testSecret, time.Hour)
	u := pbb.User{ID: 1, Role: pbb.RoleSuperAdmin}

	t.Run("empty", func(t *testing.T) {
		_, err := tokens.Parse("")
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := tokens.Parse("not.a.token")
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokens([]byte("another-secret-another-secret-xx"), time.Hour)
		signed, _, err := other.Issue(u)
		require.NoError(t, err)

		_, err = tokens.Parse(signed)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("expired", func(t *testing.T) {
		signed, _, err := tokens.Issue(u)
		require.NoError(t, err)

		later := NewTokens(testSecret, time.Hour)
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err = later.Parse(signed)
		assert.ErrorIs(t, err, ErrUnauthenticated)
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		claims := Claims{
			UserID: 1,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testSecret)
		require.NoError(t, err)

		_, err = tokens.Parse(signed)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := Claims{
			UserID: 1,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "someone-else",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
		require.NoError(t, err)

		_, err = tokens.Parse(signed)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
}

// =============================================================================
// SERVICE
// =============================================================================

func TestLogin(t *testing.T) {
	f := newFixture(t)

	t.Run("success", func(t *testing.T) {
		res, err := f.service.Login(f.ctx, "admin", "rahasia123")
		require.NoError(t, err)
		assert.NotEmpty(t, res.Token)
		assert.Equal(t, f.admin.ID, res.User.ID)

		caller, err := f.service.Authenticate(f.ctx, res.Token)
		require.NoError(t, err)
		assert.Equal(t, pbb.CallerFor(f.admin), caller)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := f.service.Login(f.ctx, "admin", "salah")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := f.service.Login(f.ctx, "ghost", "rahasia123")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestLogin_InactiveUser(t *testing.T) {
	f := newFixture(t)
	caller := pbb.CallerFor(f.admin)
	village, err := f.engine.CreateVillage(f.ctx, caller, pbb.NewVillage{Name: "Alpha", Code: "ALP"})
	require.NoError(t, err)
	op, err := f.engine.CreateUser(f.ctx, caller, pbb.NewUser{
		Username: "operator", Password: "rahasia123", FullName: "Op", Role: pbb.RoleVillageUser, VillageID: &village.ID,
	})
	require.NoError(t, err)

	res, err := f.service.Login(f.ctx, "operator", "rahasia123")
	require.NoError(t, err)

	// WHEN: The user is deactivated after logging in
	require.NoError(t, f.engine.DeleteUser(f.ctx, caller, op.ID))

	// THEN: The old token stops working and a new login is refused
	_, err = f.service.Authenticate(f.ctx, res.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = f.service.Login(f.ctx, "operator", "rahasia123")
	assert.ErrorIs(t, err, pbb.ErrForbidden)
}

func TestAuthenticate_ReflectsCurrentRole(t *testing.T) {
	f := newFixture(t)
	caller := pbb.CallerFor(f.admin)
	village, err := f.engine.CreateVillage(f.ctx, caller, pbb.NewVillage{Name: "Alpha", Code: "ALP"})
	require.NoError(t, err)

	res, err := f.service.Login(f.ctx, "admin", "rahasia123")
	require.NoError(t, err)

	role := pbb.RoleVillageUser
	_, err = f.engine.UpdateUser(f.ctx, caller, pbb.UserUpdate{ID: f.admin.ID, Role: &role, VillageID: &village.ID})
	require.NoError(t, err)

	got, err := f.service.Authenticate(f.ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, pbb.RoleVillageUser, got.Role)
	require.NotNil(t, got.HomeVillageID)
	assert.Equal(t, village.ID, *got.HomeVillageID)
}
