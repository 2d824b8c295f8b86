package pbb_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pbb-engine/pbb"
	"github.com/warp/pbb-engine/pbb/store"
)

// seed writes rows straight into a memory store, bypassing the engine.
type seed struct {
	t   *testing.T
	ctx context.Context
	s   *store.Memory
}

func newSeed(t *testing.T) *seed {
	return &seed{t: t, ctx: context.Background(), s: store.NewMemory()}
}

func (sd *seed) village(code string) pbb.Village {
	sd.t.Helper()
	v, err := sd.s.InsertVillage(sd.ctx, pbb.Village{Name: "Village " + code, Code: code})
	require.NoError(sd.t, err)
	return v
}

func (sd *seed) hamlet(villageID pbb.VillageID, name string) pbb.Hamlet {
	sd.t.Helper()
	h, err := sd.s.InsertHamlet(sd.ctx, pbb.Hamlet{
		VillageID: villageID, Name: name, HeadName: "Head", SPPTTarget: 1, PBBTarget: dec("100"),
	})
	require.NoError(sd.t, err)
	return h
}

func (sd *seed) user(username string) pbb.User {
	sd.t.Helper()
	u, err := sd.s.InsertUser(sd.ctx, pbb.User{
		Username: username, PasswordHash: "x", FullName: username, Role: pbb.RoleSuperAdmin, IsActive: true,
	})
	require.NoError(sd.t, err)
	return u
}

func TestValidatePaymentReferences(t *testing.T) {
	sd := newSeed(t)
	a := sd.village("A")
	b := sd.village("B")
	ha := sd.hamlet(a.ID, "HA")
	hb := sd.hamlet(b.ID, "HB")
	u := sd.user("admin")
	v := pbb.NewValidator(sd.s)

	tests := []struct {
		name      string
		village   pbb.VillageID
		hamlet    pbb.HamletID
		user      pbb.UserID
		wantErr   error
		wantOwner string
	}{
		{"all present", a.ID, ha.ID, u.ID, nil, ""},
		{"missing village wins", 99, 99, 99, pbb.ErrNotFound, "village"},
		{"missing user before hamlet", a.ID, 99, 99, pbb.ErrNotFound, "user"},
		{"missing hamlet", a.ID, 99, u.ID, pbb.ErrNotFound, "hamlet"},
		{"hamlet of another village", a.ID, hb.ID, u.ID, pbb.ErrMismatch, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidatePaymentReferences(sd.ctx, tt.village, tt.hamlet, tt.user)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantOwner != "" {
				var nf *pbb.NotFoundError
				require.ErrorAs(t, err, &nf)
				assert.Equal(t, tt.wantOwner, nf.Entity)
			}
		})
	}
}

func TestValidateHamletCreate(t *testing.T) {
	sd := newSeed(t)
	village := sd.village("A")
	v := pbb.NewValidator(sd.s)

	for i := 0; i < pbb.MaxHamletsPerVillage; i++ {
		require.NoError(t, v.ValidateHamletCreate(sd.ctx, village.ID))
		sd.hamlet(village.ID, fmt.Sprintf("H%d", i))
	}

	assert.ErrorIs(t, v.ValidateHamletCreate(sd.ctx, village.ID), pbb.ErrCapacityExceeded)
	assert.ErrorIs(t, v.ValidateHamletCreate(sd.ctx, 99), pbb.ErrNotFound)
}

func TestValidateHamletReassignment(t *testing.T) {
	sd := newSeed(t)
	a := sd.village("A")
	b := sd.village("B")
	h := sd.hamlet(a.ID, "H")
	v := pbb.NewValidator(sd.s)

	assert.NoError(t, v.ValidateHamletReassignment(sd.ctx, h, a.ID), "staying put is always allowed")
	assert.NoError(t, v.ValidateHamletReassignment(sd.ctx, h, b.ID))
	assert.ErrorIs(t, v.ValidateHamletReassignment(sd.ctx, h, 99), pbb.ErrNotFound)

	u := sd.user("admin")
	_, err := sd.s.InsertPayment(sd.ctx, pbb.Payment{
		PaymentDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), VillageID: a.ID, HamletID: h.ID,
		Amount: dec("1"), SPPTPaidCount: 1, Type: pbb.PaymentCash, CreatedBy: u.ID,
	})
	require.NoError(t, err)

	err = v.ValidateHamletReassignment(sd.ctx, h, b.ID)
	assert.ErrorIs(t, err, pbb.ErrConflict)
}

func TestValidateUserVillage(t *testing.T) {
	sd := newSeed(t)
	a := sd.village("A")
	v := pbb.NewValidator(sd.s)
	missing := pbb.VillageID(99)

	assert.NoError(t, v.ValidateUserVillage(sd.ctx, pbb.RoleSuperAdmin, nil))
	assert.NoError(t, v.ValidateUserVillage(sd.ctx, pbb.RoleVillageUser, &a.ID))
	assert.ErrorIs(t, v.ValidateUserVillage(sd.ctx, pbb.RoleSuperAdmin, &a.ID), pbb.ErrInvalid)
	assert.ErrorIs(t, v.ValidateUserVillage(sd.ctx, pbb.RoleVillageUser, nil), pbb.ErrInvalid)
	assert.ErrorIs(t, v.ValidateUserVillage(sd.ctx, pbb.RoleVillageUser, &missing), pbb.ErrNotFound)
	assert.ErrorIs(t, v.ValidateUserVillage(sd.ctx, pbb.Role("auditor"), nil), pbb.ErrInvalid)
}

func TestValidateUniqueness(t *testing.T) {
	sd := newSeed(t)
	sd.village("ALP")
	u := sd.user("budi")
	v := pbb.NewValidator(sd.s)

	assert.ErrorIs(t, v.ValidateVillageCodeUnique(sd.ctx, "ALP"), pbb.ErrConflict)
	assert.NoError(t, v.ValidateVillageCodeUnique(sd.ctx, "alp"), "codes are case-sensitive")

	assert.ErrorIs(t, v.ValidateUsernameUnique(sd.ctx, "budi", nil), pbb.ErrConflict)
	assert.NoError(t, v.ValidateUsernameUnique(sd.ctx, "budi", &u.ID), "renaming to one's own name")
}
