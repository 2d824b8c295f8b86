package pbb_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pbb-engine/pbb"
	"github.com/warp/pbb-engine/pbb/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

// bootstrap is the identity used to create the first admin.
var bootstrap = pbb.Caller{Role: pbb.RoleSuperAdmin}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *store.Memory
	engine *pbb.Engine
	admin  pbb.Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemory()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  s,
		engine: pbb.NewEngine(s, plainHasher{}, nil),
	}
	u, err := f.engine.CreateUser(f.ctx, bootstrap, pbb.NewUser{
		Username: "admin",
		Password: "secret123",
		FullName: "Admin",
		Role:     pbb.RoleSuperAdmin,
	})
	require.NoError(t, err)
	f.admin = pbb.CallerFor(u)
	return f
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (f *fixture) village(name, code string) pbb.Village {
	f.t.Helper()
	v, err := f.engine.CreateVillage(f.ctx, f.admin, pbb.NewVillage{Name: name, Code: code})
	require.NoError(f.t, err)
	return v
}

func (f *fixture) hamlet(villageID pbb.VillageID, name string, spptTarget int64, pbbTarget string) pbb.Hamlet {
	f.t.Helper()
	h, err := f.engine.CreateHamlet(f.ctx, f.admin, pbb.NewHamlet{
		VillageID:  villageID,
		Name:       name,
		HeadName:   "Head of " + name,
		SPPTTarget: spptTarget,
		PBBTarget:  dec(pbbTarget),
	})
	require.NoError(f.t, err)
	return h
}

func (f *fixture) payment(c pbb.Caller, h pbb.Hamlet, date time.Time, amount string, count int64) pbb.Payment {
	f.t.Helper()
	p, err := f.engine.CreatePayment(f.ctx, c, pbb.NewPayment{
		PaymentDate:   date,
		VillageID:     h.VillageID,
		HamletID:      h.ID,
		Amount:        dec(amount),
		SPPTPaidCount: count,
		Type:          pbb.PaymentCash,
		CreatedBy:     c.UserID,
	})
	require.NoError(f.t, err)
	return p
}

func (f *fixture) villageUser(username string, villageID pbb.VillageID) pbb.Caller {
	f.t.Helper()
	u, err := f.engine.CreateUser(f.ctx, f.admin, pbb.NewUser{
		Username:  username,
		Password:  "secret123",
		FullName:  "Operator " + username,
		Role:      pbb.RoleVillageUser,
		VillageID: &villageID,
	})
	require.NoError(f.t, err)
	return pbb.CallerFor(u)
}

func findVillageRow(rows []pbb.VillageDashboardRow, id pbb.VillageID) (pbb.VillageDashboardRow, bool) {
	for _, r := range rows {
		if r.VillageID == id {
			return r, true
		}
	}
	return pbb.VillageDashboardRow{}, false
}

// =============================================================================
// VILLAGE DASHBOARD
// =============================================================================

func TestVillageDashboard_AlphaScenario(t *testing.T) {
	// GIVEN: Alpha with two hamlets and one payment each
	f := newFixture(t)
	alpha := f.village("Alpha", "ALP")
	h1 := f.hamlet(alpha.ID, "Dusun 1", 100, "50000")
	h2 := f.hamlet(alpha.ID, "Dusun 2", 80, "40000")
	f.payment(f.admin, h1, day(2025, 3, 1), "25000", 50)
	f.payment(f.admin, h2, day(2025, 3, 2), "20000", 40)

	// WHEN: Building the village dashboard
	rows, err := f.engine.VillageDashboard(f.ctx, f.admin)
	require.NoError(t, err)

	// THEN: Totals are not inflated by the join
	require.Len(t, rows, 1)
	r := rows[0]
	assert.Equal(t, "Alpha", r.VillageName)
	assert.Equal(t, int64(180), r.TotalSPPTTarget)
	assert.True(t, dec("90000").Equal(r.TotalPBBTarget), "target %s", r.TotalPBBTarget)
	assert.Equal(t, int64(90), r.TotalSPPTPaid)
	assert.True(t, dec("45000").Equal(r.TotalPBBPaid), "paid %s", r.TotalPBBPaid)
	assert.Equal(t, "50.00", pbb.FormatMoney(r.AchievementPercentage))
}

func TestVillageDashboard_TotalsMatchIndependentSums(t *testing.T) {
	// GIVEN: Villages with 0..3 hamlets and several payments per hamlet
	f := newFixture(t)

	type expected struct {
		spptTarget, spptPaid int64
		pbbTarget, pbbPaid   decimal.Decimal
	}
	want := make(map[pbb.VillageID]*expected)

	for vi := 0; vi < 4; vi++ {
		v := f.village(fmt.Sprintf("Village %d", vi), fmt.Sprintf("V%d", vi))
		exp := &expected{pbbTarget: decimal.Zero, pbbPaid: decimal.Zero}
		want[v.ID] = exp

		for hi := 0; hi < vi; hi++ {
			target := fmt.Sprintf("%d.50", 10000*(hi+1))
			h := f.hamlet(v.ID, fmt.Sprintf("H%d-%d", vi, hi), int64(10*(hi+1)), target)
			exp.spptTarget += h.SPPTTarget
			exp.pbbTarget = exp.pbbTarget.Add(h.PBBTarget)

			for pi := 0; pi < hi+1; pi++ {
				p := f.payment(f.admin, h, day(2025, 1, pi+1), "1234.56", 2)
				exp.spptPaid += p.SPPTPaidCount
				exp.pbbPaid = exp.pbbPaid.Add(p.Amount)
			}
		}
	}

	// WHEN
	rows, err := f.engine.VillageDashboard(f.ctx, f.admin)
	require.NoError(t, err)

	// THEN: Every village appears, with totals equal to the direct sums
	require.Len(t, rows, len(want))
	for id, exp := range want {
		r, ok := findVillageRow(rows, id)
		require.True(t, ok, "village %d missing", id)
		assert.Equal(t, exp.spptTarget, r.TotalSPPTTarget)
		assert.Equal(t, exp.spptPaid, r.TotalSPPTPaid)
		assert.True(t, exp.pbbTarget.Equal(r.TotalPBBTarget), "village %d target %s != %s", id, r.TotalPBBTarget, exp.pbbTarget)
		assert.True(t, exp.pbbPaid.Equal(r.TotalPBBPaid), "village %d paid %s != %s", id, r.TotalPBBPaid, exp.pbbPaid)
		assert.True(t, pbb.AchievementPercentage(exp.pbbPaid, exp.pbbTarget).Equal(r.AchievementPercentage))
	}

	// Ordered by village name
	for i := 1; i < len(rows); i++ {
		assert.LessOrEqual(t, rows[i-1].VillageName, rows[i].VillageName)
	}
}

func TestVillageDashboard_ScopedToHomeVillage(t *testing.T) {
	f := newFixture(t)
	a := f.village("Alpha", "ALP")
	b := f.village("Beta", "BET")
	f.hamlet(a.ID, "A1", 10, "1000")
	f.hamlet(b.ID, "B1", 10, "1000")
	operator := f.villageUser("operator", b.ID)

	rows, err := f.engine.VillageDashboard(f.ctx, operator)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, b.ID, rows[0].VillageID)
}

// =============================================================================
// HAMLET DASHBOARD
// =============================================================================

func TestHamletDashboard_ZeroTargetMeansZeroAchievement(t *testing.T) {
	// GIVEN: A hamlet with payments whose target is later set to zero
	f := newFixture(t)
	v := f.village("Alpha", "ALP")
	h := f.hamlet(v.ID, "Dusun 1", 10, "50000")
	f.payment(f.admin, h, day(2025, 5, 1), "12345.67", 3)

	zero := decimal.Zero
	_, err := f.engine.UpdateHamlet(f.ctx, f.admin, pbb.HamletUpdate{ID: h.ID, PBBTarget: &zero})
	require.NoError(t, err)

	// WHEN
	rows, err := f.engine.HamletDashboard(f.ctx, f.admin, pbb.HamletFilter{})
	require.NoError(t, err)

	// THEN: Achievement is exactly zero, paid totals are kept
	require.Len(t, rows, 1)
	assert.True(t, rows[0].AchievementPercentage.IsZero())
	assert.True(t, dec("12345.67").Equal(rows[0].PBBPaid))
	assert.Equal(t, int64(3), rows[0].SPPTPaid)

	// Village rollup follows the same rule
	vrows, err := f.engine.VillageDashboard(f.ctx, f.admin)
	require.NoError(t, err)
	require.Len(t, vrows, 1)
	assert.True(t, vrows[0].AchievementPercentage.IsZero())
}

func TestHamletDashboard_HamletsWithoutPaymentsReportZero(t *testing.T) {
	f := newFixture(t)
	v := f.village("Alpha", "ALP")
	paid := f.hamlet(v.ID, "A", 10, "1000")
	f.hamlet(v.ID, "B", 20, "2000")
	f.payment(f.admin, paid, day(2025, 1, 1), "500", 5)

	rows, err := f.engine.HamletDashboard(f.ctx, f.admin, pbb.HamletFilter{VillageID: &v.ID})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "A", rows[0].HamletName)
	assert.Equal(t, "50.00", pbb.FormatMoney(rows[0].AchievementPercentage))
	assert.Equal(t, "Alpha", rows[0].VillageName)

	assert.Equal(t, "B", rows[1].HamletName)
	assert.Equal(t, int64(0), rows[1].SPPTPaid)
	assert.True(t, rows[1].PBBPaid.IsZero())
	assert.True(t, rows[1].AchievementPercentage.IsZero())
}

// =============================================================================
// HAMLET CAPACITY
// =============================================================================

func TestCreateHamlet_CapacityLimit(t *testing.T) {
	// GIVEN: A village with 4 hamlets
	f := newFixture(t)
	v := f.village("Alpha", "ALP")
	for i := 0; i < 4; i++ {
		f.hamlet(v.ID, fmt.Sprintf("H%d", i), 1, "100")
	}

	// WHEN/THEN: The 5th succeeds
	f.hamlet(v.ID, "H4", 1, "100")

	// WHEN/THEN: The 6th fails with CapacityExceeded
	_, err := f.engine.CreateHamlet(f.ctx, f.admin, pbb.NewHamlet{
		VillageID: v.ID, Name: "H5", HeadName: "X", SPPTTarget: 1, PBBTarget: dec("100"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, pbb.ErrCapacityExceeded)

	var capErr *pbb.CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, v.ID, capErr.VillageID)
	assert.Equal(t, pbb.MaxHamletsPerVillage, capErr.Limit)

	n, err := f.store.CountHamlets(f.ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, pbb.MaxHamletsPerVillage, n)
}

func TestCreateHamlet_ConcurrentCreatesNeverExceedCap(t *testing.T) {
	for run := 0; run < 20; run++ {
		// GIVEN: A village with exactly 4 hamlets
		f := newFixture(t)
		v := f.village("Alpha", "ALP")
		for i := 0; i < 4; i++ {
			f.hamlet(v.ID, fmt.Sprintf("H%d", i), 1, "100")
		}

		// WHEN: Two creates race for the last slot
		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make([]error, 2)
		)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, errs[i] = f.engine.CreateHamlet(f.ctx, f.admin, pbb.NewHamlet{
					VillageID: v.ID, Name: fmt.Sprintf("Race%d", i), HeadName: "X",
					SPPTTarget: 1, PBBTarget: dec("100"),
				})
			}(i)
		}
		close(start)
		wg.Wait()

		// THEN: Exactly one wins
		successes, capacity := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				successes++
			case errors.Is(err, pbb.ErrCapacityExceeded):
				capacity++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, successes)
		assert.Equal(t, 1, capacity)

		n, err := f.store.CountHamlets(f.ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, pbb.MaxHamletsPerVillage, n)
	}
}

func TestCreateHamlet_Validation(t *testing.T) {
	f := newFixture(t)
	v := f.village("Alpha", "ALP")

	tests := []struct {
		name string
		in   pbb.NewHamlet
		want error
	}{
		{"unknown village", pbb.NewHamlet{VillageID: 999, Name: "H", HeadName: "X", PBBTarget: dec("1")}, pbb.ErrNotFound},
		{"zero target", pbb.NewHamlet{VillageID: v.ID, Name: "H", HeadName: "X", PBBTarget: decimal.Zero}, pbb.ErrInvalid},
		{"three decimals", pbb.NewHamlet{VillageID: v.ID, Name: "H", HeadName: "X", PBBTarget: dec("1.005")}, pbb.ErrInvalid},
		{"negative sppt", pbb.NewHamlet{VillageID: v.ID, Name: "H", HeadName: "X", SPPTTarget: -1, PBBTarget: dec("1")}, pbb.ErrInvalid},
		{"blank name", pbb.NewHamlet{VillageID: v.ID, Name: "  ", HeadName: "X", PBBTarget: dec("1")}, pbb.ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateHamlet(f.ctx, f.admin, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	hamlets, err := f.store.ListHamlets(f.ctx, pbb.HamletFilter{})
	require.NoError(t, err)
	assert.Empty(t, hamlets, "failed creates must not write")
}

func TestCreateHamlet_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	v := f.village("Alpha", "ALP")
	operator := f.villageUser("operator", v.ID)

	_, err := f.engine.CreateHamlet(f.ctx, operator, pbb.NewHamlet{
		VillageID: v.ID, Name: "H", HeadName: "X", PBBTarget: dec("1"),
	})
	assert.ErrorIs(t, err, pbb.ErrForbidden)
}

// =============================================================================
// HAMLET REASSIGNMENT
// =============================================================================

func TestUpdateHamlet_Reassignment(t *testing.T) {
	t.Run("moves a hamlet without payments", func(t *testing.T) {
		f := newFixture(t)
		a := f.village("Alpha", "ALP")
		b := f.village("Beta", "BET")
		h := f.hamlet(a.ID, "H", 1, "100")

		updated, err := f.engine.UpdateHamlet(f.ctx, f.admin, pbb.HamletUpdate{ID: h.ID, VillageID: &b.ID})
		require.NoError(t, err)
		assert.Equal(t, b.ID, updated.VillageID)
	})

	t.Run("unknown target village", func(t *testing.T) {
		f := newFixture(t)
		a := f.village("Alpha", "ALP")
		h := f.hamlet(a.ID, "H", 1, "100")
		missing := pbb.VillageID(999)

		_, err := f.engine.UpdateHamlet(f.ctx, f.admin, pbb.HamletUpdate{ID: h.ID, VillageID: &missing})
		assert.ErrorIs(t, err, pbb.ErrNotFound)
	})

	t.Run("full target village", func(t *testing.T) {
		f := newFixture(t)
		a := f.village("Alpha", "ALP")
		b := f.village("Beta", "BET")
		h := f.hamlet(a.ID, "H", 1, "100")
		for i := 0; i < pbb.MaxHamletsPerVillage; i++ {
			f.hamlet(b.ID, fmt.Sprintf("B%d", i), 1, "100")
		}

		_, err := f.engine.UpdateHamlet(f.ctx, f.admin, pbb.HamletUpdate{ID: h.ID, VillageID: &b.ID})
		assert.ErrorIs(t, err, pbb.ErrCapacityExceeded)
	})

	t.Run("hamlet with payments", func(t *testing.T) {
		f := newFixture(t)
		a := f.village("Alpha", "ALP")
		b := f.village("Beta", "BET")
		h := f.hamlet(a.ID, "H", 1, "100")
		f.payment(f.admin, h, day(2025, 1, 1), "10", 1)

		_, err := f.engine.UpdateHamlet(f.ctx, f.admin, pbb.HamletUpdate{ID: h.ID, VillageID: &b.ID})
		assert.ErrorIs(t, err, pbb.ErrConflict)

		stored, err := f.store.GetHamlet(f.ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID, stored.VillageID, "failed update must not write")
	})
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestCreatePayment_HamletVillageMismatch(t *testing.T) {
	f := newFixture(t)
	a := f.village("Alpha", "ALP")
	b := f.village("Beta", "BET")
	hb := f.hamlet(b.ID, "B1", 10, "1000")

	_, err := f.engine.CreatePayment(f.ctx, f.admin, pbb.NewPayment{
		PaymentDate: day(2025, 1, 1), VillageID: a.ID, HamletID: hb.ID,
		Amount: dec("100"), SPPTPaidCount: 1, Type: pbb.PaymentCash, CreatedBy: f.admin.UserID,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, pbb.ErrMismatch)

	var mm *pbb.MismatchError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, b.ID, mm.ActualVillageID)
}

func TestCreatePayment_RoundTripsExactly(t *testing.T) {
	f := newFixture(t)
	v := f.village("Alpha", "ALP")
	h := f.hamlet(v.ID, "H", 10, "100000")

	created := f.payment(f.admin, h, day(2025, 2, 3), "25000.50", 7)

	stored, err := f.store.GetPayment(f.ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "25000.50", pbb.FormatMoney(stored.Amount))
	assert.True(t, dec("25000.50").Equal(stored.Amount))
	assert.Equal(t, int64(7), stored.SPPTPaidCount)
	assert.Equal(t, day(2025, 2, 3), stored.PaymentDate)
}

func TestCreatePayment_ReferenceCheckOrder(t *testing.T) {
	f := newFixture(t)
	v := f.village("Alpha", "ALP")
	f.hamlet(v.ID, "H", 10, "1000")

	base := pbb.NewPayment{
		PaymentDate: day(2025, 1, 1), Amount: dec("1"), SPPTPaidCount: 1, Type: pbb.PaymentCash,
	}

	tests := []struct {
		name   string
		mutate func(*pbb.NewPayment)
		entity string
	}{
		{"village before user", func(p *pbb.NewPayment) { p.VillageID, p.HamletID, p.CreatedBy = 999, 999, 999 }, "village"},
		{"user before hamlet", func(p *pbb.NewPayment) { p.VillageID, p.HamletID, p.CreatedBy = v.ID, 999, 999 }, "user"},
		{"hamlet last", func(p *pbb.NewPayment) { p.VillageID, p.HamletID, p.CreatedBy = v.ID, 999, f.admin.UserID }, "hamlet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			_, err := f.engine.CreatePayment(f.ctx, f.admin, in)

			var nf *pbb.NotFoundError
			require.ErrorAs(t, err, &nf)
			assert.Equal(t, tt.entity, nf.Entity)
		})
	}

	payments, err := f.store.ListPayments(f.ctx, pbb.PaymentFilter{})
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestCreatePayment_FieldValidation(t *testing.T) {
	f := newFixture(t)
	v := f.village("Alpha", "ALP")
	h := f.hamlet(v.ID, "H", 10, "1000")

	valid := pbb.NewPayment{
		PaymentDate: day(2025, 1, 1), VillageID: v.ID, HamletID: h.ID,
		Amount: dec("10"), SPPTPaidCount: 1, Type: pbb.PaymentTransfer, CreatedBy: f.admin.UserID,
	}

	tests := []struct {
		name   string
		mutate func(*pbb.NewPayment)
	}{
		{"zero amount", func(p *pbb.NewPayment) { p.Amount = decimal.Zero }},
		{"negative amount", func(p *pbb.NewPayment) { p.Amount = dec("-5") }},
		{"three decimals", func(p *pbb.NewPayment) { p.Amount = dec("1.001") }},
		{"zero count", func(p *pbb.NewPayment) { p.SPPTPaidCount = 0 }},
		{"unknown type", func(p *pbb.NewPayment) { p.Type = "cheque" }},
		{"missing date", func(p *pbb.NewPayment) { p.PaymentDate = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			_, err := f.engine.CreatePayment(f.ctx, f.admin, in)
			assert.ErrorIs(t, err, pbb.ErrInvalid)
		})
	}

	_, err := f.engine.CreatePayment(f.ctx, f.admin, valid)
	assert.NoError(t, err)
}

func TestMoneyLimits(t *testing.T) {
	f := newFixture(t)
	v := f.village("Alpha", "ALP")
	h := f.hamlet(v.ID, "H", 10, "1000")

	tests := []struct {
		name    string
		amount  string
		wantErr bool
	}{
		{"largest amount", "9999999999999.99", false},
		{"one cent over", "10000000000000.00", true},
		{"wraps int64 cents", "92233720368547758.08", true},
		{"far too large", "100000000000000000000.00", true},
	}

	for _, tt := range tests {
		t.Run("payment/"+tt.name, func(t *testing.T) {
			p, err := f.engine.CreatePayment(f.ctx, f.admin, pbb.NewPayment{
				PaymentDate: day(2025, 1, 1), VillageID: v.ID, HamletID: h.ID,
				Amount: dec(tt.amount), SPPTPaidCount: 1, Type: pbb.PaymentCash, CreatedBy: f.admin.UserID,
			})
			if tt.wantErr {
				var ve *pbb.ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "payment_amount", ve.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.amount, pbb.FormatMoney(p.Amount))
		})

		t.Run("target/"+tt.name, func(t *testing.T) {
			target := dec(tt.amount)
			_, err := f.engine.UpdateHamlet(f.ctx, f.admin, pbb.HamletUpdate{ID: h.ID, PBBTarget: &target})
			if tt.wantErr {
				var ve *pbb.ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "pbb_target", ve.Field)
				return
			}
			require.NoError(t, err)
		})
	}

	_, err := f.engine.CreateHamlet(f.ctx, f.admin, pbb.NewHamlet{
		VillageID: v.ID, Name: "Big", HeadName: "X", SPPTTarget: 1, PBBTarget: dec("10000000000000.00"),
	})
	assert.ErrorIs(t, err, pbb.ErrInvalid)

	stored, err := f.store.GetHamlet(f.ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, "9999999999999.99", pbb.FormatMoney(stored.PBBTarget), "rejected updates leave the target alone")
}

func TestCreatePayment_VillageUserScope(t *testing.T) {
	f := newFixture(t)
	home := f.village("Home", "HOM")
	other := f.village("Other", "OTH")
	hHome := f.hamlet(home.ID, "H", 10, "1000")
	hOther := f.hamlet(other.ID, "O", 10, "1000")
	operator := f.villageUser("operator", home.ID)

	f.payment(operator, hHome, day(2025, 1, 1), "10", 1)

	_, err := f.engine.CreatePayment(f.ctx, operator, pbb.NewPayment{
		PaymentDate: day(2025, 1, 1), VillageID: other.ID, HamletID: hOther.ID,
		Amount: dec("10"), SPPTPaidCount: 1, Type: pbb.PaymentCash, CreatedBy: operator.UserID,
	})
	assert.ErrorIs(t, err, pbb.ErrForbidden)
}

func TestUpdatePayment(t *testing.T) {
	f := newFixture(t)
	home := f.village("Home", "HOM")
	other := f.village("Other", "OTH")
	h1 := f.hamlet(home.ID, "H1", 10, "1000")
	h2 := f.hamlet(home.ID, "H2", 10, "1000")
	hOther := f.hamlet(other.ID, "O", 10, "1000")
	operator := f.villageUser("operator", home.ID)
	p := f.payment(operator, h1, day(2025, 1, 1), "10", 1)

	t.Run("moves within the home village", func(t *testing.T) {
		amount := dec("99.99")
		notes := "corrected"
		updated, err := f.engine.UpdatePayment(f.ctx, operator, pbb.PaymentUpdate{
			ID: p.ID, HamletID: &h2.ID, Amount: &amount, Notes: &notes,
		})
		require.NoError(t, err)
		assert.Equal(t, h2.ID, updated.HamletID)
		assert.Equal(t, "99.99", pbb.FormatMoney(updated.Amount))
		require.NotNil(t, updated.Notes)
		assert.Equal(t, "corrected", *updated.Notes)
	})

	t.Run("hamlet from another village is a mismatch", func(t *testing.T) {
		_, err := f.engine.UpdatePayment(f.ctx, f.admin, pbb.PaymentUpdate{ID: p.ID, HamletID: &hOther.ID})
		assert.ErrorIs(t, err, pbb.ErrMismatch)
	})

	t.Run("village user cannot move it out of scope", func(t *testing.T) {
		_, err := f.engine.UpdatePayment(f.ctx, operator, pbb.PaymentUpdate{
			ID: p.ID, VillageID: &other.ID, HamletID: &hOther.ID,
		})
		assert.ErrorIs(t, err, pbb.ErrForbidden)
	})

	t.Run("admin moves village and hamlet together", func(t *testing.T) {
		updated, err := f.engine.UpdatePayment(f.ctx, f.admin, pbb.PaymentUpdate{
			ID: p.ID, VillageID: &other.ID, HamletID: &hOther.ID,
		})
		require.NoError(t, err)
		assert.Equal(t, other.ID, updated.VillageID)
		assert.Equal(t, hOther.ID, updated.HamletID)
	})

	t.Run("village user cannot touch payments outside scope", func(t *testing.T) {
		amount := dec("1")
		_, err := f.engine.UpdatePayment(f.ctx, operator, pbb.PaymentUpdate{ID: p.ID, Amount: &amount})
		assert.ErrorIs(t, err, pbb.ErrForbidden)
	})

	t.Run("empty notes clear them", func(t *testing.T) {
		empty := ""
		updated, err := f.engine.UpdatePayment(f.ctx, f.admin, pbb.PaymentUpdate{ID: p.ID, Notes: &empty})
		require.NoError(t, err)
		assert.Nil(t, updated.Notes)
	})

	t.Run("unknown payment", func(t *testing.T) {
		_, err := f.engine.UpdatePayment(f.ctx, f.admin, pbb.PaymentUpdate{ID: 999})
		assert.ErrorIs(t, err, pbb.ErrNotFound)
	})
}

func TestDeletePayment(t *testing.T) {
	f := newFixture(t)
	home := f.village("Home", "HOM")
	other := f.village("Other", "OTH")
	hHome := f.hamlet(home.ID, "H", 10, "1000")
	hOther := f.hamlet(other.ID, "O", 10, "1000")
	operator := f.villageUser("operator", home.ID)

	mine := f.payment(operator, hHome, day(2025, 1, 1), "10", 1)
	theirs := f.payment(f.admin, hOther, day(2025, 1, 1), "10", 1)

	assert.ErrorIs(t, f.engine.DeletePayment(f.ctx, operator, theirs.ID), pbb.ErrForbidden)
	require.NoError(t, f.engine.DeletePayment(f.ctx, operator, mine.ID))
	assert.ErrorIs(t, f.engine.DeletePayment(f.ctx, operator, mine.ID), pbb.ErrNotFound)

	remaining, err := f.store.ListPayments(f.ctx, pbb.PaymentFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, theirs.ID, remaining[0].ID)
}

// =============================================================================
// LISTING AND REPORTS
// =============================================================================

func TestListPayments_VillageUserIsRescoped(t *testing.T) {
	// GIVEN: Payments in two villages and an operator of the first
	f := newFixture(t)
	home := f.village("Home", "HOM")
	other := f.village("Other", "OTH")
	hHome := f.hamlet(home.ID, "H", 10, "1000")
	hOther := f.hamlet(other.ID, "O", 10, "1000")
	f.payment(f.admin, hHome, day(2025, 1, 1), "10", 1)
	f.payment(f.admin, hOther, day(2025, 1, 2), "20", 1)
	operator := f.villageUser("operator", home.ID)

	// WHEN: Asking for the other village explicitly
	_, err := f.engine.ListPayments(f.ctx, operator, pbb.PaymentFilter{VillageID: &other.ID})

	// THEN: Forbidden
	assert.ErrorIs(t, err, pbb.ErrForbidden)

	// WHEN: Omitting the village
	payments, err := f.engine.ListPayments(f.ctx, operator, pbb.PaymentFilter{})

	// THEN: Only home village payments
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, home.ID, payments[0].VillageID)
}

func TestListPayments_FiltersAndOrder(t *testing.T) {
	f := newFixture(t)
	v := f.village("Alpha", "ALP")
	h := f.hamlet(v.ID, "H", 10, "1000")

	p1 := f.payment(f.admin, h, day(2025, 1, 10), "1", 1)
	p2 := f.payment(f.admin, h, day(2025, 1, 20), "2", 1)
	p3 := f.payment(f.admin, h, day(2025, 1, 20), "3", 1)
	f.payment(f.admin, h, day(2025, 2, 1), "4", 1)

	start, end := day(2025, 1, 10), day(2025, 1, 20)
	payments, err := f.engine.ListPayments(f.ctx, f.admin, pbb.PaymentFilter{StartDate: &start, EndDate: &end})
	require.NoError(t, err)

	// Inclusive bounds; newest date first; ties by id
	require.Len(t, payments, 3)
	assert.Equal(t, []pbb.PaymentID{p2.ID, p3.ID, p1.ID},
		[]pbb.PaymentID{payments[0].ID, payments[1].ID, payments[2].ID})

	transfer := pbb.PaymentTransfer
	payments, err = f.engine.ListPayments(f.ctx, f.admin, pbb.PaymentFilter{PaymentType: &transfer})
	require.NoError(t, err)
	assert.Empty(t, payments)

	bogus := pbb.PaymentType("cheque")
	_, err = f.engine.ListPayments(f.ctx, f.admin, pbb.PaymentFilter{PaymentType: &bogus})
	assert.ErrorIs(t, err, pbb.ErrInvalid)
}

func TestPaymentReport_PerPaymentAchievement(t *testing.T) {
	f := newFixture(t)
	v := f.village("Alpha", "ALP")
	h := f.hamlet(v.ID, "Dusun 1", 10, "100000.00")
	f.payment(f.admin, h, day(2025, 4, 1), "33333.00", 3)
	f.payment(f.admin, h, day(2025, 4, 2), "50000.00", 5)

	rows, err := f.engine.PaymentReport(f.ctx, f.admin, pbb.PaymentFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Ordered by date; each row is measured against the whole target
	assert.Equal(t, "33.33", pbb.FormatMoney(rows[0].AchievementPercentage))
	assert.Equal(t, "50.00", pbb.FormatMoney(rows[1].AchievementPercentage))
	assert.Equal(t, "Alpha", rows[0].VillageName)
	assert.Equal(t, "Dusun 1", rows[0].HamletName)
	assert.Equal(t, pbb.PaymentCash, rows[0].PaymentType)
}

func TestListVillagesAndHamlets_Scoped(t *testing.T) {
	f := newFixture(t)
	a := f.village("Alpha", "ALP")
	b := f.village("Beta", "BET")
	f.hamlet(a.ID, "A1", 1, "1")
	f.hamlet(b.ID, "B1", 1, "1")
	operator := f.villageUser("operator", b.ID)

	villages, err := f.engine.ListVillages(f.ctx, f.admin)
	require.NoError(t, err)
	assert.Len(t, villages, 2)

	villages, err = f.engine.ListVillages(f.ctx, operator)
	require.NoError(t, err)
	require.Len(t, villages, 1)
	assert.Equal(t, "Beta", villages[0].Name)

	hamlets, err := f.engine.ListHamlets(f.ctx, operator, pbb.HamletFilter{})
	require.NoError(t, err)
	require.Len(t, hamlets, 1)
	assert.Equal(t, "B1", hamlets[0].Name)

	_, err = f.engine.ListHamlets(f.ctx, operator, pbb.HamletFilter{VillageID: &a.ID})
	assert.ErrorIs(t, err, pbb.ErrForbidden)
}

// =============================================================================
// VILLAGES AND USERS
// =============================================================================

func TestCreateVillage(t *testing.T) {
	f := newFixture(t)
	f.village("Alpha", "ALP")

	_, err := f.engine.CreateVillage(f.ctx, f.admin, pbb.NewVillage{Name: "Another", Code: "ALP"})
	assert.ErrorIs(t, err, pbb.ErrConflict)

	_, err = f.engine.CreateVillage(f.ctx, f.admin, pbb.NewVillage{Name: "", Code: "X"})
	assert.ErrorIs(t, err, pbb.ErrInvalid)

	v := f.village("Beta", "BET")
	operator := f.villageUser("operator", v.ID)
	_, err = f.engine.CreateVillage(f.ctx, operator, pbb.NewVillage{Name: "Gamma", Code: "GAM"})
	assert.ErrorIs(t, err, pbb.ErrForbidden)
}

func TestUsers(t *testing.T) {
	f := newFixture(t)
	v := f.village("Alpha", "ALP")

	t.Run("village user needs a village", func(t *testing.T) {
		_, err := f.engine.CreateUser(f.ctx, f.admin, pbb.NewUser{
			Username: "nobody", Password: "secret123", FullName: "N", Role: pbb.RoleVillageUser,
		})
		assert.ErrorIs(t, err, pbb.ErrInvalid)
	})

	t.Run("admin cannot have a village", func(t *testing.T) {
		_, err := f.engine.CreateUser(f.ctx, f.admin, pbb.NewUser{
			Username: "admin2", Password: "secret123", FullName: "A", Role: pbb.RoleSuperAdmin, VillageID: &v.ID,
		})
		assert.ErrorIs(t, err, pbb.ErrInvalid)
	})

	t.Run("short password", func(t *testing.T) {
		_, err := f.engine.CreateUser(f.ctx, f.admin, pbb.NewUser{
			Username: "shorty", Password: "123", FullName: "S", Role: pbb.RoleSuperAdmin,
		})
		assert.ErrorIs(t, err, pbb.ErrInvalid)
	})

	operator := f.villageUser("operator", v.ID)

	t.Run("duplicate username", func(t *testing.T) {
		_, err := f.engine.CreateUser(f.ctx, f.admin, pbb.NewUser{
			Username: "operator", Password: "secret123", FullName: "Dup", Role: pbb.RoleVillageUser, VillageID: &v.ID,
		})
		assert.ErrorIs(t, err, pbb.ErrConflict)
	})

	t.Run("password is hashed", func(t *testing.T) {
		u, err := f.store.GetUser(f.ctx, operator.UserID)
		require.NoError(t, err)
		assert.Equal(t, "hashed:secret123", u.PasswordHash)
	})

	t.Run("promotion must clear the village", func(t *testing.T) {
		admin := pbb.RoleSuperAdmin
		_, err := f.engine.UpdateUser(f.ctx, f.admin, pbb.UserUpdate{ID: operator.UserID, Role: &admin})
		assert.ErrorIs(t, err, pbb.ErrInvalid)
	})

	t.Run("village users cannot manage users", func(t *testing.T) {
		_, err := f.engine.ListUsers(f.ctx, operator)
		assert.ErrorIs(t, err, pbb.ErrForbidden)
	})

	t.Run("delete deactivates", func(t *testing.T) {
		require.NoError(t, f.engine.DeleteUser(f.ctx, f.admin, operator.UserID))

		u, err := f.store.GetUser(f.ctx, operator.UserID)
		require.NoError(t, err)
		require.NotNil(t, u)
		assert.False(t, u.IsActive)

		users, err := f.engine.ListUsers(f.ctx, f.admin)
		require.NoError(t, err)
		assert.Len(t, users, 2)
	})
}
