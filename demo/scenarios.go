/*
Package demo loads example data into a PBB database for demos and manual
testing.

AVAILABLE SCENARIOS:

	alpha:          One village, two hamlets, one payment each (50% achieved)
	full-village:   A village at its 5-hamlet capacity with mixed progress
	multi-village:  Three villages with operators and a quarter of payments

HOW SCENARIOS WORK:
 1. Create villages and hamlets as the platform admin
 2. Create one village_user per village
 3. Record payments as that village user, so every write goes through the
    same scope checks a real operator would hit

Scenarios never reset the database. Before the first write, Load checks
that none of the scenario's village codes or operator usernames exist yet,
so loading one twice fails with a conflict and leaves the database as it
was.

USAGE:

	pbbadmin seed --scenario multi-village

ADDING NEW SCENARIOS:
 1. Add an entry to Scenarios with ID, name, description and loader
 2. Write the loader against *pbb.Engine only
*/
package demo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/warp/pbb-engine/pbb"
)

// DefaultPassword is given to every operator a scenario creates.
const DefaultPassword = "demo12345"

// Scenario is a named, repeatable data set.
type Scenario struct {
	ID          string
	Name        string
	Description string
	codes       []string // village codes the loader creates
	load        func(ctx context.Context, l *loader) error
}

// Scenarios lists every loadable scenario.
var Scenarios = []Scenario{
	{
		ID:          "alpha",
		Name:        "Alpha",
		Description: "One village with two hamlets and one payment each, 50.00% achieved",
		codes:       []string{"ALP"},
		load:        loadAlpha,
	},
	{
		ID:          "full-village",
		Name:        "Full Village",
		Description: "A village at the 5-hamlet limit; hamlets range from untouched to over target",
		codes:       []string{"SKM"},
		load:        loadFullVillage,
	},
	{
		ID:          "multi-village",
		Name:        "Multi-Village",
		Description: "Three villages with an operator each and a quarter of mixed payments",
		codes:       []string{"MKS", "SDS", "WNS"},
		load:        loadMultiVillage,
	},
}

// Find returns the scenario with the given id.
func Find(id string) (Scenario, bool) {
	for _, s := range Scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return Scenario{}, false
}

// IDs returns the ids of every scenario, for help text.
func IDs() []string {
	ids := make([]string, len(Scenarios))
	for i, s := range Scenarios {
		ids[i] = s.ID
	}
	return ids
}

// Result summarises what a load created.
type Result struct {
	Villages  int
	Hamlets   int
	Users     int
	Payments  int
	Operators []string
}

// Load runs scenario id against engine as admin.
func Load(ctx context.Context, engine *pbb.Engine, admin pbb.Caller, id string) (Result, error) {
	s, ok := Find(id)
	if !ok {
		return Result{}, fmt.Errorf("unknown scenario %q (available: %s)", id, strings.Join(IDs(), ", "))
	}
	l := &loader{engine: engine, admin: admin}
	if err := l.preflight(ctx, s.codes); err != nil {
		return Result{}, fmt.Errorf("load scenario %s: %w", id, err)
	}
	if err := s.load(ctx, l); err != nil {
		return l.result, fmt.Errorf("load scenario %s: %w", id, err)
	}
	return l.result, nil
}

// =============================================================================
// LOADER
// =============================================================================

type loader struct {
	engine *pbb.Engine
	admin  pbb.Caller
	result Result
}

// preflight fails with a conflict if any village code or operator username
// the scenario would create is already taken.
func (l *loader) preflight(ctx context.Context, codes []string) error {
	villages, err := l.engine.ListVillages(ctx, l.admin)
	if err != nil {
		return err
	}
	users, err := l.engine.ListUsers(ctx, l.admin)
	if err != nil {
		return err
	}

	taken := make(map[string]bool, len(villages)+len(users))
	for _, v := range villages {
		taken["village:"+v.Code] = true
	}
	for _, u := range users {
		taken["user:"+u.Username] = true
	}
	for _, code := range codes {
		if taken["village:"+code] {
			return &pbb.ConflictError{Field: "code", Value: code}
		}
		if name := operatorUsername(code); taken["user:"+name] {
			return &pbb.ConflictError{Field: "username", Value: name}
		}
	}
	return nil
}

func operatorUsername(code string) string {
	return "op-" + strings.ToLower(code)
}

func (l *loader) village(ctx context.Context, name, code string) (pbb.Village, error) {
	v, err := l.engine.CreateVillage(ctx, l.admin, pbb.NewVillage{Name: name, Code: code})
	if err != nil {
		return pbb.Village{}, err
	}
	l.result.Villages++
	return v, nil
}

func (l *loader) hamlet(ctx context.Context, v pbb.Village, name, head string, sppt int64, target string) (pbb.Hamlet, error) {
	pbbTarget, err := pbb.ParseMoney(target)
	if err != nil {
		return pbb.Hamlet{}, err
	}
	h, err := l.engine.CreateHamlet(ctx, l.admin, pbb.NewHamlet{
		VillageID:  v.ID,
		Name:       name,
		HeadName:   head,
		SPPTTarget: sppt,
		PBBTarget:  pbbTarget,
	})
	if err != nil {
		return pbb.Hamlet{}, err
	}
	l.result.Hamlets++
	return h, nil
}

// operator creates the village_user for v and returns it as a caller.
func (l *loader) operator(ctx context.Context, v pbb.Village) (pbb.Caller, error) {
	username := operatorUsername(v.Code)
	u, err := l.engine.CreateUser(ctx, l.admin, pbb.NewUser{
		Username:  username,
		Password:  DefaultPassword,
		FullName:  "Operator " + v.Name,
		Role:      pbb.RoleVillageUser,
		VillageID: &v.ID,
	})
	if err != nil {
		return pbb.Caller{}, err
	}
	l.result.Users++
	l.result.Operators = append(l.result.Operators, username)
	return pbb.CallerFor(u), nil
}

type payment struct {
	hamlet pbb.Hamlet
	date   time.Time
	amount string
	count  int64
	typ    pbb.PaymentType
	notes  string
}

func (l *loader) pay(ctx context.Context, as pbb.Caller, p payment) error {
	amount, err := pbb.ParseMoney(p.amount)
	if err != nil {
		return err
	}
	in := pbb.NewPayment{
		PaymentDate:   p.date,
		VillageID:     p.hamlet.VillageID,
		HamletID:      p.hamlet.ID,
		Amount:        amount,
		SPPTPaidCount: p.count,
		Type:          p.typ,
		CreatedBy:     as.UserID,
	}
	if p.notes != "" {
		in.Notes = &p.notes
	}
	if _, err := l.engine.CreatePayment(ctx, as, in); err != nil {
		return err
	}
	l.result.Payments++
	return nil
}

func date(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadAlpha(ctx context.Context, l *loader) error {
	v, err := l.village(ctx, "Alpha", "ALP")
	if err != nil {
		return err
	}
	h1, err := l.hamlet(ctx, v, "Dusun 1", "Pak Budi", 100, "50000")
	if err != nil {
		return err
	}
	h2, err := l.hamlet(ctx, v, "Dusun 2", "Bu Sari", 80, "40000")
	if err != nil {
		return err
	}
	op, err := l.operator(ctx, v)
	if err != nil {
		return err
	}

	if err := l.pay(ctx, op, payment{hamlet: h1, date: date(time.March, 1), amount: "25000", count: 50, typ: pbb.PaymentCash}); err != nil {
		return err
	}
	return l.pay(ctx, op, payment{hamlet: h2, date: date(time.March, 2), amount: "20000", count: 40, typ: pbb.PaymentTransfer})
}

func loadFullVillage(ctx context.Context, l *loader) error {
	v, err := l.village(ctx, "Sukamaju", "SKM")
	if err != nil {
		return err
	}
	op, err := l.operator(ctx, v)
	if err != nil {
		return err
	}

	// An empty paid leaves the hamlet without payments
	plan := []struct {
		name, head string
		sppt       int64
		target     string
		paid       string
		count      int64
	}{
		{"Dusun Krajan", "Pak Slamet", 120, "60000.00", "", 0},
		{"Dusun Tegal", "Pak Harjo", 90, "45000.00", "15000.00", 30},
		{"Dusun Sawah", "Bu Wati", 75, "37500.00", "12500.00", 25},
		{"Dusun Kidul", "Pak Darto", 60, "30000.00", "30000.00", 60},
		{"Dusun Lor", "Bu Endang", 40, "20000.00", "24000.50", 41},
	}
	for i, p := range plan {
		h, err := l.hamlet(ctx, v, p.name, p.head, p.sppt, p.target)
		if err != nil {
			return err
		}
		if p.paid == "" {
			continue
		}
		err = l.pay(ctx, op, payment{
			hamlet: h, date: date(time.April, i+1), amount: p.paid, count: p.count, typ: pbb.PaymentDeposit,
			notes: "setoran kolektif",
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func loadMultiVillage(ctx context.Context, l *loader) error {
	villages := []struct {
		name, code string
		hamlets    []string
	}{
		{"Mekarsari", "MKS", []string{"Cibeureum", "Cikadu", "Pasirjaya"}},
		{"Sindangsari", "SDS", []string{"Babakan", "Cilame"}},
		{"Wanasari", "WNS", nil},
	}

	types := []pbb.PaymentType{pbb.PaymentCash, pbb.PaymentTransfer, pbb.PaymentDeposit}
	for vi, plan := range villages {
		v, err := l.village(ctx, plan.name, plan.code)
		if err != nil {
			return err
		}
		op, err := l.operator(ctx, v)
		if err != nil {
			return err
		}

		for hi, name := range plan.hamlets {
			sppt := int64(50 + 10*hi)
			target := fmt.Sprintf("%d.00", sppt*500)
			h, err := l.hamlet(ctx, v, "Dusun "+name, "Kepala "+name, sppt, target)
			if err != nil {
				return err
			}

			// One payment per month in Q1, growing each month
			for m := 1; m <= 3; m++ {
				count := int64(m * (vi + hi + 2))
				err := l.pay(ctx, op, payment{
					hamlet: h,
					date:   date(time.Month(m), 5+hi),
					amount: fmt.Sprintf("%d.50", count*500),
					count:  count,
					typ:    types[(m+hi)%len(types)],
				})
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}
