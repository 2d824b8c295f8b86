// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/pbb-engine/pbb"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements pbb.TxStore in process memory. WithTx holds the write
// lock for the whole body, so validate-then-write units never interleave.
type Memory struct {
	mu sync.RWMutex
	st *state
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

type sequences struct {
	village, hamlet, payment, user int64
}

type state struct {
	villages map[pbb.VillageID]pbb.Village
	hamlets  map[pbb.HamletID]pbb.Hamlet
	payments map[pbb.PaymentID]pbb.Payment
	users    map[pbb.UserID]pbb.User
	seq      sequences
}

func newState() *state {
	return &state{
		villages: make(map[pbb.VillageID]pbb.Village),
		hamlets:  make(map[pbb.HamletID]pbb.Hamlet),
		payments: make(map[pbb.PaymentID]pbb.Payment),
		users:    make(map[pbb.UserID]pbb.User),
	}
}

// clone copies the maps; entity values are never mutated in place, so
// sharing their pointer fields is safe.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.villages {
		c.villages[k] = v
	}
	for k, v := range s.hamlets {
		c.hamlets[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	c.seq = s.seq
	return c
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn against a transactional view. For the memory store
// this is a snapshot + restore on error.
func (m *Memory) WithTx(_ context.Context, fn func(pbb.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// =============================================================================
// LOCKED WRAPPERS
// =============================================================================

func (m *Memory) GetVillage(ctx context.Context, id pbb.VillageID) (*pbb.Village, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetVillage(ctx, id)
}

func (m *Memory) GetVillageByCode(ctx context.Context, code string) (*pbb.Village, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetVillageByCode(ctx, code)
}

func (m *Memory) ListVillages(ctx context.Context) ([]pbb.Village, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListVillages(ctx)
}

func (m *Memory) InsertVillage(ctx context.Context, v pbb.Village) (pbb.Village, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertVillage(ctx, v)
}

func (m *Memory) GetHamlet(ctx context.Context, id pbb.HamletID) (*pbb.Hamlet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetHamlet(ctx, id)
}

func (m *Memory) ListHamlets(ctx context.Context, filter pbb.HamletFilter) ([]pbb.Hamlet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListHamlets(ctx, filter)
}

func (m *Memory) CountHamlets(ctx context.Context, villageID pbb.VillageID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.CountHamlets(ctx, villageID)
}

func (m *Memory) InsertHamlet(ctx context.Context, h pbb.Hamlet) (pbb.Hamlet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertHamlet(ctx, h)
}

func (m *Memory) UpdateHamlet(ctx context.Context, h pbb.Hamlet) (pbb.Hamlet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateHamlet(ctx, h)
}

func (m *Memory) GetPayment(ctx context.Context, id pbb.PaymentID) (*pbb.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetPayment(ctx, id)
}

func (m *Memory) ListPayments(ctx context.Context, filter pbb.PaymentFilter) ([]pbb.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListPayments(ctx, filter)
}

func (m *Memory) ListReportSources(ctx context.Context, filter pbb.PaymentFilter) ([]pbb.ReportSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListReportSources(ctx, filter)
}

func (m *Memory) CountPaymentsByHamlet(ctx context.Context, hamletID pbb.HamletID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.CountPaymentsByHamlet(ctx, hamletID)
}

func (m *Memory) InsertPayment(ctx context.Context, p pbb.Payment) (pbb.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertPayment(ctx, p)
}

func (m *Memory) UpdatePayment(ctx context.Context, p pbb.Payment) (pbb.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdatePayment(ctx, p)
}

func (m *Memory) DeletePayment(ctx context.Context, id pbb.PaymentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeletePayment(ctx, id)
}

func (m *Memory) GetUser(ctx context.Context, id pbb.UserID) (*pbb.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetUser(ctx, id)
}

func (m *Memory) GetUserByUsername(ctx context.Context, username string) (*pbb.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetUserByUsername(ctx, username)
}

func (m *Memory) ListUsers(ctx context.Context) ([]pbb.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListUsers(ctx)
}

func (m *Memory) InsertUser(ctx context.Context, u pbb.User) (pbb.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertUser(ctx, u)
}

func (m *Memory) UpdateUser(ctx context.Context, u pbb.User) (pbb.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateUser(ctx, u)
}

func (m *Memory) SumTargetsByVillage(ctx context.Context) (map[pbb.VillageID]pbb.TargetTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.SumTargetsByVillage(ctx)
}

func (m *Memory) SumPaymentsByVillage(ctx context.Context) (map[pbb.VillageID]pbb.PaidTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.SumPaymentsByVillage(ctx)
}

func (m *Memory) SumPaymentsByHamlet(ctx context.Context, filter pbb.HamletFilter) (map[pbb.HamletID]pbb.PaidTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.SumPaymentsByHamlet(ctx, filter)
}

// =============================================================================
// STATE - unlocked pbb.Store implementation
// =============================================================================

func (s *state) GetVillage(_ context.Context, id pbb.VillageID) (*pbb.Village, error) {
	v, ok := s.villages[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *state) GetVillageByCode(_ context.Context, code string) (*pbb.Village, error) {
	for _, v := range s.villages {
		if v.Code == code {
			v := v
			return &v, nil
		}
	}
	return nil, nil
}

func (s *state) ListVillages(_ context.Context) ([]pbb.Village, error) {
	out := make([]pbb.Village, 0, len(s.villages))
	for _, v := range s.villages {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) InsertVillage(ctx context.Context, v pbb.Village) (pbb.Village, error) {
	if existing, _ := s.GetVillageByCode(ctx, v.Code); existing != nil {
		return pbb.Village{}, &pbb.ConflictError{Field: "code", Value: v.Code}
	}
	s.seq.village++
	v.ID = pbb.VillageID(s.seq.village)
	s.villages[v.ID] = v
	return v, nil
}

func (s *state) GetHamlet(_ context.Context, id pbb.HamletID) (*pbb.Hamlet, error) {
	h, ok := s.hamlets[id]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (s *state) ListHamlets(_ context.Context, filter pbb.HamletFilter) ([]pbb.Hamlet, error) {
	out := make([]pbb.Hamlet, 0)
	for _, h := range s.hamlets {
		if filter.VillageID != nil && h.VillageID != *filter.VillageID {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.VillageID != b.VillageID {
			return a.VillageID < b.VillageID
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *state) CountHamlets(_ context.Context, villageID pbb.VillageID) (int, error) {
	n := 0
	for _, h := range s.hamlets {
		if h.VillageID == villageID {
			n++
		}
	}
	return n, nil
}

func (s *state) InsertHamlet(ctx context.Context, h pbb.Hamlet) (pbb.Hamlet, error) {
	if err := pbb.ValidateMoney("pbb_target", h.PBBTarget); err != nil {
		return pbb.Hamlet{}, err
	}
	if _, ok := s.villages[h.VillageID]; !ok {
		return pbb.Hamlet{}, &pbb.NotFoundError{Entity: "village", ID: int64(h.VillageID)}
	}
	if n, _ := s.CountHamlets(ctx, h.VillageID); n >= pbb.MaxHamletsPerVillage {
		return pbb.Hamlet{}, &pbb.CapacityError{VillageID: h.VillageID, Limit: pbb.MaxHamletsPerVillage}
	}
	s.seq.hamlet++
	h.ID = pbb.HamletID(s.seq.hamlet)
	s.hamlets[h.ID] = h
	return h, nil
}

func (s *state) UpdateHamlet(ctx context.Context, h pbb.Hamlet) (pbb.Hamlet, error) {
	old, ok := s.hamlets[h.ID]
	if !ok {
		return pbb.Hamlet{}, &pbb.NotFoundError{Entity: "hamlet", ID: int64(h.ID)}
	}
	if err := pbb.ValidateMoney("pbb_target", h.PBBTarget); err != nil {
		return pbb.Hamlet{}, err
	}
	if old.VillageID != h.VillageID {
		if _, ok := s.villages[h.VillageID]; !ok {
			return pbb.Hamlet{}, &pbb.NotFoundError{Entity: "village", ID: int64(h.VillageID)}
		}
		if n, _ := s.CountHamlets(ctx, h.VillageID); n >= pbb.MaxHamletsPerVillage {
			return pbb.Hamlet{}, &pbb.CapacityError{VillageID: h.VillageID, Limit: pbb.MaxHamletsPerVillage}
		}
	}
	h.CreatedAt = old.CreatedAt
	s.hamlets[h.ID] = h
	return h, nil
}

func (s *state) GetPayment(_ context.Context, id pbb.PaymentID) (*pbb.Payment, error) {
	p, ok := s.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *state) matchingPayments(filter pbb.PaymentFilter) []pbb.Payment {
	out := make([]pbb.Payment, 0)
	for _, p := range s.payments {
		if filter.Matches(p) {
			out = append(out, p)
		}
	}
	return out
}

func (s *state) ListPayments(_ context.Context, filter pbb.PaymentFilter) ([]pbb.Payment, error) {
	out := s.matchingPayments(filter)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaymentDate.Equal(out[j].PaymentDate) {
			return out[i].PaymentDate.After(out[j].PaymentDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) ListReportSources(_ context.Context, filter pbb.PaymentFilter) ([]pbb.ReportSource, error) {
	payments := s.matchingPayments(filter)
	sort.Slice(payments, func(i, j int) bool {
		if !payments[i].PaymentDate.Equal(payments[j].PaymentDate) {
			return payments[i].PaymentDate.Before(payments[j].PaymentDate)
		}
		return payments[i].ID < payments[j].ID
	})

	out := make([]pbb.ReportSource, 0, len(payments))
	for _, p := range payments {
		h, hok := s.hamlets[p.HamletID]
		v, vok := s.villages[p.VillageID]
		if !hok || !vok {
			continue // inner join
		}
		out = append(out, pbb.ReportSource{
			Payment:     p,
			VillageName: v.Name,
			HamletName:  h.Name,
			PBBTarget:   h.PBBTarget,
		})
	}
	return out, nil
}

func (s *state) CountPaymentsByHamlet(_ context.Context, hamletID pbb.HamletID) (int, error) {
	n := 0
	for _, p := range s.payments {
		if p.HamletID == hamletID {
			n++
		}
	}
	return n, nil
}

func (s *state) checkPayment(p pbb.Payment) error {
	if err := pbb.ValidateMoney("payment_amount", p.Amount); err != nil {
		return err
	}
	if _, ok := s.villages[p.VillageID]; !ok {
		return &pbb.NotFoundError{Entity: "village", ID: int64(p.VillageID)}
	}
	h, ok := s.hamlets[p.HamletID]
	if !ok {
		return &pbb.NotFoundError{Entity: "hamlet", ID: int64(p.HamletID)}
	}
	if h.VillageID != p.VillageID {
		return &pbb.MismatchError{HamletID: p.HamletID, VillageID: p.VillageID, ActualVillageID: h.VillageID}
	}
	if _, ok := s.users[p.CreatedBy]; !ok {
		return &pbb.NotFoundError{Entity: "user", ID: int64(p.CreatedBy)}
	}
	return nil
}

func (s *state) InsertPayment(_ context.Context, p pbb.Payment) (pbb.Payment, error) {
	if err := s.checkPayment(p); err != nil {
		return pbb.Payment{}, err
	}
	s.seq.payment++
	p.ID = pbb.PaymentID(s.seq.payment)
	p.Notes = copyString(p.Notes)
	s.payments[p.ID] = p
	return p, nil
}

func (s *state) UpdatePayment(_ context.Context, p pbb.Payment) (pbb.Payment, error) {
	old, ok := s.payments[p.ID]
	if !ok {
		return pbb.Payment{}, &pbb.NotFoundError{Entity: "payment", ID: int64(p.ID)}
	}
	if err := s.checkPayment(p); err != nil {
		return pbb.Payment{}, err
	}
	p.CreatedAt = old.CreatedAt
	p.Notes = copyString(p.Notes)
	s.payments[p.ID] = p
	return p, nil
}

func (s *state) DeletePayment(_ context.Context, id pbb.PaymentID) error {
	if _, ok := s.payments[id]; !ok {
		return &pbb.NotFoundError{Entity: "payment", ID: int64(id)}
	}
	delete(s.payments, id)
	return nil
}

func (s *state) GetUser(_ context.Context, id pbb.UserID) (*pbb.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *state) GetUserByUsername(_ context.Context, username string) (*pbb.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (s *state) ListUsers(_ context.Context) ([]pbb.User, error) {
	out := make([]pbb.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) InsertUser(ctx context.Context, u pbb.User) (pbb.User, error) {
	if existing, _ := s.GetUserByUsername(ctx, u.Username); existing != nil {
		return pbb.User{}, &pbb.ConflictError{Field: "username", Value: u.Username}
	}
	s.seq.user++
	u.ID = pbb.UserID(s.seq.user)
	u.VillageID = copyVillageID(u.VillageID)
	s.users[u.ID] = u
	return u, nil
}

func (s *state) UpdateUser(ctx context.Context, u pbb.User) (pbb.User, error) {
	old, ok := s.users[u.ID]
	if !ok {
		return pbb.User{}, &pbb.NotFoundError{Entity: "user", ID: int64(u.ID)}
	}
	if existing, _ := s.GetUserByUsername(ctx, u.Username); existing != nil && existing.ID != u.ID {
		return pbb.User{}, &pbb.ConflictError{Field: "username", Value: u.Username}
	}
	u.CreatedAt = old.CreatedAt
	u.VillageID = copyVillageID(u.VillageID)
	s.users[u.ID] = u
	return u, nil
}

func (s *state) SumTargetsByVillage(_ context.Context) (map[pbb.VillageID]pbb.TargetTotals, error) {
	out := make(map[pbb.VillageID]pbb.TargetTotals)
	for _, h := range s.hamlets {
		t := out[h.VillageID]
		t.SPPT += h.SPPTTarget
		t.PBB = t.PBB.Add(h.PBBTarget)
		out[h.VillageID] = t
	}
	return out, nil
}

func (s *state) SumPaymentsByVillage(_ context.Context) (map[pbb.VillageID]pbb.PaidTotals, error) {
	out := make(map[pbb.VillageID]pbb.PaidTotals)
	for _, p := range s.payments {
		t := out[p.VillageID]
		t.SPPT += p.SPPTPaidCount
		t.PBB = t.PBB.Add(p.Amount)
		out[p.VillageID] = t
	}
	return out, nil
}

func (s *state) SumPaymentsByHamlet(_ context.Context, filter pbb.HamletFilter) (map[pbb.HamletID]pbb.PaidTotals, error) {
	out := make(map[pbb.HamletID]pbb.PaidTotals)
	for _, p := range s.payments {
		if filter.VillageID != nil && p.VillageID != *filter.VillageID {
			continue
		}
		t := out[p.HamletID]
		t.SPPT += p.SPPTPaidCount
		t.PBB = t.PBB.Add(p.Amount)
		out[p.HamletID] = t
	}
	return out, nil
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func copyVillageID(id *pbb.VillageID) *pbb.VillageID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
