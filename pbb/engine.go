/*
engine.go - Operations exposed to the transport layer

PURPOSE:
  Engine is the single entry point for every named operation. Each method
  takes a Caller and plain data, resolves the caller's scope exactly once,
  and returns either a value or a typed failure (see errors.go).

REQUEST FLOW:
  1. Field constraints on the input              -> Invalid
  2. Scope resolution / admin check              -> Forbidden
  3. (writes) Validator inside Store.WithTx      -> NotFound, CapacityExceeded, Mismatch, Conflict
  4. Store write or read

  A failed validation returns before any write, and WithTx discards
  anything written by a failing body, so no mutation is partially applied.

CONCURRENCY:
  Engine holds no mutable state. The store handle is injected; the
  hamlet-cap check-then-insert runs inside WithTx, which serialises writers,
  and the store rejects a 6th hamlet on its own as well.

SEE ALSO:
  - users.go: User management operations
  - validator.go, scope.go, aggregate.go, report.go
*/
package pbb

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/pbb-engine/logging"
)

// Engine exposes the tax-collection operations over an injected store.
type Engine struct {
	store  TxStore
	hasher PasswordHasher
	log    *logging.Logger
	now    func() time.Time
}

// NewEngine creates an engine over store. hasher is used by user operations.
func NewEngine(store TxStore, hasher PasswordHasher, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{
		store:  store,
		hasher: hasher,
		log:    logger.WithComponent(logging.ComponentEngine),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// INPUTS
// =============================================================================

type NewVillage struct {
	Name string
	Code string
}

type NewHamlet struct {
	VillageID  VillageID
	Name       string
	HeadName   string
	SPPTTarget int64
	PBBTarget  decimal.Decimal
}

// HamletUpdate changes only the non-nil fields.
type HamletUpdate struct {
	ID         HamletID
	VillageID  *VillageID
	Name       *string
	HeadName   *string
	SPPTTarget *int64
	PBBTarget  *decimal.Decimal
}

type NewPayment struct {
	PaymentDate   time.Time
	VillageID     VillageID
	HamletID      HamletID
	Amount        decimal.Decimal
	SPPTPaidCount int64
	Type          PaymentType
	Notes         *string
	CreatedBy     UserID
}

// PaymentUpdate changes only the non-nil fields. A non-nil empty Notes
// clears the notes.
type PaymentUpdate struct {
	ID            PaymentID
	PaymentDate   *time.Time
	VillageID     *VillageID
	HamletID      *HamletID
	Amount        *decimal.Decimal
	SPPTPaidCount *int64
	Type          *PaymentType
	Notes         *string
}

// =============================================================================
// VILLAGES
// =============================================================================

func (e *Engine) CreateVillage(ctx context.Context, c Caller, in NewVillage) (Village, error) {
	if err := RequireAdmin(c); err != nil {
		return Village{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Code = strings.TrimSpace(in.Code)
	if err := requireText("name", in.Name); err != nil {
		return Village{}, err
	}
	if err := requireText("code", in.Code); err != nil {
		return Village{}, err
	}

	var created Village
	err := e.store.WithTx(ctx, func(s Store) error {
		if err := NewValidator(s).ValidateVillageCodeUnique(ctx, in.Code); err != nil {
			return err
		}
		now := e.now()
		var err error
		created, err = s.InsertVillage(ctx, Village{Name: in.Name, Code: in.Code, CreatedAt: now, UpdatedAt: now})
		return err
	})
	if err != nil {
		return Village{}, err
	}

	e.log.InfoContext(ctx, "village created", logging.FieldVillageID, created.ID, "code", created.Code)
	return created, nil
}

// ListVillages returns the villages in c's scope ordered by name.
func (e *Engine) ListVillages(ctx context.Context, c Caller) ([]Village, error) {
	scope, err := ResolveVillageScope(c, nil)
	if err != nil {
		return nil, err
	}
	villages, err := e.store.ListVillages(ctx)
	if err != nil {
		return nil, err
	}
	if scope == nil {
		return villages, nil
	}
	out := villages[:0]
	for _, v := range villages {
		if v.ID == *scope {
			out = append(out, v)
		}
	}
	return out, nil
}

// =============================================================================
// HAMLETS
// =============================================================================

func (e *Engine) CreateHamlet(ctx context.Context, c Caller, in NewHamlet) (Hamlet, error) {
	if err := RequireAdmin(c); err != nil {
		return Hamlet{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.HeadName = strings.TrimSpace(in.HeadName)
	if err := validateHamletFields(in.Name, in.HeadName, in.SPPTTarget); err != nil {
		return Hamlet{}, err
	}
	if !in.PBBTarget.IsPositive() {
		return Hamlet{}, invalid("pbb_target", "must be greater than zero")
	}
	if err := ValidateMoney("pbb_target", in.PBBTarget); err != nil {
		return Hamlet{}, err
	}

	var created Hamlet
	err := e.store.WithTx(ctx, func(s Store) error {
		if err := NewValidator(s).ValidateHamletCreate(ctx, in.VillageID); err != nil {
			return err
		}
		now := e.now()
		var err error
		created, err = s.InsertHamlet(ctx, Hamlet{
			VillageID:  in.VillageID,
			Name:       in.Name,
			HeadName:   in.HeadName,
			SPPTTarget: in.SPPTTarget,
			PBBTarget:  in.PBBTarget,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		return err
	})
	if err != nil {
		return Hamlet{}, err
	}

	e.log.InfoContext(ctx, "hamlet created",
		logging.FieldHamletID, created.ID,
		logging.FieldVillageID, created.VillageID)
	return created, nil
}

// UpdateHamlet applies the non-nil fields of in. Moving a hamlet to another
// village re-checks that village's capacity and is refused while the hamlet
// has recorded payments.
func (e *Engine) UpdateHamlet(ctx context.Context, c Caller, in HamletUpdate) (Hamlet, error) {
	if err := RequireAdmin(c); err != nil {
		return Hamlet{}, err
	}
	if in.Name != nil {
		if err := requireText("name", *in.Name); err != nil {
			return Hamlet{}, err
		}
	}
	if in.HeadName != nil {
		if err := requireText("head_name", *in.HeadName); err != nil {
			return Hamlet{}, err
		}
	}
	if in.SPPTTarget != nil && *in.SPPTTarget < 0 {
		return Hamlet{}, invalid("sppt_target", "must not be negative")
	}
	if in.PBBTarget != nil {
		if in.PBBTarget.IsNegative() {
			return Hamlet{}, invalid("pbb_target", "must not be negative")
		}
		if err := ValidateMoney("pbb_target", *in.PBBTarget); err != nil {
			return Hamlet{}, err
		}
	}

	var updated Hamlet
	err := e.store.WithTx(ctx, func(s Store) error {
		v := NewValidator(s)
		h, err := v.RequireHamlet(ctx, in.ID)
		if err != nil {
			return err
		}
		if in.VillageID != nil {
			if err := v.ValidateHamletReassignment(ctx, *h, *in.VillageID); err != nil {
				return err
			}
			h.VillageID = *in.VillageID
		}
		if in.Name != nil {
			h.Name = strings.TrimSpace(*in.Name)
		}
		if in.HeadName != nil {
			h.HeadName = strings.TrimSpace(*in.HeadName)
		}
		if in.SPPTTarget != nil {
			h.SPPTTarget = *in.SPPTTarget
		}
		if in.PBBTarget != nil {
			h.PBBTarget = *in.PBBTarget
		}
		h.UpdatedAt = e.now()
		updated, err = s.UpdateHamlet(ctx, *h)
		return err
	})
	if err != nil {
		return Hamlet{}, err
	}

	e.log.InfoContext(ctx, "hamlet updated",
		logging.FieldHamletID, updated.ID,
		logging.FieldVillageID, updated.VillageID)
	return updated, nil
}

// ListHamlets returns the hamlets matching filter within c's scope.
func (e *Engine) ListHamlets(ctx context.Context, c Caller, filter HamletFilter) ([]Hamlet, error) {
	scoped, err := ScopeHamletFilter(c, filter)
	if err != nil {
		return nil, err
	}
	return e.store.ListHamlets(ctx, scoped)
}

func validateHamletFields(name, headName string, spptTarget int64) error {
	if err := requireText("name", name); err != nil {
		return err
	}
	if err := requireText("head_name", headName); err != nil {
		return err
	}
	if spptTarget < 0 {
		return invalid("sppt_target", "must not be negative")
	}
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// CreatePayment records a payment in a village inside c's scope. Reference
// checks run in ValidatePaymentReferences order.
func (e *Engine) CreatePayment(ctx context.Context, c Caller, in NewPayment) (Payment, error) {
	if in.PaymentDate.IsZero() {
		return Payment{}, invalid("payment_date", "is required")
	}
	if err := validatePaymentFields(&in.Amount, &in.SPPTPaidCount, &in.Type); err != nil {
		return Payment{}, err
	}
	if err := AuthorizeVillage(c, in.VillageID); err != nil {
		return Payment{}, err
	}

	var created Payment
	err := e.store.WithTx(ctx, func(s Store) error {
		if err := NewValidator(s).ValidatePaymentReferences(ctx, in.VillageID, in.HamletID, in.CreatedBy); err != nil {
			return err
		}
		now := e.now()
		var err error
		created, err = s.InsertPayment(ctx, Payment{
			PaymentDate:   Date(in.PaymentDate),
			VillageID:     in.VillageID,
			HamletID:      in.HamletID,
			Amount:        in.Amount,
			SPPTPaidCount: in.SPPTPaidCount,
			Type:          in.Type,
			Notes:         normaliseNotes(in.Notes),
			CreatedBy:     in.CreatedBy,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		return err
	})
	if err != nil {
		return Payment{}, err
	}

	e.log.InfoContext(ctx, "payment created",
		logging.FieldPaymentID, created.ID,
		logging.FieldVillageID, created.VillageID,
		logging.FieldHamletID, created.HamletID,
		logging.FieldAmount, FormatMoney(created.Amount))
	return created, nil
}

// UpdatePayment overwrites the non-nil fields of a payment in place. Both
// the payment's current village and any new village must be in c's scope,
// and the resulting hamlet/village pair must agree.
func (e *Engine) UpdatePayment(ctx context.Context, c Caller, in PaymentUpdate) (Payment, error) {
	if in.PaymentDate != nil && in.PaymentDate.IsZero() {
		return Payment{}, invalid("payment_date", "must not be empty")
	}
	if err := validatePaymentFields(in.Amount, in.SPPTPaidCount, in.Type); err != nil {
		return Payment{}, err
	}

	var updated Payment
	err := e.store.WithTx(ctx, func(s Store) error {
		v := NewValidator(s)
		p, err := v.RequirePayment(ctx, in.ID)
		if err != nil {
			return err
		}
		if err := AuthorizeVillage(c, p.VillageID); err != nil {
			return err
		}

		if in.VillageID != nil || in.HamletID != nil {
			villageID, hamletID := p.VillageID, p.HamletID
			if in.VillageID != nil {
				villageID = *in.VillageID
				if err := AuthorizeVillage(c, villageID); err != nil {
					return err
				}
				if _, err := v.RequireVillage(ctx, villageID); err != nil {
					return err
				}
			}
			if in.HamletID != nil {
				hamletID = *in.HamletID
			}
			if _, err := v.ValidateHamletBelongsToVillage(ctx, hamletID, villageID); err != nil {
				return err
			}
			p.VillageID, p.HamletID = villageID, hamletID
		}

		if in.PaymentDate != nil {
			p.PaymentDate = Date(*in.PaymentDate)
		}
		if in.Amount != nil {
			p.Amount = *in.Amount
		}
		if in.SPPTPaidCount != nil {
			p.SPPTPaidCount = *in.SPPTPaidCount
		}
		if in.Type != nil {
			p.Type = *in.Type
		}
		if in.Notes != nil {
			p.Notes = normaliseNotes(in.Notes)
		}
		p.UpdatedAt = e.now()

		updated, err = s.UpdatePayment(ctx, *p)
		return err
	})
	if err != nil {
		return Payment{}, err
	}

	e.log.InfoContext(ctx, "payment updated",
		logging.FieldPaymentID, updated.ID,
		logging.FieldVillageID, updated.VillageID,
		logging.FieldAmount, FormatMoney(updated.Amount))
	return updated, nil
}

// DeletePayment removes a payment in c's scope.
func (e *Engine) DeletePayment(ctx context.Context, c Caller, id PaymentID) error {
	err := e.store.WithTx(ctx, func(s Store) error {
		p, err := NewValidator(s).RequirePayment(ctx, id)
		if err != nil {
			return err
		}
		if err := AuthorizeVillage(c, p.VillageID); err != nil {
			return err
		}
		return s.DeletePayment(ctx, id)
	})
	if err != nil {
		return err
	}

	e.log.InfoContext(ctx, "payment deleted", logging.FieldPaymentID, id)
	return nil
}

// ListPayments returns raw payments in c's scope, newest first.
func (e *Engine) ListPayments(ctx context.Context, c Caller, filter PaymentFilter) ([]Payment, error) {
	scoped, err := e.scopePaymentFilter(c, filter)
	if err != nil {
		return nil, err
	}
	return PaymentList(ctx, e.store, scoped)
}

func (e *Engine) scopePaymentFilter(c Caller, filter PaymentFilter) (PaymentFilter, error) {
	if filter.PaymentType != nil && !filter.PaymentType.Valid() {
		return PaymentFilter{}, invalid("payment_type", "unknown payment type %q", *filter.PaymentType)
	}
	return ScopePaymentFilter(c, filter)
}

func validatePaymentFields(amount *decimal.Decimal, count *int64, typ *PaymentType) error {
	if amount != nil {
		if !amount.IsPositive() {
			return invalid("payment_amount", "must be greater than zero")
		}
		if err := ValidateMoney("payment_amount", *amount); err != nil {
			return err
		}
	}
	if count != nil && *count <= 0 {
		return invalid("sppt_paid_count", "must be greater than zero")
	}
	if typ != nil && !typ.Valid() {
		return invalid("payment_type", "unknown payment type %q", *typ)
	}
	return nil
}

func normaliseNotes(notes *string) *string {
	if notes == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*notes)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// =============================================================================
// DASHBOARDS AND REPORTS
// =============================================================================

// VillageDashboard returns the village rows in c's scope. Scoping is a
// post-filter over the full computation.
func (e *Engine) VillageDashboard(ctx context.Context, c Caller) ([]VillageDashboardRow, error) {
	scope, err := ResolveVillageScope(c, nil)
	if err != nil {
		return nil, err
	}
	rows, err := VillageDashboard(ctx, e.store)
	if err != nil {
		return nil, err
	}
	if scope == nil {
		return rows, nil
	}
	out := rows[:0]
	for _, r := range rows {
		if r.VillageID == *scope {
			out = append(out, r)
		}
	}
	return out, nil
}

func (e *Engine) HamletDashboard(ctx context.Context, c Caller, filter HamletFilter) ([]HamletDashboardRow, error) {
	scoped, err := ScopeHamletFilter(c, filter)
	if err != nil {
		return nil, err
	}
	return HamletDashboard(ctx, e.store, scoped)
}

func (e *Engine) PaymentReport(ctx context.Context, c Caller, filter PaymentFilter) ([]ReportRow, error) {
	scoped, err := e.scopePaymentFilter(c, filter)
	if err != nil {
		return nil, err
	}
	return PaymentReport(ctx, e.store, scoped)
}
