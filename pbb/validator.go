/*
validator.go - Structural invariants checked before a write commits

PURPOSE:
  The Validator is consulted on every write path (village, hamlet, payment,
  user) from inside Store.WithTx, so the check and the write it guards form
  one serialised unit. It is read-only; the caller performs the write only
  if validation succeeds, and a failure leaves the store unchanged.

INVARIANTS:
  1. A referenced village, hamlet, user or payment exists        -> NotFound
  2. A village owns at most MaxHamletsPerVillage hamlets           -> CapacityExceeded
  3. A payment's hamlet is owned by the payment's village          -> Mismatch
  4. Village codes and usernames are unique                        -> Conflict
  5. A hamlet with recorded payments keeps its village             -> Conflict

CHECK ORDER (ValidatePaymentReferences):
  village -> creator -> hamlet -> hamlet/village agreement
  Callers branch on the first failure, so this order is part of the contract.

SEE ALSO:
  - store.go: WithTx and the store-level capacity contract
  - engine.go: Write paths that call into the Validator
*/
package pbb

import (
	"context"
	"fmt"
	"strings"
)

// Validator checks referential and structural invariants against a Store.
type Validator struct {
	store Store
}

func NewValidator(store Store) *Validator {
	return &Validator{store: store}
}

// =============================================================================
// EXISTENCE
// =============================================================================

func (v *Validator) RequireVillage(ctx context.Context, id VillageID) (*Village, error) {
	village, err := v.store.GetVillage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get village %d: %w", id, err)
	}
	if village == nil {
		return nil, &NotFoundError{Entity: "village", ID: int64(id)}
	}
	return village, nil
}

func (v *Validator) RequireHamlet(ctx context.Context, id HamletID) (*Hamlet, error) {
	hamlet, err := v.store.GetHamlet(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get hamlet %d: %w", id, err)
	}
	if hamlet == nil {
		return nil, &NotFoundError{Entity: "hamlet", ID: int64(id)}
	}
	return hamlet, nil
}

func (v *Validator) RequireUser(ctx context.Context, id UserID) (*User, error) {
	user, err := v.store.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	if user == nil {
		return nil, &NotFoundError{Entity: "user", ID: int64(id)}
	}
	return user, nil
}

func (v *Validator) RequirePayment(ctx context.Context, id PaymentID) (*Payment, error) {
	payment, err := v.store.GetPayment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get payment %d: %w", id, err)
	}
	if payment == nil {
		return nil, &NotFoundError{Entity: "payment", ID: int64(id)}
	}
	return payment, nil
}

// =============================================================================
// HAMLETS
// =============================================================================

// ValidateHamletCreate fails with NotFound if the village is absent and with
// CapacityExceeded if it already owns MaxHamletsPerVillage hamlets.
func (v *Validator) ValidateHamletCreate(ctx context.Context, villageID VillageID) error {
	if _, err := v.RequireVillage(ctx, villageID); err != nil {
		return err
	}
	return v.checkCapacity(ctx, villageID)
}

func (v *Validator) checkCapacity(ctx context.Context, villageID VillageID) error {
	count, err := v.store.CountHamlets(ctx, villageID)
	if err != nil {
		return fmt.Errorf("count hamlets of village %d: %w", villageID, err)
	}
	if count >= MaxHamletsPerVillage {
		return &CapacityError{VillageID: villageID, Limit: MaxHamletsPerVillage}
	}
	return nil
}

// ValidateHamletBelongsToVillage fails with NotFound if the hamlet is absent
// and with Mismatch if it is owned by a different village.
func (v *Validator) ValidateHamletBelongsToVillage(ctx context.Context, hamletID HamletID, villageID VillageID) (*Hamlet, error) {
	hamlet, err := v.RequireHamlet(ctx, hamletID)
	if err != nil {
		return nil, err
	}
	if hamlet.VillageID != villageID {
		return nil, &MismatchError{HamletID: hamletID, VillageID: villageID, ActualVillageID: hamlet.VillageID}
	}
	return hamlet, nil
}

// ValidateHamletReassignment guards moving hamlet h to newVillageID. The new
// village must exist and have room, and h must have no recorded payments:
// those payments carry the old village id and would stop agreeing with
// their hamlet.
func (v *Validator) ValidateHamletReassignment(ctx context.Context, h Hamlet, newVillageID VillageID) error {
	if h.VillageID == newVillageID {
		return nil
	}
	if _, err := v.RequireVillage(ctx, newVillageID); err != nil {
		return err
	}
	if err := v.checkCapacity(ctx, newVillageID); err != nil {
		return err
	}
	n, err := v.store.CountPaymentsByHamlet(ctx, h.ID)
	if err != nil {
		return fmt.Errorf("count payments of hamlet %d: %w", h.ID, err)
	}
	if n > 0 {
		return &ConflictError{
			Field: "village_id",
			Message: fmt.Sprintf("hamlet %d has %d recorded payments under village %d and cannot be moved",
				h.ID, n, h.VillageID),
		}
	}
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// ValidatePaymentReferences checks, in order: the village exists, the
// creator exists, the hamlet exists, the hamlet belongs to the village.
func (v *Validator) ValidatePaymentReferences(ctx context.Context, villageID VillageID, hamletID HamletID, createdBy UserID) error {
	if _, err := v.RequireVillage(ctx, villageID); err != nil {
		return err
	}
	if _, err := v.RequireUser(ctx, createdBy); err != nil {
		return err
	}
	_, err := v.ValidateHamletBelongsToVillage(ctx, hamletID, villageID)
	return err
}

// =============================================================================
// UNIQUENESS
// =============================================================================

// ValidateVillageCodeUnique fails with Conflict if code is taken.
// Comparison is case-sensitive.
func (v *Validator) ValidateVillageCodeUnique(ctx context.Context, code string) error {
	existing, err := v.store.GetVillageByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("get village by code: %w", err)
	}
	if existing != nil {
		return &ConflictError{Field: "code", Value: code}
	}
	return nil
}

// ValidateUsernameUnique fails with Conflict if username belongs to a user
// other than self. Pass a nil self when creating.
func (v *Validator) ValidateUsernameUnique(ctx context.Context, username string, self *UserID) error {
	existing, err := v.store.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("get user by username: %w", err)
	}
	if existing != nil && (self == nil || existing.ID != *self) {
		return &ConflictError{Field: "username", Value: username}
	}
	return nil
}

// ValidateUserVillage enforces that village_id is set iff the role is
// village-scoped, and that the village exists.
func (v *Validator) ValidateUserVillage(ctx context.Context, role Role, villageID *VillageID) error {
	switch role {
	case RoleSuperAdmin:
		if villageID != nil {
			return invalid("village_id", "must be empty for role %s", role)
		}
		return nil
	case RoleVillageUser:
		if villageID == nil {
			return invalid("village_id", "is required for role %s", role)
		}
		_, err := v.RequireVillage(ctx, *villageID)
		return err
	}
	return invalid("role", "unknown role %q", role)
}

// =============================================================================
// FIELD CONSTRAINTS
// =============================================================================

func requireText(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid(field, "must not be empty")
	}
	return nil
}
