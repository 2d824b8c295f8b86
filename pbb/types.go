/*
Package pbb provides the target/payment aggregation and integrity engine.

PURPOSE:
  Tracks land-and-building tax (PBB) collection across a fixed administrative
  hierarchy (villages -> hamlets) and reconciles recorded payments against
  per-hamlet collection targets.

KEY CONCEPTS IN THIS FILE (types.go):
  - Village:  Root of the hierarchy, owns at most MaxHamletsPerVillage hamlets
  - Hamlet:   Smallest tracked unit, carries the SPPT and PBB targets
  - Payment:  One recorded batch of SPPT objects paid together
  - User:     Platform admin or village-scoped operator
  - Caller:   The identity an operation runs as (role + home village)

DESIGN PRINCIPLES:
  1. Precision: Money is decimal.Decimal with 2 fractional digits, never float64
  2. Type Safety: Distinct ID types prevent mixing village/hamlet/payment IDs
  3. Single Scope Point: Role-dependent narrowing lives in scope.go only
  4. Validate Before Commit: Every write path runs the Validator inside WithTx

SEE ALSO:
  - validator.go: Structural invariants checked before mutations
  - scope.go: Caller scope resolution
  - aggregate.go: Village and hamlet dashboards
  - report.go: Row-level payment report and listing
  - engine.go: The operations exposed to the transport layer
*/
package pbb

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxHamletsPerVillage is the hard cap on hamlets owned by one village.
const MaxHamletsPerVillage = 5

// =============================================================================
// IDENTIFIERS
// =============================================================================

type VillageID int64
type HamletID int64
type PaymentID int64
type UserID int64

// =============================================================================
// ENUMS
// =============================================================================

// Role determines which villages a user may read or mutate.
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleVillageUser Role = "village_user"
)

func (r Role) Valid() bool {
	return r == RoleSuperAdmin || r == RoleVillageUser
}

// PaymentType is the closed set of ways a PBB payment can be made.
type PaymentType string

const (
	PaymentCash     PaymentType = "tunai"
	PaymentTransfer PaymentType = "transfer"
	PaymentDeposit  PaymentType = "setoran"
)

func (t PaymentType) Valid() bool {
	switch t {
	case PaymentCash, PaymentTransfer, PaymentDeposit:
		return true
	}
	return false
}

// =============================================================================
// ENTITIES
// =============================================================================

type Village struct {
	ID        VillageID
	Name      string
	Code      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Hamlet struct {
	ID         HamletID
	VillageID  VillageID
	Name       string
	HeadName   string
	SPPTTarget int64
	PBBTarget  decimal.Decimal
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Payment is one recorded PBB payment. A single record covers SPPTPaidCount
// tax objects paid together. VillageID always equals the owning village of
// HamletID.
type Payment struct {
	ID            PaymentID
	PaymentDate   time.Time // calendar date, UTC midnight
	VillageID     VillageID
	HamletID      HamletID
	Amount        decimal.Decimal
	SPPTPaidCount int64
	Type          PaymentType
	Notes         *string
	CreatedBy     UserID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// User is never physically removed; deletion sets IsActive to false.
// VillageID is set iff Role is RoleVillageUser.
type User struct {
	ID           UserID
	Username     string
	PasswordHash string
	FullName     string
	Role         Role
	VillageID    *VillageID
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// =============================================================================
// CALLER
// =============================================================================

// Caller is the identity an engine operation runs as. The transport layer
// builds it from an authenticated user; the engine never inspects credentials.
type Caller struct {
	UserID        UserID
	Role          Role
	HomeVillageID *VillageID
}

func (c Caller) IsAdmin() bool { return c.Role == RoleSuperAdmin }

// CallerFor builds the Caller for a stored user.
func CallerFor(u User) Caller {
	return Caller{UserID: u.ID, Role: u.Role, HomeVillageID: u.VillageID}
}

// =============================================================================
// FILTERS
// =============================================================================

type HamletFilter struct {
	VillageID *VillageID
}

// PaymentFilter predicates are conjunctive. StartDate and EndDate are
// inclusive calendar-date bounds on PaymentDate.
type PaymentFilter struct {
	VillageID   *VillageID
	HamletID    *HamletID
	StartDate   *time.Time
	EndDate     *time.Time
	PaymentType *PaymentType
}

// Matches reports whether p satisfies every predicate set on f.
func (f PaymentFilter) Matches(p Payment) bool {
	if f.VillageID != nil && p.VillageID != *f.VillageID {
		return false
	}
	if f.HamletID != nil && p.HamletID != *f.HamletID {
		return false
	}
	if f.StartDate != nil && p.PaymentDate.Before(Date(*f.StartDate)) {
		return false
	}
	if f.EndDate != nil && p.PaymentDate.After(Date(*f.EndDate)) {
		return false
	}
	if f.PaymentType != nil && p.Type != *f.PaymentType {
		return false
	}
	return true
}

// Date truncates t to its UTC calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// AGGREGATE ROWS
// =============================================================================

// TargetTotals is the grouped sum of hamlet targets for one village.
type TargetTotals struct {
	SPPT int64
	PBB  decimal.Decimal
}

// PaidTotals is the grouped sum of payments for one village or hamlet.
type PaidTotals struct {
	SPPT int64
	PBB  decimal.Decimal
}

type VillageDashboardRow struct {
	VillageID             VillageID
	VillageName           string
	TotalSPPTTarget       int64
	TotalPBBTarget        decimal.Decimal
	TotalSPPTPaid         int64
	TotalPBBPaid          decimal.Decimal
	AchievementPercentage decimal.Decimal
}

type HamletDashboardRow struct {
	HamletID              HamletID
	HamletName            string
	VillageID             VillageID
	VillageName           string
	SPPTTarget            int64
	PBBTarget             decimal.Decimal
	SPPTPaid              int64
	PBBPaid               decimal.Decimal
	AchievementPercentage decimal.Decimal
}

// ReportSource is one payment joined with its hamlet and village, as read
// from the store. The Report Projector turns it into a ReportRow.
type ReportSource struct {
	Payment     Payment
	VillageName string
	HamletName  string
	PBBTarget   decimal.Decimal
}

type ReportRow struct {
	PaymentID             PaymentID
	PaymentDate           time.Time
	VillageID             VillageID
	VillageName           string
	HamletID              HamletID
	HamletName            string
	PaymentAmount         decimal.Decimal
	SPPTPaidCount         int64
	PaymentType           PaymentType
	AchievementPercentage decimal.Decimal
}
