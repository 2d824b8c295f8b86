/*
store.go - Persistence interface for villages, hamlets, payments and users

PURPOSE:
  Defines the interface between the engine and the database. The engine
  only needs point lookups, filtered scans and grouped sums; how they are
  computed is the implementation's business.

KEY INTERFACES:
  Store:   All reads and writes the engine performs
  TxStore: Store plus WithTx for serialised validate-then-write units

LOOKUP CONTRACT:
  Get* methods return (nil, nil) when the row does not exist. Turning a
  missing row into a NotFound failure is the Validator's job.

CAPACITY CONTRACT:
  InsertHamlet and UpdateHamlet MUST reject a write that would leave a
  village with more than MaxHamletsPerVillage hamlets, returning a
  *CapacityError. This is the store-level half of closing the
  check-then-insert race; WithTx serialisation is the other half.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite, cap enforced by triggers
  - pbb/store/memory.go: In-memory for testing

SEE ALSO:
  - validator.go: Runs inside WithTx before every write
  - aggregate.go: Consumer of the grouped sums
*/
package pbb

import "context"

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// Villages
	GetVillage(ctx context.Context, id VillageID) (*Village, error)
	GetVillageByCode(ctx context.Context, code string) (*Village, error)
	// ListVillages returns villages ordered by name.
	ListVillages(ctx context.Context) ([]Village, error)
	InsertVillage(ctx context.Context, v Village) (Village, error)

	// Hamlets
	GetHamlet(ctx context.Context, id HamletID) (*Hamlet, error)
	// ListHamlets returns hamlets ordered by village id, then name, then id.
	ListHamlets(ctx context.Context, filter HamletFilter) ([]Hamlet, error)
	CountHamlets(ctx context.Context, villageID VillageID) (int, error)
	InsertHamlet(ctx context.Context, h Hamlet) (Hamlet, error)
	UpdateHamlet(ctx context.Context, h Hamlet) (Hamlet, error)

	// Payments
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)
	// ListPayments returns matching payments, newest payment date first,
	// ties broken by ascending id.
	ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error)
	// ListReportSources returns matching payments joined to their hamlet and
	// village, ordered by payment date then id.
	ListReportSources(ctx context.Context, filter PaymentFilter) ([]ReportSource, error)
	CountPaymentsByHamlet(ctx context.Context, hamletID HamletID) (int, error)
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	UpdatePayment(ctx context.Context, p Payment) (Payment, error)
	DeletePayment(ctx context.Context, id PaymentID) error

	// Users
	GetUser(ctx context.Context, id UserID) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	InsertUser(ctx context.Context, u User) (User, error)
	UpdateUser(ctx context.Context, u User) (User, error)

	// Grouped sums. Villages/hamlets without rows are absent from the map.
	SumTargetsByVillage(ctx context.Context) (map[VillageID]TargetTotals, error)
	SumPaymentsByVillage(ctx context.Context) (map[VillageID]PaidTotals, error)
	SumPaymentsByHamlet(ctx context.Context, filter HamletFilter) (map[HamletID]PaidTotals, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a serialised transaction. Only one WithTx
	// body runs at a time per store. If fn returns an error nothing fn wrote
	// is kept.
	WithTx(ctx context.Context, fn func(Store) error) error
}
