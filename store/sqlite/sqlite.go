/*
Package sqlite provides a SQLite-backed implementation of pbb.TxStore.

PURPOSE:
  Persists villages, hamlets, users and PBB payments. Aggregations are
  pushed down to SQL as grouped SUMs so the engine never loads every
  payment to build a dashboard.

KEY TABLES:
  villages:      Root of the hierarchy, UNIQUE(code)
  hamlets:       Targets per hamlet (pbb_target_cents)
  users:         Soft-deleted through is_active, UNIQUE(username)
  pbb_payments:  One row per recorded payment (amount_cents)

MONEY:
  Stored as INTEGER cents and converted with pbb.Cents / pbb.FromCents, so
  SUM() over money columns is exact.

CAPACITY ENFORCEMENT:
  Triggers trg_hamlets_capacity_insert/update RAISE(ABORT) when a village
  would own more than 5 hamlets. The error is mapped to *pbb.CapacityError.
  Together with WithTx (mutex + BEGIN IMMEDIATE) this closes the
  count-then-insert race between concurrent requests.

CONCURRENCY:
  WithTx bodies are serialised with a mutex. Plain reads and writes go
  straight to database/sql. ":memory:" databases are pinned to a single
  connection because every SQLite connection would otherwise get its own
  empty database.

USAGE:
  store, err := sqlite.New("./data/pbb.db", logger)
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := pbb.NewEngine(store, hasher, logger)

MIGRATION:
  Schema is migrated on New() with golang-migrate from the embedded
  migrations/ directory.

SEE ALSO:
  - pbb/store.go: Interface definitions
  - pbb/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/pbb-engine/logging"
	"github.com/warp/pbb-engine/pbb"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = time.RFC3339Nano

	capacityMessage = "hamlet capacity exceeded"
	mismatchMessage = "hamlet village mismatch"
)

// Store implements pbb.TxStore using SQLite.
type Store struct {
	*queries
	db  *sql.DB
	mu  sync.Mutex
	log *logging.Logger
}

// New opens (or creates) the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithComponent(logging.ComponentStorage)

	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if isMemory(dbPath) {
		db.SetMaxOpenConns(1)
	}

	version, err := RunMigrations(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Info("database ready", "path", dbPath, "schema_version", version)

	return &Store{queries: &queries{q: db}, db: db, log: logger}, nil
}

func dsn(dbPath string) string {
	params := "_foreign_keys=on&_txlock=immediate&_busy_timeout=5000"
	if !isMemory(dbPath) {
		params += "&_journal_mode=WAL"
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + params
}

func isMemory(dbPath string) bool {
	return dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// TRANSACTIONAL STORE (pbb.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. Reads inside fn go
// through the transaction, so they see fn's own writes.
func (s *Store) WithTx(ctx context.Context, fn func(pbb.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// QUERIES - pbb.Store over a *sql.DB or *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type queries struct {
	q querier
}

// =============================================================================
// VILLAGES
// =============================================================================

const villageColumns = "id, name, code, created_at, updated_at"

func scanVillage(row scanner) (pbb.Village, error) {
	var (
		v                    pbb.Village
		createdAt, updatedAt string
	)
	if err := row.Scan(&v.ID, &v.Name, &v.Code, &createdAt, &updatedAt); err != nil {
		return v, err
	}
	v.CreatedAt = parseTimestamp(createdAt)
	v.UpdatedAt = parseTimestamp(updatedAt)
	return v, nil
}

func (s *queries) GetVillage(ctx context.Context, id pbb.VillageID) (*pbb.Village, error) {
	v, err := scanVillage(s.q.QueryRowContext(ctx,
		"SELECT "+villageColumns+" FROM villages WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get village: %w", err)
	}
	return &v, nil
}

func (s *queries) GetVillageByCode(ctx context.Context, code string) (*pbb.Village, error) {
	v, err := scanVillage(s.q.QueryRowContext(ctx,
		"SELECT "+villageColumns+" FROM villages WHERE code = ?", code))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get village by code: %w", err)
	}
	return &v, nil
}

func (s *queries) ListVillages(ctx context.Context) ([]pbb.Village, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+villageColumns+" FROM villages ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list villages: %w", err)
	}
	defer rows.Close()

	villages := []pbb.Village{}
	for rows.Next() {
		v, err := scanVillage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan village: %w", err)
		}
		villages = append(villages, v)
	}
	return villages, rows.Err()
}

func (s *queries) InsertVillage(ctx context.Context, v pbb.Village) (pbb.Village, error) {
	res, err := s.q.ExecContext(ctx,
		"INSERT INTO villages (name, code, created_at, updated_at) VALUES (?, ?, ?, ?)",
		v.Name, v.Code, formatTimestamp(v.CreatedAt), formatTimestamp(v.UpdatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return pbb.Village{}, &pbb.ConflictError{Field: "code", Value: v.Code}
		}
		return pbb.Village{}, fmt.Errorf("failed to insert village: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return pbb.Village{}, err
	}
	v.ID = pbb.VillageID(id)
	return v, nil
}

// =============================================================================
// HAMLETS
// =============================================================================

const hamletColumns = "id, village_id, name, head_name, sppt_target, pbb_target_cents, created_at, updated_at"

func scanHamlet(row scanner) (pbb.Hamlet, error) {
	var (
		h                    pbb.Hamlet
		targetCents          int64
		createdAt, updatedAt string
	)
	err := row.Scan(&h.ID, &h.VillageID, &h.Name, &h.HeadName, &h.SPPTTarget,
		&targetCents, &createdAt, &updatedAt)
	if err != nil {
		return h, err
	}
	h.PBBTarget = pbb.FromCents(targetCents)
	h.CreatedAt = parseTimestamp(createdAt)
	h.UpdatedAt = parseTimestamp(updatedAt)
	return h, nil
}

func (s *queries) GetHamlet(ctx context.Context, id pbb.HamletID) (*pbb.Hamlet, error) {
	h, err := scanHamlet(s.q.QueryRowContext(ctx,
		"SELECT "+hamletColumns+" FROM hamlets WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hamlet: %w", err)
	}
	return &h, nil
}

func (s *queries) ListHamlets(ctx context.Context, filter pbb.HamletFilter) ([]pbb.Hamlet, error) {
	query := "SELECT " + hamletColumns + " FROM hamlets"
	var args []any
	if filter.VillageID != nil {
		query += " WHERE village_id = ?"
		args = append(args, *filter.VillageID)
	}
	query += " ORDER BY village_id, name, id"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list hamlets: %w", err)
	}
	defer rows.Close()

	hamlets := []pbb.Hamlet{}
	for rows.Next() {
		h, err := scanHamlet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hamlet: %w", err)
		}
		hamlets = append(hamlets, h)
	}
	return hamlets, rows.Err()
}

func (s *queries) CountHamlets(ctx context.Context, villageID pbb.VillageID) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM hamlets WHERE village_id = ?", villageID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count hamlets: %w", err)
	}
	return n, nil
}

func (s *queries) InsertHamlet(ctx context.Context, h pbb.Hamlet) (pbb.Hamlet, error) {
	if err := pbb.ValidateMoney("pbb_target", h.PBBTarget); err != nil {
		return pbb.Hamlet{}, err
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO hamlets
		(village_id, name, head_name, sppt_target, pbb_target_cents, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		h.VillageID, h.Name, h.HeadName, h.SPPTTarget, pbb.Cents(h.PBBTarget),
		formatTimestamp(h.CreatedAt), formatTimestamp(h.UpdatedAt))
	if err != nil {
		if isCapacityError(err) {
			return pbb.Hamlet{}, &pbb.CapacityError{VillageID: h.VillageID, Limit: pbb.MaxHamletsPerVillage}
		}
		if isCheckConstraintError(err) {
			return pbb.Hamlet{}, &pbb.ValidationError{Field: "hamlet", Message: err.Error()}
		}
		return pbb.Hamlet{}, fmt.Errorf("failed to insert hamlet: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return pbb.Hamlet{}, err
	}
	h.ID = pbb.HamletID(id)
	return h, nil
}

func (s *queries) UpdateHamlet(ctx context.Context, h pbb.Hamlet) (pbb.Hamlet, error) {
	if err := pbb.ValidateMoney("pbb_target", h.PBBTarget); err != nil {
		return pbb.Hamlet{}, err
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE hamlets
		SET village_id = ?, name = ?, head_name = ?, sppt_target = ?,
		    pbb_target_cents = ?, updated_at = ?
		WHERE id = ?
	`,
		h.VillageID, h.Name, h.HeadName, h.SPPTTarget, pbb.Cents(h.PBBTarget),
		formatTimestamp(h.UpdatedAt), h.ID)
	if err != nil {
		if isCapacityError(err) {
			return pbb.Hamlet{}, &pbb.CapacityError{VillageID: h.VillageID, Limit: pbb.MaxHamletsPerVillage}
		}
		if isCheckConstraintError(err) {
			return pbb.Hamlet{}, &pbb.ValidationError{Field: "hamlet", Message: err.Error()}
		}
		return pbb.Hamlet{}, fmt.Errorf("failed to update hamlet: %w", err)
	}
	if err := requireAffected(res, "hamlet", int64(h.ID)); err != nil {
		return pbb.Hamlet{}, err
	}
	return h, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `p.id, p.payment_date, p.village_id, p.hamlet_id, p.amount_cents,
	p.sppt_paid_count, p.payment_type, p.notes, p.created_by, p.created_at, p.updated_at`

func scanPaymentInto(row scanner, extra ...any) (pbb.Payment, error) {
	var (
		p                    pbb.Payment
		paymentDate          string
		amountCents          int64
		notes                sql.NullString
		createdAt, updatedAt string
	)
	dest := []any{&p.ID, &paymentDate, &p.VillageID, &p.HamletID, &amountCents,
		&p.SPPTPaidCount, &p.Type, &notes, &p.CreatedBy, &createdAt, &updatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return p, err
	}
	p.PaymentDate = parseDate(paymentDate)
	p.Amount = pbb.FromCents(amountCents)
	if notes.Valid {
		n := notes.String
		p.Notes = &n
	}
	p.CreatedAt = parseTimestamp(createdAt)
	p.UpdatedAt = parseTimestamp(updatedAt)
	return p, nil
}

// paymentWhere renders filter as a WHERE clause over alias p.
func paymentWhere(filter pbb.PaymentFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.VillageID != nil {
		clauses = append(clauses, "p.village_id = ?")
		args = append(args, *filter.VillageID)
	}
	if filter.HamletID != nil {
		clauses = append(clauses, "p.hamlet_id = ?")
		args = append(args, *filter.HamletID)
	}
	if filter.StartDate != nil {
		clauses = append(clauses, "p.payment_date >= ?")
		args = append(args, formatDate(*filter.StartDate))
	}
	if filter.EndDate != nil {
		clauses = append(clauses, "p.payment_date <= ?")
		args = append(args, formatDate(*filter.EndDate))
	}
	if filter.PaymentType != nil {
		clauses = append(clauses, "p.payment_type = ?")
		args = append(args, string(*filter.PaymentType))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *queries) GetPayment(ctx context.Context, id pbb.PaymentID) (*pbb.Payment, error) {
	p, err := scanPaymentInto(s.q.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM pbb_payments p WHERE p.id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

func (s *queries) ListPayments(ctx context.Context, filter pbb.PaymentFilter) ([]pbb.Payment, error) {
	where, args := paymentWhere(filter)
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+paymentColumns+" FROM pbb_payments p"+where+
			" ORDER BY p.payment_date DESC, p.id ASC", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	payments := []pbb.Payment{}
	for rows.Next() {
		p, err := scanPaymentInto(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *queries) ListReportSources(ctx context.Context, filter pbb.PaymentFilter) ([]pbb.ReportSource, error) {
	where, args := paymentWhere(filter)
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+paymentColumns+`, v.name, h.name, h.pbb_target_cents
		FROM pbb_payments p
		JOIN hamlets h ON h.id = p.hamlet_id
		JOIN villages v ON v.id = p.village_id`+where+`
		ORDER BY p.payment_date ASC, p.id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query report: %w", err)
	}
	defer rows.Close()

	sources := []pbb.ReportSource{}
	for rows.Next() {
		var (
			src         pbb.ReportSource
			targetCents int64
		)
		p, err := scanPaymentInto(rows, &src.VillageName, &src.HamletName, &targetCents)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		src.Payment = p
		src.PBBTarget = pbb.FromCents(targetCents)
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *queries) CountPaymentsByHamlet(ctx context.Context, hamletID pbb.HamletID) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pbb_payments WHERE hamlet_id = ?", hamletID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count payments: %w", err)
	}
	return n, nil
}

func (s *queries) InsertPayment(ctx context.Context, p pbb.Payment) (pbb.Payment, error) {
	if err := pbb.ValidateMoney("payment_amount", p.Amount); err != nil {
		return pbb.Payment{}, err
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO pbb_payments
		(payment_date, village_id, hamlet_id, amount_cents, sppt_paid_count,
		 payment_type, notes, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		formatDate(p.PaymentDate), p.VillageID, p.HamletID, pbb.Cents(p.Amount),
		p.SPPTPaidCount, string(p.Type), nullString(p.Notes), p.CreatedBy,
		formatTimestamp(p.CreatedAt), formatTimestamp(p.UpdatedAt))
	if err != nil {
		return pbb.Payment{}, paymentWriteError(err, p, "insert")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return pbb.Payment{}, err
	}
	p.ID = pbb.PaymentID(id)
	return p, nil
}

func (s *queries) UpdatePayment(ctx context.Context, p pbb.Payment) (pbb.Payment, error) {
	if err := pbb.ValidateMoney("payment_amount", p.Amount); err != nil {
		return pbb.Payment{}, err
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE pbb_payments
		SET payment_date = ?, village_id = ?, hamlet_id = ?, amount_cents = ?,
		    sppt_paid_count = ?, payment_type = ?, notes = ?, updated_at = ?
		WHERE id = ?
	`,
		formatDate(p.PaymentDate), p.VillageID, p.HamletID, pbb.Cents(p.Amount),
		p.SPPTPaidCount, string(p.Type), nullString(p.Notes),
		formatTimestamp(p.UpdatedAt), p.ID)
	if err != nil {
		return pbb.Payment{}, paymentWriteError(err, p, "update")
	}
	if err := requireAffected(res, "payment", int64(p.ID)); err != nil {
		return pbb.Payment{}, err
	}
	return p, nil
}

func (s *queries) DeletePayment(ctx context.Context, id pbb.PaymentID) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM pbb_payments WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete payment: %w", err)
	}
	return requireAffected(res, "payment", int64(id))
}

func paymentWriteError(err error, p pbb.Payment, op string) error {
	if isMismatchError(err) {
		return fmt.Errorf("%w: hamlet %d is not in village %d", pbb.ErrMismatch, p.HamletID, p.VillageID)
	}
	if isCheckConstraintError(err) {
		return &pbb.ValidationError{Field: "payment", Message: err.Error()}
	}
	return fmt.Errorf("failed to %s payment: %w", op, err)
}

// =============================================================================
// USERS
// =============================================================================

const userColumns = "id, username, password_hash, full_name, role, village_id, is_active, created_at, updated_at"

func scanUser(row scanner) (pbb.User, error) {
	var (
		u                    pbb.User
		villageID            sql.NullInt64
		createdAt, updatedAt string
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FullName, &u.Role,
		&villageID, &u.IsActive, &createdAt, &updatedAt)
	if err != nil {
		return u, err
	}
	if villageID.Valid {
		id := pbb.VillageID(villageID.Int64)
		u.VillageID = &id
	}
	u.CreatedAt = parseTimestamp(createdAt)
	u.UpdatedAt = parseTimestamp(updatedAt)
	return u, nil
}

func (s *queries) GetUser(ctx context.Context, id pbb.UserID) (*pbb.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *queries) GetUserByUsername(ctx context.Context, username string) (*pbb.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ?", username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return &u, nil
}

func (s *queries) ListUsers(ctx context.Context) ([]pbb.User, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []pbb.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *queries) InsertUser(ctx context.Context, u pbb.User) (pbb.User, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO users
		(username, password_hash, full_name, role, village_id, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		u.Username, u.PasswordHash, u.FullName, string(u.Role), nullVillage(u.VillageID),
		u.IsActive, formatTimestamp(u.CreatedAt), formatTimestamp(u.UpdatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return pbb.User{}, &pbb.ConflictError{Field: "username", Value: u.Username}
		}
		return pbb.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return pbb.User{}, err
	}
	u.ID = pbb.UserID(id)
	return u, nil
}

func (s *queries) UpdateUser(ctx context.Context, u pbb.User) (pbb.User, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE users
		SET username = ?, password_hash = ?, full_name = ?, role = ?, village_id = ?,
		    is_active = ?, updated_at = ?
		WHERE id = ?
	`,
		u.Username, u.PasswordHash, u.FullName, string(u.Role), nullVillage(u.VillageID),
		u.IsActive, formatTimestamp(u.UpdatedAt), u.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return pbb.User{}, &pbb.ConflictError{Field: "username", Value: u.Username}
		}
		return pbb.User{}, fmt.Errorf("failed to update user: %w", err)
	}
	if err := requireAffected(res, "user", int64(u.ID)); err != nil {
		return pbb.User{}, err
	}
	return u, nil
}

// =============================================================================
// GROUPED SUMS
// =============================================================================

func (s *queries) SumTargetsByVillage(ctx context.Context) (map[pbb.VillageID]pbb.TargetTotals, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT village_id, SUM(sppt_target), SUM(pbb_target_cents)
		FROM hamlets
		GROUP BY village_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to sum targets: %w", err)
	}
	defer rows.Close()

	totals := make(map[pbb.VillageID]pbb.TargetTotals)
	for rows.Next() {
		var (
			id         pbb.VillageID
			sppt, pbbC int64
		)
		if err := rows.Scan(&id, &sppt, &pbbC); err != nil {
			return nil, fmt.Errorf("failed to scan target totals: %w", err)
		}
		totals[id] = pbb.TargetTotals{SPPT: sppt, PBB: pbb.FromCents(pbbC)}
	}
	return totals, rows.Err()
}

func (s *queries) SumPaymentsByVillage(ctx context.Context) (map[pbb.VillageID]pbb.PaidTotals, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT village_id, SUM(sppt_paid_count), SUM(amount_cents)
		FROM pbb_payments
		GROUP BY village_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to sum payments by village: %w", err)
	}
	defer rows.Close()

	totals := make(map[pbb.VillageID]pbb.PaidTotals)
	for rows.Next() {
		var (
			id           pbb.VillageID
			sppt, amount int64
		)
		if err := rows.Scan(&id, &sppt, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan payment totals: %w", err)
		}
		totals[id] = pbb.PaidTotals{SPPT: sppt, PBB: pbb.FromCents(amount)}
	}
	return totals, rows.Err()
}

func (s *queries) SumPaymentsByHamlet(ctx context.Context, filter pbb.HamletFilter) (map[pbb.HamletID]pbb.PaidTotals, error) {
	query := "SELECT hamlet_id, SUM(sppt_paid_count), SUM(amount_cents) FROM pbb_payments"
	var args []any
	if filter.VillageID != nil {
		query += " WHERE village_id = ?"
		args = append(args, *filter.VillageID)
	}
	query += " GROUP BY hamlet_id"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to sum payments by hamlet: %w", err)
	}
	defer rows.Close()

	totals := make(map[pbb.HamletID]pbb.PaidTotals)
	for rows.Next() {
		var (
			id           pbb.HamletID
			sppt, amount int64
		)
		if err := rows.Scan(&id, &sppt, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan payment totals: %w", err)
		}
		totals[id] = pbb.PaidTotals{SPPT: sppt, PBB: pbb.FromCents(amount)}
	}
	return totals, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(timestampLayout, s)
	return t
}

func formatDate(t time.Time) string {
	return pbb.Date(t).Format(dateLayout)
}

func parseDate(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullVillage(id *pbb.VillageID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

func requireAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &pbb.NotFoundError{Entity: entity, ID: id}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// isCheckConstraintError reports a CHECK violation. The engine validates
// first, so reaching one means a caller bypassed it.
func isCheckConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintCheck
	}
	return false
}

func isCapacityError(err error) bool {
	return err != nil && strings.Contains(err.Error(), capacityMessage)
}

func isMismatchError(err error) bool {
	return err != nil && strings.Contains(err.Error(), mismatchMessage)
}
