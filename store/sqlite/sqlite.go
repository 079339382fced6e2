/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every core persistence interface (products, ledger, batches,
  counters, identities) on one SQLite database through sqlx.

INTERFACES IMPLEMENTED:
  core.ProductStore:  Catalog rows and lifecycle flags
  core.LedgerStore:   Atomic stock increment plus movement append
  core.BatchStore:    Bulk restock parent records
  core.CounterStore:  Document number counters
  core.IdentityStore: Principals, without credentials

STOCK REPRESENTATION:
  products.stock_micros and movements.base_micros are INTEGER micro-units
  (quantity * 10^6). Base quantities are already rounded to six places, so
  the conversion is exact and `stock_micros = stock_micros + ?` never
  drifts from the ledger sum.

ATOMICITY:
  ApplyMovement runs the product guard, the stock increment and the
  movement insert in one transaction. Any failure rolls back all three.

CONCURRENCY:
  Writers are serialized with sync.RWMutex and transactions begin
  IMMEDIATE, so a guarded read inside a transaction cannot go stale.

MIGRATION:
  Versioned migrations are embedded and applied with golang-migrate on
  New(). The `migrate` CLI command reports the resulting version.

USAGE:
  store, err := sqlite.New("./data/clinic.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - core/store.go: Interface definitions
  - core/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"database/sql"
	"embed"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/warp/clinic-engine/core"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout is fixed-width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db       *sqlx.DB
	mu       sync.RWMutex
	migrator *migrate.Migrate
}

var _ core.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if dbPath == ":memory:" || strings.HasPrefix(dbPath, "file::memory:") {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return errors.Wrap(err, "failed to load migrations")
	}
	driver, err := msqlite.WithInstance(s.db.DB, &msqlite.Config{})
	if err != nil {
		return errors.Wrap(err, "failed to init migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return errors.Wrap(err, "failed to init migrator")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	// m.Close would close the shared *sql.DB; the migrator lives as long as the store.
	s.migrator = m
	return nil
}

// SchemaVersion returns the applied migration version.
func (s *Store) SchemaVersion() (uint, bool, error) {
	return s.migrator.Version()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) *decimal.Decimal {
	if !s.Valid {
		return nil
	}
	d := parseDecimal(s.String)
	return &d
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// toMicros converts a quantity already rounded to QuantityScale.
func toMicros(d decimal.Decimal) (int64, error) {
	n := d.Shift(core.QuantityScale).Round(0).BigInt()
	if !n.IsInt64() {
		return 0, core.Invalid("quantity", "%s does not fit the ledger", d)
	}
	return n.Int64(), nil
}

func fromMicros(n int64) decimal.Decimal {
	return decimal.New(n, -core.QuantityScale)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
