package repository

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = eris.New("not found")
	// ErrReportAlreadySet is returned when a run already carries an executive report.
	ErrReportAlreadySet = eris.New("executive report already set")
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// timeLayout is fixed-width so that stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

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

// runner is satisfied by both *DB and *Tx so helpers can run inside or
// outside a transaction.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps *sql.DB and rewrites "?" placeholders for drivers that need
// positional parameters.
type DB struct {
	*sql.DB
	driver string
}

// Tx is a transaction bound to the same placeholder dialect as its DB.
type Tx struct {
	*sql.Tx
	driver string
}

// Open connects to the store. For SQLite it enables WAL mode and limits the
// pool to a single connection; pass ":memory:" only for throwaway use.
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverSQLite, "":
		return openSQLite(dsn)
	case DriverPostgres:
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: open")
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, eris.Wrap(err, "postgres: ping")
		}
		return &DB{DB: db, driver: DriverPostgres}, nil
	default:
		return nil, eris.Errorf("unsupported store driver %q", driver)
	}
}

func openSQLite(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &DB{DB: db, driver: DriverSQLite}, nil
}

func (d *DB) Driver() string { return d.driver }

func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.DB.ExecContext(ctx, rebind(d.driver, query), args...)
}

func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.DB.QueryContext(ctx, rebind(d.driver, query), args...)
}

func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.DB.QueryRowContext(ctx, rebind(d.driver, query), args...)
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.Tx.ExecContext(ctx, rebind(t.driver, query), args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.Tx.QueryContext(ctx, rebind(t.driver, query), args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.Tx.QueryRowContext(ctx, rebind(t.driver, query), args...)
}

// WithTx runs fn in a transaction, committing only if fn returns nil.
func (d *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin tx")
	}
	defer sqlTx.Rollback() //nolint:errcheck

	if err := fn(&Tx{Tx: sqlTx, driver: d.driver}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return eris.Wrap(err, "commit")
	}
	return nil
}

func rebind(driver, query string) string {
	if driver != DriverPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Migrate ensures all tables exist. The DDL is valid for both SQLite and
// Postgres.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			source_type TEXT NOT NULL,
			source_name TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			reference_id TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			original_amount NUMERIC NOT NULL,
			original_currency TEXT NOT NULL,
			normalized_amount NUMERIC NOT NULL,
			normalized_currency TEXT NOT NULL,
			transaction_type TEXT NOT NULL,
			ts TEXT NOT NULL,
			reconciled BOOLEAN NOT NULL DEFAULT FALSE,
			fraud_flag BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (source_type, transaction_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_source_reconciled ON transactions(source_type, reconciled)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_customer_ts ON transactions(customer_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_txn_id ON transactions(transaction_id)`,

		`CREATE TABLE IF NOT EXISTS customers (
			customer_id TEXT PRIMARY KEY,
			historical_avg_amount NUMERIC NOT NULL,
			cumulative_risk_score INTEGER NOT NULL DEFAULT 0,
			risk_level TEXT NOT NULL DEFAULT 'LOW',
			account_status TEXT NOT NULL DEFAULT 'ACTIVE'
		)`,

		`CREATE TABLE IF NOT EXISTS reconciliation_runs (
			id TEXT PRIMARY KEY,
			run_date TEXT NOT NULL,
			psp_total NUMERIC NOT NULL,
			internal_total NUMERIC NOT NULL,
			erp_total NUMERIC NOT NULL,
			variance_amount NUMERIC NOT NULL,
			auto_reconciled_rate DOUBLE PRECISION NOT NULL,
			discrepancy_count INTEGER NOT NULL,
			status TEXT NOT NULL,
			executive_report TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_run_date ON reconciliation_runs(run_date)`,

		`CREATE TABLE IF NOT EXISTS discrepancies (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES reconciliation_runs(id),
			type TEXT NOT NULL,
			transaction_ids TEXT NOT NULL,
			customer_ids TEXT NOT NULL,
			variance_amount NUMERIC NOT NULL,
			status TEXT NOT NULL,
			UNIQUE (run_id, type)
		)`,

		`CREATE TABLE IF NOT EXISTS fraud_alerts (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES reconciliation_runs(id),
			customer_id TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			risk_score INTEGER NOT NULL,
			related_transaction_ids TEXT NOT NULL,
			total_amount NUMERIC NOT NULL,
			transaction_count INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fraud_alerts_run_type ON fraud_alerts(run_id, alert_type)`,

		`CREATE TABLE IF NOT EXISTS investigation_logs (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES reconciliation_runs(id),
			iteration INTEGER NOT NULL,
			tool_called TEXT NOT NULL,
			belief_snapshot TEXT NOT NULL,
			evidence_summary TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE (run_id, iteration)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_investigation_logs_created ON investigation_logs(created_at)`,

		`CREATE TABLE IF NOT EXISTS hypothesis_weights (
			hypothesis_type TEXT NOT NULL,
			source_name TEXT NOT NULL DEFAULT '',
			weight DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (hypothesis_type, source_name)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return eris.Wrapf(err, "migrate: exec %q", firstLine(stmt))
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
