// Package repotest opens throwaway SQLite stores for package tests.
package repotest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/wakala/reconagent/internal/domain"
	"github.com/wakala/reconagent/internal/repository"
)

// NewStore returns a migrated store backed by a file in t.TempDir().
func NewStore(t testing.TB) *repository.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := repository.Open(repository.DriverSQLite, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	require.NoError(t, db.Migrate(context.Background()))
	return repository.NewStore(db)
}

// Record builds a transaction record with the normalized and original
// amounts both set to amount.
func Record(source domain.SourceType, txnID, customerID, amount string, ts time.Time) domain.TransactionRecord {
	amt := decimal.RequireFromString(amount)
	return domain.TransactionRecord{
		SourceType:         source,
		SourceName:         string(source) + "-test",
		TransactionID:      txnID,
		ReferenceID:        "REF-" + txnID,
		CustomerID:         customerID,
		OriginalAmount:     amt,
		OriginalCurrency:   "USD",
		NormalizedAmount:   amt,
		NormalizedCurrency: "USD",
		TransactionType:    "PAYMENT",
		Timestamp:          ts,
	}
}

// Insert stores recs and fails the test on error.
func Insert(t testing.TB, st *repository.Store, recs ...domain.TransactionRecord) {
	t.Helper()
	_, err := st.Transactions.BulkInsert(context.Background(), recs)
	require.NoError(t, err)
}
