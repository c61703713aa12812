package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/wakala/reconagent/internal/domain"
)

const transactionColumns = `source_type, source_name, transaction_id, reference_id, customer_id,
	original_amount, original_currency, normalized_amount, normalized_currency,
	transaction_type, ts, reconciled, fraud_flag`

type TransactionRepo struct {
	db *DB
}

func NewTransactionRepo(db *DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

// BulkInsert stores records in one transaction. Records whose identity already
// exists are skipped.
func (r *TransactionRepo) BulkInsert(ctx context.Context, recs []domain.TransactionRecord) (int, error) {
	inserted := 0
	err := r.db.WithTx(ctx, func(tx *Tx) error {
		var err error
		inserted, err = insertTransactions(ctx, tx, recs)
		return err
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *TransactionRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&count)
	return count, eris.Wrap(err, "count transactions")
}

// AmountChange rewrites the normalized amount of one record.
type AmountChange struct {
	Key    domain.RecordKey
	Amount decimal.Decimal
}

// Plant inserts recs, then deletes the removed records and applies the amount
// changes, all in one transaction. Only seeding uses it to plant anomalies.
func (r *TransactionRepo) Plant(ctx context.Context, recs []domain.TransactionRecord, removed []domain.RecordKey, changes []AmountChange) (int, error) {
	inserted := 0
	err := r.db.WithTx(ctx, func(tx *Tx) error {
		var err error
		if inserted, err = insertTransactions(ctx, tx, recs); err != nil {
			return err
		}
		for _, k := range removed {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM transactions WHERE source_type = ? AND transaction_id = ?",
				string(k.SourceType), k.TransactionID,
			); err != nil {
				return eris.Wrapf(err, "delete %s/%s", k.SourceType, k.TransactionID)
			}
		}
		for _, c := range changes {
			if _, err := tx.ExecContext(ctx,
				"UPDATE transactions SET normalized_amount = ? WHERE source_type = ? AND transaction_id = ?",
				c.Amount, string(c.Key.SourceType), c.Key.TransactionID,
			); err != nil {
				return eris.Wrapf(err, "update %s/%s", c.Key.SourceType, c.Key.TransactionID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func insertTransactions(ctx context.Context, tx *Tx, recs []domain.TransactionRecord) (int, error) {
	stmt, err := tx.PrepareContext(ctx, rebind(tx.driver,
		`INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT DO NOTHING`))
	if err != nil {
		return 0, eris.Wrap(err, "prepare")
	}
	defer stmt.Close()

	inserted := 0
	for i := range recs {
		rec := &recs[i]
		res, err := stmt.ExecContext(ctx,
			string(rec.SourceType), rec.SourceName, rec.TransactionID, rec.ReferenceID,
			rec.CustomerID, rec.OriginalAmount, rec.OriginalCurrency,
			rec.NormalizedAmount, rec.NormalizedCurrency, rec.TransactionType,
			formatTime(rec.Timestamp), rec.Reconciled, rec.FraudFlag,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "insert row %d", i)
		}
		ra, _ := res.RowsAffected()
		inserted += int(ra)
	}
	return inserted, nil
}

// TransactionFilter selects records. Zero values mean "no constraint".
// Timestamp bounds are inclusive; AmountGT is strict.
type TransactionFilter struct {
	SourceType     domain.SourceType
	Reconciled     *bool
	CustomerID     string
	CustomerIDs    []string
	TransactionIDs []string
	From           *time.Time
	To             *time.Time
	AmountGT       *decimal.Decimal
	AmountGTE      *decimal.Decimal
	AmountLTE      *decimal.Decimal
	NewestFirst    bool
	Limit          int
}

func (r *TransactionRepo) List(ctx context.Context, f TransactionFilter) ([]domain.TransactionRecord, error) {
	return listTransactions(ctx, r.db, f)
}

// Unreconciled returns the unreconciled records of one source.
func (r *TransactionRepo) Unreconciled(ctx context.Context, source domain.SourceType) ([]domain.TransactionRecord, error) {
	no := false
	return r.List(ctx, TransactionFilter{SourceType: source, Reconciled: &no})
}

// RecentPSP returns the customer's newest PSP records, at most limit.
func (r *TransactionRepo) RecentPSP(ctx context.Context, customerID string, limit int) ([]domain.TransactionRecord, error) {
	return r.List(ctx, TransactionFilter{
		SourceType:  domain.SourcePSP,
		CustomerID:  customerID,
		NewestFirst: true,
		Limit:       limit,
	})
}

func listTransactions(ctx context.Context, q runner, f TransactionFilter) ([]domain.TransactionRecord, error) {
	where, args := buildTransactionWhere(f)
	query := "SELECT " + transactionColumns + " FROM transactions" + where
	if f.NewestFirst {
		query += " ORDER BY ts DESC, transaction_id"
	} else {
		query += " ORDER BY ts, transaction_id"
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "query transactions")
	}
	defer rows.Close()

	var recs []domain.TransactionRecord
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan transaction")
		}
		recs = append(recs, rec)
	}
	return recs, eris.Wrap(rows.Err(), "iterate transactions")
}

func markReconciled(ctx context.Context, q runner, keys []domain.RecordKey) error {
	for _, k := range keys {
		if _, err := q.ExecContext(ctx,
			"UPDATE transactions SET reconciled = ? WHERE source_type = ? AND transaction_id = ?",
			true, string(k.SourceType), k.TransactionID,
		); err != nil {
			return eris.Wrapf(err, "mark reconciled %s/%s", k.SourceType, k.TransactionID)
		}
	}
	return nil
}

func flagFraud(ctx context.Context, q runner, keys []domain.RecordKey) error {
	for _, k := range keys {
		if _, err := q.ExecContext(ctx,
			"UPDATE transactions SET fraud_flag = ? WHERE source_type = ? AND transaction_id = ?",
			true, string(k.SourceType), k.TransactionID,
		); err != nil {
			return eris.Wrapf(err, "flag fraud %s/%s", k.SourceType, k.TransactionID)
		}
	}
	return nil
}

// --- helpers ---

func buildTransactionWhere(f TransactionFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.SourceType != "" {
		clauses = append(clauses, "source_type = ?")
		args = append(args, string(f.SourceType))
	}
	if f.Reconciled != nil {
		clauses = append(clauses, "reconciled = ?")
		args = append(args, *f.Reconciled)
	}
	if f.CustomerID != "" {
		clauses = append(clauses, "customer_id = ?")
		args = append(args, f.CustomerID)
	}
	if len(f.CustomerIDs) > 0 {
		clauses = append(clauses, "customer_id IN ("+placeholders(len(f.CustomerIDs))+")")
		for _, id := range f.CustomerIDs {
			args = append(args, id)
		}
	}
	if len(f.TransactionIDs) > 0 {
		clauses = append(clauses, "transaction_id IN ("+placeholders(len(f.TransactionIDs))+")")
		for _, id := range f.TransactionIDs {
			args = append(args, id)
		}
	}
	if f.From != nil {
		clauses = append(clauses, "ts >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "ts <= ?")
		args = append(args, formatTime(*f.To))
	}
	if f.AmountGT != nil {
		clauses = append(clauses, "normalized_amount > ?")
		args = append(args, f.AmountGT.InexactFloat64())
	}
	if f.AmountGTE != nil {
		clauses = append(clauses, "normalized_amount >= ?")
		args = append(args, f.AmountGTE.InexactFloat64())
	}
	if f.AmountLTE != nil {
		clauses = append(clauses, "normalized_amount <= ?")
		args = append(args, f.AmountLTE.InexactFloat64())
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (domain.TransactionRecord, error) {
	var rec domain.TransactionRecord
	var source, ts string
	var reconciled, fraud sql.NullBool

	err := s.Scan(
		&source, &rec.SourceName, &rec.TransactionID, &rec.ReferenceID, &rec.CustomerID,
		&rec.OriginalAmount, &rec.OriginalCurrency, &rec.NormalizedAmount, &rec.NormalizedCurrency,
		&rec.TransactionType, &ts, &reconciled, &fraud,
	)
	if err != nil {
		return rec, err
	}
	rec.SourceType = domain.SourceType(source)
	rec.Timestamp = parseTime(ts)
	rec.Reconciled = reconciled.Bool
	rec.FraudFlag = fraud.Bool
	return rec, nil
}
