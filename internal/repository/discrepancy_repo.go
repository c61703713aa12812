package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/wakala/reconagent/internal/domain"
)

const discrepancyColumns = `id, run_id, type, transaction_ids, customer_ids, variance_amount, status`

type DiscrepancyRepo struct {
	db *DB
}

func NewDiscrepancyRepo(db *DB) *DiscrepancyRepo {
	return &DiscrepancyRepo{db: db}
}

// ListByRun returns the discrepancies recorded for a run ordered by type.
func (r *DiscrepancyRepo) ListByRun(ctx context.Context, runID string) ([]domain.Discrepancy, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+discrepancyColumns+" FROM discrepancies WHERE run_id = ? ORDER BY type", runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "query discrepancies")
	}
	defer rows.Close()
	return scanDiscrepancies(rows)
}

// GetByRunAndType returns the single discrepancy of a category for a run, or
// ErrNotFound.
func (r *DiscrepancyRepo) GetByRunAndType(ctx context.Context, runID string, t domain.DiscrepancyType) (*domain.Discrepancy, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+discrepancyColumns+" FROM discrepancies WHERE run_id = ? AND type = ?",
		runID, string(t),
	)
	d, err := scanDiscrepancy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "discrepancy %s for run %s", t, runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan discrepancy")
	}
	return &d, nil
}

func insertDiscrepancy(ctx context.Context, q runner, d *domain.Discrepancy) error {
	txnIDs, err := encodeIDs(d.TransactionIDs)
	if err != nil {
		return err
	}
	custIDs, err := encodeIDs(d.CustomerIDs)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO discrepancies (`+discrepancyColumns+`) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.RunID, string(d.Type), txnIDs, custIDs, d.VarianceAmount, d.Status,
	)
	return eris.Wrapf(err, "insert discrepancy %s", d.Type)
}

// --- helpers ---

func encodeIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", eris.Wrap(err, "encode ids")
	}
	return string(b), nil
}

func decodeIDs(s string) ([]string, error) {
	ids := []string{}
	if s == "" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, eris.Wrap(err, "decode ids")
	}
	return ids, nil
}

func scanDiscrepancy(s scanner) (domain.Discrepancy, error) {
	var d domain.Discrepancy
	var typ, txnIDs, custIDs string
	if err := s.Scan(&d.ID, &d.RunID, &typ, &txnIDs, &custIDs, &d.VarianceAmount, &d.Status); err != nil {
		return d, err
	}
	d.Type = domain.DiscrepancyType(typ)

	var err error
	if d.TransactionIDs, err = decodeIDs(txnIDs); err != nil {
		return d, err
	}
	if d.CustomerIDs, err = decodeIDs(custIDs); err != nil {
		return d, err
	}
	return d, nil
}

func scanDiscrepancies(rows *sql.Rows) ([]domain.Discrepancy, error) {
	var discs []domain.Discrepancy
	for rows.Next() {
		d, err := scanDiscrepancy(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan discrepancy")
		}
		discs = append(discs, d)
	}
	return discs, eris.Wrap(rows.Err(), "iterate discrepancies")
}
