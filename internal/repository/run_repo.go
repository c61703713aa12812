package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/wakala/reconagent/internal/domain"
)

const runColumns = `id, run_date, psp_total, internal_total, erp_total, variance_amount,
	auto_reconciled_rate, discrepancy_count, status, executive_report`

type RunRepo struct {
	db *DB
}

func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// SaveReconciliation persists the outcome of one matcher pass atomically: the
// reconciled flags, the run row and its discrepancies.
func (r *RunRepo) SaveReconciliation(ctx context.Context, run *domain.ReconciliationRun, discs []domain.Discrepancy, reconciled []domain.RecordKey) error {
	return r.db.WithTx(ctx, func(tx *Tx) error {
		if err := markReconciled(ctx, tx, reconciled); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO reconciliation_runs (`+runColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			run.ID, formatTime(run.RunDate), run.PSPTotal, run.InternalTotal, run.ERPTotal,
			run.VarianceAmount, run.AutoReconciledRate, run.DiscrepancyCount, string(run.Status), nil,
		); err != nil {
			return eris.Wrap(err, "insert run")
		}
		for i := range discs {
			if err := insertDiscrepancy(ctx, tx, &discs[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *RunRepo) Get(ctx context.Context, id string) (*domain.ReconciliationRun, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM reconciliation_runs WHERE id = ?", id)
	return scanRunRow(row, "run "+id)
}

// Latest returns the most recent run, or ErrNotFound when none exists.
func (r *RunRepo) Latest(ctx context.Context) (*domain.ReconciliationRun, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM reconciliation_runs ORDER BY run_date DESC, id DESC LIMIT 1",
	)
	return scanRunRow(row, "latest run")
}

// LatestWithReport returns the most recent run that carries an executive report.
func (r *RunRepo) LatestWithReport(ctx context.Context) (*domain.ReconciliationRun, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM reconciliation_runs WHERE executive_report IS NOT NULL ORDER BY run_date DESC, id DESC LIMIT 1",
	)
	return scanRunRow(row, "latest reported run")
}

// ListWithReports returns every run carrying a report, newest first.
func (r *RunRepo) ListWithReports(ctx context.Context) ([]domain.ReconciliationRun, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM reconciliation_runs WHERE executive_report IS NOT NULL ORDER BY run_date DESC, id DESC",
	)
	if err != nil {
		return nil, eris.Wrap(err, "query runs")
	}
	defer rows.Close()

	var runs []domain.ReconciliationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "iterate runs")
}

// SetExecutiveReport attaches the report to a run. It succeeds only once per
// run; later calls return ErrReportAlreadySet.
func (r *RunRepo) SetExecutiveReport(ctx context.Context, runID string, rpt *domain.ExecutiveReport) error {
	payload, err := json.Marshal(rpt)
	if err != nil {
		return eris.Wrap(err, "encode report")
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE reconciliation_runs SET executive_report = ? WHERE id = ? AND executive_report IS NULL",
		string(payload), runID,
	)
	if err != nil {
		return eris.Wrap(err, "update report")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 1 {
		return nil
	}
	if _, err := r.Get(ctx, runID); err != nil {
		return err
	}
	return eris.Wrapf(ErrReportAlreadySet, "run %s", runID)
}

// --- helpers ---

func scanRunRow(row *sql.Row, what string) (*domain.ReconciliationRun, error) {
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, what)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "scan %s", what)
	}
	return run, nil
}

func scanRun(s scanner) (*domain.ReconciliationRun, error) {
	var run domain.ReconciliationRun
	var runDate, status string
	var report sql.NullString

	err := s.Scan(
		&run.ID, &runDate, &run.PSPTotal, &run.InternalTotal, &run.ERPTotal, &run.VarianceAmount,
		&run.AutoReconciledRate, &run.DiscrepancyCount, &status, &report,
	)
	if err != nil {
		return nil, err
	}
	run.RunDate = parseTime(runDate)
	run.Status = domain.RunStatus(status)

	if report.Valid && report.String != "" {
		var rpt domain.ExecutiveReport
		if err := json.Unmarshal([]byte(report.String), &rpt); err != nil {
			return nil, eris.Wrap(err, "decode report")
		}
		run.ExecutiveReport = &rpt
	}
	return &run, nil
}
