package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/wakala/reconagent/internal/domain"
)

const logColumns = `id, run_id, iteration, tool_called, belief_snapshot, evidence_summary, created_at`

// InvestigationRepo is the append-only investigation log.
type InvestigationRepo struct {
	db *DB
}

func NewInvestigationRepo(db *DB) *InvestigationRepo {
	return &InvestigationRepo{db: db}
}

func (r *InvestigationRepo) Append(ctx context.Context, e *domain.InvestigationLogEntry) error {
	snapshot, err := json.Marshal(e.BeliefSnapshot)
	if err != nil {
		return eris.Wrap(err, "encode snapshot")
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO investigation_logs (`+logColumns+`) VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.RunID, e.Iteration, e.ToolCalled, string(snapshot), e.EvidenceSummary, formatTime(e.CreatedAt),
	)
	return eris.Wrapf(err, "append investigation log %s#%d", e.RunID, e.Iteration)
}

// ListByRun returns a run's entries in iteration order.
func (r *InvestigationRepo) ListByRun(ctx context.Context, runID string) ([]domain.InvestigationLogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+logColumns+" FROM investigation_logs WHERE run_id = ? ORDER BY iteration", runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "query investigation logs")
	}
	defer rows.Close()

	var entries []domain.InvestigationLogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "iterate investigation logs")
}

// Latest returns the most recently written entry across all runs.
func (r *InvestigationRepo) Latest(ctx context.Context) (*domain.InvestigationLogEntry, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+logColumns+" FROM investigation_logs ORDER BY created_at DESC, iteration DESC LIMIT 1",
	)
	e, err := scanLogEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "investigation log")
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanLogEntry(s scanner) (domain.InvestigationLogEntry, error) {
	var e domain.InvestigationLogEntry
	var snapshot, createdAt string
	if err := s.Scan(&e.ID, &e.RunID, &e.Iteration, &e.ToolCalled, &snapshot, &e.EvidenceSummary, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, eris.Wrap(err, "scan investigation log")
	}
	if err := json.Unmarshal([]byte(snapshot), &e.BeliefSnapshot); err != nil {
		return e, eris.Wrap(err, "decode snapshot")
	}
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}
