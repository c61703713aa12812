package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"

	"github.com/wakala/reconagent/internal/domain"
)

const alertColumns = `id, run_id, customer_id, alert_type, risk_score, related_transaction_ids,
	total_amount, transaction_count, status`

type AlertRepo struct {
	db *DB
}

func NewAlertRepo(db *DB) *AlertRepo {
	return &AlertRepo{db: db}
}

// CustomerAssessment is everything the fraud sweep writes for one customer.
type CustomerAssessment struct {
	Customer domain.Customer
	Alerts   []domain.FraudAlert
	Flagged  []domain.RecordKey
}

// SaveAssessment commits a customer's alerts, fraud flags and profile update
// in one transaction.
func (r *AlertRepo) SaveAssessment(ctx context.Context, a *CustomerAssessment, now time.Time) error {
	return r.db.WithTx(ctx, func(tx *Tx) error {
		for i := range a.Alerts {
			if err := insertAlert(ctx, tx, &a.Alerts[i], now); err != nil {
				return err
			}
		}
		if err := flagFraud(ctx, tx, a.Flagged); err != nil {
			return err
		}
		return updateCustomerRisk(ctx, tx, &a.Customer)
	})
}

// ListByRun returns the run's alerts, optionally restricted to one type.
func (r *AlertRepo) ListByRun(ctx context.Context, runID string, alertType domain.AlertType) ([]domain.FraudAlert, error) {
	query := "SELECT " + alertColumns + " FROM fraud_alerts WHERE run_id = ?"
	args := []any{runID}
	if alertType != "" {
		query += " AND alert_type = ?"
		args = append(args, string(alertType))
	}
	query += " ORDER BY created_at, customer_id, alert_type"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "query alerts")
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (r *AlertRepo) CountByRun(ctx context.Context, runID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fraud_alerts WHERE run_id = ?", runID).Scan(&n)
	return n, eris.Wrap(err, "count alerts")
}

func insertAlert(ctx context.Context, q runner, a *domain.FraudAlert, now time.Time) error {
	related, err := encodeIDs(a.RelatedTransactionIDs)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO fraud_alerts (`+alertColumns+`, created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.RunID, a.CustomerID, string(a.AlertType), a.RiskScore, related,
		a.TotalAmount, a.TransactionCount, a.Status, formatTime(now),
	)
	return eris.Wrapf(err, "insert alert %s for %s", a.AlertType, a.CustomerID)
}

// --- helpers ---

func scanAlerts(rows *sql.Rows) ([]domain.FraudAlert, error) {
	var alerts []domain.FraudAlert
	for rows.Next() {
		var a domain.FraudAlert
		var typ, related string
		if err := rows.Scan(
			&a.ID, &a.RunID, &a.CustomerID, &typ, &a.RiskScore, &related,
			&a.TotalAmount, &a.TransactionCount, &a.Status,
		); err != nil {
			return nil, eris.Wrap(err, "scan alert")
		}
		a.AlertType = domain.AlertType(typ)
		ids, err := decodeIDs(related)
		if err != nil {
			return nil, err
		}
		a.RelatedTransactionIDs = ids
		alerts = append(alerts, a)
	}
	return alerts, eris.Wrap(rows.Err(), "iterate alerts")
}
