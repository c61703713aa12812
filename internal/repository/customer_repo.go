package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/wakala/reconagent/internal/domain"
)

const customerColumns = `customer_id, historical_avg_amount, cumulative_risk_score, risk_level, account_status`

type CustomerRepo struct {
	db *DB
}

func NewCustomerRepo(db *DB) *CustomerRepo {
	return &CustomerRepo{db: db}
}

// BulkInsert stores customers, skipping ids that already exist.
func (r *CustomerRepo) BulkInsert(ctx context.Context, customers []domain.Customer) (int, error) {
	inserted := 0
	err := r.db.WithTx(ctx, func(tx *Tx) error {
		for i := range customers {
			c := &customers[i]
			res, err := tx.ExecContext(ctx,
				`INSERT INTO customers (`+customerColumns+`) VALUES (?,?,?,?,?)
				ON CONFLICT DO NOTHING`,
				c.CustomerID, c.HistoricalAvgAmount, c.CumulativeRiskScore,
				string(defaultRisk(c.RiskLevel)), string(defaultStatus(c.AccountStatus)),
			)
			if err != nil {
				return eris.Wrapf(err, "insert customer %s", c.CustomerID)
			}
			ra, _ := res.RowsAffected()
			inserted += int(ra)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// List returns all customers ordered by id.
func (r *CustomerRepo) List(ctx context.Context) ([]domain.Customer, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+customerColumns+" FROM customers ORDER BY customer_id")
	if err != nil {
		return nil, eris.Wrap(err, "query customers")
	}
	defer rows.Close()

	var customers []domain.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan customer")
		}
		customers = append(customers, c)
	}
	return customers, eris.Wrap(rows.Err(), "iterate customers")
}

func (r *CustomerRepo) Get(ctx context.Context, id string) (*domain.Customer, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+customerColumns+" FROM customers WHERE customer_id = ?", id)
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "customer %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan customer")
	}
	return &c, nil
}

func updateCustomerRisk(ctx context.Context, q runner, c *domain.Customer) error {
	_, err := q.ExecContext(ctx,
		`UPDATE customers SET cumulative_risk_score = ?, risk_level = ?, account_status = ?
		WHERE customer_id = ?`,
		c.CumulativeRiskScore, string(c.RiskLevel), string(c.AccountStatus), c.CustomerID,
	)
	return eris.Wrapf(err, "update customer %s", c.CustomerID)
}

// --- helpers ---

func defaultRisk(l domain.RiskLevel) domain.RiskLevel {
	if l == "" {
		return domain.RiskLow
	}
	return l
}

func defaultStatus(s domain.AccountStatus) domain.AccountStatus {
	if s == "" {
		return domain.AccountActive
	}
	return s
}

func scanCustomer(s scanner) (domain.Customer, error) {
	var c domain.Customer
	var level, status string
	if err := s.Scan(&c.CustomerID, &c.HistoricalAvgAmount, &c.CumulativeRiskScore, &level, &status); err != nil {
		return c, err
	}
	c.RiskLevel = domain.RiskLevel(level)
	c.AccountStatus = domain.AccountStatus(status)
	return c, nil
}
