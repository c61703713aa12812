// Package fraud scores customers for fraud risk with time-windowed rules over
// their recent PSP activity.
package fraud

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wakala/reconagent/internal/domain"
	"github.com/wakala/reconagent/internal/metrics"
	"github.com/wakala/reconagent/internal/repository"
)

// Detection policy. Fixed, not configurable.
const (
	VelocityWindow     = 5 * time.Minute
	VelocityThreshold  = 10
	VelocityScore      = 30
	AnomalyWindow      = 10 * time.Minute
	AnomalyMultiplier  = 5
	AnomalyScore       = 40
	StructuringWindow  = 15 * time.Minute
	StructuringMinHits = 3
	StructuringScore   = 30
	MediumRiskAbove    = 50
	HighRiskAbove      = 100
)

var (
	StructuringLow  = decimal.NewFromInt(9000)
	StructuringHigh = decimal.NewFromInt(10000)
)

const defaultWorkers = 8

// CustomerLister reads every customer profile.
type CustomerLister interface {
	List(ctx context.Context) ([]domain.Customer, error)
}

// TransactionQuerier filters transaction records.
type TransactionQuerier interface {
	List(ctx context.Context, f repository.TransactionFilter) ([]domain.TransactionRecord, error)
}

// AssessmentWriter commits one customer's alerts, flags and profile update.
type AssessmentWriter interface {
	SaveAssessment(ctx context.Context, a *repository.CustomerAssessment, now time.Time) error
}

// Engine sweeps every customer once per run.
type Engine struct {
	customers CustomerLister
	txns      TransactionQuerier
	writer    AssessmentWriter
	workers   int
}

// NewEngine creates an engine. Non-positive workers default to eight.
func NewEngine(customers CustomerLister, txns TransactionQuerier, writer AssessmentWriter, workers int) *Engine {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Engine{customers: customers, txns: txns, writer: writer, workers: workers}
}

// Evaluate scores all customers against the windows ending at now and returns
// the number of alerts raised for runID. A persistence failure aborts the sweep;
// customers already committed stay committed.
func (e *Engine) Evaluate(ctx context.Context, runID string, now time.Time) (int, error) {
	customers, err := e.customers.List(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "load customers")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	var alertCount atomic.Int64
	for _, c := range customers {
		g.Go(func() error {
			a, err := e.Assess(gctx, runID, c, now)
			if err != nil {
				return eris.Wrapf(err, "assess customer %s", c.CustomerID)
			}
			if a == nil {
				return nil
			}
			if err := e.writer.SaveAssessment(gctx, a, now); err != nil {
				return eris.Wrapf(err, "save assessment for %s", c.CustomerID)
			}
			for _, al := range a.Alerts {
				metrics.FraudAlertsTotal.WithLabelValues(string(al.AlertType)).Inc()
			}
			alertCount.Add(int64(len(a.Alerts)))
			zap.L().Info("fraud: customer flagged",
				zap.String("run_id", runID),
				zap.String("customer_id", c.CustomerID),
				zap.Int("alerts", len(a.Alerts)),
				zap.Int("cumulative_score", a.Customer.CumulativeRiskScore),
				zap.String("risk_level", string(a.Customer.RiskLevel)),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(alertCount.Load()), err
	}

	zap.L().Info("fraud: sweep complete",
		zap.String("run_id", runID),
		zap.Int("customers", len(customers)),
		zap.Int64("alerts", alertCount.Load()),
	)
	return int(alertCount.Load()), nil
}

// Assess runs the three detectors for one customer without writing anything.
// It returns nil when the customer scores zero.
func (e *Engine) Assess(ctx context.Context, runID string, c domain.Customer, now time.Time) (*repository.CustomerAssessment, error) {
	var (
		score   int
		alerts  []domain.FraudAlert
		flagged []domain.RecordKey
	)

	velocity, err := e.window(ctx, c.CustomerID, now.Add(-VelocityWindow), repository.TransactionFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "velocity window")
	}
	if len(velocity) > VelocityThreshold {
		score += VelocityScore
		alerts = append(alerts, newAlert(runID, c.CustomerID, domain.AlertVelocitySpike, VelocityScore, velocity))
	}

	threshold := c.HistoricalAvgAmount.Mul(decimal.NewFromInt(AnomalyMultiplier))
	anomalies, err := e.window(ctx, c.CustomerID, now.Add(-AnomalyWindow), repository.TransactionFilter{AmountGT: &threshold})
	if err != nil {
		return nil, eris.Wrap(err, "anomaly window")
	}
	if len(anomalies) > 0 {
		score += AnomalyScore
		alerts = append(alerts, newAlert(runID, c.CustomerID, domain.AlertAmountAnomaly, AnomalyScore, anomalies))
		flagged = appendKeys(flagged, anomalies)
	}

	structuring, err := e.window(ctx, c.CustomerID, now.Add(-StructuringWindow), repository.TransactionFilter{
		AmountGTE: &StructuringLow,
		AmountLTE: &StructuringHigh,
	})
	if err != nil {
		return nil, eris.Wrap(err, "structuring window")
	}
	if len(structuring) >= StructuringMinHits {
		score += StructuringScore
		alerts = append(alerts, newAlert(runID, c.CustomerID, domain.AlertStructuringPattern, StructuringScore, structuring))
		flagged = appendKeys(flagged, structuring)
	}

	if score == 0 {
		return nil, nil
	}
	return &repository.CustomerAssessment{
		Customer: escalate(c, score),
		Alerts:   alerts,
		Flagged:  flagged,
	}, nil
}

func (e *Engine) window(ctx context.Context, customerID string, from time.Time, f repository.TransactionFilter) ([]domain.TransactionRecord, error) {
	f.SourceType = domain.SourcePSP
	f.CustomerID = customerID
	f.From = &from
	return e.txns.List(ctx, f)
}

// escalate adds score to the customer's cumulative total and raises the risk
// level and account status. Neither is ever lowered.
func escalate(c domain.Customer, score int) domain.Customer {
	c.CumulativeRiskScore += score
	switch {
	case c.CumulativeRiskScore > HighRiskAbove:
		c.RiskLevel = c.RiskLevel.Max(domain.RiskHigh)
		c.AccountStatus = domain.AccountReview
	case c.CumulativeRiskScore > MediumRiskAbove:
		c.RiskLevel = c.RiskLevel.Max(domain.RiskMedium)
	}
	if c.RiskLevel == "" {
		c.RiskLevel = domain.RiskLow
	}
	if c.AccountStatus == "" {
		c.AccountStatus = domain.AccountActive
	}
	return c
}

func newAlert(runID, customerID string, t domain.AlertType, score int, recs []domain.TransactionRecord) domain.FraudAlert {
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.TransactionID)
	}
	return domain.FraudAlert{
		ID:                    uuid.NewString(),
		RunID:                 runID,
		CustomerID:            customerID,
		AlertType:             t,
		RiskScore:             score,
		RelatedTransactionIDs: ids,
		TotalAmount:           domain.SumNormalized(recs),
		TransactionCount:      len(recs),
		Status:                domain.StatusOpen,
	}
}

func appendKeys(keys []domain.RecordKey, recs []domain.TransactionRecord) []domain.RecordKey {
	for i := range recs {
		keys = append(keys, recs[i].Key())
	}
	return keys
}
