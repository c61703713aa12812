package evidence

import (
	"context"
	"errors"
	"math"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/wakala/reconagent/internal/domain"
	"github.com/wakala/reconagent/internal/repository"
)

// Hypothesis types with a dedicated tool.
const (
	HypothesisVelocitySpike      = string(domain.AlertVelocitySpike)
	HypothesisStructuringPattern = string(domain.AlertStructuringPattern)
	HypothesisAmountAnomaly      = string(domain.AlertAmountAnomaly)
	HypothesisMissingDeposit     = string(domain.DiscrepancyMissingDeposit)
	HypothesisFXMismatch         = string(domain.DiscrepancyFXMismatch)
	HypothesisGeneric            = "GENERIC"
)

const (
	historyDepth        = 20
	genericStrength     = 0.5
	exposurePerStrength = 1000
)

type AlertSource interface {
	ListByRun(ctx context.Context, runID string, alertType domain.AlertType) ([]domain.FraudAlert, error)
}

type DiscrepancySource interface {
	GetByRunAndType(ctx context.Context, runID string, t domain.DiscrepancyType) (*domain.Discrepancy, error)
}

type TransactionSource interface {
	List(ctx context.Context, f repository.TransactionFilter) ([]domain.TransactionRecord, error)
	RecentPSP(ctx context.Context, customerID string, limit int) ([]domain.TransactionRecord, error)
}

// --- generic ---

// Generic is the default tool for hypotheses without a dedicated analysis.
type Generic struct{}

func (Generic) Name() string { return "genericInvestigation" }

func (Generic) Analyze(context.Context, string) (*Evidence, error) {
	return &Evidence{
		Type:     HypothesisGeneric,
		Strength: genericStrength,
		Message:  "No specific investigation tool available",
	}, nil
}

// --- velocity ---

type VelocityTool struct {
	alerts AlertSource
	txns   TransactionSource
}

func (*VelocityTool) Name() string { return "analyzeVelocityRisk" }

// Analyze totals every transaction, from any source, of the customers that
// raised a velocity alert in the run.
func (t *VelocityTool) Analyze(ctx context.Context, runID string) (*Evidence, error) {
	alerts, err := t.alerts.ListByRun(ctx, runID, domain.AlertVelocitySpike)
	if err != nil {
		return nil, eris.Wrap(err, "load velocity alerts")
	}
	if len(alerts) == 0 {
		return &Evidence{Type: HypothesisVelocitySpike, Message: "No velocity alerts found."}, nil
	}

	customers := alertCustomers(alerts)
	txns, err := t.txns.List(ctx, repository.TransactionFilter{CustomerIDs: customers})
	if err != nil {
		return nil, eris.Wrap(err, "load velocity transactions")
	}

	riskScore := 0
	for _, a := range alerts {
		riskScore += a.RiskScore
	}
	return &Evidence{
		Type:              HypothesisVelocitySpike,
		Strength:          float64(len(alerts) * 2),
		AlertCount:        len(alerts),
		AffectedCustomers: customers,
		TransactionCount:  len(txns),
		TotalExposure:     domain.SumNormalized(txns),
		TotalRiskScore:    riskScore,
	}, nil
}

// --- structuring ---

type StructuringTool struct {
	alerts AlertSource
}

func (*StructuringTool) Name() string { return "analyzeStructuringPattern" }

func (t *StructuringTool) Analyze(ctx context.Context, runID string) (*Evidence, error) {
	alerts, err := t.alerts.ListByRun(ctx, runID, domain.AlertStructuringPattern)
	if err != nil {
		return nil, eris.Wrap(err, "load structuring alerts")
	}
	return &Evidence{
		Type:              HypothesisStructuringPattern,
		Strength:          float64(len(alerts) * 2),
		AlertCount:        len(alerts),
		AffectedCustomers: alertCustomers(alerts),
	}, nil
}

// --- missing deposits ---

type MissingDepositTool struct {
	discs DiscrepancySource
	txns  TransactionSource
}

func (*MissingDepositTool) Name() string { return "analyzeMissingDeposits" }

// Analyze sizes the run's missing-deposit discrepancy by the PSP amounts that
// never reached the ledger.
func (t *MissingDepositTool) Analyze(ctx context.Context, runID string) (*Evidence, error) {
	disc, err := t.discs.GetByRunAndType(ctx, runID, domain.DiscrepancyMissingDeposit)
	if errors.Is(err, repository.ErrNotFound) {
		return &Evidence{Type: HypothesisMissingDeposit, Message: "No missing deposits found."}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "load missing-deposit discrepancy")
	}

	txns, err := pspRecords(ctx, t.txns, disc.TransactionIDs)
	if err != nil {
		return nil, err
	}
	exposure := domain.SumNormalized(txns)
	count := atLeastOne(len(disc.TransactionIDs))
	return &Evidence{
		Type:              HypothesisMissingDeposit,
		Strength:          float64(count) + exposure.Div(decimal.NewFromInt(exposurePerStrength)).InexactFloat64(),
		TransactionCount:  count,
		AffectedCustomers: recordCustomers(txns),
		TotalExposure:     exposure,
	}, nil
}

// --- fx mismatch ---

type FXMismatchTool struct {
	discs DiscrepancySource
	txns  TransactionSource
}

func (*FXMismatchTool) Name() string { return "analyzeFxMismatch" }

func (t *FXMismatchTool) Analyze(ctx context.Context, runID string) (*Evidence, error) {
	disc, err := t.discs.GetByRunAndType(ctx, runID, domain.DiscrepancyFXMismatch)
	if errors.Is(err, repository.ErrNotFound) {
		return &Evidence{Type: HypothesisFXMismatch, Message: "No FX mismatches detected."}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "load fx discrepancy")
	}

	txns, err := pspRecords(ctx, t.txns, disc.TransactionIDs)
	if err != nil {
		return nil, err
	}
	count := atLeastOne(len(disc.TransactionIDs))
	return &Evidence{
		Type:              HypothesisFXMismatch,
		Strength:          float64(count) + disc.VarianceAmount.Div(decimal.NewFromInt(exposurePerStrength)).InexactFloat64(),
		TransactionCount:  count,
		AffectedCustomers: recordCustomers(txns),
		TotalVariance:     disc.VarianceAmount,
	}, nil
}

// --- amount anomaly ---

type AmountAnomalyTool struct {
	alerts AlertSource
	txns   TransactionSource
}

func (*AmountAnomalyTool) Name() string { return "analyzeAmountAnomaly" }

// Analyze compares each anomaly alert's total with the customer's recent PSP
// average. Customers without PSP history contribute no deviation sample.
func (t *AmountAnomalyTool) Analyze(ctx context.Context, runID string) (*Evidence, error) {
	alerts, err := t.alerts.ListByRun(ctx, runID, domain.AlertAmountAnomaly)
	if err != nil {
		return nil, eris.Wrap(err, "load amount-anomaly alerts")
	}
	if len(alerts) == 0 {
		return &Evidence{Type: HypothesisAmountAnomaly, AffectedCustomers: []string{}}, nil
	}

	exposure := decimal.Zero
	var deviationSum float64
	samples := 0
	for _, a := range alerts {
		exposure = exposure.Add(a.TotalAmount)

		history, err := t.txns.RecentPSP(ctx, a.CustomerID, historyDepth)
		if err != nil {
			return nil, eris.Wrapf(err, "load history for %s", a.CustomerID)
		}
		if len(history) == 0 {
			continue
		}
		avg := domain.SumNormalized(history).Div(decimal.NewFromInt(int64(len(history))))
		if avg.IsZero() {
			continue
		}
		deviationSum += a.TotalAmount.Sub(avg).Abs().Div(avg).InexactFloat64()
		samples++
	}

	var avgDeviationPct float64
	if samples > 0 {
		avgDeviationPct = round2(deviationSum / float64(samples) * 100)
	}
	return &Evidence{
		Type:                HypothesisAmountAnomaly,
		Strength:            round2(float64(len(alerts)*2) + avgDeviationPct/20),
		AlertCount:          len(alerts),
		AffectedCustomers:   alertCustomers(alerts),
		TotalExposure:       exposure.Round(2),
		AvgDeviationPercent: avgDeviationPct,
	}, nil
}

// --- helpers ---

func pspRecords(ctx context.Context, txns TransactionSource, ids []string) ([]domain.TransactionRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	recs, err := txns.List(ctx, repository.TransactionFilter{SourceType: domain.SourcePSP, TransactionIDs: ids})
	if err != nil {
		return nil, eris.Wrap(err, "load discrepancy transactions")
	}
	return recs, nil
}

func alertCustomers(alerts []domain.FraudAlert) []string {
	seen := make(map[string]struct{}, len(alerts))
	out := make([]string, 0, len(alerts))
	for _, a := range alerts {
		if _, ok := seen[a.CustomerID]; ok {
			continue
		}
		seen[a.CustomerID] = struct{}{}
		out = append(out, a.CustomerID)
	}
	return out
}

func recordCustomers(recs []domain.TransactionRecord) []string {
	seen := make(map[string]struct{}, len(recs))
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		if _, ok := seen[r.CustomerID]; ok {
			continue
		}
		seen[r.CustomerID] = struct{}{}
		out = append(out, r.CustomerID)
	}
	return out
}

func atLeastOne(n int) int {
	if n == 0 {
		return 1
	}
	return n
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
