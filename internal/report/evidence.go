package report

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/wakala/reconagent/internal/domain"
	"github.com/wakala/reconagent/internal/repository"
)

// Evidence is the deterministic summary handed to the model alongside the
// belief distribution.
type Evidence struct {
	Variance            float64  `json:"variance"`
	FraudExposure       float64  `json:"fraudExposure"`
	DiscrepancyExposure float64  `json:"discrepancyExposure"`
	FraudAlertCount     int      `json:"fraudAlertCount"`
	DiscrepancyCount    int      `json:"discrepancyCount"`
	AffectedCustomers   []string `json:"affectedCustomers"`
}

// RunStore reads a run and attaches its report.
type RunStore interface {
	Get(ctx context.Context, id string) (*domain.ReconciliationRun, error)
	SetExecutiveReport(ctx context.Context, runID string, rpt *domain.ExecutiveReport) error
}

type AlertSource interface {
	ListByRun(ctx context.Context, runID string, alertType domain.AlertType) ([]domain.FraudAlert, error)
}

type DiscrepancySource interface {
	ListByRun(ctx context.Context, runID string) ([]domain.Discrepancy, error)
}

type TransactionSource interface {
	List(ctx context.Context, f repository.TransactionFilter) ([]domain.TransactionRecord, error)
}

func (g *Generator) collect(ctx context.Context, runID string) (*Evidence, error) {
	run, err := g.runs.Get(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "load run %s", runID)
	}
	alerts, err := g.alerts.ListByRun(ctx, runID, "")
	if err != nil {
		return nil, eris.Wrap(err, "load alerts")
	}
	discs, err := g.discs.ListByRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "load discrepancies")
	}

	fraudExposure := decimal.Zero
	customers := make(map[string]struct{})
	for _, a := range alerts {
		fraudExposure = fraudExposure.Add(a.TotalAmount)
		if a.CustomerID != "" {
			customers[a.CustomerID] = struct{}{}
		}
	}

	discExposure := decimal.Zero
	var txnIDs []string
	for _, d := range discs {
		discExposure = discExposure.Add(d.VarianceAmount)
		txnIDs = append(txnIDs, d.TransactionIDs...)
	}
	if len(txnIDs) > 0 {
		recs, err := g.txns.List(ctx, repository.TransactionFilter{TransactionIDs: txnIDs})
		if err != nil {
			return nil, eris.Wrap(err, "load discrepancy transactions")
		}
		for _, r := range recs {
			if r.CustomerID != "" {
				customers[r.CustomerID] = struct{}{}
			}
		}
	}

	affected := make([]string, 0, len(customers))
	for id := range customers {
		affected = append(affected, id)
	}
	sort.Strings(affected)

	return &Evidence{
		Variance:            run.VarianceAmount.InexactFloat64(),
		FraudExposure:       fraudExposure.InexactFloat64(),
		DiscrepancyExposure: discExposure.InexactFloat64(),
		FraudAlertCount:     len(alerts),
		DiscrepancyCount:    len(discs),
		AffectedCustomers:   affected,
	}, nil
}
