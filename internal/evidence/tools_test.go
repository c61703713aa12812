package evidence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakala/reconagent/internal/domain"
	"github.com/wakala/reconagent/internal/repository"
	"github.com/wakala/reconagent/internal/repository/repotest"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const runID = "run-1"

type fixture struct {
	st  *repository.Store
	reg *Registry
}

func newFixture(t *testing.T, discs ...domain.Discrepancy) *fixture {
	t.Helper()
	st := repotest.NewStore(t)
	require.NoError(t, st.Runs.SaveReconciliation(context.Background(), &domain.ReconciliationRun{
		ID: runID, RunDate: now, Status: domain.RunInvestigationRequired,
	}, discs, nil))
	return &fixture{st: st, reg: NewDefaultRegistry(st.Alerts, st.Discrepancies, st.Transactions)}
}

func (f *fixture) addCustomer(t *testing.T, id string, alerts ...domain.FraudAlert) {
	t.Helper()
	ctx := context.Background()
	_, err := f.st.Customers.BulkInsert(ctx, []domain.Customer{{CustomerID: id, HistoricalAvgAmount: decimal.NewFromInt(100)}})
	require.NoError(t, err)
	c, err := f.st.Customers.Get(ctx, id)
	require.NoError(t, err)
	for i := range alerts {
		alerts[i].ID = id + "-" + string(alerts[i].AlertType)
		alerts[i].RunID = runID
		alerts[i].CustomerID = id
		alerts[i].Status = domain.StatusOpen
	}
	require.NoError(t, f.st.Alerts.SaveAssessment(ctx, &repository.CustomerAssessment{Customer: *c, Alerts: alerts}, now))
}

func (f *fixture) analyze(t *testing.T, hypothesis string) *Evidence {
	t.Helper()
	tool, mapped := f.reg.Resolve(hypothesis)
	require.True(t, mapped)
	ev, err := tool.Analyze(context.Background(), runID)
	require.NoError(t, err)
	return ev
}

func TestRegistry_ResolveFallsBackToGeneric(t *testing.T) {
	reg := NewDefaultRegistry(nil, nil, nil)

	tool, mapped := reg.Resolve("SOMETHING_ELSE")
	assert.False(t, mapped)
	assert.Equal(t, "genericInvestigation", tool.Name())

	ev, err := tool.Analyze(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, HypothesisGeneric, ev.Type)
	assert.InDelta(t, 0.5, ev.Strength, 1e-9)

	for _, h := range []string{
		HypothesisAmountAnomaly, HypothesisFXMismatch, HypothesisMissingDeposit,
		HypothesisStructuringPattern, HypothesisVelocitySpike,
	} {
		_, mapped := reg.Resolve(h)
		assert.True(t, mapped, h)
	}

	tool, mapped = reg.Resolve(HypothesisFXMismatch)
	assert.True(t, mapped)
	assert.Equal(t, "analyzeFxMismatch", tool.Name())
}

func TestVelocityTool(t *testing.T) {
	f := newFixture(t)

	ev := f.analyze(t, HypothesisVelocitySpike)
	assert.Zero(t, ev.Strength)
	assert.NotEmpty(t, ev.Message)

	f.addCustomer(t, "C1", domain.FraudAlert{AlertType: domain.AlertVelocitySpike, RiskScore: 30})
	f.addCustomer(t, "C2", domain.FraudAlert{AlertType: domain.AlertVelocitySpike, RiskScore: 30})
	repotest.Insert(t, f.st,
		repotest.Record(domain.SourcePSP, "TX-1", "C1", "100", now),
		repotest.Record(domain.SourceInternal, "TX-1", "C1", "100", now),
		repotest.Record(domain.SourcePSP, "TX-2", "C2", "50", now),
		repotest.Record(domain.SourcePSP, "TX-3", "C3", "999", now),
	)

	ev = f.analyze(t, HypothesisVelocitySpike)
	assert.InDelta(t, 4.0, ev.Strength, 1e-9)
	assert.Equal(t, 2, ev.AlertCount)
	assert.ElementsMatch(t, []string{"C1", "C2"}, ev.AffectedCustomers)
	assert.Equal(t, 3, ev.TransactionCount)
	assert.True(t, decimal.NewFromInt(250).Equal(ev.TotalExposure), ev.TotalExposure.String())
	assert.Equal(t, 60, ev.TotalRiskScore)
}

func TestStructuringTool(t *testing.T) {
	f := newFixture(t)
	f.addCustomer(t, "C1", domain.FraudAlert{AlertType: domain.AlertStructuringPattern, RiskScore: 30})

	ev := f.analyze(t, HypothesisStructuringPattern)
	assert.InDelta(t, 2.0, ev.Strength, 1e-9)
	assert.Equal(t, []string{"C1"}, ev.AffectedCustomers)
}

func TestMissingDepositTool(t *testing.T) {
	f := newFixture(t, domain.Discrepancy{
		ID: "d-1", RunID: runID, Type: domain.DiscrepancyMissingDeposit,
		TransactionIDs: []string{"TX-1", "TX-2"}, CustomerIDs: []string{"C1", "C2"},
		VarianceAmount: decimal.NewFromInt(3000), Status: domain.StatusOpen,
	})
	repotest.Insert(t, f.st,
		repotest.Record(domain.SourcePSP, "TX-1", "C1", "1000", now),
		repotest.Record(domain.SourcePSP, "TX-2", "C2", "2000", now),
		repotest.Record(domain.SourceERP, "TX-2", "C2", "2000", now),
	)

	ev := f.analyze(t, HypothesisMissingDeposit)
	assert.Equal(t, 2, ev.TransactionCount)
	assert.True(t, decimal.NewFromInt(3000).Equal(ev.TotalExposure), ev.TotalExposure.String())
	assert.InDelta(t, 5.0, ev.Strength, 1e-9)
	assert.ElementsMatch(t, []string{"C1", "C2"}, ev.AffectedCustomers)
}

func TestMissingDepositTool_NoDiscrepancy(t *testing.T) {
	f := newFixture(t)
	ev := f.analyze(t, HypothesisMissingDeposit)
	assert.Equal(t, HypothesisMissingDeposit, ev.Type)
	assert.Zero(t, ev.Strength)
}

func TestFXMismatchTool(t *testing.T) {
	f := newFixture(t, domain.Discrepancy{
		ID: "d-1", RunID: runID, Type: domain.DiscrepancyFXMismatch,
		TransactionIDs: []string{"TX-1"}, CustomerIDs: []string{"C1"},
		VarianceAmount: decimal.NewFromInt(30), Status: domain.StatusOpen,
	})
	repotest.Insert(t, f.st, repotest.Record(domain.SourcePSP, "TX-1", "C1", "1000", now))

	ev := f.analyze(t, HypothesisFXMismatch)
	assert.Equal(t, 1, ev.TransactionCount)
	assert.InDelta(t, 1.03, ev.Strength, 1e-9)
	assert.True(t, decimal.NewFromInt(30).Equal(ev.TotalVariance))
	assert.Equal(t, []string{"C1"}, ev.AffectedCustomers)
}

func TestAmountAnomalyTool(t *testing.T) {
	f := newFixture(t)

	ev := f.analyze(t, HypothesisAmountAnomaly)
	assert.Zero(t, ev.Strength)
	assert.Zero(t, ev.AlertCount)

	// C1 history averages 500; the 1500 alert deviates 200%.
	f.addCustomer(t, "C1", domain.FraudAlert{
		AlertType: domain.AlertAmountAnomaly, RiskScore: 40, TotalAmount: decimal.NewFromInt(1500), TransactionCount: 1,
	})
	// C2 has no PSP history and contributes no sample.
	f.addCustomer(t, "C2", domain.FraudAlert{
		AlertType: domain.AlertAmountAnomaly, RiskScore: 40, TotalAmount: decimal.NewFromInt(800), TransactionCount: 1,
	})
	repotest.Insert(t, f.st,
		repotest.Record(domain.SourcePSP, "TX-1", "C1", "250", now.Add(-time.Hour)),
		repotest.Record(domain.SourcePSP, "TX-2", "C1", "750", now.Add(-2*time.Hour)),
		repotest.Record(domain.SourceInternal, "TX-3", "C2", "10", now),
	)

	ev = f.analyze(t, HypothesisAmountAnomaly)
	assert.Equal(t, 2, ev.AlertCount)
	assert.InDelta(t, 200.0, ev.AvgDeviationPercent, 1e-9)
	assert.InDelta(t, 14.0, ev.Strength, 1e-9)
	assert.True(t, decimal.NewFromInt(2300).Equal(ev.TotalExposure), ev.TotalExposure.String())
	assert.ElementsMatch(t, []string{"C1", "C2"}, ev.AffectedCustomers)
}

type brokenAlerts struct{}

func (brokenAlerts) ListByRun(context.Context, string, domain.AlertType) ([]domain.FraudAlert, error) {
	return nil, errors.New("connection reset")
}

func TestTools_PropagateStoreErrors(t *testing.T) {
	reg := NewDefaultRegistry(brokenAlerts{}, nil, nil)
	for _, h := range []string{HypothesisVelocitySpike, HypothesisStructuringPattern, HypothesisAmountAnomaly} {
		tool, _ := reg.Resolve(h)
		_, err := tool.Analyze(context.Background(), runID)
		assert.Error(t, err, h)
	}
}
