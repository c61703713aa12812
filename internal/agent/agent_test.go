package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wakala/reconagent/internal/domain"
	"github.com/wakala/reconagent/internal/llm"
	"github.com/wakala/reconagent/internal/llm/mocks"
	"github.com/wakala/reconagent/internal/metrics"
	"github.com/wakala/reconagent/internal/reconciliation"
	"github.com/wakala/reconagent/internal/report"
	"github.com/wakala/reconagent/internal/repository"
	"github.com/wakala/reconagent/internal/repository/repotest"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newAgent(t *testing.T, model llm.Client) (*Agent, *repository.Store) {
	t.Helper()
	st := repotest.NewStore(t)
	cfg := report.DefaultConfig()
	cfg.Backoff = 0
	a := NewFromStore(st, model, Config{FraudWorkers: 2, Report: cfg})
	a.now = func() time.Time { return now }
	return a, st
}

// seedInvestigation leaves three missing deposits and three FX mismatches,
// with enough variance to require investigation.
func seedInvestigation(t *testing.T, st *repository.Store) {
	t.Helper()
	for i := 1; i <= 3; i++ {
		repotest.Insert(t, st,
			repotest.Record(domain.SourcePSP, fmt.Sprintf("TX-M%d", i), fmt.Sprintf("C%d", i), "2000", now),
			repotest.Record(domain.SourcePSP, fmt.Sprintf("TX-F%d", i), "C9", "1000", now),
			repotest.Record(domain.SourceInternal, fmt.Sprintf("TX-F%d", i), "C9", "980", now),
		)
	}
}

func TestRunCycle_NothingPendingIsNoOp(t *testing.T) {
	a, st := newAgent(t, nil)

	for i := 0; i < 2; i++ {
		res, err := a.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, CycleNoOp, res.Kind)
		assert.Empty(t, res.RunID)
	}
	_, err := st.Runs.Latest(context.Background())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRunCycle_CleanRunSkipsInvestigation(t *testing.T) {
	model := &mocks.MockClient{}
	a, st := newAgent(t, model)
	repotest.Insert(t, st,
		repotest.Record(domain.SourcePSP, "TX-1", "C1", "500.00", now),
		repotest.Record(domain.SourceInternal, "TX-1", "C1", "500.00", now.Add(-time.Hour)),
	)

	res, err := a.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleCompleted, res.Kind)
	assert.Equal(t, domain.RunCompleted, res.Status)
	assert.False(t, res.InvestigationRan)
	assert.Nil(t, res.Report)
	assert.True(t, res.Beliefs.Empty())

	run, err := st.Runs.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Nil(t, run.ExecutiveReport)
	model.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)

	// Everything is reconciled now.
	res, err = a.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleNoOp, res.Kind)
}

func TestRunCycle_InvestigatesAndFallsBackWithoutModel(t *testing.T) {
	a, st := newAgent(t, nil)
	seedInvestigation(t, st)

	res, err := a.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunInvestigationRequired, res.Status)
	assert.Equal(t, 6, res.DiscrepancyCount)
	assert.True(t, res.InvestigationRan)
	assert.Equal(t, 2, res.Iterations)
	assert.InDelta(t, 1.0, res.Beliefs.Sum(), 0.01)

	require.NotNil(t, res.Report)
	assert.Equal(t, domain.ReportFromFallback, res.Report.Source)
	assert.Equal(t, "model not configured", res.FallbackReason)
	assert.InDelta(t, 6060.0, res.Report.FinancialImpact, 1e-9)
	assert.Equal(t, []string{"C1", "C2", "C3", "C9"}, res.Report.AffectedCustomers)

	logs, err := st.Investigations.ListByRun(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, res.Beliefs, logs[1].BeliefSnapshot)

	run, err := st.Runs.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	require.NotNil(t, run.ExecutiveReport)
	assert.Equal(t, domain.ReportFromFallback, run.ExecutiveReport.Source)
}

func TestRunCycle_ModelReport(t *testing.T) {
	model := &mocks.MockClient{}
	model.On("Complete", mock.Anything, mock.Anything).Return(`{
		"primaryCause": "MISSING_DEPOSIT",
		"secondaryFactor": "FX_MISMATCH",
		"financialImpact": 6000,
		"affectedCustomers": ["C1"],
		"recommendedActions": ["Request PSP-X settlement file"],
		"confidence": 0.9
	}`, nil).Once()

	a, st := newAgent(t, model)
	seedInvestigation(t, st)

	res, err := a.RunCycle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Report)
	assert.Equal(t, domain.ReportFromModel, res.Report.Source)
	assert.Empty(t, res.FallbackReason)
	assert.InDelta(t, 0.9, res.Report.Confidence, 1e-9)
	assert.Equal(t, []string{"C1", "C2", "C3", "C9"}, res.Report.AffectedCustomers)
	model.AssertExpectations(t)
}

func TestRunCycle_ThrottlingExhaustionSurfacesReason(t *testing.T) {
	model := &mocks.MockClient{}
	model.On("Complete", mock.Anything, mock.Anything).Return("", llm.ErrThrottled)

	a, st := newAgent(t, model)
	seedInvestigation(t, st)

	res, err := a.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "model throttled after 5 attempts", res.FallbackReason)
	model.AssertNumberOfCalls(t, "Complete", 5)
}

func TestRunCycle_FraudAlertAloneTriggersInvestigation(t *testing.T) {
	a, st := newAgent(t, nil)
	ctx := context.Background()
	_, err := st.Customers.BulkInsert(ctx, []domain.Customer{{CustomerID: "C1", HistoricalAvgAmount: decimal.NewFromInt(300)}})
	require.NoError(t, err)
	for i := 0; i < 11; i++ {
		id := fmt.Sprintf("TX-%02d", i)
		at := now.Add(-time.Duration(i) * 20 * time.Second)
		repotest.Insert(t, st,
			repotest.Record(domain.SourcePSP, id, "C1", "100", at),
			repotest.Record(domain.SourceInternal, id, "C1", "100", at),
		)
	}

	alertsBefore := testutil.ToFloat64(metrics.FraudAlertsTotal.WithLabelValues("VELOCITY_SPIKE"))

	res, err := a.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, res.Status)
	assert.Equal(t, 1, res.FraudAlertCount)
	// Each committed alert is counted exactly once.
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FraudAlertsTotal.WithLabelValues("VELOCITY_SPIKE"))-alertsBefore)
	assert.True(t, res.InvestigationRan)
	// A single hypothesis is already confident.
	assert.Zero(t, res.Iterations)
	require.NotNil(t, res.Report)
	assert.Equal(t, "VELOCITY_SPIKE", res.Report.PrimaryCause)
	assert.Equal(t, []string{"C1"}, res.Report.AffectedCustomers)
}

// --- stubbed collaborators ---

type stubMatcher struct {
	res     *reconciliation.Result
	err     error
	started chan struct{}
	block   chan struct{}
}

func (m *stubMatcher) Run(ctx context.Context, _ time.Time) (*reconciliation.Result, error) {
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.block != nil {
		<-m.block
	}
	return m.res, m.err
}

type failingFraud struct{}

func (failingFraud) Evaluate(context.Context, string, time.Time) (int, error) {
	return 0, errors.New("customer table locked")
}

func TestRunCycle_FailuresAbort(t *testing.T) {
	a := New(Deps{Matcher: &stubMatcher{err: errors.New("db gone")}})
	_, err := a.RunCycle(context.Background())
	assert.ErrorContains(t, err, "db gone")

	a = New(Deps{
		Matcher: &stubMatcher{res: &reconciliation.Result{Kind: reconciliation.KindRun, RunID: "run-1"}},
		Fraud:   failingFraud{},
	})
	_, err = a.RunCycle(context.Background())
	assert.ErrorContains(t, err, "customer table locked")
}

func TestRunCycle_WaitingForLeaseHonoursContext(t *testing.T) {
	m := &stubMatcher{
		res:     &reconciliation.Result{Kind: reconciliation.KindNoOp},
		started: make(chan struct{}, 1),
		block:   make(chan struct{}),
	}
	a := New(Deps{Matcher: m})

	done := make(chan error, 1)
	go func() {
		_, err := a.RunCycle(context.Background())
		done <- err
	}()
	<-m.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.RunCycle(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(m.block)
	require.NoError(t, <-done)

	m.started = nil
	res, err := a.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleNoOp, res.Kind)
}

func TestNeedsInvestigation(t *testing.T) {
	d := domain.Distribution{{Type: "MISSING_DEPOSIT", Belief: 1}}
	assert.True(t, needsInvestigation(domain.RunInvestigationRequired, 0, d))
	assert.True(t, needsInvestigation(domain.RunCompleted, 1, d))
	assert.False(t, needsInvestigation(domain.RunCompleted, 0, d))
	assert.False(t, needsInvestigation(domain.RunInvestigationRequired, 3, domain.Distribution{}))
}
