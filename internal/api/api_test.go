package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakala/reconagent/internal/agent"
	"github.com/wakala/reconagent/internal/domain"
	"github.com/wakala/reconagent/internal/ingestion"
	"github.com/wakala/reconagent/internal/repository"
	"github.com/wakala/reconagent/internal/repository/repotest"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubCycler struct {
	res   *agent.CycleResult
	err   error
	calls int
}

func (s *stubCycler) RunCycle(context.Context) (*agent.CycleResult, error) {
	s.calls++
	return s.res, s.err
}

type testServer struct {
	st     *repository.Store
	cycler *stubCycler
	h      http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := repotest.NewStore(t)
	c := &stubCycler{res: &agent.CycleResult{Kind: agent.CycleNoOp}}
	return &testServer{
		st:     st,
		cycler: c,
		h:      NewRouter(st, c, ingestion.NewService(st.Transactions), Options{}),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) saveRun(t *testing.T, id string, at time.Time, discrepancies int) {
	t.Helper()
	require.NoError(t, s.st.Runs.SaveReconciliation(context.Background(), &domain.ReconciliationRun{
		ID:                 id,
		RunDate:            at,
		VarianceAmount:     decimal.RequireFromString("1234.567"),
		AutoReconciledRate: 98.876,
		DiscrepancyCount:   discrepancies,
		Status:             domain.RunCompleted,
	}, nil, nil))
}

func (s *testServer) addAlert(t *testing.T, runID, customerID string) {
	t.Helper()
	ctx := context.Background()
	_, err := s.st.Customers.BulkInsert(ctx, []domain.Customer{{CustomerID: customerID, HistoricalAvgAmount: decimal.NewFromInt(300)}})
	require.NoError(t, err)
	c, err := s.st.Customers.Get(ctx, customerID)
	require.NoError(t, err)
	require.NoError(t, s.st.Alerts.SaveAssessment(ctx, &repository.CustomerAssessment{
		Customer: *c,
		Alerts: []domain.FraudAlert{{
			ID: runID + "-" + customerID, RunID: runID, CustomerID: customerID,
			AlertType: domain.AlertVelocitySpike, RiskScore: 30, Status: domain.StatusOpen,
		}},
	}, now))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestDashboard(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/dashboard", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.saveRun(t, "run-old", now.Add(-time.Hour), 0)
	s.saveRun(t, "run-new", now, 2)

	rec = s.do(t, http.MethodGet, "/api/v1/dashboard", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	d := decode[dashboard](t, rec)
	assert.Equal(t, "ACTIVE", d.AgentStatus)
	assert.Equal(t, "run-new", d.LastRunID)
	assert.InDelta(t, 1234.57, d.Variance, 1e-9)
	assert.InDelta(t, 98.88, d.AutoReconciledRate, 1e-9)
	assert.Equal(t, 2, d.DiscrepancyCount)
	assert.Zero(t, d.FraudAlerts)
	assert.Equal(t, domain.RiskMedium, d.RiskLevel)

	s.addAlert(t, "run-new", "C1")
	d = decode[dashboard](t, s.do(t, http.MethodGet, "/api/v1/dashboard", nil, ""))
	assert.Equal(t, 1, d.FraudAlerts)
	assert.Equal(t, domain.RiskHigh, d.RiskLevel)
}

func TestDashboardRisk(t *testing.T) {
	assert.Equal(t, domain.RiskLow, dashboardRisk(0, 0))
	assert.Equal(t, domain.RiskMedium, dashboardRisk(0, 1))
	assert.Equal(t, domain.RiskHigh, dashboardRisk(3, 0))
}

func TestBeliefsAndInvestigationLogs(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	rec := s.do(t, http.MethodGet, "/api/v1/beliefs", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/investigation-logs", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	s.saveRun(t, "run-1", now, 6)
	for i, belief := range []float64{0.6, 0.7} {
		require.NoError(t, s.st.Investigations.Append(ctx, &domain.InvestigationLogEntry{
			ID:              "log-" + string(rune('a'+i)),
			RunID:           "run-1",
			Iteration:       i + 1,
			ToolCalled:      "analyzeMissingDeposits",
			BeliefSnapshot:  domain.Distribution{{Type: "MISSING_DEPOSIT", Belief: belief}, {Type: "FX_MISMATCH", Belief: 1 - belief}},
			EvidenceSummary: `{"type":"MISSING_DEPOSIT"}`,
			CreatedAt:       now.Add(time.Duration(i) * time.Second),
		}))
	}

	beliefs := decode[domain.Distribution](t, s.do(t, http.MethodGet, "/api/v1/beliefs", nil, ""))
	require.Len(t, beliefs, 2)
	assert.InDelta(t, 0.7, beliefs[0].Belief, 1e-9)

	logs := decode[[]domain.InvestigationLogEntry](t, s.do(t, http.MethodGet, "/api/v1/investigation-logs", nil, ""))
	require.Len(t, logs, 2)
	assert.Equal(t, "run-1", logs[0].RunID)
	assert.Equal(t, 1, logs[0].Iteration)
	assert.Equal(t, 2, logs[1].Iteration)
}

func TestReports(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	rec := s.do(t, http.MethodGet, "/api/v1/reports/latest", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.saveRun(t, "run-1", now.Add(-2*time.Hour), 6)
	s.saveRun(t, "run-2", now.Add(-time.Hour), 6)
	s.saveRun(t, "run-3", now, 0)
	for _, id := range []string{"run-1", "run-2"} {
		require.NoError(t, s.st.Runs.SetExecutiveReport(ctx, id, &domain.ExecutiveReport{
			PrimaryCause:       "MISSING_DEPOSIT",
			FinancialImpact:    1500,
			AffectedCustomers:  []string{"C1"},
			RecommendedActions: []string{"Manual review required"},
			Confidence:         0.7,
			Source:             domain.ReportFromFallback,
			GeneratedAt:        now,
		}))
	}

	rec = s.do(t, http.MethodGet, "/api/v1/reports/latest", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	latest := decode[reportView](t, rec)
	assert.Equal(t, "run-2", latest.RunID)
	require.NotNil(t, latest.Report)
	assert.Equal(t, "MISSING_DEPOSIT", latest.Report.PrimaryCause)

	var all struct {
		Reports []reportView `json:"reports"`
		Total   int          `json:"total"`
	}
	require.NoError(t, json.Unmarshal(s.do(t, http.MethodGet, "/api/v1/reports", nil, "").Body.Bytes(), &all))
	assert.Equal(t, 2, all.Total)
	assert.Equal(t, "run-2", all.Reports[0].RunID)
	assert.Equal(t, "run-1", all.Reports[1].RunID)
}

func TestRunCycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/cycles", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `"noop"`, string(decode[map[string]json.RawMessage](t, rec)["kind"]))
	assert.Equal(t, 1, s.cycler.calls)

	s.cycler.res, s.cycler.err = nil, errors.New("store down")
	rec = s.do(t, http.MethodPost, "/api/v1/cycles", nil, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "store down")

	s.cycler.err = context.DeadlineExceeded
	rec = s.do(t, http.MethodPost, "/api/v1/cycles", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIngestTransactions(t *testing.T) {
	s := newTestServer(t)
	csv := []byte("transaction_id,customer_id,amount,timestamp\nTX-1,C1,100,2026-03-01T11:00:00Z\nTX-2,C2,200,2026-03-01T11:00:00Z\n")

	rec := s.do(t, http.MethodPost, "/api/v1/transactions/ingest?source=psp&format=csv", csv, "text/csv")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[ingestion.IngestResult](t, rec)
	assert.Equal(t, 2, res.RecordsIngested)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("source", "INTERNAL"))
	require.NoError(t, mw.WriteField("format", "csv"))
	fw, err := mw.CreateFormFile("file", "ledger.csv")
	require.NoError(t, err)
	_, err = fw.Write(csv)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec = s.do(t, http.MethodPost, "/api/v1/transactions/ingest", body.Bytes(), mw.FormDataContentType())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = decode[ingestion.IngestResult](t, rec)
	assert.Equal(t, domain.SourceInternal, res.Source)
	assert.Equal(t, 2, res.RecordsIngested)

	count, err := s.st.Transactions.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestIngestTransactions_BadRequests(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/transactions/ingest?format=csv", []byte("x"), "text/csv")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/transactions/ingest?source=bank&format=csv", []byte("x"), "text/csv")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/transactions/ingest?source=psp&format=xml", []byte("x"), "text/csv")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
