package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/wakala/reconagent/internal/agent"
	"github.com/wakala/reconagent/internal/domain"
	"github.com/wakala/reconagent/internal/ingestion"
	"github.com/wakala/reconagent/internal/repository"
)

// RunReader reads reconciliation runs.
type RunReader interface {
	Latest(ctx context.Context) (*domain.ReconciliationRun, error)
	LatestWithReport(ctx context.Context) (*domain.ReconciliationRun, error)
	ListWithReports(ctx context.Context) ([]domain.ReconciliationRun, error)
}

// AlertCounter counts the fraud alerts raised in a run.
type AlertCounter interface {
	CountByRun(ctx context.Context, runID string) (int, error)
}

// LogReader reads investigation logs.
type LogReader interface {
	ListByRun(ctx context.Context, runID string) ([]domain.InvestigationLogEntry, error)
	Latest(ctx context.Context) (*domain.InvestigationLogEntry, error)
}

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	runs         RunReader
	alerts       AlertCounter
	logs         LogReader
	cycler       agent.Cycler
	ingestionSvc *ingestion.Service
	cycleTimeout time.Duration
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps ErrNotFound to 404 and everything else to 500.
func writeStoreError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFound)
		return
	}
	zap.L().Error("api: store error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func roundUSD(v float64) float64 {
	return math.Round(v*100) / 100
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// --- Health ---

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- RunCycle ---

func (h *Handlers) RunCycle(w http.ResponseWriter, r *http.Request) {
	if h.cycler == nil {
		writeError(w, http.StatusServiceUnavailable, "agent not configured")
		return
	}

	ctx := r.Context()
	if h.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cycleTimeout)
		defer cancel()
	}

	res, err := h.cycler.RunCycle(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			writeError(w, http.StatusServiceUnavailable, "cycle did not start or finish in time")
			return
		}
		zap.L().Error("api: cycle failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cycle failed")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// --- IngestTransactions ---

// IngestTransactions accepts either a multipart form (source, format, file)
// or a raw body with source and format as query parameters.
func (h *Handlers) IngestTransactions(w http.ResponseWriter, r *http.Request) {
	var (
		source, format string
		data           []byte
		err            error
	)

	if isMultipart(r) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
			return
		}
		source, format = r.FormValue("source"), r.FormValue("format")

		file, _, ferr := r.FormFile("file")
		if ferr != nil {
			writeError(w, http.StatusBadRequest, "file field is required: "+ferr.Error())
			return
		}
		defer file.Close()
		data, err = io.ReadAll(file)
	} else {
		q := r.URL.Query()
		source, format = q.Get("source"), q.Get("format")
		data, err = io.ReadAll(io.LimitReader(r.Body, 32<<20))
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read body: "+err.Error())
		return
	}

	if source == "" || format == "" {
		writeError(w, http.StatusBadRequest, "source and format are required")
		return
	}
	src, err := ingestion.ParseSource(source)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.ingestionSvc.Ingest(r.Context(), data, src, format)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// --- GetDashboard ---

type dashboard struct {
	AgentStatus        string           `json:"agentStatus"`
	LastRunID          string           `json:"lastRunId"`
	RunDate            time.Time        `json:"runDate"`
	Variance           float64          `json:"variance"`
	AutoReconciledRate float64          `json:"autoReconciledRate"`
	DiscrepancyCount   int              `json:"discrepancyCount"`
	FraudAlerts        int              `json:"fraudAlerts"`
	Status             domain.RunStatus `json:"status"`
	RiskLevel          domain.RiskLevel `json:"riskLevel"`
}

func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Latest(r.Context())
	if err != nil {
		writeStoreError(w, err, "no reconciliation run yet")
		return
	}

	alerts, err := h.alerts.CountByRun(r.Context(), run.ID)
	if err != nil {
		writeStoreError(w, err, "alerts not found")
		return
	}

	writeJSON(w, http.StatusOK, dashboard{
		AgentStatus:        "ACTIVE",
		LastRunID:          run.ID,
		RunDate:            run.RunDate,
		Variance:           roundUSD(run.VarianceAmount.InexactFloat64()),
		AutoReconciledRate: roundUSD(run.AutoReconciledRate),
		DiscrepancyCount:   run.DiscrepancyCount,
		FraudAlerts:        alerts,
		Status:             run.Status,
		RiskLevel:          dashboardRisk(alerts, run.DiscrepancyCount),
	})
}

func dashboardRisk(alerts, discrepancies int) domain.RiskLevel {
	switch {
	case alerts > 0:
		return domain.RiskHigh
	case discrepancies > 0:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// --- GetBeliefs ---

// GetBeliefs returns the belief snapshot of the most recent investigation
// iteration, or an empty list before any investigation ran.
func (h *Handlers) GetBeliefs(w http.ResponseWriter, r *http.Request) {
	entry, err := h.logs.Latest(r.Context())
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusOK, domain.Distribution{})
		return
	}
	if err != nil {
		writeStoreError(w, err, "")
		return
	}
	snapshot := entry.BeliefSnapshot
	if snapshot == nil {
		snapshot = domain.Distribution{}
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// --- GetInvestigationLogs ---

func (h *Handlers) GetInvestigationLogs(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Latest(r.Context())
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusOK, []domain.InvestigationLogEntry{})
		return
	}
	if err != nil {
		writeStoreError(w, err, "")
		return
	}

	entries, err := h.logs.ListByRun(r.Context(), run.ID)
	if err != nil {
		writeStoreError(w, err, "")
		return
	}
	if entries == nil {
		entries = []domain.InvestigationLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Reports ---

type reportView struct {
	RunID   string                  `json:"run_id"`
	RunDate time.Time               `json:"run_date"`
	Status  domain.RunStatus        `json:"status"`
	Report  *domain.ExecutiveReport `json:"report"`
}

func viewOf(run *domain.ReconciliationRun) reportView {
	return reportView{RunID: run.ID, RunDate: run.RunDate, Status: run.Status, Report: run.ExecutiveReport}
}

// GetLatestReport returns the newest run that carries a report. Runs that
// never needed an investigation are skipped.
func (h *Handlers) GetLatestReport(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.LatestWithReport(r.Context())
	if err != nil {
		writeStoreError(w, err, "no executive report yet")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(run))
}

func (h *Handlers) ListReports(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.ListWithReports(r.Context())
	if err != nil {
		writeStoreError(w, err, "")
		return
	}

	views := make([]reportView, 0, len(runs))
	for i := range runs {
		views = append(views, viewOf(&runs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reports": views,
		"total":   len(views),
	})
}
