// Package agent runs the reconcile, score, investigate and report cycle.
package agent

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wakala/reconagent/internal/belief"
	"github.com/wakala/reconagent/internal/domain"
	"github.com/wakala/reconagent/internal/evidence"
	"github.com/wakala/reconagent/internal/fraud"
	"github.com/wakala/reconagent/internal/llm"
	"github.com/wakala/reconagent/internal/metrics"
	"github.com/wakala/reconagent/internal/reconciliation"
	"github.com/wakala/reconagent/internal/report"
	"github.com/wakala/reconagent/internal/repository"
)

// CycleKind tells a completed cycle apart from one with nothing to reconcile.
type CycleKind int

const (
	CycleNoOp CycleKind = iota
	CycleCompleted
)

func (k CycleKind) String() string {
	if k == CycleCompleted {
		return "completed"
	}
	return "noop"
}

func (k CycleKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// CycleResult summarises one cycle. Report is nil when no investigation ran.
type CycleResult struct {
	Kind               CycleKind                `json:"kind"`
	RunID              string                   `json:"run_id,omitempty"`
	Status             domain.RunStatus         `json:"status,omitempty"`
	Variance           decimal.Decimal          `json:"variance"`
	VarianceDirection  domain.VarianceDirection `json:"variance_direction,omitempty"`
	AutoReconciledRate float64                  `json:"auto_reconciled_rate"`
	DiscrepancyCount   int                      `json:"discrepancy_count"`
	FraudAlertCount    int                      `json:"fraud_alert_count"`
	InvestigationRan   bool                     `json:"investigation_ran"`
	Iterations         int                      `json:"iterations"`
	Beliefs            domain.Distribution      `json:"beliefs,omitempty"`
	Report             *domain.ExecutiveReport  `json:"report,omitempty"`
	FallbackReason     string                   `json:"fallback_reason,omitempty"`
}

type Matcher interface {
	Run(ctx context.Context, now time.Time) (*reconciliation.Result, error)
}

type FraudEvaluator interface {
	Evaluate(ctx context.Context, runID string, now time.Time) (int, error)
}

type DiscrepancyLister interface {
	ListByRun(ctx context.Context, runID string) ([]domain.Discrepancy, error)
}

type AlertLister interface {
	ListByRun(ctx context.Context, runID string, alertType domain.AlertType) ([]domain.FraudAlert, error)
}

type WeightLister interface {
	List(ctx context.Context) ([]domain.HypothesisWeight, error)
}

type Investigator interface {
	Investigate(ctx context.Context, runID string, d domain.Distribution) (*belief.Outcome, error)
}

type Reporter interface {
	Generate(ctx context.Context, runID string, beliefs domain.Distribution) (*domain.ExecutiveReport, error)
}

// Deps are the collaborators of an Agent.
type Deps struct {
	Matcher       Matcher
	Fraud         FraudEvaluator
	Discrepancies DiscrepancyLister
	Alerts        AlertLister
	Weights       WeightLister
	Investigator  Investigator
	Reporter      Reporter
}

// Config sizes the store-backed agent.
type Config struct {
	FraudWorkers int
	Report       report.Config
}

// Agent owns the cycle lease. Cycles never overlap.
type Agent struct {
	deps  Deps
	lease *lease
	now   func() time.Time
}

func New(deps Deps) *Agent {
	return &Agent{deps: deps, lease: newLease(), now: time.Now}
}

// NewFromStore wires every component against st. model may be nil.
func NewFromStore(st *repository.Store, model llm.Client, cfg Config) *Agent {
	tools := evidence.NewDefaultRegistry(st.Alerts, st.Discrepancies, st.Transactions)
	return New(Deps{
		Matcher:       reconciliation.NewService(st.Transactions, st.Runs),
		Fraud:         fraud.NewEngine(st.Customers, st.Transactions, st.Alerts, cfg.FraudWorkers),
		Discrepancies: st.Discrepancies,
		Alerts:        st.Alerts,
		Weights:       st.Weights,
		Investigator:  belief.NewInvestigator(tools, st.Investigations),
		Reporter:      report.NewGenerator(st.Runs, st.Alerts, st.Discrepancies, st.Transactions, model, cfg.Report),
	})
}

// RunCycle waits for the lease, then reconciles pending records, scores every
// customer, and when warranted investigates and reports. Any failure before
// the report aborts the cycle with what has already been committed left as is.
func (a *Agent) RunCycle(ctx context.Context) (*CycleResult, error) {
	release, err := a.lease.acquire(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "wait for cycle lease")
	}
	defer release()

	start := time.Now()
	res, err := a.runCycle(ctx, a.now())
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("failed").Inc()
		zap.L().Error("agent: cycle failed", zap.Error(err))
		return nil, err
	}
	metrics.CyclesTotal.WithLabelValues(res.Kind.String()).Inc()
	return res, nil
}

func (a *Agent) runCycle(ctx context.Context, now time.Time) (*CycleResult, error) {
	recon, err := a.deps.Matcher.Run(ctx, now)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile")
	}
	if recon.Kind == reconciliation.KindNoOp {
		return &CycleResult{Kind: CycleNoOp}, nil
	}
	metrics.AutoReconciledRate.Set(recon.AutoReconciledRate)

	log := zap.L().With(zap.String("run_id", recon.RunID))
	out := &CycleResult{
		Kind:               CycleCompleted,
		RunID:              recon.RunID,
		Status:             recon.Status,
		Variance:           recon.Variance,
		VarianceDirection:  recon.VarianceDirection,
		AutoReconciledRate: recon.AutoReconciledRate,
		DiscrepancyCount:   recon.DiscrepancyCount,
	}

	if out.FraudAlertCount, err = a.deps.Fraud.Evaluate(ctx, recon.RunID, now); err != nil {
		return nil, eris.Wrap(err, "score fraud risk")
	}

	discs, err := a.deps.Discrepancies.ListByRun(ctx, recon.RunID)
	if err != nil {
		return nil, eris.Wrap(err, "load discrepancies")
	}
	alerts, err := a.deps.Alerts.ListByRun(ctx, recon.RunID, "")
	if err != nil {
		return nil, eris.Wrap(err, "load alerts")
	}
	for _, d := range discs {
		metrics.DiscrepanciesTotal.WithLabelValues(string(d.Type)).Inc()
	}

	weights, err := a.deps.Weights.List(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load hypothesis weights")
	}
	initial := belief.Initial(discs, alerts, belief.NewWeights(weights))
	out.Beliefs = initial

	if !needsInvestigation(out.Status, out.FraudAlertCount, initial) {
		log.Info("agent: no investigation required",
			zap.String("status", string(out.Status)),
			zap.Int("fraud_alerts", out.FraudAlertCount),
		)
		return out, nil
	}

	outcome, err := a.deps.Investigator.Investigate(ctx, recon.RunID, initial)
	if err != nil {
		return nil, eris.Wrap(err, "investigate")
	}
	out.InvestigationRan = true
	out.Iterations = outcome.Iterations
	out.Beliefs = outcome.Final

	rpt, err := a.deps.Reporter.Generate(ctx, recon.RunID, outcome.Final)
	if err != nil {
		return nil, eris.Wrap(err, "generate report")
	}
	out.Report = rpt
	out.FallbackReason = rpt.FallbackReason

	log.Info("agent: cycle completed",
		zap.String("status", string(out.Status)),
		zap.Int("fraud_alerts", out.FraudAlertCount),
		zap.Int("iterations", out.Iterations),
		zap.String("report_source", string(rpt.Source)),
	)
	return out, nil
}

func needsInvestigation(status domain.RunStatus, alertCount int, d domain.Distribution) bool {
	if d.Empty() {
		return false
	}
	return status == domain.RunInvestigationRequired || alertCount > 0
}
