package reconciliation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wakala/reconagent/internal/domain"
)

// Matching policy. These are fixed and not configurable.
var (
	FXTolerance          = decimal.RequireFromString("0.03")
	MaterialityThreshold = decimal.NewFromInt(5000)
	TimeTolerance        = 48 * time.Hour
	DiscrepancyThreshold = 5
)

// Kind tells a produced run apart from a pass with nothing to do.
type Kind int

const (
	KindNoOp Kind = iota
	KindRun
)

// Result summarises one matcher pass.
type Result struct {
	Kind               Kind                     `json:"-"`
	RunID              string                   `json:"run_id,omitempty"`
	Variance           decimal.Decimal          `json:"variance"`
	VarianceDirection  domain.VarianceDirection `json:"variance_direction,omitempty"`
	DiscrepancyCount   int                      `json:"discrepancy_count"`
	AutoReconciledRate float64                  `json:"auto_reconciled_rate"`
	Status             domain.RunStatus         `json:"status,omitempty"`
	MatchedCount       int                      `json:"matched_count"`
}

// TransactionSource reads the unreconciled records of one source.
type TransactionSource interface {
	Unreconciled(ctx context.Context, source domain.SourceType) ([]domain.TransactionRecord, error)
}

// RunWriter persists a run, its discrepancies and the reconciled flags as
// one unit.
type RunWriter interface {
	SaveReconciliation(ctx context.Context, run *domain.ReconciliationRun, discs []domain.Discrepancy, reconciled []domain.RecordKey) error
}

// Service matches PSP records against the internal ledger and ERP.
type Service struct {
	txns TransactionSource
	runs RunWriter
}

// NewService creates a new reconciliation service.
func NewService(txns TransactionSource, runs RunWriter) *Service {
	return &Service{txns: txns, runs: runs}
}

type fxPair struct {
	psp      domain.TransactionRecord
	variance decimal.Decimal
}

// Run reconciles all unreconciled PSP records. With none pending it returns a
// KindNoOp result and writes nothing.
func (s *Service) Run(ctx context.Context, now time.Time) (*Result, error) {
	psp, err := s.txns.Unreconciled(ctx, domain.SourcePSP)
	if err != nil {
		return nil, eris.Wrap(err, "load psp records")
	}
	if len(psp) == 0 {
		zap.L().Info("reconciliation: no new psp transactions")
		return &Result{Kind: KindNoOp}, nil
	}

	internal, err := s.txns.Unreconciled(ctx, domain.SourceInternal)
	if err != nil {
		return nil, eris.Wrap(err, "load internal records")
	}
	erp, err := s.txns.Unreconciled(ctx, domain.SourceERP)
	if err != nil {
		return nil, eris.Wrap(err, "load erp records")
	}

	internalByID := indexByTransactionID(internal)
	erpByID := indexByTransactionID(erp)

	var (
		reconciled []domain.RecordKey
		missing    []domain.TransactionRecord
		fx         []fxPair
		matched    int
	)

	for _, p := range psp {
		i, ok := internalByID[p.TransactionID]
		if !ok {
			missing = append(missing, p)
			continue
		}

		if IsExactMatch(p, i) {
			reconciled = append(reconciled, p.Key(), i.Key())
			if e, ok := erpByID[p.TransactionID]; ok {
				reconciled = append(reconciled, e.Key())
			}
			matched++
			continue
		}

		if WithinFXTolerance(p.NormalizedAmount, i.NormalizedAmount) {
			reconciled = append(reconciled, p.Key(), i.Key())
			fx = append(fx, fxPair{psp: p, variance: p.NormalizedAmount.Sub(i.NormalizedAmount).Abs()})
			matched++
			continue
		}

		missing = append(missing, p)
	}

	pspTotal := domain.SumNormalized(psp)
	internalTotal := domain.SumNormalized(internal)
	variance := pspTotal.Sub(internalTotal)
	discrepancyCount := len(missing) + len(fx)

	run := &domain.ReconciliationRun{
		ID:                 uuid.NewString(),
		RunDate:            now,
		PSPTotal:           pspTotal,
		InternalTotal:      internalTotal,
		ERPTotal:           domain.SumNormalized(erp),
		VarianceAmount:     variance,
		AutoReconciledRate: float64(matched) / float64(len(psp)) * 100,
		DiscrepancyCount:   discrepancyCount,
		Status:             runStatus(variance, discrepancyCount),
	}

	var discs []domain.Discrepancy
	if len(missing) > 0 {
		discs = append(discs, missingDepositDiscrepancy(run.ID, missing))
	}
	if len(fx) > 0 {
		discs = append(discs, fxDiscrepancy(run.ID, fx))
	}

	if err := s.runs.SaveReconciliation(ctx, run, discs, reconciled); err != nil {
		return nil, eris.Wrap(err, "save reconciliation")
	}

	zap.L().Info("reconciliation: run completed",
		zap.String("run_id", run.ID),
		zap.String("variance", variance.String()),
		zap.Int("matched", matched),
		zap.Int("missing_deposits", len(missing)),
		zap.Int("fx_mismatches", len(fx)),
		zap.String("status", string(run.Status)),
	)

	return &Result{
		Kind:               KindRun,
		RunID:              run.ID,
		Variance:           variance,
		VarianceDirection:  domain.DirectionOf(variance),
		DiscrepancyCount:   discrepancyCount,
		AutoReconciledRate: run.AutoReconciledRate,
		Status:             run.Status,
		MatchedCount:       matched,
	}, nil
}

// IsExactMatch reports whether the amounts are equal and the timestamps lie
// within TimeTolerance of each other.
func IsExactMatch(p, i domain.TransactionRecord) bool {
	if !p.NormalizedAmount.Equal(i.NormalizedAmount) {
		return false
	}
	diff := p.Timestamp.Sub(i.Timestamp)
	if diff < 0 {
		diff = -diff
	}
	return diff <= TimeTolerance
}

// WithinFXTolerance reports whether 0 < |psp-internal|/|psp| <= FXTolerance.
// A zero PSP amount never qualifies.
func WithinFXTolerance(psp, internal decimal.Decimal) bool {
	if psp.IsZero() {
		return false
	}
	pct := psp.Sub(internal).Abs().Div(psp.Abs())
	return pct.IsPositive() && pct.LessThanOrEqual(FXTolerance)
}

func runStatus(variance decimal.Decimal, discrepancyCount int) domain.RunStatus {
	if variance.Abs().GreaterThan(MaterialityThreshold) || discrepancyCount > DiscrepancyThreshold {
		return domain.RunInvestigationRequired
	}
	return domain.RunCompleted
}

// indexByTransactionID keys records by transaction id; later duplicates win.
func indexByTransactionID(recs []domain.TransactionRecord) map[string]domain.TransactionRecord {
	m := make(map[string]domain.TransactionRecord, len(recs))
	for _, r := range recs {
		m[r.TransactionID] = r
	}
	return m
}

func missingDepositDiscrepancy(runID string, recs []domain.TransactionRecord) domain.Discrepancy {
	txnIDs := make([]string, 0, len(recs))
	custs := newIDSet()
	for _, r := range recs {
		txnIDs = append(txnIDs, r.TransactionID)
		custs.add(r.CustomerID)
	}
	return domain.Discrepancy{
		ID:             uuid.NewString(),
		RunID:          runID,
		Type:           domain.DiscrepancyMissingDeposit,
		TransactionIDs: txnIDs,
		CustomerIDs:    custs.ids,
		VarianceAmount: domain.SumNormalized(recs),
		Status:         domain.StatusOpen,
	}
}

func fxDiscrepancy(runID string, pairs []fxPair) domain.Discrepancy {
	txnIDs := make([]string, 0, len(pairs))
	custs := newIDSet()
	total := decimal.Zero
	for _, p := range pairs {
		txnIDs = append(txnIDs, p.psp.TransactionID)
		custs.add(p.psp.CustomerID)
		total = total.Add(p.variance)
	}
	return domain.Discrepancy{
		ID:             uuid.NewString(),
		RunID:          runID,
		Type:           domain.DiscrepancyFXMismatch,
		TransactionIDs: txnIDs,
		CustomerIDs:    custs.ids,
		VarianceAmount: total,
		Status:         domain.StatusOpen,
	}
}

// idSet keeps first-seen order.
type idSet struct {
	seen map[string]struct{}
	ids  []string
}

func newIDSet() *idSet {
	return &idSet{seen: make(map[string]struct{}), ids: []string{}}
}

func (s *idSet) add(id string) {
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = struct{}{}
	s.ids = append(s.ids, id)
}
