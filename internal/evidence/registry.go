// Package evidence gathers supporting facts for a hypothesis about a run.
// Each hypothesis type maps to one Tool; unmapped types fall back to a generic
// low-confidence tool.
package evidence

import (
	"context"

	"github.com/shopspring/decimal"
)

// Evidence is what a tool reports back to the investigation loop. Type names
// the hypothesis the evidence supports.
type Evidence struct {
	Type                string          `json:"type"`
	Strength            float64         `json:"evidenceStrength"`
	Message             string          `json:"message,omitempty"`
	AlertCount          int             `json:"alertCount,omitempty"`
	TransactionCount    int             `json:"transactionCount,omitempty"`
	AffectedCustomers   []string        `json:"affectedCustomers,omitempty"`
	TotalExposure       decimal.Decimal `json:"totalExposure"`
	TotalVariance       decimal.Decimal `json:"totalVariance"`
	TotalRiskScore      int             `json:"totalRiskScore,omitempty"`
	AvgDeviationPercent float64         `json:"avgDeviationPercent,omitempty"`
}

// Tool produces evidence for one run.
type Tool interface {
	Name() string
	Analyze(ctx context.Context, runID string) (*Evidence, error)
}

// Registry maps hypothesis types to tools.
type Registry struct {
	tools    map[string]Tool
	fallback Tool
}

// NewRegistry returns an empty registry whose default is the generic tool.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool), fallback: Generic{}}
}

// NewDefaultRegistry wires the standard tool for every known hypothesis type.
func NewDefaultRegistry(alerts AlertSource, discs DiscrepancySource, txns TransactionSource) *Registry {
	r := NewRegistry()
	r.Register(HypothesisVelocitySpike, &VelocityTool{alerts: alerts, txns: txns})
	r.Register(HypothesisStructuringPattern, &StructuringTool{alerts: alerts})
	r.Register(HypothesisMissingDeposit, &MissingDepositTool{discs: discs, txns: txns})
	r.Register(HypothesisFXMismatch, &FXMismatchTool{discs: discs, txns: txns})
	r.Register(HypothesisAmountAnomaly, &AmountAnomalyTool{alerts: alerts, txns: txns})
	return r
}

func (r *Registry) Register(hypothesis string, t Tool) {
	r.tools[hypothesis] = t
}

// Resolve returns the tool for a hypothesis. mapped is false when the default
// tool was returned.
func (r *Registry) Resolve(hypothesis string) (tool Tool, mapped bool) {
	if t, ok := r.tools[hypothesis]; ok {
		return t, true
	}
	return r.fallback, false
}
