package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RunStatus string

const (
	RunCompleted             RunStatus = "COMPLETED"
	RunInvestigationRequired RunStatus = "INVESTIGATION_REQUIRED"
)

type VarianceDirection string

const (
	VariancePSPHigher      VarianceDirection = "PSP_HIGHER"
	VarianceInternalHigher VarianceDirection = "INTERNAL_HIGHER"
	VarianceBalanced       VarianceDirection = "BALANCED"
)

// DirectionOf classifies the sign of a PSP-minus-internal variance.
func DirectionOf(variance decimal.Decimal) VarianceDirection {
	switch variance.Sign() {
	case 1:
		return VariancePSPHigher
	case -1:
		return VarianceInternalHigher
	default:
		return VarianceBalanced
	}
}

// ReconciliationRun is created once per matcher execution. Only
// ExecutiveReport is written afterwards, and only once.
type ReconciliationRun struct {
	ID                 string           `json:"id"`
	RunDate            time.Time        `json:"run_date"`
	PSPTotal           decimal.Decimal  `json:"psp_total"`
	InternalTotal      decimal.Decimal  `json:"internal_total"`
	ERPTotal           decimal.Decimal  `json:"erp_total"`
	VarianceAmount     decimal.Decimal  `json:"variance_amount"`
	AutoReconciledRate float64          `json:"auto_reconciled_rate"`
	DiscrepancyCount   int              `json:"discrepancy_count"`
	Status             RunStatus        `json:"status"`
	ExecutiveReport    *ExecutiveReport `json:"executive_report,omitempty"`
}
