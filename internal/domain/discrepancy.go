package domain

import "github.com/shopspring/decimal"

type DiscrepancyType string

const (
	DiscrepancyMissingDeposit DiscrepancyType = "MISSING_DEPOSIT"
	DiscrepancyFXMismatch     DiscrepancyType = "FX_MISMATCH"
)

// StatusOpen is the only status the core ever assigns to discrepancies and alerts.
const StatusOpen = "OPEN"

// Discrepancy groups every transaction of one mismatch category within a run.
type Discrepancy struct {
	ID             string          `json:"id"`
	RunID          string          `json:"run_id"`
	Type           DiscrepancyType `json:"type"`
	TransactionIDs []string        `json:"transaction_ids"`
	CustomerIDs    []string        `json:"customer_ids"`
	VarianceAmount decimal.Decimal `json:"variance_amount"`
	Status         string          `json:"status"`
}
