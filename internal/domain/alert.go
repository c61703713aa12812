package domain

import "github.com/shopspring/decimal"

type AlertType string

const (
	AlertVelocitySpike      AlertType = "VELOCITY_SPIKE"
	AlertAmountAnomaly      AlertType = "AMOUNT_ANOMALY"
	AlertStructuringPattern AlertType = "STRUCTURING_PATTERN"
)

type FraudAlert struct {
	ID                    string          `json:"id"`
	RunID                 string          `json:"run_id"`
	CustomerID            string          `json:"customer_id"`
	AlertType             AlertType       `json:"alert_type"`
	RiskScore             int             `json:"risk_score"`
	RelatedTransactionIDs []string        `json:"related_transaction_ids"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	TransactionCount      int             `json:"transaction_count"`
	Status                string          `json:"status"`
}
