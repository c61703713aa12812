package domain

import "github.com/shopspring/decimal"

type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

func (l RiskLevel) rank() int {
	switch l {
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// Max returns the more severe of l and other.
func (l RiskLevel) Max(other RiskLevel) RiskLevel {
	if other.rank() > l.rank() {
		return other
	}
	return l
}

type AccountStatus string

const (
	AccountActive AccountStatus = "ACTIVE"
	AccountReview AccountStatus = "REVIEW"
)

type Customer struct {
	CustomerID          string          `json:"customer_id"`
	HistoricalAvgAmount decimal.Decimal `json:"historical_avg_amount"`
	CumulativeRiskScore int             `json:"cumulative_risk_score"`
	RiskLevel           RiskLevel       `json:"risk_level"`
	AccountStatus       AccountStatus   `json:"account_status"`
}
