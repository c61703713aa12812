package domain

import "time"

type ReportSource string

const (
	ReportFromModel    ReportSource = "model"
	ReportFromFallback ReportSource = "fallback"
)

// ExecutiveReport is the causal summary attached to a run.
type ExecutiveReport struct {
	PrimaryCause       string       `json:"primaryCause"`
	SecondaryFactor    *string      `json:"secondaryFactor"`
	FinancialImpact    float64      `json:"financialImpact"`
	AffectedCustomers  []string     `json:"affectedCustomers"`
	RecommendedActions []string     `json:"recommendedActions"`
	Confidence         float64      `json:"confidence"`
	Source             ReportSource `json:"source"`
	FallbackReason     string       `json:"fallbackReason,omitempty"`
	GeneratedAt        time.Time    `json:"generatedAt"`
}
