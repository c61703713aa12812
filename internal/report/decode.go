package report

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/wakala/reconagent/internal/domain"
)

// ErrInvalidResponse marks model output that does not have the report shape.
var ErrInvalidResponse = eris.New("invalid model response")

// modelResponse mirrors the JSON the model is asked for. Pointers tell a
// missing field from a zero value.
type modelResponse struct {
	PrimaryCause       *string  `json:"primaryCause"`
	SecondaryFactor    *string  `json:"secondaryFactor"`
	FinancialImpact    *float64 `json:"financialImpact"`
	AffectedCustomers  []string `json:"affectedCustomers"`
	RecommendedActions []string `json:"recommendedActions"`
	Confidence         *float64 `json:"confidence"`
}

// decodeResponse parses model text into a report. Unknown keys, trailing
// data and missing required fields are rejected.
func decodeResponse(text string) (*domain.ExecutiveReport, error) {
	body := stripFence(strings.TrimSpace(text))

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	var resp modelResponse
	if err := dec.Decode(&resp); err != nil {
		return nil, eris.Wrapf(ErrInvalidResponse, "decode: %v", err)
	}
	if dec.More() {
		return nil, eris.Wrap(ErrInvalidResponse, "trailing data after object")
	}

	switch {
	case resp.PrimaryCause == nil:
		return nil, eris.Wrap(ErrInvalidResponse, "missing primaryCause")
	case resp.FinancialImpact == nil:
		return nil, eris.Wrap(ErrInvalidResponse, "missing financialImpact")
	case resp.Confidence == nil:
		return nil, eris.Wrap(ErrInvalidResponse, "missing confidence")
	}

	actions := resp.RecommendedActions
	if actions == nil {
		actions = []string{}
	}
	return &domain.ExecutiveReport{
		PrimaryCause:       *resp.PrimaryCause,
		SecondaryFactor:    resp.SecondaryFactor,
		FinancialImpact:    *resp.FinancialImpact,
		RecommendedActions: actions,
		Confidence:         clamp(*resp.Confidence, ModelConfidenceMin, ModelConfidenceMax),
		Source:             domain.ReportFromModel,
	}, nil
}

// stripFence removes a surrounding ``` or ```json fence.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
