package domain

import "time"

// Belief is the normalized confidence that Type explains a run's anomalies.
type Belief struct {
	Type   string  `json:"type"`
	Belief float64 `json:"belief"`
}

// Distribution is ordered by descending belief. It is recomputed on every
// update, never patched in place.
type Distribution []Belief

func (d Distribution) Empty() bool { return len(d) == 0 }

// Top returns the leading hypothesis. ok is false for an empty distribution.
func (d Distribution) Top() (Belief, bool) {
	if len(d) == 0 {
		return Belief{}, false
	}
	return d[0], true
}

// Sum returns the total of all beliefs.
func (d Distribution) Sum() float64 {
	var s float64
	for _, b := range d {
		s += b.Belief
	}
	return s
}

// HypothesisWeight is a prior multiplier for one hypothesis type, optionally
// scoped to a source name.
type HypothesisWeight struct {
	HypothesisType string  `json:"hypothesis_type"`
	SourceName     string  `json:"source_name,omitempty"`
	Weight         float64 `json:"weight"`
}

// InvestigationLogEntry records one iteration of the investigation loop.
type InvestigationLogEntry struct {
	ID              string       `json:"id"`
	RunID           string       `json:"run_id"`
	Iteration       int          `json:"iteration"`
	ToolCalled      string       `json:"tool_called"`
	BeliefSnapshot  Distribution `json:"belief_snapshot"`
	EvidenceSummary string       `json:"evidence_summary"`
	CreatedAt       time.Time    `json:"created_at"`
}
