// Package belief scores root-cause hypotheses for a run and sharpens them with
// a bounded evidence-gathering loop.
package belief

import (
	"math"
	"sort"

	"github.com/wakala/reconagent/internal/domain"
)

// Reinforcement is added to a hypothesis each time a tool returns evidence
// for it.
const Reinforcement = 0.15

// Weights holds the prior multiplier per hypothesis type.
type Weights map[string]float64

// NewWeights picks one weight per type. A source-agnostic row wins; otherwise
// the row with the smallest source name does. Non-positive weights count as 1.
func NewWeights(rows []domain.HypothesisWeight) Weights {
	w := make(Weights, len(rows))
	chosen := make(map[string]string, len(rows))
	for _, r := range rows {
		src, seen := chosen[r.HypothesisType]
		if seen && (src == "" || r.SourceName >= src) {
			continue
		}
		chosen[r.HypothesisType] = r.SourceName
		w[r.HypothesisType] = r.Weight
	}
	return w
}

// For returns the weight of a type, 1 when unseeded.
func (w Weights) For(hypothesis string) float64 {
	if v, ok := w[hypothesis]; ok && v > 0 {
		return v
	}
	return 1
}

type score struct {
	typ   string
	value float64
}

// Initial builds the starting distribution from a run's discrepancies and
// alerts. Each discrepancy scores its transaction count (at least 1), each
// alert its risk score; scores for the same type accumulate. No evidence gives
// an empty distribution, zero total evidence gives all-zero beliefs.
func Initial(discs []domain.Discrepancy, alerts []domain.FraudAlert, weights Weights) domain.Distribution {
	var scores []score
	index := make(map[string]int)
	add := func(typ string, base float64) {
		v := base * weights.For(typ)
		if i, ok := index[typ]; ok {
			scores[i].value += v
			return
		}
		index[typ] = len(scores)
		scores = append(scores, score{typ: typ, value: v})
	}

	for _, d := range discs {
		base := len(d.TransactionIDs)
		if base == 0 {
			base = 1
		}
		add(string(d.Type), float64(base))
	}
	for _, a := range alerts {
		add(string(a.AlertType), float64(a.RiskScore))
	}

	if len(scores) == 0 {
		return domain.Distribution{}
	}
	return normalize(scores)
}

// Reinforce adds Reinforcement (capped at 1) to the belief whose type matches
// hypothesis, then renormalises. Unknown types leave the shape unchanged
// apart from renormalisation.
func Reinforce(d domain.Distribution, hypothesis string) domain.Distribution {
	scores := make([]score, len(d))
	for i, b := range d {
		v := b.Belief
		if b.Type == hypothesis {
			v = math.Min(v+Reinforcement, 1)
		}
		scores[i] = score{typ: b.Type, value: v}
	}
	return normalize(scores)
}

// normalize divides by the total, rounds each entry to hundredths and
// stable-sorts descending. The sum may be off by 0.01. A zero total yields all
// zeros.
func normalize(scores []score) domain.Distribution {
	var total float64
	for _, s := range scores {
		total += s.value
	}

	out := make(domain.Distribution, len(scores))
	if total <= 0 {
		for i, s := range scores {
			out[i] = domain.Belief{Type: s.typ}
		}
		return out
	}

	for i, s := range scores {
		out[i] = domain.Belief{Type: s.typ, Belief: math.Round(s.value/total*100) / 100}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Belief > out[b].Belief })
	return out
}
