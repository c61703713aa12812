package belief

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wakala/reconagent/internal/domain"
	"github.com/wakala/reconagent/internal/evidence"
	"github.com/wakala/reconagent/internal/metrics"
)

// Loop bounds. Fixed, not configurable.
const (
	MaxIterations       = 2
	ConfidenceThreshold = 0.8
)

// ToolResolver maps a hypothesis to the tool that gathers evidence for it.
type ToolResolver interface {
	Resolve(hypothesis string) (tool evidence.Tool, mapped bool)
}

// LogWriter appends investigation log entries.
type LogWriter interface {
	Append(ctx context.Context, e *domain.InvestigationLogEntry) error
}

// Outcome is the result of one investigation.
type Outcome struct {
	Final      domain.Distribution
	Iterations int
	Entries    []domain.InvestigationLogEntry
}

// Investigator runs the bounded evidence loop.
type Investigator struct {
	tools ToolResolver
	logs  LogWriter
	now   func() time.Time
}

func NewInvestigator(tools ToolResolver, logs LogWriter) *Investigator {
	return &Investigator{tools: tools, logs: logs, now: time.Now}
}

// Investigate calls at most MaxIterations tools, stopping early once the top
// belief reaches ConfidenceThreshold. An empty or all-zero distribution is
// returned unchanged without calling any tool.
func (inv *Investigator) Investigate(ctx context.Context, runID string, d domain.Distribution) (*Outcome, error) {
	out := &Outcome{Final: d}
	if d.Empty() || d.Sum() == 0 {
		return out, nil
	}

	log := zap.L().With(zap.String("run_id", runID))
	current := d
	for iteration := 1; iteration <= MaxIterations; iteration++ {
		top := selectHighest(current)
		if top.Belief >= ConfidenceThreshold {
			break
		}

		tool, mapped := inv.tools.Resolve(top.Type)
		if !mapped {
			log.Warn("investigation: no tool mapped, using generic analysis", zap.String("hypothesis", top.Type))
		}

		ev, err := tool.Analyze(ctx, runID)
		if err != nil {
			return nil, eris.Wrapf(err, "iteration %d: %s", iteration, tool.Name())
		}
		metrics.InvestigationToolCalls.WithLabelValues(tool.Name()).Inc()

		current = Reinforce(current, ev.Type)

		summary, err := json.Marshal(ev)
		if err != nil {
			return nil, eris.Wrap(err, "encode evidence")
		}
		entry := domain.InvestigationLogEntry{
			ID:              uuid.NewString(),
			RunID:           runID,
			Iteration:       iteration,
			ToolCalled:      tool.Name(),
			BeliefSnapshot:  current,
			EvidenceSummary: string(summary),
			CreatedAt:       inv.now(),
		}
		if err := inv.logs.Append(ctx, &entry); err != nil {
			return nil, eris.Wrapf(err, "iteration %d: append log", iteration)
		}
		out.Entries = append(out.Entries, entry)
		out.Iterations = iteration

		log.Info("investigation: iteration complete",
			zap.Int("iteration", iteration),
			zap.String("tool", tool.Name()),
			zap.String("evidence_type", ev.Type),
			zap.Float64("evidence_strength", ev.Strength),
			zap.String("top", current[0].Type),
			zap.Float64("top_belief", current[0].Belief),
		)
	}

	out.Final = current
	return out, nil
}

// selectHighest returns the first entry holding the maximum belief.
func selectHighest(d domain.Distribution) domain.Belief {
	best := d[0]
	for _, b := range d[1:] {
		if b.Belief > best.Belief {
			best = b
		}
	}
	return best
}
