// Package report turns an investigated run into an executive report, using
// the model when it cooperates and a deterministic summary when it does not.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wakala/reconagent/internal/domain"
	"github.com/wakala/reconagent/internal/llm"
	"github.com/wakala/reconagent/internal/metrics"
	"github.com/wakala/reconagent/internal/resilience"
)

const (
	ModelConfidenceMin    = 0.6
	ModelConfidenceMax    = 0.98
	FallbackConfidenceMax = 0.95

	defaultFallbackConfidence = 0.7
	manualReview              = "Manual review required"
)

// Config tunes how the model is called. It does not change report content.
type Config struct {
	MaxAttempts     int
	Backoff         time.Duration
	MinInterval     time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// DefaultConfig retries throttled calls five times, waiting 2s, 4s, 6s and 8s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     5,
		Backoff:         2 * time.Second,
		BreakerFailures: 5,
		BreakerCooldown: time.Minute,
	}
}

// Generator builds, persists and returns executive reports.
type Generator struct {
	runs   RunStore
	alerts AlertSource
	discs  DiscrepancySource
	txns   TransactionSource
	model  llm.Client

	policy  resilience.Policy
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	now     func() time.Time
}

// NewGenerator wires a generator. A nil model always yields fallback reports.
func NewGenerator(runs RunStore, alerts AlertSource, discs DiscrepancySource, txns TransactionSource, model llm.Client, cfg Config) *Generator {
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	return &Generator{
		runs:   runs,
		alerts: alerts,
		discs:  discs,
		txns:   txns,
		model:  model,
		policy: resilience.Policy{
			MaxAttempts: cfg.MaxAttempts,
			Delay:       resilience.LinearBackoff(cfg.Backoff),
			ShouldRetry: retryable,
			OnRetry:     resilience.RetryLogger("anthropic", "executive_report"),
		},
		limiter: rate.NewLimiter(limit, 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "report-model",
			Timeout: cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				zap.L().Warn("circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
		now: time.Now,
	}
}

// Generate writes the executive report of runID exactly once and returns it.
// Model failures produce a fallback report; store failures are returned.
func (g *Generator) Generate(ctx context.Context, runID string, beliefs domain.Distribution) (*domain.ExecutiveReport, error) {
	ev, err := g.collect(ctx, runID)
	if err != nil {
		return nil, err
	}

	rpt, reason := g.fromModel(ctx, beliefs, ev)
	if rpt == nil {
		zap.L().Warn("report: using fallback",
			zap.String("run_id", runID),
			zap.String("reason", reason),
		)
		rpt = Fallback(beliefs, ev)
		rpt.FallbackReason = reason
	}
	rpt.AffectedCustomers = ev.AffectedCustomers
	rpt.GeneratedAt = g.now().UTC()

	if err := g.runs.SetExecutiveReport(ctx, runID, rpt); err != nil {
		return nil, eris.Wrapf(err, "store report for run %s", runID)
	}
	metrics.ReportsTotal.WithLabelValues(string(rpt.Source)).Inc()

	zap.L().Info("report: stored",
		zap.String("run_id", runID),
		zap.String("source", string(rpt.Source)),
		zap.String("primary_cause", rpt.PrimaryCause),
		zap.Float64("confidence", rpt.Confidence),
	)
	return rpt, nil
}

// fromModel returns a validated model report, or nil and the reason it could
// not get one.
func (g *Generator) fromModel(ctx context.Context, beliefs domain.Distribution, ev *Evidence) (*domain.ExecutiveReport, string) {
	if g.model == nil {
		return nil, "model not configured"
	}
	prompt, err := buildPrompt(beliefs, ev)
	if err != nil {
		return nil, err.Error()
	}

	text, err := resilience.DoVal(ctx, g.policy, g.attempt(prompt))
	if err != nil {
		var exhausted *resilience.ExhaustedError
		switch {
		case errors.As(err, &exhausted) && errors.Is(exhausted.Err, llm.ErrThrottled):
			return nil, fmt.Sprintf("model throttled after %d attempts", exhausted.Attempts)
		case errors.As(err, &exhausted):
			return nil, fmt.Sprintf("model unavailable after %d attempts", exhausted.Attempts)
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, "model circuit open"
		default:
			return nil, "model error: " + err.Error()
		}
	}

	rpt, err := decodeResponse(text)
	if err != nil {
		metrics.ModelAttemptsTotal.WithLabelValues("rejected").Inc()
		return nil, err.Error()
	}
	return rpt, ""
}

func (g *Generator) attempt(prompt string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", eris.Wrap(err, "wait for model slot")
		}
		out, err := g.breaker.Execute(func() (interface{}, error) {
			return g.model.Complete(ctx, prompt)
		})
		switch {
		case err == nil:
			metrics.ModelAttemptsTotal.WithLabelValues("ok").Inc()
		case errors.Is(err, llm.ErrThrottled):
			metrics.ModelAttemptsTotal.WithLabelValues("throttled").Inc()
			return "", err
		case resilience.IsTransient(err):
			metrics.ModelAttemptsTotal.WithLabelValues("unavailable").Inc()
			return "", err
		default:
			metrics.ModelAttemptsTotal.WithLabelValues("error").Inc()
			return "", err
		}
		return out.(string), nil
	}
}

// retryable covers throttling and transport failures. Anything else, such as
// a rejected key, fails the report on the first attempt.
func retryable(err error) bool {
	return errors.Is(err, llm.ErrThrottled) || resilience.IsTransient(err)
}

// Fallback builds the deterministic report used when the model is unavailable
// or its output is unusable.
func Fallback(beliefs domain.Distribution, ev *Evidence) *domain.ExecutiveReport {
	rpt := &domain.ExecutiveReport{
		PrimaryCause:       "UNKNOWN",
		AffectedCustomers:  ev.AffectedCustomers,
		RecommendedActions: []string{manualReview},
		Source:             domain.ReportFromFallback,
	}

	confidence := 0.0
	if top, ok := beliefs.Top(); ok {
		rpt.PrimaryCause = top.Type
		confidence = top.Belief
	}
	if len(beliefs) > 1 {
		second := beliefs[1].Type
		rpt.SecondaryFactor = &second
	}
	if confidence == 0 {
		confidence = defaultFallbackConfidence
	}
	rpt.Confidence = clamp(confidence, ModelConfidenceMin, FallbackConfidenceMax)

	for _, v := range []float64{ev.FraudExposure, ev.DiscrepancyExposure, ev.Variance} {
		if v != 0 {
			rpt.FinancialImpact = v
			break
		}
	}
	return rpt
}
