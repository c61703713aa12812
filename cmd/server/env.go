package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wakala/reconagent/internal/agent"
	"github.com/wakala/reconagent/internal/config"
	"github.com/wakala/reconagent/internal/llm"
	"github.com/wakala/reconagent/internal/report"
	"github.com/wakala/reconagent/internal/repository"
)

// openStore connects to the configured database and applies the schema.
func openStore(ctx context.Context, c config.StoreConfig) (*repository.Store, error) {
	db, err := repository.Open(c.Driver, c.DSN)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	zap.L().Debug("store ready", zap.String("driver", db.Driver()))
	return repository.NewStore(db), nil
}

// modelClient returns nil when no key is configured, which makes every
// report a fallback report.
func modelClient(c config.AnthropicConfig) llm.Client {
	if c.Key == "" {
		zap.L().Warn("anthropic key not set, executive reports will use the fallback")
		return nil
	}
	return llm.NewAnthropicClient(llm.AnthropicConfig{
		APIKey:    c.Key,
		Model:     c.Model,
		MaxTokens: c.MaxTokens,
		BaseURL:   c.BaseURL,
	})
}

func newAgent(st *repository.Store, c *config.Config) *agent.Agent {
	return agent.NewFromStore(st, modelClient(c.Anthropic), agent.Config{
		FraudWorkers: c.Fraud.Workers,
		Report: report.Config{
			MaxAttempts:     c.Report.MaxAttempts,
			Backoff:         c.Report.Backoff(),
			MinInterval:     c.Report.MinInterval(),
			BreakerFailures: c.Report.BreakerFailures,
			BreakerCooldown: c.Report.BreakerCooldown(),
		},
	})
}
