package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wakala/reconagent/internal/agent"
	"github.com/wakala/reconagent/internal/api"
	"github.com/wakala/reconagent/internal/ingestion"
	"github.com/wakala/reconagent/internal/metrics"
)

var (
	servePort     int
	serveInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the query API and, when an interval is set, the cycle scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		ag := newAgent(st, cfg)
		go metrics.StartDBStatsCollector(ctx, st.DB.DB, 15*time.Second)

		interval := serveInterval
		if interval == 0 {
			interval = cfg.Agent.Interval()
		}
		if interval > 0 {
			sched := agent.NewScheduler(ag, interval)
			go sched.Start(ctx)
			// Must run before st.Close; a cycle may still be in flight.
			defer func() {
				sched.Stop()
				<-sched.Done()
			}()
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", port),
			Handler: api.NewRouter(st, ag, ingestion.NewService(st.Transactions), api.Options{
				AllowedOrigins: cfg.Server.AllowedOrigins,
				CycleTimeout:   5 * time.Minute,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.Duration("cycle_interval", interval),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", 0, "cycle interval, 0 uses config (which disables the scheduler when unset)")
	rootCmd.AddCommand(serveCmd)
}
