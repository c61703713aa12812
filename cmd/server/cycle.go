package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one agent cycle and print the result as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := newAgent(st, cfg).RunCycle(ctx)
		if err != nil {
			return eris.Wrap(err, "run cycle")
		}

		zap.L().Info("cycle finished",
			zap.Stringer("kind", res.Kind),
			zap.String("run_id", res.RunID),
			zap.Bool("investigated", res.InvestigationRan),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	rootCmd.AddCommand(cycleCmd)
}
