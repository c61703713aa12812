package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/wakala/reconagent/internal/ingestion"
)

var (
	ingestSource string
	ingestFormat string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Load a CSV or JSON batch of records for one source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		src, err := ingestion.ParseSource(ingestSource)
		if err != nil {
			return err
		}
		format := ingestFormat
		if format == "" {
			format = strings.TrimPrefix(strings.ToLower(filepath.Ext(args[0])), ".")
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := ingestion.NewService(st.Transactions).Ingest(ctx, data, src, format)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(res)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "record source: PSP, INTERNAL or ERP")
	ingestCmd.Flags().StringVar(&ingestFormat, "format", "", "csv or json (default from the file extension)")
	_ = ingestCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(ingestCmd)
}
