package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/wakala/reconagent/internal/seed"
)

var (
	seedCustomers    int
	seedTransactions int
	seedRandom       int64
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the schema and load demo customers, weights and transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		opt := seed.DefaultOptions(time.Now().UTC())
		opt.Customers = seedCustomers
		opt.Transactions = seedTransactions
		opt.Seed = seedRandom

		_, err = seed.Run(ctx, st, opt)
		return err
	},
}

func init() {
	def := seed.DefaultOptions(time.Time{})
	seedCmd.Flags().IntVar(&seedCustomers, "customers", def.Customers, "number of customers")
	seedCmd.Flags().IntVar(&seedTransactions, "transactions", def.Transactions, "number of PSP/ledger/ERP triples")
	seedCmd.Flags().Int64Var(&seedRandom, "seed", def.Seed, "random seed for amounts and customers")
	rootCmd.AddCommand(seedCmd)
}
