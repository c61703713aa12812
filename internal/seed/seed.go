// Package seed fills an empty store with demo data: hypothesis weights,
// customers and PSP/ledger/ERP triples with a handful of injected breaks.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wakala/reconagent/internal/domain"
	"github.com/wakala/reconagent/internal/repository"
)

// Options sizes the generated data set.
type Options struct {
	Customers    int
	Transactions int
	// MissingInternal ledger records are removed from the first triples.
	MissingInternal int
	// Shifted ledger records, starting Offset records after the removed
	// ones, are scaled by ShiftFactor.
	Shifted     int
	Offset      int
	ShiftFactor decimal.Decimal
	Now         time.Time
	Seed        int64
}

// DefaultOptions mirrors the demo data set: 100 customers, 1000 triples,
// 10 missing ledger records and 3 ledger records 4% short.
func DefaultOptions(now time.Time) Options {
	return Options{
		Customers:       100,
		Transactions:    1000,
		MissingInternal: 10,
		Shifted:         3,
		Offset:          20,
		ShiftFactor:     decimal.RequireFromString("0.96"),
		Now:             now,
		Seed:            42,
	}
}

// Summary reports what Run wrote.
type Summary struct {
	Weights      int `json:"weights"`
	Customers    int `json:"customers"`
	Transactions int `json:"transactions"`
	Removed      int `json:"removed"`
	Shifted      int `json:"shifted"`
}

// DefaultWeights are the prior multipliers for each hypothesis.
func DefaultWeights() []domain.HypothesisWeight {
	return []domain.HypothesisWeight{
		{HypothesisType: string(domain.DiscrepancyMissingDeposit), SourceName: "PSP-X", Weight: 1.0},
		{HypothesisType: string(domain.DiscrepancyFXMismatch), SourceName: "PSP-X", Weight: 1.0},
		{HypothesisType: string(domain.AlertVelocitySpike), Weight: 1.0},
		{HypothesisType: string(domain.AlertStructuringPattern), Weight: 1.0},
	}
}

// Run seeds weights and customers idempotently. Transactions are only
// generated when the store holds none, so breaks are never injected twice.
func Run(ctx context.Context, st *repository.Store, opt Options) (*Summary, error) {
	sum := &Summary{}

	n, err := st.Weights.Seed(ctx, DefaultWeights())
	if err != nil {
		return nil, eris.Wrap(err, "seed weights")
	}
	sum.Weights = n

	customers := Customers(opt.Customers)
	if sum.Customers, err = st.Customers.BulkInsert(ctx, customers); err != nil {
		return nil, eris.Wrap(err, "seed customers")
	}

	count, err := st.Transactions.Count(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "count transactions")
	}
	if count > 0 {
		zap.L().Info("seed: store already has transactions, skipping", zap.Int("count", count))
		return sum, nil
	}

	recs := Triples(opt, customers)
	removed := internalKeys(1, opt.MissingInternal)

	byKey := make(map[domain.RecordKey]domain.TransactionRecord, len(recs))
	for _, r := range recs {
		byKey[r.Key()] = r
	}
	var changes []repository.AmountChange
	for _, k := range internalKeys(opt.MissingInternal+opt.Offset+1, opt.Shifted) {
		r, ok := byKey[k]
		if !ok {
			continue
		}
		changes = append(changes, repository.AmountChange{
			Key:    k,
			Amount: r.NormalizedAmount.Mul(opt.ShiftFactor).Round(2),
		})
	}

	// Inserts, removals and shifts commit together.
	if sum.Transactions, err = st.Transactions.Plant(ctx, recs, removed, changes); err != nil {
		return nil, eris.Wrap(err, "seed transactions")
	}
	sum.Removed = len(removed)
	sum.Shifted = len(changes)

	zap.L().Info("seed: complete",
		zap.Int("weights", sum.Weights),
		zap.Int("customers", sum.Customers),
		zap.Int("transactions", sum.Transactions),
		zap.Int("removed", sum.Removed),
		zap.Int("shifted", sum.Shifted),
	)
	return sum, nil
}

// Customers returns n low-risk customers CUST-1..CUST-n averaging 300.
func Customers(n int) []domain.Customer {
	out := make([]domain.Customer, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, domain.Customer{
			CustomerID:          fmt.Sprintf("CUST-%d", i),
			HistoricalAvgAmount: decimal.NewFromInt(300),
			RiskLevel:           domain.RiskLow,
			AccountStatus:       domain.AccountActive,
		})
	}
	return out
}

// Triples generates matching PSP, ledger and ERP records. TX-i is stamped i
// minutes before Now and alternates between PSP-X and PSP-Y.
func Triples(opt Options, customers []domain.Customer) []domain.TransactionRecord {
	if len(customers) == 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(opt.Seed))
	out := make([]domain.TransactionRecord, 0, opt.Transactions*3)

	for i := 1; i <= opt.Transactions; i++ {
		txnID := fmt.Sprintf("TX-%d", i)
		// USD amount between 100 and 900.
		amount := decimal.NewFromFloat(100 + rng.Float64()*800).Round(2)
		customer := customers[rng.Intn(len(customers))].CustomerID
		ts := opt.Now.Add(-time.Duration(i) * time.Minute)

		psp := "PSP-Y"
		if i%2 == 0 {
			psp = "PSP-X"
		}
		for _, src := range []struct {
			typ  domain.SourceType
			name string
		}{
			{domain.SourcePSP, psp},
			{domain.SourceInternal, "Ledger-A"},
			{domain.SourceERP, "ERP-System"},
		} {
			out = append(out, domain.TransactionRecord{
				SourceType:         src.typ,
				SourceName:         src.name,
				TransactionID:      txnID,
				ReferenceID:        txnID,
				CustomerID:         customer,
				OriginalAmount:     amount,
				OriginalCurrency:   "USD",
				NormalizedAmount:   amount,
				NormalizedCurrency: "USD",
				TransactionType:    "DEPOSIT",
				Timestamp:          ts,
			})
		}
	}
	return out
}

func internalKeys(from, n int) []domain.RecordKey {
	keys := make([]domain.RecordKey, 0, n)
	for i := from; i < from+n; i++ {
		keys = append(keys, domain.RecordKey{SourceType: domain.SourceInternal, TransactionID: fmt.Sprintf("TX-%d", i)})
	}
	return keys
}
