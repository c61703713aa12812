package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SourceType string

const (
	SourcePSP      SourceType = "PSP"
	SourceInternal SourceType = "INTERNAL"
	SourceERP      SourceType = "ERP"
)

// TransactionRecord is one source's report of an economic event. Records from
// different sources that share TransactionID describe the same event.
type TransactionRecord struct {
	SourceType         SourceType      `json:"source_type"`
	SourceName         string          `json:"source_name"`
	TransactionID      string          `json:"transaction_id"`
	ReferenceID        string          `json:"reference_id"`
	CustomerID         string          `json:"customer_id"`
	OriginalAmount     decimal.Decimal `json:"original_amount"`
	OriginalCurrency   string          `json:"original_currency"`
	NormalizedAmount   decimal.Decimal `json:"normalized_amount"`
	NormalizedCurrency string          `json:"normalized_currency"`
	TransactionType    string          `json:"transaction_type"`
	Timestamp          time.Time       `json:"timestamp"`
	Reconciled         bool            `json:"reconciled"`
	FraudFlag          bool            `json:"fraud_flag"`
}

// RecordKey identifies a record across the store.
type RecordKey struct {
	SourceType    SourceType `json:"source_type"`
	TransactionID string     `json:"transaction_id"`
}

func (t *TransactionRecord) Key() RecordKey {
	return RecordKey{SourceType: t.SourceType, TransactionID: t.TransactionID}
}

// SumNormalized adds up the normalized amounts of recs.
func SumNormalized(recs []TransactionRecord) decimal.Decimal {
	total := decimal.Zero
	for i := range recs {
		total = total.Add(recs[i].NormalizedAmount)
	}
	return total
}
