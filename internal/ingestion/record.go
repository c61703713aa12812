package ingestion

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/wakala/reconagent/internal/domain"
)

const defaultCurrency = "USD"

// rawRecord is one row before validation, shared by every format.
type rawRecord struct {
	TransactionID    string `json:"transaction_id"`
	ReferenceID      string `json:"reference_id"`
	CustomerID       string `json:"customer_id"`
	SourceName       string `json:"source_name"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	NormalizedAmount string `json:"normalized_amount"`
	TransactionType  string `json:"transaction_type"`
	Timestamp        string `json:"timestamp"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func (r rawRecord) toRecord(source domain.SourceType) (domain.TransactionRecord, error) {
	txnID := strings.TrimSpace(r.TransactionID)
	if txnID == "" {
		return domain.TransactionRecord{}, eris.New("transaction_id is required")
	}
	customerID := strings.TrimSpace(r.CustomerID)
	if customerID == "" {
		return domain.TransactionRecord{}, eris.New("customer_id is required")
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(r.Amount))
	if err != nil {
		return domain.TransactionRecord{}, eris.Wrapf(err, "amount %q", r.Amount)
	}
	normalized := amount
	if s := strings.TrimSpace(r.NormalizedAmount); s != "" {
		if normalized, err = decimal.NewFromString(s); err != nil {
			return domain.TransactionRecord{}, eris.Wrapf(err, "normalized_amount %q", s)
		}
	}

	ts, err := parseTimestamp(strings.TrimSpace(r.Timestamp))
	if err != nil {
		return domain.TransactionRecord{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(r.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	ref := strings.TrimSpace(r.ReferenceID)
	if ref == "" {
		ref = txnID
	}
	name := strings.TrimSpace(r.SourceName)
	if name == "" {
		name = string(source)
	}
	txnType := strings.ToUpper(strings.TrimSpace(r.TransactionType))
	if txnType == "" {
		txnType = "DEPOSIT"
	}

	return domain.TransactionRecord{
		SourceType:         source,
		SourceName:         name,
		TransactionID:      txnID,
		ReferenceID:        ref,
		CustomerID:         customerID,
		OriginalAmount:     amount,
		OriginalCurrency:   currency,
		NormalizedAmount:   normalized,
		NormalizedCurrency: defaultCurrency,
		TransactionType:    txnType,
		Timestamp:          ts,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("timestamp %q: expected RFC 3339", s)
}
