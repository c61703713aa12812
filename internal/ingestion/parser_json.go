package ingestion

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/wakala/reconagent/internal/domain"
)

// batchFile is the wrapped JSON form: {"source_name": "...", "records": [...]}.
type batchFile struct {
	SourceName string      `json:"source_name"`
	Records    []jsonEntry `json:"records"`
}

// jsonEntry accepts amounts as numbers or strings.
type jsonEntry struct {
	TransactionID    string      `json:"transaction_id"`
	ReferenceID      string      `json:"reference_id"`
	CustomerID       string      `json:"customer_id"`
	SourceName       string      `json:"source_name"`
	Amount           json.Number `json:"amount"`
	Currency         string      `json:"currency"`
	NormalizedAmount json.Number `json:"normalized_amount"`
	TransactionType  string      `json:"transaction_type"`
	Timestamp        string      `json:"timestamp"`
}

// ParseJSON parses either a bare array of records or a batchFile object.
func ParseJSON(data []byte, source domain.SourceType) ([]domain.TransactionRecord, error) {
	var file batchFile
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &file.Records); err != nil {
			return nil, eris.Wrap(err, "unmarshal")
		}
	} else if err := json.Unmarshal(trimmed, &file); err != nil {
		return nil, eris.Wrap(err, "unmarshal")
	}

	records := make([]domain.TransactionRecord, 0, len(file.Records))
	for i, e := range file.Records {
		name := e.SourceName
		if name == "" {
			name = file.SourceName
		}
		rec, err := rawRecord{
			TransactionID:    e.TransactionID,
			ReferenceID:      e.ReferenceID,
			CustomerID:       e.CustomerID,
			SourceName:       name,
			Amount:           e.Amount.String(),
			Currency:         e.Currency,
			NormalizedAmount: e.NormalizedAmount.String(),
			TransactionType:  e.TransactionType,
			Timestamp:        e.Timestamp,
		}.toRecord(source)
		if err != nil {
			return nil, eris.Wrapf(err, "record %d", i)
		}
		records = append(records, rec)
	}

	return records, nil
}
