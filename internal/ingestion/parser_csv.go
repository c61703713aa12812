package ingestion

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/wakala/reconagent/internal/domain"
)

// ParseCSV parses a header-led CSV batch. Columns may appear in any order;
// transaction_id, customer_id, amount and timestamp are required.
//
// Recognised header:
//
//	transaction_id,reference_id,customer_id,source_name,amount,currency,normalized_amount,transaction_type,timestamp
func ParseCSV(data []byte, source domain.SourceType) ([]domain.TransactionRecord, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "read header")
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"transaction_id", "customer_id", "amount", "timestamp"} {
		if _, ok := cols[required]; !ok {
			return nil, eris.Errorf("missing column %q", required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var records []domain.TransactionRecord
	lineNum := 1
	for {
		lineNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "line %d", lineNum)
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}

		rec, err := rawRecord{
			TransactionID:    field(row, "transaction_id"),
			ReferenceID:      field(row, "reference_id"),
			CustomerID:       field(row, "customer_id"),
			SourceName:       field(row, "source_name"),
			Amount:           field(row, "amount"),
			Currency:         field(row, "currency"),
			NormalizedAmount: field(row, "normalized_amount"),
			TransactionType:  field(row, "transaction_type"),
			Timestamp:        field(row, "timestamp"),
		}.toRecord(source)
		if err != nil {
			return nil, eris.Wrapf(err, "line %d", lineNum)
		}
		records = append(records, rec)
	}

	return records, nil
}
