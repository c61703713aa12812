package ingestion

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wakala/reconagent/internal/domain"
)

// Supported batch formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// IngestResult is returned from a successful ingestion.
type IngestResult struct {
	Source            domain.SourceType `json:"source"`
	Format            string            `json:"format"`
	RecordsParsed     int               `json:"records_parsed"`
	RecordsIngested   int               `json:"records_ingested"`
	DuplicatesSkipped int               `json:"duplicates_skipped"`
}

// RecordWriter stores transaction records, skipping ones already present.
type RecordWriter interface {
	BulkInsert(ctx context.Context, recs []domain.TransactionRecord) (int, error)
}

// Service loads batches of source records into the store. Records are
// expected to carry amounts already normalized to the reporting currency.
type Service struct {
	txns RecordWriter
}

// NewService creates a new ingestion service.
func NewService(txns RecordWriter) *Service {
	return &Service{txns: txns}
}

// Ingest parses data in the given format as records of one source and stores
// them. Re-ingesting the same batch inserts nothing.
func (s *Service) Ingest(ctx context.Context, data []byte, source domain.SourceType, format string) (*IngestResult, error) {
	source, err := ParseSource(string(source))
	if err != nil {
		return nil, err
	}

	var records []domain.TransactionRecord
	switch strings.ToLower(format) {
	case FormatCSV:
		records, err = ParseCSV(data, source)
	case FormatJSON:
		records, err = ParseJSON(data, source)
	default:
		return nil, eris.Errorf("unsupported format: %s", format)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "parse %s", format)
	}

	inserted, err := s.txns.BulkInsert(ctx, records)
	if err != nil {
		return nil, eris.Wrap(err, "insert records")
	}

	zap.L().Info("ingestion: batch stored",
		zap.String("source", string(source)),
		zap.String("format", format),
		zap.Int("parsed", len(records)),
		zap.Int("inserted", inserted),
	)

	return &IngestResult{
		Source:            source,
		Format:            strings.ToLower(format),
		RecordsParsed:     len(records),
		RecordsIngested:   inserted,
		DuplicatesSkipped: len(records) - inserted,
	}, nil
}

// ParseSource accepts PSP, INTERNAL or ERP in any case.
func ParseSource(s string) (domain.SourceType, error) {
	switch st := domain.SourceType(strings.ToUpper(strings.TrimSpace(s))); st {
	case domain.SourcePSP, domain.SourceInternal, domain.SourceERP:
		return st, nil
	default:
		return "", eris.Errorf("unknown source type: %q", s)
	}
}
