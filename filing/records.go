package filing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/warp/ct600-gateway/metrics"
)

// RowRecords implements RecordStore on top of a positional RowStore.
//
// Every lookup re-reads the full range and scans for the first row whose tax
// reference matches; there is no cached index and no version check. Append
// does not look for an existing row with the same key, so duplicates are
// possible and the later ones are shadowed by the first.
type RowRecords struct {
	rows   RowStore
	logger *slog.Logger
}

// NewRowRecords wraps a RowStore. A nil logger uses slog.Default().
func NewRowRecords(rows RowStore, logger *slog.Logger) *RowRecords {
	if logger == nil {
		logger = slog.Default()
	}
	return &RowRecords{rows: rows, logger: logger}
}

// ListAll decodes every data row.
func (s *RowRecords) ListAll(ctx context.Context) ([]TaxReturn, error) {
	rows, err := s.rows.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("read returns: %w", err)
	}
	out := make([]TaxReturn, 0, len(rows))
	for i, row := range rows {
		r, defaults := DecodeRow(row)
		for _, d := range defaults {
			s.logger.Warn("defaulted unparseable cell",
				"row", i+2,
				"column", ColumnName(d.Column),
				"value", d.Value,
				"tax_reference", SanitizeForLog(r.TaxReference))
			metrics.CellDefaulted(ColumnName(d.Column))
		}
		out = append(out, r)
	}
	return out, nil
}

// GetByKey returns the first return with the tax reference, or nil.
func (s *RowRecords) GetByKey(ctx context.Context, taxReference string) (*TaxReturn, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if i := indexOf(all, taxReference); i >= 0 {
		r := all[i]
		return &r, nil
	}
	return nil, nil
}

// Update overwrites the row currently holding taxReference.
func (s *RowRecords) Update(ctx context.Context, taxReference string, r TaxReturn) (bool, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return false, err
	}
	i := indexOf(all, taxReference)
	if i < 0 {
		return false, nil
	}
	if err := s.rows.WriteRow(ctx, i, EncodeRow(r)); err != nil {
		return false, fmt.Errorf("write return %s: %w", SanitizeForLog(taxReference), err)
	}
	return true, nil
}

// Append adds a row after the last data row.
func (s *RowRecords) Append(ctx context.Context, r TaxReturn) error {
	if err := s.rows.AppendRow(ctx, EncodeRow(r)); err != nil {
		return fmt.Errorf("append return %s: %w", SanitizeForLog(r.TaxReference), err)
	}
	return nil
}

func indexOf(all []TaxReturn, taxReference string) int {
	for i := range all {
		if all[i].TaxReference == taxReference {
			return i
		}
	}
	return -1
}
