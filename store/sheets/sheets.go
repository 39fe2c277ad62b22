/*
Package sheets stores CT600 returns in a Google Sheets spreadsheet.

PURPOSE:
  Implements filing.RowStore against one sheet. Row 1 is the header
  (EnsureHeader fills it on an empty sheet); data starts at row 2. Each data row holds one return in columns A-K as laid out
  by filing.EncodeRow.

ADDRESSING:
  Data row i (zero-based) lives at sheet row i+2. Reads fetch the whole
  {Sheet}!A2:K range; writes replace {Sheet}!A{n}:K{n}. An index is only
  meaningful until the next write by anyone, which is why filing.RowRecords
  recomputes it before every update.

VALUE RENDERING:
  Reads ask for unformatted values with dates rendered as formatted strings,
  so amounts arrive as numbers and dates in the sheet's display format.
  Writes use USER_ENTERED so the sheet parses dates and numbers as if typed.

SEE ALSO:
  - filing/records.go: Key lookup and update on top of this store
  - filing/codec.go: Column layout
*/
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/warp/ct600-gateway/filing"
)

const (
	// DefaultSheetName is the tab the original sheet layout used.
	DefaultSheetName = "CT600Data"

	firstDataRow = 2
	lastColumn   = "K"
)

// Config addresses the spreadsheet.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsPath string
}

// Store is a filing.RowStore backed by the Sheets API.
type Store struct {
	values        *gsheets.SpreadsheetsValuesService
	spreadsheetID string
	sheet         string
	logger        *slog.Logger
}

// New connects to the Sheets API. A non-empty CredentialsPath is read as a
// service-account key; extra client options (endpoint, HTTP client) are
// applied after it.
func New(ctx context.Context, cfg Config, logger *slog.Logger, opts ...option.ClientOption) (*Store, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, fmt.Errorf("sheets: %w: spreadsheet id is required", filing.ErrNotConfigured)
	}
	if cfg.SheetName == "" {
		cfg.SheetName = DefaultSheetName
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientOpts := []option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}
	if cfg.CredentialsPath != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsPath))
	}
	clientOpts = append(clientOpts, opts...)

	svc, err := gsheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}
	return &Store{
		values:        svc.Spreadsheets.Values,
		spreadsheetID: cfg.SpreadsheetID,
		sheet:         cfg.SheetName,
		logger:        logger,
	}, nil
}

// Rows reads every data row. Trailing empty cells are dropped by the API, so
// rows may be shorter than filing.RowWidth.
func (s *Store) Rows(ctx context.Context) ([][]string, error) {
	resp, err := s.values.Get(s.spreadsheetID, s.dataRange()).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("FORMATTED_STRING").
		Context(ctx).
		Do()
	if err != nil {
		return nil, apiError("read", err)
	}

	out := make([][]string, 0, len(resp.Values))
	for _, raw := range resp.Values {
		row := make([]string, len(raw))
		for i, v := range raw {
			row[i] = cellString(v)
		}
		out = append(out, row)
	}
	return out, nil
}

// WriteRow overwrites data row index.
func (s *Store) WriteRow(ctx context.Context, index int, row []string) error {
	if index < 0 {
		return fmt.Errorf("sheets: negative row index %d", index)
	}
	n := index + firstDataRow
	rng := fmt.Sprintf("%s!A%d:%s%d", s.sheet, n, lastColumn, n)

	_, err := s.values.Update(s.spreadsheetID, rng, valueRange(row)).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return apiError("update", err)
	}
	s.logger.Debug("sheet row updated", "range", rng)
	return nil
}

// AppendRow adds a row after the last data row.
func (s *Store) AppendRow(ctx context.Context, row []string) error {
	_, err := s.values.Append(s.spreadsheetID, s.dataRange(), valueRange(row)).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return apiError("append", err)
	}
	return nil
}

// EnsureHeader writes filing.HeaderRow to row 1 when that row is empty.
// An existing header is left alone, whatever it says.
func (s *Store) EnsureHeader(ctx context.Context) error {
	rng := fmt.Sprintf("%s!A1:%s1", s.sheet, lastColumn)
	resp, err := s.values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return apiError("read header", err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	_, err = s.values.Update(s.spreadsheetID, rng, valueRange(filing.HeaderRow())).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return apiError("write header", err)
	}
	s.logger.Info("sheet header written", "range", rng)
	return nil
}

func (s *Store) dataRange() string {
	return fmt.Sprintf("%s!A%d:%s", s.sheet, firstDataRow, lastColumn)
}

func valueRange(row []string) *gsheets.ValueRange {
	cells := make([]interface{}, len(row))
	for i, v := range row {
		cells[i] = v
	}
	return &gsheets.ValueRange{Values: [][]interface{}{cells}}
}

func cellString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func apiError(op string, err error) error {
	code := 0
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		code = gerr.Code
	}
	return &filing.ExternalServiceError{Service: "sheets", Op: op, StatusCode: code, Err: err}
}
