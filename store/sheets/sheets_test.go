package sheets_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/warp/ct600-gateway/filing"
	"github.com/warp/ct600-gateway/store/sheets"
)

// =============================================================================
// FAKE SHEETS API
// =============================================================================

const (
	valuesPrefix = "/v4/spreadsheets/sheet-1/values/"
	headerRange  = "CT600Data!A1:"
)

// fakeSheet serves the three values endpoints the store uses over an
// in-memory grid of data rows.
type fakeSheet struct {
	mu      sync.Mutex
	header  []interface{}
	rows    [][]interface{}
	queries []url.Values
	ranges  []string
	fail    int
}

func (f *fakeSheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.fail)
		_, _ = io.WriteString(w, `{"error":{"code":`+strconv.Itoa(f.fail)+`,"message":"nope"}}`)
		return
	}
	if !strings.HasPrefix(r.URL.Path, valuesPrefix) {
		http.NotFound(w, r)
		return
	}
	rng := strings.TrimPrefix(r.URL.Path, valuesPrefix)
	f.queries = append(f.queries, r.URL.Query())
	f.ranges = append(f.ranges, rng)

	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(rng, headerRange):
		var values [][]interface{}
		if len(f.header) > 0 {
			values = [][]interface{}{f.header}
		}
		writeJSON(w, map[string]any{"range": rng, "values": values})

	case r.Method == http.MethodPut && strings.HasPrefix(rng, headerRange):
		f.header = decodeRow(r)
		writeJSON(w, map[string]any{"updatedRange": rng})

	case r.Method == http.MethodGet:
		writeJSON(w, map[string]any{"range": rng, "values": f.rows})

	case r.Method == http.MethodPost && strings.HasSuffix(rng, ":append"):
		f.rows = append(f.rows, decodeRow(r))
		writeJSON(w, map[string]any{"spreadsheetId": "sheet-1"})

	case r.Method == http.MethodPut:
		// CT600Data!A{n}:K{n}
		start := strings.SplitN(strings.TrimPrefix(rng, "CT600Data!A"), ":", 2)[0]
		n, err := strconv.Atoi(start)
		if err != nil || n-2 >= len(f.rows) {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		f.rows[n-2] = decodeRow(r)
		writeJSON(w, map[string]any{"updatedRange": rng})

	default:
		http.Error(w, "unexpected", http.StatusMethodNotAllowed)
	}
}

func decodeRow(r *http.Request) []interface{} {
	var vr struct {
		Values [][]interface{} `json:"values"`
	}
	_ = json.NewDecoder(r.Body).Decode(&vr)
	if len(vr.Values) == 0 {
		return nil
	}
	return vr.Values[0]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestStore(t *testing.T, fake *fakeSheet) *sheets.Store {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := sheets.New(context.Background(),
		sheets.Config{SpreadsheetID: "sheet-1"},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return store
}

// =============================================================================
// TESTS
// =============================================================================

func TestRows_ConvertsCellTypes(t *testing.T) {
	// GIVEN: A sheet holding numbers as numbers and a short row
	fake := &fakeSheet{rows: [][]interface{}{
		{"Acme", "01234567", "UTR1", "2024-04-01", "2025-03-31", 1234.5, 200, 50, "Draft"},
	}}
	store := newTestStore(t, fake)

	// WHEN: Rows are read
	rows, err := store.Rows(context.Background())

	// THEN: Every cell is a string and the range and render options are right
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1234.5", rows[0][5])
	assert.Equal(t, "200", rows[0][6])
	assert.Len(t, rows[0], 9)

	assert.Equal(t, "CT600Data!A2:K", fake.ranges[0])
	assert.Equal(t, "UNFORMATTED_VALUE", fake.queries[0].Get("valueRenderOption"))
	assert.Equal(t, "FORMATTED_STRING", fake.queries[0].Get("dateTimeRenderOption"))
}

func TestWriteRow_AddressesIndexPlusTwo(t *testing.T) {
	fake := &fakeSheet{rows: [][]interface{}{{"A"}, {"B"}}}
	store := newTestStore(t, fake)

	err := store.WriteRow(context.Background(), 1, []string{"B2"})

	require.NoError(t, err)
	assert.Equal(t, "CT600Data!A3:K3", fake.ranges[0])
	assert.Equal(t, "USER_ENTERED", fake.queries[0].Get("valueInputOption"))
	assert.Equal(t, []interface{}{"B2"}, fake.rows[1])
}

func TestAppendRow(t *testing.T) {
	fake := &fakeSheet{}
	store := newTestStore(t, fake)

	err := store.AppendRow(context.Background(), []string{"Acme", "0123", "UTR9"})

	require.NoError(t, err)
	require.Len(t, fake.rows, 1)
	assert.Equal(t, "CT600Data!A2:K:append", fake.ranges[0])
	assert.Equal(t, "USER_ENTERED", fake.queries[0].Get("valueInputOption"))
}

func TestAPIErrorIsExternalServiceError(t *testing.T) {
	fake := &fakeSheet{fail: http.StatusForbidden}
	store := newTestStore(t, fake)

	_, err := store.Rows(context.Background())

	var ext *filing.ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, "sheets", ext.Service)
	assert.Equal(t, http.StatusForbidden, ext.StatusCode)
}

func TestNew_RequiresSpreadsheetID(t *testing.T) {
	_, err := sheets.New(context.Background(), sheets.Config{}, nil, option.WithoutAuthentication())

	assert.ErrorIs(t, err, filing.ErrNotConfigured)
}

func TestRowRecords_OverSheet(t *testing.T) {
	// GIVEN: The row-backed record store over the sheet
	fake := &fakeSheet{rows: [][]interface{}{
		{"Acme", "01234567", "UTR123", "2024-04-01", "2025-03-31", 1000, 200, 50, "Draft"},
	}}
	records := filing.NewRowRecords(newTestStore(t, fake), nil)
	ctx := context.Background()

	// WHEN: The return is updated by key
	r, err := records.GetByKey(ctx, "UTR123")
	require.NoError(t, err)
	require.NotNil(t, r)
	r.Status = filing.StatusSubmitted
	r.SubmissionReference = "REF-1"
	ok, err := records.Update(ctx, "UTR123", *r)

	// THEN: The sheet row carries the new status and reference
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Submitted", fake.rows[0][filing.ColStatus])
	assert.Equal(t, "REF-1", fake.rows[0][filing.ColSubmissionReference])
}

func TestEnsureHeader_WritesEmptyHeaderRow(t *testing.T) {
	// GIVEN: A sheet with nothing in row 1
	fake := &fakeSheet{}
	store := newTestStore(t, fake)

	// WHEN: The header is ensured
	err := store.EnsureHeader(context.Background())

	// THEN: Row 1 holds the column titles, written raw
	require.NoError(t, err)
	require.Len(t, fake.header, filing.RowWidth)
	assert.Equal(t, "Tax Reference", fake.header[filing.ColTaxReference])
	assert.Equal(t, "Submission Date", fake.header[filing.ColSubmissionDate])
	assert.Equal(t, []string{"CT600Data!A1:K1", "CT600Data!A1:K1"}, fake.ranges)
	assert.Equal(t, "RAW", fake.queries[1].Get("valueInputOption"))
}

func TestEnsureHeader_KeepsExistingHeader(t *testing.T) {
	fake := &fakeSheet{header: []interface{}{"Company"}}
	store := newTestStore(t, fake)

	err := store.EnsureHeader(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []interface{}{"Company"}, fake.header)
	assert.Len(t, fake.ranges, 1)
}

func TestEnsureHeader_APIError(t *testing.T) {
	fake := &fakeSheet{fail: http.StatusNotFound}
	store := newTestStore(t, fake)

	err := store.EnsureHeader(context.Background())

	var ext *filing.ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, http.StatusNotFound, ext.StatusCode)
}
