/*
store.go - Persistence contracts for CT600 returns

PURPOSE:
  Defines the boundary between the workflow and the system of record.
  RecordStore is what the Service talks to. RowStore is the lower-level
  shape of a spreadsheet-like backend: a header row followed by data rows,
  addressed by position.

KEY INTERFACES:
  RecordStore: keyed access to returns (list, get, update, append)
  RowStore:    positional access to raw rows

CONSISTENCY:
  Nothing here promises uniqueness of tax references or atomic
  read-modify-write. RowRecords resolves the row for a key from a fresh
  read on every call, so two writers racing on the same key both land on
  the same row and the last write wins. Backends that can do better
  (store/sqlite) enforce a unique key and update in a single statement.

IMPLEMENTATIONS:
  - records.go:           RowRecords, RecordStore over any RowStore
  - filing/store/memory.go: In-memory RowStore for tests and demos
  - store/sheets:          Google Sheets RowStore
  - store/sqlite:          Keyed SQLite RecordStore
*/
package filing

import "context"

// RecordStore gives keyed access to returns.
type RecordStore interface {
	// ListAll returns every return in store order.
	ListAll(ctx context.Context) ([]TaxReturn, error)

	// GetByKey returns the first return with the tax reference, or nil.
	GetByKey(ctx context.Context, taxReference string) (*TaxReturn, error)

	// Update replaces the whole return stored under taxReference.
	// Returns false if no such return exists.
	Update(ctx context.Context, taxReference string, r TaxReturn) (bool, error)

	// Append adds a return at the end of the store.
	Append(ctx context.Context, r TaxReturn) error
}

// RowStore is a rectangular region with a header row and one data row per
// return. Indexes are zero-based over data rows; the header is not counted.
type RowStore interface {
	Rows(ctx context.Context) ([][]string, error)
	WriteRow(ctx context.Context, index int, row []string) error
	AppendRow(ctx context.Context, row []string) error
}
