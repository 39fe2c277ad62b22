// Package store provides RowStore implementations.
package store

import (
	"context"
	"fmt"
	"sync"
)

// =============================================================================
// MEMORY STORE - In-memory grid (for testing/dev)
// =============================================================================

// Memory is a mutex-guarded grid of data rows. Each call is atomic on its
// own; sequences of calls are not, which is exactly the contract the
// spreadsheet backend offers.
type Memory struct {
	mu   sync.RWMutex
	rows [][]string
}

// NewMemory returns a grid seeded with copies of the given rows.
func NewMemory(rows ...[]string) *Memory {
	m := &Memory{}
	for _, row := range rows {
		m.rows = append(m.rows, copyRow(row))
	}
	return m
}

// Rows returns a copy of every data row.
func (m *Memory) Rows(_ context.Context) ([][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([][]string, len(m.rows))
	for i, row := range m.rows {
		out[i] = copyRow(row)
	}
	return out, nil
}

// WriteRow replaces the row at index.
func (m *Memory) WriteRow(_ context.Context, index int, row []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.rows) {
		return fmt.Errorf("row %d out of range (have %d)", index, len(m.rows))
	}
	m.rows[index] = copyRow(row)
	return nil
}

// AppendRow adds a row at the end.
func (m *Memory) AppendRow(_ context.Context, row []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rows = append(m.rows, copyRow(row))
	return nil
}

// Len returns the number of data rows.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

func copyRow(row []string) []string {
	return append([]string(nil), row...)
}
