/*
 * Copyright 2025 FlowSentry Contributors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package classifier

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/flowsentry/flowsentry/pkg/models"
)

// Table is an ordered, column-major table of typed values. All columns have
// the same length.
type Table struct {
	cols []string
	data map[string][]models.FieldValue
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{data: make(map[string][]models.FieldValue)}
}

// Rows reports the number of rows.
func (t *Table) Rows() int {
	if t == nil || len(t.cols) == 0 {
		return 0
	}

	return len(t.data[t.cols[0]])
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	return t.cols
}

// Has reports whether the table contains a column.
func (t *Table) Has(name string) bool {
	_, ok := t.data[name]
	return ok
}

// Column returns the values of one column, or nil if absent.
func (t *Table) Column(name string) []models.FieldValue {
	return t.data[name]
}

// SetColumn adds or replaces a column. The first column fixes the row
// count; later columns must match it.
func (t *Table) SetColumn(name string, values []models.FieldValue) error {
	if len(t.cols) > 0 && len(values) != t.Rows() {
		return fmt.Errorf("column %s has %d values, table has %d rows", name, len(values), t.Rows())
	}

	if !t.Has(name) {
		t.cols = append(t.cols, name)
	}

	t.data[name] = values

	return nil
}

// DropColumn removes a column if present.
func (t *Table) DropColumn(name string) {
	if !t.Has(name) {
		return
	}

	delete(t.data, name)

	for i, c := range t.cols {
		if c == name {
			t.cols = append(t.cols[:i], t.cols[i+1:]...)
			break
		}
	}
}

// SelectRows builds a new table keeping only the rows at the given indexes,
// in the given order.
func (t *Table) SelectRows(keep []int) *Table {
	out := NewTable()

	for _, name := range t.cols {
		src := t.data[name]
		vals := make([]models.FieldValue, 0, len(keep))

		for _, idx := range keep {
			vals = append(vals, src[idx])
		}

		_ = out.SetColumn(name, vals)
	}

	return out
}

// ReadCSV loads a table from a headered CSV file, parsing each cell with
// the best-effort typed-value heuristic. A missing or empty file yields an
// empty table and no error; the classifier's load guard depends on that.
func ReadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewTable(), nil
		}

		return nil, fmt.Errorf("open table: %w", err)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}

	if len(rows) == 0 {
		return NewTable(), nil
	}

	header := rows[0]
	columns := make([][]models.FieldValue, len(header))

	for i := range columns {
		columns[i] = make([]models.FieldValue, 0, len(rows)-1)
	}

	for _, row := range rows[1:] {
		for i := range header {
			if i < len(row) {
				columns[i] = append(columns[i], models.ParseFieldValue(row[i]))
			} else {
				columns[i] = append(columns[i], models.NullValue())
			}
		}
	}

	table := NewTable()
	for i, name := range header {
		if table.Has(name) {
			continue // first occurrence wins on duplicate headers
		}

		if err := table.SetColumn(name, columns[i]); err != nil {
			return nil, err
		}
	}

	return table, nil
}

// FromRecords builds a table from normalized flow records. Column order is
// the sorted union of field names, so output is deterministic regardless of
// map iteration order.
func FromRecords(records []*models.FlowRecord) *Table {
	nameSet := make(map[string]struct{})
	for _, rec := range records {
		for name := range rec.Fields {
			nameSet[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}

	sort.Strings(names)

	table := NewTable()

	for _, name := range names {
		vals := make([]models.FieldValue, len(records))

		for i, rec := range records {
			if v, ok := rec.Fields[name]; ok {
				vals[i] = v
			} else {
				vals[i] = models.NullValue()
			}
		}

		_ = table.SetColumn(name, vals)
	}

	return table
}

// WriteCSV writes the table with a header row. Null values render as empty
// cells.
func (t *Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(t.cols); err != nil {
		return err
	}

	row := make([]string, len(t.cols))

	for i := 0; i < t.Rows(); i++ {
		for j, name := range t.cols {
			row[j] = t.data[name][i].AsString()
		}

		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()

	return writer.Error()
}
