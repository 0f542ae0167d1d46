// Package export renders tabular datasets as hashed CSV or XLSX downloads.
package export

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Dataset is a named table. Rows hold already formatted cells.
type Dataset struct {
	Name    string
	Columns []string
	Rows    [][]string
	// SortKeys are column indexes rows are ordered by before rendering.
	SortKeys []int
}

// Append adds a row.
func (d *Dataset) Append(cells ...string) {
	d.Rows = append(d.Rows, cells)
}

// Sorted returns a copy of the rows ordered by SortKeys, then by every column.
func (d Dataset) Sorted() [][]string {
	rows := make([][]string, len(d.Rows))
	copy(rows, d.Rows)
	keys := d.SortKeys
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		for _, k := range keys {
			if c := strings.Compare(cell(a, k), cell(b, k)); c != 0 {
				return c < 0
			}
		}
		for k := 0; k < len(a) && k < len(b); k++ {
			if c := strings.Compare(a[k], b[k]); c != 0 {
				return c < 0
			}
		}
		return len(a) < len(b)
	})
	return rows
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// Decimal places used for canonical cells.
const (
	QtyPlaces   = 6
	MoneyPlaces = 2
)

// Qty renders a quantity in fixed canonical form.
func Qty(d decimal.Decimal) string { return d.StringFixed(QtyPlaces) }

// Money renders an amount in fixed canonical form.
func Money(d decimal.Decimal) string { return d.StringFixed(MoneyPlaces) }

// ID renders a uuid, empty for uuid.Nil.
func ID(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

// Time renders an instant as RFC3339 UTC, empty for the zero time.
func Time(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// TimePtr renders an optional instant.
func TimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return Time(*t)
}

// Date renders the calendar date of t.
func Date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
