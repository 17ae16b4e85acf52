package domain

import "strings"

// Table is one named sub-result of a remote call.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// ColumnIndex returns the position of a column, matched case-insensitively, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

// ResultSet is the payload of a successful remote call.
type ResultSet struct {
	Tables []Table
}

// Table looks up a sub-result by name, case-insensitively.
func (r *ResultSet) Table(name string) (*Table, bool) {
	if r == nil {
		return nil, false
	}
	for i := range r.Tables {
		if strings.EqualFold(r.Tables[i].Name, name) {
			return &r.Tables[i], true
		}
	}
	return nil, false
}

// Empty reports whether the result carries no sub-results at all.
func (r *ResultSet) Empty() bool {
	return r == nil || len(r.Tables) == 0
}

// RowCount sums rows across sub-results.
func (r *ResultSet) RowCount() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, t := range r.Tables {
		n += len(t.Rows)
	}
	return n
}
