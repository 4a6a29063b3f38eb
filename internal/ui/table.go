package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	istrings "github.com/campushq/coursetrack/internal/strings"
)

// Table accumulates rows and renders them as space-aligned columns.
// Cells may carry ANSI styling; column widths count visible runes only.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable returns a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow appends one row of cells.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// String renders the table with two spaces between columns.
func (t *Table) String() string {
	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = lipgloss.Width(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	var out strings.Builder
	writeRow := func(row []string) {
		for i, cell := range row {
			out.WriteString(cell)
			if i == len(row)-1 {
				break
			}
			out.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
		}
		out.WriteByte('\n')
	}
	writeRow(t.headers)
	for _, row := range t.rows {
		writeRow(row)
	}
	return out.String()
}

// Clip flattens a cell to one line and caps it at max visible runes.
// Meant for plain text; styled cells go in unclipped.
func Clip(value string, max int) string {
	return istrings.Truncate(istrings.NormalizeWhitespace(value), max)
}
