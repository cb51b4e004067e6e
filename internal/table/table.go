// Package table renders simple ASCII tables with per-column alignment.
// Cell widths are computed on the visible text, so ANSI color sequences in
// cell content do not break the layout.
package table

import (
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Alignment controls how cell content is padded within its column.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
	AlignCenter
)

// Table accumulates rows and renders them to a writer.
type Table struct {
	w               io.Writer
	header          []string
	rows            [][]string
	columnAlign     []Alignment
	headerAlign     []Alignment
	columnSeparator string
}

// NewTable creates a table that renders to the given writer.
func NewTable(w io.Writer) *Table {
	return &Table{w: w, columnSeparator: "|"}
}

// WithHeader sets the header row.
func (t *Table) WithHeader(header []string) *Table {
	t.header = header
	return t
}

// WithColumnAlignment sets the per-column alignment for body rows. Columns
// without an explicit alignment are left-aligned.
func (t *Table) WithColumnAlignment(align []Alignment) *Table {
	t.columnAlign = align
	return t
}

// WithHeaderAlignment sets the per-column alignment for the header row.
// Header cells default to centered.
func (t *Table) WithHeaderAlignment(align []Alignment) *Table {
	t.headerAlign = align
	return t
}

// Append adds one body row.
func (t *Table) Append(row []string) *Table {
	t.rows = append(t.rows, row)
	return t
}

// WithRows adds multiple body rows.
func (t *Table) WithRows(rows [][]string) *Table {
	t.rows = append(t.rows, rows...)
	return t
}

// Render writes the table.
func (t *Table) Render() {
	widths := t.columnWidths()
	if len(widths) == 0 {
		return
	}
	border := t.borderLine(widths)
	fmt.Fprintln(t.w, border)
	if len(t.header) > 0 {
		fmt.Fprintln(t.w, t.formatRow(t.header, widths, t.headerAlignment))
		fmt.Fprintln(t.w, border)
	}
	for _, row := range t.rows {
		fmt.Fprintln(t.w, t.formatRow(row, widths, t.columnAlignment))
	}
	fmt.Fprintln(t.w, border)
}

func (t *Table) columnWidths() []int {
	var widths []int
	measure := func(row []string) {
		for i, cell := range row {
			for i >= len(widths) {
				widths = append(widths, 0)
			}
			if w := visibleWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(t.header)
	for _, row := range t.rows {
		measure(row)
	}
	return widths
}

func (t *Table) borderLine(widths []int) string {
	var sb strings.Builder
	sb.WriteByte('+')
	for _, w := range widths {
		sb.WriteString(strings.Repeat("-", w+2))
		sb.WriteByte('+')
	}
	return sb.String()
}

func (t *Table) columnAlignment(col int) Alignment {
	if col < len(t.columnAlign) {
		return t.columnAlign[col]
	}
	return AlignLeft
}

func (t *Table) headerAlignment(col int) Alignment {
	if col < len(t.headerAlign) {
		return t.headerAlign[col]
	}
	return AlignCenter
}

func (t *Table) formatRow(row []string, widths []int, align func(int) Alignment) string {
	var sb strings.Builder
	sb.WriteString(t.columnSeparator)
	for i, width := range widths {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		sb.WriteByte(' ')
		sb.WriteString(pad(cell, width, align(i)))
		sb.WriteByte(' ')
		sb.WriteString(t.columnSeparator)
	}
	return sb.String()
}

func pad(cell string, width int, align Alignment) string {
	gap := width - visibleWidth(cell)
	if gap <= 0 {
		return cell
	}
	switch align {
	case AlignRight:
		return strings.Repeat(" ", gap) + cell
	case AlignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + cell + strings.Repeat(" ", gap-left)
	default:
		return cell + strings.Repeat(" ", gap)
	}
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripAnsi(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

func visibleWidth(s string) int {
	return len([]rune(stripAnsi(s)))
}
