package display

import (
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"
)

// Table collects rows and renders them with tablewriter
type Table struct {
	headers  []string
	rows     [][]string
	maxWidth int
}

// NewTable creates a table with the given headers
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow appends one row; missing cells render empty
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	copy(row, cells)
	t.rows = append(t.rows, row)
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Render writes the table to w, wrapping cells to fit maxWidth or the terminal width
func (t *Table) Render(w io.Writer) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(t.headers)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAutoWrapText(true)
	if width := t.width(w); width > 0 && len(t.headers) > 0 {
		tw.SetColWidth(width / len(t.headers))
	}
	tw.AppendBulk(t.rows)
	tw.Render()
}

func (t *Table) width(w io.Writer) int {
	width := t.maxWidth
	if f, ok := w.(*os.File); ok {
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 && (width == 0 || cols < width) {
			width = cols
		}
	}
	return width
}
