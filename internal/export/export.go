// Package export writes interaction records as CSV or XLSX downloads.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"interactionlog/internal/rules"
)

// Format is a download format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const sheetName = "Interactions"

// Each feeds records to fn until fn or the source fails.
type Each func(fn func(rules.InteractionRecord) error) error

// Columns is the header row shared by both formats.
var Columns = []string{
	"ID", "Timestamp", "Staff", "Channel", "Branch", "Category",
	"Purchased", "Out of stock", "Wanted item",
}

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported export format %q (use csv or xlsx)", s)
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Filename builds the attachment name for an export taken at t.
func (f Format) Filename(t time.Time) string {
	return fmt.Sprintf("interactions_%s.%s", t.UTC().Format("20060102_150405"), f)
}

// Row renders a record using display labels; undefined fields are blank.
// Free text is escaped so spreadsheets never evaluate it as a formula.
func Row(rec rules.InteractionRecord) []string {
	return []string{
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		text(rec.StaffName),
		text(rec.ChannelLabel()),
		text(rec.Branch),
		text(rec.CategoryLabel()),
		yesNo(rec.Purchased),
		yesNo(rec.OutOfStock),
		text(rec.WantedItem),
	}
}

// text prefixes values a spreadsheet would read as a formula with a quote.
func text(v string) string {
	if v != "" && strings.ContainsRune("=+-@\t\r", rune(v[0])) {
		return "'" + v
	}
	return v
}

func yesNo(b *bool) string {
	switch {
	case b == nil:
		return ""
	case *b:
		return "Yes"
	default:
		return "No"
	}
}

// Write streams every record from each to w in the given format and returns
// the number of rows written.
func Write(w io.Writer, format Format, each Each) (int, error) {
	switch format {
	case FormatCSV:
		return WriteCSV(w, each)
	case FormatXLSX:
		return WriteXLSX(w, each)
	}
	return 0, fmt.Errorf("unsupported export format %q", format)
}

func WriteCSV(w io.Writer, each Each) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return 0, err
	}

	n := 0
	err := each(func(rec rules.InteractionRecord) error {
		n++
		return cw.Write(Row(rec))
	})
	if err != nil {
		return n, err
	}

	cw.Flush()
	return n, cw.Error()
}

// WriteXLSX builds a single-sheet workbook with a stream writer so large
// exports are not held cell by cell in memory.
func WriteXLSX(w io.Writer, each Each) (int, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), sheetName); err != nil {
		return 0, fmt.Errorf("rename sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return 0, fmt.Errorf("create stream writer: %w", err)
	}
	if err := sw.SetColWidth(1, 1, 38); err != nil {
		return 0, err
	}
	if err := sw.SetColWidth(len(Columns), len(Columns), 40); err != nil {
		return 0, err
	}

	if err := sw.SetRow("A1", toCells(Columns)); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	n := 0
	err = each(func(rec rules.InteractionRecord) error {
		n++
		cell, err := excelize.CoordinatesToCellName(1, n+1)
		if err != nil {
			return err
		}
		return sw.SetRow(cell, toCells(Row(rec)))
	})
	if err != nil {
		return n, err
	}

	if err := sw.Flush(); err != nil {
		return n, fmt.Errorf("flush sheet: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return n, fmt.Errorf("write workbook: %w", err)
	}
	return n, nil
}

func toCells(values []string) []interface{} {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}
