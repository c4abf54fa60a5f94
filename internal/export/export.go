// Package export writes the stacked chain dataset as downloadable files.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"

	"github.com/web3-frozen/chain-tvl/internal/rollup"
)

const (
	csvDateLayout = "02/01/2006"
	sheetName     = "chains"
)

// Format is a supported download format.
type Format string

const (
	CSV     Format = "csv"
	XLSX    Format = "xlsx"
	Parquet Format = "parquet"
)

// ContentType returns the MIME type served for f.
func (f Format) ContentType() string {
	switch f {
	case CSV:
		return "text/csv; charset=utf-8"
	case XLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case Parquet:
		return "application/vnd.apache.parquet"
	}
	return "application/octet-stream"
}

// ParseFormat maps a file extension to a Format.
func ParseFormat(ext string) (Format, error) {
	switch f := Format(ext); f {
	case CSV, XLSX, Parquet:
		return f, nil
	}
	return "", fmt.Errorf("unsupported export format %q", ext)
}

// Write renders rows in format f.
func Write(w io.Writer, f Format, chains []string, rows []rollup.StackedRow) error {
	switch f {
	case CSV:
		return WriteCSV(w, chains, rows)
	case XLSX:
		return WriteXLSX(w, chains, rows)
	case Parquet:
		return WriteParquet(w, chains, rows)
	}
	return fmt.Errorf("unsupported export format %q", f)
}

// WriteCSV writes a Timestamp,Date,<chain...> table, one line per date in
// ascending order. Cells are blank where a chain has no value. There is no
// trailing newline.
func WriteCSV(w io.Writer, chains []string, rows []rollup.StackedRow) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	if err := cw.Write(append([]string{"Timestamp", "Date"}, chains...)); err != nil {
		return err
	}
	for _, r := range sortedByDate(rows) {
		rec := make([]string, 0, len(chains)+2)
		rec = append(rec, strconv.FormatInt(r.Date, 10), niceDate(r.Date))
		for _, c := range chains {
			if v, ok := r.Values[c]; ok {
				rec = append(rec, formatValue(v))
			} else {
				rec = append(rec, "")
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}

	_, err := w.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return err
}

// WriteXLSX writes the same table as WriteCSV into a single-sheet workbook.
func WriteXLSX(w io.Writer, chains []string, rows []rollup.StackedRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]interface{}, 0, len(chains)+2)
	header = append(header, "Timestamp", "Date")
	for _, c := range chains {
		header = append(header, c)
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, r := range sortedByDate(rows) {
		line := make([]interface{}, 0, len(chains)+2)
		line = append(line, r.Date, niceDate(r.Date))
		for _, c := range chains {
			if v, ok := r.Values[c]; ok {
				line = append(line, v)
			} else {
				line = append(line, nil)
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &line); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	return f.Write(w)
}

// ParquetRow is one (date, chain) observation in the Parquet export.
type ParquetRow struct {
	Timestamp int64   `parquet:"timestamp"`
	Date      string  `parquet:"date"`
	Chain     string  `parquet:"chain"`
	TVL       float64 `parquet:"tvl"`
}

// WriteParquet writes the dataset in long format: one row per chain per date,
// dates ascending, chains in the given order. Absent values are skipped.
func WriteParquet(w io.Writer, chains []string, rows []rollup.StackedRow) error {
	var out []ParquetRow
	for _, r := range sortedByDate(rows) {
		date := niceDate(r.Date)
		for _, c := range chains {
			v, ok := r.Values[c]
			if !ok {
				continue
			}
			out = append(out, ParquetRow{Timestamp: r.Date, Date: date, Chain: c, TVL: v})
		}
	}
	return parquet.Write(w, out)
}

// sortedByDate sorts a copy; the stacked dataset keeps its merge order.
func sortedByDate(rows []rollup.StackedRow) []rollup.StackedRow {
	out := make([]rollup.StackedRow, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func niceDate(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(csvDateLayout)
}

func formatValue(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
