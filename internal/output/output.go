// Package output writes the final directory: the CSV every run produces, an
// optional XLSX workbook, and a plain-text summary report.
package output

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/org-directory/internal/model"
	"github.com/sells-group/org-directory/internal/schema"
)

// utf8BOM prefixes the CSV so spreadsheet tools detect the encoding.
const utf8BOM = "\ufeff"

const (
	summaryFile = "summary_report.txt"
	sheetName   = "Organizations"
)

// Options controls what Write produces.
type Options struct {
	Dir  string
	Name string // file stem, without extension
	XLSX bool
	// Now stamps record_last_updated. Zero means time.Now.
	Now time.Time
}

// Files lists what Write produced. XLSX is empty when disabled.
type Files struct {
	CSV     string `json:"csv"`
	XLSX    string `json:"xlsx,omitempty"`
	Summary string `json:"summary"`
}

// Write finalizes records, sorts them by state then name, and writes the
// CSV, the optional workbook and the summary report under opts.Dir.
func Write(records model.Batch, opts Options) (model.Batch, Files, error) {
	log := zap.L().With(zap.String("component", "output"))
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, Files{}, eris.Wrapf(err, "output: create dir %s", opts.Dir)
	}

	final := Finalize(records, opts.Now)
	Sort(final)

	files := Files{
		CSV:     filepath.Join(opts.Dir, opts.Name+".csv"),
		Summary: filepath.Join(opts.Dir, summaryFile),
	}
	if err := WriteCSV(files.CSV, final); err != nil {
		return nil, Files{}, err
	}
	log.Info("wrote csv", zap.String("path", files.CSV), zap.Int("records", len(final)))

	if opts.XLSX {
		files.XLSX = filepath.Join(opts.Dir, opts.Name+".xlsx")
		if err := WriteXLSX(files.XLSX, final); err != nil {
			return nil, Files{}, err
		}
		log.Info("wrote xlsx", zap.String("path", files.XLSX))
	}

	report := Summarize(final).Report(opts.Now)
	if err := os.WriteFile(files.Summary, []byte(report), 0o644); err != nil {
		return nil, Files{}, eris.Wrapf(err, "output: write summary %s", files.Summary)
	}
	log.Info("wrote summary", zap.String("path", files.Summary))

	return final, files, nil
}

// Finalize returns copies of records with the reporting columns stamped:
// annual_revenue_range from total_revenue, the confidence score and grade,
// and record_last_updated. Scores are computed after the revenue band so
// the band counts toward completeness.
func Finalize(records model.Batch, now time.Time) model.Batch {
	stamp := now.Format("2006-01-02T15:04:05")
	out := make(model.Batch, len(records))
	for i, r := range records {
		c := r.Clone()
		c.Set(model.FieldRevenueBand, schema.RevenueRange(c.Get(model.FieldRevenue)))
		c.Set(model.FieldScore, model.Score(c))
		c.Set(model.FieldGrade, model.Grade(c))
		c.Set("record_last_updated", stamp)
		out[i] = c
	}
	return out
}

// Sort orders records by state then name in place, nulls last. Ties keep
// their relative order.
func Sort(records model.Batch) {
	sort.SliceStable(records, func(i, j int) bool {
		if c := compareNullLast(records[i].Text(model.FieldState), records[j].Text(model.FieldState)); c != 0 {
			return c < 0
		}
		return compareNullLast(records[i].Text(model.FieldName), records[j].Text(model.FieldName)) < 0
	})
}

func compareNullLast(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	default:
		return strings.Compare(a, b)
	}
}

// WriteCSV writes records with a header row in canonical field order.
// Nulls are empty cells.
func WriteCSV(path string, records model.Batch) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "output: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	if _, err := f.WriteString(utf8BOM); err != nil {
		return eris.Wrap(err, "output: write BOM")
	}
	cw := csv.NewWriter(f)
	if err := cw.Write(model.Canonical().Names()); err != nil {
		return eris.Wrap(err, "output: write CSV header")
	}
	row := make([]string, model.Canonical().Len())
	for _, r := range records {
		for i, v := range r.Values() {
			row[i] = model.FormatValue(v)
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "output: write CSV row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "output: flush CSV")
	}
	return f.Close()
}

// WriteXLSX writes records to a single-sheet workbook. Float fields are
// numeric cells.
func WriteXLSX(path string, records model.Batch) error {
	wb := xlsx.NewFile()
	sheet, err := wb.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "output: add sheet")
	}

	fields := model.Canonical().Fields
	header := sheet.AddRow()
	for _, f := range fields {
		header.AddCell().SetString(f.Name)
	}
	for _, r := range records {
		row := sheet.AddRow()
		for i, v := range r.Values() {
			cell := row.AddCell()
			switch x := v.(type) {
			case nil:
			case float64:
				if fields[i].Kind == model.KindFloat {
					cell.SetFloat(x)
				} else {
					cell.SetString(model.FormatValue(x))
				}
			default:
				cell.SetString(model.FormatValue(x))
			}
		}
	}
	if err := wb.Save(path); err != nil {
		return eris.Wrapf(err, "output: save %s", path)
	}
	return nil
}
