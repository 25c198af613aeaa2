// Package schema maps heterogeneous source rows onto the canonical record
// schema. Everything here is pure: no I/O and no logging.
package schema

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/org-directory/internal/model"
)

// Row is one raw record as produced by an extractor.
type Row = map[string]any

// Coerce maps rows onto the canonical schema. Every output record has
// exactly the canonical fields; missing columns become null, extra columns
// are dropped and uncastable values become null. A raw data_sources column
// is folded into the record's provenance.
func Coerce(rows []Row) model.Batch {
	out := make(model.Batch, 0, len(rows))
	for _, row := range rows {
		out = append(out, CoerceRow(row))
	}
	return out
}

// CoerceRow coerces a single row. See Coerce.
func CoerceRow(row Row) model.Record {
	s := model.Canonical()
	rec := model.NewRecord()
	for _, f := range s.Fields {
		raw, ok := row[f.Name]
		if !ok {
			continue
		}
		if f.Name == model.FieldDataSources {
			if str, ok := castString(raw); ok {
				rec.Sources = model.ParseProvenance(str)
			}
			continue
		}
		rec.Set(f.Name, Cast(f.Kind, raw))
	}
	return rec
}

// Cast converts v to kind, returning nil when it cannot.
func Cast(kind model.Kind, v any) any {
	switch kind {
	case model.KindFloat:
		if f, ok := castFloat(v); ok {
			return f
		}
		return nil
	default:
		if str, ok := castString(v); ok {
			return str
		}
		return nil
	}
}

func castString(v any) (string, bool) {
	var s string
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s = x
	case *string:
		if x == nil {
			return "", false
		}
		s = *x
	case []byte:
		s = string(x)
	case bool:
		s = strconv.FormatBool(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", false
		}
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return "", false
		}
		s = strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		s = strconv.Itoa(x)
	case int64:
		s = strconv.FormatInt(x, 10)
	case int32:
		s = strconv.FormatInt(int64(x), 10)
	case json.Number:
		s = x.String()
	case decimal.Decimal:
		s = x.String()
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

func castFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case json.Number:
		return parseAmount(x.String())
	case decimal.Decimal:
		f = x.InexactFloat64()
	case string:
		return parseAmount(x)
	case *string:
		if x == nil {
			return 0, false
		}
		return parseAmount(*x)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

var amountCleaner = strings.NewReplacer("$", "", ",", "", " ", "")

// parseAmount parses plain numbers and money strings such as "$1,234.50"
// or "(500)" for negatives. Values beyond float64 range are rejected.
func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = amountCleaner.Replace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	if neg {
		d = d.Neg()
	}
	f := d.InexactFloat64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
