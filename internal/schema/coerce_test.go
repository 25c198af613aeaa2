package schema

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/org-directory/internal/model"
)

func TestCoerce_FillsMissingDropsExtra(t *testing.T) {
	t.Parallel()

	out := Coerce([]Row{{
		"org_name": "  Active Heroes ",
		"pp_name":  "dropped",
		"ein":      "45-4138378",
	}})
	require.Len(t, out, 1)

	r := out[0]
	assert.Equal(t, "Active Heroes", r.Get(model.FieldName))
	assert.Equal(t, "45-4138378", r.Get(model.FieldEIN))
	assert.Nil(t, r.Get(model.FieldPhone))
	assert.Len(t, r.Values(), model.Canonical().Len())
	_, has := r.Map()["pp_name"]
	assert.False(t, has)
}

func TestCoerce_CastsKinds(t *testing.T) {
	t.Parallel()

	r := CoerceRow(Row{
		"total_revenue":  "$1,234.50",
		"total_expenses": 42,
		"total_assets":   json.Number("99.5"),
		"net_assets":     "(500)",
		"num_employees":  "n/a",
		"zip_code":       40202,
		"year_founded":   1946.0,
		"email":          "",
		"va_accredited":  true,
	})

	assert.Equal(t, 1234.5, r.Get("total_revenue"))
	assert.Equal(t, 42.0, r.Get("total_expenses"))
	assert.Equal(t, 99.5, r.Get("total_assets"))
	assert.Equal(t, -500.0, r.Get("net_assets"))
	assert.Nil(t, r.Get("num_employees"), "uncastable values become null")
	assert.Equal(t, "40202", r.Get("zip_code"))
	assert.Equal(t, "1946", r.Get("year_founded"))
	assert.Nil(t, r.Get("email"), "empty strings are null")
	assert.Equal(t, "true", r.Get("va_accredited"))
}

func TestCoerce_RejectsNonFinite(t *testing.T) {
	t.Parallel()

	r := CoerceRow(Row{"total_revenue": math.NaN(), "org_name": math.Inf(1)})
	assert.Nil(t, r.Get("total_revenue"))
	assert.Nil(t, r.Get("org_name"))

	r = CoerceRow(Row{
		"total_revenue":  "1e400",
		"total_expenses": "(-1e400)",
		"total_assets":   json.Number("1e400"),
		"net_assets":     "$1,250.50",
		"org_name":       float32(math.Inf(-1)),
		"website":        float32(math.NaN()),
	})
	assert.Nil(t, r.Get("total_revenue"))
	assert.Nil(t, r.Get("total_expenses"))
	assert.Nil(t, r.Get("total_assets"))
	assert.Equal(t, 1250.50, r.Get("net_assets"))
	assert.Nil(t, r.Get("org_name"))
	assert.Nil(t, r.Get("website"))

	_, err := json.Marshal(r)
	assert.NoError(t, err, "a coerced record always serializes")
}

func TestCoerce_UnsupportedTypeIsNull(t *testing.T) {
	t.Parallel()

	r := CoerceRow(Row{"org_name": []string{"a"}, "total_revenue": map[string]any{}})
	assert.Nil(t, r.Get("org_name"))
	assert.Nil(t, r.Get("total_revenue"))
}

func TestCoerce_DataSourcesBecomesProvenance(t *testing.T) {
	t.Parallel()

	r := CoerceRow(Row{"data_sources": "propublica;irs_bmf"})
	assert.Equal(t, model.Provenance{"irs_bmf", "propublica"}, r.Sources)
}

func TestCoerce_IsPure(t *testing.T) {
	t.Parallel()

	in := []Row{{"org_name": "x", "total_revenue": "10"}, {"ein": "1"}}
	a := Coerce(in)
	b := Coerce(in)
	require.Len(t, a, 2)
	for i := range a {
		assert.True(t, a[i].Equal(b[i]))
	}
	assert.Equal(t, "10", in[0]["total_revenue"], "input must not be modified")
}

func TestCoerce_Empty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Coerce(nil))
}

func TestRevenueRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want any
	}{
		{nil, nil},
		{0.0, "$0"},
		{0.5, "$0"},
		{49_999.0, "Under $50K"},
		{49_999.99, "Under $50K"},
		{50_000.0, "$50K-$100K"},
		{2_500_000.0, "$1M-$5M"},
		{250_000_000.0, "$100M+"},
		{-1.0, nil},
		{"$75,000", "$50K-$100K"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RevenueRange(tt.in), "input %v", tt.in)
	}
}
