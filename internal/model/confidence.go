package model

import (
	"math"
	"strings"
)

// Score computes the completeness score of a finalized record: the weighted
// share of populated weighted fields, rounded to three decimals.
//
// Score is reporting-only. Merge and dedup must never consult it.
func Score(r Record) float64 {
	var got, total float64
	for _, f := range canonical.Fields {
		if f.Weight <= 0 {
			continue
		}
		total += f.Weight
		if filled(r, f.Name) {
			got += f.Weight
		}
	}
	if total == 0 {
		return 0
	}
	return math.Round(got/total*1000) / 1000
}

// Grade assigns a letter grade from the field groups a record carries:
//
//	A  identity + financials + contact + rating or VA accreditation
//	B  identity + financials + NTEE classification
//	C  identity + (financials or NTEE classification)
//	D  identity only
//	F  missing EIN or address
func Grade(r Record) string {
	hasIdentity := filled(r, FieldName) && filled(r, FieldEIN) &&
		(filled(r, FieldStreet) || (filled(r, FieldCity) && filled(r, FieldState)))
	hasFinancials := filled(r, FieldRevenue)
	hasNTEE := filled(r, "ntee_code")
	hasContact := filled(r, FieldPhone) || filled(r, FieldEmail) || filled(r, FieldWebsite)
	hasRating := filled(r, "charity_navigator_rating") || r.Text("va_accredited") == "Yes"

	switch {
	case hasIdentity && hasFinancials && hasContact && hasRating:
		return "A"
	case hasIdentity && hasFinancials && hasNTEE:
		return "B"
	case hasIdentity && (hasFinancials || hasNTEE):
		return "C"
	case hasIdentity:
		return "D"
	default:
		return "F"
	}
}

func filled(r Record, name string) bool {
	v := r.Get(name)
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}
