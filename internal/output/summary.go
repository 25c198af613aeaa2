package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sells-group/org-directory/internal/model"
)

// Grades in report order, with their labels.
var gradeLabels = []struct{ grade, label string }{
	{"A", "Verified"},
	{"B", "Strong"},
	{"C", "Basic"},
	{"D", "Minimal"},
	{"F", "Stub"},
}

// Summary aggregates coverage figures over a finalized record set.
type Summary struct {
	Total       int `json:"total"`
	UniqueEINs  int `json:"unique_eins"`
	WithEIN     int `json:"with_ein"`
	States      int `json:"states"`
	WithPhone   int `json:"with_phone"`
	WithEmail   int `json:"with_email"`
	WithWebsite int `json:"with_website"`
	WithMission int `json:"with_mission"`
	WithRevenue int `json:"with_revenue"`
	WithRating  int `json:"with_rating"`
	VAAccredit  int `json:"va_accredited"`

	MeanScore float64 `json:"mean_score"`
	High      int     `json:"high"`   // score > 0.7
	Medium    int     `json:"medium"` // 0.4 <= score <= 0.7
	Low       int     `json:"low"`    // score < 0.4

	Grades   map[string]int `json:"grades"`
	ByState  map[string]int `json:"by_state"`
	ByType   map[string]int `json:"by_type"`
	ByRange  map[string]int `json:"by_revenue_range"`
	BySource map[string]int `json:"by_source"`
}

// Summarize computes a Summary. Records are expected to be finalized.
func Summarize(records model.Batch) Summary {
	s := Summary{
		Total:    len(records),
		Grades:   make(map[string]int),
		ByState:  make(map[string]int),
		ByType:   make(map[string]int),
		ByRange:  make(map[string]int),
		BySource: make(map[string]int),
	}
	eins := make(map[string]bool)
	var scoreSum float64

	for _, r := range records {
		if ein := r.Text(model.FieldEIN); ein != "" {
			s.WithEIN++
			eins[ein] = true
		}
		count(r, model.FieldPhone, &s.WithPhone)
		count(r, model.FieldEmail, &s.WithEmail)
		count(r, model.FieldWebsite, &s.WithWebsite)
		count(r, "mission_statement", &s.WithMission)
		count(r, model.FieldRevenue, &s.WithRevenue)
		count(r, "charity_navigator_rating", &s.WithRating)
		if r.Text("va_accredited") == "Yes" {
			s.VAAccredit++
		}

		if score, ok := r.Get(model.FieldScore).(float64); ok {
			scoreSum += score
			switch {
			case score > 0.7:
				s.High++
			case score >= 0.4:
				s.Medium++
			default:
				s.Low++
			}
		}
		if g := r.Text(model.FieldGrade); g != "" {
			s.Grades[g]++
		}
		tally(s.ByState, r.Text(model.FieldState))
		tally(s.ByType, r.Text("org_type"))
		tally(s.ByRange, r.Text(model.FieldRevenueBand))
		for _, src := range r.Sources {
			s.BySource[src]++
		}
	}
	s.UniqueEINs = len(eins)
	s.States = len(s.ByState)
	if s.Total > 0 {
		s.MeanScore = scoreSum / float64(s.Total)
	}
	return s
}

func count(r model.Record, field string, n *int) {
	if !r.IsNull(field) {
		*n++
	}
}

func tally(m map[string]int, k string) {
	if k != "" {
		m[k]++
	}
}

// Report renders the summary as the plain-text report written next to the
// CSV.
func (s Summary) Report(generated time.Time) string {
	rule := strings.Repeat("=", 70)
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	line("%s", rule)
	line("VETERAN ORGANIZATION DIRECTORY - SUMMARY REPORT")
	line("Generated: %s", generated.Format("2006-01-02T15:04:05"))
	line("%s", rule)
	line("")
	line("Total organizations: %d", s.Total)
	line("Unique EINs: %d", s.UniqueEINs)
	line("Records with EIN: %d", s.WithEIN)
	line("Records without EIN: %d", s.Total-s.WithEIN)
	line("")
	line("-- Coverage --")
	line("States/territories represented: %d", s.States)
	line("Records with phone: %d", s.WithPhone)
	line("Records with email: %d", s.WithEmail)
	line("Records with website: %d", s.WithWebsite)
	line("Records with mission: %d", s.WithMission)
	line("Records with financials: %d", s.WithRevenue)
	line("Records with CN rating: %d", s.WithRating)
	line("VA-accredited orgs: %d", s.VAAccredit)
	line("")
	line("-- Confidence Scores --")
	line("Mean confidence: %.3f", s.MeanScore)
	line("High confidence (>0.7): %d", s.High)
	line("Medium confidence (0.4-0.7): %d", s.Medium)
	line("Low confidence (<0.4): %d", s.Low)
	line("")
	line("-- Confidence Grades --")
	for _, g := range gradeLabels {
		line("  %s (%s): %d", g.grade, g.label, s.Grades[g.grade])
	}
	section(line, "By State (top 15)", s.ByState, 15)
	section(line, "By Organization Type", s.ByType, 10)
	section(line, "By Revenue Range", s.ByRange, 0)
	section(line, "Data Sources", s.BySource, 0)
	line("")
	line("%s", rule)
	return b.String()
}

func section(line func(string, ...any), title string, m map[string]int, limit int) {
	line("")
	line("-- %s --", title)
	for _, kv := range topN(m, limit) {
		line("  %s: %d", kv.key, kv.n)
	}
}

type keyCount struct {
	key string
	n   int
}

// topN returns entries by descending count, then key. limit <= 0 returns
// all of them.
func topN(m map[string]int, limit int) []keyCount {
	out := make([]keyCount, 0, len(m))
	for k, n := range m {
		out = append(out, keyCount{k, n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].n != out[j].n {
			return out[i].n > out[j].n
		}
		return out[i].key < out[j].key
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
