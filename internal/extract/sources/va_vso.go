package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/org-directory/internal/fetcher"
)

// VAVSOName is the source name of the VA accredited VSO directory.
const VAVSOName = "va_vso"

// VAVSO scrapes the VA Office of General Counsel accreditation listing of
// Veterans Service Organizations. The listing is one HTML table with a row
// per accredited representative; rows are folded into one record per
// organization and location, with the representatives in key_personnel.
// Records carry no EIN, so the source is appended during merge.
type VAVSO struct {
	Client *fetcher.Client
	URL    string
}

func (s *VAVSO) Name() string { return VAVSOName }

// Column positions used when the header row does not name a column.
const (
	vsoColName  = 0
	vsoColPhone = 2
	vsoColCity  = 3
	vsoColState = 4
	vsoColRep   = 5
)

type vsoPerson struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

// Extract downloads the full listing. The listing changes as accreditations
// are granted and revoked, so it is never served from the cache.
func (s *VAVSO) Extract(ctx context.Context) ([]map[string]any, error) {
	log := zap.L().With(zap.String("component", "extract"), zap.String("source", s.Name()))

	resp, err := s.Client.Request(ctx, http.MethodGet, s.URL, nil, false)
	if err != nil {
		return nil, eris.Wrap(err, "va_vso: fetch listing")
	}
	table, err := htmlTable(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "va_vso: parse listing")
	}
	if len(table) == 0 {
		log.Warn("no table in vso listing")
		return nil, nil
	}

	rows := parseVSOTable(table, newTitler())
	log.Info("parsed vso listing", zap.Int("table_rows", len(table)-1), zap.Int("organizations", len(rows)))
	return rows, nil
}

// parseVSOTable maps listing rows onto canonical names. The first row is
// the header. Rows with fewer than three cells or no organization name are
// skipped.
func parseVSOTable(table [][]string, title *titler) []map[string]any {
	header := make(map[string]int, len(table[0]))
	for i, h := range table[0] {
		header[strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), " ", "_")] = i
	}
	cell := func(row []string, name string, pos int) string {
		if i, ok := header[name]; ok && i < len(row) {
			if v := strings.TrimSpace(row[i]); v != "" {
				return v
			}
		}
		if pos < len(row) {
			return strings.TrimSpace(row[pos])
		}
		return ""
	}

	type org struct {
		row  map[string]any
		reps []vsoPerson
		seen map[string]bool
	}
	var order []string
	orgs := make(map[string]*org)

	for _, row := range table[1:] {
		if len(row) < 3 {
			continue
		}
		name := title.String(cell(row, "organization_name", vsoColName))
		if name == "" {
			continue
		}
		city := title.String(cell(row, "org_city", vsoColCity))
		state := strings.ToUpper(cell(row, "org_state", vsoColState))
		key := strings.ToLower(name + "|" + city + "|" + state)

		o, ok := orgs[key]
		if !ok {
			o = &org{
				row: map[string]any{
					"org_name":      name,
					"city":          nonEmpty(city),
					"state":         nonEmpty(state),
					"phone":         nonEmpty(cell(row, "org_phone", vsoColPhone)),
					"country":       "US",
					"org_type":      "Veterans Service Organization",
					"va_accredited": "Yes",
				},
				seen: make(map[string]bool),
			}
			orgs[key] = o
			order = append(order, key)
		}
		if rep := cell(row, "representative", vsoColRep); rep != "" && !o.seen[rep] {
			o.seen[rep] = true
			o.reps = append(o.reps, vsoPerson{Name: rep, Title: "VSO Representative"})
		}
	}

	out := make([]map[string]any, 0, len(order))
	for _, key := range order {
		o := orgs[key]
		details := "VA-Accredited VSO"
		if len(o.reps) > 0 {
			names := make([]string, len(o.reps))
			for i, r := range o.reps {
				names[i] = r.Name
			}
			details += "; Reps: " + strings.Join(names, ", ")
			if b, err := json.Marshal(o.reps); err == nil {
				o.row["key_personnel"] = string(b)
			}
		}
		o.row["accreditation_details"] = details
		out = append(out, o.row)
	}
	return out
}
