package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sells-group/org-directory/internal/checkpoint"
	"github.com/sells-group/org-directory/internal/extract"
	"github.com/sells-group/org-directory/internal/fetcher"
	"github.com/sells-group/org-directory/internal/resilience"
)

// ProPublicaName is the source name of the Nonprofit Explorer API.
const ProPublicaName = "propublica"

const maxOfficers = 10

// ProPublica enriches EINs with the latest filing financials from the
// ProPublica Nonprofit Explorer API.
type ProPublica struct {
	Client   *fetcher.Client
	BaseURL  string
	Store    *checkpoint.Store
	Interval int
	EINs     []string
}

func (s *ProPublica) Name() string { return ProPublicaName }

type ppOfficer struct {
	Name         string   `json:"name"`
	Title        string   `json:"title"`
	Compensation *float64 `json:"compensation"`
}

type ppFiling struct {
	TaxPeriod        json.Number `json:"tax_prd"`
	TotalRevenue     *float64    `json:"totrevenue"`
	TotalExpenses    *float64    `json:"totfuncexpns"`
	TotalAssets      *float64    `json:"totassetsend"`
	TotalLiabilities *float64    `json:"totliabend"`
	NetAssets        *float64    `json:"totnetassetend"`
	Officers         []ppOfficer `json:"officers"`
}

type ppResponse struct {
	Organization struct {
		FormsFiled *float64 `json:"number_of_forms_filed"`
	} `json:"organization"`
	Filings []ppFiling `json:"filings_with_data"`
}

// Extract fetches one organization per EIN. An EIN unknown to ProPublica
// yields no row.
func (s *ProPublica) Extract(ctx context.Context) ([]map[string]any, error) {
	loop := &extract.KeyedLoop[map[string]any]{Source: s.Name(), Store: s.Store, Interval: s.Interval}
	rows, _, err := loop.Run(ctx, s.EINs, s.fetch)
	if err != nil {
		return nil, err
	}
	return compact(rows), nil
}

func (s *ProPublica) fetch(ctx context.Context, ein string) resilience.Result[map[string]any] {
	url := strings.TrimSuffix(s.BaseURL, "/") + "/organizations/" + ein + ".json"
	var resp ppResponse
	err := s.Client.RequestJSON(ctx, http.MethodGet, url, nil, true, &resp)
	if resilience.StatusCode(err) == http.StatusNotFound {
		return resilience.Ok[map[string]any](nil)
	}
	if err != nil {
		return resilience.Fail[map[string]any](err)
	}
	return resilience.Ok(transformProPublica(ein, &resp))
}

func transformProPublica(ein string, resp *ppResponse) map[string]any {
	row := map[string]any{
		"ein":           ein,
		"num_employees": ptr(resp.Organization.FormsFiled),
	}
	if len(resp.Filings) == 0 {
		return row
	}
	latest := resp.Filings[0]
	row["total_revenue"] = ptr(latest.TotalRevenue)
	row["total_expenses"] = ptr(latest.TotalExpenses)
	row["total_assets"] = ptr(latest.TotalAssets)
	row["total_liabilities"] = ptr(latest.TotalLiabilities)
	row["net_assets"] = ptr(latest.NetAssets)
	row["fiscal_year_end"] = nonEmpty(latest.TaxPeriod.String())
	row["key_personnel"] = officersJSON(latest.Officers)
	return row
}

func officersJSON(officers []ppOfficer) any {
	if len(officers) == 0 {
		return nil
	}
	if len(officers) > maxOfficers {
		officers = officers[:maxOfficers]
	}
	b, err := json.Marshal(officers)
	if err != nil {
		return nil
	}
	return string(b)
}

func ptr(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// compact drops the nil rows keyed loops record for keys with no data.
func compact(rows []map[string]any) []map[string]any {
	out := rows[:0]
	for _, r := range rows {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
