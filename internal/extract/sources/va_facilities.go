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

// VAFacilitiesName is the source name of the VA Lighthouse facilities API.
const VAFacilitiesName = "va_facilities"

// VAFacilitiesKeyHeader carries the API key.
const VAFacilitiesKeyHeader = "apikey"

// DefaultFacilityTypes are the facility types listed when none are
// configured.
var DefaultFacilityTypes = []string{"health", "benefits", "cemetery", "vet_center"}

// VAFacilities lists VA facilities of each type. Facilities have no EIN, so
// the source is appended rather than joined during merge.
type VAFacilities struct {
	Client  *fetcher.Client
	URL     string
	APIKey  string
	Types   []string
	PerPage int
}

func (s *VAFacilities) Name() string { return VAFacilitiesName }

// vaService is listed either as {"name": ...} or as a bare string.
type vaService struct {
	Name string
}

func (v *vaService) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &v.Name)
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	v.Name = obj.Name
	return nil
}

type vaFacility struct {
	ID         string `json:"id"`
	Attributes struct {
		Name    string `json:"name"`
		Website string `json:"website"`
		Address struct {
			Physical struct {
				Address1 string `json:"address_1"`
				Address2 string `json:"address_2"`
				City     string `json:"city"`
				State    string `json:"state"`
				Zip      string `json:"zip"`
			} `json:"physical"`
		} `json:"address"`
		Phone struct {
			Main string `json:"main"`
		} `json:"phone"`
		Services struct {
			Health []vaService `json:"health"`
		} `json:"services"`
	} `json:"attributes"`
}

type vaPage struct {
	Data []vaFacility `json:"data"`
	Meta struct {
		Pagination struct {
			TotalPages int `json:"totalPages"`
		} `json:"pagination"`
	} `json:"meta"`
}

// Extract pages through every facility type. A type that fails is logged
// and skipped; the others still contribute.
func (s *VAFacilities) Extract(ctx context.Context) ([]map[string]any, error) {
	log := zap.L().With(zap.String("component", "extract"), zap.String("source", s.Name()))
	if s.APIKey == "" {
		log.Warn("va facilities api key not set, skipping source")
		return nil, nil
	}

	types := s.Types
	if len(types) == 0 {
		types = DefaultFacilityTypes
	}
	title := newTitler()

	var out []map[string]any
	for _, ftype := range types {
		rows, err := s.fetchType(ctx, ftype, title)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(err, "va_facilities: interrupted")
			}
			log.Warn("facility type failed", zap.String("type", ftype), zap.Error(err))
		}
		log.Info("fetched facilities", zap.String("type", ftype), zap.Int("records", len(rows)))
		out = append(out, rows...)
	}
	return out, nil
}

// fetchType returns the rows gathered so far along with any error.
func (s *VAFacilities) fetchType(ctx context.Context, ftype string, title *titler) ([]map[string]any, error) {
	perPage := s.PerPage
	if perPage <= 0 {
		perPage = 200
	}
	var rows []map[string]any
	for page := 1; ; page++ {
		params := map[string]any{"type": ftype, "page": page, "per_page": perPage}
		var resp vaPage
		if err := s.Client.RequestJSON(ctx, http.MethodGet, s.URL, params, true, &resp); err != nil {
			return rows, eris.Wrapf(err, "va_facilities: %s page %d", ftype, page)
		}
		if len(resp.Data) == 0 {
			return rows, nil
		}
		for i := range resp.Data {
			rows = append(rows, transformFacility(&resp.Data[i], ftype, title))
		}
		if page >= resp.Meta.Pagination.TotalPages {
			return rows, nil
		}
	}
}

func transformFacility(f *vaFacility, ftype string, title *titler) map[string]any {
	a := &f.Attributes
	addr := &a.Address.Physical

	var services []string
	for _, svc := range a.Services.Health {
		if svc.Name != "" {
			services = append(services, svc.Name)
		}
	}

	return map[string]any{
		"org_name":              nonEmpty(a.Name),
		"street_address":        nonEmpty(addr.Address1),
		"street_address_2":      nonEmpty(addr.Address2),
		"city":                  nonEmpty(title.String(addr.City)),
		"state":                 nonEmpty(strings.ToUpper(addr.State)),
		"zip_code":              nonEmpty(addr.Zip),
		"country":               "US",
		"phone":                 nonEmpty(a.Phone.Main),
		"website":               nonEmpty(a.Website),
		"services_offered":      nonEmpty(strings.Join(services, "; ")),
		"org_type":              "VA Facility",
		"va_accredited":         "Yes",
		"accreditation_details": "VA " + title.String(strings.ReplaceAll(ftype, "_", " ")),
	}
}
