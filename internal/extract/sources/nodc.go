package sources

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/org-directory/internal/fetcher"
	"github.com/sells-group/org-directory/internal/merge"
)

// NODCName is the source name of the Nonprofit Open Data Collective files.
const NODCName = "nodc"

// NODC enriches EINs from the Nonprofit Open Data Collective bulk CSV
// files with mission statements, program descriptions, headcounts and
// financials. URLs are tried in order and the first file with matching
// rows is used.
type NODC struct {
	Client *fetcher.Client
	URLs   []string
	RawDir string
	EINs   []string
}

func (s *NODC) Name() string { return NODCName }

// nodcEINColumns are the header names that carry the EIN, by preference.
var nodcEINColumns = []string{"ein", "taxpayer_id", "org_ein", "fein"}

// nodcColumns maps file headers onto canonical names. When several headers
// map to one name, the first present wins.
var nodcColumns = []struct{ from, to string }{
	{"org_name", "org_name"},
	{"name", "org_name"},
	{"mission", "mission_statement"},
	{"mission_description", "mission_statement"},
	{"mission_desc", "mission_statement"},
	{"program_service_desc", "services_offered"},
	{"program_description", "services_offered"},
	{"num_employees", "num_employees"},
	{"employeecnt", "num_employees"},
	{"num_volunteers", "num_volunteers"},
	{"volunteercnt", "num_volunteers"},
	{"total_revenue", "total_revenue"},
	{"totrevenue", "total_revenue"},
	{"total_expenses", "total_expenses"},
	{"totfuncexpns", "total_expenses"},
	{"total_assets", "total_assets"},
	{"totassetsend", "total_assets"},
	{"website", "website"},
	{"weburl", "website"},
}

// Extract returns the rows of the first file that has any for the
// requested EINs. A file that cannot be downloaded or parsed is logged and
// the next one tried.
func (s *NODC) Extract(ctx context.Context) ([]map[string]any, error) {
	log := zap.L().With(zap.String("component", "extract"), zap.String("source", s.Name()))

	want := make(map[string]struct{}, len(s.EINs))
	for _, e := range s.EINs {
		if k := merge.EINKey(e); k != "" {
			want[k] = struct{}{}
		}
	}
	if len(want) == 0 {
		log.Info("no eins to look up, skipping source")
		return nil, nil
	}

	for _, u := range s.URLs {
		dest := filepath.Join(s.RawDir, "nodc_"+path.Base(u))
		if err := ensureDownload(ctx, s.Client, u, dest); err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(err, "nodc: interrupted")
			}
			log.Warn("nodc file unavailable", zap.String("url", u), zap.Error(err))
			continue
		}
		rows, err := s.scan(ctx, dest, want)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(err, "nodc: interrupted")
			}
			log.Warn("nodc file unreadable", zap.String("path", dest), zap.Error(err))
			continue
		}
		log.Info("filtered nodc file", zap.String("url", u), zap.Int("matched", len(rows)))
		if len(rows) > 0 {
			return rows, nil
		}
	}
	log.Info("no nodc file yielded rows")
	return nil, nil
}

func (s *NODC) scan(ctx context.Context, file string, want map[string]struct{}) ([]map[string]any, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, eris.Wrapf(err, "nodc: open %s", file)
	}
	defer f.Close() //nolint:errcheck

	records, errs := fetcher.StreamCSVRecords(ctx, f, fetcher.CSVOptions{LazyQuotes: true})
	var out []map[string]any
	einCol := ""
	for rec := range records {
		if einCol == "" {
			for _, c := range nodcEINColumns {
				if _, ok := rec[c]; ok {
					einCol = c
					break
				}
			}
			if einCol == "" {
				// Drain so the reader goroutine can exit.
				for range records {
				}
				<-errs
				return nil, eris.Errorf("nodc: %s has no ein column", filepath.Base(file))
			}
		}
		ein := strings.TrimSpace(rec[einCol])
		if _, ok := want[merge.EINKey(ein)]; !ok {
			continue
		}
		out = append(out, transformNODC(ein, rec))
	}
	if err := <-errs; err != nil {
		return nil, eris.Wrapf(err, "nodc: parse %s", filepath.Base(file))
	}
	return out, nil
}

func transformNODC(ein string, rec map[string]string) map[string]any {
	row := map[string]any{"ein": ein}
	for _, c := range nodcColumns {
		if _, set := row[c.to]; set {
			continue
		}
		if v, ok := rec[c.from]; ok {
			if s := strings.TrimSpace(v); s != "" {
				row[c.to] = s
			}
		}
	}
	return row
}
