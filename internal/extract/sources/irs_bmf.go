package sources

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/org-directory/internal/fetcher"
)

// IRSBMFName is the source name of the exempt organization master file.
const IRSBMFName = "irs_bmf"

var subsectionTypes = map[string]string{
	"03": "501(c)(3)",
	"04": "501(c)(4)",
	"19": "501(c)(19)",
	"23": "501(c)(23)",
}

var exemptStatuses = map[string]string{
	"01": "Unconditional Exemption",
	"02": "Conditional Exemption",
	"12": "Trust described in section 4947(a)(2)",
	"25": "Organization terminated",
}

// IRSBMF extracts veteran organizations from the IRS Exempt Organizations
// Business Master File. It is the base source: every other keyed source is
// joined onto its EINs.
type IRSBMF struct {
	Client  *fetcher.Client
	BaseURL string
	Files   []string
	// RawDir holds downloaded files. A file already present is reused.
	RawDir string
}

func (s *IRSBMF) Name() string { return IRSBMFName }

// Extract downloads any missing region files, then streams each one
// through the veteran filter. Rows are deduplicated by EIN across files,
// first occurrence wins.
func (s *IRSBMF) Extract(ctx context.Context) ([]map[string]any, error) {
	log := zap.L().With(zap.String("component", "extract"), zap.String("source", s.Name()))
	title := newTitler()

	seen := make(map[string]struct{})
	var out []map[string]any
	total := 0

	for _, file := range s.Files {
		path, err := s.ensure(ctx, file)
		if err != nil {
			return nil, err
		}

		n, err := s.scan(ctx, path, func(row map[string]string) {
			ein := strings.TrimSpace(row["ein"])
			if !IsVeteranOrg(row["ntee_cd"], row["subsection"], row["name"]) {
				return
			}
			if _, dup := seen[ein]; dup {
				return
			}
			seen[ein] = struct{}{}
			out = append(out, transformBMF(row, title))
		})
		if err != nil {
			return nil, err
		}
		total += n
		log.Info("loaded bmf file", zap.String("file", file), zap.Int("rows", n))
	}

	log.Info("veteran filter applied", zap.Int("total", total), zap.Int("matched", len(out)))
	return out, nil
}

func (s *IRSBMF) ensure(ctx context.Context, file string) (string, error) {
	dest := filepath.Join(s.RawDir, file)
	url := strings.TrimSuffix(s.BaseURL, "/") + "/" + file
	if err := ensureDownload(ctx, s.Client, url, dest); err != nil {
		return "", eris.Wrapf(err, "irs_bmf: %s", file)
	}
	return dest, nil
}

// scan streams a latin-1 BMF file and calls fn for every data row. Header
// names are lowercased by the CSV reader, so NTEE_CD arrives as ntee_cd.
func (s *IRSBMF) scan(ctx context.Context, path string, fn func(map[string]string)) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, eris.Wrapf(err, "irs_bmf: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	rows, errs := fetcher.StreamCSVRecords(ctx, latin1(f), fetcher.CSVOptions{LazyQuotes: true})
	n := 0
	for row := range rows {
		n++
		fn(row)
	}
	if err := <-errs; err != nil {
		return n, eris.Wrapf(err, "irs_bmf: parse %s", filepath.Base(path))
	}
	return n, nil
}

func transformBMF(row map[string]string, title *titler) map[string]any {
	subsection := strings.TrimSpace(row["subsection"])
	var orgType any
	if t, ok := subsectionTypes[subsection]; ok {
		orgType = t
	} else if subsection != "" {
		orgType = "501(c)(" + subsection + ")"
	}

	var status any
	if s, ok := exemptStatuses[strings.TrimSpace(row["status"])]; ok {
		status = s
	}

	zip := strings.TrimSpace(row["zip"])
	if len(zip) > 10 {
		zip = zip[:10]
	}

	return map[string]any{
		"org_name":               nonEmpty(title.String(row["name"])),
		"org_name_alt":           nonEmpty(title.String(row["sort_name"])),
		"ein":                    nonEmpty(row["ein"]),
		"street_address":         nonEmpty(title.String(row["street"])),
		"city":                   nonEmpty(title.String(row["city"])),
		"state":                  nonEmpty(strings.ToUpper(row["state"])),
		"zip_code":               nonEmpty(zip),
		"country":                "US",
		"ntee_code":              nonEmpty(row["ntee_cd"]),
		"irs_subsection":         nonEmpty(subsection),
		"irs_filing_requirement": nonEmpty(row["filing_req_cd"]),
		"ruling_date":            nonEmpty(row["ruling"]),
		"fiscal_year_end":        nonEmpty(row["acct_pd"]),
		"total_assets":           nonEmpty(row["asset_amt"]),
		"total_revenue":          nonEmpty(row["revenue_amt"]),
		"org_type":               orgType,
		"tax_exempt_status":      status,
	}
}
