package sources

import (
	"context"
	"encoding/xml"
	"net/http"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/org-directory/internal/fetcher"
)

// NRDName is the source name of the National Resource Directory.
const NRDName = "nrd"

const maxServicesLen = 500

// NRD collects resources from the National Resource Directory. The site is
// a single-page app, so records come from its landing-items JSON endpoint
// and from the resource URLs listed in its sitemap. Records carry no EIN.
type NRD struct {
	Client  *fetcher.Client
	BaseURL string
}

func (s *NRD) Name() string { return NRDName }

type nrdResource struct {
	Title       string `json:"title"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Website     string `json:"website"`
	Link        string `json:"link"`
	Description string `json:"description"`
	Summary     string `json:"summary"`
	Phone       string `json:"phone"`
	PhoneNumber string `json:"phoneNumber"`
}

type nrdLanding struct {
	Resources []nrdResource `json:"resources"`
	Folders   []struct {
		Name      string        `json:"name"`
		Resources []nrdResource `json:"resources"`
	} `json:"folders"`
}

type nrdURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

var nrdDetailPath = regexp.MustCompile(`/resource/detail/(\d+)/([^/?#]+)`)

// Extract gathers both feeds. Either one failing is logged and the other
// still contributes.
func (s *NRD) Extract(ctx context.Context) ([]map[string]any, error) {
	log := zap.L().With(zap.String("component", "extract"), zap.String("source", s.Name()))
	base := strings.TrimSuffix(s.BaseURL, "/")
	title := newTitler()

	landing, err := s.landing(ctx, base+"/landingItems")
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(err, "nrd: interrupted")
		}
		log.Warn("landing items failed", zap.Error(err))
	}
	log.Info("fetched landing items", zap.Int("records", len(landing)))

	mapped, err := s.sitemap(ctx, base+"/sitemap.xml", title)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(err, "nrd: interrupted")
		}
		log.Warn("sitemap failed", zap.Error(err))
	}
	log.Info("parsed sitemap resources", zap.Int("records", len(mapped)))

	return append(landing, mapped...), nil
}

func (s *NRD) landing(ctx context.Context, url string) ([]map[string]any, error) {
	var resp nrdLanding
	if err := s.Client.RequestJSON(ctx, http.MethodGet, url, nil, true, &resp); err != nil {
		return nil, eris.Wrap(err, "nrd: landing items")
	}
	var out []map[string]any
	add := func(r *nrdResource, category string) {
		if row := transformNRDResource(r, category); row != nil {
			out = append(out, row)
		}
	}
	for i := range resp.Resources {
		add(&resp.Resources[i], "")
	}
	for _, f := range resp.Folders {
		for i := range f.Resources {
			add(&f.Resources[i], f.Name)
		}
	}
	return out, nil
}

func transformNRDResource(r *nrdResource, category string) map[string]any {
	name := firstNonEmpty(r.Title, r.Name)
	if name == "" {
		return nil
	}
	return map[string]any{
		"org_name":           name,
		"website":            nonEmpty(firstNonEmpty(r.URL, r.Website, r.Link)),
		"phone":              nonEmpty(firstNonEmpty(r.Phone, r.PhoneNumber)),
		"services_offered":   nonEmpty(truncateRunes(stripTags(firstNonEmpty(r.Description, r.Summary)), maxServicesLen)),
		"service_categories": nonEmpty(category),
	}
}

// sitemap turns every resource detail URL into a record named after the
// URL slug. Repeated URLs are listed once.
func (s *NRD) sitemap(ctx context.Context, url string, title *titler) ([]map[string]any, error) {
	resp, err := s.Client.Request(ctx, http.MethodGet, url, nil, true)
	if err != nil {
		return nil, eris.Wrap(err, "nrd: sitemap")
	}
	var set nrdURLSet
	if err := xml.Unmarshal(resp.Body, &set); err != nil {
		return nil, eris.Wrap(err, "nrd: parse sitemap")
	}

	seen := make(map[string]bool, len(set.URLs))
	var out []map[string]any
	for _, u := range set.URLs {
		loc := strings.TrimSpace(u.Loc)
		m := nrdDetailPath.FindStringSubmatch(loc)
		if m == nil || seen[loc] {
			continue
		}
		seen[loc] = true
		name := slugName(m[2], title)
		if name == "" {
			continue
		}
		out = append(out, map[string]any{
			"org_name":           name,
			"website":            loc,
			"service_categories": "NRD Resource",
		})
	}
	return out, nil
}

// slugName renders a URL slug as a name. Short alphabetic words are taken
// as acronyms: "vfw-national-home" becomes "VFW National Home".
func slugName(slug string, title *titler) string {
	words := strings.Fields(strings.ReplaceAll(slug, "-", " "))
	for i, w := range words {
		if utf8.RuneCountInString(w) <= 3 && isAlpha(w) {
			words[i] = strings.ToUpper(w)
		} else {
			words[i] = title.String(w)
		}
	}
	return strings.Join(words, " ")
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
