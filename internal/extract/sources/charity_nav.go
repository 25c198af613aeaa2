package sources

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/org-directory/internal/checkpoint"
	"github.com/sells-group/org-directory/internal/extract"
	"github.com/sells-group/org-directory/internal/fetcher"
	"github.com/sells-group/org-directory/internal/resilience"
)

// CharityNavName is the source name of the Charity Navigator GraphQL API.
const CharityNavName = "charity_nav"

// CharityNavKeyHeader carries the API key.
const CharityNavKeyHeader = "Charity-Navigator-Api-Key"

const charityNavQuery = `query GetOrgByEIN($ein: String!) {
  organizationByEIN(ein: $ein) {
    name
    ein
    mission
    websiteURL
    currentRating { score rating }
    advisories { severity }
    socialMedia {
      facebookProfileUrl
      twitterHandle
      linkedinUrl
      instagramHandle
      youtubeUrl
    }
  }
}`

// CharityNav enriches EINs with ratings, mission and social profiles. The
// client must be built with the API key header; without a key the source
// is skipped.
type CharityNav struct {
	Client   *fetcher.Client
	URL      string
	APIKey   string
	Store    *checkpoint.Store
	Interval int
	EINs     []string
}

func (s *CharityNav) Name() string { return CharityNavName }

type cnOrg struct {
	Mission       *string `json:"mission"`
	WebsiteURL    *string `json:"websiteURL"`
	CurrentRating *struct {
		Score  *float64 `json:"score"`
		Rating *float64 `json:"rating"`
	} `json:"currentRating"`
	Advisories []struct {
		Severity string `json:"severity"`
	} `json:"advisories"`
	SocialMedia *struct {
		Facebook  *string `json:"facebookProfileUrl"`
		Twitter   string  `json:"twitterHandle"`
		LinkedIn  *string `json:"linkedinUrl"`
		Instagram string  `json:"instagramHandle"`
		YouTube   *string `json:"youtubeUrl"`
	} `json:"socialMedia"`
}

type cnResponse struct {
	Data struct {
		Org *cnOrg `json:"organizationByEIN"`
	} `json:"data"`
}

func (s *CharityNav) Extract(ctx context.Context) ([]map[string]any, error) {
	if s.APIKey == "" {
		zap.L().Warn("charity navigator api key not set, skipping source", zap.String("source", s.Name()))
		return nil, nil
	}
	loop := &extract.KeyedLoop[map[string]any]{Source: s.Name(), Store: s.Store, Interval: s.Interval}
	rows, _, err := loop.Run(ctx, s.EINs, s.fetch)
	if err != nil {
		return nil, err
	}
	return compact(rows), nil
}

func (s *CharityNav) fetch(ctx context.Context, ein string) resilience.Result[map[string]any] {
	params := map[string]any{
		"query":     charityNavQuery,
		"variables": map[string]any{"ein": ein},
	}
	var resp cnResponse
	if err := s.Client.RequestJSON(ctx, http.MethodPost, s.URL, params, true, &resp); err != nil {
		return resilience.Fail[map[string]any](err)
	}
	if resp.Data.Org == nil {
		return resilience.Ok[map[string]any](nil)
	}
	return resilience.Ok(transformCharityNav(ein, resp.Data.Org))
}

func transformCharityNav(ein string, org *cnOrg) map[string]any {
	row := map[string]any{
		"ein":               ein,
		"mission_statement": str(org.Mission),
		"website":           str(org.WebsiteURL),
	}
	if r := org.CurrentRating; r != nil {
		row["charity_navigator_rating"] = ptr(r.Rating)
		row["charity_navigator_score"] = ptr(r.Score)
	}
	if len(org.Advisories) > 0 {
		row["cn_alert_level"] = nonEmpty(org.Advisories[0].Severity)
	}
	if sm := org.SocialMedia; sm != nil {
		row["facebook_url"] = str(sm.Facebook)
		row["linkedin_url"] = str(sm.LinkedIn)
		row["youtube_url"] = str(sm.YouTube)
		if sm.Twitter != "" {
			row["twitter_url"] = "https://twitter.com/" + sm.Twitter
		}
		if sm.Instagram != "" {
			row["instagram_url"] = "https://instagram.com/" + sm.Instagram
		}
	}
	return row
}

func str(s *string) any {
	if s == nil {
		return nil
	}
	return nonEmpty(*s)
}
