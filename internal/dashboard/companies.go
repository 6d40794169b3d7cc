package dashboard

import (
	"context"
	"net/http"
	"sort"
	"strings"
)

type CompanyFilter struct {
	Query     string
	MinScore  float64
	Sector    string
	SavedOnly bool
}

type Companies struct {
	*listLoader[Company]
}

func NewCompanies(deps StoreDeps) *Companies {
	return &Companies{listLoader: newListLoader[Company]("companies", "/api/companies", deps)}
}

// Filter returns the matching subset of the loaded list without touching
// the network. The stored list is not modified.
func (c *Companies) Filter(filter CompanyFilter) []Company {
	query := strings.ToLower(strings.TrimSpace(filter.Query))
	sector := strings.TrimSpace(filter.Sector)
	out := make([]Company, 0)
	for _, company := range c.State().Data {
		if company.Score < filter.MinScore {
			continue
		}
		if sector != "" && !strings.EqualFold(company.Sector, sector) {
			continue
		}
		if filter.SavedOnly && !company.Saved {
			continue
		}
		if query != "" && !companyMatches(company, query) {
			continue
		}
		out = append(out, company)
	}
	return out
}

func companyMatches(company Company, query string) bool {
	for _, field := range []string{company.Name, company.Description, company.Mission, company.Sector} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

// Sectors lists the distinct non-empty sectors, sorted.
func (c *Companies) Sectors() []string {
	seen := make(map[string]struct{})
	for _, company := range c.State().Data {
		if company.Sector != "" {
			seen[company.Sector] = struct{}{}
		}
	}
	sectors := make([]string, 0, len(seen))
	for sector := range seen {
		sectors = append(sectors, sector)
	}
	sort.Strings(sectors)
	return sectors
}

// TopByScore returns up to n companies, highest score first.
func (c *Companies) TopByScore(n int) []Company {
	companies := c.State().Data
	sort.SliceStable(companies, func(i, j int) bool {
		return companies[i].Score > companies[j].Score
	})
	if n >= 0 && len(companies) > n {
		companies = companies[:n]
	}
	return companies
}

func (c *Companies) SaveCompany(ctx context.Context, companyID string) error {
	return c.writeSaved(ctx, companyID, true)
}

func (c *Companies) UnsaveCompany(ctx context.Context, companyID string) error {
	return c.writeSaved(ctx, companyID, false)
}

func (c *Companies) writeSaved(ctx context.Context, companyID string, saved bool) error {
	action := "remove"
	if saved {
		action = "add"
	}
	env := c.deps.Fetcher.Do(ctx, watchlistPath, RequestOptions{
		Method: http.MethodPost,
		Body:   watchlistWrite{CompanyID: companyID, Action: action},
	})
	if err := envelopeError(env); err != nil {
		if env.Unauthorized() {
			c.deps.redirectToSignIn()
		} else {
			c.deps.Notifier.Notify(Notice{Level: NoticeError, Message: "Failed to update watchlist: " + env.Error})
		}
		return err
	}
	c.patch(func(company *Company) {
		if company.ID == companyID {
			company.Saved = saved
		}
	})
	return nil
}
