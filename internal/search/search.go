// Package search finds companies through Meilisearch, falling back to
// Postgres substring matching when the index is unavailable.
package search

import (
	"context"

	"terravest/api/internal/store"
)

// Query describes a company search.
type Query struct {
	Text     string
	Sector   string
	MinScore float64
	Limit    int
}

// StoreSearch is the equivalent Postgres fallback query.
func (q Query) StoreSearch() store.CompanySearch {
	return store.CompanySearch{Text: q.Text, Sector: q.Sector, MinScore: q.MinScore, Limit: q.Limit}
}

// CompanyRecord is the document indexed per company.
type CompanyRecord struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Mission     string  `json:"mission"`
	Sector      string  `json:"sector"`
	Country     string  `json:"country"`
	Score       float64 `json:"score"`
}

// Engine is a full-text index over companies. Search returns matching
// company ids, best match first.
type Engine interface {
	Healthy() bool
	Search(ctx context.Context, q Query) ([]string, error)
	IndexCompanies(ctx context.Context, records []CompanyRecord) error
}
