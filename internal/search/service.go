package search

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"terravest/api/internal/metrics"
	"terravest/api/internal/store"
)

type CompanyStore interface {
	ListCompanies(ctx context.Context) ([]store.Company, error)
	ListCompaniesByIDs(ctx context.Context, ids []string) ([]store.Company, error)
	SearchCompanies(ctx context.Context, search store.CompanySearch) ([]store.Company, error)
}

// Service tries the engine first and falls back to the store.
type Service struct {
	engine Engine
	store  CompanyStore
	logger zerolog.Logger
}

// NewService creates the facade. engine may be nil when Meilisearch is not
// configured.
func NewService(engine Engine, companies CompanyStore, logger zerolog.Logger) *Service {
	return &Service{engine: engine, store: companies, logger: logger}
}

func (s *Service) Search(ctx context.Context, q Query) ([]store.Company, error) {
	if s.engine != nil && s.engine.Healthy() {
		ids, err := s.engine.Search(ctx, q)
		if err == nil {
			companies, err := s.store.ListCompaniesByIDs(ctx, ids)
			if err != nil {
				return nil, fmt.Errorf("load matched companies: %w", err)
			}
			metrics.ObserveSearch("meilisearch")
			return orderByIDs(companies, ids), nil
		}
		s.logger.Warn().Err(err).Msg("meilisearch failed, falling back to postgres")
	}

	companies, err := s.store.SearchCompanies(ctx, q.StoreSearch())
	if err != nil {
		return nil, err
	}
	metrics.ObserveSearch("postgres")
	return companies, nil
}

// Reindex pushes every company into the engine.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if s.engine == nil || !s.engine.Healthy() {
		return 0, nil
	}
	companies, err := s.store.ListCompanies(ctx)
	if err != nil {
		return 0, fmt.Errorf("list companies for index: %w", err)
	}
	records := make([]CompanyRecord, 0, len(companies))
	for _, c := range companies {
		records = append(records, CompanyRecord{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			Mission:     c.Mission,
			Sector:      c.Sector,
			Country:     c.Country,
			Score:       c.Score,
		})
	}
	if err := s.engine.IndexCompanies(ctx, records); err != nil {
		return 0, fmt.Errorf("index companies: %w", err)
	}
	return len(records), nil
}

func orderByIDs(companies []store.Company, ids []string) []store.Company {
	byID := make(map[string]store.Company, len(companies))
	for _, c := range companies {
		byID[c.ID] = c
	}
	out := make([]store.Company, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}
