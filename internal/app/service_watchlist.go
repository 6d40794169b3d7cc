package app

import (
	"context"
	"strings"

	"terravest/api/internal/cache"
	"terravest/api/internal/metrics"
	"terravest/api/internal/store"
	"terravest/api/internal/util"
)

const (
	WatchlistAdd    = "add"
	WatchlistRemove = "remove"
)

type WatchlistResult struct {
	Entry        *WatchlistEntry
	AlreadySaved bool
	Removed      bool
}

// AddToWatchlist saves companyID for the user. Adding an already-saved
// company succeeds without creating a second entry.
func (s *Service) AddToWatchlist(ctx context.Context, userID, companyID string) (result WatchlistResult, err error) {
	defer func() { metrics.ObserveWatchlistWrite(WatchlistAdd, err) }()

	companyID = strings.TrimSpace(companyID)
	if companyID == "" {
		return WatchlistResult{}, errValidation("Company ID is required")
	}
	company, exists, err := s.lookupCompany(ctx, companyID)
	if err != nil {
		return WatchlistResult{}, errBackend("WATCHLIST_FAILED", "Failed to verify company", err)
	}
	if !exists {
		return WatchlistResult{}, errNotFound("Company does not exist")
	}

	s.invalidate(ctx, cache.DashboardProfileKey(userID))

	existing, err := s.store.FindSavedCompany(ctx, userID, companyID)
	if err != nil {
		return WatchlistResult{}, errBackend("WATCHLIST_FAILED", "Failed to check watchlist", err)
	}
	if existing != nil {
		entry := s.watchlistEntry(ctx, *existing, company)
		return WatchlistResult{Entry: &entry, AlreadySaved: true}, nil
	}

	saved, err := s.store.InsertSavedCompany(ctx, store.SavedCompany{
		ID:        util.NewID(""),
		UserID:    userID,
		CompanyID: companyID,
	})
	if err != nil {
		return WatchlistResult{}, errBackend("WATCHLIST_FAILED", "Failed to add company to watchlist", err)
	}
	entry := s.watchlistEntry(ctx, saved, company)
	return WatchlistResult{Entry: &entry}, nil
}

func (s *Service) RemoveFromWatchlist(ctx context.Context, userID, companyID string) (result WatchlistResult, err error) {
	defer func() { metrics.ObserveWatchlistWrite(WatchlistRemove, err) }()

	companyID = strings.TrimSpace(companyID)
	if companyID == "" {
		return WatchlistResult{}, errValidation("Company ID is required")
	}
	s.invalidate(ctx, cache.DashboardProfileKey(userID))

	removed, err := s.store.DeleteSavedCompany(ctx, userID, companyID)
	if err != nil {
		return WatchlistResult{}, errBackend("WATCHLIST_FAILED", "Failed to remove company from watchlist", err)
	}
	return WatchlistResult{Removed: removed}, nil
}

func (s *Service) ListWatchlist(ctx context.Context, userID string) ([]WatchlistEntry, error) {
	rows, err := s.store.ListSavedCompanies(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries := make([]WatchlistEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, s.watchlistEntry(ctx, row.SavedCompany, row.Company))
	}
	return entries, nil
}

func (s *Service) lookupCompany(ctx context.Context, companyID string) (store.Company, bool, error) {
	exists, err := s.store.CompanyExists(ctx, companyID)
	if err != nil || !exists {
		return store.Company{}, false, err
	}
	company, err := s.store.GetCompany(ctx, companyID)
	if err != nil {
		return store.Company{}, false, err
	}
	return company, true, nil
}

func (s *Service) watchlistEntry(ctx context.Context, saved store.SavedCompany, company store.Company) WatchlistEntry {
	return WatchlistEntry{
		ID:        saved.ID,
		CompanyID: saved.CompanyID,
		CreatedAt: saved.CreatedAt,
		Company:   s.companyView(ctx, company, true),
	}
}
