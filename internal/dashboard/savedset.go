package dashboard

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// SavedSet is the shared set of saved company ids.
type SavedSet struct {
	fetcher Doer

	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewSavedSet(fetcher Doer) *SavedSet {
	return &SavedSet{fetcher: fetcher, ids: make(map[string]struct{})}
}

func (s *SavedSet) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *SavedSet) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

func (s *SavedSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

// IDs returns the saved ids in sorted order.
func (s *SavedSet) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Refresh replaces the set with the server's watchlist.
func (s *SavedSet) Refresh(ctx context.Context) error {
	entries, err := fetchWatchlist(ctx, s.fetcher)
	if err != nil {
		return err
	}
	ids := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		ids[entry.CompanyID] = struct{}{}
	}
	s.mu.Lock()
	s.ids = ids
	s.mu.Unlock()
	return nil
}

func fetchWatchlist(ctx context.Context, fetcher Doer) ([]WatchlistEntry, error) {
	env := fetcher.Do(ctx, watchlistPath, RequestOptions{})
	if err := envelopeError(env); err != nil {
		return nil, err
	}
	kind, items := ParseList(env.Data)
	if kind == ShapeUnknown {
		return nil, fmt.Errorf("watchlist: %s", formatErrorMessage)
	}
	entries, _ := decodeItems[WatchlistEntry](items)
	return entries, nil
}

// WatchlistView holds the entries rendered on the watchlist page.
type WatchlistView struct {
	fetcher Doer

	mu      sync.Mutex
	entries []WatchlistEntry
}

func NewWatchlistView(fetcher Doer) *WatchlistView {
	return &WatchlistView{fetcher: fetcher, entries: []WatchlistEntry{}}
}

func (w *WatchlistView) Refresh(ctx context.Context) error {
	entries, err := fetchWatchlist(ctx, w.fetcher)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.entries = entries
	w.mu.Unlock()
	return nil
}

func (w *WatchlistView) Entries() []WatchlistEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]WatchlistEntry(nil), w.entries...)
}
