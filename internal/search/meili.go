package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
)

const idxCompanies = "terravest_companies"

// Meili implements Engine via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  zerolog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates the client and configures the company index. An
// unreachable server is tolerated; a background loop keeps probing it.
func NewMeili(url, apiKey string, logger zerolog.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger.With().Str("component", "meilisearch").Logger(),
		done:   make(chan struct{}),
	}
	if _, err := m.client.Health(); err != nil {
		m.logger.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}
	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxCompanies, PrimaryKey: "id"}); err != nil {
		m.logger.Debug().Err(err).Msg("create index (may already exist)")
	}
	index := m.client.Index(idxCompanies)
	filterable := []interface{}{"sector", "score", "country"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn().Err(err).Msg("update filterable attributes")
	}
	searchable := []string{"name", "sector", "mission", "description"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn().Err(err).Msg("update searchable attributes")
	}
	sortable := []string{"score", "name"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		m.logger.Warn().Err(err).Msg("update sortable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(ctx context.Context, q Query) ([]string, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 50
	}
	req := &meili.SearchRequest{
		Limit:                limit,
		AttributesToRetrieve: []string{"id"},
	}
	if filters := buildFilters(q); len(filters) > 0 {
		req.Filter = filters
	}
	if strings.TrimSpace(q.Text) == "" {
		req.Sort = []string{"score:desc", "name:asc"}
	}
	resp, err := m.client.Index(idxCompanies).SearchWithContext(ctx, q.Text, req)
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}
	ids := make([]string, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		if id := decodeString(hit, "id"); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func buildFilters(q Query) []string {
	var filters []string
	if sector := strings.TrimSpace(q.Sector); sector != "" {
		filters = append(filters, fmt.Sprintf("sector = %q", sector))
	}
	if q.MinScore > 0 {
		filters = append(filters, fmt.Sprintf("score >= %g", q.MinScore))
	}
	return filters
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// IndexCompanies adds or replaces company documents.
func (m *Meili) IndexCompanies(ctx context.Context, records []CompanyRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxCompanies).AddDocumentsWithContext(ctx, records, nil)
	return err
}
