package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"folio/api/internal/store"
)

const idxVersions = "folio_versions"

// Meili implements Engine via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *slog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the versions index.
// An unreachable server is not an error: the client reports unhealthy until
// the background probe sees it recover.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxVersions,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", "index", idxVersions, "error", err)
	}

	index := m.client.Index(idxVersions)
	filterable := []interface{}{"documentId", "changeType", "author"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", "index", idxVersions, "error", err)
	}
	searchable := []string{"title", "summary", "text"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", "index", idxVersions, "error", err)
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
				m.logger.Info("meilisearch recovered, reconfiguring index")
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

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}
	request := &meili.SearchRequest{
		Limit:                 limit,
		Offset:                int64(max(q.Offset, 0)),
		AttributesToHighlight: []string{"title", "summary", "text"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if filters := meiliFilters(q); len(filters) > 0 {
		request.Filter = filters
	}

	resp, err := m.client.Index(idxVersions).Search(q.Text, request)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit, q.Text))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func meiliFilters(q Query) []string {
	var filters []string
	if q.DocumentID != "" {
		filters = append(filters, fmt.Sprintf("documentId = %q", q.DocumentID))
	}
	if q.ChangeType != "" {
		filters = append(filters, fmt.Sprintf("changeType = %q", string(q.ChangeType)))
	}
	return filters
}

func hitToResult(hit meili.Hit, query string) Result {
	r := Result{
		VersionID:  decodeString(hit, "id"),
		DocumentID: decodeString(hit, "documentId"),
		Title:      decodeString(hit, "title"),
		ChangeType: store.ChangeType(decodeString(hit, "changeType")),
		Author:     decodeString(hit, "author"),
	}
	if raw, ok := hit["sequenceNumber"]; ok {
		_ = json.Unmarshal(raw, &r.SequenceNumber)
	}
	if raw, ok := hit["createdAt"]; ok {
		var millis int64
		if err := json.Unmarshal(raw, &millis); err == nil && millis > 0 {
			r.CreatedAt = time.UnixMilli(millis).UTC()
		}
	}

	// Meilisearch highlights the whole attribute; cut it down to a snippet
	// around the first mark, falling back to our own highlighter.
	formatted := firstNonBlank(decodeFormattedString(hit, "text"), decodeFormattedString(hit, "summary"))
	if strings.Contains(formatted, "<mark>") {
		r.Snippet = cropAroundMark(formatted)
	} else {
		r.Snippet = highlight(firstNonBlank(decodeString(hit, "text"), decodeString(hit, "summary")), query)
	}
	return r
}

func cropAroundMark(formatted string) string {
	words := strings.Fields(formatted)
	start := 0
	for i, word := range words {
		if strings.Contains(word, "<mark>") {
			start = max(i-snippetWords/3, 0)
			break
		}
	}
	end := min(start+snippetWords, len(words))
	return strings.Join(words[start:end], " ")
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// IndexVersions adds or updates versions in the search index.
func (m *Meili) IndexVersions(records []VersionRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxVersions).AddDocuments(records, nil)
	return err
}
