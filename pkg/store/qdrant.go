package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/harlee/ragpdf/internal/models"
)

// QdrantStore is a REST client to one Qdrant collection. The collection is
// created on first use with cosine distance; its dimension is immutable after
// that, so a provider/dimension change needs a new collection.
//
// Qdrant has no server-side GROUP BY, so the aggregation and delete paths are
// cursor-paginated full scans over the scroll endpoint.
type QdrantStore struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	pageSize   int
	client     *http.Client
}

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	PageSize   int
	Timeout    time.Duration
}

func NewQdrantStore(ctx context.Context, config QdrantConfig) (*QdrantStore, error) {
	if config.Collection == "" {
		config.Collection = "docs"
	}
	if config.PageSize == 0 {
		config.PageSize = 1000
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("%w: collection dimension must be positive", models.ErrInvalidArgument)
	}

	s := &QdrantStore{
		url:        config.URL,
		apiKey:     config.APIKey,
		collection: config.Collection,
		dimension:  config.Dimension,
		pageSize:   config.PageSize,
		client:     &http.Client{Timeout: config.Timeout},
	}

	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	status, err := s.do(ctx, http.MethodGet, s.collectionPath(""), nil, nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}
	if status != http.StatusNotFound {
		return fmt.Errorf("%w: checking collection %s: HTTP %d",
			models.ErrStoreUnavailable, s.collection, status)
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dimension,
			"distance": "Cosine",
		},
	}
	status, err = s.do(ctx, http.MethodPut, s.collectionPath(""), body, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("%w: creating collection %s: HTTP %d",
			models.ErrStoreUnavailable, s.collection, status)
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, ids []string, vectors [][]float32, payloads []models.Payload) error {
	if len(ids) != len(vectors) || len(ids) != len(payloads) {
		return fmt.Errorf("%w: ids, vectors and payloads must have equal length",
			models.ErrInvalidArgument)
	}

	// Validate the whole batch before writing anything: Qdrant has no
	// partial batch success, so one bad vector must not insert the rest.
	for i, vec := range vectors {
		if len(vec) != s.dimension {
			return fmt.Errorf("%w: vector %d has length %d, collection expects %d",
				models.ErrDimensionMismatch, i, len(vec), s.dimension)
		}
	}

	points := make([]map[string]any, len(ids))
	for i := range ids {
		points[i] = map[string]any{
			"id":      ids[i],
			"vector":  vectors[i],
			"payload": payloads[i],
		}
	}

	status, err := s.do(ctx, http.MethodPut,
		s.collectionPath("/points?wait=true"),
		map[string]any{"points": points}, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("%w: upsert failed: HTTP %d", models.ErrStoreUnavailable, status)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, vector []float32, topK int) (models.SearchResult, error) {
	if topK <= 0 {
		return models.SearchResult{}, fmt.Errorf("%w: top_k must be positive, got %d",
			models.ErrInvalidArgument, topK)
	}
	if len(vector) != s.dimension {
		return models.SearchResult{}, fmt.Errorf("%w: query vector has length %d, collection expects %d",
			models.ErrDimensionMismatch, len(vector), s.dimension)
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Payload models.Payload `json:"payload"`
		} `json:"result"`
	}
	status, err := s.do(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &resp)
	if err != nil {
		return models.SearchResult{}, err
	}
	if status >= 300 {
		return models.SearchResult{}, fmt.Errorf("%w: search failed: HTTP %d",
			models.ErrStoreUnavailable, status)
	}

	result := models.SearchResult{
		Contexts: make([]string, 0, len(resp.Result)),
		Sources:  []string{},
	}
	seen := make(map[string]bool)
	for _, r := range resp.Result {
		if r.Payload.Text == "" {
			continue
		}
		result.Contexts = append(result.Contexts, r.Payload.Text)
		if !seen[r.Payload.Source] {
			seen[r.Payload.Source] = true
			result.Sources = append(result.Sources, r.Payload.Source)
		}
	}
	return result, nil
}

func (s *QdrantStore) AggregateSources(ctx context.Context) (models.SourceAggregate, error) {
	agg := models.SourceAggregate{Sources: make(map[string]int)}

	var cursor json.RawMessage
	for {
		page, next, err := s.scroll(ctx, cursor, nil, true)
		if err != nil {
			return models.SourceAggregate{}, err
		}

		for _, p := range page {
			// Points without a source field are skipped, not counted.
			if p.Payload.Source == "" {
				continue
			}
			agg.Sources[p.Payload.Source]++
			agg.TotalChunks++
		}

		if next == nil {
			break
		}
		cursor = next
	}

	agg.TotalSources = len(agg.Sources)
	return agg, nil
}

func (s *QdrantStore) FetchBySource(ctx context.Context, sourceID string, limit int) ([]models.ChunkRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d",
			models.ErrInvalidArgument, limit)
	}

	filter := sourceFilter(sourceID)
	chunks := make([]models.ChunkRecord, 0, limit)

	var cursor json.RawMessage
	for len(chunks) < limit {
		page, next, err := s.scroll(ctx, cursor, filter, true)
		if err != nil {
			return nil, err
		}

		for _, p := range page {
			chunks = append(chunks, models.ChunkRecord{
				ID:     idToString(p.ID),
				Text:   p.Payload.Text,
				Source: p.Payload.Source,
			})
			if len(chunks) >= limit {
				break
			}
		}

		if next == nil {
			break
		}
		cursor = next
	}

	return chunks, nil
}

func (s *QdrantStore) DeleteBySource(ctx context.Context, sourceID string) (int, error) {
	filter := sourceFilter(sourceID)

	// Phase 1: collect every matching point id, payload and vectors excluded.
	var pointIDs []json.RawMessage
	var cursor json.RawMessage
	for {
		page, next, err := s.scroll(ctx, cursor, filter, false)
		if err != nil {
			return 0, err
		}
		for _, p := range page {
			pointIDs = append(pointIDs, p.ID)
		}
		if next == nil {
			break
		}
		cursor = next
	}

	// Deleting a source that has no points is a no-op success.
	if len(pointIDs) == 0 {
		return 0, nil
	}

	status, err := s.do(ctx, http.MethodPost,
		s.collectionPath("/points/delete?wait=true"),
		map[string]any{"points": pointIDs}, nil)
	if err != nil {
		return 0, err
	}
	if status >= 300 {
		return 0, fmt.Errorf("%w: delete failed: HTTP %d", models.ErrStoreUnavailable, status)
	}

	// Phase 3: verification re-scan. A non-zero remainder is logged as a
	// consistency anomaly, not escalated: the backend may apply deletes
	// asynchronously. The returned count is the ids submitted.
	remaining := 0
	cursor = nil
	for {
		page, next, err := s.scroll(ctx, cursor, filter, false)
		if err != nil {
			return 0, err
		}
		remaining += len(page)
		if next == nil {
			break
		}
		cursor = next
	}
	if remaining > 0 {
		log.Printf("store: %d points still present for source %q after deleting %d",
			remaining, sourceID, len(pointIDs))
	}

	return len(pointIDs), nil
}

func (s *QdrantStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

type scrollPoint struct {
	ID      json.RawMessage `json:"id"`
	Payload models.Payload  `json:"payload"`
}

// scroll fetches one bounded page of points. cursor is Qdrant's opaque
// next_page_offset from the previous page, nil for the first. The returned
// cursor is nil when the collection is exhausted.
func (s *QdrantStore) scroll(ctx context.Context, cursor json.RawMessage, filter map[string]any, withPayload bool) ([]scrollPoint, json.RawMessage, error) {
	req := map[string]any{
		"limit":        s.pageSize,
		"with_payload": withPayload,
		"with_vector":  false,
	}
	if cursor != nil {
		req["offset"] = cursor
	}
	if filter != nil {
		req["filter"] = filter
	}

	var resp struct {
		Result struct {
			Points         []scrollPoint   `json:"points"`
			NextPageOffset json.RawMessage `json:"next_page_offset"`
		} `json:"result"`
	}
	status, err := s.do(ctx, http.MethodPost, s.collectionPath("/points/scroll"), req, &resp)
	if err != nil {
		return nil, nil, err
	}
	if status >= 300 {
		return nil, nil, fmt.Errorf("%w: scroll failed: HTTP %d", models.ErrStoreUnavailable, status)
	}

	next := resp.Result.NextPageOffset
	if len(next) == 0 || string(next) == "null" {
		return resp.Result.Points, nil, nil
	}
	return resp.Result.Points, next, nil
}

func sourceFilter(sourceID string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": "source", "match": map[string]any{"value": sourceID}},
		},
	}
}

// idToString renders a Qdrant point id (UUID string or unsigned integer) as
// a plain string.
func idToString(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var num uint64
	if err := json.Unmarshal(raw, &num); err == nil {
		return strconv.FormatUint(num, 10)
	}
	return string(raw)
}

func (s *QdrantStore) collectionPath(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

// do issues one JSON request and decodes the response into out when it is
// non-nil and the status is a success. Transport failures are classified as
// store unavailability.
func (s *QdrantStore) do(ctx context.Context, method, url string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("qdrant %s %s: %w", method, url, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, fmt.Errorf("qdrant %s %s: %w", method, url, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decoding response: %v",
				models.ErrStoreUnavailable, err)
		}
	}
	return resp.StatusCode, nil
}
