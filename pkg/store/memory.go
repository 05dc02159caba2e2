package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/harlee/ragpdf/internal/models"
)

// MemoryStore is an in-process backend with brute-force cosine search. It
// exists for tests and local development; it honors the same contract as the
// remote backends, including the dimension guard and delete-missing-is-zero.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	order     []string // insertion order, stable enumeration for scans
	points    map[string]memoryPoint
}

type memoryPoint struct {
	vector  []float32
	payload models.Payload
}

func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{
		dimension: dimension,
		points:    make(map[string]memoryPoint),
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, ids []string, vectors [][]float32, payloads []models.Payload) error {
	if len(ids) != len(vectors) || len(ids) != len(payloads) {
		return fmt.Errorf("%w: ids, vectors and payloads must have equal length",
			models.ErrInvalidArgument)
	}
	for i, vec := range vectors {
		if len(vec) != s.dimension {
			return fmt.Errorf("%w: vector %d has length %d, collection expects %d",
				models.ErrDimensionMismatch, i, len(vec), s.dimension)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range ids {
		if _, exists := s.points[id]; !exists {
			s.order = append(s.order, id)
		}
		s.points[id] = memoryPoint{vector: vectors[i], payload: payloads[i]}
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, vector []float32, topK int) (models.SearchResult, error) {
	if topK <= 0 {
		return models.SearchResult{}, fmt.Errorf("%w: top_k must be positive, got %d",
			models.ErrInvalidArgument, topK)
	}
	if len(vector) != s.dimension {
		return models.SearchResult{}, fmt.Errorf("%w: query vector has length %d, collection expects %d",
			models.ErrDimensionMismatch, len(vector), s.dimension)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		payload models.Payload
		score   float64
	}
	ranked := make([]scored, 0, len(s.points))
	for _, id := range s.order {
		p := s.points[id]
		ranked = append(ranked, scored{payload: p.payload, score: cosine(vector, p.vector)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if topK > len(ranked) {
		topK = len(ranked)
	}

	result := models.SearchResult{Contexts: []string{}, Sources: []string{}}
	seen := make(map[string]bool)
	for _, r := range ranked[:topK] {
		if r.payload.Text == "" {
			continue
		}
		result.Contexts = append(result.Contexts, r.payload.Text)
		if !seen[r.payload.Source] {
			seen[r.payload.Source] = true
			result.Sources = append(result.Sources, r.payload.Source)
		}
	}
	return result, nil
}

func (s *MemoryStore) AggregateSources(ctx context.Context) (models.SourceAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := models.SourceAggregate{Sources: make(map[string]int)}
	for _, p := range s.points {
		if p.payload.Source == "" {
			continue
		}
		agg.Sources[p.payload.Source]++
		agg.TotalChunks++
	}
	agg.TotalSources = len(agg.Sources)
	return agg, nil
}

func (s *MemoryStore) FetchBySource(ctx context.Context, sourceID string, limit int) ([]models.ChunkRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d",
			models.ErrInvalidArgument, limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks := make([]models.ChunkRecord, 0)
	for _, id := range s.order {
		p := s.points[id]
		if p.payload.Source != sourceID {
			continue
		}
		chunks = append(chunks, models.ChunkRecord{ID: id, Text: p.payload.Text, Source: p.payload.Source})
		if len(chunks) >= limit {
			break
		}
	}
	return chunks, nil
}

func (s *MemoryStore) DeleteBySource(ctx context.Context, sourceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	remaining := s.order[:0]
	for _, id := range s.order {
		if s.points[id].payload.Source == sourceID {
			delete(s.points, id)
			deleted++
			continue
		}
		remaining = append(remaining, id)
	}
	s.order = remaining
	return deleted, nil
}

func (s *MemoryStore) Close() error { return nil }

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
