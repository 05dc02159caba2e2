// Package store owns the point collection backing retrieval: upsert, nearest
// neighbor search, and the source-management scans (aggregate, fetch, delete)
// built on cursor-paginated reads.
package store

import (
	"context"
	"fmt"

	"github.com/harlee/ragpdf/internal/models"
	"github.com/harlee/ragpdf/pkg/config"
)

// VectorStore is the contract every backend implements. Operations are
// stateless request/response cycles against the external store; the store
// holds the only durable state. Concurrent operations on the same source may
// interleave; consistency is whatever the backend provides.
type VectorStore interface {
	// Upsert writes points from parallel slices of equal length. Every
	// vector must match the collection dimension; a mismatch rejects the
	// whole batch before anything is written (models.ErrDimensionMismatch).
	// Writes are idempotent per id: an existing point is replaced entirely,
	// never merged.
	Upsert(ctx context.Context, ids []string, vectors [][]float32, payloads []models.Payload) error

	// Search returns the topK most similar chunks, most similar first, with
	// the deduplicated set of their sources. Fewer than topK stored points
	// is not an error. topK <= 0 is models.ErrInvalidArgument.
	Search(ctx context.Context, vector []float32, topK int) (models.SearchResult, error)

	// AggregateSources scans the whole collection page by page and counts
	// points per source payload field. Points without a source are skipped.
	// Cost is O(total points); concurrent writes during the scan may or may
	// not be reflected.
	AggregateSources(ctx context.Context) (models.SourceAggregate, error)

	// FetchBySource returns up to limit chunks belonging to sourceID.
	// limit <= 0 is models.ErrInvalidArgument.
	FetchBySource(ctx context.Context, sourceID string, limit int) ([]models.ChunkRecord, error)

	// DeleteBySource removes every point belonging to sourceID and returns
	// the number of ids submitted for deletion. A source with no points is
	// success with zero. The post-delete verification scan only logs
	// anomalies; the backend may apply deletes asynchronously.
	DeleteBySource(ctx context.Context, sourceID string) (int, error)

	Close() error
}

// NewWithConfig builds the backend named by cfg.Provider with the given
// collection dimension, creating the collection when missing.
func NewWithConfig(ctx context.Context, cfg config.StoreConfig, dimension int) (VectorStore, error) {
	switch cfg.Provider {
	case config.StoreQdrant:
		return NewQdrantStore(ctx, QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.Collection,
			Dimension:  dimension,
			PageSize:   cfg.PageSize,
			Timeout:    cfg.Timeout,
		})
	case config.StorePGVector:
		return NewPGVectorStore(ctx, PGVectorConfig{
			ConnString: cfg.DatabaseURL,
			TableName:  cfg.TableName,
			Dimension:  dimension,
			PageSize:   cfg.PageSize,
		})
	case config.StoreMemory:
		return NewMemoryStore(dimension), nil
	default:
		return nil, fmt.Errorf("unsupported store provider: %s", cfg.Provider)
	}
}
