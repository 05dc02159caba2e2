package store

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/harlee/ragpdf/internal/models"
)

// PGVectorStore is the Postgres/pgvector backend. It keeps the same scan
// discipline as the scroll-based backends (bounded pages behind a keyset
// cursor on id), so the aggregation and delete contracts hold identically
// whether or not the SQL engine could do it server-side.
type PGVectorStore struct {
	config PGVectorConfig
	pool   *pgxpool.Pool
}

type PGVectorConfig struct {
	ConnString string
	TableName  string
	Dimension  int
	PageSize   int
}

func NewPGVectorStore(ctx context.Context, config PGVectorConfig) (*PGVectorStore, error) {
	if config.TableName == "" {
		config.TableName = "points"
	}
	if config.PageSize == 0 {
		config.PageSize = 1000
	}
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("%w: collection dimension must be positive", models.ErrInvalidArgument)
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to database: %v", models.ErrStoreUnavailable, err)
	}

	s := &PGVectorStore{
		config: config,
		pool:   pool,
	}

	if err := s.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PGVectorStore) initialize(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("%w: failed to create vector extension: %v", models.ErrStoreUnavailable, err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			content TEXT,
			embedding vector(%d)
		)`, s.config.TableName, s.config.Dimension)

	if _, err = s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("%w: failed to create table: %v", models.ErrStoreUnavailable, err)
	}

	createVectorIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		s.config.TableName, s.config.TableName)

	if _, err = s.pool.Exec(ctx, createVectorIndex); err != nil {
		return fmt.Errorf("%w: failed to create vector index: %v", models.ErrStoreUnavailable, err)
	}

	createSourceIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_source_idx ON %s (source)`,
		s.config.TableName, s.config.TableName)

	if _, err = s.pool.Exec(ctx, createSourceIndex); err != nil {
		return fmt.Errorf("%w: failed to create source index: %v", models.ErrStoreUnavailable, err)
	}

	return nil
}

func (s *PGVectorStore) Upsert(ctx context.Context, ids []string, vectors [][]float32, payloads []models.Payload) error {
	if len(ids) != len(vectors) || len(ids) != len(payloads) {
		return fmt.Errorf("%w: ids, vectors and payloads must have equal length",
			models.ErrInvalidArgument)
	}
	for i, vec := range vectors {
		if len(vec) != s.config.Dimension {
			return fmt.Errorf("%w: vector %d has length %d, collection expects %d",
				models.ErrDimensionMismatch, i, len(vec), s.config.Dimension)
		}
	}

	// One transaction for the whole batch: either every point lands or none.
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", models.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, source, content, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			source = EXCLUDED.source,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`,
		s.config.TableName)

	for i := range ids {
		_, err = tx.Exec(ctx, stmt, ids[i], payloads[i].Source, payloads[i].Text,
			pgvector.NewVector(vectors[i]))
		if err != nil {
			return fmt.Errorf("%w: failed to upsert point %s: %v",
				models.ErrStoreUnavailable, ids[i], err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: failed to commit upsert: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PGVectorStore) Search(ctx context.Context, vector []float32, topK int) (models.SearchResult, error) {
	if topK <= 0 {
		return models.SearchResult{}, fmt.Errorf("%w: top_k must be positive, got %d",
			models.ErrInvalidArgument, topK)
	}
	if len(vector) != s.config.Dimension {
		return models.SearchResult{}, fmt.Errorf("%w: query vector has length %d, collection expects %d",
			models.ErrDimensionMismatch, len(vector), s.config.Dimension)
	}

	query := fmt.Sprintf(`
		SELECT content, source
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		s.config.TableName)

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(vector), topK)
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("%w: search failed: %v", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	result := models.SearchResult{Contexts: []string{}, Sources: []string{}}
	seen := make(map[string]bool)
	for rows.Next() {
		var content, source string
		if err := rows.Scan(&content, &source); err != nil {
			return models.SearchResult{}, fmt.Errorf("%w: scanning search row: %v",
				models.ErrStoreUnavailable, err)
		}
		if content == "" {
			continue
		}
		result.Contexts = append(result.Contexts, content)
		if !seen[source] {
			seen[source] = true
			result.Sources = append(result.Sources, source)
		}
	}
	if err := rows.Err(); err != nil {
		return models.SearchResult{}, fmt.Errorf("%w: search failed: %v", models.ErrStoreUnavailable, err)
	}
	return result, nil
}

func (s *PGVectorStore) AggregateSources(ctx context.Context) (models.SourceAggregate, error) {
	agg := models.SourceAggregate{Sources: make(map[string]int)}

	cursor := ""
	for {
		query := fmt.Sprintf(`
			SELECT id, source FROM %s
			WHERE id > $1
			ORDER BY id
			LIMIT $2`, s.config.TableName)

		rows, err := s.pool.Query(ctx, query, cursor, s.config.PageSize)
		if err != nil {
			return models.SourceAggregate{}, fmt.Errorf("%w: aggregation scan failed: %v",
				models.ErrStoreUnavailable, err)
		}

		count := 0
		for rows.Next() {
			var id, source string
			if err := rows.Scan(&id, &source); err != nil {
				rows.Close()
				return models.SourceAggregate{}, fmt.Errorf("%w: scanning aggregation row: %v",
					models.ErrStoreUnavailable, err)
			}
			count++
			cursor = id
			if source == "" {
				continue
			}
			agg.Sources[source]++
			agg.TotalChunks++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return models.SourceAggregate{}, fmt.Errorf("%w: aggregation scan failed: %v",
				models.ErrStoreUnavailable, err)
		}

		if count < s.config.PageSize {
			break
		}
	}

	agg.TotalSources = len(agg.Sources)
	return agg, nil
}

func (s *PGVectorStore) FetchBySource(ctx context.Context, sourceID string, limit int) ([]models.ChunkRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d",
			models.ErrInvalidArgument, limit)
	}

	chunks := make([]models.ChunkRecord, 0)
	cursor := ""
	for len(chunks) < limit {
		pageLimit := s.config.PageSize
		if remaining := limit - len(chunks); remaining < pageLimit {
			pageLimit = remaining
		}

		query := fmt.Sprintf(`
			SELECT id, content, source FROM %s
			WHERE source = $1 AND id > $2
			ORDER BY id
			LIMIT $3`, s.config.TableName)

		rows, err := s.pool.Query(ctx, query, sourceID, cursor, pageLimit)
		if err != nil {
			return nil, fmt.Errorf("%w: fetch scan failed: %v", models.ErrStoreUnavailable, err)
		}

		count := 0
		for rows.Next() {
			var rec models.ChunkRecord
			if err := rows.Scan(&rec.ID, &rec.Text, &rec.Source); err != nil {
				rows.Close()
				return nil, fmt.Errorf("%w: scanning fetch row: %v", models.ErrStoreUnavailable, err)
			}
			count++
			cursor = rec.ID
			chunks = append(chunks, rec)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: fetch scan failed: %v", models.ErrStoreUnavailable, err)
		}

		if count < pageLimit {
			break
		}
	}

	return chunks, nil
}

func (s *PGVectorStore) DeleteBySource(ctx context.Context, sourceID string) (int, error) {
	ids, err := s.collectIDs(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	stmt := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, s.config.TableName)
	if _, err := s.pool.Exec(ctx, stmt, ids); err != nil {
		return 0, fmt.Errorf("%w: delete failed: %v", models.ErrStoreUnavailable, err)
	}

	remaining, err := s.collectIDs(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	if len(remaining) > 0 {
		log.Printf("store: %d points still present for source %q after deleting %d",
			len(remaining), sourceID, len(ids))
	}

	return len(ids), nil
}

func (s *PGVectorStore) collectIDs(ctx context.Context, sourceID string) ([]string, error) {
	var ids []string
	cursor := ""
	for {
		query := fmt.Sprintf(`
			SELECT id FROM %s
			WHERE source = $1 AND id > $2
			ORDER BY id
			LIMIT $3`, s.config.TableName)

		rows, err := s.pool.Query(ctx, query, sourceID, cursor, s.config.PageSize)
		if err != nil {
			return nil, fmt.Errorf("%w: id scan failed: %v", models.ErrStoreUnavailable, err)
		}

		count := 0
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("%w: scanning id row: %v", models.ErrStoreUnavailable, err)
			}
			count++
			cursor = id
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: id scan failed: %v", models.ErrStoreUnavailable, err)
		}

		if count < s.config.PageSize {
			break
		}
	}
	return ids, nil
}

func (s *PGVectorStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
