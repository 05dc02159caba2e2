package store_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harlee/ragpdf/internal/models"
	"github.com/harlee/ragpdf/pkg/store"
)

func TestMemoryUpsertIdempotent(t *testing.T) {
	s := store.NewMemoryStore(3)
	ctx := context.Background()

	ids := []string{"p1", "p2"}
	vectors := [][]float32{{1, 0, 0}, {0, 1, 0}}
	payloads := []models.Payload{
		{Source: "doc1", Text: "alpha"},
		{Source: "doc1", Text: "beta"},
	}
	require.NoError(t, s.Upsert(ctx, ids, vectors, payloads))
	require.NoError(t, s.Upsert(ctx, ids, vectors, payloads))

	agg, err := s.AggregateSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, agg.TotalChunks, "re-ingesting the same ids must not duplicate")
	assert.Equal(t, map[string]int{"doc1": 2}, agg.Sources)
}

func TestMemoryUpsertReplacesPayload(t *testing.T) {
	s := store.NewMemoryStore(3)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []string{"p1"}, [][]float32{{1, 0, 0}},
		[]models.Payload{{Source: "doc1", Text: "old"}}))
	require.NoError(t, s.Upsert(ctx, []string{"p1"}, [][]float32{{1, 0, 0}},
		[]models.Payload{{Source: "doc1", Text: "new"}}))

	chunks, err := s.FetchBySource(ctx, "doc1", 10)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "new", chunks[0].Text)
}

func TestMemoryDimensionGuard(t *testing.T) {
	s := store.NewMemoryStore(3)
	ctx := context.Background()

	err := s.Upsert(ctx,
		[]string{"p1", "p2"},
		[][]float32{{1, 0, 0}, {1, 0, 0, 0}},
		[]models.Payload{{Source: "a", Text: "x"}, {Source: "a", Text: "y"}})
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)

	agg, err := s.AggregateSources(ctx)
	require.NoError(t, err)
	assert.Zero(t, agg.TotalChunks, "rejected batch must write nothing")
}

func TestMemorySearchRanking(t *testing.T) {
	s := store.NewMemoryStore(2)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx,
		[]string{"a", "b", "c"},
		[][]float32{{1, 0}, {0, 1}, {0.7, 0.7}},
		[]models.Payload{
			{Source: "x", Text: "horizontal"},
			{Source: "y", Text: "vertical"},
			{Source: "z", Text: "diagonal"},
		}))

	result, err := s.Search(ctx, []float32{0, 1}, 2)
	require.NoError(t, err)
	require.Len(t, result.Contexts, 2)
	assert.Equal(t, "vertical", result.Contexts[0])
	assert.Equal(t, "diagonal", result.Contexts[1])
}

func TestMemorySearchUnderfill(t *testing.T) {
	s := store.NewMemoryStore(2)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []string{"a"}, [][]float32{{1, 0}},
		[]models.Payload{{Source: "x", Text: "only one"}}))

	result, err := s.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, result.Contexts, 1)
}

func TestMemoryDeleteBySource(t *testing.T) {
	s := store.NewMemoryStore(2)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		source := "keep"
		if i%2 == 0 {
			source = "drop"
		}
		require.NoError(t, s.Upsert(ctx,
			[]string{fmt.Sprintf("p%d", i)},
			[][]float32{{float32(i), 1}},
			[]models.Payload{{Source: source, Text: fmt.Sprintf("chunk %d", i)}}))
	}

	deleted, err := s.DeleteBySource(ctx, "drop")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	agg, err := s.AggregateSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"keep": 2}, agg.Sources)

	deleted, err = s.DeleteBySource(ctx, "drop")
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
