package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harlee/ragpdf/pkg/llm"
)

func newEmbedServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embed", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedderModernServer(t *testing.T) {
	var gotField string
	srv := newEmbedServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if _, ok := body["input"]; ok {
			gotField = "input"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.1, 0.2, 0.3}},
		})
	})

	e := llm.NewOllamaEmbedder(llm.OllamaEmbedderConfig{
		BaseURL: srv.URL, Model: "test-model", Dimension: 3,
	})

	vecs, err := e.Embed(context.Background(), []string{"hello", "world"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vecs[0])
	assert.Equal(t, "input", gotField)
	assert.Equal(t, 3, e.Dimension())
}

func TestOllamaEmbedderPromptFallback(t *testing.T) {
	var fields []string
	srv := newEmbedServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if _, ok := body["input"]; ok {
			fields = append(fields, "input")
			http.NotFound(w, r)
			return
		}
		fields = append(fields, "prompt")
		// Legacy servers answer with the singular field.
		json.NewEncoder(w).Encode(map[string]any{
			"embedding": []float32{0.4, 0.5},
		})
	})

	e := llm.NewOllamaEmbedder(llm.OllamaEmbedderConfig{BaseURL: srv.URL, Model: "old"})

	vecs, err := e.Embed(context.Background(), []string{"hi"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.4, 0.5}, vecs[0])
	assert.Equal(t, []string{"input", "prompt"}, fields)
}

func TestOllamaEmbedderBothFormatsFail(t *testing.T) {
	srv := newEmbedServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	e := llm.NewOllamaEmbedder(llm.OllamaEmbedderConfig{BaseURL: srv.URL, Model: "missing"})

	_, err := e.Embed(context.Background(), []string{"hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrModelUnavailable)
}

func TestOllamaEmbedderAuthFailureNotRetried(t *testing.T) {
	var calls int
	srv := newEmbedServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	})

	e := llm.NewOllamaEmbedder(llm.OllamaEmbedderConfig{BaseURL: srv.URL, Model: "m"})

	_, err := e.Embed(context.Background(), []string{"hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrAuthentication)
	assert.Equal(t, 1, calls, "auth failures must not trigger the field fallback")
}

func TestOllamaEmbedderEmptyResponseFallsBack(t *testing.T) {
	var calls int
	srv := newEmbedServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{})
	})

	e := llm.NewOllamaEmbedder(llm.OllamaEmbedderConfig{BaseURL: srv.URL, Model: "m"})

	_, err := e.Embed(context.Background(), []string{"hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrMalformedResponse)
	assert.Equal(t, 2, calls, "an OK response without an embedding tries the second field")
}
