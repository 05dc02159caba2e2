package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harlee/ragpdf/internal/models"
	"github.com/harlee/ragpdf/pkg/jobs"
	"github.com/harlee/ragpdf/pkg/rag"
	"github.com/harlee/ragpdf/pkg/store"
	"github.com/harlee/ragpdf/server"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{1, 0}
	}
	return vecs, nil
}

func (fakeEmbedder) Dimension() int { return 2 }

type fakeGenerator struct{ reply string }

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return f.reply, nil
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	out := make(chan string, 8)
	for _, word := range strings.SplitAfter(f.reply, " ") {
		out <- word
	}
	close(out)
	errs := make(chan error)
	close(errs)
	return out, errs
}

type env struct {
	store    *store.MemoryStore
	jobs     *jobs.Store
	answerer *rag.Answerer
	srv      *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()

	mem := store.NewMemoryStore(2)
	jobStore, err := jobs.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { jobStore.Close() })

	answerer := rag.NewWithConfig(rag.Config{
		Embedder:  fakeEmbedder{},
		Store:     mem,
		Generator: &fakeGenerator{reply: "a grounded answer"},
	})

	s := server.New(server.Config{UploadsDir: t.TempDir()}, mem, answerer, jobStore)
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)

	return &env{store: mem, jobs: jobStore, answerer: answerer, srv: srv}
}

func (e *env) seed(t *testing.T, source string, n int) {
	t.Helper()
	ids := make([]string, n)
	vectors := make([][]float32, n)
	payloads := make([]models.Payload, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("%s-%d", source, i)
		vectors[i] = []float32{1, float32(i)}
		payloads[i] = models.Payload{Source: source, Text: fmt.Sprintf("%s chunk %d", source, i)}
	}
	require.NoError(t, e.store.Upsert(context.Background(), ids, vectors, payloads))
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func uploadFile(t *testing.T, url, filename string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 fake content"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	return resp
}

func TestUploadEnqueuesIngestJob(t *testing.T) {
	e := newEnv(t)

	resp := uploadFile(t, e.srv.URL, "manual.pdf")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)

	assert.Equal(t, "File uploaded successfully", body["message"])
	assert.Equal(t, "manual.pdf", body["filename"])
	eventID, _ := body["event_id"].(string)
	require.NotEmpty(t, eventID)

	job, err := e.jobs.Get(context.Background(), eventID)
	require.NoError(t, err)
	assert.Equal(t, server.JobIngest, job.Kind)
	assert.Equal(t, jobs.StatusPending, job.Status)

	var payload server.IngestPayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, "manual.pdf", payload.SourceID)
	assert.True(t, strings.HasSuffix(payload.PDFPath, "manual.pdf"))
}

func TestUploadRejectsNonPDF(t *testing.T) {
	e := newEnv(t)

	resp := uploadFile(t, e.srv.URL, "notes.txt")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "Only PDF files are allowed", body["detail"])
}

func TestUploadStatus(t *testing.T) {
	e := newEnv(t)

	resp := uploadFile(t, e.srv.URL, "manual.pdf")
	eventID := decodeBody(t, resp)["event_id"].(string)

	statusResp, err := http.Get(e.srv.URL + "/upload/status/" + eventID)
	require.NoError(t, err)
	body := decodeBody(t, statusResp)
	assert.Equal(t, eventID, body["event_id"])
	assert.Equal(t, "pending", body["status"])
	assert.NotNil(t, body["run"])
}

func TestUploadStatusUnknownID(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Get(e.srv.URL + "/upload/status/no-such-id")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestQueryLifecycle(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "manual.pdf", 2)

	resp, err := http.Post(e.srv.URL+"/query", "application/json",
		strings.NewReader(`{"question":"what does the manual say?"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "pending", body["status"])
	eventID := body["event_id"].(string)

	// Run the query job the way cmd wires it.
	runner := jobs.NewRunner(jobs.RunnerConfig{Store: e.jobs})
	runner.Register(server.JobQuery, func(ctx context.Context, payload []byte) (any, error) {
		var q server.QueryPayload
		if err := json.Unmarshal(payload, &q); err != nil {
			return nil, err
		}
		return e.answerer.Answer(ctx, q.Question, q.TopK)
	})
	ran, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	statusResp, err := http.Get(e.srv.URL + "/query/status/" + eventID)
	require.NoError(t, err)
	statusBody := decodeBody(t, statusResp)
	assert.Equal(t, "completed", statusBody["status"])

	result := statusBody["result"].(map[string]any)
	assert.Equal(t, "a grounded answer", result["answer"])
	assert.Equal(t, []any{"manual.pdf"}, result["sources"])
}

func TestQueryRejectsEmptyQuestion(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Post(e.srv.URL+"/query", "application/json",
		strings.NewReader(`{"question":"  "}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestQueryStatusFailedJob(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Post(e.srv.URL+"/query", "application/json",
		strings.NewReader(`{"question":"anything"}`))
	require.NoError(t, err)
	eventID := decodeBody(t, resp)["event_id"].(string)

	runner := jobs.NewRunner(jobs.RunnerConfig{Store: e.jobs, MaxAttempts: 1})
	runner.Register(server.JobQuery, func(ctx context.Context, payload []byte) (any, error) {
		return nil, errors.New("model offline")
	})
	_, err = runner.RunOnce(context.Background())
	require.NoError(t, err)

	statusResp, err := http.Get(e.srv.URL + "/query/status/" + eventID)
	require.NoError(t, err)
	body := decodeBody(t, statusResp)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "model offline", body["error"])
}

func TestListFilesSortedByChunkCount(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "small.pdf", 2)
	e.seed(t, "large.pdf", 5)

	resp, err := http.Get(e.srv.URL + "/files")
	require.NoError(t, err)
	body := decodeBody(t, resp)

	assert.Equal(t, float64(2), body["total_files"])
	assert.Equal(t, float64(7), body["total_chunks"])

	files := body["files"].([]any)
	require.Len(t, files, 2)
	first := files[0].(map[string]any)
	assert.Equal(t, "large.pdf", first["source_id"])
	assert.Equal(t, float64(5), first["chunk_count"])
}

func TestFileChunksPagination(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "manual.pdf", 5)

	resp, err := http.Get(e.srv.URL + "/files/manual.pdf/chunks?limit=2&offset=2")
	require.NoError(t, err)
	body := decodeBody(t, resp)

	chunks := body["chunks"].([]any)
	assert.Len(t, chunks, 2)
	assert.Equal(t, float64(5), body["total"])
}

func TestFileChunksOffsetPastEnd(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "manual.pdf", 2)

	resp, err := http.Get(e.srv.URL + "/files/manual.pdf/chunks?limit=10&offset=50")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Empty(t, body["chunks"])
}

func TestDeleteFile(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "manual.pdf", 3)

	req, err := http.NewRequest(http.MethodDelete, e.srv.URL+"/files/manual.pdf", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body := decodeBody(t, resp)

	assert.Equal(t, "File deleted successfully", body["message"])
	assert.Equal(t, float64(3), body["chunks_deleted"])

	agg, err := e.store.AggregateSources(context.Background())
	require.NoError(t, err)
	assert.Empty(t, agg.Sources)
}

func TestDeleteFilesBulkAllSucceed(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "a.pdf", 2)
	e.seed(t, "b.pdf", 3)

	req, err := http.NewRequest(http.MethodDelete, e.srv.URL+"/files",
		strings.NewReader(`{"source_ids":["a.pdf","b.pdf"]}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)

	assert.Equal(t, "All files deleted successfully", body["message"])
	assert.Equal(t, float64(2), body["total_deleted"])
	assert.Equal(t, float64(0), body["total_errors"])
}

// failingStore fails DeleteBySource for chosen sources.
type failingStore struct {
	store.VectorStore
	failFor map[string]bool
}

func (f *failingStore) DeleteBySource(ctx context.Context, sourceID string) (int, error) {
	if f.failFor[sourceID] {
		return 0, fmt.Errorf("%w: backend offline", models.ErrStoreUnavailable)
	}
	return f.VectorStore.DeleteBySource(ctx, sourceID)
}

func newFailingEnv(t *testing.T, failFor map[string]bool) (*env, *httptest.Server) {
	t.Helper()
	e := newEnv(t)
	wrapped := &failingStore{VectorStore: e.store, failFor: failFor}
	s := server.New(server.Config{UploadsDir: t.TempDir()}, wrapped, e.answerer, e.jobs)
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return e, srv
}

func TestDeleteFilesBulkPartialFailure(t *testing.T) {
	e, srv := newFailingEnv(t, map[string]bool{"bad.pdf": true})
	e.seed(t, "good.pdf", 2)
	e.seed(t, "bad.pdf", 2)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/files",
		strings.NewReader(`{"source_ids":["good.pdf","bad.pdf"]}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)

	assert.Equal(t, float64(1), body["total_deleted"])
	assert.Equal(t, float64(1), body["total_errors"])
	assert.Contains(t, body["message"], "Some files failed to delete")
}

func TestDeleteFilesBulkAllFail(t *testing.T) {
	_, srv := newFailingEnv(t, map[string]bool{"a.pdf": true, "b.pdf": true})

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/files",
		strings.NewReader(`{"source_ids":["a.pdf","b.pdf"]}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	resp.Body.Close()
}

func TestHealth(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Get(e.srv.URL + "/health")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestWebSocketQueryStream(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "manual.pdf", 2)

	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(server.Message{Type: "query", Content: "what now?"}))

	var answer strings.Builder
	var sawSources, sawDone bool
	for !sawDone {
		var msg server.Message
		require.NoError(t, conn.ReadJSON(&msg))
		switch msg.Type {
		case "sources":
			sawSources = true
			assert.Equal(t, []any{"manual.pdf"}, msg.Data)
		case "chunk":
			answer.WriteString(msg.Content)
		case "done":
			sawDone = true
		case "error":
			t.Fatalf("unexpected error message: %s", msg.Content)
		}
	}

	assert.True(t, sawSources)
	assert.Equal(t, "a grounded answer", answer.String())
}

func TestWebSocketRejectsMalformedMessage(t *testing.T) {
	e := newEnv(t)

	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	var msg server.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
}
