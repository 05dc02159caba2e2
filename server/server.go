// Package server exposes the HTTP API: uploads and queries are enqueued as
// background jobs and polled by id, source management talks to the vector
// store directly, and /ws streams chat answers over a websocket.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/harlee/ragpdf/internal/models"
	"github.com/harlee/ragpdf/pkg/jobs"
	"github.com/harlee/ragpdf/pkg/rag"
	"github.com/harlee/ragpdf/pkg/store"
)

// Job kinds dispatched by the API. The runner in cmd wires their handlers.
const (
	JobIngest = "ingest"
	JobQuery  = "query"
)

// IngestPayload is the ingest job's input.
type IngestPayload struct {
	PDFPath  string `json:"pdf_path"`
	SourceID string `json:"source_id"`
}

// QueryPayload is the query job's input.
type QueryPayload struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

type Config struct {
	UploadsDir string
	TopK       int
}

type Server struct {
	config   Config
	store    store.VectorStore
	answerer *rag.Answerer
	jobs     *jobs.Store
}

func New(config Config, vectorStore store.VectorStore, answerer *rag.Answerer, jobStore *jobs.Store) *Server {
	if config.UploadsDir == "" {
		config.UploadsDir = "uploads"
	}
	if config.TopK == 0 {
		config.TopK = 5
	}
	return &Server{
		config:   config,
		store:    vectorStore,
		answerer: answerer,
		jobs:     jobStore,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /upload/status/{event_id}", s.handleUploadStatus)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("GET /query/status/{event_id}", s.handleQueryStatus)
	mux.HandleFunc("GET /files", s.handleListFiles)
	mux.HandleFunc("GET /files/{source_id}/chunks", s.handleFileChunks)
	mux.HandleFunc("DELETE /files/{source_id}", s.handleDeleteFile)
	mux.HandleFunc("DELETE /files", s.handleDeleteFiles)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)

	return mux
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
		writeError(w, http.StatusBadRequest, "Only PDF files are allowed")
		return
	}

	if err := os.MkdirAll(s.config.UploadsDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error uploading file: %v", err))
		return
	}

	// Base ensures the stored path stays inside the uploads dir.
	filename := filepath.Base(header.Filename)
	path := filepath.Join(s.config.UploadsDir, filename)
	dst, err := os.Create(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error uploading file: %v", err))
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error uploading file: %v", err))
		return
	}
	dst.Close()

	eventID, err := s.jobs.Enqueue(r.Context(), JobIngest, IngestPayload{
		PDFPath:  path,
		SourceID: filename,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error uploading file: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "File uploaded successfully",
		"filename": filename,
		"event_id": eventID,
	})
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")
	job, err := s.jobs.Get(r.Context(), eventID)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown event id: %s", eventID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error fetching status: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id": eventID,
		"status":   job.Status,
		"run":      job,
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question must not be empty")
		return
	}
	if req.TopK == 0 {
		req.TopK = s.config.TopK
	}

	eventID, err := s.jobs.Enqueue(r.Context(), JobQuery, req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error submitting query: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id": eventID,
		"status":   "pending",
		"message":  "Query submitted successfully",
	})
}

func (s *Server) handleQueryStatus(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")
	job, err := s.jobs.Get(r.Context(), eventID)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown event id: %s", eventID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error fetching query status: %v", err))
		return
	}

	switch job.Status {
	case jobs.StatusCompleted:
		var result any
		if len(job.Output) > 0 {
			result = job.Output
		} else {
			result = map[string]any{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"event_id": eventID,
			"status":   "completed",
			"result":   result,
		})
	case jobs.StatusFailed:
		writeJSON(w, http.StatusOK, map[string]any{
			"event_id": eventID,
			"status":   "failed",
			"error":    job.Error,
			"result":   nil,
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"event_id": eventID,
			"status":   job.Status,
			"result":   nil,
		})
	}
}

type fileInfo struct {
	SourceID   string `json:"source_id"`
	ChunkCount int    `json:"chunk_count"`
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	agg, err := s.store.AggregateSources(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error fetching files: %v", err))
		return
	}

	files := make([]fileInfo, 0, len(agg.Sources))
	for sourceID, count := range agg.Sources {
		files = append(files, fileInfo{SourceID: sourceID, ChunkCount: count})
	}
	// Largest sources first; name breaks ties so the order is stable.
	sort.Slice(files, func(i, j int) bool {
		if files[i].ChunkCount != files[j].ChunkCount {
			return files[i].ChunkCount > files[j].ChunkCount
		}
		return files[i].SourceID < files[j].SourceID
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"files":        files,
		"total_files":  agg.TotalSources,
		"total_chunks": agg.TotalChunks,
	})
}

func (s *Server) handleFileChunks(w http.ResponseWriter, r *http.Request) {
	sourceID := r.PathValue("source_id")

	limit := 20
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, _ = strconv.Atoi(v)
	}
	if limit <= 0 || offset < 0 {
		writeError(w, http.StatusBadRequest, "limit must be positive and offset non-negative")
		return
	}

	chunks, err := s.store.FetchBySource(r.Context(), sourceID, limit+offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error fetching chunks: %v", err))
		return
	}
	if offset < len(chunks) {
		chunks = chunks[offset:]
	} else {
		chunks = []models.ChunkRecord{}
	}

	agg, err := s.store.AggregateSources(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error fetching chunks: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"chunks": chunks,
		"total":  agg.Sources[sourceID],
	})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	sourceID := r.PathValue("source_id")

	deleted, err := s.store.DeleteBySource(r.Context(), sourceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error deleting file: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":        "File deleted successfully",
		"source_id":      sourceID,
		"chunks_deleted": deleted,
	})
}

type deleteFilesRequest struct {
	SourceIDs []string `json:"source_ids"`
}

func (s *Server) handleDeleteFiles(w http.ResponseWriter, r *http.Request) {
	var req deleteFilesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.SourceIDs) == 0 {
		writeError(w, http.StatusBadRequest, "source_ids must not be empty")
		return
	}

	log.Printf("server: deleting %d files: %v", len(req.SourceIDs), req.SourceIDs)

	deleted := make([]map[string]any, 0, len(req.SourceIDs))
	deleteErrors := make([]map[string]any, 0)
	for _, sourceID := range req.SourceIDs {
		count, err := s.store.DeleteBySource(r.Context(), sourceID)
		if err != nil {
			log.Printf("server: deleting %s: %v", sourceID, err)
			deleteErrors = append(deleteErrors, map[string]any{
				"source_id": sourceID,
				"error":     err.Error(),
				"status":    "error",
			})
			continue
		}
		deleted = append(deleted, map[string]any{
			"source_id":      sourceID,
			"chunks_deleted": count,
			"status":         "success",
		})
	}

	// Every source failed: the whole request is an error.
	if len(deleteErrors) == len(req.SourceIDs) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"detail": map[string]any{
				"message": "All files failed to delete",
				"errors":  deleteErrors,
			},
		})
		return
	}

	message := "All files deleted successfully"
	if len(deleteErrors) > 0 {
		message = fmt.Sprintf("Some files failed to delete: %d error(s)", len(deleteErrors))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":       deleted,
		"errors":        deleteErrors,
		"total_deleted": len(deleted),
		"total_errors":  len(deleteErrors),
		"message":       message,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encoding response: %v", err)
	}
}

// writeError mirrors the {"detail": ...} error body the frontend expects.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
