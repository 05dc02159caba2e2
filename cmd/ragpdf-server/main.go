package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harlee/ragpdf/pkg/config"
	"github.com/harlee/ragpdf/pkg/jobs"
	"github.com/harlee/ragpdf/pkg/llm"
	"github.com/harlee/ragpdf/pkg/processor"
	"github.com/harlee/ragpdf/pkg/rag"
	"github.com/harlee/ragpdf/pkg/store"
	"github.com/harlee/ragpdf/server"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintf(os.Stderr, "config: %s\n", p)
		}
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	embedder, err := llm.NewEmbedder(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize embedder: %v", err)
	}

	chatEngine, err := llm.NewChatEngine(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize chat engine: %v", err)
	}

	vectorStore, err := store.NewWithConfig(ctx, cfg.Store, cfg.EmbeddingDimension())
	if err != nil {
		log.Fatalf("Failed to initialize vector store: %v", err)
	}
	defer vectorStore.Close()

	if err := os.MkdirAll(cfg.Jobs.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data dir: %v", err)
	}
	jobStore, err := jobs.Open(cfg.Jobs.DataDir)
	if err != nil {
		log.Fatalf("Failed to open job store: %v", err)
	}
	defer jobStore.Close()

	proc := processor.NewWithConfig(processor.Config{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.ChunkOverlap,
		RateLimit:    cfg.Embedding.RateLimit,
		Embedder:     embedder,
		Store:        vectorStore,
	})

	answerer := rag.NewWithConfig(rag.Config{
		Embedder:  embedder,
		Store:     vectorStore,
		Generator: chatEngine,
		TopK:      cfg.Server.TopK,
	})

	runner := jobs.NewRunner(jobs.RunnerConfig{
		Store:       jobStore,
		MaxAttempts: cfg.Jobs.MaxAttempts,
		Throttle:    cfg.Jobs.Throttle,
	})
	runner.Register(server.JobIngest, func(ctx context.Context, payload []byte) (any, error) {
		var p server.IngestPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		ingested, err := proc.IngestPDF(ctx, p.PDFPath)
		if err != nil {
			return nil, err
		}
		log.Printf("Ingested %d chunks from %s", ingested, p.SourceID)
		return map[string]int{"ingested": ingested}, nil
	})
	runner.Register(server.JobQuery, func(ctx context.Context, payload []byte) (any, error) {
		var q server.QueryPayload
		if err := json.Unmarshal(payload, &q); err != nil {
			return nil, err
		}
		return answerer.Answer(ctx, q.Question, q.TopK)
	})
	go runner.Start(ctx)

	srv := server.New(server.Config{
		UploadsDir: cfg.Server.UploadsDir,
		TopK:       cfg.Server.TopK,
	}, vectorStore, answerer, jobStore)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: srv.Routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("Listening on :%s (store: %s, llm: %s, embeddings: %s)",
		cfg.Server.Port, cfg.Store.Provider, cfg.Providers.LLM, cfg.Providers.Embedding)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
