// Package processor turns documents into embedded points: load, split into
// overlapping chunks, embed, and upsert with deterministic ids so repeat
// ingestion of the same source replaces instead of duplicating.
package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/time/rate"

	"github.com/harlee/ragpdf/internal/models"
	"github.com/harlee/ragpdf/pkg/identity"
	"github.com/harlee/ragpdf/pkg/llm"
	"github.com/harlee/ragpdf/pkg/store"
)

type Config struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	RateLimit    float64 // embedding batches per second, 0 means unlimited
	Embedder     llm.EmbeddingProvider
	Store        store.VectorStore

	// OnProgress, when set, is called after each embedded batch.
	OnProgress func(done, total int)
}

type Processor struct {
	config   Config
	splitter textsplitter.RecursiveCharacter
	limiter  *rate.Limiter
}

func NewWithConfig(config Config) *Processor {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 200
	}
	if config.BatchSize == 0 {
		config.BatchSize = 32
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	return &Processor{
		config: config,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.ChunkSize),
			textsplitter.WithChunkOverlap(config.ChunkOverlap),
		),
		limiter: limiter,
	}
}

// LoadPDF reads the PDF at path and splits its pages into chunks. The source
// id is the file's base name, which keeps re-uploads of the same file under
// one source.
func (p *Processor) LoadPDF(ctx context.Context, path string) ([]models.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	loader := documentloaders.NewPDF(f, info.Size())
	docs, err := loader.LoadAndSplit(ctx, p.splitter)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	sourceID := filepath.Base(path)
	chunks := make([]models.Chunk, 0, len(docs))
	for _, doc := range docs {
		text := strings.TrimSpace(doc.PageContent)
		if text == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{
			Text:     text,
			SourceID: sourceID,
			Index:    len(chunks),
		})
	}
	return chunks, nil
}

// ChunkText splits already-extracted text under the given source id. Used for
// crawled pages and anything else that is not a PDF on disk.
func (p *Processor) ChunkText(sourceID, text string) ([]models.Chunk, error) {
	parts, err := p.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("splitting text for %s: %w", sourceID, err)
	}

	chunks := make([]models.Chunk, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{
			Text:     part,
			SourceID: sourceID,
			Index:    len(chunks),
		})
	}
	return chunks, nil
}

// Ingest embeds the chunks batch by batch and upserts them. Point ids are
// derived from (source id, index), so ingesting the same chunks again
// overwrites the previous points. Returns the number of points written.
func (p *Processor) Ingest(ctx context.Context, chunks []models.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	written := 0
	for start := 0; start < len(chunks); start += p.config.BatchSize {
		end := start + p.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		if err := p.limiter.Wait(ctx); err != nil {
			return written, err
		}

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := p.config.Embedder.Embed(ctx, texts)
		if err != nil {
			return written, fmt.Errorf("embedding batch at %d: %w", start, err)
		}

		ids := make([]string, len(batch))
		payloads := make([]models.Payload, len(batch))
		for i, c := range batch {
			ids[i] = identity.DeriveID(c.SourceID, c.Index)
			payloads[i] = models.Payload{Source: c.SourceID, Text: c.Text}
		}

		if err := p.config.Store.Upsert(ctx, ids, vectors, payloads); err != nil {
			return written, fmt.Errorf("upserting batch at %d: %w", start, err)
		}

		written += len(batch)
		if p.config.OnProgress != nil {
			p.config.OnProgress(written, len(chunks))
		}
	}

	return written, nil
}

// IngestPDF is LoadPDF followed by Ingest.
func (p *Processor) IngestPDF(ctx context.Context, path string) (int, error) {
	chunks, err := p.LoadPDF(ctx, path)
	if err != nil {
		return 0, err
	}
	return p.Ingest(ctx, chunks)
}
