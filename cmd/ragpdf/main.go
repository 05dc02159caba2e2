package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/harlee/ragpdf/internal/models"
	"github.com/harlee/ragpdf/pkg/config"
	"github.com/harlee/ragpdf/pkg/llm"
	"github.com/harlee/ragpdf/pkg/processor"
	"github.com/harlee/ragpdf/pkg/rag"
	"github.com/harlee/ragpdf/pkg/store"
	"github.com/harlee/ragpdf/pkg/webloader"
)

type cliFlags struct {
	configPath string
	pdfPath    string
	docsURL    string
	maxDepth   int
	topK       int
	chat       bool
}

func main() {
	var flags cliFlags
	flag.StringVar(&flags.configPath, "config", "", "Path to config file")
	flag.StringVar(&flags.pdfPath, "pdf", "", "PDF file to ingest")
	flag.StringVar(&flags.docsURL, "docs-url", "", "Documentation URL to crawl and ingest")
	flag.IntVar(&flags.maxDepth, "max-depth", 0, "Maximum crawl depth")
	flag.IntVar(&flags.topK, "top-k", 0, "Number of chunks to retrieve per question")
	flag.BoolVar(&flags.chat, "chat", false, "Start an interactive chat after ingestion")
	flag.Parse()

	if err := run(flags); err != nil {
		log.Fatal(err)
	}
}

func run(flags cliFlags) error {
	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}
	if flags.maxDepth > 0 {
		cfg.Webloader.MaxDepth = flags.maxDepth
	}
	if flags.topK > 0 {
		cfg.Server.TopK = flags.topK
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintf(os.Stderr, "config: %s\n", p)
		}
		os.Exit(1)
	}

	ctx := context.Background()

	embedder, err := llm.NewEmbedder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %v", err)
	}

	vectorStore, err := store.NewWithConfig(ctx, cfg.Store, cfg.EmbeddingDimension())
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %v", err)
	}
	defer vectorStore.Close()

	var ingestBar *progressbar.ProgressBar
	proc := processor.NewWithConfig(processor.Config{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.ChunkOverlap,
		RateLimit:    cfg.Embedding.RateLimit,
		Embedder:     embedder,
		Store:        vectorStore,
		OnProgress: func(done, total int) {
			if ingestBar != nil {
				ingestBar.Set(done)
			}
		},
	})

	if flags.pdfPath != "" {
		color.Blue("\nIngesting %s\n", flags.pdfPath)

		chunks, err := proc.LoadPDF(ctx, flags.pdfPath)
		if err != nil {
			return fmt.Errorf("failed to load PDF: %v", err)
		}
		color.Green("✓ Split into %d chunks\n", len(chunks))

		ingestBar = getProgressBar(len(chunks), "Embedding and storing...")
		ingested, err := proc.Ingest(ctx, chunks)
		ingestBar.Finish()
		if err != nil {
			return fmt.Errorf("failed to ingest PDF: %v", err)
		}
		color.Green("\n✓ Ingested %d chunks\n", ingested)
	}

	if flags.docsURL != "" {
		color.Blue("\nCrawling %s\n", flags.docsURL)

		var crawled int32
		loader, err := webloader.NewWithConfig(webloader.Config{
			BaseURL:   flags.docsURL,
			MaxDepth:  cfg.Webloader.MaxDepth,
			RateLimit: cfg.Webloader.RateLimit,
			OnProgress: func(url string) {
				atomic.AddInt32(&crawled, 1)
				fmt.Printf("\r%s", color.BlueString("Fetched %d pages", atomic.LoadInt32(&crawled)))
			},
		})
		if err != nil {
			return fmt.Errorf("failed to initialize webloader: %v", err)
		}

		pages, err := loader.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to crawl %s: %v", flags.docsURL, err)
		}
		color.Green("\n✓ Fetched %d pages\n", len(pages))

		var chunks []models.Chunk
		for _, page := range pages {
			pageChunks, err := proc.ChunkText(page.URL, page.Content)
			if err != nil {
				return fmt.Errorf("failed to chunk %s: %v", page.URL, err)
			}
			chunks = append(chunks, pageChunks...)
		}
		color.Green("✓ Split into %d chunks\n", len(chunks))

		ingestBar = getProgressBar(len(chunks), "Embedding and storing...")
		ingested, err := proc.Ingest(ctx, chunks)
		ingestBar.Finish()
		if err != nil {
			return fmt.Errorf("failed to ingest pages: %v", err)
		}
		color.Green("\n✓ Ingested %d chunks\n", ingested)
	}

	if !flags.chat {
		return nil
	}

	chatEngine, err := llm.NewChatEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %v", err)
	}

	answerer := rag.NewWithConfig(rag.Config{
		Embedder:  embedder,
		Store:     vectorStore,
		Generator: chatEngine,
		TopK:      cfg.Server.TopK,
	})

	return chatLoop(ctx, answerer)
}

func chatLoop(ctx context.Context, answerer *rag.Answerer) error {
	color.Cyan("\nChat with your documents (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if strings.ToLower(question) == "exit" {
			break
		}

		sources, out, errs, err := answerer.AnswerStream(ctx, question, 0)
		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}

		fmt.Print("\n")
		assistantPrompt("Assistant: ")
		for fragment := range out {
			fmt.Print(fragment)
		}
		if streamErr := <-errs; streamErr != nil {
			color.Red("\nError: %v\n", streamErr)
			continue
		}
		fmt.Print("\n")
		if len(sources) > 0 {
			color.Yellow("Sources: %s\n", strings.Join(sources, ", "))
		}
	}

	return scanner.Err()
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}
