// Package rag wires retrieval to generation: embed the question, search the
// store, assemble a grounded prompt, and ask the model.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/harlee/ragpdf/pkg/llm"
	"github.com/harlee/ragpdf/pkg/store"
)

// NoContextAnswer is returned without calling the model when retrieval finds
// nothing: an empty context block invites the model to answer from its own
// weights, which is exactly what the system prompt forbids.
const NoContextAnswer = "No relevant context was found for this question. Ingest documents first."

// Generator produces an answer from an assembled prompt. llm.ChatEngine is
// the production implementation.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string) (<-chan string, <-chan error)
}

type Config struct {
	Embedder  llm.EmbeddingProvider
	Store     store.VectorStore
	Generator Generator
	TopK      int
}

type Answerer struct {
	config Config
}

// Answer is one completed query: the model's reply plus the sources whose
// chunks were offered as context.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
	NumCtx  int      `json:"num_contexts"`
}

func NewWithConfig(config Config) *Answerer {
	if config.TopK == 0 {
		config.TopK = 5
	}
	return &Answerer{config: config}
}

// Assemble builds the user prompt from the question and retrieved contexts.
func Assemble(question string, contexts []string) string {
	items := make([]string, len(contexts))
	for i, c := range contexts {
		items[i] = "- " + c
	}
	contextBlock := strings.Join(items, "\n\n")

	return "Use the following context to answer the question.\n\n" +
		"Context:\n" + contextBlock + "\n\n" +
		"Question: " + question + "\n" +
		"Answer concisely using the context above."
}

// Answer runs the full query path. topK <= 0 falls back to the configured
// default.
func (a *Answerer) Answer(ctx context.Context, question string, topK int) (Answer, error) {
	result, err := a.retrieve(ctx, question, topK)
	if err != nil {
		return Answer{}, err
	}
	if len(result.Contexts) == 0 {
		return Answer{Answer: NoContextAnswer, Sources: []string{}}, nil
	}

	reply, err := a.config.Generator.Generate(ctx, Assemble(question, result.Contexts))
	if err != nil {
		return Answer{}, fmt.Errorf("generating answer: %w", err)
	}

	return Answer{
		Answer:  strings.TrimSpace(reply),
		Sources: result.Sources,
		NumCtx:  len(result.Contexts),
	}, nil
}

// AnswerStream is Answer with a streamed reply. The sources are known before
// the first token; the string channel carries reply fragments in order.
func (a *Answerer) AnswerStream(ctx context.Context, question string, topK int) ([]string, <-chan string, <-chan error, error) {
	result, err := a.retrieve(ctx, question, topK)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(result.Contexts) == 0 {
		out := make(chan string, 1)
		out <- NoContextAnswer
		close(out)
		errs := make(chan error)
		close(errs)
		return []string{}, out, errs, nil
	}

	out, errs := a.config.Generator.GenerateStream(ctx, Assemble(question, result.Contexts))
	return result.Sources, out, errs, nil
}

func (a *Answerer) retrieve(ctx context.Context, question string, topK int) (searchResult, error) {
	if topK <= 0 {
		topK = a.config.TopK
	}

	vectors, err := a.config.Embedder.Embed(ctx, []string{question})
	if err != nil {
		return searchResult{}, fmt.Errorf("embedding question: %w", err)
	}
	if len(vectors) != 1 {
		return searchResult{}, fmt.Errorf("%w: expected one question vector, got %d",
			llm.ErrMalformedResponse, len(vectors))
	}

	found, err := a.config.Store.Search(ctx, vectors[0], topK)
	if err != nil {
		return searchResult{}, fmt.Errorf("searching store: %w", err)
	}
	return searchResult{Contexts: found.Contexts, Sources: found.Sources}, nil
}

type searchResult struct {
	Contexts []string
	Sources  []string
}
