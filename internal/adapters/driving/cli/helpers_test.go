package cli

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/pagelore/pagelore/internal/adapters/driven/storage/memory"
	"github.com/pagelore/pagelore/internal/chunker"
	"github.com/pagelore/pagelore/internal/config"
	"github.com/pagelore/pagelore/internal/core/ports/driven"
	"github.com/pagelore/pagelore/internal/core/services"
	"github.com/pagelore/pagelore/internal/retry"
)

// fakeEmbedder produces deterministic bag-of-words vectors so related
// texts score higher than unrelated ones without a network call.
type fakeEmbedder struct{}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, 32)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(word)) //nolint:errcheck
			vec[h.Sum32()%32]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			scale := float32(1 / math.Sqrt(norm))
			for j := range vec {
				vec[j] *= scale
			}
		}
		vecs[i] = vec
	}
	return vecs, nil
}

func (f *fakeEmbedder) Dimensions() int              { return 32 }
func (f *fakeEmbedder) ModelID() string              { return "fake-embed-32" }
func (f *fakeEmbedder) Ping(_ context.Context) error { return nil }
func (f *fakeEmbedder) Close() error                 { return nil }

// fakeLLM returns a canned completion and records prompts.
type fakeLLM struct {
	mu       sync.Mutex
	response string
	calls    int
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts driven.GenerateOptions) (string, error) {
	return f.Chat(ctx, []driven.ChatMessage{{Role: "user", Content: prompt}}, opts)
}

func (f *fakeLLM) Chat(_ context.Context, _ []driven.ChatMessage, _ driven.GenerateOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.response == "" {
		return "canned answer", nil
	}
	return f.response, nil
}

func (f *fakeLLM) ModelID() string              { return "fake-llm" }
func (f *fakeLLM) Ping(_ context.Context) error { return nil }
func (f *fakeLLM) Close() error                 { return nil }

// setupTestApp wires the command package against in-memory stores and
// fake model services. Returns a cleanup that restores global state.
func setupTestApp() func() {
	cfg := config.Default()
	docs := memory.NewDocumentStore()
	vectors := memory.NewVectorStore()
	embedder := &fakeEmbedder{}
	llm := &fakeLLM{}

	splitter, err := chunker.New(100, 20)
	if err != nil {
		panic(fmt.Sprintf("test chunker: %v", err))
	}

	batcher := services.NewEmbeddingBatcher(embedder, services.BatcherConfig{
		MaxBatchSize: 8,
		MaxAttempts:  1,
		Backoff:      retry.Constant(0),
		Concurrency:  1,
	})

	retriever := services.NewRetriever(embedder, vectors, services.RetrieverConfig{
		TopK:              cfg.Retrieval.TopK,
		MinSimilarity:     0.1,
		MergeOverlapRatio: cfg.Retrieval.MergeOverlapRatio,
	})
	synthesizer := services.NewSynthesizer(llm, services.SynthesizerConfig{
		MaxContextChars: cfg.Synthesis.MaxContextChars,
		MaxAttempts:     1,
		Backoff:         retry.Constant(0),
	})

	currentApp = &app{
		cfg:       &cfg,
		embedder:  embedder,
		llm:       llm,
		ingestion: services.NewIngestion(docs, vectors, embedder, batcher, services.NewSummariser(llm), splitter),
		query:     services.NewQueryService(retriever, synthesizer),
		docs:      docs,
	}

	return func() {
		currentApp = nil
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	}
}
