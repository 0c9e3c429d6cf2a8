package cli

import (
	"fmt"

	"github.com/pagelore/pagelore/internal/adapters/driven/embedding/ollama"
	"github.com/pagelore/pagelore/internal/adapters/driven/embedding/openai"
	llmollama "github.com/pagelore/pagelore/internal/adapters/driven/llm/ollama"
	llmopenai "github.com/pagelore/pagelore/internal/adapters/driven/llm/openai"
	"github.com/pagelore/pagelore/internal/adapters/driven/storage/sqlite"
	"github.com/pagelore/pagelore/internal/chunker"
	"github.com/pagelore/pagelore/internal/config"
	"github.com/pagelore/pagelore/internal/core/ports/driven"
	"github.com/pagelore/pagelore/internal/core/ports/driving"
	"github.com/pagelore/pagelore/internal/core/services"
)

// app holds the wired service graph. Built lazily by the first command
// that needs it, so commands like version never touch the database.
type app struct {
	cfg       *config.Config
	store     *sqlite.Store
	embedder  driven.EmbeddingService
	llm       driven.LLMService
	ingestion driving.IngestionPipeline
	query     driving.QueryService
	docs      driven.DocumentStore
}

var currentApp *app

// ensureApp builds the service graph from configuration on first use.
func ensureApp() (*app, error) {
	if currentApp != nil {
		return currentApp, nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		store.Close() //nolint:errcheck
		return nil, err
	}

	llm, err := newLLM(cfg)
	if err != nil {
		store.Close() //nolint:errcheck
		return nil, err
	}

	splitter, err := chunker.New(cfg.Chunking.TargetSize, cfg.Chunking.Overlap)
	if err != nil {
		store.Close() //nolint:errcheck
		return nil, err
	}

	batcher := services.NewEmbeddingBatcher(embedder, services.BatcherConfig{
		MaxBatchSize:      cfg.Embedding.BatchSize,
		MaxAttempts:       cfg.Embedding.MaxAttempts,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Concurrency:       cfg.Embedding.Concurrency,
	})

	var summariser *services.Summariser
	if cfg.Synthesis.Summaries {
		summariser = services.NewSummariser(llm)
	}

	retriever := services.NewRetriever(embedder, store.VectorStore(), services.RetrieverConfig{
		TopK:              cfg.Retrieval.TopK,
		MinSimilarity:     cfg.Retrieval.MinSimilarity,
		MergeOverlapRatio: cfg.Retrieval.MergeOverlapRatio,
	})

	synthesizer := services.NewSynthesizer(llm, services.SynthesizerConfig{
		MaxContextChars: cfg.Synthesis.MaxContextChars,
		MaxTokens:       cfg.LLM.MaxTokens,
		Temperature:     cfg.LLM.Temperature,
	})

	currentApp = &app{
		cfg:       cfg,
		store:     store,
		embedder:  embedder,
		llm:       llm,
		ingestion: services.NewIngestion(store.DocumentStore(), store.VectorStore(), embedder, batcher, summariser, splitter),
		query:     services.NewQueryService(retriever, synthesizer),
		docs:      store.DocumentStore(),
	}
	return currentApp, nil
}

// closeApp releases adapter resources at process exit.
func closeApp() {
	if currentApp == nil {
		return
	}
	currentApp.embedder.Close() //nolint:errcheck
	currentApp.llm.Close()      //nolint:errcheck
	if currentApp.store != nil {
		currentApp.store.Close() //nolint:errcheck
	}
	currentApp = nil
}

func newEmbedder(cfg *config.Config) (driven.EmbeddingService, error) {
	switch cfg.Embedding.Provider {
	case config.ProviderOpenAI:
		return openai.NewEmbeddingService(openai.Config{
			APIKey:     config.ResolveAPIKey(cfg.Embedding.APIKey),
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		})
	case config.ProviderOllama:
		return ollama.NewEmbeddingService(ollama.Config{
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		}), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

func newLLM(cfg *config.Config) (driven.LLMService, error) {
	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		return llmopenai.NewLLMService(llmopenai.Config{
			APIKey:  config.ResolveAPIKey(cfg.LLM.APIKey),
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
		})
	case config.ProviderOllama:
		return llmollama.NewLLMService(llmollama.Config{
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}
