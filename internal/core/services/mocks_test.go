package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/pagelore/pagelore/internal/core/domain"
	"github.com/pagelore/pagelore/internal/core/ports/driven"
)

// mockEmbedder is a deterministic embedding service. Without an override
// it embeds text as a normalised bag-of-words histogram, so related texts
// score high cosine similarity and unrelated ones score low.
type mockEmbedder struct {
	mu      sync.Mutex
	dim     int
	modelID string
	batchFn func(ctx context.Context, texts []string) ([][]float32, error)
	calls   int
	batches [][]string
}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{dim: 32, modelID: "mock-embed-32"}
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	m.batches = append(m.batches, append([]string(nil), texts...))
	m.mu.Unlock()

	if m.batchFn != nil {
		return m.batchFn(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = bagOfWords(t, m.dim)
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int              { return m.dim }
func (m *mockEmbedder) ModelID() string              { return m.modelID }
func (m *mockEmbedder) Ping(_ context.Context) error { return nil }
func (m *mockEmbedder) Close() error                 { return nil }

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// bagOfWords hashes each word into a bucket and normalises the counts.
func bagOfWords(text string, dim int) []float32 {
	vec := make([]float32, dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[int(h.Sum32())%dim]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// mockLLM returns a canned response and records the calls it saw.
type mockLLM struct {
	mu       sync.Mutex
	response string
	err      error
	chatFn   func(ctx context.Context, messages []driven.ChatMessage, opts driven.GenerateOptions) (string, error)
	calls    []string
}

func (m *mockLLM) Generate(ctx context.Context, prompt string, opts driven.GenerateOptions) (string, error) {
	return m.Chat(ctx, []driven.ChatMessage{{Role: "user", Content: prompt}}, opts)
}

func (m *mockLLM) Chat(ctx context.Context, messages []driven.ChatMessage, opts driven.GenerateOptions) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, messages[len(messages)-1].Content)
	m.mu.Unlock()

	if m.chatFn != nil {
		return m.chatFn(ctx, messages, opts)
	}
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func (m *mockLLM) ModelID() string              { return "mock-llm" }
func (m *mockLLM) Ping(_ context.Context) error { return nil }
func (m *mockLLM) Close() error                 { return nil }

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockVectorStore keeps generations in memory with the same staged /
// active visibility rules as the real store and does exact cosine search.
type mockVectorStore struct {
	mu        sync.Mutex
	staged    map[string][]domain.Chunk // documentID -> staged generation
	active    map[string][]domain.Chunk // documentID -> active generation
	stageErr  error
	searchErr error
}

func newMockVectorStore() *mockVectorStore {
	return &mockVectorStore{
		staged: make(map[string][]domain.Chunk),
		active: make(map[string][]domain.Chunk),
	}
}

func (m *mockVectorStore) Stage(_ context.Context, chunks []domain.Chunk) error {
	if m.stageErr != nil {
		return m.stageErr
	}
	if len(chunks) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged[chunks[0].DocumentID] = append([]domain.Chunk(nil), chunks...)
	return nil
}

func (m *mockVectorStore) Activate(_ context.Context, documentID, generationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	gen := m.staged[documentID]
	if len(gen) == 0 || gen[0].GenerationID != generationID {
		return fmt.Errorf("generation %s not staged for %s", generationID, documentID)
	}
	m.active[documentID] = gen
	delete(m.staged, documentID)
	return nil
}

func (m *mockVectorStore) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if err := m.Stage(ctx, chunks); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	return m.Activate(ctx, chunks[0].DocumentID, chunks[0].GenerationID)
}

func (m *mockVectorStore) Staged(_ context.Context, documentID, modelID string) ([]domain.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Chunk
	for _, c := range m.staged[documentID] {
		if c.ModelID == modelID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockVectorStore) Search(_ context.Context, query []float32, modelID string, topK int, scope []string) ([]driven.VectorHit, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	inScope := func(docID string) bool {
		if len(scope) == 0 {
			return true
		}
		for _, id := range scope {
			if id == docID {
				return true
			}
		}
		return false
	}

	var hits []driven.VectorHit
	for docID, gen := range m.active {
		if !inScope(docID) {
			continue
		}
		for _, c := range gen {
			if c.ModelID != modelID {
				return nil, domain.ErrModelMismatch
			}
			hits = append(hits, driven.VectorHit{
				DocumentID:  c.DocumentID,
				Ordinal:     c.Ordinal,
				Text:        c.Text,
				StartOffset: c.StartOffset,
				EndOffset:   c.EndOffset,
				Similarity:  cosine(query, c.Embedding),
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		if hits[i].DocumentID != hits[j].DocumentID {
			return hits[i].DocumentID < hits[j].DocumentID
		}
		return hits[i].Ordinal < hits[j].Ordinal
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *mockVectorStore) ActiveModels(_ context.Context, scope []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var models []string
	for docID, gen := range m.active {
		if len(scope) > 0 {
			found := false
			for _, id := range scope {
				if id == docID {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		for _, c := range gen {
			if !seen[c.ModelID] {
				seen[c.ModelID] = true
				models = append(models, c.ModelID)
			}
		}
	}
	sort.Strings(models)
	return models, nil
}

func (m *mockVectorStore) DeleteDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.staged, documentID)
	delete(m.active, documentID)
	return nil
}

func (m *mockVectorStore) Close() error { return nil }

func (m *mockVectorStore) activeChunks(documentID string) []domain.Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[documentID]
}

func (m *mockVectorStore) stagedChunks(documentID string) []domain.Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.staged[documentID]
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// mockDocStore is an in-memory DocumentStore.
type mockDocStore struct {
	mu      sync.Mutex
	docs    map[string]*domain.Document
	saveErr error
}

func newMockDocStore() *mockDocStore {
	return &mockDocStore{docs: make(map[string]*domain.Document)}
}

func (m *mockDocStore) SaveDocument(_ context.Context, doc *domain.Document) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *doc
	m.docs[doc.ID] = &cp
	return nil
}

func (m *mockDocStore) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *mockDocStore) ListDocuments(_ context.Context) ([]domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Document, 0, len(m.docs))
	for _, doc := range m.docs {
		out = append(out, *doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockDocStore) SetStatus(_ context.Context, id string, status domain.IngestionStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return domain.ErrNotFound
	}
	doc.Status = status
	if status == domain.StatusFailed {
		doc.FailureReason = reason
	} else {
		doc.FailureReason = ""
	}
	return nil
}

func (m *mockDocStore) SetSummary(_ context.Context, id, summary, modelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return domain.ErrNotFound
	}
	doc.Summary = summary
	doc.ModelID = modelID
	return nil
}

func (m *mockDocStore) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}
