// Package memory provides in-memory implementations of the storage
// ports. Nothing is persisted; intended for tests and ephemeral runs.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pagelore/pagelore/internal/core/domain"
	"github.com/pagelore/pagelore/internal/core/ports/driven"
)

// DocumentStore is an in-memory driven.DocumentStore.
type DocumentStore struct {
	mu   sync.RWMutex
	docs map[string]domain.Document
}

var _ driven.DocumentStore = (*DocumentStore)(nil)

// NewDocumentStore creates an empty document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[string]domain.Document)}
}

// SaveDocument stores or updates a document.
func (s *DocumentStore) SaveDocument(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	s.docs[doc.ID] = *doc
	return nil
}

// GetDocument retrieves a document by ID.
func (s *DocumentStore) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &doc, nil
}

// ListDocuments returns all documents, oldest first.
func (s *DocumentStore) ListDocuments(_ context.Context) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SetStatus updates the ingestion status.
func (s *DocumentStore) SetStatus(_ context.Context, id string, status domain.IngestionStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return domain.ErrNotFound
	}
	doc.Status = status
	if status == domain.StatusFailed {
		doc.FailureReason = reason
	} else {
		doc.FailureReason = ""
	}
	doc.UpdatedAt = time.Now().UTC()
	s.docs[id] = doc
	return nil
}

// SetSummary records the generated summary.
func (s *DocumentStore) SetSummary(_ context.Context, id, summary, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return domain.ErrNotFound
	}
	doc.Summary = summary
	doc.ModelID = modelID
	doc.UpdatedAt = time.Now().UTC()
	s.docs[id] = doc
	return nil
}

// DeleteDocument removes a document.
func (s *DocumentStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

// VectorStore is an in-memory driven.VectorStore using exact scan
// search. It applies the same generational visibility rules as the
// SQLite store.
type VectorStore struct {
	mu     sync.RWMutex
	staged map[string]map[string][]domain.Chunk // documentID -> generationID -> chunks
	active map[string]string                    // documentID -> active generation ID
}

var _ driven.VectorStore = (*VectorStore)(nil)

// NewVectorStore creates an empty vector store.
func NewVectorStore() *VectorStore {
	return &VectorStore{
		staged: make(map[string]map[string][]domain.Chunk),
		active: make(map[string]string),
	}
}

// Stage writes a generation of chunks without making it visible.
func (s *VectorStore) Stage(_ context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docID := chunks[0].DocumentID
	genID := chunks[0].GenerationID
	modelID := chunks[0].ModelID
	for _, c := range chunks {
		if c.DocumentID != docID || c.GenerationID != genID || c.ModelID != modelID {
			return fmt.Errorf("%w: chunks of one generation must share document, generation and model",
				domain.ErrInvalidParameters)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staged[docID] == nil {
		s.staged[docID] = make(map[string][]domain.Chunk)
	}
	s.staged[docID][genID] = append([]domain.Chunk(nil), chunks...)
	return nil
}

// Activate flips the visible generation and prunes the others.
func (s *VectorStore) Activate(_ context.Context, documentID, generationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen, ok := s.staged[documentID][generationID]
	if !ok {
		return fmt.Errorf("%w: generation %s not staged for document %s",
			domain.ErrNotFound, generationID, documentID)
	}
	s.staged[documentID] = map[string][]domain.Chunk{generationID: gen}
	s.active[documentID] = generationID
	return nil
}

// Upsert stages and activates in one call.
func (s *VectorStore) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.Stage(ctx, chunks); err != nil {
		return err
	}
	return s.Activate(ctx, chunks[0].DocumentID, chunks[0].GenerationID)
}

// Staged returns the most recently staged, not yet activated generation.
func (s *VectorStore) Staged(_ context.Context, documentID, modelID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	activeGen := s.active[documentID]
	for genID, chunks := range s.staged[documentID] {
		if genID == activeGen || len(chunks) == 0 || chunks[0].ModelID != modelID {
			continue
		}
		return append([]domain.Chunk(nil), chunks...), nil
	}
	return nil, nil
}

// Search scans the active generations for the topK nearest chunks.
func (s *VectorStore) Search(_ context.Context, query []float32, modelID string, topK int, scope []string) ([]driven.VectorHit, error) {
	if topK <= 0 {
		return nil, nil
	}

	var scopeSet map[string]bool
	if len(scope) > 0 {
		scopeSet = make(map[string]bool, len(scope))
		for _, id := range scope {
			scopeSet[id] = true
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []driven.VectorHit
	for docID, genID := range s.active {
		if scopeSet != nil && !scopeSet[docID] {
			continue
		}
		for _, c := range s.staged[docID][genID] {
			if c.ModelID != modelID || c.Embedding == nil {
				continue
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

// ActiveModels returns the distinct model IDs of the active generations.
func (s *VectorStore) ActiveModels(_ context.Context, scope []string) ([]string, error) {
	var scopeSet map[string]bool
	if len(scope) > 0 {
		scopeSet = make(map[string]bool, len(scope))
		for _, id := range scope {
			scopeSet[id] = true
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var models []string
	for docID, genID := range s.active {
		if scopeSet != nil && !scopeSet[docID] {
			continue
		}
		for _, c := range s.staged[docID][genID] {
			if !seen[c.ModelID] {
				seen[c.ModelID] = true
				models = append(models, c.ModelID)
			}
		}
	}
	sort.Strings(models)
	return models, nil
}

// DeleteDocument removes all generations for the document.
func (s *VectorStore) DeleteDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.staged, documentID)
	delete(s.active, documentID)
	return nil
}

// Close is a no-op.
func (s *VectorStore) Close() error {
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
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
