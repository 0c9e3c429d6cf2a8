package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pagelore/pagelore/internal/core/domain"
	"github.com/pagelore/pagelore/internal/core/ports/driven"
	"github.com/pagelore/pagelore/internal/logger"
)

// vectorStore implements driven.VectorStore with generational
// visibility: staged chunks are persisted and indexed immediately but
// excluded from search results until their generation is activated.
type vectorStore struct {
	store *Store
}

var _ driven.VectorStore = (*vectorStore)(nil)

// Stage writes a generation of chunks without making it visible to Search.
func (s *vectorStore) Stage(ctx context.Context, chunks []domain.Chunk) error {
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

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (document_id, generation_id, ordinal, content, start_offset, end_offset, embedding, model_id, staged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, generation_id, ordinal) DO UPDATE SET
			content = excluded.content,
			start_offset = excluded.start_offset,
			end_offset = excluded.end_offset,
			embedding = excluded.embedding,
			staged_at = excluded.staged_at
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, chunk := range chunks {
		if _, err := stmt.ExecContext(ctx, chunk.DocumentID, chunk.GenerationID, chunk.Ordinal,
			chunk.Text, chunk.StartOffset, chunk.EndOffset,
			float32SliceToBytes(chunk.Embedding), chunk.ModelID, now); err != nil {
			return fmt.Errorf("staging chunk %d: %w", chunk.Ordinal, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	for _, chunk := range chunks {
		if chunk.Embedding == nil {
			continue
		}
		key := chunkKey(chunk.DocumentID, chunk.GenerationID, chunk.Ordinal)
		if err := s.store.indexAdd(chunk.ModelID, key, chunk.Embedding); err != nil {
			return fmt.Errorf("indexing chunk %d: %w", chunk.Ordinal, err)
		}
	}
	return nil
}

// Activate atomically flips the visible generation for the document and
// prunes every other generation.
func (s *vectorStore) Activate(ctx context.Context, documentID, generationID string) error {
	var staged int
	err := s.store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE document_id = ? AND generation_id = ?",
		documentID, generationID).Scan(&staged)
	if err != nil {
		return fmt.Errorf("checking staged generation: %w", err)
	}
	if staged == 0 {
		return fmt.Errorf("%w: generation %s not staged for document %s",
			domain.ErrNotFound, generationID, documentID)
	}

	// Collect index keys of the generations being pruned before deleting
	// their rows.
	stale, err := s.chunkKeys(ctx, documentID, generationID)
	if err != nil {
		return err
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM chunks WHERE document_id = ? AND generation_id != ?",
		documentID, generationID); err != nil {
		return fmt.Errorf("pruning generations: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_generations (document_id, generation_id, activated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			generation_id = excluded.generation_id,
			activated_at = excluded.activated_at
	`, documentID, generationID, time.Now().UTC()); err != nil {
		return fmt.Errorf("activating generation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	// The pointer flip is the visibility switch: readers holding the old
	// snapshot keep resolving the old generation, new readers see only
	// the new one.
	s.store.mu.Lock()
	s.store.active[documentID] = generationID
	for modelID, keys := range stale {
		if idx := s.store.indexes[modelID]; idx != nil {
			for _, key := range keys {
				idx.Delete(key)
			}
		}
	}
	s.store.mu.Unlock()

	logger.Debug("Activated generation %s for document %s", generationID, documentID)
	return nil
}

// Upsert stages and activates in one call.
func (s *vectorStore) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.Stage(ctx, chunks); err != nil {
		return err
	}
	return s.Activate(ctx, chunks[0].DocumentID, chunks[0].GenerationID)
}

// Staged returns the most recently staged, not yet activated generation
// for the document and model.
func (s *vectorStore) Staged(ctx context.Context, documentID, modelID string) ([]domain.Chunk, error) {
	s.store.mu.RLock()
	activeGen := s.store.active[documentID]
	s.store.mu.RUnlock()

	rows, err := s.store.db.QueryContext(ctx, `
		SELECT generation_id, ordinal, content, start_offset, end_offset, embedding
		FROM chunks
		WHERE document_id = ? AND model_id = ? AND generation_id != ?
		ORDER BY staged_at DESC, ordinal
	`, documentID, modelID, activeGen)
	if err != nil {
		return nil, fmt.Errorf("querying staged chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	var genID string
	for rows.Next() {
		var c domain.Chunk
		var blob []byte
		if err := rows.Scan(&c.GenerationID, &c.Ordinal, &c.Text, &c.StartOffset, &c.EndOffset, &blob); err != nil {
			return nil, fmt.Errorf("scanning staged chunk: %w", err)
		}
		if genID == "" {
			genID = c.GenerationID
		}
		if c.GenerationID != genID {
			continue // older staged generation
		}
		c.DocumentID = documentID
		c.ModelID = modelID
		c.Embedding = bytesToFloat32Slice(blob)
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating staged chunks: %w", err)
	}
	return chunks, nil
}

// Search returns up to topK active chunks ranked by descending cosine
// similarity, ties broken by document ID then ordinal.
func (s *vectorStore) Search(ctx context.Context, query []float32, modelID string, topK int, scope []string) ([]driven.VectorHit, error) {
	if topK <= 0 {
		return nil, nil
	}

	s.store.mu.RLock()
	idx := s.store.indexes[modelID]
	// Snapshot the pointers so one search resolves against one
	// consistent view even while an activation runs concurrently.
	active := make(map[string]string, len(s.store.active))
	for doc, gen := range s.store.active {
		active[doc] = gen
	}
	s.store.mu.RUnlock()

	if idx == nil {
		return nil, nil
	}

	var scopeSet map[string]bool
	if len(scope) > 0 {
		scopeSet = make(map[string]bool, len(scope))
		for _, id := range scope {
			scopeSet[id] = true
		}
	}

	// Staged and foreign-scope vectors share the index, so the raw k
	// widens until topK visible hits are found or the index is exhausted.
	type ranked struct {
		docID   string
		genID   string
		ordinal int
		sim     float64
	}
	var visible []ranked
	for k := topK; ; k *= 2 {
		hits, err := idx.Search(query, k)
		if err != nil {
			return nil, fmt.Errorf("index search: %w", err)
		}

		visible = visible[:0]
		for _, hit := range hits {
			docID, genID, ordinal, err := parseChunkKey(hit.Key)
			if err != nil {
				return nil, err
			}
			if active[docID] != genID {
				continue
			}
			if scopeSet != nil && !scopeSet[docID] {
				continue
			}
			visible = append(visible, ranked{docID, genID, ordinal, hit.Similarity})
		}

		if len(visible) >= topK || len(hits) < k {
			break
		}
	}

	sort.Slice(visible, func(i, j int) bool {
		if visible[i].sim != visible[j].sim {
			return visible[i].sim > visible[j].sim
		}
		if visible[i].docID != visible[j].docID {
			return visible[i].docID < visible[j].docID
		}
		return visible[i].ordinal < visible[j].ordinal
	})
	if len(visible) > topK {
		visible = visible[:topK]
	}

	out := make([]driven.VectorHit, 0, len(visible))
	for _, r := range visible {
		var text string
		var startOffset, endOffset int
		err := s.store.db.QueryRowContext(ctx, `
			SELECT content, start_offset, end_offset
			FROM chunks WHERE document_id = ? AND generation_id = ? AND ordinal = ?
		`, r.docID, r.genID, r.ordinal).Scan(&text, &startOffset, &endOffset)
		if err == sql.ErrNoRows {
			// Pruned between snapshot and hydration; the result set just
			// shrinks, it never mixes generations.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("hydrating chunk %s/%d: %w", r.docID, r.ordinal, err)
		}
		out = append(out, driven.VectorHit{
			DocumentID:  r.docID,
			Ordinal:     r.ordinal,
			Text:        text,
			StartOffset: startOffset,
			EndOffset:   endOffset,
			Similarity:  r.sim,
		})
	}
	return out, nil
}

// ActiveModels returns the distinct embedding model IDs of the active
// generations within scope.
func (s *vectorStore) ActiveModels(ctx context.Context, scope []string) ([]string, error) {
	query := `
		SELECT DISTINCT c.model_id
		FROM chunks c
		JOIN document_generations g
			ON c.document_id = g.document_id AND c.generation_id = g.generation_id
	`
	var args []any
	if len(scope) > 0 {
		query += " WHERE c.document_id IN (?" + strings.Repeat(", ?", len(scope)-1) + ")"
		for _, id := range scope {
			args = append(args, id)
		}
	}
	query += " ORDER BY c.model_id"

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying active models: %w", err)
	}
	defer rows.Close()

	var models []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scanning model: %w", err)
		}
		models = append(models, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating models: %w", err)
	}
	return models, nil
}

// DeleteDocument removes all chunks of all generations for the document.
func (s *vectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	stale, err := s.chunkKeys(ctx, documentID, "")
	if err != nil {
		return err
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM document_generations WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("deleting generation pointer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.store.mu.Lock()
	delete(s.store.active, documentID)
	for modelID, keys := range stale {
		if idx := s.store.indexes[modelID]; idx != nil {
			for _, key := range keys {
				idx.Delete(key)
			}
		}
	}
	s.store.mu.Unlock()
	return nil
}

// Close closes the underlying store.
func (s *vectorStore) Close() error {
	return s.store.Close()
}

// chunkKeys returns the index keys of the document's chunks grouped by
// model ID, excluding keepGeneration when non-empty.
func (s *vectorStore) chunkKeys(ctx context.Context, documentID, keepGeneration string) (map[string][]string, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT generation_id, ordinal, model_id
		FROM chunks WHERE document_id = ? AND generation_id != ?
	`, documentID, keepGeneration)
	if err != nil {
		return nil, fmt.Errorf("querying chunk keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string][]string)
	for rows.Next() {
		var genID, modelID string
		var ordinal int
		if err := rows.Scan(&genID, &ordinal, &modelID); err != nil {
			return nil, fmt.Errorf("scanning chunk key: %w", err)
		}
		keys[modelID] = append(keys[modelID], chunkKey(documentID, genID, ordinal))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunk keys: %w", err)
	}
	return keys, nil
}
