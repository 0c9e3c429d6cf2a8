package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pagelore/pagelore/internal/core/domain"
	"github.com/pagelore/pagelore/internal/core/ports/driven"
)

// documentStore implements driven.DocumentStore.
type documentStore struct {
	store *Store
}

var _ driven.DocumentStore = (*documentStore)(nil)

// SaveDocument stores or updates a document.
func (s *documentStore) SaveDocument(ctx context.Context, doc *domain.Document) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO documents (id, source_url, title, content, summary, status, failure_reason, model_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_url = excluded.source_url,
			title = excluded.title,
			content = excluded.content,
			status = excluded.status,
			failure_reason = excluded.failure_reason,
			model_id = excluded.model_id,
			updated_at = excluded.updated_at
	`, doc.ID, doc.SourceURL, doc.Title, doc.Text, doc.Summary,
		string(doc.Status), doc.FailureReason, doc.ModelID, doc.CreatedAt, doc.UpdatedAt)

	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *documentStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, source_url, title, content, summary, status, failure_reason, model_id, created_at, updated_at
		FROM documents WHERE id = ?
	`, id)

	doc, err := scanDocument(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns all documents, oldest first.
func (s *documentStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, source_url, title, content, summary, status, failure_reason, model_id, created_at, updated_at
		FROM documents ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document //nolint:prealloc // size unknown from query
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, *doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// SetStatus updates the ingestion status. The reason is kept for failed
// documents and cleared on any other transition.
func (s *documentStore) SetStatus(ctx context.Context, id string, status domain.IngestionStatus, reason string) error {
	if status != domain.StatusFailed {
		reason = ""
	}

	res, err := s.store.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ?
	`, string(status), reason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking status update: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetSummary records the generated summary and the embedding model of
// the active generation.
func (s *documentStore) SetSummary(ctx context.Context, id, summary, modelID string) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE documents SET summary = ?, model_id = ?, updated_at = ? WHERE id = ?
	`, summary, modelID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating summary: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking summary update: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteDocument removes a document. Deleting an absent document is not
// an error.
func (s *documentStore) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.store.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

// scanDocument scans a document from either *sql.Row or *sql.Rows.
func scanDocument(scan func(dest ...any) error) (*domain.Document, error) {
	var doc domain.Document
	var status string
	var createdAt, updatedAt sql.NullTime

	if err := scan(&doc.ID, &doc.SourceURL, &doc.Title, &doc.Text, &doc.Summary,
		&status, &doc.FailureReason, &doc.ModelID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	doc.Status = domain.IngestionStatus(status)
	if createdAt.Valid {
		doc.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		doc.UpdatedAt = updatedAt.Time
	}
	return &doc, nil
}
