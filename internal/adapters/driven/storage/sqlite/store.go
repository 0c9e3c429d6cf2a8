package sqlite

import (
	"database/sql"
	"embed"
	"encoding/binary"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/pagelore/pagelore/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/pagelore/pagelore/internal/core/ports/driven"
	"github.com/pagelore/pagelore/internal/hnsw"
	"github.com/pagelore/pagelore/internal/logger"
)

// Store is a unified SQLite-based storage backing both the document and
// the vector store interfaces. Vectors persist as BLOBs; an in-memory
// HNSW index per embedding model serves similarity search and is rebuilt
// from the database on open.
type Store struct {
	db   *sql.DB
	path string

	// mu guards the index map and the active generation pointers.
	mu      sync.RWMutex
	indexes map[string]*hnsw.Index // by model ID
	active  map[string]string      // document ID -> active generation ID
}

// NewStore creates a SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.pagelore/data/pagelore.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".pagelore", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "pagelore.db")

	// WAL mode for concurrent readers during ingestion writes
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{
		db:      db,
		path:    dbPath,
		indexes: make(map[string]*hnsw.Index),
		active:  make(map[string]string),
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	if err := s.loadIndexes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("loading vector indexes: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// DocumentStore returns a DocumentStore interface backed by this store.
func (s *Store) DocumentStore() driven.DocumentStore {
	return &documentStore{store: s}
}

// VectorStore returns a VectorStore interface backed by this store.
func (s *Store) VectorStore() driven.VectorStore {
	return &vectorStore{store: s}
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// loadIndexes rebuilds the per-model HNSW indexes and the active
// generation pointers from the persisted chunks. Staged generations are
// indexed too; Search filters them out until activation.
func (s *Store) loadIndexes() error {
	rows, err := s.db.Query("SELECT document_id, generation_id FROM document_generations")
	if err != nil {
		return fmt.Errorf("querying active generations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var docID, genID string
		if err := rows.Scan(&docID, &genID); err != nil {
			return fmt.Errorf("scanning generation: %w", err)
		}
		s.active[docID] = genID
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating generations: %w", err)
	}

	chunkRows, err := s.db.Query(`
		SELECT document_id, generation_id, ordinal, embedding, model_id
		FROM chunks WHERE embedding IS NOT NULL
	`)
	if err != nil {
		return fmt.Errorf("querying chunks: %w", err)
	}
	defer chunkRows.Close()

	loaded := 0
	for chunkRows.Next() {
		var docID, genID, modelID string
		var ordinal int
		var blob []byte
		if err := chunkRows.Scan(&docID, &genID, &ordinal, &blob, &modelID); err != nil {
			return fmt.Errorf("scanning chunk: %w", err)
		}

		vec := bytesToFloat32Slice(blob)
		if len(vec) == 0 {
			continue
		}
		if err := s.indexAdd(modelID, chunkKey(docID, genID, ordinal), vec); err != nil {
			return fmt.Errorf("indexing chunk %s/%d: %w", docID, ordinal, err)
		}
		loaded++
	}
	if err := chunkRows.Err(); err != nil {
		return fmt.Errorf("iterating chunks: %w", err)
	}

	if loaded > 0 {
		logger.Debug("Loaded %d vectors across %d model indexes", loaded, len(s.indexes))
	}
	return nil
}

// indexAdd inserts a vector into the index for its model, creating the
// index on first use. Caller must not hold s.mu.
func (s *Store) indexAdd(modelID, key string, vec []float32) error {
	s.mu.Lock()
	idx, ok := s.indexes[modelID]
	if !ok {
		idx = hnsw.New(len(vec))
		s.indexes[modelID] = idx
	}
	s.mu.Unlock()
	return idx.Add(key, vec)
}

// chunkKey builds the index key for a chunk. Generation IDs are UUIDs
// and ordinals are integers, so parsing from the right is unambiguous
// even when the document ID contains the separator.
func chunkKey(docID, genID string, ordinal int) string {
	return fmt.Sprintf("%s|%s|%d", docID, genID, ordinal)
}

// parseChunkKey is the inverse of chunkKey.
func parseChunkKey(key string) (docID, genID string, ordinal int, err error) {
	i := strings.LastIndex(key, "|")
	if i < 0 {
		return "", "", 0, fmt.Errorf("malformed chunk key %q", key)
	}
	if _, err := fmt.Sscanf(key[i+1:], "%d", &ordinal); err != nil {
		return "", "", 0, fmt.Errorf("malformed chunk key %q: %w", key, err)
	}
	rest := key[:i]
	j := strings.LastIndex(rest, "|")
	if j < 0 {
		return "", "", 0, fmt.Errorf("malformed chunk key %q", key)
	}
	return rest[:j], rest[j+1:], ordinal, nil
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
