// Package spool watches a drop folder for extracted-page JSON files and
// feeds them into the ingestion pipeline. The page-fetch service writes
// one file per page; processed files are moved to a processed/ or
// failed/ subdirectory so the spool never grows unbounded.
package spool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pagelore/pagelore/internal/core/domain"
	"github.com/pagelore/pagelore/internal/core/ports/driving"
	"github.com/pagelore/pagelore/internal/logger"
)

// DefaultDebounce is how long a file must be quiet before it is read,
// absorbing writers that create then fill the file.
const DefaultDebounce = 500 * time.Millisecond

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// Config holds configuration for the spool watcher.
type Config struct {
	// Dir is the watched directory (required).
	Dir string

	// Debounce is the quiet period before a file is picked up
	// (default: 500ms).
	Debounce time.Duration
}

// Watcher consumes extracted-page files from a spool directory.
type Watcher struct {
	dir      string
	debounce time.Duration
	pipeline driving.IngestionPipeline

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// New creates a spool watcher feeding the given pipeline.
func New(cfg Config, pipeline driving.IngestionPipeline) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("spool: directory is required")
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultDebounce
	}

	return &Watcher{
		dir:      cfg.Dir,
		debounce: cfg.Debounce,
		pipeline: pipeline,
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Run watches the spool directory until ctx is cancelled. Files already
// present at startup are processed first.
func (w *Watcher) Run(ctx context.Context) error {
	for _, dir := range []string{w.dir, filepath.Join(w.dir, processedDir), filepath.Join(w.dir, failedDir)} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("spool: creating %s: %w", dir, err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("spool: creating watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("spool: watching %s: %w", w.dir, err)
	}

	logger.Info("Watching spool directory %s", w.dir)

	if err := w.sweep(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				w.drain()
				return nil
			}
			if path := w.handleFsEvent(event); path != "" {
				w.schedule(ctx, path)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				w.drain()
				return nil
			}
			logger.Warn("Spool watch error: %v", err)
		}
	}
}

// handleFsEvent returns the spool file path an event refers to, or empty
// when the event is not a pickup candidate. Only create and write events
// on visible .json files directly in the spool directory count.
func (w *Watcher) handleFsEvent(event fsnotify.Event) string {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return ""
	}
	if !eligible(event.Name) {
		return ""
	}
	if filepath.Dir(event.Name) != filepath.Clean(w.dir) {
		return ""
	}
	info, err := os.Stat(event.Name)
	if err != nil || info.IsDir() {
		return ""
	}
	return event.Name
}

// eligible reports whether a file name looks like a spool payload.
func eligible(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ".json")
}

// sweep processes files already sitting in the spool at startup.
func (w *Watcher) sweep(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("spool: reading %s: %w", w.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !eligible(entry.Name()) {
			continue
		}
		w.process(ctx, filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

// schedule arms (or re-arms) the debounce timer for a file. Each write
// event pushes the pickup back, so a file is only read once its writer
// has gone quiet.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.debounce)
		return
	}

	w.wg.Add(1)
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.process(ctx, path)
	})
}

// drain cancels pending timers and waits for in-flight processing.
func (w *Watcher) drain() {
	w.mu.Lock()
	for path, timer := range w.pending {
		if timer.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// process ingests one spool file and moves it out of the spool. A file
// that cannot be parsed or ingested lands in failed/; a busy document
// (ingestion already in flight) stays in the spool for the next event.
func (w *Watcher) process(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		logger.Warn("Spool: reading %s: %v", path, err)
		return
	}

	var page domain.ExtractedPage
	if err := json.Unmarshal(data, &page); err != nil {
		logger.Warn("Spool: %s is not a valid page payload: %v", filepath.Base(path), err)
		w.move(path, failedDir)
		return
	}

	report, err := w.pipeline.Ingest(ctx, page)
	if err != nil {
		if errors.Is(err, domain.ErrIngestionInProgress) {
			logger.Debug("Spool: %s deferred, document busy", filepath.Base(path))
			return
		}
		logger.Warn("Spool: ingesting %s: %v", filepath.Base(path), err)
		w.move(path, failedDir)
		return
	}

	logger.Info("Spool: ingested %s as %s (%d chunks)", filepath.Base(path), report.DocumentID, report.Chunks)
	w.move(path, processedDir)
}

// move relocates a spool file into a subdirectory, suffixing the name on
// collision so repeated drops of the same file never clobber history.
func (w *Watcher) move(path, subdir string) {
	base := filepath.Base(path)
	dest := filepath.Join(w.dir, subdir, base)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		dest = filepath.Join(w.dir, subdir, fmt.Sprintf("%s.%d%s", stem, time.Now().UnixNano(), ext))
	}
	if err := os.Rename(path, dest); err != nil {
		logger.Warn("Spool: moving %s to %s: %v", base, subdir, err)
	}
}
