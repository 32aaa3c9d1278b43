// Package watch turns text files dropped into an inbox directory into
// pipeline projects.
package watch

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/clipforge/orchestrator/internal/domain"
)

// AdmitFunc receives each project created from a dropped file
type AdmitFunc func(p *domain.Project) error

// Watcher monitors the inbox directory for new .txt files. Files are
// debounced so a project is only created once the writer has finished.
type Watcher struct {
	watcher  *fsnotify.Watcher
	inboxDir string
	admit    AdmitFunc
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer

	cancel context.CancelFunc
}

// New creates a watcher over inboxDir, creating it if needed
func New(inboxDir string, admit AdmitFunc) (*Watcher, error) {
	if err := os.MkdirAll(inboxDir, 0o755); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(inboxDir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		watcher:  fsw,
		inboxDir: inboxDir,
		admit:    admit,
		debounce: 500 * time.Millisecond,
		pending:  make(map[string]struct{}),
	}, nil
}

// SetDebounce sets the settle time for dropped files
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// Start begins watching. Returns immediately; events are handled on a
// background goroutine until Stop or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	// pick up files that were dropped while the watcher was down
	if entries, err := os.ReadDir(w.inboxDir); err == nil {
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
				w.enqueue(filepath.Join(w.inboxDir, e.Name()))
			}
		}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("inbox watcher: %v", err)
			}
		}
	}()
}

// Stop halts the watcher
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".txt") {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	w.enqueue(event.Name)
}

func (w *Watcher) enqueue(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	for path := range pending {
		if err := w.createProject(path); err != nil {
			log.Printf("inbox file %s: %v", path, err)
		}
	}
}

// createProject reads the dropped file, admits it as a project and
// moves the file aside so it is not picked up again
func (w *Watcher) createProject(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil // still being written, the next write event retries
	}

	name := strings.TrimSuffix(filepath.Base(path), ".txt")
	p := domain.NewProject(uuid.NewString(), name, content)
	if err := w.admit(p); err != nil {
		return err
	}

	processed := filepath.Join(w.inboxDir, ".processed")
	if err := os.MkdirAll(processed, 0o755); err != nil {
		return err
	}
	if err := os.Rename(path, filepath.Join(processed, filepath.Base(path))); err != nil {
		return err
	}

	log.Printf("inbox: created project %s from %s", p.ID, filepath.Base(path))
	return nil
}
