package indexer

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/LeanVibe/leanvibe-ai-sub004/internal/config"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/debug"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/types"
)

// Watcher monitors a workspace and emits debounced change-event batches
// on a single-consumer channel, so overlapping filesystem noise never
// races the index: the consumer applies one batch at a time.
type Watcher struct {
	watcher   *fsnotify.Watcher
	cfg       *config.Config
	root      string
	scanner   *Scanner
	debouncer *eventDebouncer
	batches   chan []types.ChangeEvent
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	statsMu         sync.RWMutex
	eventsProcessed int64
	lastEventTime   time.Time
}

// NewWatcher creates a watcher for a workspace root.
func NewWatcher(root string, cfg *config.Config) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		watcher: fsWatcher,
		cfg:     cfg,
		root:    root,
		scanner: NewScanner(root, cfg, nil, nil),
		batches: make(chan []types.ChangeEvent, 16),
		ctx:     ctx,
		cancel:  cancel,
	}
	w.debouncer = newEventDebouncer(time.Duration(cfg.Index.WatchDebounceMs)*time.Millisecond, w.emit)
	return w, nil
}

// Changes returns the batch channel. It is closed on Stop.
func (w *Watcher) Changes() <-chan []types.ChangeEvent {
	return w.batches
}

// Start adds recursive watches and begins processing events.
func (w *Watcher) Start() error {
	debug.LogIndexing("starting watcher for %s\n", w.root)

	if err := w.addWatches(w.root); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop tears the watcher down. Events pending in the debouncer at
// shutdown are dropped; the next index pass reconciles them.
func (w *Watcher) Stop() error {
	w.cancel()
	// stop blocks until any in-flight flush has finished, so closing the
	// batch channel afterwards is safe.
	w.debouncer.stop()
	err := w.watcher.Close()
	w.wg.Wait()
	close(w.batches)
	return err
}

// addWatches walks the tree adding directory watches, resolving through
// symlinks so a cycle never loops the walk.
func (w *Watcher) addWatches(root string) error {
	visited := make(map[string]bool)

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() {
			return nil
		}

		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return filepath.SkipDir
		}
		if visited[realPath] {
			return filepath.SkipDir
		}
		visited[realPath] = true

		rel, err := filepath.Rel(root, path)
		if err == nil && rel != "." && w.scanner.excluded(filepath.ToSlash(rel)+"/") {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(path); err != nil {
			log.Printf("warning: failed to watch %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
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
			log.Printf("watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name

	info, statErr := os.Stat(path)
	if statErr != nil {
		// Gone from disk: both Remove and the old-name half of a Rename
		// land here.
		if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && w.shouldProcess(path) {
			w.debouncer.add(path, types.ChangeDeleted)
		}
		return
	}

	if info.IsDir() {
		// New directories need their own watch to see files below them.
		if event.Op&fsnotify.Create != 0 {
			rel, err := filepath.Rel(w.root, path)
			if err != nil || w.scanner.excluded(filepath.ToSlash(rel)+"/") {
				return
			}
			if err := w.watcher.Add(path); err != nil {
				log.Printf("warning: failed to watch new directory %s: %v", path, err)
			}
		}
		return
	}

	if info.Size() > w.cfg.Index.MaxFileSize || !w.shouldProcess(path) {
		return
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		w.debouncer.add(path, types.ChangeCreated)
	case event.Op&fsnotify.Write != 0:
		w.debouncer.add(path, types.ChangeModified)
	}
}

func (w *Watcher) shouldProcess(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	return w.scanner.Matches(filepath.ToSlash(rel))
}

// emit publishes one debounced batch, dropping it if the watcher is
// shutting down.
func (w *Watcher) emit(events map[string]types.ChangeKind) {
	batch := make([]types.ChangeEvent, 0, len(events))
	now := time.Now()
	for path, kind := range events {
		batch = append(batch, types.ChangeEvent{Path: path, Kind: kind, Timestamp: now})
	}

	select {
	case w.batches <- batch:
		w.statsMu.Lock()
		w.eventsProcessed += int64(len(batch))
		w.lastEventTime = now
		w.statsMu.Unlock()
	case <-w.ctx.Done():
	}
}

// Stats returns watch counters.
func (w *Watcher) Stats() (eventsProcessed int64, lastEvent time.Time, active bool) {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return w.eventsProcessed, w.lastEventTime, w.ctx.Err() == nil
}

// eventDebouncer coalesces bursts of file events: the latest kind per
// path wins, and the flush timer resets on every new event.
type eventDebouncer struct {
	mu       sync.Mutex
	events   map[string]types.ChangeKind
	debounce time.Duration
	timer    *time.Timer
	flushFn  func(map[string]types.ChangeKind)
	stopped  bool
}

func newEventDebouncer(debounce time.Duration, flushFn func(map[string]types.ChangeKind)) *eventDebouncer {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	return &eventDebouncer{
		events:   make(map[string]types.ChangeKind),
		debounce: debounce,
		flushFn:  flushFn,
	}
}

func (d *eventDebouncer) add(path string, kind types.ChangeKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	// Created-then-modified within one burst is still a creation.
	if existing, ok := d.events[path]; !ok || !(existing == types.ChangeCreated && kind == types.ChangeModified) {
		d.events[path] = kind
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, d.flush)
}

// flush publishes the pending events. The mutex is held through the
// callback so stop() cannot return while a flush is mid-flight.
func (d *eventDebouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.events) == 0 {
		return
	}
	events := d.events
	d.events = make(map[string]types.ChangeKind)
	d.flushFn(events)
}

func (d *eventDebouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
