// Package watcher observes the workspace case tree and publishes debounced
// change events to the broker. It prefers native filesystem notifications
// via fsnotify and degrades to periodic re-stat polling when native setup
// fails, so event delivery never silently stops.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/adalundhe/casehub/core/events"
)

// DefaultDebounce is the window within which notifications for the same
// path collapse into a single emitted event, keeping the last observed kind.
const DefaultDebounce = 300 * time.Millisecond

var (
	// ErrEmptyRoot indicates no root path was configured.
	ErrEmptyRoot = errors.New("watch root cannot be empty")

	// ErrRootNotDirectory indicates the root path is not a directory.
	ErrRootNotDirectory = errors.New("watch root is not a directory")

	// ErrAlreadyStarted indicates Start was called twice. A watcher is not
	// restartable; create a new one instead.
	ErrAlreadyStarted = errors.New("watcher already started")

	// ErrInvalidPattern indicates an exclude pattern could not be compiled.
	ErrInvalidPattern = errors.New("invalid exclude pattern")
)

// Config configures a Watcher.
type Config struct {
	// Root is the directory holding one folder per active case.
	Root string

	// ExcludePatterns are glob patterns for paths to ignore.
	ExcludePatterns []string

	// Debounce overrides the coalescing window. Zero means DefaultDebounce.
	Debounce time.Duration

	// PollInterval is the re-stat interval of the degraded fallback.
	// Zero means 2s.
	PollInterval time.Duration
}

func (c *Config) validate() error {
	if c.Root == "" {
		return ErrEmptyRoot
	}
	info, err := os.Stat(c.Root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return ErrRootNotDirectory
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	return nil
}

type pendingEvent struct {
	event events.ChangeEvent
	timer *time.Timer
}

// Watcher converts raw filesystem notifications into per-topic ChangeEvents
// on a Broker. One watcher per root; not restartable.
type Watcher struct {
	config   Config
	broker   *events.Broker
	excludes []glob.Glob
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingEvent
	started bool
	stopped bool

	// degraded is set when the polling fallback is active.
	degraded bool
}

// New creates a watcher feeding the given broker.
func New(config Config, broker *events.Broker, logger *slog.Logger) (*Watcher, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	excludes := make([]glob.Glob, 0, len(config.ExcludePatterns))
	for _, pattern := range config.ExcludePatterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.Join(ErrInvalidPattern, err)
		}
		excludes = append(excludes, g)
	}

	return &Watcher{
		config:   config,
		broker:   broker,
		excludes: excludes,
		logger:   logger,
		pending:  make(map[string]*pendingEvent),
	}, nil
}

// Start begins watching. It returns once the watch is established (native
// or degraded) and keeps running until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	w.started = true
	w.mu.Unlock()

	fsw, err := w.setupNative()
	if err != nil {
		// Native notification setup failed: engage the polling fallback
		// rather than terminating. Latency degrades, delivery does not.
		w.mu.Lock()
		w.degraded = true
		w.mu.Unlock()
		w.logger.Warn("native file notifications unavailable, polling fallback engaged",
			"root", w.config.Root, "interval", w.config.PollInterval, "error", err)
		poller := newPoller(w.config.Root, w.config.PollInterval, w)
		go poller.run(ctx)
		return nil
	}

	go w.processNative(ctx, fsw)
	return nil
}

// Degraded reports whether the polling fallback is active.
func (w *Watcher) Degraded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.degraded
}

func (w *Watcher) setupNative() (*fsnotify.Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	err = filepath.WalkDir(w.config.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if !d.IsDir() {
			return nil
		}
		if w.isExcluded(path) || isHidden(d.Name()) && path != w.config.Root {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
	if err != nil {
		fsw.Close()
		return nil, err
	}

	return fsw, nil
}

func (w *Watcher) processNative(ctx context.Context, fsw *fsnotify.Watcher) {
	defer fsw.Close()
	defer w.cancelPending()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleNative(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "root", w.config.Root, "error", err)
		}
	}
}

func (w *Watcher) handleNative(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if w.isExcluded(ev.Name) {
		return
	}

	// New directories must be added to keep the watch recursive.
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = fsw.Add(ev.Name)
		}
	}

	w.observe(ev.Name, mapOperation(ev.Op))
}

// observe records a raw change at path. Shared by the native and polling
// paths: it resolves the topic, then schedules a debounced emission.
func (w *Watcher) observe(path string, kind events.ChangeKind) {
	topic, topLevel := w.resolveTopic(path)
	if topic == "" {
		return
	}

	w.schedule(topic, kind)

	// A case folder appearing or disappearing also changes the listing.
	if topLevel && (kind == events.KindCreated || kind == events.KindDeleted) {
		w.schedule(events.TopicIndex, events.KindModified)
	}
}

// resolveTopic maps an absolute path to its case topic. The first path
// element under the root is the case key; topLevel reports whether the path
// is the case folder itself.
func (w *Watcher) resolveTopic(path string) (topic string, topLevel bool) {
	rel, err := filepath.Rel(w.config.Root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	key := parts[0]
	if isHidden(key) {
		return "", false
	}
	return key, len(parts) == 1
}

// schedule coalesces bursts: notifications for the same topic within the
// debounce window collapse into one event carrying the last observed kind.
func (w *Watcher) schedule(topic string, kind events.ChangeKind) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	ev := events.ChangeEvent{Topic: topic, Kind: kind, ObservedAt: time.Now()}

	if existing, ok := w.pending[topic]; ok {
		existing.event = ev
		return
	}

	p := &pendingEvent{event: ev}
	p.timer = time.AfterFunc(w.config.Debounce, func() {
		w.emit(topic)
	})
	w.pending[topic] = p
}

func (w *Watcher) emit(topic string) {
	w.mu.Lock()
	p, ok := w.pending[topic]
	if ok {
		delete(w.pending, topic)
	}
	stopped := w.stopped
	w.mu.Unlock()

	if !ok || stopped {
		return
	}
	w.broker.Publish(p.event)
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopped = true
	for _, p := range w.pending {
		p.timer.Stop()
	}
	w.pending = make(map[string]*pendingEvent)
}

func (w *Watcher) isExcluded(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.excludes {
		if pattern.Match(path) || pattern.Match(base) {
			return true
		}
	}
	return false
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func mapOperation(op fsnotify.Op) events.ChangeKind {
	switch {
	case op.Has(fsnotify.Create):
		return events.KindCreated
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return events.KindDeleted
	default:
		return events.KindModified
	}
}
