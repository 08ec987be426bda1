package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/adalundhe/casehub/core/events"
)

// poller is the degraded fallback: it re-stats the tree at a coarse
// interval and synthesizes change events from mod-time and existence
// diffs. Accuracy matches the native path; only latency suffers.
type poller struct {
	root     string
	interval time.Duration
	watcher  *Watcher

	// seen maps path -> last observed mod time.
	seen map[string]time.Time
}

func newPoller(root string, interval time.Duration, w *Watcher) *poller {
	return &poller{
		root:     root,
		interval: interval,
		watcher:  w,
		seen:     make(map[string]time.Time),
	}
}

func (p *poller) run(ctx context.Context) {
	// Baseline scan: record current state without emitting.
	p.seen = p.snapshot()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	defer p.watcher.cancelPending()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.scan()
		}
	}
}

func (p *poller) scan() {
	current := p.snapshot()

	for path, modTime := range current {
		prev, existed := p.seen[path]
		switch {
		case !existed:
			p.watcher.observe(path, events.KindCreated)
		case modTime.After(prev):
			p.watcher.observe(path, events.KindModified)
		}
	}

	for path := range p.seen {
		if _, still := current[path]; !still {
			p.watcher.observe(path, events.KindDeleted)
		}
	}

	p.seen = current
}

func (p *poller) snapshot() map[string]time.Time {
	state := make(map[string]time.Time)

	_ = filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == p.root {
			return nil
		}
		if isHidden(d.Name()) || p.watcher.isExcluded(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, statErr := statEntry(d)
		if statErr != nil {
			return nil
		}
		state[path] = info.ModTime()
		return nil
	})

	return state
}

func statEntry(d fs.DirEntry) (fs.FileInfo, error) {
	info, err := d.Info()
	if err != nil {
		return nil, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fs.ErrInvalid
	}
	return info, nil
}
