// Package ingress implements the Event Ingress: it opens a subscription to
// the kernel's video-subsystem device events (via fsnotify, CGO-free and
// container-safe) and posts normalized device.RawEvent messages to the
// Device Tracker, falling back to periodic polling of /dev/video* when
// fsnotify is unavailable. The mode is chosen once at startup with no live
// switching, per SPEC_FULL.md §4.9.
package ingress

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mrmees/ravens-perch/internal/common"
	"github.com/mrmees/ravens-perch/internal/device"
	"github.com/mrmees/ravens-perch/internal/logging"
)

var _ common.Stoppable = (*Ingress)(nil)

// Sink is the single consumer of normalized ingress events: the Device
// Tracker.
type Sink interface {
	Observe(raw device.RawEvent)
}

// Ingress watches /dev for video device nodes and feeds a Sink. Mode
// (fsnotify vs polling) is decided once in Start and never switches live,
// per SPEC_FULL.md §4.9.
type Ingress struct {
	sink         Sink
	logger       *logging.Logger
	pollInterval time.Duration
	watchDir     string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	polling bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs an Ingress watching /dev. pollInterval is the
// polling-fallback cadence (config.ReconcilerConfig.PollInterval), used
// only when fsnotify cannot watch the directory.
func New(sink Sink, logger *logging.Logger, pollInterval time.Duration) *Ingress {
	return NewWithDir(sink, logger, pollInterval, "/dev")
}

// NewWithDir is New with an explicit watch directory, used by tests to
// point the ingress at a scratch directory instead of the real /dev.
func NewWithDir(sink Sink, logger *logging.Logger, pollInterval time.Duration, watchDir string) *Ingress {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Ingress{sink: sink, logger: logger, pollInterval: pollInterval, watchDir: watchDir, done: make(chan struct{})}
}

// Start begins watching. It tries fsnotify first; if /dev cannot be
// watched (container without the right permissions, platform without
// inotify), it silently falls back to polling for the remainder of the
// process's life.
func (in *Ingress) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	in.mu.Lock()
	in.cancel = cancel
	in.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(in.watchDir); err == nil {
			in.mu.Lock()
			in.watcher = watcher
			in.mu.Unlock()
			in.seedInitialState()
			go in.watchLoop(runCtx, watcher)
			return nil
		}
		watcher.Close()
	}

	in.logger.WithError(err).Warn("fsnotify unavailable, falling back to polling device discovery")
	in.mu.Lock()
	in.polling = true
	in.mu.Unlock()
	in.seedInitialState()
	go in.pollLoop(runCtx)
	return nil
}

// Stop cancels the subscription and waits for the running loop to drain,
// per SPEC_FULL.md §4.9's cancellation contract and common.Stoppable.
func (in *Ingress) Stop(ctx context.Context) error {
	in.mu.Lock()
	cancel := in.cancel
	watcher := in.watcher
	in.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	select {
	case <-in.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if watcher != nil {
		return watcher.Close()
	}
	return nil
}

// seedInitialState enumerates currently present device nodes once at
// startup so the tracker's first tick sees every already-attached camera,
// not just future hotplug events.
func (in *Ingress) seedInitialState() {
	for _, path := range listVideoNodes(in.watchDir) {
		in.sink.Observe(device.RawEvent{Path: path, Action: device.RawAdd})
	}
}

func (in *Ingress) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(in.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			in.processFsnotifyEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			in.logger.WithError(err).Warn("fsnotify watcher error")
		}
	}
}

func (in *Ingress) processFsnotifyEvent(ev fsnotify.Event) {
	if !strings.HasPrefix(filepath.Base(ev.Name), "video") {
		return
	}
	switch {
	case ev.Op&fsnotify.Create != 0:
		in.sink.Observe(device.RawEvent{Path: ev.Name, Action: device.RawAdd})
	case ev.Op&fsnotify.Remove != 0:
		in.sink.Observe(device.RawEvent{Path: ev.Name, Action: device.RawRemove})
	case ev.Op&fsnotify.Write != 0 || ev.Op&fsnotify.Chmod != 0:
		in.sink.Observe(device.RawEvent{Path: ev.Name, Action: device.RawAdd})
	}
}

// pollLoop scans /dev/video* on a fixed cadence and synthesizes add/remove
// events by diffing against the previously seen set, per SPEC_FULL.md
// §4.9's polling fallback.
func (in *Ingress) pollLoop(ctx context.Context) {
	defer close(in.done)

	ticker := time.NewTicker(in.pollInterval)
	defer ticker.Stop()

	seen := make(map[string]bool)
	for _, p := range listVideoNodes(in.watchDir) {
		seen[p] = true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := make(map[string]bool)
			for _, p := range listVideoNodes(in.watchDir) {
				current[p] = true
			}
			for p := range current {
				if !seen[p] {
					in.sink.Observe(device.RawEvent{Path: p, Action: device.RawAdd})
				}
			}
			for p := range seen {
				if !current[p] {
					in.sink.Observe(device.RawEvent{Path: p, Action: device.RawRemove})
				}
			}
			seen = current
		}
	}
}

// listVideoNodes enumerates dir/video* in sorted order, giving the polling
// loop and the initial seed a deterministic scan order.
func listVideoNodes(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var paths []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "video") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths
}
