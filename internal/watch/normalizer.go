package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// drainLimit caps how many immediately-available native events are folded
// into one processing pass.
const drainLimit = 128

// Normalizer wraps the native watch facility and produces a lazy, infinite,
// non-restartable sequence of FileChange values, resolved relative to the
// served root and stripped of native duplicates.
type Normalizer struct {
	root    string
	exclude *Exclude
	logger  *slog.Logger

	fw      *fsnotify.Watcher
	changes chan FileChange
	fatal   chan error
}

// NewNormalizer validates root, registers it (and all subdirectories) with
// the native watcher, and returns a ready-to-run Normalizer. It fails with
// ErrRootInaccessible when root is not a readable directory and with
// ErrWatchUnavailable when the native facility cannot be created.
func NewNormalizer(root string, exclude *Exclude, logger *slog.Logger) (*Normalizer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %q: %w", ErrRootInaccessible, root, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRootInaccessible, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRootInaccessible, abs)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWatchUnavailable, err)
	}

	n := &Normalizer{
		root:    abs,
		exclude: exclude,
		logger:  logger,
		fw:      fw,
		changes: make(chan FileChange, 1024),
		fatal:   make(chan error, 1),
	}

	if err := n.addRecursive(abs, nil); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("%w: registering watches: %w", ErrWatchUnavailable, err)
	}

	return n, nil
}

// Root returns the absolute served root path.
func (n *Normalizer) Root() string { return n.root }

// Changes returns the stream of normalized file changes. The channel is
// closed when the run loop exits.
func (n *Normalizer) Changes() <-chan FileChange { return n.changes }

// Fatal delivers at most one fatal session error (root vanished mid-session).
func (n *Normalizer) Fatal() <-chan error { return n.fatal }

// Close releases the native watch handle. The run loop drains out and closes
// the changes channel.
func (n *Normalizer) Close() error { return n.fw.Close() }

// Run consumes native events until ctx is cancelled or the watch handle is
// closed. It only normalizes and forwards; no I/O beyond the occasional stat.
func (n *Normalizer) Run(ctx context.Context) {
	defer close(n.changes)

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-n.fw.Events:
			if !ok {
				return
			}

			if !n.processDrain(ctx, n.drain(ev)) {
				return
			}

		case err, ok := <-n.fw.Errors:
			if !ok {
				return
			}

			n.logger.Warn("native watcher error", slog.String("error", err.Error()))
		}
	}
}

// drain collects events that are already queued so that one OS-level burst is
// handled as a unit, with duplicate path+op pairs collapsed.
func (n *Normalizer) drain(first fsnotify.Event) []fsnotify.Event {
	events := []fsnotify.Event{first}

	for len(events) < drainLimit {
		select {
		case ev, ok := <-n.fw.Events:
			if !ok {
				return events
			}

			dup := false

			for _, seen := range events {
				if seen.Name == ev.Name && seen.Op == ev.Op {
					dup = true
					break
				}
			}

			if !dup {
				events = append(events, ev)
			}
		default:
			return events
		}
	}

	return events
}

// processDrain converts one batch of native events into FileChange values.
// It returns false when the session has died.
func (n *Normalizer) processDrain(ctx context.Context, events []fsnotify.Event) bool {
	now := time.Now()
	sawRemoval := false

	for i, ev := range events {
		if ev.Op == 0 {
			continue
		}

		rel, ok := n.relative(ev.Name)
		if !ok {
			continue
		}

		// Removal or rename of the root itself kills the session.
		if rel == "." {
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				n.die()
				return false
			}

			continue
		}

		if n.exclude.Match(rel) {
			continue
		}

		switch {
		case ev.Has(fsnotify.Create):
			if !n.emit(ctx, FileChange{Path: rel, Kind: n.pairRename(events[:i], rel), RenamedFrom: n.renamedFrom(events[:i]), ObservedAt: now}) {
				return false
			}

			// A freshly created directory must be watched too, and files
			// that arrived inside it (e.g. a directory moved into the root)
			// never get their own native events, so synthesize them.
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				if !n.adopt(ctx, ev.Name, now) {
					return false
				}
			}

		case ev.Has(fsnotify.Remove):
			sawRemoval = true

			if !n.emit(ctx, FileChange{Path: rel, Kind: KindRemoved, ObservedAt: now}) {
				return false
			}

		case ev.Has(fsnotify.Rename):
			sawRemoval = true

			// Only the departing side is reported here; if the arriving side
			// shows up in the same drain it is paired by pairRename above.
			if n.pairedLater(events[i+1:]) {
				continue
			}

			if !n.emit(ctx, FileChange{Path: rel, Kind: KindRenamed, ObservedAt: now}) {
				return false
			}

		default:
			// Write, chmod, and anything ambiguous.
			if !n.emit(ctx, FileChange{Path: rel, Kind: KindModified, ObservedAt: now}) {
				return false
			}
		}
	}

	if sawRemoval {
		if _, err := os.Stat(n.root); err != nil {
			n.die()
			return false
		}
	}

	return true
}

// pairRename upgrades a Create to a Renamed when an unmatched Rename was seen
// earlier in the same drain (a file moved within the root).
func (n *Normalizer) pairRename(earlier []fsnotify.Event, _ string) ChangeKind {
	if n.renamedFrom(earlier) != "" {
		return KindRenamed
	}

	return KindCreated
}

// renamedFrom returns the relative path of the first Rename event in the
// slice, or "" when there is none.
func (n *Normalizer) renamedFrom(events []fsnotify.Event) string {
	for _, ev := range events {
		if ev.Has(fsnotify.Rename) {
			if rel, ok := n.relative(ev.Name); ok && rel != "." {
				return rel
			}
		}
	}

	return ""
}

// pairedLater reports whether a Create follows in the same drain, meaning the
// rename will be reported by the Create side.
func (n *Normalizer) pairedLater(later []fsnotify.Event) bool {
	for _, ev := range later {
		if ev.Has(fsnotify.Create) {
			return true
		}
	}

	return false
}

// adopt registers a new directory tree and synthesizes Created changes for
// its current contents.
func (n *Normalizer) adopt(ctx context.Context, dir string, now time.Time) bool {
	found := make([]string, 0, 16)

	if err := n.addRecursive(dir, &found); err != nil {
		n.logger.Warn("watching new directory", slog.String("dir", dir), slog.String("error", err.Error()))
	}

	for _, rel := range found {
		if !n.emit(ctx, FileChange{Path: rel, Kind: KindCreated, ObservedAt: now}) {
			return false
		}
	}

	return true
}

// emit forwards a change, yielding on cancellation.
func (n *Normalizer) emit(ctx context.Context, ch FileChange) bool {
	select {
	case n.changes <- ch:
		return true
	case <-ctx.Done():
		return false
	}
}

// die reports the fatal root loss exactly once.
func (n *Normalizer) die() {
	select {
	case n.fatal <- fmt.Errorf("%w: %s", ErrRootInaccessible, n.root):
	default:
	}
}

// relative resolves an absolute native path to a slash-separated path
// relative to the root. Paths outside the root are rejected.
func (n *Normalizer) relative(name string) (string, bool) {
	rel, err := filepath.Rel(n.root, name)
	if err != nil {
		return "", false
	}

	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}

	return rel, true
}

// addRecursive walks dir and registers every non-excluded directory with the
// native watcher. When found is non-nil, the relative path of every adopted
// entry (files and directories) is appended to it.
func (n *Normalizer) addRecursive(dir string, found *[]string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// The entry may have vanished between readdir and stat; a
			// dev-loop watcher keeps going.
			n.logger.Debug("skipping unreadable entry", slog.String("path", p), slog.String("error", err.Error()))
			return nil
		}

		rel, ok := n.relative(p)
		if !ok {
			return nil
		}

		if rel != "." && n.exclude.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		// Symlinks are skipped wholesale so nothing outside the root is
		// ever tracked or served through one.
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		if d.IsDir() {
			if werr := n.fw.Add(p); werr != nil {
				return fmt.Errorf("watching %s: %w", p, werr)
			}
		}

		if found != nil && rel != "." {
			*found = append(*found, rel)
		}

		return nil
	})
}
