// Package routes maintains the live mapping from request path to on-disk
// file used to serve the project directory. The index is built by a single
// initial scan and then updated synchronously on every file change, so route
// resolution always reflects the most recent change seen, independent of the
// batching done for broadcast.
package routes

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hupe1980/hotserve/internal/watch"
)

// Resolution errors, surfaced as ordinary HTTP responses by the server.
var (
	// ErrNotFound indicates no entry exists for the requested path.
	ErrNotFound = errors.New("no route for path")

	// ErrForbidden indicates the requested path escapes the served root.
	ErrForbidden = errors.New("path escapes served root")
)

// DefaultIndexNames are the filenames tried, in order, when a directory is
// requested.
func DefaultIndexNames() []string {
	return []string{"index.html", "index.htm"}
}

// Entry is one resolved route: a file or directory under the served root.
type Entry struct {
	// Path is the slash-separated path relative to the root ("." for the
	// root itself).
	Path string

	// AbsPath is the absolute on-disk location.
	AbsPath string

	// IsDir marks directory entries; these resolve through index filenames.
	IsDir bool
}

// Index is the prefix-keyed lookup structure mapping request paths to files.
// A plain mutex-guarded map is deliberate: at dev-loop event rates the
// serialized map beats the complexity of a copy-on-write structure.
type Index struct {
	root       string
	indexNames []string
	exclude    *watch.Exclude

	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty index for root. Call Scan to populate it.
func New(root string, indexNames []string, exclude *watch.Exclude) *Index {
	if len(indexNames) == 0 {
		indexNames = DefaultIndexNames()
	}

	return &Index{
		root:       root,
		indexNames: indexNames,
		exclude:    exclude,
		entries:    make(map[string]Entry),
	}
}

// Scan walks the served root once and populates the index. Excluded names
// and symlinks are skipped, so nothing outside the root is ever reachable
// through the index. Call once at startup; file change events keep the index
// current afterwards.
func (ix *Index) Scan() error {
	entries := map[string]Entry{
		".": {Path: ".", AbsPath: ix.root, IsDir: true},
	}

	err := filepath.WalkDir(ix.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, ok := ix.relative(p)
		if !ok || rel == "." {
			return nil
		}

		if ix.exclude.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		entries[rel] = Entry{Path: rel, AbsPath: p, IsDir: d.IsDir()}

		return nil
	})
	if err != nil {
		return err
	}

	ix.mu.Lock()
	ix.entries = entries
	ix.mu.Unlock()

	return nil
}

// Len returns the number of indexed entries, the root included.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return len(ix.entries)
}

// Resolve maps a request path to an entry. Directory entries resolve through
// the configured index filenames. Paths that normalize outside the root
// yield ErrForbidden; everything else missing yields ErrNotFound.
func (ix *Index) Resolve(requestPath string) (Entry, error) {
	trimmed := strings.TrimPrefix(requestPath, "/")

	// Normalize before lookup; a path that still climbs after cleaning is a
	// traversal attempt, not a miss.
	cleaned := path.Clean(trimmed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.Contains(requestPath, "\x00") {
		return Entry{}, ErrForbidden
	}

	key := cleaned
	if key == "" || key == "/" {
		key = "."
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	entry, ok := ix.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}

	if !entry.IsDir {
		return entry, nil
	}

	for _, name := range ix.indexNames {
		childKey := name
		if key != "." {
			childKey = key + "/" + name
		}

		if child, ok := ix.entries[childKey]; ok && !child.IsDir {
			return child, nil
		}
	}

	return Entry{}, ErrNotFound
}

// Apply updates the index for one file change: Created/Modified upserts,
// Removed deletes the entry and everything below it, Renamed is a
// delete-then-upsert pair.
func (ix *Index) Apply(ch watch.FileChange) {
	if ix.exclude.Match(ch.Path) {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	switch ch.Kind {
	case watch.KindCreated, watch.KindModified:
		ix.upsertLocked(ch.Path)

	case watch.KindRemoved:
		ix.removeLocked(ch.Path)

	case watch.KindRenamed:
		if ch.RenamedFrom != "" {
			ix.removeLocked(ch.RenamedFrom)
			ix.upsertLocked(ch.Path)
		} else {
			// Only the departing side of the rename was observed.
			ix.removeLocked(ch.Path)
		}
	}
}

// upsertLocked stats the path and inserts or refreshes its entry. A path
// that no longer exists on disk is removed instead, keeping the invariant
// that the index never references a vanished file past the last event.
func (ix *Index) upsertLocked(rel string) {
	abs := filepath.Join(ix.root, filepath.FromSlash(rel))

	info, err := os.Lstat(abs)
	if err != nil {
		ix.removeLocked(rel)
		return
	}

	if info.Mode()&fs.ModeSymlink != 0 {
		return
	}

	ix.entries[rel] = Entry{Path: rel, AbsPath: abs, IsDir: info.IsDir()}
}

// removeLocked deletes rel and, for directories, all descendants.
func (ix *Index) removeLocked(rel string) {
	if rel == "." {
		return
	}

	delete(ix.entries, rel)

	prefix := rel + "/"
	for key := range ix.entries {
		if strings.HasPrefix(key, prefix) {
			delete(ix.entries, key)
		}
	}
}

// relative mirrors the normalizer's path resolution.
func (ix *Index) relative(p string) (string, bool) {
	rel, err := filepath.Rel(ix.root, p)
	if err != nil {
		return "", false
	}

	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}

	return rel, true
}
