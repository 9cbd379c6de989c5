package routes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/hotserve/internal/watch"
)

// newTestIndex builds and scans an index over a populated temp root.
func newTestIndex(t *testing.T, files map[string]string) (*Index, string) {
	t.Helper()

	root := t.TempDir()

	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	exclude, err := watch.NewExclude(watch.DefaultExcludePatterns())
	require.NoError(t, err)

	ix := New(root, nil, exclude)
	require.NoError(t, ix.Scan())

	return ix, root
}

// ---------------------------------------------------------------------------
// Scan
// ---------------------------------------------------------------------------

func TestScan_IndexesFilesAndDirectories(t *testing.T) {
	ix, _ := newTestIndex(t, map[string]string{
		"index.html":     "<html>",
		"style/main.css": "body{}",
	})

	// root, index.html, style, style/main.css
	assert.Equal(t, 4, ix.Len())

	entry, err := ix.Resolve("/style/main.css")
	require.NoError(t, err)
	assert.Equal(t, "style/main.css", entry.Path)
	assert.False(t, entry.IsDir)
}

func TestScan_SkipsExcludedNames(t *testing.T) {
	ix, _ := newTestIndex(t, map[string]string{
		"index.html":  "<html>",
		".git/config": "[core]",
		".DS_Store":   "junk",
	})

	_, err := ix.Resolve("/.git/config")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ix.Resolve("/.DS_Store")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScan_SkipsSymlinks(t *testing.T) {
	ix, root := newTestIndex(t, map[string]string{"real.txt": "x"})

	require.NoError(t, os.Symlink("/etc/passwd", filepath.Join(root, "link.txt")))
	require.NoError(t, ix.Scan())

	_, err := ix.Resolve("/link.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ix.Resolve("/real.txt")
	assert.NoError(t, err)
}

// ---------------------------------------------------------------------------
// Resolve
// ---------------------------------------------------------------------------

func TestResolve_RootUsesIndexFile(t *testing.T) {
	ix, _ := newTestIndex(t, map[string]string{"index.html": "<html>"})

	entry, err := ix.Resolve("/")
	require.NoError(t, err)
	assert.Equal(t, "index.html", entry.Path)
}

func TestResolve_RootFallsBackToIndexHtm(t *testing.T) {
	ix, _ := newTestIndex(t, map[string]string{"index.htm": "<html>"})

	entry, err := ix.Resolve("/")
	require.NoError(t, err)
	assert.Equal(t, "index.htm", entry.Path)
}

func TestResolve_DirectoryFallsBackToIndexHtm(t *testing.T) {
	ix, _ := newTestIndex(t, map[string]string{"docs/index.htm": "<html>"})

	entry, err := ix.Resolve("/docs")
	require.NoError(t, err)
	assert.Equal(t, "docs/index.htm", entry.Path)
}

func TestResolve_IndexHtmlPreferredOverHtm(t *testing.T) {
	ix, _ := newTestIndex(t, map[string]string{
		"docs/index.html": "a",
		"docs/index.htm":  "b",
	})

	entry, err := ix.Resolve("/docs/")
	require.NoError(t, err)
	assert.Equal(t, "docs/index.html", entry.Path)
}

func TestResolve_DirectoryWithoutIndexFile(t *testing.T) {
	ix, _ := newTestIndex(t, map[string]string{"docs/readme.txt": "x"})

	_, err := ix.Resolve("/docs")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_Missing(t *testing.T) {
	ix, _ := newTestIndex(t, map[string]string{"index.html": "<html>"})

	_, err := ix.Resolve("/no-such-file.css")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_TrailingSlashAndDotSegments(t *testing.T) {
	ix, _ := newTestIndex(t, map[string]string{"style/main.css": "x"})

	for _, p := range []string{"/style/main.css", "/style//main.css", "/style/./main.css", "/a/../style/main.css"} {
		entry, err := ix.Resolve(p)
		require.NoError(t, err, "path=%s", p)
		assert.Equal(t, "style/main.css", entry.Path, "path=%s", p)
	}
}

func TestResolve_TraversalIsForbidden(t *testing.T) {
	ix, _ := newTestIndex(t, map[string]string{"index.html": "<html>"})

	for _, p := range []string{
		"/../etc/passwd",
		"/../../etc/passwd",
		"/..",
		"/style/../../secret",
		"/index.html\x00.jpg",
	} {
		_, err := ix.Resolve(p)
		assert.ErrorIs(t, err, ErrForbidden, "path=%s", p)
	}
}

// ---------------------------------------------------------------------------
// Apply
// ---------------------------------------------------------------------------

func TestApply_CreatedMakesPathResolvable(t *testing.T) {
	ix, root := newTestIndex(t, map[string]string{"index.html": "<html>"})

	p := filepath.Join(root, "new.js")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	_, err := ix.Resolve("/new.js")
	assert.ErrorIs(t, err, ErrNotFound, "not resolvable before the change is applied")

	ix.Apply(watch.FileChange{Path: "new.js", Kind: watch.KindCreated})

	entry, err := ix.Resolve("/new.js")
	require.NoError(t, err)
	assert.Equal(t, p, entry.AbsPath)
}

func TestApply_RemovedMakesPathUnresolvable(t *testing.T) {
	ix, root := newTestIndex(t, map[string]string{"old.txt": "x"})

	require.NoError(t, os.Remove(filepath.Join(root, "old.txt")))
	ix.Apply(watch.FileChange{Path: "old.txt", Kind: watch.KindRemoved})

	_, err := ix.Resolve("/old.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApply_RemovedDirectoryDropsDescendants(t *testing.T) {
	ix, root := newTestIndex(t, map[string]string{
		"docs/index.html": "x",
		"docs/sub/a.txt":  "y",
	})

	require.NoError(t, os.RemoveAll(filepath.Join(root, "docs")))
	ix.Apply(watch.FileChange{Path: "docs", Kind: watch.KindRemoved})

	for _, p := range []string{"/docs", "/docs/index.html", "/docs/sub/a.txt"} {
		_, err := ix.Resolve(p)
		assert.ErrorIs(t, err, ErrNotFound, "path=%s", p)
	}
}

func TestApply_RenamedMovesEntry(t *testing.T) {
	ix, root := newTestIndex(t, map[string]string{"a.txt": "x"})

	require.NoError(t, os.Rename(filepath.Join(root, "a.txt"), filepath.Join(root, "b.txt")))
	ix.Apply(watch.FileChange{Path: "b.txt", Kind: watch.KindRenamed, RenamedFrom: "a.txt"})

	_, err := ix.Resolve("/a.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	entry, err := ix.Resolve("/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "b.txt", entry.Path)
}

func TestApply_UnpairedRenameRemoves(t *testing.T) {
	ix, root := newTestIndex(t, map[string]string{"gone.txt": "x"})

	// Moved out of the root: only the departing side is known.
	require.NoError(t, os.Rename(filepath.Join(root, "gone.txt"), filepath.Join(t.TempDir(), "gone.txt")))
	ix.Apply(watch.FileChange{Path: "gone.txt", Kind: watch.KindRenamed})

	_, err := ix.Resolve("/gone.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApply_VanishedFileIsRemovedOnUpsert(t *testing.T) {
	ix, root := newTestIndex(t, map[string]string{"flash.txt": "x"})

	// The file was modified and deleted before the event is applied; the
	// stat during upsert notices and removes the entry instead.
	require.NoError(t, os.Remove(filepath.Join(root, "flash.txt")))
	ix.Apply(watch.FileChange{Path: "flash.txt", Kind: watch.KindModified})

	_, err := ix.Resolve("/flash.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApply_ExcludedChangeIgnored(t *testing.T) {
	ix, root := newTestIndex(t, map[string]string{"index.html": "<html>"})

	p := filepath.Join(root, ".htaccess")
	require.NoError(t, os.WriteFile(p, []byte("deny"), 0o644))
	ix.Apply(watch.FileChange{Path: ".htaccess", Kind: watch.KindCreated})

	_, err := ix.Resolve("/.htaccess")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApply_NewDirectoryResolvesThroughIndexFile(t *testing.T) {
	ix, root := newTestIndex(t, map[string]string{"index.html": "<html>"})

	require.NoError(t, os.Mkdir(filepath.Join(root, "blog"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "blog", "index.html"), []byte("<html>"), 0o644))

	ix.Apply(watch.FileChange{Path: "blog", Kind: watch.KindCreated})
	ix.Apply(watch.FileChange{Path: "blog/index.html", Kind: watch.KindCreated})

	entry, err := ix.Resolve("/blog/")
	require.NoError(t, err)
	assert.Equal(t, "blog/index.html", entry.Path)
}
