package watch

import (
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultExcludePatterns lists files and directories that are never watched
// or served. These cover metadata files of no interest as well as files that
// may leak sensitive information: serving a .git directory, for example,
// would expose repository history to any client.
func DefaultExcludePatterns() []string {
	return []string{
		".git",
		".gitignore",
		".htaccess",
		".DS_Store",
		// Editor droppings: vim swap/backup files, emacs autosaves and
		// lockfiles, vim's atomic-write probe file.
		"*~",
		"*.swp",
		"*.swx",
		".#*",
		"#*#",
		"4913",
	}
}

// Exclude matches path segments against a set of glob patterns. A path is
// excluded when any of its segments matches any pattern, so ".git" also
// excludes everything below ".git/".
type Exclude struct {
	patterns []glob.Glob
}

// NewExclude compiles the given patterns. An empty or nil list yields a
// matcher that excludes nothing.
func NewExclude(patterns []string) (*Exclude, error) {
	e := &Exclude{patterns: make([]glob.Glob, 0, len(patterns))}

	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling exclude pattern %q: %w", p, err)
		}

		e.patterns = append(e.patterns, g)
	}

	return e, nil
}

// Match reports whether the slash-separated relative path is excluded.
func (e *Exclude) Match(relPath string) bool {
	if e == nil || len(e.patterns) == 0 {
		return false
	}

	relPath = path.Clean(relPath)
	if relPath == "." {
		return false
	}

	for _, segment := range strings.Split(relPath, "/") {
		for _, g := range e.patterns {
			if g.Match(segment) {
				return true
			}
		}
	}

	return false
}
