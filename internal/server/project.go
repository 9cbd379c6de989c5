package server

import (
	"bytes"
	"embed"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/hupe1980/hotserve/internal/routes"
)

//go:embed assets
var assetsFS embed.FS

// reloadScriptPath is the well-known location of the injected client script.
// The double-underscore prefix keeps it out of the way of real project files.
const reloadScriptPath = "/__hotserve/reload.js"

const notFoundBody = "HTTP 404. File not found."

// reloadSnippet is injected into served HTML so every page opens a push
// connection and reloads itself when a change batch arrives.
var reloadSnippet = []byte(`<script src="` + reloadScriptPath + `" defer></script>`)

var closingBodyTag = regexp.MustCompile(`(?i)</body>`)

// handleProject serves files from the watched directory through the route
// index.
func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	entry, err := s.index.Resolve(r.URL.Path)

	switch {
	case errors.Is(err, routes.ErrForbidden):
		s.logger.Warn("rejected traversal attempt",
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
		)
		http.Error(w, "HTTP 403. Forbidden.", http.StatusForbidden)

		return

	case errors.Is(err, routes.ErrNotFound):
		http.Error(w, notFoundBody, http.StatusNotFound)
		return

	case err != nil:
		http.Error(w, "HTTP 500. Internal server error.", http.StatusInternalServerError)
		return
	}

	if isHTML(entry.Path) {
		s.serveInjectedHTML(w, r, entry)
		return
	}

	f, err := os.Open(entry.AbsPath)
	if err != nil {
		// The file vanished between resolve and open; a per-request race,
		// not a session problem.
		http.Error(w, notFoundBody, http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, notFoundBody, http.StatusNotFound)
		return
	}

	http.ServeContent(w, r, path.Base(entry.Path), info.ModTime(), f)
}

// serveInjectedHTML serves an HTML file with the reload client script
// injected before the closing body tag (or appended when there is none).
func (s *Server) serveInjectedHTML(w http.ResponseWriter, r *http.Request, entry routes.Entry) {
	body, err := os.ReadFile(entry.AbsPath)
	if err != nil {
		http.Error(w, notFoundBody, http.StatusNotFound)
		return
	}

	if loc := closingBodyTag.FindIndex(body); loc != nil {
		injected := make([]byte, 0, len(body)+len(reloadSnippet))
		injected = append(injected, body[:loc[0]]...)
		injected = append(injected, reloadSnippet...)
		injected = append(injected, body[loc[0]:]...)
		body = injected
	} else {
		body = append(bytes.Clone(body), reloadSnippet...)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}

// handleReloadScript serves the embedded push client.
func (s *Server) handleReloadScript(w http.ResponseWriter, _ *http.Request) {
	data, err := assetsFS.ReadFile("assets/reload.js")
	if err != nil {
		http.Error(w, notFoundBody, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	_, _ = w.Write(data)
}

// handleAsset returns a handler serving one embedded asset with a fixed
// content type.
func (s *Server) handleAsset(name, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		data, err := assetsFS.ReadFile(name)
		if err != nil {
			http.Error(w, notFoundBody, http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(data)
	}
}

func isHTML(relPath string) bool {
	switch strings.ToLower(path.Ext(relPath)) {
	case ".html", ".htm":
		return true
	default:
		return false
	}
}
