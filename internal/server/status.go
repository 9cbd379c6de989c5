package server

import (
	"bytes"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/hupe1980/hotserve/internal/version"
	"github.com/hupe1980/hotserve/internal/watch"
)

var dashboardTmpl = template.Must(template.ParseFS(assetsFS, "assets/status.html.tmpl"))

// dashboardData feeds the status page template.
type dashboardData struct {
	Palette     palette
	Version     version.Info
	Root        string
	ProjectURL  string
	Subscribers int
	Dropped     uint64
	Uptime      string
	History     []watch.ChangeBatch
}

// handleDashboard renders the status page: session summary plus recent
// change batches, newest first.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, notFoundBody, http.StatusNotFound)
		return
	}

	history := s.session.hub.History()

	// Newest first for display.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	data := dashboardData{
		Palette:     paletteFor(s.opts.ColorScheme),
		Version:     version.GetInfo(),
		Root:        s.session.Root(),
		ProjectURL:  "http://" + s.ProjectAddr(),
		Subscribers: s.session.hub.Count(),
		Dropped:     s.session.hub.Dropped(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		History:     history,
	}

	var buf bytes.Buffer
	if err := dashboardTmpl.Execute(&buf, data); err != nil {
		s.logger.Error("rendering dashboard", slog.String("error", err.Error()))
		http.Error(w, "HTTP 500. Internal server error.", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// statusPayload is the machine-readable view of the session.
type statusPayload struct {
	Root        string              `json:"root"`
	ProjectAddr string              `json:"projectAddr"`
	StatusAddr  string              `json:"statusAddr"`
	Subscribers int                 `json:"subscribers"`
	Dropped     uint64              `json:"droppedBatches"`
	UptimeSec   int64               `json:"uptimeSeconds"`
	History     []watch.ChangeBatch `json:"history"`
}

// handleStatusAPI serves the dashboard data as JSON.
func (s *Server) handleStatusAPI(w http.ResponseWriter, _ *http.Request) {
	payload := statusPayload{
		Root:        s.session.Root(),
		ProjectAddr: s.ProjectAddr(),
		StatusAddr:  s.StatusAddr(),
		Subscribers: s.session.hub.Count(),
		Dropped:     s.session.hub.Dropped(),
		UptimeSec:   int64(time.Since(s.started).Seconds()),
		History:     s.session.hub.History(),
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encoding status payload", slog.String("error", err.Error()))
	}
}
