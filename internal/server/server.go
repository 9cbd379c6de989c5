// Package server runs the two HTTP listeners of hotserve: the project
// surface serving the watched directory and the status surface serving the
// dashboard. Both are backed by the same watch session and broadcast hub and
// bind to OS-assigned ephemeral ports by default.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/hupe1980/hotserve/internal/hub"
	"github.com/hupe1980/hotserve/internal/routes"
	"github.com/hupe1980/hotserve/internal/watch"
)

// ErrListenerBind indicates one of the two HTTP listeners failed to bind.
// Fatal at startup; the other listener, if already bound, is torn down so no
// partial-running state survives.
var ErrListenerBind = errors.New("listener bind failed")

// Options configures a Server.
type Options struct {
	// Root is the served project directory. Required.
	Root string

	// ProjectAddr and StatusAddr are listen addresses in host:port form.
	// Port 0 requests an OS-assigned ephemeral port.
	ProjectAddr string
	StatusAddr  string

	// Settle is the debounce window for change batches.
	Settle time.Duration

	// Hub sizing; zero values use the hub defaults.
	HistoryLimit int
	Backlog      int
	QueueLimit   int

	// IndexNames are the filenames tried for directory requests.
	IndexNames []string

	// ExcludePatterns override the default exclusion globs.
	ExcludePatterns []string

	// ColorScheme selects the dashboard palette. Cosmetic only.
	ColorScheme string

	// Logger receives structured lifecycle events.
	Logger *slog.Logger
}

// DefaultOptions returns sensible defaults: IPv6 loopback, ephemeral ports,
// the default settle window, and the default exclusion rules.
func DefaultOptions() Options {
	return Options{
		ProjectAddr:     "[::1]:0",
		StatusAddr:      "[::1]:0",
		Settle:          watch.DefaultSettle,
		IndexNames:      routes.DefaultIndexNames(),
		ExcludePatterns: watch.DefaultExcludePatterns(),
		ColorScheme:     DefaultColorScheme,
		Logger:          slog.Default(),
	}
}

// Server is the dual-listener orchestrator.
type Server struct {
	opts    Options
	logger  *slog.Logger
	index   *routes.Index
	session *watchSession
	started time.Time

	projectLn net.Listener
	statusLn  net.Listener

	projectSrv *http.Server
	statusSrv  *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
	fatal  chan error

	mu      sync.Mutex
	running bool
}

// New validates the root, scans the route index, and constructs the watch
// session. It returns watch.ErrRootInaccessible when root is not a readable
// directory and watch.ErrWatchUnavailable when the native watcher cannot be
// created. No listeners are bound yet; call Start.
func New(opts Options) (*Server, error) {
	def := DefaultOptions()

	if opts.ProjectAddr == "" {
		opts.ProjectAddr = def.ProjectAddr
	}

	if opts.StatusAddr == "" {
		opts.StatusAddr = def.StatusAddr
	}

	if opts.Settle <= 0 {
		opts.Settle = def.Settle
	}

	if len(opts.IndexNames) == 0 {
		opts.IndexNames = def.IndexNames
	}

	if opts.ExcludePatterns == nil {
		opts.ExcludePatterns = def.ExcludePatterns
	}

	if opts.Logger == nil {
		opts.Logger = def.Logger
	}

	exclude, err := watch.NewExclude(opts.ExcludePatterns)
	if err != nil {
		return nil, err
	}

	session, err := newWatchSession(opts.Root, exclude, opts.Settle, hub.Options{
		HistoryLimit: opts.HistoryLimit,
		Backlog:      opts.Backlog,
		QueueLimit:   opts.QueueLimit,
		Logger:       opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	index := routes.New(session.Root(), opts.IndexNames, exclude)
	if err := index.Scan(); err != nil {
		session.close()
		return nil, fmt.Errorf("%w: scanning project directory: %w", watch.ErrRootInaccessible, err)
	}

	return &Server{
		opts:    opts,
		logger:  opts.Logger,
		index:   index,
		session: session,
		fatal:   make(chan error, 1),
	}, nil
}

// Start binds both listeners and launches the watch pipeline. A bind failure
// on either listener tears down the other and returns ErrListenerBind.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("server already started")
	}

	projectLn, err := net.Listen("tcp", s.opts.ProjectAddr)
	if err != nil {
		s.session.close()
		return fmt.Errorf("%w: project listener on %s: %w", ErrListenerBind, s.opts.ProjectAddr, err)
	}

	statusLn, err := net.Listen("tcp", s.opts.StatusAddr)
	if err != nil {
		_ = projectLn.Close()
		s.session.close()

		return fmt.Errorf("%w: status listener on %s: %w", ErrListenerBind, s.opts.StatusAddr, err)
	}

	s.projectLn = projectLn
	s.statusLn = statusLn
	s.started = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.projectSrv = &http.Server{
		Handler:           s.projectRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.statusSrv = &http.Server{
		Handler:           s.statusRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(3)

	go func() {
		defer s.wg.Done()
		s.session.run(runCtx, s.index, s.fatal)
	}()

	go func() {
		defer s.wg.Done()

		if serveErr := s.projectSrv.Serve(projectLn); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("project server stopped", slog.String("error", serveErr.Error()))
		}
	}()

	go func() {
		defer s.wg.Done()

		if serveErr := s.statusSrv.Serve(statusLn); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("status server stopped", slog.String("error", serveErr.Error()))
		}
	}()

	s.running = true

	s.logger.Info("session started",
		slog.String("root", s.session.Root()),
		slog.String("projectAddr", projectLn.Addr().String()),
		slog.String("statusAddr", statusLn.Addr().String()),
		slog.Duration("settle", s.opts.Settle),
	)

	return nil
}

// ProjectAddr returns the bound project listener address. Valid after Start.
func (s *Server) ProjectAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.projectLn == nil {
		return ""
	}

	return s.projectLn.Addr().String()
}

// StatusAddr returns the bound status listener address. Valid after Start.
func (s *Server) StatusAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.statusLn == nil {
		return ""
	}

	return s.statusLn.Addr().String()
}

// Fatal delivers at most one fatal mid-session error (the served root
// vanished). The caller is expected to Shutdown.
func (s *Server) Fatal() <-chan error { return s.fatal }

// Shutdown closes both listeners, stops the watch session, and releases the
// native watch handle. In-flight requests get until ctx to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()
		s.session.close()

		return nil
	}

	s.running = false
	cancel := s.cancel
	projectSrv, statusSrv := s.projectSrv, s.statusSrv
	s.mu.Unlock()

	cancel()

	var errs []error

	if err := projectSrv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("project server: %w", err))
	}

	if err := statusSrv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("status server: %w", err))
	}

	s.session.close()
	s.wg.Wait()

	s.logger.Info("session stopped", slog.String("root", s.session.Root()))

	return errors.Join(errs...)
}

// noStore sets Cache-Control: no-store on every response. A live-reload
// server must never let a browser cache stale project files.
func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// methodNotAllowed mirrors the project surface's GET-only contract.
func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", http.MethodGet)
	http.Error(w, "HTTP 405. Method not allowed.", http.StatusMethodNotAllowed)
}

// projectRouter serves the watched directory plus the push endpoints and the
// reload client script.
func (s *Server) projectRouter() http.Handler {
	r := mux.NewRouter()
	r.Use(noStore)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	r.HandleFunc("/event-stream/", s.handleEventStream).Methods(http.MethodGet)
	r.HandleFunc("/event-ws/", s.handleEventWS).Methods(http.MethodGet)
	r.HandleFunc(reloadScriptPath, s.handleReloadScript).Methods(http.MethodGet)
	r.PathPrefix("/").HandlerFunc(s.handleProject).Methods(http.MethodGet)

	return r
}

// statusRouter serves the dashboard and its assets plus the push endpoints.
func (s *Server) statusRouter() http.Handler {
	r := mux.NewRouter()
	r.Use(noStore)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	r.HandleFunc("/", s.handleDashboard).Methods(http.MethodGet)
	r.HandleFunc("/style/main.css", s.handleAsset("assets/main.css", "text/css; charset=utf-8")).Methods(http.MethodGet)
	r.HandleFunc("/js/main.js", s.handleAsset("assets/main.js", "text/javascript; charset=utf-8")).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatusAPI).Methods(http.MethodGet)
	r.HandleFunc("/event-stream/", s.handleEventStream).Methods(http.MethodGet)
	r.HandleFunc("/event-ws/", s.handleEventWS).Methods(http.MethodGet)

	return r
}
