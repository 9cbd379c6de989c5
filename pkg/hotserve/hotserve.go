// Package hotserve provides a public Go API for running the live-reload
// development server as a library, without the CLI.
//
// Basic usage:
//
//	session, err := hotserve.Start(ctx, "path/to/site")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Shutdown(context.Background())
//
//	fmt.Println("project:", session.ProjectAddr())
//	fmt.Println("status: ", session.StatusAddr())
//
// With options:
//
//	session, err := hotserve.Start(ctx, "path/to/site",
//	    hotserve.WithSettle(300*time.Millisecond),
//	    hotserve.WithProjectAddr("127.0.0.1:8080"),
//	)
package hotserve

import (
	"context"
	"log/slog"
	"time"

	"github.com/hupe1980/hotserve/internal/server"
)

// Option configures the server.
type Option func(*server.Options)

// WithProjectAddr sets the project listener address (host:port; port 0
// requests an ephemeral port).
func WithProjectAddr(addr string) Option {
	return func(o *server.Options) { o.ProjectAddr = addr }
}

// WithStatusAddr sets the status listener address.
func WithStatusAddr(addr string) Option {
	return func(o *server.Options) { o.StatusAddr = addr }
}

// WithSettle sets the debounce window for change batches.
func WithSettle(settle time.Duration) Option {
	return func(o *server.Options) { o.Settle = settle }
}

// WithHistoryLimit bounds the in-memory batch log.
func WithHistoryLimit(n int) Option {
	return func(o *server.Options) { o.HistoryLimit = n }
}

// WithBacklog sets how many recent batches a new subscriber receives on
// connect.
func WithBacklog(n int) Option {
	return func(o *server.Options) { o.Backlog = n }
}

// WithQueueLimit bounds each subscriber's outbound queue.
func WithQueueLimit(n int) Option {
	return func(o *server.Options) { o.QueueLimit = n }
}

// WithIndexNames sets the filenames tried for directory requests.
func WithIndexNames(names ...string) Option {
	return func(o *server.Options) { o.IndexNames = names }
}

// WithExcludePatterns overrides the default exclusion globs.
func WithExcludePatterns(patterns ...string) Option {
	return func(o *server.Options) { o.ExcludePatterns = patterns }
}

// WithColorScheme selects the status dashboard palette.
func WithColorScheme(scheme string) Option {
	return func(o *server.Options) { o.ColorScheme = scheme }
}

// WithLogger sets the logger receiving structured lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *server.Options) { o.Logger = logger }
}

// Session is a running live-reload server pair.
type Session struct {
	srv *server.Server
}

// Start validates root, binds both listeners, and starts watching. ctx
// governs the watch pipeline: cancelling it stops event processing, but
// Shutdown must still be called to close the listeners and release the
// native watch handle.
func Start(ctx context.Context, root string, opts ...Option) (*Session, error) {
	o := server.DefaultOptions()
	o.Root = root

	for _, opt := range opts {
		opt(&o)
	}

	srv, err := server.New(o)
	if err != nil {
		return nil, err
	}

	if err := srv.Start(ctx); err != nil {
		return nil, err
	}

	return &Session{srv: srv}, nil
}

// ProjectAddr returns the bound project listener address.
func (s *Session) ProjectAddr() string { return s.srv.ProjectAddr() }

// StatusAddr returns the bound status listener address.
func (s *Session) StatusAddr() string { return s.srv.StatusAddr() }

// Fatal delivers at most one fatal mid-session error, such as the served
// root being deleted while the session runs.
func (s *Session) Fatal() <-chan error { return s.srv.Fatal() }

// Shutdown stops both listeners and releases the native watch handle.
func (s *Session) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }
