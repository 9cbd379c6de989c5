package watch

import "errors"

// Fatal session errors. Both terminate the watch session and propagate to
// the orchestrator for shutdown.
var (
	// ErrWatchUnavailable indicates the native watch facility could not be
	// initialised (unsupported platform, exhausted OS watch resources).
	ErrWatchUnavailable = errors.New("native file watcher unavailable")

	// ErrRootInaccessible indicates the served root is missing or unreadable,
	// either at startup or because it vanished mid-session.
	ErrRootInaccessible = errors.New("served root inaccessible")
)
