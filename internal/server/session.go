package server

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/hotserve/internal/hub"
	"github.com/hupe1980/hotserve/internal/routes"
	"github.com/hupe1980/hotserve/internal/watch"
)

// watchSession bundles the native watch handle, the settle buffer, and the
// broadcast hub for one served root. It is constructed once per process and
// torn down on shutdown, releasing the native handle. The session feeds two
// independent consumers from the same normalized change stream: the route
// index (updated synchronously per change) and the coalescer (batching for
// broadcast).
type watchSession struct {
	normalizer *watch.Normalizer
	coalescer  *watch.Coalescer
	hub        *hub.Hub

	closeOnce sync.Once
}

func newWatchSession(root string, exclude *watch.Exclude, settle time.Duration, hubOpts hub.Options) (*watchSession, error) {
	normalizer, err := watch.NewNormalizer(root, exclude, hubOpts.Logger)
	if err != nil {
		return nil, err
	}

	return &watchSession{
		normalizer: normalizer,
		coalescer:  watch.NewCoalescer(settle),
		hub:        hub.New(hubOpts),
	}, nil
}

// Root returns the absolute served root.
func (ws *watchSession) Root() string { return ws.normalizer.Root() }

// run drives the pipeline until ctx is cancelled. Fatal watcher errors are
// forwarded to fatal (capacity one; later errors are discarded).
func (ws *watchSession) run(ctx context.Context, index *routes.Index, fatal chan<- error) {
	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()
		ws.normalizer.Run(ctx)
	}()

	// Publish pump: settled batches fan out through the hub.
	go func() {
		defer wg.Done()

		for {
			select {
			case batch := <-ws.coalescer.Batches():
				ws.hub.Publish(batch)
			case <-ws.coalescer.Done():
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	// Change pump: the route index sees every change in order, unbatched;
	// the coalescer batches the same stream for broadcast.
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return

		case err := <-ws.normalizer.Fatal():
			select {
			case fatal <- err:
			default:
			}

		case ch, ok := <-ws.normalizer.Changes():
			if !ok {
				wg.Wait()
				return
			}

			index.Apply(ch)
			ws.coalescer.Add(ch)
		}
	}
}

// close stops the pipeline and releases the native watch handle. Idempotent.
func (ws *watchSession) close() {
	ws.closeOnce.Do(func() {
		_ = ws.normalizer.Close()
		ws.coalescer.Stop()
		ws.hub.Close()
	})
}
