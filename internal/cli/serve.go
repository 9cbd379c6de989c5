package cli

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/hotserve/internal/config"
	"github.com/hupe1980/hotserve/internal/logging"
	"github.com/hupe1980/hotserve/internal/server"
	"github.com/hupe1980/hotserve/internal/watch"
)

type serveOptions struct {
	projectListenAddr string
	projectListenPort int
	statusListenAddr  string
	statusListenPort  int

	settle       time.Duration
	historyLimit int
	backlog      int
	queueLimit   int
	indexNames   []string
	open         bool
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve <dir>",
		Short: "Serve a directory with live reload",
		Long: `Serve starts two HTTP listeners: one serving the files in <dir> and one
serving a status dashboard. Both bind to OS-assigned ephemeral ports by
default.

The directory is watched recursively. Rapid changes (a build tool
rewriting many files) settle into a single change batch, which is pushed
to every connected browser tab over the /event-stream/ endpoint; served
HTML pages get a small client script injected that reloads the page when
a batch arrives.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.projectListenAddr, "project-listen-addr", "l", "::1", "address to serve the project on")
	f.IntVarP(&opts.projectListenPort, "project-listen-port", "p", 0, "port to serve the project on (0 = ephemeral)")
	f.StringVarP(&opts.statusListenAddr, "status-listen-addr", "s", "::1", "address to serve status on")
	f.IntVar(&opts.statusListenPort, "status-listen-port", 0, "port to serve status on (0 = ephemeral)")
	f.DurationVar(&opts.settle, "settle", watch.DefaultSettle, "quiet period before a change batch is published")
	f.IntVar(&opts.historyLimit, "history-limit", 0, "max change batches kept in memory (0 = default)")
	f.IntVar(&opts.backlog, "backlog", 0, "recent batches replayed to new subscribers (0 = default)")
	f.IntVar(&opts.queueLimit, "queue-limit", 0, "per-subscriber outbound queue size (0 = default)")
	f.StringSliceVar(&opts.indexNames, "index-names", nil, "index filenames tried for directory requests")
	f.BoolVar(&opts.open, "open", false, "open the status dashboard in a browser")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, dir string, opts *serveOptions) error {
	cfg := config.FromContext(ctx)
	logger := logging.FromContext(ctx)

	srvOpts := server.DefaultOptions()
	srvOpts.Root = dir
	srvOpts.ProjectAddr = net.JoinHostPort(opts.projectListenAddr, strconv.Itoa(opts.projectListenPort))
	srvOpts.StatusAddr = net.JoinHostPort(opts.statusListenAddr, strconv.Itoa(opts.statusListenPort))
	srvOpts.Settle = opts.settle
	srvOpts.HistoryLimit = opts.historyLimit
	srvOpts.Backlog = opts.backlog
	srvOpts.QueueLimit = opts.queueLimit
	srvOpts.ColorScheme = cfg.ColorScheme
	srvOpts.Logger = logger

	if len(opts.indexNames) > 0 {
		srvOpts.IndexNames = opts.indexNames
	}

	srv, err := server.New(srvOpts)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	// Trap SIGINT / SIGTERM for graceful shutdown.
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(sigCtx); err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	statusURL := "http://" + srv.StatusAddr()
	projectURL := "http://" + srv.ProjectAddr()

	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "serving %s\n", dir)
	fmt.Fprintf(out, "  project: %s\n", projectURL)
	fmt.Fprintf(out, "  status:  %s\n", statusURL)

	if opts.open {
		if openErr := openBrowser(statusURL); openErr != nil {
			logger.Warn("opening browser", "error", openErr)
		}
	}

	var fatalErr error

	select {
	case <-sigCtx.Done():
		fmt.Fprintln(out, "\nshutting down")
	case fatalErr = <-srv.Fatal():
		logger.Error("fatal watch error", "error", fatalErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	if fatalErr != nil {
		return &ExitError{Code: 1, Err: fatalErr}
	}

	return nil
}
