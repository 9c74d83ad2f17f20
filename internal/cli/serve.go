package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/marksync/internal/feed"
	"github.com/roach88/marksync/internal/gateway"
	"github.com/roach88/marksync/internal/metrics"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
	Seed string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an in-memory remote API for development",
		Long: `Run an in-memory authoritative backend behind the remote API routes.

Routes:
  GET  /api/{kind}?scope=   list a collection
  POST /api/{kind}/{op}     apply a mutation
  GET  /feed                websocket invalidation feed
  GET  /metrics             prometheus metrics

Every applied mutation is broadcast on /feed so that clients with
feed.url set refresh the affected collection.

Example:
  marksync serve --addr :8080 --seed ./seed.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&opts.Seed, "seed", "", "YAML file of records to preload")

	return cmd
}

// devServer is the backend, feed and collectors behind serve.
type devServer struct {
	backend *gateway.Memory
	hub     *feed.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func newDevServer(logger *slog.Logger) *devServer {
	s := &devServer{
		backend: gateway.NewMemory(),
		hub:     feed.NewHub(feed.WithHubLogger(logger)),
		metrics: metrics.New(),
		logger:  logger,
	}
	s.backend.OnCommit(s.commit)
	return s
}

func (s *devServer) commit(c gateway.Commit) {
	s.metrics.BusEvent(c.Kind, c.Op)
	if err := s.hub.Broadcast(feed.FromCommit(c)); err != nil {
		s.logger.Warn("feed broadcast failed", "kind", c.Kind, "op", c.Op, "error", err)
	}
}

func (s *devServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", gateway.NewServer(s.backend, s.logger))
	mux.Handle("/feed", s.hub)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

func (s *devServer) seed(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		return 0, fmt.Errorf("read seed: %w", err)
	}
	seed, err := gateway.ParseSeed(data)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	if err := seed.Apply(s.backend); err != nil {
		return 0, err
	}
	return seed.Len(), nil
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	out := NewOutputFormatter(opts.RootOptions, cmd)
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to load config", err)
	}
	logger := newLogger(opts.RootOptions, cfg, cmd.ErrOrStderr())

	s := newDevServer(logger)
	defer s.hub.Close()
	if opts.Seed != "" {
		n, err := s.seed(opts.Seed)
		if err != nil {
			return out.Fail(ExitCommandError, "failed to load seed", err)
		}
		logger.Info("seed loaded", "path", opts.Seed, "records", n)
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to listen", err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	srv := &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	logger.Info("serving", "addr", ln.Addr().String())
	out.VerboseLog("Serving on http://%s. Press Ctrl-C to stop.", ln.Addr())

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return out.Fail(ExitFailure, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return out.Fail(ExitFailure, "shutdown", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}
