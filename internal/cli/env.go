package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/marksync/internal/app"
	"github.com/roach88/marksync/internal/config"
	"github.com/roach88/marksync/internal/model"
)

// loadConfig reads --config, falling back to defaults and the environment.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, fmt.Errorf("%w: %w", errConfig, err)
	}
	return cfg, nil
}

// newLogger builds the process logger on w. Logs never go to stdout so
// they cannot corrupt JSON output.
func newLogger(opts *RootOptions, cfg config.Config, w io.Writer) *slog.Logger {
	ho := &slog.HandlerOptions{Level: cfg.LogLevel(opts.Verbose)}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, ho))
	}
	return slog.New(slog.NewTextHandler(w, ho))
}

// openClient loads the configuration and builds a client. One-shot
// commands pass inline=true so every refresh and recomputation has
// finished by the time a call returns.
func openClient(ctx context.Context, opts *RootOptions, cmd *cobra.Command, inline bool) (*app.Client, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	o := app.Options{
		Config: cfg,
		Logger: newLogger(opts, cfg, cmd.ErrOrStderr()),
		Inline: inline,
	}
	if inline {
		o.Executor = model.Inline
	}
	return app.New(ctx, o)
}

// commandContext returns the command's context cancelled on SIGINT or
// SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
