package cli

import (
	"sync"

	"github.com/spf13/cobra"

	"github.com/roach88/marksync/internal/view"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	User string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the tab overview every time it changes",
		Long: `Keep a client running and print the tab overview on every change.

Changes made by other clients arrive over the invalidation feed when
feed.url is configured. Mutation failures are reported on stderr.
Stop with Ctrl-C.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "user id (defaults to user_id from config)")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	out := NewOutputFormatter(opts.RootOptions, cmd)
	ctx, cancel := commandContext(cmd)
	defer cancel()

	c, err := openClient(ctx, opts.RootOptions, cmd, false)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to start client", err)
	}
	defer c.Close()

	o, err := c.Overview(opts.User)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to open overview", err)
	}

	// Emissions arrive on the engine goroutine; the formatter is shared
	// with the notification loop below.
	var mu sync.Mutex
	stop := o.Subscribe(func(tabs []view.TabSummary) {
		mu.Lock()
		defer mu.Unlock()
		_ = out.Success(OverviewResult{User: o.UserID(), Tabs: tabs})
	})
	defer stop()

	go func() {
		for {
			select {
			case n, ok := <-c.Notifications():
				if !ok {
					return
				}
				mu.Lock()
				_ = out.Error(CodeRemote, n.Message, n)
				mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	out.VerboseLog("watching overview of %s", o.UserID())
	if err := c.Run(ctx); err != nil {
		return out.Fail(ExitFailure, "client stopped", err)
	}
	return nil
}
