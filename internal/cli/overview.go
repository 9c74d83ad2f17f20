package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/marksync/internal/view"
)

// OverviewOptions holds flags for the overview command.
type OverviewOptions struct {
	*RootOptions
	User string
}

// NewOverviewCommand creates the overview command.
func NewOverviewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OverviewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "overview",
		Short: "Print the tab overview",
		Long: `Print every tab of a user with its categories and link counts.

Counts are shown when the user's showLinkCount setting is on.

Example:
  marksync overview --user u1
  marksync overview --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOverview(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "user id (defaults to user_id from config)")

	return cmd
}

// OverviewResult is the payload of the overview command.
type OverviewResult struct {
	User string            `json:"user"`
	Tabs []view.TabSummary `json:"tabs"`
}

// RenderText prints one line per tab and an indented line per category.
func (r OverviewResult) RenderText(w io.Writer) error {
	if len(r.Tabs) == 0 {
		_, err := fmt.Fprintf(w, "no tabs for %s\n", r.User)
		return err
	}
	var b strings.Builder
	for _, tab := range r.Tabs {
		fmt.Fprintf(&b, "%s%s\n", tab.Title, countSuffix(tab.LinkCount))
		for _, c := range tab.Categories {
			fmt.Fprintf(&b, "  %s%s", c.Title, countSuffix(c.LinkCount))
			if len(c.Tags) > 0 {
				fmt.Fprintf(&b, " [%s]", strings.Join(c.Tags, ", "))
			}
			b.WriteByte('\n')
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func countSuffix(n *int) string {
	if n == nil {
		return ""
	}
	return fmt.Sprintf(" (%d)", *n)
}

func runOverview(opts *OverviewOptions, cmd *cobra.Command) error {
	out := NewOutputFormatter(opts.RootOptions, cmd)
	ctx, cancel := commandContext(cmd)
	defer cancel()

	c, err := openClient(ctx, opts.RootOptions, cmd, true)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to start client", err)
	}
	defer c.Close()

	o, err := c.Overview(opts.User)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to open overview", err)
	}
	if err := c.Drain(ctx); err != nil {
		return out.Fail(ExitFailure, "overview interrupted", err)
	}
	if err := o.Err(); err != nil {
		return out.Fail(ExitFailure, "failed to compose overview", err)
	}

	tabs, version := o.Get()
	out.VerboseLog("overview version %d", version)
	return out.Success(OverviewResult{User: o.UserID(), Tabs: tabs})
}
