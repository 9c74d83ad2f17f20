package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/marksync/internal/entity"
	"github.com/roach88/marksync/internal/model"
)

// LinksOptions holds flags for the links subcommands.
type LinksOptions struct {
	*RootOptions
	URL   string
	Title string
	Tags  []string
	From  string
	To    string
}

// NewLinksCommand creates the links command and its subcommands.
func NewLinksCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LinksOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "links",
		Short: "List and change the links of a category",
	}

	list := &cobra.Command{
		Use:           "list <category>",
		Short:         "List the links of a category",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLinksList(opts, cmd, args[0])
		},
	}

	add := &cobra.Command{
		Use:           "add <category>",
		Short:         "Add a link to a category",
		Example:       `  marksync links add c1 --url https://go.dev --title "Go" --tag lang --tag docs`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLinksAdd(opts, cmd, args[0])
		},
	}
	add.Flags().StringVar(&opts.URL, "url", "", "link URL (required)")
	add.Flags().StringVar(&opts.Title, "title", "", "link title (defaults to the URL)")
	add.Flags().StringArrayVar(&opts.Tags, "tag", nil, "tag, repeatable")
	_ = add.MarkFlagRequired("url")

	del := &cobra.Command{
		Use:           "delete <category> <link>",
		Short:         "Delete a link",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLinksDelete(opts, cmd, args[0], args[1])
		},
	}

	move := &cobra.Command{
		Use:           "move <link>",
		Short:         "Move a link to another category",
		Example:       `  marksync links move l1 --from c1 --to c2`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLinksMove(opts, cmd, args[0])
		},
	}
	move.Flags().StringVar(&opts.From, "from", "", "current category (required)")
	move.Flags().StringVar(&opts.To, "to", "", "destination category (required)")
	_ = move.MarkFlagRequired("from")
	_ = move.MarkFlagRequired("to")

	cmd.AddCommand(list, add, del, move)
	return cmd
}

// LinksResult is the payload of links list.
type LinksResult struct {
	Category string        `json:"category"`
	Status   string        `json:"status"`
	Links    []entity.Link `json:"links"`
}

// RenderText prints a table of the links.
func (r LinksResult) RenderText(w io.Writer) error {
	if len(r.Links) == 0 {
		_, err := fmt.Fprintf(w, "no links in %s (%s)\n", r.Category, r.Status)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tURL\tTAGS")
	for _, l := range r.Links {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", l.ID, l.Title, l.URL, strings.Join(l.Tags, ","))
	}
	return tw.Flush()
}

// LinkChange is the payload of the mutating links subcommands.
type LinkChange struct {
	Action string `json:"action"`
	ID     string `json:"id"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
}

func (c LinkChange) String() string {
	switch {
	case c.From != "" && c.To != "":
		return fmt.Sprintf("%s %s: %s -> %s", c.Action, c.ID, c.From, c.To)
	case c.To != "":
		return fmt.Sprintf("%s %s in %s", c.Action, c.ID, c.To)
	default:
		return fmt.Sprintf("%s %s", c.Action, c.ID)
	}
}

func runLinksList(opts *LinksOptions, cmd *cobra.Command, category string) error {
	out := NewOutputFormatter(opts.RootOptions, cmd)
	ctx, cancel := commandContext(cmd)
	defer cancel()

	c, err := openClient(ctx, opts.RootOptions, cmd, true)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to start client", err)
	}
	defer c.Close()

	links, release, err := c.Links(ctx, category)
	if err != nil {
		return out.Fail(ExitFailure, "failed to load links", err)
	}
	defer release()

	snap := links.Snapshot()
	return out.Success(LinksResult{
		Category: category,
		Status:   string(snap.Status),
		Links:    model.Active(snap.Data),
	})
}

func runLinksAdd(opts *LinksOptions, cmd *cobra.Command, category string) error {
	out := NewOutputFormatter(opts.RootOptions, cmd)
	ctx, cancel := commandContext(cmd)
	defer cancel()

	c, err := openClient(ctx, opts.RootOptions, cmd, true)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to start client", err)
	}
	defer c.Close()

	links, release, err := c.Links(ctx, category)
	if err != nil {
		return out.Fail(ExitFailure, "failed to load links", err)
	}
	defer release()

	title := opts.Title
	if title == "" {
		title = opts.URL
	}
	link := entity.Link{
		Meta:       entity.Meta{ID: entity.NewID()},
		CategoryID: category,
		URL:        opts.URL,
		Title:      title,
		Tags:       opts.Tags,
		Position:   model.Count(links.Snapshot().Data),
	}
	if err := links.Add(ctx, link); err != nil {
		return out.Fail(ExitFailure, "failed to add link", err)
	}
	return out.Success(LinkChange{Action: "added", ID: link.ID, To: category})
}

func runLinksDelete(opts *LinksOptions, cmd *cobra.Command, category, id string) error {
	out := NewOutputFormatter(opts.RootOptions, cmd)
	ctx, cancel := commandContext(cmd)
	defer cancel()

	c, err := openClient(ctx, opts.RootOptions, cmd, true)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to start client", err)
	}
	defer c.Close()

	links, release, err := c.Links(ctx, category)
	if err != nil {
		return out.Fail(ExitFailure, "failed to load links", err)
	}
	defer release()

	if _, ok := model.FindByID(model.Active(links.Snapshot().Data), id); !ok {
		return out.Fail(ExitFailure, "failed to delete link",
			fmt.Errorf("link %s in category %s: %w", id, category, errNotFound))
	}
	if err := links.DeleteByID(ctx, id); err != nil {
		return out.Fail(ExitFailure, "failed to delete link", err)
	}
	return out.Success(LinkChange{Action: "deleted", ID: id})
}

func runLinksMove(opts *LinksOptions, cmd *cobra.Command, id string) error {
	out := NewOutputFormatter(opts.RootOptions, cmd)
	ctx, cancel := commandContext(cmd)
	defer cancel()

	c, err := openClient(ctx, opts.RootOptions, cmd, true)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to start client", err)
	}
	defer c.Close()

	if err := c.MoveLink(ctx, id, opts.From, opts.To); err != nil {
		return out.Fail(ExitFailure, "failed to move link", err)
	}
	return out.Success(LinkChange{Action: "moved", ID: id, From: opts.From, To: opts.To})
}
