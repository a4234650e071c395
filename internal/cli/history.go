package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/revlog/internal/audit"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history [type] [id]",
		Short: "Show recorded history",
		Long: `Show recorded change history.

With a type and id, lists every change of that record oldest first.
With only a type, lists the records of that type that have history.
Without arguments, lists every record with history.

Composite keys join their parts with ":::".

Examples:
  revlog history --db app.db Post 42
  revlog history --db app.db Post
  revlog history --db app.db --format json`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, args, cmd)
		},
	}
}

func runHistory(opts *RootOptions, args []string, cmd *cobra.Command) error {
	ctx := context.Background()

	ws, err := openWorkspace(opts, cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer ws.Close()

	out := opts.formatter(cmd)
	if len(args) < 2 {
		itemType := ""
		if len(args) == 1 {
			itemType = args[0]
		}
		ids, err := ws.store.ListIdentities(ctx, itemType)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list records", err)
		}
		return out.Success(IdentityList(ids))
	}

	id := audit.Identity{Type: args[0], ID: args[1]}
	changes, err := ws.store.History(ctx, id)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load history", err)
	}
	view := HistoryView{ItemType: id.Type, ItemID: id.ID, Changes: make([]ChangeView, len(changes))}
	for i := range changes {
		// History is already in total order, so the position is the version.
		view.Changes[i] = newChangeView(&changes[i], i)
	}
	out.VerboseLog("%d changes for %s", len(changes), id)
	return out.Success(view)
}
