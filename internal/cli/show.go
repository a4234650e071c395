package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <change-id>",
		Short: "Show one change",
		Long: `Show one change: its field changes, the snapshot of the prior state,
its version in the record's history and the neighbouring change ids.

Examples:
  revlog show --db app.db 17
  revlog show --db app.db 17 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, args[0], cmd)
		},
	}
}

func runShow(opts *RootOptions, arg string, cmd *cobra.Command) error {
	ctx := context.Background()

	ws, err := openWorkspace(opts, cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer ws.Close()

	c, err := ws.changeByID(ctx, arg)
	if err != nil {
		return err
	}
	version, err := ws.engine.VersionIndex(ctx, c)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to compute version", err)
	}
	prev, err := ws.engine.Previous(ctx, c)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load previous change", err)
	}
	next, err := ws.engine.Next(ctx, c)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load next change", err)
	}

	view := ShowView{ChangeView: newChangeView(c, version)}
	if prev != nil {
		view.Previous = &prev.ID
	}
	if next != nil {
		view.Next = &next.ID
	}
	return opts.formatter(cmd).Success(view)
}
