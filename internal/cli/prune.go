package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/revlog/internal/audit"
)

// PruneOptions holds flags for the prune command.
type PruneOptions struct {
	*RootOptions
	Keep   int    // keep only the N newest changes of one record
	Before string // RFC3339 cutoff; changes strictly older are removed
}

// PruneResult reports how many changes were removed.
type PruneResult struct {
	ItemType string `json:"item_type,omitempty"`
	ItemID   string `json:"item_id,omitempty"`
	Removed  int64  `json:"removed"`
}

func (r PruneResult) String() string {
	if r.ItemType == "" {
		return fmt.Sprintf("Removed %d changes", r.Removed)
	}
	return fmt.Sprintf("Removed %d changes of %s#%s", r.Removed, r.ItemType, r.ItemID)
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PruneOptions{RootOptions: rootOpts, Keep: -1}

	cmd := &cobra.Command{
		Use:   "prune [type id]",
		Short: "Remove old history",
		Long: `Remove old change history.

--keep N keeps only the N newest changes of one record.
--before T removes changes created before T (RFC3339), for one record
or, without a record, for every record.

Examples:
  revlog prune --db app.db Post 42 --keep 10
  revlog prune --db app.db Post 42 --before 2024-06-01T00:00:00Z
  revlog prune --db app.db --before 2024-06-01T00:00:00Z`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return NewExitError(ExitCommandError, "prune takes a type and an id, or no arguments")
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(opts, args, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Keep, "keep", -1, "keep only the N newest changes of the record")
	cmd.Flags().StringVar(&opts.Before, "before", "", "remove changes created before this RFC3339 time")

	return cmd
}

func runPrune(opts *PruneOptions, args []string, cmd *cobra.Command) error {
	ctx := context.Background()

	byCount := opts.Keep >= 0
	byAge := opts.Before != ""
	switch {
	case byCount == byAge:
		return NewExitError(ExitCommandError, "exactly one of --keep or --before is required")
	case byCount && len(args) == 0:
		return NewExitError(ExitCommandError, "--keep requires a type and an id")
	}

	var cutoff time.Time
	if byAge {
		var err error
		if cutoff, err = time.Parse(time.RFC3339Nano, opts.Before); err != nil {
			return WrapExitError(ExitCommandError, "invalid --before", err)
		}
	}

	ws, err := openWorkspace(opts.RootOptions, cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer ws.Close()

	var result PruneResult
	if len(args) == 0 {
		if result.Removed, err = ws.store.PruneBefore(ctx, cutoff); err != nil {
			return WrapExitError(ExitFailure, "prune failed", err)
		}
		return opts.formatter(cmd).Success(result)
	}

	id := audit.Identity{Type: args[0], ID: args[1]}
	result.ItemType, result.ItemID = id.Type, id.ID
	err = ws.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		if byAge {
			// Stored timestamps have nanosecond precision.
			result.Removed, err = ws.store.PruneOlderThanOrEqual(ctx, id, cutoff.Add(-time.Nanosecond))
			return err
		}
		boundary, err := ws.store.NthMostRecent(ctx, id, opts.Keep)
		if err != nil || boundary == nil {
			return err
		}
		result.Removed, err = ws.store.PruneThrough(ctx, boundary)
		return err
	})
	if err != nil {
		return WrapExitError(ExitFailure, "prune failed", err)
	}
	opts.formatter(cmd).VerboseLog("pruned %d changes of %s", result.Removed, id)
	return opts.formatter(cmd).Success(result)
}
