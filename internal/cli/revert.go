package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/revlog/internal/audit"
)

// RevertOptions holds flags for the revert command.
type RevertOptions struct {
	*RootOptions
	DryRun bool
}

// Revert effects.
const (
	EffectUpdate   = "update"   // live record overwritten with the prior state
	EffectRecreate = "recreate" // destroyed record inserted again
	EffectDelete   = "delete"   // created record removed
	EffectNone     = "none"     // created record already gone
)

// RevertResult describes a revert or a dry run of one.
type RevertResult struct {
	ChangeID int64          `json:"change_id"`
	ItemType string         `json:"item_type"`
	ItemID   string         `json:"item_id"`
	Effect   string         `json:"effect"`
	DryRun   bool           `json:"dry_run"`
	State    map[string]any `json:"state,omitempty"`    // restored field values
	Recorded *int64         `json:"recorded,omitempty"` // change logged by the revert
}

func (r RevertResult) String() string {
	verb := "Reverted"
	if r.DryRun {
		verb = "Would revert"
	}
	s := fmt.Sprintf("%s change %d on %s#%s: %s", verb, r.ChangeID, r.ItemType, r.ItemID, r.Effect)
	if len(r.State) > 0 {
		s += "\n  State: " + formatValues(r.State)
	}
	if r.Recorded != nil {
		s += fmt.Sprintf("\n  Recorded change %d", *r.Recorded)
	}
	return s
}

// NewRevertCommand creates the revert command.
func NewRevertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RevertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "revert <change-id>",
		Short: "Restore the state before a change",
		Long: `Restore the record state recorded before a change.

Reverting an update or destroy writes the prior field values back,
re-creating the record under its original key if it is gone. Reverting
a create deletes the record. The revert is itself recorded, attributed
to the configured actor.

Exit codes:
  0 - Reverted (or dry run succeeded)
  1 - Revert failed and was rolled back
  2 - Command error (invalid id, missing declarations)

Examples:
  revlog revert --db app.db --decl ./types 17
  revlog revert --db app.db --decl ./types 17 --dry-run`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRevert(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "show the restored state without writing")

	return cmd
}

func runRevert(opts *RevertOptions, arg string, cmd *cobra.Command) error {
	ws, err := openWorkspace(opts.RootOptions, cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx := ws.context(context.Background())
	c, err := ws.changeByID(ctx, arg)
	if err != nil {
		return err
	}
	meta, err := ws.engine.Registry().Lookup(c.ItemType)
	if err != nil {
		return WrapExitError(ExitFailure, "cannot revert", err)
	}

	result := RevertResult{
		ChangeID: c.ID,
		ItemType: c.ItemType,
		ItemID:   c.ItemID,
		DryRun:   opts.DryRun,
	}

	_, err = ws.engine.Load(ctx, c.ItemType, c.ItemID)
	live := err == nil
	if err != nil && !audit.IsNotFound(err) {
		return WrapExitError(ExitFailure, "failed to load live record", err)
	}

	switch {
	case !c.HasSnapshot() && live:
		result.Effect = EffectDelete
	case !c.HasSnapshot():
		result.Effect = EffectNone
	case live:
		result.Effect = EffectUpdate
	default:
		result.Effect = EffectRecreate
	}

	if c.HasSnapshot() {
		prior, err := ws.engine.ReconstructBeforeState(c)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to reconstruct prior state", err)
		}
		fields := make([]string, 0, len(c.Snapshot))
		for _, f := range meta.Fields() {
			if _, ok := c.Snapshot[f.Name]; ok {
				fields = append(fields, f.Name)
			}
		}
		if result.State, err = audit.Snapshot(meta, prior, fields); err != nil {
			return WrapExitError(ExitFailure, "failed to read prior state", err)
		}
	}

	if opts.DryRun {
		return opts.formatter(cmd).Success(result)
	}

	before, err := ws.engine.Changes().MostRecent(ctx, c.Identity())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load history", err)
	}
	if err := ws.engine.Revert(ctx, c); err != nil {
		return WrapExitError(ExitFailure, "revert failed", err)
	}
	after, err := ws.engine.Changes().MostRecent(ctx, c.Identity())
	if err == nil && after.ID != before.ID {
		result.Recorded = &after.ID
	}
	return opts.formatter(cmd).Success(result)
}
