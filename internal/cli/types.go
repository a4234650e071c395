package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/revlog/internal/audit"
)

// NewTypesCommand creates the types command.
func NewTypesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List declared types",
		Long: `List the types declared in the CUE declarations with their table,
primary key fields and audited fields.

Examples:
  revlog types --db app.db --decl ./types
  revlog types --db app.db --decl ./types --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTypes(rootOpts, cmd)
		},
	}
}

func runTypes(opts *RootOptions, cmd *cobra.Command) error {
	ws, err := openWorkspace(opts, cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	defer ws.Close()

	registry := ws.engine.Registry()
	list := TypeList{}
	for _, name := range registry.Types() {
		meta, err := registry.Lookup(name)
		if err != nil {
			return err
		}
		list = append(list, TypeView{
			Name:       meta.Name(),
			Table:      meta.Table(),
			Tracked:    meta.Tracked(),
			Keys:       meta.PrimaryKeys(),
			Audited:    audit.ResolveFields(meta, meta.Policy()),
			MaxRecords: meta.Policy().MaxRecords,
		})
	}
	return opts.formatter(cmd).Success(list)
}
