// Command revlog inspects and reverts recorded change history.
package main

import (
	"os"

	"github.com/roach88/revlog/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		format, _ := cmd.PersistentFlags().GetString("format")
		out := &cli.OutputFormatter{Format: format, Writer: os.Stderr}
		if format == "json" {
			out.Writer = os.Stdout
		}
		_ = out.Error(cli.ErrorCode(err), err.Error(), nil)
		os.Exit(cli.GetExitCode(err))
	}
}
