package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/me/rrsched/internal/jobshim"
)

// newExecJobCmd is the first code every job process runs: it waits for the
// scheduler's first resume, then execs the command.
func newExecJobCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "exec-job -- <command> [args...]",
		Short:              "Start a job once resumed (internal)",
		Hidden:             true,
		DisableFlagParsing: true,
		// Persistent hooks would build a logger on the job's stderr.
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) > 0 && args[0] == "--" {
				args = args[1:]
			}
			os.Exit(jobshim.Main(args))
		},
	}
}
