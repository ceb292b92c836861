package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/me/rrsched/internal/config"
	"github.com/me/rrsched/internal/procsig"
	"github.com/me/rrsched/internal/scheduler"
)

// newRunLoopCmd is the scheduler loop process. The interface process
// starts it with pipes on stdin and stdout.
func newRunLoopCmd() *cobra.Command {
	var signalGroup bool

	cmd := &cobra.Command{
		Use:    "run-loop <NCPU> <TSLICE(ms)>",
		Short:  "Run the scheduling loop (internal)",
		Hidden: true,
		Args:   cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if err := cfg.ParseArgs(args); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, os.Interrupt)
			defer stop()

			log := logger.With("process", "loop")
			return scheduler.RunProcess(ctx,
				scheduler.Config{NCPU: cfg.NCPU, TSlice: cfg.TSlice},
				procsig.Process{Group: signalGroup},
				os.Stdin, os.Stdout, log)
		},
	}

	cmd.Flags().BoolVar(&signalGroup, "signal-group", true, "Signal each job's whole process group")
	return cmd
}
