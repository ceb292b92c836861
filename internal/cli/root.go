package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/me/rrsched/internal/config"
	"github.com/me/rrsched/internal/launcher"
	"github.com/me/rrsched/internal/logging"
	"github.com/me/rrsched/internal/procsig"
	"github.com/me/rrsched/internal/scheduler"
	"github.com/me/rrsched/internal/session"
	"github.com/me/rrsched/internal/store"
)

var (
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the scheduler.
func NewRootCmd() *cobra.Command {
	cfg := config.DefaultConfig()

	root := &cobra.Command{
		Use:   "scheduler [flags] <NCPU> <TSLICE(ms)>",
		Short: "Round-robin scheduler for shell commands",
		Long: `scheduler runs submitted commands as suspended processes and time-slices
them round-robin: every TSLICE milliseconds it stops the running jobs and
resumes up to NCPU jobs from the head of the ready queue.

Commands on stdin:
  submit <command>[&]   start a job (a trailing & suppresses the acknowledgement)
  history               list submitted commands`,
		Args: cobra.ArbitraryArgs,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.New(logging.Options{Level: flagLogLevel, Format: flagLogFormat})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.LogLevel, cfg.LogFormat = flagLogLevel, flagLogFormat
			if err := cfg.ParseArgs(args); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runSession(cmd.Context(), cfg)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")

	root.Flags().StringVar(&cfg.DBPath, "db", cfg.DBPath, `Job store DSN (":memory:", a file path, or "" for the plain in-memory store)`)
	root.Flags().StringVar(&cfg.ReportFormat, "report-format", cfg.ReportFormat, "Session-end report format (text, yaml, json)")
	root.Flags().StringVar(&cfg.OnExit, "on-exit", cfg.OnExit, "What to do with live jobs at session end (terminate, detach)")
	root.Flags().BoolVar(&cfg.SignalGroup, "signal-group", cfg.SignalGroup, "Signal each job's whole process group")
	root.Flags().DurationVar(&cfg.ReadyTimeout, "ready-timeout", cfg.ReadyTimeout, "How long to wait for a new job to start")

	root.AddCommand(
		newRunLoopCmd(),
		newExecJobCmd(),
	)

	return root
}

func runSession(ctx context.Context, cfg config.Config) error {
	sessionID := uuid.NewString()
	log := logger.With("session_id", sessionID)

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	st, err := openStore(ctx, cfg.DBPath, sessionID, log)
	if err != nil {
		return err
	}
	defer st.Close()

	sess := session.New(cfg, sessionID, session.Deps{
		Store:    st,
		Signaler: procsig.Process{Group: cfg.SignalGroup},
		Launch: launcher.Config{
			Path:         self,
			Args:         []string{"exec-job"},
			Stdout:       os.Stdout,
			Stderr:       os.Stderr,
			ReadyTimeout: cfg.ReadyTimeout,
		},
		Out:    os.Stdout,
		Err:    os.Stderr,
		Prompt: isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()),
		Logger: log,
	})

	loopArgs := append([]string{"run-loop"}, logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}.Flags()...)
	loopArgs = append(loopArgs,
		"--signal-group="+strconv.FormatBool(cfg.SignalGroup),
		strconv.Itoa(cfg.NCPU),
		strconv.FormatInt(cfg.TSlice.Milliseconds(), 10),
	)
	remote, err := scheduler.StartRemote(scheduler.RemoteConfig{
		Path:   self,
		Args:   loopArgs,
		Stderr: os.Stderr,
	}, sess.OnEvent, log)
	if err != nil {
		return err
	}
	sess.Attach(remote)
	log.Info("session started", "config", cfg.String(), "loop_pid", remote.PID())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return sess.Run(ctx, os.Stdin)
}

func openStore(ctx context.Context, dsn, sessionID string, log *slog.Logger) (store.Store, error) {
	if dsn == "" {
		return store.NewMemoryStore(), nil
	}
	st, err := store.NewSQLiteStore(dsn, sessionID, log)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate job store: %w", err)
	}
	return st, nil
}
