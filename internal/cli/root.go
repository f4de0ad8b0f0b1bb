package cli

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mrz1836/statekit/internal/config"
	"github.com/mrz1836/statekit/internal/errors"
	"github.com/mrz1836/statekit/internal/signal"
	"github.com/mrz1836/statekit/internal/state"
)

// BuildInfo contains version information set at build time via ldflags.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// rootFlags holds the persistent flag values shared by every command.
type rootFlags struct {
	base    string
	verbose bool
	quiet   bool
}

// app bundles what subcommands need: configuration, logger, and a
// constructor for the state manager.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	flags  *rootFlags
}

// manager builds a state manager from the resolved configuration.
// Callers own Close().
func (a *app) manager() (*state.Manager, error) {
	base := a.cfg.BaseDir
	if a.flags.base != "" {
		base = a.flags.base
	}
	return state.NewManager(base, state.Options{
		LockTimeout:     a.cfg.Lock.Timeout,
		LoadLockTimeout: a.cfg.Lock.LoadTimeout,
		LockExpiry:      a.cfg.Lock.Expiry,
		BackupMaxCount:  a.cfg.Backup.MaxCount,
		AutoReset:       a.cfg.Recovery.AutoReset,
		TestMode:        a.cfg.TestMode,
		Logger:          a.logger,
	})
}

// newRootCmd creates the root command. The function-based approach
// avoids package-level command globals.
func newRootCmd(info BuildInfo) *cobra.Command {
	flags := &rootFlags{}
	application := &app{flags: flags}

	root := &cobra.Command{
		Use:           "statekit",
		Short:         "Durable checklist-workflow state engine",
		Long:          "statekit is a local, single-file state engine with atomic saves,\nwrite-ahead logging, advisory locking, snapshot rotation, and\nfield-level encryption.",
		Version:       info.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			application.cfg = cfg

			base := cfg.BaseDir
			if flags.base != "" {
				base = flags.base
			}
			application.logger = InitLogger(base, flags.verbose, flags.quiet)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flags.base, "base", "", "base directory (defaults to config base_dir)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVarP(&flags.quiet, "quiet", "q", false, "only log warnings and errors")

	root.AddCommand(
		newInitCmd(application),
		newShowCmd(application),
		newExportCmd(application),
		newImportCmd(application),
		newArchiveCmd(application),
		newVerifyCmd(application),
		newRotateKeyCmd(application),
		newStatusCmd(application),
		newCleanupCmd(application),
	)
	return root
}

// Execute runs the CLI with graceful shutdown wiring: SIGINT/SIGTERM
// cancel the context, and the state manager's cleanup releases any held
// locks before exit.
func Execute(ctx context.Context, info BuildInfo) error {
	h := signal.NewHandler(ctx)
	defer h.Stop()

	root := newRootCmd(info)
	return root.ExecuteContext(h.Context())
}

// ExitCodeForError maps error kinds to process exit codes.
func ExitCodeForError(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errors.ErrLockTimeout):
		return 3
	case errors.Is(err, errors.ErrSecretsDetected):
		return 4
	case errors.Is(err, errors.ErrStateCorrupted), errors.Is(err, errors.ErrRecoveryFailed):
		return 5
	default:
		return 1
	}
}
