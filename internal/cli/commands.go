package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/statekit/internal/state"
)

// withManager builds a manager, runs fn, and closes the manager on all
// exit paths.
func withManager(a *app, fn func(cmd *cobra.Command, m *state.Manager) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		m, err := a.manager()
		if err != nil {
			return err
		}
		defer func() { _ = m.Close() }()
		return fn(cmd, m)
	}
}

// newInitCmd creates the init command.
func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the base directory and a fresh state document",
		RunE: withManager(a, func(cmd *cobra.Command, m *state.Manager) error {
			s, err := m.InitializeState(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("initialized state (schema %s) at %s\n", s.SchemaVersion, m.Layout().Base())
			return nil
		}),
	}
}

// newShowCmd creates the show command.
func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Load and print the current state as YAML",
		RunE: withManager(a, func(cmd *cobra.Command, m *state.Manager) error {
			s, err := m.LoadState(cmd.Context())
			if err != nil {
				return err
			}
			raw, err := yaml.Marshal(s)
			if err != nil {
				return err
			}
			cmd.Print(string(raw))
			return nil
		}),
	}
}

// newExportCmd creates the export command.
func newExportCmd(a *app) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the state as YAML text",
		RunE: withManager(a, func(cmd *cobra.Command, m *state.Manager) error {
			text, err := m.ExportState(cmd.Context())
			if err != nil {
				return err
			}
			if outPath == "" {
				cmd.Print(text)
				return nil
			}
			return os.WriteFile(outPath, []byte(text), 0o600)
		}),
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write to file instead of stdout")
	return cmd
}

// newImportCmd creates the import command.
func newImportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Validate and persist a state document from YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0]) //#nosec G304 -- user-supplied import path
			if err != nil {
				return err
			}
			m, err := a.manager()
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			s, err := m.ImportState(c.Context(), string(raw))
			if err != nil {
				return err
			}
			c.Printf("imported state (schema %s, checksum %s)\n", s.SchemaVersion, s.Checksum)
			return nil
		},
	}
	return cmd
}

// newArchiveCmd creates the archive command.
func newArchiveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Archive the current state and start fresh",
		RunE: withManager(a, func(cmd *cobra.Command, m *state.Manager) error {
			if err := m.ArchiveState(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("state archived")
			return nil
		}),
	}
}

// newVerifyCmd creates the verify command.
func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify every backup snapshot against schema and checksum",
		RunE: withManager(a, func(cmd *cobra.Command, m *state.Manager) error {
			results, err := m.Backups().VerifyAllBackups()
			if err != nil {
				return err
			}
			bad := 0
			for filename, ok := range results {
				status := "ok"
				if !ok {
					status = "CORRUPT"
					bad++
				}
				cmd.Printf("%s\t%s\n", filename, status)
			}
			if bad > 0 {
				return fmt.Errorf("%d corrupt backup(s)", bad)
			}
			return nil
		}),
	}
}

// newRotateKeyCmd creates the rotate-key command.
func newRotateKeyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-key",
		Short: "Re-encrypt the state under a freshly generated key",
		RunE: withManager(a, func(cmd *cobra.Command, m *state.Manager) error {
			if err := m.RotateKey(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("encryption key rotated")
			return nil
		}),
	}
}

// newStatusCmd creates the status command.
func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print security audit statistics",
		RunE: withManager(a, func(cmd *cobra.Command, m *state.Manager) error {
			stats, err := m.SecurityAudit().GetStatistics(nil)
			if err != nil {
				return err
			}
			cmd.Printf("events: %d\n", stats.Total)
			for severity, count := range stats.BySeverity {
				cmd.Printf("  %s: %d\n", severity, count)
			}
			cmd.Printf("suspicious: %d\nfailed operations: %d\n",
				stats.SuspiciousActivities, stats.FailedOperations)
			return nil
		}),
	}
}

// newCleanupCmd creates the cleanup command.
func newCleanupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Purge cache, lock, log, and backup files (directories kept)",
		RunE: withManager(a, func(cmd *cobra.Command, m *state.Manager) error {
			if err := m.Layout().Cleanup(); err != nil {
				return err
			}
			cmd.Println("cleaned")
			return nil
		}),
	}
}
