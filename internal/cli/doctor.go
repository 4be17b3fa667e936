package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fae-ai/fae-pi/internal/install"
)

// NewDoctorCmd returns a health-check command validating config and the Pi
// installation.
func NewDoctorCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and the Pi installation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK. Provider: %s, model: %s\n", cfg.Pi.Provider, cfg.Pi.Model)
			fmt.Fprintf(out, "Transport: %s, approval gate: %v, metrics: %v\n",
				cfg.Server.Transport, cfg.Approval.Enabled, cfg.Server.MetricsEnabled)

			if cfg.Pi.BinaryPath != "" {
				fmt.Fprintf(out, "Pi binary: %s (pinned by pi.binary_path)\n", cfg.Pi.BinaryPath)
				return nil
			}

			manager := newManager(cfg, nil)
			state, err := manager.Detect(cmd.Context())
			if err != nil {
				return fmt.Errorf("detect pi binary: %w", err)
			}

			switch state.Kind {
			case install.KindNotFound:
				fmt.Fprintln(out, "Pi binary: not found (run 'faepi install' or set pi.binary_path)")
				return nil
			case install.KindFaeManaged:
				fmt.Fprintf(out, "Pi binary: %s (managed, version %s)\n", state.Path, state.Version)
			default:
				fmt.Fprintf(out, "Pi binary: %s (user install, version %s)\n", state.Path, state.Version)
			}

			ctx, cancel := withTimeout(cmd, 30*time.Second)
			defer cancel()
			check, err := manager.CheckUpdate(ctx)
			if err != nil {
				fmt.Fprintf(out, "Update check failed: %v\n", err)
				return nil
			}
			if check.Available {
				fmt.Fprintf(out, "Update available: %s -> %s\n", check.Current, check.Latest)
			} else {
				fmt.Fprintln(out, "Pi is up to date")
			}
			return nil
		},
	}
}
