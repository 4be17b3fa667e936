package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/fae-ai/fae-pi/internal/config"
	"github.com/fae-ai/fae-pi/internal/install"
)

// NewInstallCmd installs or updates the managed Pi binary.
func NewInstallCmd(opts *Options) *cobra.Command {
	var update bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install or update the Pi binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			progress := mpb.New(mpb.WithWidth(40), mpb.WithOutput(cmd.OutOrStdout()))
			manager := newManager(cfg, downloadBar(progress))

			ctx, cancel := withTimeout(cmd, 10*time.Minute)
			defer cancel()

			out := cmd.OutOrStdout()
			if update {
				check, err := manager.CheckUpdate(ctx)
				if err != nil {
					return err
				}
				if !check.Available {
					progress.Wait()
					fmt.Fprintf(out, "Pi %s is already the latest version\n", check.Current)
					return nil
				}
				state, err := manager.Update(ctx)
				progress.Wait()
				if err != nil {
					return err
				}
				if state.Kind != install.KindFaeManaged {
					fmt.Fprintf(out, "Pi at %s was not installed by fae, leaving it alone\n", state.Path)
					return nil
				}
				fmt.Fprintf(out, "Updated Pi %s -> %s at %s\n", check.Current, state.Version, state.Path)
				return nil
			}

			state, err := manager.Ensure(ctx, true)
			progress.Wait()
			if err != nil {
				return err
			}
			switch state.Kind {
			case install.KindFaeManaged:
				fmt.Fprintf(out, "Pi %s installed at %s\n", state.Version, state.Path)
			case install.KindUserInstalled:
				fmt.Fprintf(out, "Found existing Pi at %s (version %s), nothing to do\n", state.Path, state.Version)
			default:
				return fmt.Errorf("install did not produce a usable pi binary")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&update, "update", false, "Update an existing managed install to the latest release")
	return cmd
}

// newManager builds an install manager from config with optional download
// progress reporting.
func newManager(cfg *config.Config, wrap func(io.Reader, int64) io.ReadCloser) *install.Manager {
	installDir := cfg.Install.InstallDir
	if installDir == "" {
		installDir = install.DefaultInstallDir()
	}
	stateDir := cfg.Install.StateDir
	if stateDir == "" {
		stateDir = install.DefaultStateDir()
	}

	releases := install.NewReleaseClient(cfg.Install.ReleaseURL, 5*time.Minute, nil)
	managerOpts := []install.ManagerOption{}
	if wrap != nil {
		managerOpts = append(managerOpts, install.WithDownloadWrapper(wrap))
	}
	return install.NewManager(installDir, stateDir, releases, nil, managerOpts...)
}

// downloadBar renders a byte-count progress bar over the download stream.
func downloadBar(progress *mpb.Progress) func(io.Reader, int64) io.ReadCloser {
	return func(r io.Reader, total int64) io.ReadCloser {
		bar := progress.AddBar(total,
			mpb.PrependDecorators(
				decor.Name("pi "),
				decor.CountersKibiByte("% .2f / % .2f"),
			),
			mpb.AppendDecorators(decor.Percentage()),
		)
		return bar.ProxyReader(r)
	}
}

func withTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, d)
}
