// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/opsreport/updatectl/internal/config"

	"github.com/spf13/cobra"
)

const redacted = "<redacted>"

// newConfigCommand creates the `updatectl config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage updatectl configuration",
		Long: `Manage updatectl configuration.

Configuration is stored in:
  - Linux: ~/.config/updatectl/config.cue
  - macOS: ~/Library/Application Support/updatectl/config.cue
  - Windows: %APPDATA%\updatectl\config.cue

Every value can be overridden with UPDATECTL_<SECTION>_<KEY>, for example
UPDATECTL_REGISTRY_URL or UPDATECTL_UPDATE_AUTO_INSTALL.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	var schema bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if schema {
				_, err := fmt.Fprint(app.stdout, config.Schema())
				return err
			}
			return showConfig(cmd.Context(), app.stdout, app.loadOptions())
		},
	}
	showCmd.Flags().BoolVar(&schema, "schema", false, "print the CUE schema instead")

	cfgCmd.AddCommand(
		showCmd,
		&cobra.Command{
			Use:   "init",
			Short: "Create the default configuration file",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return initConfig(app.stdout, app.configPath)
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show configuration and data paths",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return showConfigPath(app.stdout, app.configPath)
			},
		},
	)
	return cfgCmd
}

// showConfig prints where configuration came from followed by the effective
// values as CUE. The registry token is never printed.
func showConfig(ctx context.Context, w io.Writer, opts config.LoadOptions) error {
	cfg, source, err := config.LoadWithSource(ctx, opts)
	if err != nil {
		return err
	}

	if source == "" {
		fmt.Fprintf(w, "%s %s\n\n", CmdStyle.Render("Config file:"), SubtitleStyle.Render("(using defaults)"))
	} else {
		fmt.Fprintf(w, "%s %s\n\n", CmdStyle.Render("Config file:"), source)
	}

	shown := *cfg
	if shown.Registry.Token != "" {
		shown.Registry.Token = redacted
	}
	_, err = fmt.Fprint(w, config.GenerateCUE(&shown))
	return err
}

func initConfig(w io.Writer, path string) error {
	if path == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	created, err := config.CreateDefaultConfig(path)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	if !created {
		fmt.Fprintf(w, "Configuration already exists at %s\n", path)
		return nil
	}
	fmt.Fprintf(w, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
	fmt.Fprintln(w, "Set registry.url before running 'updatectl check'.")
	return nil
}

func showConfigPath(w io.Writer, override string) error {
	cfgPath := override
	if cfgPath == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			return err
		}
		cfgPath = p
	}
	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Config file:    %s\n", cfgPath)
	fmt.Fprintf(w, "Data directory: %s\n", dataDir)
	return nil
}
