package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/bellabot/bella/internal/plugin"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plugins",
		Aliases: []string{"plugin"},
		Short:   "Inspect and manage plugins on disk",
		Long:    "Inspect and manage plugins on disk. Changes take effect the next time the bot loads the plugin.",
	}

	cmd.AddCommand(newPluginsListCmd())
	cmd.AddCommand(newPluginsScanCmd())
	cmd.AddCommand(newPluginsInfoCmd())
	cmd.AddCommand(newPluginsToggleCmd("enable", true))
	cmd.AddCommand(newPluginsToggleCmd("disable", false))
	cmd.AddCommand(newPluginsCatalogCmd())

	return cmd
}

// localRegistry opens the configured plugin directory without a running bot.
func localRegistry() (*plugin.Registry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return plugin.NewRegistry(cfg.Plugins.Dir, newRuntime(log), log), nil
}

func newPluginsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := localRegistry()
			if err != nil {
				return err
			}
			records, err := reg.Scan(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintf(out, "No plugins found in %s\n", reg.Root())
				return nil
			}
			renderPlugins(out, records)
			return nil
		},
	}
}

func renderPlugins(out io.Writer, records []plugin.Record) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Version", "Type", "Enabled", "Path"})
	enabled := 0
	for _, rec := range records {
		state := color.RedString("no")
		if rec.Manifest.Enabled {
			state = color.GreenString("yes")
			enabled++
		}
		t.AppendRow(table.Row{rec.Manifest.ID, rec.Manifest.Name, rec.Manifest.Version, rec.Kind, state, rec.Path})
	}
	t.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%d/%d", enabled, len(records)), ""})
	t.Render()
}

func newPluginsScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Rescan the plugin directory and rewrite the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := localRegistry()
			if err != nil {
				return err
			}
			records, err := reg.Scan(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Found %d plugin(s), index written to %s\n",
				len(records), filepath.Join(reg.Root(), plugin.IndexFile))
			return nil
		},
	}
}

func newPluginsInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <id>",
		Short: "Show the manifest of a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := localRegistry()
			if err != nil {
				return err
			}
			rec, ok := reg.FindByID(cmd.Context(), args[0])
			if !ok {
				return fmt.Errorf("%w: %s", plugin.ErrPluginNotFound, args[0])
			}

			out := cmd.OutOrStdout()
			m := rec.Manifest
			fmt.Fprintf(out, "%s %s (%s)\n", color.New(color.Bold).Sprint(m.Name), m.Version, m.ID)
			if m.Description != "" {
				fmt.Fprintf(out, "  %s\n", m.Description)
			}
			fmt.Fprintf(out, "Type:     %s\n", rec.Kind)
			fmt.Fprintf(out, "Path:     %s\n", rec.Path)
			fmt.Fprintf(out, "Enabled:  %t\n", m.Enabled)
			fmt.Fprintf(out, "Maturity: %s\n", m.MaturityOrDefault())
			if m.Author != "" {
				fmt.Fprintf(out, "Author:   %s\n", m.Author)
			}
			if len(m.Triggers.Commands) > 0 {
				fmt.Fprintf(out, "Commands: %s\n", strings.Join(m.Triggers.Commands, ", "))
			}
			if len(m.Dependencies) > 0 {
				fmt.Fprintf(out, "Requires: %s\n", strings.Join(m.Dependencies, ", "))
			}
			return nil
		},
	}
}

func newPluginsToggleCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := localRegistry()
			if err != nil {
				return err
			}
			rec, err := reg.PersistEnabled(cmd.Context(), args[0], enabled)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %sd\n",
				color.GreenString("✓"), rec.Manifest.ID, verb)
			return nil
		},
	}
}

func newPluginsCatalogCmd() *cobra.Command {
	var compact bool

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the catalog of enabled plugins as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := localRegistry()
			if err != nil {
				return err
			}
			defer reg.Close()

			records, err := reg.Scan(cmd.Context())
			if err != nil {
				return err
			}
			for _, rec := range records {
				if !rec.Manifest.Enabled {
					continue
				}
				if err := reg.Load(cmd.Context(), rec); err != nil {
					log.Warn().Err(err).Str("id", rec.Manifest.ID).Msg("plugin skipped")
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if compact {
				return enc.Encode(reg.CompactCatalog())
			}
			return enc.Encode(reg.Catalog())
		},
	}

	cmd.Flags().BoolVar(&compact, "compact", false, "print the reduced listing handed to language models")
	return cmd
}
