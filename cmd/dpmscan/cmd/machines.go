package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/MeKo-Tech/dpmscan/internal/config"
	"github.com/MeKo-Tech/dpmscan/internal/machine"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (a *app) newMachinesCmd() *cobra.Command {
	machinesCmd := &cobra.Command{
		Use:   "machines",
		Short: "List the supported machine profiles",
		Long: `List the machine profiles with their crop regions in the 1224x1024 frame.

The table comes from the "machines" section of the configuration file merged
over the built-in machine_1, machine_2 and machine_3 entries.

Examples:
  dpmscan machines
  dpmscan machines --yaml > machines.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.config()
			registry, err := cfg.Registry()
			if err != nil {
				return err
			}
			asYAML, _ := cmd.Flags().GetBool("yaml")
			if asYAML {
				return writeMachinesYAML(cmd.OutOrStdout(), registry)
			}
			return writeMachinesTable(cmd.OutOrStdout(), registry, machine.Normalize(cfg.Machine))
		},
	}
	machinesCmd.Flags().Bool("yaml", false, "print the table as a configuration snippet")
	return machinesCmd
}

func writeMachinesTable(w io.Writer, registry *machine.Registry, selected string) error {
	nameWidth := runewidth.StringWidth("MACHINE")
	for _, name := range registry.Names() {
		nameWidth = max(nameWidth, runewidth.StringWidth(name))
	}

	header := fmt.Sprintf("  %s  %6s %6s %6s %6s  %9s  %s",
		runewidth.FillRight("MACHINE", nameWidth), "TOP", "BOTTOM", "LEFT", "RIGHT", "SIZE", "DISPLAY")
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	for _, p := range registry.Profiles() {
		mark := " "
		if p.Name() == selected {
			mark = "*"
		}
		c := p.Crop()
		line := fmt.Sprintf("%s %s  %6d %6d %6d %6d  %9s  %t",
			mark, runewidth.FillRight(p.Name(), nameWidth),
			c.Top, c.Bottom, c.Left, c.Right,
			fmt.Sprintf("%dx%d", c.Width(), c.Height()), p.Display())
		if _, err := fmt.Fprintln(w, strings.TrimRight(line, " ")); err != nil {
			return err
		}
	}
	return nil
}

func writeMachinesYAML(w io.Writer, registry *machine.Registry) error {
	table := make(map[string]config.MachineConfig, registry.Len())
	for _, p := range registry.Profiles() {
		c := p.Crop()
		table[p.Name()] = config.MachineConfig{
			Top:     c.Top,
			Bottom:  c.Bottom,
			Left:    c.Left,
			Right:   c.Right,
			Display: p.Display(),
		}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"machines": table}); err != nil {
		return fmt.Errorf("failed to encode machine table: %w", err)
	}
	return enc.Close()
}
