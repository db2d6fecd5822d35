package cmd

import (
	"fmt"
	"io"
	"slices"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, section := range []struct {
				name   string
				values map[string]any
			}{
				{"pool", opts.cfg.Pool.DebugMap()},
				{"executor", opts.cfg.Executor.DebugMap()},
				{"monitor", opts.cfg.Monitor.DebugMap()},
				{"metrics", opts.cfg.Metrics.DebugMap()},
				{"logging", map[string]any{"LogFormat": opts.cfg.LogFormat, "LogLevel": opts.cfg.LogLevel}},
			} {
				printSection(out, section.name, section.values)
			}
			return nil
		},
	}
}

func printSection(out io.Writer, name string, values map[string]any) {
	header := color.New(color.FgCyan, color.Bold)
	_, _ = header.Fprintf(out, "%s\n", name)

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(out, "  %-22s %v\n", k, values[k])
	}
}
