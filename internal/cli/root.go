// Package cli implements the attendance command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	LogFile    string
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. Without a subcommand it starts
// the terminal UI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	tui := NewTUICommand(opts)
	cmd := &cobra.Command{
		Use:   "attendance",
		Short: "Attendance tracking client",
		Long: `Attendance tracking client.

Signs in against the project's auth server, browses students and sessions,
reviews scans as they arrive and records tag scans from a reader.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		RunE: tui.RunE,
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "attendance.yaml", "config file (missing is fine)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "attendance.log", "log file used while the terminal UI runs")

	cmd.AddCommand(tui)
	cmd.AddCommand(NewScanCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewStudentsCommand(opts))
	cmd.AddCommand(NewSessionsCommand(opts))

	return cmd
}
