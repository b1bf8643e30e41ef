package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// output writes v as JSON, or the rows as a table in text format.
func output(w io.Writer, opts *RootOptions, v any, headers []string, rows [][]string) error {
	if opts.Format == "json" {
		return printJSON(w, v)
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No results")
		return err
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...)
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
