package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/attendance-app/client/internal/app"
	"github.com/attendance-app/client/internal/router"
	"github.com/attendance-app/client/internal/views/debug"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// TUIOptions holds flags for the tui command.
type TUIOptions struct {
	*RootOptions
	Style string
}

// NewTUICommand creates the tui command.
func NewTUICommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TUIOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Start the terminal UI",
		Long: `Start the terminal UI.

Logs are written to --log-file and mirrored in the in-app debug panel (d).`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Style, "style", "dark", "glamour style of rendered reports (dark|light|notty)")

	return cmd
}

func runTUI(cmd *cobra.Command, opts *TUIOptions) error {
	f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open log file", err)
	}
	defer f.Close()

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	debugLog := debug.NewLog()
	logger := slog.New(debugLog.Handler(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})))

	svc, err := newServicesWithLogger(opts.RootOptions, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()
	svc.startAutoRefresh(ctx)

	relay := app.NewRelay()
	registry, err := svc.startRealtime(ctx, func(connected bool) {
		relay.Push(app.ConnectionMsg{Connected: connected})
	})
	if err != nil {
		return err
	}

	table := router.DefaultTable()
	r := router.New(table, router.NewGuard(table, svc.gateway, logger), logger)

	m := app.New(app.Deps{
		API:      svc.api,
		Gateway:  svc.gateway,
		Router:   r,
		Registry: registry,
		Relay:    relay,
		Debug:    debugLog,
		Logger:   logger,
		Style:    opts.Style,
	})
	logger.Info("client: starting terminal UI", "url", svc.cfg.URL)

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if fm, ok := final.(app.Model); ok {
		fm.Close()
	} else {
		m.Close()
	}
	if err != nil && !(errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil) {
		return WrapExitError(ExitFailure, "terminal UI failed", fmt.Errorf("run: %w", err))
	}
	return nil
}
