package cli

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/attendance-app/client/internal/client"
	"github.com/spf13/cobra"
)

// NewSessionsCommand creates the sessions command group.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List, start and end attendance sessions",
	}
	cmd.AddCommand(newSessionsListCommand(rootOpts))
	cmd.AddCommand(newSessionsStartCommand(rootOpts))
	cmd.AddCommand(newSessionsEndCommand(rootOpts))
	cmd.AddCommand(newSessionsReportCommand(rootOpts))
	return cmd
}

func newSessionsListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List sessions, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, ctx, err := signedIn(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer svc.Close()

			sessions, err := svc.api.FetchSessions(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to fetch sessions", err)
			}
			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				ended := "open"
				if !s.Active() {
					ended = formatTime(s.EndedAt)
				}
				rows = append(rows, []string{strconv.FormatInt(s.ID, 10), s.Name, s.ClassName, formatTime(&s.StartedAt), ended})
			}
			return output(cmd.OutOrStdout(), rootOpts, sessions, []string{"ID", "NAME", "CLASS", "STARTED", "ENDED"}, rows)
		},
	}
}

func newSessionsStartCommand(rootOpts *RootOptions) *cobra.Command {
	var name, className string
	cmd := &cobra.Command{
		Use:           "start",
		Short:         "Start a session for a class",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(client.PredefinedClasses, className) {
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown class %q: must be one of %v", className, client.PredefinedClasses))
			}
			svc, ctx, err := signedIn(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer svc.Close()

			result, err := svc.api.StartSession(ctx, name, className)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to start session", err)
			}
			if rootOpts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started session %q for %s\n", name, className)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "session name")
	cmd.Flags().StringVar(&className, "class", "", "class name")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("class")
	return cmd
}

func newSessionsEndCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "end",
		Short:         "End the latest open session",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, ctx, err := signedIn(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer svc.Close()

			result, err := svc.api.EndLatestSession(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to end session", err)
			}
			if rootOpts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Ended latest session")
			return nil
		},
	}
}

func newSessionsReportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "report <session-id>",
		Short:         "Show who attended a session",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "session")
			if err != nil {
				return err
			}
			svc, ctx, err := signedIn(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer svc.Close()

			rows, err := svc.api.FetchSessionAttendanceReport(ctx, id)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to fetch session report", err)
			}
			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				table = append(table, []string{r.FullName, r.ClassName, r.TagUID, r.Status, formatTime(r.ScannedAt)})
			}
			return output(cmd.OutOrStdout(), rootOpts, rows, []string{"NAME", "CLASS", "TAG", "STATUS", "SCANNED"}, table)
		},
	}
}
