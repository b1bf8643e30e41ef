package cli

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"

	"github.com/attendance-app/client/internal/client"
	"github.com/spf13/cobra"
)

// NewStudentsCommand creates the students command group.
func NewStudentsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "students",
		Short: "List and manage students",
	}
	cmd.AddCommand(newStudentsListCommand(rootOpts))
	cmd.AddCommand(newStudentsAddCommand(rootOpts))
	cmd.AddCommand(newStudentsDeleteCommand(rootOpts))
	cmd.AddCommand(newStudentsReportCommand(rootOpts))
	return cmd
}

// signedIn builds the services and requires a signed-in user.
func signedIn(cmd *cobra.Command, opts *RootOptions) (*services, context.Context, error) {
	svc, err := newServices(opts, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	ctx := commandContext(cmd)
	if _, err := svc.requireUser(ctx); err != nil {
		svc.Close()
		return nil, nil, err
	}
	return svc, ctx, nil
}

func parseID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid %s id %q", what, raw))
	}
	return id, nil
}

func newStudentsListCommand(rootOpts *RootOptions) *cobra.Command {
	var filter client.StudentFilter
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List students with attendance stats",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, ctx, err := signedIn(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer svc.Close()

			students, err := svc.api.FetchStudents(ctx, filter)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to fetch students", err)
			}
			rows := make([][]string, 0, len(students))
			for _, s := range students {
				rows = append(rows, []string{
					strconv.FormatInt(s.ID, 10),
					s.FullName,
					s.ClassName,
					s.TagUID,
					fmt.Sprintf("%d/%d", s.AttendedSessions, s.TotalSessions),
					fmt.Sprintf("%.0f%%", s.AttendanceRate),
				})
			}
			return output(cmd.OutOrStdout(), rootOpts, students,
				[]string{"ID", "NAME", "CLASS", "TAG", "ATTENDED", "RATE"}, rows)
		},
	}
	cmd.Flags().StringVar(&filter.Name, "name", "", "filter by name")
	cmd.Flags().StringVar(&filter.ClassName, "class", "", "filter by class")
	return cmd
}

func newStudentsAddCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		in   client.StudentInput
		face string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a student",
		Long: `Add a student. With --face the picture is uploaded to the face image
bucket first and removed again if the student cannot be added.

Example:
  attendance students add --tag 04A1B2C3 --name "Ana Lima" --class SE --face ana.jpg`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, ctx, err := signedIn(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer svc.Close()

			if face != "" {
				key, err := uploadFace(ctx, svc.api, face)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to upload face image", err)
				}
				in.FaceImagePath = key
			}
			student, err := svc.api.AddStudent(ctx, in)
			if err != nil {
				if in.FaceImagePath != "" {
					if rerr := svc.api.Remove(ctx, client.FaceImagesBucket, in.FaceImagePath); rerr != nil {
						svc.log.Warn("students: failed to remove orphaned face image", "path", in.FaceImagePath, "err", rerr)
					}
				}
				return WrapExitError(ExitFailure, "failed to add student", err)
			}
			if rootOpts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), student)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added student %d (%s)\n", student.ID, student.FullName)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.TagUID, "tag", "", "tag uid")
	cmd.Flags().StringVar(&in.FullName, "name", "", "full name")
	cmd.Flags().StringVar(&in.ClassName, "class", "", "class name")
	cmd.Flags().StringVar(&face, "face", "", "face image file to upload")
	cmd.MarkFlagRequired("tag")
	cmd.MarkFlagRequired("name")
	return cmd
}

// uploadFace stores the file in the face image bucket and returns its
// object path.
func uploadFace(ctx context.Context, api *client.Client, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()

	objectPath := client.NewFaceImagePath(filepath.Base(file))
	if _, err := api.Upload(ctx, client.FaceImagesBucket, objectPath, f, client.UploadOptions{
		ContentType: mime.TypeByExtension(filepath.Ext(objectPath)),
	}); err != nil {
		return "", err
	}
	return objectPath, nil
}

func newStudentsDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <student-id>",
		Short:         "Delete a student and their face image",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "student")
			if err != nil {
				return err
			}
			svc, ctx, err := signedIn(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer svc.Close()

			var facePath string
			students, err := svc.api.FetchStudents(ctx, client.StudentFilter{})
			if err != nil {
				return WrapExitError(ExitFailure, "failed to fetch students", err)
			}
			for _, s := range students {
				if s.ID == id && s.FaceImagePath != nil {
					facePath = *s.FaceImagePath
				}
			}

			if err := svc.api.DeleteStudent(ctx, id); err != nil {
				return WrapExitError(ExitFailure, "failed to delete student", err)
			}
			if facePath != "" && !client.IsFullURL(facePath) {
				if err := svc.api.Remove(ctx, client.FaceImagesBucket, facePath); err != nil {
					svc.log.Warn("students: failed to remove face image", "path", facePath, "err", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted student %d\n", id)
			return nil
		},
	}
}

func newStudentsReportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "report <student-id>",
		Short:         "Show the attendance of a student per session",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "student")
			if err != nil {
				return err
			}
			svc, ctx, err := signedIn(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer svc.Close()

			rows, err := svc.api.FetchStudentAttendanceSummary(ctx, id)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to fetch attendance summary", err)
			}
			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				table = append(table, []string{r.SessionName, formatTime(&r.StartedAt), r.Status, formatTime(r.ScannedAt)})
			}
			return output(cmd.OutOrStdout(), rootOpts, rows, []string{"SESSION", "STARTED", "STATUS", "SCANNED"}, table)
		},
	}
}

func formatTime(ts *client.Timestamp) string {
	if ts == nil || ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04")
}
