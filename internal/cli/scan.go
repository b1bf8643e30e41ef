package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/attendance-app/client/internal/client"
	"github.com/spf13/cobra"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	ReaderID string
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan [tag-uid...]",
		Short: "Record tag scans",
		Long: `Record tag scans against the open session.

Tag UIDs come from the arguments or, without arguments, one per line on
stdin, which is what a keyboard-wedge reader types. Each scan prints
whether the backend acknowledged it (logged or debounced) or rejected it.

Example:
  attendance scan 04A1B2C3 --reader door-1`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.ReaderID, "reader", "", "reader id sent with each scan (default from config)")

	return cmd
}

func runScan(cmd *cobra.Command, opts *ScanOptions, args []string) error {
	svc, err := newServices(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx := commandContext(cmd)
	svc.resolveSession(ctx)

	readerID := opts.ReaderID
	if readerID == "" {
		readerID = svc.cfg.ReaderID
	}

	s := &scanner{api: svc.api, readerID: readerID, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}
	if len(args) > 0 {
		for _, uid := range args {
			s.scan(ctx, uid)
		}
	} else if err := s.scanLines(ctx, cmd.InOrStdin()); err != nil {
		return WrapExitError(ExitFailure, "failed to read tag uids", err)
	}

	if s.failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scans failed", s.failed, s.total))
	}
	return nil
}

type scanner struct {
	api      *client.Client
	readerID string
	out      io.Writer
	errOut   io.Writer

	total  int
	failed int
}

func (s *scanner) scan(ctx context.Context, raw string) {
	uid := client.NormalizeTagUID(raw)
	if uid == "" {
		return
	}
	s.total++
	ok, err := s.api.ScanAttendance(ctx, uid, s.readerID)
	switch {
	case err != nil:
		s.failed++
		fmt.Fprintf(s.errOut, "%s error: %v\n", uid, err)
	case ok:
		fmt.Fprintf(s.out, "%s acknowledged\n", uid)
	default:
		fmt.Fprintf(s.out, "%s rejected\n", uid)
	}
}

func (s *scanner) scanLines(ctx context.Context, r io.Reader) error {
	lines := bufio.NewScanner(r)
	for lines.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		s.scan(ctx, lines.Text())
	}
	return lines.Err()
}
