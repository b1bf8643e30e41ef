package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/attendance-app/client/internal/realtime"
	"github.com/spf13/cobra"
)

// sessionPollInterval is how often watch --session checks that the server
// still holds its channel.
var sessionPollInterval = 250 * time.Millisecond

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Session string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream new attendance logs",
		Long: `Stream new attendance logs as JSON lines until interrupted.

Without --session every new log is printed; stream errors are reported and
the subscription is kept. With --session only the logs of that session are
printed and a stream error or the server closing the channel ends the
command.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Session, "session", "", "only stream logs of this session id")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	var sessionID int64
	if opts.Session != "" {
		id, err := realtime.ParseSessionID(opts.Session)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --session", err)
		}
		sessionID = id
	}

	svc, err := newServices(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()
	if svc.resolveSession(ctx) == nil {
		svc.log.Warn("watch: not signed in, the stream may be empty")
	}
	svc.startAutoRefresh(ctx)

	registry, err := svc.startRealtime(ctx, func(connected bool) {
		svc.log.Debug("watch: connection changed", "connected", connected)
	})
	if err != nil {
		return err
	}

	var (
		mu        sync.Mutex
		streamErr error
	)
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	onEvent := func(ev realtime.Event) {
		mu.Lock()
		defer mu.Unlock()
		if err := printJSON(out, ev); err != nil {
			svc.log.Error("watch: failed to print event", "err", err)
		}
	}

	if opts.Session == "" {
		registry.SubscribeGlobal(ctx, onEvent, func(reason string, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fmt.Fprintf(errOut, "%s (%v)\n", reason, err)
				return
			}
			fmt.Fprintln(errOut, reason)
		})
	} else {
		registry.SubscribeForSession(ctx, opts.Session, onEvent, func(reason string, err error) {
			mu.Lock()
			streamErr = streamError(reason, err)
			mu.Unlock()
			cancel()
		})
	}

	if opts.Session == "" {
		<-ctx.Done()
	} else if waitSessionClosed(ctx, registry, sessionID) {
		mu.Lock()
		if streamErr == nil {
			fmt.Fprintf(errOut, "session %d stream closed by server\n", sessionID)
		}
		mu.Unlock()
	}

	mu.Lock()
	defer mu.Unlock()
	if streamErr != nil {
		return WrapExitError(ExitFailure, "stream ended", streamErr)
	}
	return nil
}

// waitSessionClosed blocks until ctx is done or the registry no longer holds
// id. It reports true in the second case.
func waitSessionClosed(ctx context.Context, registry *realtime.Registry, id int64) bool {
	ticker := time.NewTicker(sessionPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if !slices.Contains(registry.Sessions(), id) {
				return true
			}
		}
	}
}

func streamError(reason string, err error) error {
	if err == nil {
		return errors.New(reason)
	}
	return fmt.Errorf("%s: %w", reason, err)
}
