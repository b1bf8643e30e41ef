package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/attendance-app/client/internal/auth"
	"github.com/attendance-app/client/internal/client"
	"github.com/attendance-app/client/internal/config"
	"github.com/attendance-app/client/internal/realtime"
	"github.com/spf13/cobra"
)

// services are the backend handles a command works with.
type services struct {
	cfg     *config.Config
	log     *slog.Logger
	store   *auth.SQLiteStore
	auth    *auth.GoTrue
	gateway *auth.Gateway
	api     *client.Client

	closers []func()
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// newServices loads the config and wires the auth provider, gateway and
// REST client. Logs go to logOut.
func newServices(opts *RootOptions, logOut io.Writer) (*services, error) {
	return newServicesWithLogger(opts, newLogger(logOut, opts.Verbose))
}

func newServicesWithLogger(opts *RootOptions, logger *slog.Logger) (*services, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}

	if dir := filepath.Dir(cfg.SessionFile); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to create session directory", err)
		}
	}
	store, err := auth.OpenSQLiteStore(cfg.SessionFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open session store", err)
	}

	httpClient := &http.Client{Timeout: cfg.HTTP.Timeout}
	provider := auth.NewGoTrue(cfg.AuthURL(), cfg.AnonKey, auth.GoTrueOptions{
		HTTPClient: httpClient,
		Store:      store,
		Logger:     logger,
	})
	gateway := auth.NewGateway(provider, auth.NewState(), logger)
	api := client.New(client.Endpoints{REST: cfg.RESTURL(), Storage: cfg.StorageURL()}, cfg.AnonKey, client.Options{
		HTTPClient:  httpClient,
		AccessToken: provider.AccessToken,
		Logger:      logger,
	})

	s := &services{
		cfg:     cfg,
		log:     logger,
		store:   store,
		auth:    provider,
		gateway: gateway,
		api:     api,
	}
	s.closers = append(s.closers, func() { store.Close() }, gateway.Close)
	return s, nil
}

// startAutoRefresh keeps the session token fresh until ctx is done.
func (s *services) startAutoRefresh(ctx context.Context) {
	go s.auth.AutoRefresh(ctx, s.cfg.Auth.RefreshCheck)
}

// startRealtime connects the realtime socket in the background and returns
// a registry over it. Token changes are forwarded to joined channels.
func (s *services) startRealtime(ctx context.Context, onConnection func(bool)) (*realtime.Registry, error) {
	sock, err := realtime.NewSocket(s.cfg.RealtimeURL(), s.cfg.AnonKey, realtime.SocketOptions{
		HeartbeatInterval:  s.cfg.Realtime.HeartbeatInterval,
		JoinTimeout:        s.cfg.Realtime.JoinTimeout,
		ReconnectMaxDelay:  s.cfg.Realtime.ReconnectMaxDelay,
		AccessToken:        s.auth.AccessToken,
		OnConnectionChange: onConnection,
		Logger:             s.log,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid realtime endpoint", err)
	}
	unsubscribe := s.auth.OnAuthStateChange(func(event auth.ChangeEvent, _ *auth.Session) {
		switch event {
		case auth.EventSignedIn, auth.EventTokenRefreshed:
			sock.RefreshAuth()
		}
	})

	// The socket outlives ctx until Close so channels can be left cleanly.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sock.Run(runCtx); err != nil && runCtx.Err() == nil {
			s.log.Error("realtime: socket stopped", "err", err)
		}
	}()

	registry := realtime.NewRegistry(sock, s.log)
	// Closers run in reverse, so the registry leaves its channels while the
	// socket is still up.
	s.closers = append(s.closers, func() {
		unsubscribe()
		cancel()
		<-done
		sock.Close()
	}, func() {
		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), s.cfg.Realtime.JoinTimeout)
		defer leaveCancel()
		registry.Close(leaveCtx)
	})
	return registry, nil
}

// resolveSession loads the stored session, if any. Commands that work
// anonymously carry on without one.
func (s *services) resolveSession(ctx context.Context) *auth.User {
	if err := s.gateway.Resolve(ctx); err != nil {
		s.log.Warn("auth: could not resolve session", "err", err)
	}
	return s.gateway.Snapshot().User
}

// requireUser resolves the session and fails when nobody is signed in.
func (s *services) requireUser(ctx context.Context) (*auth.User, error) {
	u := s.resolveSession(ctx)
	if u == nil {
		return nil, NewExitError(ExitCommandError, "not signed in (run: attendance login)")
	}
	return u, nil
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
