package router

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/attendance-app/client/internal/auth"
)

// SessionSource is what the guard needs from the auth layer.
type SessionSource interface {
	Snapshot() auth.Snapshot
	// Resolve performs the one-time session resolution.
	Resolve(ctx context.Context) error
}

// Decision is the outcome of a guard check. An empty Redirect means the
// navigation proceeds.
type Decision struct {
	Redirect string
}

// Proceed reports whether the navigation may complete unchanged.
func (d Decision) Proceed() bool { return d.Redirect == "" }

// Guard decides whether a navigation may proceed.
type Guard struct {
	table   *Table
	session SessionSource
	log     *slog.Logger
}

// NewGuard creates a guard over table. A nil logger uses slog.Default().
func NewGuard(table *Table, session SessionSource, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{table: table, session: session, log: logger}
}

// Check evaluates a navigation to to. While the session is still loading it
// first waits for the one-time resolution; a failed resolution counts as
// signed out.
func (g *Guard) Check(ctx context.Context, to Location) Decision {
	snap := g.session.Snapshot()
	if snap.Loading {
		if err := g.session.Resolve(ctx); err != nil {
			g.log.Warn("router: session resolution failed, continuing signed out", "err", err)
		}
		snap = g.session.Snapshot()
	}

	requiresAuth := g.table.RequiresAuth(to.Route)
	authenticated := snap.User != nil

	switch {
	case requiresAuth && !authenticated:
		href, err := g.table.Href(Login, nil, url.Values{RedirectParam: {to.FullPath()}})
		if err != nil {
			g.log.Error("router: no login route", "err", err)
			return Decision{}
		}
		g.log.Debug("router: redirecting to login", "from", to.FullPath())
		return Decision{Redirect: href}
	case !requiresAuth && authenticated && to.Name() == Login:
		href, err := g.table.Href(Home, nil, nil)
		if err != nil {
			g.log.Error("router: no home route", "err", err)
			return Decision{}
		}
		return Decision{Redirect: href}
	}
	return Decision{}
}
