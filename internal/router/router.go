package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
)

var (
	ErrNoRoute      = errors.New("no matching route")
	ErrRedirectLoop = errors.New("too many redirects")
)

const maxRedirects = 8

// Router resolves navigation targets through the route table and the guard
// and keeps the current location plus a back stack.
type Router struct {
	table *Table
	guard *Guard
	log   *slog.Logger

	mu      sync.Mutex
	history []Location
}

// New creates a router. A nil logger uses slog.Default().
func New(table *Table, guard *Guard, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{table: table, guard: guard, log: logger}
}

// Table returns the route table.
func (r *Router) Table() *Table { return r.table }

// Navigate resolves target, following route redirects and guard redirects,
// and records where it ends up.
func (r *Router) Navigate(ctx context.Context, target string) (Location, error) {
	loc, err := r.resolve(ctx, target)
	if err != nil {
		return Location{}, err
	}
	r.mu.Lock()
	if n := len(r.history); n == 0 || r.history[n-1].FullPath() != loc.FullPath() {
		r.history = append(r.history, loc)
	}
	r.mu.Unlock()
	return loc, nil
}

// Push navigates to the route named name.
func (r *Router) Push(ctx context.Context, name string, params Params, query url.Values) (Location, error) {
	href, err := r.table.Href(name, params, query)
	if err != nil {
		return Location{}, err
	}
	return r.Navigate(ctx, href)
}

// Back returns to the previous location, re-running the guard on it. At
// the first location it stays put.
func (r *Router) Back(ctx context.Context) (Location, error) {
	r.mu.Lock()
	if len(r.history) < 2 {
		var cur Location
		if len(r.history) == 1 {
			cur = r.history[0]
		}
		r.mu.Unlock()
		return cur, nil
	}
	r.history = r.history[:len(r.history)-1]
	prev := r.history[len(r.history)-1]
	r.history = r.history[:len(r.history)-1]
	r.mu.Unlock()
	return r.Navigate(ctx, prev.FullPath())
}

// Refresh re-runs the guard on the current location, e.g. after sign-in or
// sign-out. Without a current location it navigates to "/".
func (r *Router) Refresh(ctx context.Context) (Location, error) {
	target := "/"
	if cur, ok := r.Current(); ok {
		target = cur.FullPath()
	}
	return r.Navigate(ctx, target)
}

// Current returns the current location.
func (r *Router) Current() (Location, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		return Location{}, false
	}
	return r.history[len(r.history)-1], true
}

func (r *Router) resolve(ctx context.Context, target string) (Location, error) {
	path := target
	for hop := 0; hop <= maxRedirects; hop++ {
		loc, ok := r.table.Match(path)
		if !ok {
			return Location{}, fmt.Errorf("%w: %s", ErrNoRoute, path)
		}
		if loc.Route.Redirect != "" {
			r.log.Debug("router: route redirect", "from", path, "to", loc.Route.Redirect)
			path = loc.Route.Redirect
			continue
		}
		d := r.guard.Check(ctx, loc)
		if d.Proceed() {
			r.log.Debug("router: navigated", "route", loc.Name(), "path", loc.FullPath())
			return loc, nil
		}
		path = d.Redirect
	}
	return Location{}, fmt.Errorf("%w: %s", ErrRedirectLoop, target)
}
