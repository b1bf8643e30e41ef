// Package router maps paths to routes and gates navigation on the session
// state.
package router

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// CatchAll is the path of a route matching anything no other route does.
const CatchAll = "*"

// Route is one entry of the route table. Path segments starting with ':'
// are parameters. A route with Redirect set never renders; navigating to it
// follows the redirect.
type Route struct {
	Name         string
	Path         string
	RequiresAuth bool
	// Parent names the route this one nests under; RequiresAuth is
	// inherited along the chain.
	Parent   string
	Redirect string
}

// Params are the path parameters of a matched route.
type Params map[string]string

// Location is a resolved navigation target. RawQuery keeps the query as
// it was written; Query is its parsed form.
type Location struct {
	Route    *Route
	Path     string
	Params   Params
	Query    url.Values
	RawQuery string
}

// FullPath returns the path with its query string, in the order it was
// written when the location came from Match.
func (l Location) FullPath() string {
	switch {
	case l.RawQuery != "":
		return l.Path + "?" + l.RawQuery
	case len(l.Query) == 0:
		return l.Path
	}
	return l.Path + "?" + l.Query.Encode()
}

// Name returns the route name, or "" for an empty location.
func (l Location) Name() string {
	if l.Route == nil {
		return ""
	}
	return l.Route.Name
}

// Table is an immutable, validated set of routes. Routes are matched in
// declaration order.
type Table struct {
	routes []*Route
	byName map[string]*Route
}

// NewTable validates routes and builds a table.
func NewTable(routes ...Route) (*Table, error) {
	t := &Table{byName: make(map[string]*Route)}
	for i := range routes {
		r := routes[i]
		switch {
		case r.Path == "":
			return nil, fmt.Errorf("route %d (%q): empty path", i, r.Name)
		case r.Path != CatchAll && !strings.HasPrefix(r.Path, "/"):
			return nil, fmt.Errorf("route %q: path %q must start with /", r.Name, r.Path)
		case r.Name == "" && r.Redirect == "":
			return nil, fmt.Errorf("route %q: unnamed routes must redirect", r.Path)
		}
		if r.Name != "" {
			if _, dup := t.byName[r.Name]; dup {
				return nil, fmt.Errorf("route %q: duplicate name", r.Name)
			}
			t.byName[r.Name] = &r
		}
		t.routes = append(t.routes, &r)
	}

	for _, r := range t.routes {
		seen := map[string]bool{}
		for p := r; p.Parent != ""; {
			if seen[p.Name] {
				return nil, fmt.Errorf("route %q: parent cycle", r.Name)
			}
			seen[p.Name] = true
			next, ok := t.byName[p.Parent]
			if !ok {
				return nil, fmt.Errorf("route %q: unknown parent %q", p.Name, p.Parent)
			}
			p = next
		}
	}
	return t, nil
}

// Lookup returns the route named name.
func (t *Table) Lookup(name string) (*Route, bool) {
	r, ok := t.byName[name]
	return r, ok
}

// Routes returns the routes in declaration order.
func (t *Table) Routes() []*Route {
	return append([]*Route(nil), t.routes...)
}

// Chain returns r followed by its parents.
func (t *Table) Chain(r *Route) []*Route {
	var chain []*Route
	for r != nil {
		chain = append(chain, r)
		if r.Parent == "" {
			break
		}
		r = t.byName[r.Parent]
	}
	return chain
}

// RequiresAuth reports whether r or any of its parents requires a user.
func (t *Table) RequiresAuth(r *Route) bool {
	for _, c := range t.Chain(r) {
		if c.RequiresAuth {
			return true
		}
	}
	return false
}

// Match resolves a path with an optional query string.
func (t *Table) Match(target string) (Location, bool) {
	u, err := url.Parse(target)
	if err != nil {
		return Location{}, false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}

	for _, r := range t.routes {
		if params, ok := matchPath(r.Path, path); ok {
			return Location{Route: r, Path: path, Params: params, Query: u.Query(), RawQuery: u.RawQuery}, true
		}
	}
	return Location{}, false
}

func matchPath(pattern, path string) (Params, bool) {
	if pattern == CatchAll {
		return Params{}, true
	}
	want := splitPath(pattern)
	got := splitPath(path)
	if len(want) != len(got) {
		return nil, false
	}
	params := Params{}
	for i, seg := range want {
		if name, ok := strings.CutPrefix(seg, ":"); ok {
			v, err := url.PathUnescape(got[i])
			if err != nil || v == "" {
				return nil, false
			}
			params[name] = v
			continue
		}
		if seg != got[i] {
			return nil, false
		}
	}
	return params, true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

var errMissingParam = errors.New("missing route parameter")

// Href builds the full path of the route named name.
func (t *Table) Href(name string, params Params, query url.Values) (string, error) {
	r, ok := t.byName[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNoRoute, name)
	}
	if r.Path == CatchAll {
		return "", fmt.Errorf("route %q has no path", name)
	}
	segs := splitPath(r.Path)
	for i, seg := range segs {
		if p, ok := strings.CutPrefix(seg, ":"); ok {
			v := params[p]
			if v == "" {
				return "", fmt.Errorf("route %q: %w %q", name, errMissingParam, p)
			}
			segs[i] = url.PathEscape(v)
		}
	}
	loc := Location{Path: "/" + strings.Join(segs, "/"), Query: query}
	return loc.FullPath(), nil
}
