// ABOUTME: Ordered, data-driven route table for proxied upstreams
// ABOUTME: Built once from config at startup; matching is pure and first-match-wins

package gateway

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hypertube/gateway/internal/config"
)

// Route classes
const (
	ClassPublic    = "public"
	ClassProtected = "protected"
	ClassHealth    = "health"
)

// Route is one entry in the proxy route table
type Route struct {
	Path     string // exact path, or prefix when Prefix is set
	Prefix   bool
	Method   string // empty matches every method
	Upstream string
	Class    string
}

// Upstream is a proxy target with its own timeout budget
type Upstream struct {
	Name    string
	BaseURL *url.URL
	Timeout time.Duration
}

// RouteTable holds the ordered route list and the upstream registry.
// The table is built once at startup and never mutated afterwards, so
// Match is safe for unsynchronized concurrent use.
type RouteTable struct {
	routes    []Route
	upstreams map[string]*Upstream
}

// NewRouteTable builds the table from configuration, preserving order.
// Every route must name a configured upstream.
func NewRouteTable(upstreams []config.UpstreamConfig, routes []config.RouteConfig) (*RouteTable, error) {
	registry := make(map[string]*Upstream, len(upstreams))
	for _, uc := range upstreams {
		base, err := url.Parse(uc.URL)
		if err != nil {
			return nil, fmt.Errorf("upstream %s: invalid url %q: %w", uc.Name, uc.URL, err)
		}
		registry[uc.Name] = &Upstream{Name: uc.Name, BaseURL: base, Timeout: uc.Timeout}
	}

	table := make([]Route, 0, len(routes))
	for _, rc := range routes {
		if _, ok := registry[rc.Upstream]; !ok {
			return nil, fmt.Errorf("route %s: unknown upstream %q", rc.Path, rc.Upstream)
		}
		table = append(table, Route{
			Path:     rc.Path,
			Prefix:   rc.Prefix,
			Method:   strings.ToUpper(rc.Method),
			Upstream: rc.Upstream,
			Class:    rc.Class,
		})
	}

	return &RouteTable{routes: table, upstreams: registry}, nil
}

// Match selects the first route matching the method and path.
// Returns false when no route matches.
func (t *RouteTable) Match(method, path string) (*Route, bool) {
	for i := range t.routes {
		r := &t.routes[i]
		if r.Method != "" && r.Method != method {
			continue
		}
		if r.matches(path) {
			return r, true
		}
	}
	return nil, false
}

func (r *Route) matches(path string) bool {
	if r.Prefix {
		if !strings.HasPrefix(path, r.Path) {
			return false
		}
		// "/movies" matches "/movies" and "/movies/42" but not "/moviesearch"
		rest := path[len(r.Path):]
		return rest == "" || rest[0] == '/' || strings.HasSuffix(r.Path, "/")
	}
	return path == r.Path
}

// UpstreamFor returns the upstream registry entry for a route
func (t *RouteTable) UpstreamFor(route *Route) *Upstream {
	return t.upstreams[route.Upstream]
}

// Upstreams lists the registered upstream names
func (t *RouteTable) Upstreams() []string {
	names := make([]string, 0, len(t.upstreams))
	for name := range t.upstreams {
		names = append(names, name)
	}
	return names
}
