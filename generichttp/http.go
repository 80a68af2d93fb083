package generichttp

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi"
)

// MethodPath is a tuple of an HTTP method and a URL path
type MethodPath struct {
	// Method is the HTTP method, e.g. http.MethodGet
	Method string

	// Path is the URL fragment, e.g. /axis/{axis}/pos
	Path string
}

// RouteTable maps method-path pairs to the handlers that serve them
type RouteTable map[MethodPath]http.HandlerFunc

// HTTPer is a type which exposes its routes so they can be bound
// to a router
type HTTPer interface {
	// RT yields the route table, which can be modified
	RT() RouteTable
}

// Bind adds every route in the table to the router
func (rt RouteTable) Bind(r chi.Router) {
	for mp, meth := range rt {
		r.Method(mp.Method, mp.Path, meth)
	}
}

// Endpoints returns the sorted list of "METHOD /path" strings in the table
func (rt RouteTable) Endpoints() []string {
	eps := make([]string, 0, len(rt))
	for mp := range rt {
		eps = append(eps, mp.Method+" "+mp.Path)
	}
	sort.Strings(eps)
	return eps
}

// SubMuxSanitize converts an endpoint fragment from config into a
// mountable stem: a leading slash, no trailing slash or wildcard.
// "bench2/stage" => "/bench2/stage"
func SubMuxSanitize(stem string) string {
	if !strings.HasPrefix(stem, "/") {
		stem = "/" + stem
	}
	stem = strings.TrimSuffix(stem, "*")
	stem = strings.TrimSuffix(stem, "/")
	if stem == "" {
		stem = "/"
	}
	return stem
}
