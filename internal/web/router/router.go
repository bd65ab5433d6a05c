// Package router wires the HTTP API onto chi.
package router

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/conduit-lang/cloner/internal/web/middleware"
	"github.com/conduit-lang/cloner/internal/web/response"
)

// RouteInfo describes a registered route
type RouteInfo struct {
	Method  string
	Pattern string
	Params  []string
}

// Router wraps a chi mux and remembers what was registered on it
type Router struct {
	mux    chi.Router
	routes []RouteInfo
}

// New creates a router whose unknown routes and methods answer in JSON
func New() *Router {
	mux := chi.NewRouter()
	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.RenderError(w, http.StatusNotFound, "", "no route for "+r.Method+" "+r.URL.Path)
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.RenderError(w, http.StatusMethodNotAllowed, "", "method "+r.Method+" not allowed")
	})
	return &Router{mux: mux}
}

// Use registers middleware run after routing, so chi route patterns are
// visible to it. Call it before registering routes.
func (r *Router) Use(middlewares ...middleware.Middleware) {
	for _, m := range middlewares {
		r.mux.Use(m)
	}
}

// Get registers a GET route
func (r *Router) Get(pattern string, handler http.Handler) {
	r.handle(http.MethodGet, pattern, handler)
}

// Post registers a POST route
func (r *Router) Post(pattern string, handler http.Handler) {
	r.handle(http.MethodPost, pattern, handler)
}

func (r *Router) handle(method, pattern string, handler http.Handler) {
	r.mux.Method(method, pattern, handler)
	r.routes = append(r.routes, RouteInfo{
		Method:  method,
		Pattern: pattern,
		Params:  extractParams(pattern),
	})
}

// Routes returns the registered routes sorted by pattern and method
func (r *Router) Routes() []RouteInfo {
	out := make([]RouteInfo, len(r.routes))
	copy(out, r.routes)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func extractParams(pattern string) []string {
	var params []string
	for _, part := range strings.Split(pattern, "/") {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			name := strings.Trim(part, "{}")
			if i := strings.Index(name, ":"); i >= 0 {
				name = name[:i]
			}
			params = append(params, name)
		}
	}
	return params
}
