package respond

import (
	"context"
	"fmt"
)

// Router dispatches to a named responder backend with a fallback default.
type Router struct {
	backends map[string]Responder
	fallback string
}

// NewRouter creates a router with the given backends and a fallback engine
// name used when the requested engine is not found.
func NewRouter(backends map[string]Responder, fallback string) *Router {
	return &Router{backends: backends, fallback: fallback}
}

// Route returns the backend for the given engine name, falling back to the default.
func (r *Router) Route(engine string) (Responder, error) {
	if backend, ok := r.backends[engine]; ok {
		return backend, nil
	}
	if backend, ok := r.backends[r.fallback]; ok {
		return backend, nil
	}
	return nil, fmt.Errorf("no responder for engine %q", engine)
}

// Has reports whether the router has a backend for the given engine name.
func (r *Router) Has(engine string) bool {
	_, ok := r.backends[engine]
	return ok
}

// Engines returns the names of all registered backends.
func (r *Router) Engines() []string {
	names := make([]string, 0, len(r.backends))
	for k := range r.backends {
		names = append(names, k)
	}
	return names
}

// Respond dispatches to the fallback backend, making the router itself a
// Responder bound to its default engine.
func (r *Router) Respond(ctx context.Context, req Request) (*Reply, error) {
	backend, err := r.Route(r.fallback)
	if err != nil {
		return nil, err
	}
	return backend.Respond(ctx, req)
}
