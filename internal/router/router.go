// Package router resolves client-facing model names to backend model names.
package router

import (
	"strings"

	"claude-local-proxy/internal/config"
)

// Router resolves against the active backend's routing table. It is
// read-only after construction and safe for concurrent use.
type Router struct {
	table    config.RouteTable
	fallback string
}

func New(backend config.Backend) *Router {
	return &Router{
		table:    backend.Models,
		fallback: backend.DefaultModel,
	}
}

// Resolve maps a requested model name to a backend model name: exact match
// first, then the first table entry whose pattern is a prefix of the
// requested name (table order, not longest prefix), then the default model.
// There is no error path.
func (r *Router) Resolve(requested string) string {
	for _, route := range r.table {
		if route.Pattern == requested {
			return route.Target
		}
	}

	for _, route := range r.table {
		if strings.HasPrefix(requested, route.Pattern) {
			return route.Target
		}
	}

	return r.fallback
}
