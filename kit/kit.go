// Package kit holds the small transport-agnostic building blocks shared by
// every relance surface: the Endpoint function shape, middleware chaining,
// context enrichment keys, and MCP tool registration.
package kit

import "context"

// Endpoint is the transport-agnostic request handler shape. Every business
// operation is exposed as an Endpoint and wrapped per transport (HTTP, MCP).
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so the first argument is the outermost.
// Chain(a, b, c)(ep) runs a → b → c → ep.
func Chain(mws ...Middleware) Middleware {
	return func(ep Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			ep = mws[i](ep)
		}
		return ep
	}
}
