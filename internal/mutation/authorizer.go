package mutation

import (
	"github.com/nugget/entitysync/internal/connid"
	"github.com/nugget/entitysync/internal/entityid"
)

// AuthContext is what an Authorizer sees about a single mutation
// attempt: who is asking, and what they're asking to change. It
// deliberately does not expose the world itself — an ownership check
// should not need to mutate anything to answer yes or no.
type AuthContext struct {
	Connection    connid.ID
	Entity        entityid.ID
	ComponentType string
}

// Authorizer decides whether a mutation attempt is allowed. Authorize
// returning false is reported to the client as StatusForbidden; it
// never panics or errors — an authorizer that cannot reach its backing
// store should fail closed and return false.
type Authorizer interface {
	Authorize(ctx AuthContext) bool
}

// AuthorizerFunc adapts a plain function to the Authorizer interface.
type AuthorizerFunc func(ctx AuthContext) bool

// Authorize calls fn.
func (fn AuthorizerFunc) Authorize(ctx AuthContext) bool {
	return fn(ctx)
}

// ServerOnly permits mutations only from the reserved server connection
// (connid.Server), rejecting every client-originated request. This is
// the default when no authorizer is configured — matching the Rust
// original's fail-closed posture for a deployment that hasn't wired an
// ownership store yet.
type ServerOnly struct{}

// Authorize implements Authorizer.
func (ServerOnly) Authorize(ctx AuthContext) bool {
	return ctx.Connection.IsServer()
}

// AllowAll permits every mutation. Useful for tests and single-tenant
// deployments where every client is trusted.
type AllowAll struct{}

// Authorize implements Authorizer.
func (AllowAll) Authorize(AuthContext) bool {
	return true
}
