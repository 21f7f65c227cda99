package mutation

import (
	"github.com/nugget/entitysync/internal/connid"
	"github.com/nugget/entitysync/internal/ecsmock"
	"github.com/nugget/entitysync/internal/synctype"
	"github.com/nugget/entitysync/internal/wire"
)

// Run drains every pending mutation from q, authorizes and applies each
// in arrival order, and returns the MutationResponse destined for each
// originating connection. A response with a nil RequestID still
// appears in the result, and the engine sends it like any other.
func Run(q *Queue, registry *synctype.Registry, world *ecsmock.World, authz Authorizer) map[connid.ID][]wire.MutationResponse {
	if authz == nil {
		authz = ServerOnly{}
	}

	out := make(map[connid.ID][]wire.MutationResponse)
	for _, m := range q.Drain() {
		resp := apply(m, registry, world, authz)
		out[m.ConnectionID] = append(out[m.ConnectionID], resp)
	}
	return out
}

func apply(m Queued, registry *synctype.Registry, world *ecsmock.World, authz Authorizer) wire.MutationResponse {
	reg, ok := registry.Lookup(m.ComponentType)
	if !ok {
		return fail(m.RequestID, wire.StatusValidationError, "unknown component type: "+m.ComponentType)
	}

	if !authz.Authorize(AuthContext{Connection: m.ConnectionID, Entity: m.Entity, ComponentType: m.ComponentType}) {
		return fail(m.RequestID, wire.StatusForbidden, "")
	}

	status, _ := reg.ApplyMutation(world, m.Entity, m.Value)
	if status != wire.StatusOk {
		return fail(m.RequestID, status, "")
	}

	return wire.MutationResponse{RequestID: m.RequestID, Status: wire.StatusOk}
}

func fail(requestID *uint64, status wire.MutationStatus, message string) wire.MutationResponse {
	resp := wire.MutationResponse{RequestID: requestID, Status: status}
	if message != "" {
		resp.Message = &message
	}
	return resp
}
