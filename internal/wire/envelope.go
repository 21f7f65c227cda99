// Package wire defines the binary envelope types exchanged between the
// sync engine and its clients, and the length-prefixed framing that
// carries them.
package wire

import "github.com/nugget/entitysync/internal/entityid"

// MutationStatus is the outcome of an attempted mutation.
type MutationStatus uint8

const (
	StatusOk MutationStatus = iota
	StatusNotFound
	StatusValidationError
	StatusForbidden
	StatusInternalError
)

// String renders the status for logging.
func (s MutationStatus) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusValidationError:
		return "validation_error"
	case StatusForbidden:
		return "forbidden"
	case StatusInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// ClientTag discriminates which field of ClientEnvelope is populated.
type ClientTag string

const (
	ClientTagSubscribe   ClientTag = "subscribe"
	ClientTagUnsubscribe ClientTag = "unsubscribe"
	ClientTagMutate      ClientTag = "mutate"
)

// Subscribe requests a standing interest in a component type, optionally
// narrowed to a single entity. ComponentType "*" is the wildcard
// firehose (§6.4): it matches every registered type, including types
// registered after the subscribe.
type Subscribe struct {
	SubscriptionID uint64        `msgpack:"subscription_id"`
	ComponentType  string        `msgpack:"component_type"`
	Entity         *entityid.ID  `msgpack:"entity,omitempty"`
}

// Unsubscribe ends a standing subscription. A second Unsubscribe for an
// already-removed subscription_id is a no-op.
type Unsubscribe struct {
	SubscriptionID uint64 `msgpack:"subscription_id"`
}

// Mutate requests a component insert/replace, or — when Entity is the
// entityid.Dangling sentinel — the spawn of a new entity carrying Value.
type Mutate struct {
	RequestID     *uint64     `msgpack:"request_id,omitempty"`
	Entity        entityid.ID `msgpack:"entity"`
	ComponentType string      `msgpack:"component_type"`
	Value         []byte      `msgpack:"value"`
}

// ClientEnvelope is the tagged union of messages a client may send.
// Exactly one of Subscribe, Unsubscribe, or Mutate is set, matching Tag.
type ClientEnvelope struct {
	Tag         ClientTag    `msgpack:"tag"`
	Subscribe   *Subscribe   `msgpack:"subscribe,omitempty"`
	Unsubscribe *Unsubscribe `msgpack:"unsubscribe,omitempty"`
	Mutate      *Mutate      `msgpack:"mutate,omitempty"`
}

// AsClientEnvelope wraps v, setting Tag to match whichever payload type
// it holds. Panics on an unsupported type — this is a programming error
// caught at the call site, not a runtime condition.
func AsClientEnvelope(v any) ClientEnvelope {
	switch m := v.(type) {
	case Subscribe:
		return ClientEnvelope{Tag: ClientTagSubscribe, Subscribe: &m}
	case Unsubscribe:
		return ClientEnvelope{Tag: ClientTagUnsubscribe, Unsubscribe: &m}
	case Mutate:
		return ClientEnvelope{Tag: ClientTagMutate, Mutate: &m}
	default:
		panic("wire: unsupported client message type")
	}
}

// ServerTag discriminates which field of ServerEnvelope is populated.
type ServerTag string

const (
	ServerTagSyncBatch        ServerTag = "sync_batch"
	ServerTagMutationResponse ServerTag = "mutation_response"
	ServerTagQueryResponse    ServerTag = "query_response" // reserved, not part of the v1 contract
)

// SyncItemKind discriminates SyncItem's variant.
type SyncItemKind uint8

const (
	ItemSnapshot SyncItemKind = iota
	ItemUpdate
	ItemComponentRemoved
	ItemEntityRemoved
)

// SyncItem is one entry of a SyncBatch. Bytes carries the msgpack
// encoding of the concrete component value for Snapshot and Update; it
// is nil for ComponentRemoved and EntityRemoved. ComponentType is empty
// for EntityRemoved, which affects every type on Entity at once.
type SyncItem struct {
	Kind          SyncItemKind `msgpack:"kind"`
	SubscriptionID uint64      `msgpack:"subscription_id"`
	Entity        entityid.ID  `msgpack:"entity"`
	ComponentType string       `msgpack:"component_type,omitempty"`
	Bytes         []byte       `msgpack:"bytes,omitempty"`
}

// SyncBatch is the per-frame, per-connection ordered sequence of
// SyncItems. Items apply left-to-right; see dispatch for the ordering
// contract (snapshots, then removals, then updates).
type SyncBatch struct {
	Items []SyncItem `msgpack:"items"`
}

// MutationResponse reports the terminal status of a previously-issued
// Mutate. RequestID is nil only for mutations the client sent without
// one (fire-and-forget), which still receive a response addressed to no
// one in particular.
type MutationResponse struct {
	RequestID *uint64        `msgpack:"request_id,omitempty"`
	Status    MutationStatus `msgpack:"status"`
	Message   *string        `msgpack:"message,omitempty"`
}

// ServerEnvelope is the tagged union of messages the server may send.
type ServerEnvelope struct {
	Tag              ServerTag         `msgpack:"tag"`
	SyncBatch        *SyncBatch        `msgpack:"sync_batch,omitempty"`
	MutationResponse *MutationResponse `msgpack:"mutation_response,omitempty"`
}

// AsServerEnvelope wraps v, setting Tag to match whichever payload type
// it holds.
func AsServerEnvelope(v any) ServerEnvelope {
	switch m := v.(type) {
	case SyncBatch:
		return ServerEnvelope{Tag: ServerTagSyncBatch, SyncBatch: &m}
	case MutationResponse:
		return ServerEnvelope{Tag: ServerTagMutationResponse, MutationResponse: &m}
	default:
		panic("wire: unsupported server message type")
	}
}
