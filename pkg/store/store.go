package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spaghettinuum/spagh/pkg/record"
)

// Version identifies one published record set generation of an
// identity. It increases by one on every accepted publish.
type Version uint64

// State tags a Lookup result.
type State uint8

const (
	// StateFound: the key is in the identity's current record set.
	StateFound State = iota
	// StateMissing: the identity has published, but not this key.
	// This is an authoritative negative answer, cacheable for the
	// set's missing TTL.
	StateMissing
	// StateUnknownIdentity: the identity has never published here.
	// Unlike StateMissing this is not an authoritative claim, so
	// resolvers cache it only briefly.
	StateUnknownIdentity
)

// Result is the outcome of a Lookup. It is a value, not an error:
// a missing key and an unknown identity are well-defined answers.
type Result struct {
	State State

	// Data and TTL are set when State is StateFound.
	Data json.RawMessage
	TTL  time.Duration

	// MissingTTL is set when State is StateMissing. It is the
	// negative cache lifetime declared by the current record set.
	MissingTTL time.Duration
}

// Store is the authoritative record store of a publisher. A remote
// publisher reached over the network implements the same interface;
// such implementations must honor ctx cancellation.
type Store interface {
	// Publish atomically replaces the identity's whole record set.
	// Concurrent Lookup calls observe either the complete old set or
	// the complete new set, never a mix.
	Publish(ctx context.Context, req *record.PublishRequest) (Version, error)

	// Lookup never returns an error for a key that is simply absent,
	// see Result. Errors are reserved for transport or internal
	// failures and are never cacheable.
	Lookup(ctx context.Context, ident record.Identity, key string) (Result, error)
}
