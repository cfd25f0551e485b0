package cache

import "io"

// Backend stores serialized resolution outcomes keyed by
// (identity, record key). Entries carry their own expiry; Get never
// returns an expired entry, but backends are free to keep expired
// entries in memory until they are next touched or swept.
type Backend interface {
	// Get returns the cached outcome.
	// Returns:
	//   v: serialized outcome, owned by the backend
	//   storedTime: Unix timestamp in seconds when the entry was stored
	//   expire: Unix timestamp in seconds when the entry expires
	//   ok: false if not found or expired
	Get(key string) (v []byte, storedTime, expire int64, ok bool)

	// Store caches v until expire (Unix seconds). The backend copies v.
	Store(key string, v []byte, storedTime, expire int64)

	Len() int

	io.Closer
}
