package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// Identity is the opaque identity token derived from a publisher's
// public key. It is treated as an opaque string: rotation produces a
// new Identity, it is never parsed here.
type Identity string

func (id Identity) String() string {
	return string(id)
}

// Reserved keys for the DNS bridge. These are fixed protocol
// constants, one per supported DNS record type. A publisher that
// wants DNS bridging must publish under these exact keys.
const (
	KeyDNSCname = "a6ff2372-e325-443f-a15f-dcefb6aee864"
	KeyDNSA     = "dff50392-a569-4de4-9e66-e086af040f30"
	KeyDNSAaaa  = "a793cc93-cc06-4369-ba47-5a9e8d2a23dd"
	KeyDNSTxt   = "630e1d90-845a-470f-95f3-14253a6c269c"
	KeyDNSMx    = "f665bd5f-6da7-4fa7-8ef9-51dd9a53ff60"
)

// Entry is a single published value. TTL is in minutes and bounds how
// long a found answer may be cached by resolvers. Data is returned to
// resolvers verbatim, its interpretation is key specific.
type Entry struct {
	TTL  uint32          `json:"ttl" validate:"required,gt=0"`
	Data json.RawMessage `json:"data" validate:"required"`
}

// TTLDuration returns the entry TTL as a time.Duration.
func (e *Entry) TTLDuration() time.Duration {
	return time.Duration(e.TTL) * time.Minute
}

// PublishRequest replaces the full record set of an identity.
// There is no partial update operation: every key the publisher wants
// resolvable must appear in Entries, and any key absent from Entries
// becomes a well-defined negative answer cacheable for MissingTTL
// (minutes).
type PublishRequest struct {
	Identity   Identity         `json:"-" validate:"required"`
	MissingTTL uint32           `json:"missing_ttl" validate:"required,gt=0"`
	Entries    map[string]Entry `json:"data" validate:"dive"`
}

// MissingTTLDuration returns the negative cache TTL as a time.Duration.
func (r *PublishRequest) MissingTTLDuration() time.Duration {
	return time.Duration(r.MissingTTL) * time.Minute
}

// MX is one mail exchange. On the wire it is a two element JSON array
// [preference, exchange], matching the published record format.
type MX struct {
	Preference uint16
	Exchange   string
}

func (m MX) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{m.Preference, m.Exchange})
}

func (m *MX) UnmarshalJSON(b []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("mx record must be a [preference, exchange] pair: %w", err)
	}
	if err := json.Unmarshal(raw[0], &m.Preference); err != nil {
		return fmt.Errorf("invalid mx preference: %w", err)
	}
	if err := json.Unmarshal(raw[1], &m.Exchange); err != nil {
		return fmt.Errorf("invalid mx exchange: %w", err)
	}
	return nil
}

// Data shapes published under the reserved DNS keys.
type (
	DNSCname []string // target names
	DNSA     []string // IPv4 addresses, dotted quad
	DNSAaaa  []string // IPv6 addresses
	DNSTxt   []string // text strings
	DNSMx    []MX
)

// IsReservedDNSKey reports whether key is one of the five reserved
// DNS bridge keys.
func IsReservedDNSKey(key string) bool {
	switch key {
	case KeyDNSCname, KeyDNSA, KeyDNSAaaa, KeyDNSTxt, KeyDNSMx:
		return true
	}
	return false
}
