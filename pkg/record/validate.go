package record

import (
	"encoding/json"
	"fmt"
	"net/netip"

	"github.com/go-playground/validator/v10"
)

// Payload bounds. Oversized publishes are a resource exhaustion risk
// for the publisher and every resolver that caches them.
const (
	MaxValueSize   = 16 * 1024
	MaxPayloadSize = 64 * 1024
)

// ValidationError reports a malformed publish request. It is always
// raised before any store mutation.
type ValidationError struct {
	Key    string // offending entry key, empty for request level problems
	Reason string
}

func (e *ValidationError) Error() string {
	if len(e.Key) > 0 {
		return fmt.Sprintf("invalid publish request: key %q: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("invalid publish request: %s", e.Reason)
}

// PayloadError reports an oversized publish payload.
type PayloadError struct {
	Key   string // offending entry key, empty if the total bound was hit
	Size  int
	Limit int
}

func (e *PayloadError) Error() string {
	if len(e.Key) > 0 {
		return fmt.Sprintf("payload too large: key %q is %d bytes, limit is %d", e.Key, e.Size, e.Limit)
	}
	return fmt.Sprintf("payload too large: %d bytes total, limit is %d", e.Size, e.Limit)
}

var validate = validator.New()

// ValidateRequest checks a publish request without mutating it:
// all TTLs are positive minutes, payload sizes are bounded, and any
// entry under a reserved DNS key has data of that key's shape.
func ValidateRequest(req *PublishRequest) error {
	if req == nil {
		return &ValidationError{Reason: "nil request"}
	}
	if err := validate.Struct(req); err != nil {
		return validationErrFromStruct(err)
	}

	total := 0
	for key, e := range req.Entries {
		if e.TTL == 0 {
			return &ValidationError{Key: key, Reason: "ttl must be a positive number of minutes"}
		}
		if len(e.Data) == 0 {
			return &ValidationError{Key: key, Reason: "missing data"}
		}
		if !json.Valid(e.Data) {
			return &ValidationError{Key: key, Reason: "data is not valid JSON"}
		}
		if len(e.Data) > MaxValueSize {
			return &PayloadError{Key: key, Size: len(e.Data), Limit: MaxValueSize}
		}
		total += len(key) + len(e.Data)
		if total > MaxPayloadSize {
			return &PayloadError{Size: total, Limit: MaxPayloadSize}
		}

		if IsReservedDNSKey(key) {
			if err := checkDNSShape(key, e.Data); err != nil {
				return &ValidationError{Key: key, Reason: err.Error()}
			}
		}
	}
	return nil
}

func validationErrFromStruct(err error) error {
	if ves, ok := err.(validator.ValidationErrors); ok && len(ves) > 0 {
		ve := ves[0]
		return &ValidationError{Reason: fmt.Sprintf("field %s failed rule %q", ve.Field(), ve.Tag())}
	}
	return &ValidationError{Reason: err.Error()}
}

// checkDNSShape rejects data that cannot be projected onto the DNS
// record type owned by the reserved key.
func checkDNSShape(key string, data json.RawMessage) error {
	switch key {
	case KeyDNSCname:
		var v DNSCname
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("cname data must be an array of target names: %w", err)
		}
		for _, name := range v {
			if len(name) == 0 {
				return fmt.Errorf("cname target must not be empty")
			}
		}
	case KeyDNSA:
		var v DNSA
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("a data must be an array of IPv4 addresses: %w", err)
		}
		for _, s := range v {
			addr, err := netip.ParseAddr(s)
			if err != nil || !addr.Is4() {
				return fmt.Errorf("%q is not an IPv4 address", s)
			}
		}
	case KeyDNSAaaa:
		var v DNSAaaa
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("aaaa data must be an array of IPv6 addresses: %w", err)
		}
		for _, s := range v {
			addr, err := netip.ParseAddr(s)
			if err != nil || !addr.Is6() || addr.Is4In6() {
				return fmt.Errorf("%q is not an IPv6 address", s)
			}
		}
	case KeyDNSTxt:
		var v DNSTxt
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("txt data must be an array of strings: %w", err)
		}
	case KeyDNSMx:
		var v DNSMx
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("mx data must be an array of [preference, exchange] pairs: %w", err)
		}
		for _, mx := range v {
			if len(mx.Exchange) == 0 {
				return fmt.Errorf("mx exchange must not be empty")
			}
		}
	}
	return nil
}
