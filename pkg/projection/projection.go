package projection

import (
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/miekg/dns"

	"github.com/spaghettinuum/spagh/pkg/record"
)

// DefaultSuffix is the DNS zone the bridge answers for. A name under
// it has the form <identity>.<suffix>.
const DefaultSuffix = "s."

// ProjectionError reports record data that cannot be projected onto
// the DNS type owned by its reserved key. It is surfaced to the query
// layer as a resolution failure, never coerced and never cached as a
// negative answer.
type ProjectionError struct {
	Key string
	Err error
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("cannot project key %q to dns: %v", e.Key, e.Err)
}

func (e *ProjectionError) Unwrap() error {
	return e.Err
}

// typeToKey is the closed reserved-key table. Exactly these five DNS
// types bridge; everything else is answered empty.
var typeToKey = map[uint16]string{
	dns.TypeCNAME: record.KeyDNSCname,
	dns.TypeA:     record.KeyDNSA,
	dns.TypeAAAA:  record.KeyDNSAaaa,
	dns.TypeTXT:   record.KeyDNSTxt,
	dns.TypeMX:    record.KeyDNSMx,
}

var keyToType = func() map[string]uint16 {
	m := make(map[string]uint16, len(typeToKey))
	for t, k := range typeToKey {
		m[k] = t
	}
	return m
}()

// ReservedKey returns the reserved record key owning qtype.
func ReservedKey(qtype uint16) (string, bool) {
	k, ok := typeToKey[qtype]
	return k, ok
}

// QtypeOf returns the DNS type owned by a reserved key.
func QtypeOf(key string) (uint16, bool) {
	t, ok := keyToType[key]
	return t, ok
}

// ParseName extracts the identity from a bridge query name.
// The name must be exactly <identity>.<suffix>.
func ParseName(qname, suffix string) (record.Identity, error) {
	qname = strings.ToLower(qname)
	suffix = strings.ToLower(dns.Fqdn(suffix))

	if !dns.IsSubDomain(suffix, qname) {
		return "", fmt.Errorf("name %q is not under %q", qname, suffix)
	}
	labels := dns.CountLabel(qname) - dns.CountLabel(suffix)
	if labels != 1 {
		return "", fmt.Errorf("expected exactly one identity label in %q, got %d", qname, labels)
	}
	i := strings.IndexByte(qname, '.')
	if i <= 0 {
		return "", fmt.Errorf("malformed name %q", qname)
	}
	return record.Identity(qname[:i]), nil
}

// Answers projects the published data of a reserved key onto DNS
// resource records. It is a pure function of its arguments: qname is
// the question name the records are for, key selects the shape, ttl
// is the remaining cached lifetime in seconds.
func Answers(qname, key string, data json.RawMessage, ttl uint32) ([]dns.RR, error) {
	qtype, ok := keyToType[key]
	if !ok {
		return nil, &ProjectionError{Key: key, Err: fmt.Errorf("not a reserved dns key")}
	}

	hdr := func(rrtype uint16) dns.RR_Header {
		return dns.RR_Header{
			Name:   qname,
			Rrtype: rrtype,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		}
	}

	var answers []dns.RR
	switch qtype {
	case dns.TypeCNAME:
		var v record.DNSCname
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, &ProjectionError{Key: key, Err: err}
		}
		for _, target := range v {
			if _, ok := dns.IsDomainName(target); !ok {
				return nil, &ProjectionError{Key: key, Err: fmt.Errorf("invalid cname target %q", target)}
			}
			answers = append(answers, &dns.CNAME{Hdr: hdr(dns.TypeCNAME), Target: dns.Fqdn(target)})
		}
	case dns.TypeA:
		var v record.DNSA
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, &ProjectionError{Key: key, Err: err}
		}
		for _, s := range v {
			addr, err := netip.ParseAddr(s)
			if err != nil || !addr.Is4() {
				return nil, &ProjectionError{Key: key, Err: fmt.Errorf("invalid IPv4 address %q", s)}
			}
			answers = append(answers, &dns.A{Hdr: hdr(dns.TypeA), A: net.IP(addr.AsSlice())})
		}
	case dns.TypeAAAA:
		var v record.DNSAaaa
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, &ProjectionError{Key: key, Err: err}
		}
		for _, s := range v {
			addr, err := netip.ParseAddr(s)
			if err != nil || !addr.Is6() || addr.Is4In6() {
				return nil, &ProjectionError{Key: key, Err: fmt.Errorf("invalid IPv6 address %q", s)}
			}
			answers = append(answers, &dns.AAAA{Hdr: hdr(dns.TypeAAAA), AAAA: net.IP(addr.AsSlice())})
		}
	case dns.TypeTXT:
		var v record.DNSTxt
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, &ProjectionError{Key: key, Err: err}
		}
		for _, s := range v {
			answers = append(answers, &dns.TXT{Hdr: hdr(dns.TypeTXT), Txt: []string{s}})
		}
	case dns.TypeMX:
		var v record.DNSMx
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, &ProjectionError{Key: key, Err: err}
		}
		for _, mx := range v {
			if _, ok := dns.IsDomainName(mx.Exchange); !ok {
				return nil, &ProjectionError{Key: key, Err: fmt.Errorf("invalid mx exchange %q", mx.Exchange)}
			}
			answers = append(answers, &dns.MX{Hdr: hdr(dns.TypeMX), Preference: mx.Preference, Mx: dns.Fqdn(mx.Exchange)})
		}
	}
	return answers, nil
}
