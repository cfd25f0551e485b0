package dnsutils

import (
	"strconv"

	"github.com/miekg/dns"
)

// GenEmptyReply creates a response with no answers and a synthesized
// SOA in the authority section, so downstream DNS caches can apply
// negative caching with the given ttl (seconds).
func GenEmptyReply(q *dns.Msg, rcode int, ttl uint32) *dns.Msg {
	r := new(dns.Msg)
	r.SetRcode(q, rcode)
	r.RecursionAvailable = true

	name := "."
	if len(q.Question) > 0 {
		name = q.Question[0].Name
	}
	r.Ns = []dns.RR{SyntheticSOA(name, ttl)}
	return r
}

// SyntheticSOA returns a static SOA record whose TTL and MINIMUM
// bound the negative cache lifetime of the reply it is attached to.
func SyntheticSOA(name string, ttl uint32) *dns.SOA {
	return &dns.SOA{
		Hdr: dns.RR_Header{
			Name:   name,
			Rrtype: dns.TypeSOA,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		},
		Ns:      "ns.invalid.",
		Mbox:    "hostmaster.invalid.",
		Serial:  1,
		Refresh: 1800,
		Retry:   900,
		Expire:  604800,
		Minttl:  ttl,
	}
}

func QclassToString(u uint16) string {
	return uint16Conv(u, dns.ClassToString)
}

func QtypeToString(u uint16) string {
	return uint16Conv(u, dns.TypeToString)
}

func uint16Conv(u uint16, m map[uint16]string) string {
	if s, ok := m[u]; ok {
		return s
	}
	return strconv.Itoa(int(u))
}
