package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/spaghettinuum/spagh/pkg/cache/mem_cache"
	"github.com/spaghettinuum/spagh/pkg/record"
	"github.com/spaghettinuum/spagh/pkg/resolver"
	"github.com/spaghettinuum/spagh/pkg/store/mem_store"
)

const testIdent = "yryyyyyyyeh6dtmbfuec8m3fh3h469qmrsr193t4c6yps44tk1sdwjyd"

func newTestBridge(t *testing.T) (*Bridge, *mem_store.MemStore) {
	t.Helper()

	s := mem_store.NewMemStore(nil)
	backend := mem_cache.NewMemCache(1024, -1)
	t.Cleanup(func() { backend.Close() })

	r, err := resolver.NewResolver(resolver.Opts{
		Upstream: s,
		Backend:  backend,
	})
	require.NoError(t, err)

	b, err := NewBridge(Opts{Resolver: r})
	require.NoError(t, err)
	return b, s
}

func publish(t *testing.T, s *mem_store.MemStore, entries map[string]record.Entry) {
	t.Helper()
	_, err := s.Publish(context.Background(), &record.PublishRequest{
		Identity:   testIdent,
		MissingTTL: 5,
		Entries:    entries,
	})
	require.NoError(t, err)
}

func query(name string, qtype uint16) *dns.Msg {
	q := new(dns.Msg)
	q.SetQuestion(name, qtype)
	return q
}

func TestBridge_answersA(t *testing.T) {
	r := require.New(t)
	b, s := newTestBridge(t)
	publish(t, s, map[string]record.Entry{
		record.KeyDNSA: {TTL: 10, Data: json.RawMessage(`["203.0.113.7"]`)},
	})

	resp, err := b.ServeDNS(context.Background(), query(testIdent+".s.", dns.TypeA), nil)
	r.NoError(err)
	r.Equal(dns.RcodeSuccess, resp.Rcode)
	r.Len(resp.Answer, 1)

	a := resp.Answer[0].(*dns.A)
	r.Equal("203.0.113.7", a.A.String())
	// TTL is the remaining cache lifetime of a 10 minute record.
	r.InDelta(10*60, a.Hdr.Ttl, 2)
}

func TestBridge_cnamePrecedence(t *testing.T) {
	r := require.New(t)
	b, s := newTestBridge(t)
	publish(t, s, map[string]record.Entry{
		record.KeyDNSCname: {TTL: 10, Data: json.RawMessage(`["target.example.com"]`)},
		record.KeyDNSA:     {TTL: 10, Data: json.RawMessage(`["203.0.113.7"]`)},
	})

	// An A question gets the CNAME answer when one is published.
	resp, err := b.ServeDNS(context.Background(), query(testIdent+".s.", dns.TypeA), nil)
	r.NoError(err)
	r.Len(resp.Answer, 1)
	cname := resp.Answer[0].(*dns.CNAME)
	r.Equal("target.example.com.", cname.Target)
}

func TestBridge_negativeAnswer(t *testing.T) {
	r := require.New(t)
	b, s := newTestBridge(t)
	publish(t, s, map[string]record.Entry{
		record.KeyDNSA: {TTL: 10, Data: json.RawMessage(`["203.0.113.7"]`)},
	})

	// Published identity, no TXT record: NODATA bounded by the
	// missing ttl (5 minutes).
	resp, err := b.ServeDNS(context.Background(), query(testIdent+".s.", dns.TypeTXT), nil)
	r.NoError(err)
	r.Equal(dns.RcodeSuccess, resp.Rcode)
	r.Empty(resp.Answer)
	r.Len(resp.Ns, 1)
	soa := resp.Ns[0].(*dns.SOA)
	r.InDelta(5*60, soa.Hdr.Ttl, 2)
	r.InDelta(5*60, soa.Minttl, 2)
}

func TestBridge_unknownIdentity(t *testing.T) {
	r := require.New(t)
	b, _ := newTestBridge(t)

	resp, err := b.ServeDNS(context.Background(), query("nobody.s.", dns.TypeA), nil)
	r.NoError(err)
	r.Equal(dns.RcodeSuccess, resp.Rcode)
	r.Empty(resp.Answer)
	r.Len(resp.Ns, 1)
}

func TestBridge_unsupportedTypeIsEmpty(t *testing.T) {
	r := require.New(t)
	b, s := newTestBridge(t)
	publish(t, s, map[string]record.Entry{
		record.KeyDNSA: {TTL: 10, Data: json.RawMessage(`["203.0.113.7"]`)},
	})

	resp, err := b.ServeDNS(context.Background(), query(testIdent+".s.", dns.TypeNS), nil)
	r.NoError(err)
	r.Equal(dns.RcodeSuccess, resp.Rcode)
	r.Empty(resp.Answer)
}

func TestBridge_malformedName(t *testing.T) {
	r := require.New(t)
	b, _ := newTestBridge(t)

	resp, err := b.ServeDNS(context.Background(), query("a.b.s.", dns.TypeA), nil)
	r.NoError(err)
	r.Equal(dns.RcodeFormatError, resp.Rcode)
}

func TestBridge_refusesOutsideZone(t *testing.T) {
	r := require.New(t)
	b, _ := newTestBridge(t)

	// No forwarder configured.
	resp, err := b.ServeDNS(context.Background(), query("example.com.", dns.TypeA), nil)
	r.NoError(err)
	r.Equal(dns.RcodeRefused, resp.Rcode)
}

func TestBridge_multiQuestion(t *testing.T) {
	r := require.New(t)
	b, _ := newTestBridge(t)

	q := query(testIdent+".s.", dns.TypeA)
	q.Question = append(q.Question, dns.Question{Name: "x.s.", Qtype: dns.TypeA, Qclass: dns.ClassINET})
	resp, err := b.ServeDNS(context.Background(), q, nil)
	r.NoError(err)
	r.Equal(dns.RcodeFormatError, resp.Rcode)
}

func TestBridge_caseInsensitiveName(t *testing.T) {
	r := require.New(t)
	b, s := newTestBridge(t)
	publish(t, s, map[string]record.Entry{
		record.KeyDNSA: {TTL: 10, Data: json.RawMessage(`["203.0.113.7"]`)},
	})

	resp, err := b.ServeDNS(context.Background(), query(testIdent+".S.", dns.TypeA), nil)
	r.NoError(err)
	r.Len(resp.Answer, 1)
}

func TestRemainingTTL(t *testing.T) {
	r := require.New(t)
	r.Equal(uint32(1), remainingTTL(time.Now()))
	r.Equal(uint32(1), remainingTTL(time.Now().Add(-time.Minute)))
	r.InDelta(60, remainingTTL(time.Now().Add(time.Minute)), 2)
}
