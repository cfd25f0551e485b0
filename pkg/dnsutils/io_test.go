package dnsutils

import (
	"bytes"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestTCPMsgRoundTrip(t *testing.T) {
	r := require.New(t)

	q := new(dns.Msg)
	q.SetQuestion("abc.s.", dns.TypeA)

	buf := new(bytes.Buffer)
	n, err := WriteMsgToTCP(buf, q)
	r.NoError(err)
	r.Equal(buf.Len(), n)

	got, n2, err := ReadMsgFromTCP(buf)
	r.NoError(err)
	r.Equal(n, n2)
	r.Equal(q.Question, got.Question)
}

func TestReadRawMsgFromTCP_short(t *testing.T) {
	r := require.New(t)

	// Length prefix smaller than a DNS header.
	_, _, err := ReadRawMsgFromTCP(bytes.NewReader([]byte{0, 5, 1, 2, 3, 4, 5}))
	r.Error(err)

	// Truncated body.
	_, _, err = ReadRawMsgFromTCP(bytes.NewReader([]byte{0, 64, 1, 2, 3}))
	r.Error(err)
}

func TestGenEmptyReply(t *testing.T) {
	r := require.New(t)

	q := new(dns.Msg)
	q.SetQuestion("abc.s.", dns.TypeA)

	resp := GenEmptyReply(q, dns.RcodeSuccess, 300)
	r.Equal(dns.RcodeSuccess, resp.Rcode)
	r.True(resp.RecursionAvailable)
	r.Empty(resp.Answer)
	r.Len(resp.Ns, 1)

	soa := resp.Ns[0].(*dns.SOA)
	r.Equal("abc.s.", soa.Hdr.Name)
	r.Equal(uint32(300), soa.Hdr.Ttl)
	r.Equal(uint32(300), soa.Minttl)
}
