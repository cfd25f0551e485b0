package dns_handler

import (
	"context"
	"errors"
	"testing"

	"github.com/miekg/dns"

	"github.com/spaghettinuum/spagh/pkg/query_context"
)

type DummyServerHandler struct {
	T       *testing.T
	WantMsg *dns.Msg
	WantErr error
}

func (d *DummyServerHandler) ServeDNS(_ context.Context, req *dns.Msg, meta *query_context.RequestMeta) (*dns.Msg, error) {
	if d.WantErr != nil {
		return nil, d.WantErr
	}
	var resp *dns.Msg
	if d.WantMsg != nil {
		resp = d.WantMsg.Copy()
		resp.Id = req.Id
	} else {
		resp = new(dns.Msg)
		resp.SetReply(req)
	}
	return resp, nil
}

func Test_EntryHandler(t *testing.T) {
	h, err := NewEntryHandler(EntryHandlerOpts{
		Entry: &DummyServerHandler{T: t},
	})
	if err != nil {
		t.Fatal(err)
	}

	q := new(dns.Msg)
	q.SetQuestion("abc.s.", dns.TypeA)
	q.Id = 0xbeef

	r, err := h.ServeDNS(context.Background(), q, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Id != q.Id {
		t.Fatal("id not patched")
	}
	if !r.RecursionAvailable {
		t.Fatal("ra bit not set")
	}
}

func Test_EntryHandler_err(t *testing.T) {
	h, err := NewEntryHandler(EntryHandlerOpts{
		Entry: &DummyServerHandler{T: t, WantErr: errors.New("boom")},
	})
	if err != nil {
		t.Fatal(err)
	}

	q := new(dns.Msg)
	q.SetQuestion("abc.s.", dns.TypeA)

	r, err := h.ServeDNS(context.Background(), q, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Rcode != dns.RcodeServerFailure {
		t.Fatalf("want servfail, got %d", r.Rcode)
	}
}

func Test_EntryHandler_nilEntry(t *testing.T) {
	if _, err := NewEntryHandler(EntryHandlerOpts{}); err == nil {
		t.Fatal("nil entry accepted")
	}
}
