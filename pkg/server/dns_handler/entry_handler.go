package dns_handler

import (
	"context"
	"errors"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/spaghettinuum/spagh/pkg/query_context"
	"github.com/spaghettinuum/spagh/pkg/utils"
)

// Handler handles one DNS query. A nil response with a nil error
// means the query should be dropped silently.
type Handler interface {
	ServeDNS(ctx context.Context, q *dns.Msg, meta *query_context.RequestMeta) (*dns.Msg, error)
}

var nopLogger = zap.NewNop()

const defaultQueryTimeout = time.Second * 5

type EntryHandlerOpts struct {
	// A nil Logger disables logging.
	Logger *zap.Logger

	// Entry cannot be nil.
	Entry Handler

	// QueryTimeout limits the maximum query processing time. Default
	// is 5s.
	QueryTimeout time.Duration
}

func (opts *EntryHandlerOpts) init() error {
	if opts.Entry == nil {
		return errors.New("nil entry handler")
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	utils.SetDefaultNum(&opts.QueryTimeout, defaultQueryTimeout)
	return nil
}

// EntryHandler is the server-facing handler: it applies the query
// timeout, turns handler errors into SERVFAIL and patches the reply
// id and RA bit.
type EntryHandler struct {
	opts EntryHandlerOpts
}

func NewEntryHandler(opts EntryHandlerOpts) (*EntryHandler, error) {
	if err := opts.init(); err != nil {
		return nil, err
	}
	return &EntryHandler{opts: opts}, nil
}

func (h *EntryHandler) ServeDNS(ctx context.Context, q *dns.Msg, meta *query_context.RequestMeta) (*dns.Msg, error) {
	queryCtx, cancel := context.WithTimeout(ctx, h.opts.QueryTimeout)
	defer cancel()

	r, err := h.opts.Entry.ServeDNS(queryCtx, q, meta)
	if err != nil {
		h.opts.Logger.Warn("query failed", query_context.NewContext(q, meta).InfoField(), zap.Error(err))
		r = new(dns.Msg)
		r.SetRcode(q, dns.RcodeServerFailure)
	}
	if r != nil {
		r.Id = q.Id
		r.RecursionAvailable = true
	}
	return r, nil
}
