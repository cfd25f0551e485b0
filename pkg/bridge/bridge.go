package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/spaghettinuum/spagh/pkg/dnsutils"
	"github.com/spaghettinuum/spagh/pkg/projection"
	"github.com/spaghettinuum/spagh/pkg/query_context"
	"github.com/spaghettinuum/spagh/pkg/record"
	"github.com/spaghettinuum/spagh/pkg/resolver"
	"github.com/spaghettinuum/spagh/pkg/upstream"
)

var nopLogger = zap.NewNop()

type Opts struct {
	// Resolver cannot be nil.
	Resolver *resolver.Resolver

	// Suffix is the bridge zone. Default is projection.DefaultSuffix.
	Suffix string

	// Forwarder handles questions outside Suffix. If nil, such
	// questions are REFUSED.
	Forwarder *upstream.Forwarder

	// A nil Logger disables logging.
	Logger *zap.Logger
}

// Bridge answers DNS questions for names of the form
// <identity>.<suffix> by projecting the identity's published records,
// and forwards everything else upstream.
type Bridge struct {
	opts   Opts
	suffix string
}

func NewBridge(opts Opts) (*Bridge, error) {
	if opts.Resolver == nil {
		return nil, errors.New("nil resolver")
	}
	if len(opts.Suffix) == 0 {
		opts.Suffix = projection.DefaultSuffix
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return &Bridge{
		opts:   opts,
		suffix: strings.ToLower(dns.Fqdn(opts.Suffix)),
	}, nil
}

func (b *Bridge) ServeDNS(ctx context.Context, q *dns.Msg, meta *query_context.RequestMeta) (*dns.Msg, error) {
	if len(q.Question) != 1 {
		r := new(dns.Msg)
		r.SetRcode(q, dns.RcodeFormatError)
		return r, nil
	}
	question := q.Question[0]

	if question.Qclass != dns.ClassINET || !dns.IsSubDomain(b.suffix, strings.ToLower(question.Name)) {
		return b.forward(ctx, q)
	}

	qCtx := query_context.NewContext(q, meta)
	b.opts.Logger.Debug("bridge query", qCtx.InfoField())

	ident, err := projection.ParseName(question.Name, b.suffix)
	if err != nil {
		b.opts.Logger.Debug("malformed bridge name", qCtx.InfoField(), zap.Error(err))
		r := new(dns.Msg)
		r.SetRcode(q, dns.RcodeFormatError)
		return r, nil
	}

	key, ok := projection.ReservedKey(question.Qtype)
	if !ok {
		// Type has no reserved key, answer empty.
		r := new(dns.Msg)
		r.SetReply(q)
		r.RecursionAvailable = true
		return r, nil
	}

	// A published CNAME takes precedence over the queried type.
	outcome, answerKey, err := b.resolveWithCname(ctx, ident, key)
	if err != nil {
		return nil, fmt.Errorf("resolving %s for %s: %w", answerKey, ident, err)
	}

	if !outcome.Found {
		// Negative answer. Downstream caches inherit the remaining
		// negative cache lifetime, never a fixed constant.
		return dnsutils.GenEmptyReply(q, dns.RcodeSuccess, remainingTTL(outcome.ExpiresAt)), nil
	}

	answers, err := projection.Answers(question.Name, answerKey, outcome.Data, remainingTTL(outcome.ExpiresAt))
	if err != nil {
		// Malformed published data is a resolution failure, not an
		// empty answer.
		return nil, err
	}

	r := new(dns.Msg)
	r.SetReply(q)
	r.RecursionAvailable = true
	r.Answer = answers
	return r, nil
}

func (b *Bridge) resolveWithCname(ctx context.Context, ident record.Identity, key string) (resolver.Outcome, string, error) {
	if key != record.KeyDNSCname {
		o, err := b.opts.Resolver.Resolve(ctx, ident, record.KeyDNSCname)
		if err != nil {
			return resolver.Outcome{}, record.KeyDNSCname, err
		}
		if o.Found {
			return o, record.KeyDNSCname, nil
		}
	}
	o, err := b.opts.Resolver.Resolve(ctx, ident, key)
	return o, key, err
}

func (b *Bridge) forward(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
	if b.opts.Forwarder == nil {
		r := new(dns.Msg)
		r.SetRcode(q, dns.RcodeRefused)
		return r, nil
	}
	r, err := b.opts.Forwarder.Exchange(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("upstream exchange: %w", err)
	}
	r.Id = q.Id
	return r, nil
}

// remainingTTL converts an outcome expiry into a DNS TTL, flooring at
// 1s so a record observed alive is never sent with TTL 0.
func remainingTTL(expiresAt time.Time) uint32 {
	d := time.Until(expiresAt)
	if d < time.Second {
		return 1
	}
	return uint32(d / time.Second)
}
