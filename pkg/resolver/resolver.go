package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spaghettinuum/spagh/pkg/cache"
	"github.com/spaghettinuum/spagh/pkg/record"
	"github.com/spaghettinuum/spagh/pkg/store"
	"github.com/spaghettinuum/spagh/pkg/utils"
)

var nopLogger = zap.NewNop()

const (
	// defaultUnknownIdentityTTL bounds how long "identity never
	// published" is cached. It is not an authoritative negative
	// claim, so it is kept short.
	defaultUnknownIdentityTTL = time.Minute

	defaultLookupTimeout = time.Second * 5
)

type Opts struct {
	// Upstream cannot be nil. It may be a remote store client; its
	// Lookup must honor ctx cancellation.
	Upstream store.Store

	// Backend cannot be nil.
	Backend cache.Backend

	// UnknownIdentityTTL is the negative cache lifetime applied to
	// UnknownIdentity outcomes. Default is 1 minute.
	UnknownIdentityTTL time.Duration

	// LookupTimeout caps one upstream lookup. Default is 5s.
	LookupTimeout time.Duration

	// A nil Logger disables logging.
	Logger *zap.Logger
}

func (opts *Opts) init() error {
	if opts.Upstream == nil {
		return errors.New("nil upstream store")
	}
	if opts.Backend == nil {
		return errors.New("nil cache backend")
	}
	utils.SetDefaultNum(&opts.UnknownIdentityTTL, defaultUnknownIdentityTTL)
	utils.SetDefaultNum(&opts.LookupTimeout, defaultLookupTimeout)
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

// Outcome is a resolution answer served to callers. A zero Found
// means the key is (authoritatively or briefly, see store.State)
// absent. ExpiresAt is when this answer falls out of cache; DNS
// projection derives its TTLs from it, never from the original
// record TTL.
type Outcome struct {
	Found     bool
	Data      json.RawMessage
	ExpiresAt time.Time
}

// Resolver is the resolver-side cache layer. Cached outcomes, found
// or missing, are served until expiry without contacting the store.
// Concurrent misses on one key are collapsed into a single upstream
// lookup. Upstream failures are returned to the caller and never
// cached, so a transient failure cannot become sticky.
type Resolver struct {
	opts Opts

	sf      singleflight.Group
	metrics metrics
}

type metrics struct {
	queryTotal    prometheus.Counter
	hitTotal      prometheus.Counter
	missTotal     prometheus.Counter
	negativeTotal prometheus.Counter
	errTotal      prometheus.Counter
}

func NewResolver(opts Opts) (*Resolver, error) {
	if err := opts.init(); err != nil {
		return nil, err
	}
	return &Resolver{
		opts: opts,
		metrics: metrics{
			queryTotal:    prometheus.NewCounter(prometheus.CounterOpts{Name: "resolver_query_total", Help: "Total queries."}),
			hitTotal:      prometheus.NewCounter(prometheus.CounterOpts{Name: "resolver_cache_hit_total", Help: "Queries answered from cache."}),
			missTotal:     prometheus.NewCounter(prometheus.CounterOpts{Name: "resolver_cache_miss_total", Help: "Queries that required an upstream lookup."}),
			negativeTotal: prometheus.NewCounter(prometheus.CounterOpts{Name: "resolver_negative_total", Help: "Queries answered with a negative outcome."}),
			errTotal:      prometheus.NewCounter(prometheus.CounterOpts{Name: "resolver_upstream_error_total", Help: "Upstream lookups that failed."}),
		},
	}, nil
}

// RegisterMetricsTo registers the resolver's counters to r.
func (r *Resolver) RegisterMetricsTo(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		r.metrics.queryTotal,
		r.metrics.hitTotal,
		r.metrics.missTotal,
		r.metrics.negativeTotal,
		r.metrics.errTotal,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// CacheKey builds the backend key for (ident, key). The separator
// cannot appear in an identity token.
func CacheKey(ident record.Identity, key string) string {
	return string(ident) + "\x00" + key
}

// Resolve answers a single (identity, key) query, from cache when
// possible.
func (r *Resolver) Resolve(ctx context.Context, ident record.Identity, key string) (Outcome, error) {
	r.metrics.queryTotal.Inc()

	ck := CacheKey(ident, key)
	if o, ok := r.getCached(ck); ok {
		r.metrics.hitTotal.Inc()
		if !o.Found {
			r.metrics.negativeTotal.Inc()
		}
		return o, nil
	}

	r.metrics.missTotal.Inc()
	o, err := r.lookupShared(ctx, ck, ident, key)
	if err != nil {
		r.metrics.errTotal.Inc()
		return Outcome{}, err
	}
	if !o.Found {
		r.metrics.negativeTotal.Inc()
	}
	return o, nil
}

func (r *Resolver) getCached(ck string) (Outcome, bool) {
	v, _, expire, ok := r.opts.Backend.Get(ck)
	if !ok {
		return Outcome{}, false
	}
	if time.Now().Unix() >= expire {
		return Outcome{}, false
	}
	o, err := unpackOutcome(v)
	if err != nil {
		r.opts.Logger.Warn("bad cache entry dropped", zap.Error(err))
		return Outcome{}, false
	}
	o.ExpiresAt = time.Unix(expire, 0)
	return o, true
}

// lookupShared collapses concurrent lookups for one cache key into a
// single upstream call. Duplicate upstream calls after a race are a
// performance cost, not a correctness problem, so the window between
// cache check and singleflight entry is acceptable.
func (r *Resolver) lookupShared(ctx context.Context, ck string, ident record.Identity, key string) (Outcome, error) {
	resC := r.sf.DoChan(ck, func() (interface{}, error) {
		// Re-check the cache: a concurrent caller may have already
		// stored the answer while this call waited its turn.
		if o, ok := r.getCached(ck); ok {
			return o, nil
		}

		lookupCtx, cancel := context.WithTimeout(context.Background(), r.opts.LookupTimeout)
		defer cancel()
		res, err := r.opts.Upstream.Lookup(lookupCtx, ident, key)
		if err != nil {
			// Not cached: the next query retries upstream.
			return Outcome{}, fmt.Errorf("upstream lookup: %w", err)
		}

		now := time.Now()
		var o Outcome
		switch res.State {
		case store.StateFound:
			o = Outcome{Found: true, Data: res.Data, ExpiresAt: now.Add(res.TTL)}
		case store.StateMissing:
			o = Outcome{ExpiresAt: now.Add(res.MissingTTL)}
		case store.StateUnknownIdentity:
			o = Outcome{ExpiresAt: now.Add(r.opts.UnknownIdentityTTL)}
		default:
			return Outcome{}, fmt.Errorf("unexpected lookup state %d", res.State)
		}
		r.opts.Backend.Store(ck, packOutcome(o), now.Unix(), o.ExpiresAt.Unix())
		return o, nil
	})

	select {
	case res := <-resC:
		if res.Err != nil {
			return Outcome{}, res.Err
		}
		return res.Val.(Outcome), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Outcome wire format for cache backends: one flag byte followed by
// the raw data for found outcomes.
const (
	outcomeMissing = 0x00
	outcomeFound   = 0x01
)

func packOutcome(o Outcome) []byte {
	if !o.Found {
		return []byte{outcomeMissing}
	}
	b := make([]byte, 1+len(o.Data))
	b[0] = outcomeFound
	copy(b[1:], o.Data)
	return b
}

func unpackOutcome(b []byte) (Outcome, error) {
	if len(b) == 0 {
		return Outcome{}, errors.New("empty outcome")
	}
	switch b[0] {
	case outcomeMissing:
		return Outcome{}, nil
	case outcomeFound:
		data := make(json.RawMessage, len(b)-1)
		copy(data, b[1:])
		return Outcome{Found: true, Data: data}, nil
	default:
		return Outcome{}, fmt.Errorf("unknown outcome tag 0x%02x", b[0])
	}
}
