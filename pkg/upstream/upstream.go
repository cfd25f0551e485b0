package upstream

import (
	"context"
	"errors"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/spaghettinuum/spagh/pkg/utils"
)

var nopLogger = zap.NewNop()

const defaultTimeout = time.Second * 5

type Opts struct {
	// Addr is the upstream "host:port". Cannot be empty.
	Addr string

	// Timeout for one exchange, both transports. Default is 5s.
	Timeout time.Duration

	// A nil Logger disables logging.
	Logger *zap.Logger
}

// Forwarder sends questions the bridge does not own to a plain DNS
// upstream. UDP first, retried over TCP when the reply is truncated.
type Forwarder struct {
	opts Opts

	udp *dns.Client
	tcp *dns.Client
}

func NewForwarder(opts Opts) (*Forwarder, error) {
	if len(opts.Addr) == 0 {
		return nil, errors.New("empty upstream addr")
	}
	utils.SetDefaultNum(&opts.Timeout, defaultTimeout)
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}

	return &Forwarder{
		opts: opts,
		udp:  &dns.Client{Net: "udp", Timeout: opts.Timeout, UDPSize: dns.DefaultMsgSize},
		tcp:  &dns.Client{Net: "tcp", Timeout: opts.Timeout},
	}, nil
}

func (f *Forwarder) Exchange(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
	r, _, err := f.udp.ExchangeContext(ctx, q, f.opts.Addr)
	if err == nil && r.Truncated {
		f.opts.Logger.Debug("upstream reply truncated, retrying over tcp",
			zap.String("upstream", f.opts.Addr))
		r, _, err = f.tcp.ExchangeContext(ctx, q, f.opts.Addr)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}
