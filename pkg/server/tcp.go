package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
	"gitlab.com/go-extension/tls"
	"go.uber.org/zap"

	"github.com/spaghettinuum/spagh/pkg/dnsutils"
	"github.com/spaghettinuum/spagh/pkg/pool"
	C "github.com/spaghettinuum/spagh/pkg/query_context"
	"github.com/spaghettinuum/spagh/pkg/server/dns_handler"
	"github.com/spaghettinuum/spagh/pkg/utils"
)

const (
	defaultTCPIdleTimeout = time.Second * 10
	tcpFirstReadTimeout   = time.Millisecond * 500
)

type tcpConn struct {
	sync.Mutex
	net.Conn
	handler dns_handler.Handler
	meta    *C.RequestMeta
}

func (c *tcpConn) writeRawMsg(b []byte) (int, error) {
	c.Lock()
	defer c.Unlock()
	return dnsutils.WriteRawMsgToTCP(c, b)
}

func (s *Server) ServeTCP(l net.Listener) error {
	defer l.Close()

	handler := s.opts.DNSHandler
	if handler == nil {
		return errMissingDNSHandler
	}

	if ok := s.trackCloser(l, true); !ok {
		return ErrServerClosed
	}
	defer s.trackCloser(l, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for {
		c, err := l.Accept()
		if err != nil {
			if s.Closed() {
				return ErrServerClosed
			}
			if err, ok := err.(net.Error); ok && err.Timeout() {
				continue
			}
			return fmt.Errorf("unexpected listener err: %w", err)
		}

		go s.handleTCPConn(ctx, &tcpConn{Conn: c, handler: handler})
	}
}

// ServeTLS runs the DoT server on l using the certificate files from
// ServerOpts.
func (s *Server) ServeTLS(l net.Listener) error {
	if len(s.opts.Cert) == 0 || len(s.opts.Key) == 0 {
		return fmt.Errorf("missing cert or key file")
	}
	cert, err := tls.LoadX509KeyPair(s.opts.Cert, s.opts.Key)
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}}
	return s.ServeTCP(tls.NewListener(l, tlsConfig))
}

func (s *Server) handleTCPConn(ctx context.Context, c *tcpConn) {
	defer c.Close()

	if !s.trackCloser(c, true) {
		return
	}
	defer s.trackCloser(c, false)

	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	clientAddr := utils.GetAddrFromAddr(c.RemoteAddr())
	meta := C.NewRequestMeta(clientAddr)

	protocol := C.ProtocolTCP
	if tlsConn, ok := c.Conn.(*tls.Conn); ok {
		handshakeTimeout := s.opts.IdleTimeout
		if handshakeTimeout <= 0 {
			handshakeTimeout = defaultTCPIdleTimeout
		}

		handshakeCtx, cancel := context.WithTimeout(connCtx, handshakeTimeout)
		defer cancel()

		if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
			s.opts.Logger.Debug("handshake failed", zap.Stringer("from", c.RemoteAddr()), zap.Error(err))
			return
		}

		meta.SetServerName(tlsConn.ConnectionState().ServerName)
		protocol = C.ProtocolTLS
	}
	meta.SetProtocol(protocol)
	c.meta = meta

	idleTimeout := s.opts.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultTCPIdleTimeout
	}

	c.SetReadDeadline(time.Now().Add(min(idleTimeout, tcpFirstReadTimeout)))

	for {
		req, _, err := dnsutils.ReadMsgFromTCP(c)
		if err != nil {
			return
		}

		s.handleTCPQuery(connCtx, c, req, idleTimeout)

		c.SetReadDeadline(time.Now().Add(idleTimeout))
	}
}

func (s *Server) handleTCPQuery(ctx context.Context, c *tcpConn, req *dns.Msg, timeout time.Duration) {
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r, err := c.handler.ServeDNS(queryCtx, req, c.meta)
	if err != nil {
		s.opts.Logger.Debug("handler err", zap.Error(err))
		return
	}
	if r == nil {
		return
	}

	r.Id = req.Id
	b, buf, err := pool.PackBuffer(r)
	if err != nil {
		s.opts.Logger.Error("failed to pack response", zap.Error(err), zap.Stringer("msg", r))
		return
	}
	defer buf.Release()

	if _, err := c.writeRawMsg(b); err != nil {
		s.opts.Logger.Debug("failed to write response", zap.Stringer("client", c.RemoteAddr()), zap.Error(err))
	}
}
