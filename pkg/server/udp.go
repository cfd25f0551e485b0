package server

import (
	"context"
	"fmt"
	"net"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/spaghettinuum/spagh/pkg/pool"
	C "github.com/spaghettinuum/spagh/pkg/query_context"
	"github.com/spaghettinuum/spagh/pkg/utils"
)

func (s *Server) ServeUDP(c net.PacketConn) error {
	defer c.Close()

	handler := s.opts.DNSHandler
	if handler == nil {
		return errMissingDNSHandler
	}

	if ok := s.trackCloser(c, true); !ok {
		return ErrServerClosed
	}
	defer s.trackCloser(c, false)

	listenerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readBuf := pool.GetBuf(64 * 1024)
	defer readBuf.Release()
	rb := readBuf.Bytes()

	for {
		n, remoteAddr, err := c.ReadFrom(rb)
		if err != nil {
			if s.Closed() {
				return ErrServerClosed
			}
			return fmt.Errorf("unexpected read err: %w", err)
		}
		clientAddr := utils.GetAddrFromAddr(remoteAddr)

		q := new(dns.Msg)
		if err := q.Unpack(rb[:n]); err != nil {
			s.opts.Logger.Warn("invalid msg", zap.Error(err), zap.Stringer("from", remoteAddr))
			continue
		}

		go func() {
			meta := C.NewRequestMeta(clientAddr)
			meta.SetProtocol(C.ProtocolUDP)

			r, err := handler.ServeDNS(listenerCtx, q, meta)
			if err != nil {
				s.opts.Logger.Warn("handler err", zap.Error(err))
				return
			}
			if r == nil {
				return
			}

			r.Truncate(getUDPSize(q))
			b, buf, err := pool.PackBuffer(r)
			if err != nil {
				s.opts.Logger.Error("failed to pack response", zap.Error(err), zap.Stringer("msg", r))
				return
			}
			defer buf.Release()

			if _, err := c.WriteTo(b, remoteAddr); err != nil {
				s.opts.Logger.Warn("failed to write response", zap.Stringer("client", remoteAddr), zap.Error(err))
			}
		}()
	}
}

func getUDPSize(q *dns.Msg) int {
	size := 0
	if opt := q.IsEdns0(); opt != nil {
		size = int(opt.UDPSize())
	}
	if size < dns.MinMsgSize {
		size = dns.MinMsgSize
	}
	return size
}
