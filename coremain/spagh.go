package coremain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/spaghettinuum/spagh/mlog"
	"github.com/spaghettinuum/spagh/pkg/bridge"
	"github.com/spaghettinuum/spagh/pkg/cache"
	"github.com/spaghettinuum/spagh/pkg/cache/mem_cache"
	"github.com/spaghettinuum/spagh/pkg/cache/redis_cache"
	"github.com/spaghettinuum/spagh/pkg/publishfile"
	"github.com/spaghettinuum/spagh/pkg/record"
	"github.com/spaghettinuum/spagh/pkg/resolver"
	"github.com/spaghettinuum/spagh/pkg/safe_close"
	"github.com/spaghettinuum/spagh/pkg/server"
	"github.com/spaghettinuum/spagh/pkg/server/dns_handler"
	"github.com/spaghettinuum/spagh/pkg/store/mem_store"
	"github.com/spaghettinuum/spagh/pkg/upstream"
)

const (
	defaultCacheSize           = 4096
	defaultCacheCleanerSeconds = 60
)

// Spagh is one running node: the record store, the resolver cache in
// front of it, the DNS bridge servers and the HTTP api.
type Spagh struct {
	logger *zap.Logger

	store    *mem_store.MemStore
	resolver *resolver.Resolver

	httpAPIMux *http.ServeMux
	metricsReg *prometheus.Registry

	sc *safe_close.SafeClose
}

func RunSpagh(cfg *Config) error {
	lg, err := mlog.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	m := &Spagh{
		logger:     lg,
		store:      mem_store.NewMemStore(lg.Named("store")),
		httpAPIMux: http.NewServeMux(),
		metricsReg: newMetricsReg(),
		sc:         safe_close.NewSafeClose(),
	}

	m.httpAPIMux.Handle("/metrics", promhttp.HandlerFor(m.metricsReg, promhttp.HandlerOpts{}))
	m.httpAPIMux.HandleFunc("/debug/pprof/", pprof.Index)
	m.httpAPIMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	m.httpAPIMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	m.httpAPIMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	m.httpAPIMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	backend, err := newCacheBackend(&cfg.Cache, lg)
	if err != nil {
		return fmt.Errorf("failed to init cache backend, %w", err)
	}
	m.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		<-closeSignal
		backend.Close()
	})

	r, err := resolver.NewResolver(resolver.Opts{
		Upstream:           m.store,
		Backend:            backend,
		UnknownIdentityTTL: time.Duration(cfg.Cache.UnknownIdentityTTL) * time.Second,
		LookupTimeout:      time.Duration(cfg.Cache.LookupTimeout) * time.Second,
		Logger:             lg.Named("resolver"),
	})
	if err != nil {
		return fmt.Errorf("failed to init resolver, %w", err)
	}
	if err := r.RegisterMetricsTo(m.GetMetricsReg()); err != nil {
		return fmt.Errorf("failed to register resolver metrics, %w", err)
	}
	m.resolver = r

	var fwd *upstream.Forwarder
	if len(cfg.Bridge.Upstream) > 0 {
		fwd, err = upstream.NewForwarder(upstream.Opts{
			Addr:   cfg.Bridge.Upstream,
			Logger: lg.Named("upstream"),
		})
		if err != nil {
			return fmt.Errorf("failed to init upstream forwarder, %w", err)
		}
	}

	b, err := bridge.NewBridge(bridge.Opts{
		Resolver:  r,
		Suffix:    cfg.Bridge.Suffix,
		Forwarder: fwd,
		Logger:    lg.Named("bridge"),
	})
	if err != nil {
		return fmt.Errorf("failed to init bridge, %w", err)
	}
	entry, err := dns_handler.NewEntryHandler(dns_handler.EntryHandlerOpts{
		Logger:       lg.Named("entry"),
		Entry:        b,
		QueryTimeout: time.Duration(cfg.Bridge.QueryTimeout) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to init entry handler, %w", err)
	}

	if len(cfg.Servers) == 0 && len(cfg.API.HTTP) == 0 {
		return errors.New("no server or api is configured")
	}
	for i := range cfg.Servers {
		if err := m.startServer(&cfg.Servers[i], entry); err != nil {
			return fmt.Errorf("failed to start server #%d, %w", i, err)
		}
	}

	for i := range cfg.Publish {
		if err := m.startPublisher(&cfg.Publish[i]); err != nil {
			return fmt.Errorf("failed to start publisher #%d, %w", i, err)
		}
	}

	m.registerAPI()

	// Start http api server
	if httpAddr := cfg.API.HTTP; len(httpAddr) > 0 {
		httpServer := &http.Server{
			Addr:    httpAddr,
			Handler: m.httpAPIMux,
		}
		m.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
			defer done()
			errChan := make(chan error, 1)
			go func() {
				m.logger.Info("starting api http server", zap.String("addr", httpAddr))
				errChan <- httpServer.ListenAndServe()
			}()
			select {
			case err := <-errChan:
				m.sc.SendCloseSignal(err)
			case <-closeSignal:
				httpServer.Close()
			}
		})
	}

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		sig := <-c
		m.logger.Info("signal received, exiting", zap.Stringer("signal", sig))
		m.sc.SendCloseSignal(nil)
	}()

	<-m.sc.ReceiveCloseSignal()
	m.sc.Done()
	m.sc.CloseWait()
	return m.sc.Err()
}

func (m *Spagh) GetSafeClose() *safe_close.SafeClose {
	return m.sc
}

func (m *Spagh) GetMetricsReg() prometheus.Registerer {
	return prometheus.WrapRegistererWithPrefix("spagh_", m.metricsReg)
}

func (m *Spagh) GetHTTPAPIMux() *http.ServeMux {
	return m.httpAPIMux
}

func newMetricsReg() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

func newCacheBackend(c *CacheConfig, lg *zap.Logger) (cache.Backend, error) {
	if len(c.Redis) > 0 {
		opt, err := redis.ParseURL(c.Redis)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url, %w", err)
		}
		opt.MaxRetries = -1
		client := redis.NewClient(opt)
		return redis_cache.NewRedisCache(redis_cache.RedisCacheOpts{
			Client:        client,
			ClientCloser:  client,
			ClientTimeout: time.Duration(c.RedisTimeout) * time.Millisecond,
			Logger:        lg.Named("redis_cache"),
		})
	}

	size := c.Size
	if size <= 0 {
		size = defaultCacheSize
	}
	cleanerSeconds := c.CleanerInterval
	if cleanerSeconds == 0 {
		cleanerSeconds = defaultCacheCleanerSeconds
	}
	return mem_cache.NewMemCache(size, time.Duration(cleanerSeconds)*time.Second), nil
}

func (m *Spagh) startServer(c *ServerListenerConfig, h dns_handler.Handler) error {
	if len(c.Addr) == 0 {
		return errors.New("server addr cannot be empty")
	}

	s := server.NewServer(server.ServerOpts{
		Logger:      m.logger.Named("server"),
		DNSHandler:  h,
		Cert:        c.Cert,
		Key:         c.Key,
		IdleTimeout: time.Duration(c.IdleTimeout) * time.Second,
	})

	run := func() error { return nil }
	switch c.Protocol {
	case "", "udp":
		conn, err := net.ListenPacket("udp", c.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s, %w", c.Addr, err)
		}
		m.logger.Info("udp server started", zap.String("addr", c.Addr))
		run = func() error { return s.ServeUDP(conn) }
	case "tcp":
		l, err := net.Listen("tcp", c.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s, %w", c.Addr, err)
		}
		m.logger.Info("tcp server started", zap.String("addr", c.Addr))
		run = func() error { return s.ServeTCP(l) }
	case "dot", "tls":
		l, err := net.Listen("tcp", c.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s, %w", c.Addr, err)
		}
		m.logger.Info("dot server started", zap.String("addr", c.Addr))
		run = func() error { return s.ServeTLS(l) }
	default:
		return fmt.Errorf("unknown protocol %q", c.Protocol)
	}

	m.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		errChan := make(chan error, 1)
		go func() {
			errChan <- run()
		}()
		select {
		case err := <-errChan:
			m.sc.SendCloseSignal(err)
		case <-closeSignal:
			s.Close()
		}
	})
	return nil
}

func (m *Spagh) startPublisher(c *PublishConfig) error {
	p, err := publishfile.NewPublisher(publishfile.Opts{
		Identity: record.Identity(c.Identity),
		File:     c.File,
		Store:    m.store,
		Logger:   m.logger.Named("publish"),
	})
	if err != nil {
		return err
	}

	// A broken document fails startup, watch-time errors only log.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	err = p.Load(ctx)
	cancel()
	if err != nil {
		return err
	}

	m.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		if err := p.Watch(closeSignal); err != nil {
			m.sc.SendCloseSignal(fmt.Errorf("publish watcher exited, %w", err))
		}
	})
	return nil
}
