package abtray

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pkt.systems/abtray/internal/clock"
	"pkt.systems/pslog"
)

// Server serves the AutoBangumi web UI and the supervisor's own endpoints.
// Run blocks on the calling goroutine; RequestStop may be called from any
// goroutine.
type Server struct {
	cfg      Config
	logger   pslog.Logger
	httpSrv  *http.Server
	listener net.Listener

	mu        sync.Mutex
	stopping  bool
	stopped   atomic.Bool
	readyOnce sync.Once
	readyCh   chan struct{}
	stopDone  chan struct{}
}

// Option configures server instances.
type Option func(*options)

type options struct {
	Logger   pslog.Logger
	Clock    clock.Clock
	Registry *prometheus.Registry
	Status   StatusFunc
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithClock injects a custom clock implementation.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.Clock = c
	}
}

// WithRegistry exposes reg on /metrics instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.Registry = reg
	}
}

// WithStatus supplies the source for the status endpoint.
func WithStatus(fn StatusFunc) Option {
	return func(o *options) {
		o.Status = fn
	}
}

// NewServer constructs the web server according to cfg. It does not bind
// until Run.
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	logger := o.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	registry := o.Registry
	if registry == nil {
		var err error
		registry, err = NewMetricsRegistry()
		if err != nil {
			return nil, fmt.Errorf("metrics registry: %w", err)
		}
	}
	srvClock := clock.Or(o.Clock)
	router := newRouter(cfg, routerDeps{
		logger:    logger,
		registry:  registry,
		status:    o.Status,
		clock:     srvClock,
		startedAt: srvClock.Now(),
	})
	httpSrv := &http.Server{
		Handler:           otelhttp.NewHandler(router, "abtray.http"),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		httpSrv:  httpSrv,
		readyCh:  make(chan struct{}),
		stopDone: make(chan struct{}),
	}, nil
}

// Handler returns the HTTP handler so the routes can be exercised without a listener.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run binds the listener and serves until RequestStop. It returns nil after a
// requested stop and the serve error otherwise.
func (s *Server) Run() error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		s.stopped.Store(true)
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		s.mu.Unlock()
		s.stopped.Store(true)
		return fmt.Errorf("listen (tcp %s): %w", s.cfg.Listen, err)
	}
	s.listener = ln
	s.mu.Unlock()
	s.signalReady()
	s.logger.Info("server.listening", "address", ln.Addr().String(), "dist", s.cfg.DistDir)

	serveErr := s.httpSrv.Serve(ln)
	if errors.Is(serveErr, http.ErrServerClosed) {
		<-s.stopDone
		s.stopped.Store(true)
		return nil
	}
	s.stopped.Store(true)
	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

// RequestStop asks Run to return. It drains in-flight requests for at most
// Config.ServerStopTimeout and is idempotent.
func (s *Server) RequestStop() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.mu.Unlock()

	go func() {
		defer close(s.stopDone)
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ServerStopTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("server.shutdown.forced", "error", err)
			_ = s.httpSrv.Close()
		}
		s.logger.Info("server.shutdown.complete")
	}()
}

// Stopped reports whether Run has returned.
func (s *Server) Stopped() bool {
	return s.stopped.Load()
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
	})
}

// WaitUntilReady blocks until the server listener is initialized or context ends.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenerAddr returns the bound listener address once available.
func (s *Server) ListenerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.listener; l != nil {
		return l.Addr()
	}
	return nil
}
