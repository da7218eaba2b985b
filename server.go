package tabterm

import (
	"context"
	"errors"
	"net"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/core"
	"pkt.systems/tabterm/httpapi"
	"pkt.systems/tabterm/internal/auth"
	"pkt.systems/tabterm/internal/eventbus"
	"pkt.systems/tabterm/internal/profilestore"
	"pkt.systems/tabterm/internal/sshbackend"
	"pkt.systems/tabterm/schema"
	"pkt.systems/tabterm/sshserver"
)

// Server composes the engine with its HTTP and SSH front-ends.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	Service() core.Service
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Engine    schema.EngineConfig
	Transport sshbackend.Config
	Profiles  profilestore.Config
	HTTP      httpapi.Config
	SSH       sshserver.Config
}

// TransportFactory builds a transport that publishes into sink.
type TransportFactory func(sink core.InboundSink) (core.Transport, error)

// ServerDeps captures optional overrides. Nil fields fall back to the
// configured SSH backend and profile store.
type ServerDeps struct {
	Logger       pslog.Logger
	Transport    TransportFactory
	Profiles     core.ProfileStore
	Renderer     core.Renderer
	HTTPListener net.Listener
	SSHListener  net.Listener
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableHTTP bool
	enableSSH  bool
}

// WithHTTP enables the HTTP API.
func WithHTTP() ServerOption {
	return func(o *serverOptions) { o.enableHTTP = true }
}

// WithSSH enables the SSH attach server.
func WithSSH() ServerOption {
	return func(o *serverOptions) { o.enableSSH = true }
}

// New constructs a composable tabterm server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableHTTP && !options.enableSSH {
		return nil, errors.New("no services enabled")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	engineCfg, err := schema.NormalizeEngineConfig(cfg.Engine)
	if err != nil {
		return nil, err
	}
	cfg.Engine = engineCfg

	s := &compositeServer{cfg: cfg, options: options, httpLn: deps.HTTPListener}
	ok := false
	defer func() {
		if !ok {
			s.release()
		}
	}()

	bus := eventbus.New(cfg.Engine.InboundDepth, logger)
	s.bus = bus

	profiles := deps.Profiles
	if profiles == nil {
		store, err := profilestore.Open(context.Background(), cfg.Profiles, logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		profiles = store
	}

	factory := deps.Transport
	if factory == nil {
		factory = func(sink core.InboundSink) (core.Transport, error) {
			backend, err := sshbackend.New(cfg.Transport, sink, logger)
			if err != nil {
				return nil, err
			}
			s.closers = append(s.closers, backend.Close)
			return backend, nil
		}
	}
	transport, err := factory(bus)
	if err != nil {
		return nil, err
	}

	renderers := make([]core.Renderer, 0, 3)
	if deps.Renderer != nil {
		renderers = append(renderers, deps.Renderer)
	}
	var hub *httpapi.Hub
	if options.enableHTTP {
		hub = httpapi.NewHub(cfg.HTTP.HistorySize, logger)
		renderers = append(renderers, hub)
	}
	var fanout *eventbus.Fanout
	if options.enableSSH {
		fanout = eventbus.NewFanout(logger)
		renderers = append(renderers, fanout)
	}
	var renderer core.Renderer
	if len(renderers) == 1 {
		renderer = renderers[0]
	} else {
		renderer = renderFanout{renderers: renderers}
	}

	engine, err := core.NewEngine(cfg.Engine, core.EngineDeps{
		Transport: transport,
		Profiles:  profiles,
		Renderer:  renderer,
		Bus:       bus,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	s.engine = engine

	if options.enableHTTP {
		s.httpSrv = httpapi.NewServer(cfg.HTTP, engine, hub)
	}
	if options.enableSSH {
		authorizer, err := auth.NewAuthorizer(cfg.SSH.AuthorizedKeysPath, cfg.SSH.TOTPSecret, logger)
		if err != nil {
			return nil, err
		}
		s.sshSrv = &sshserver.Server{
			Addr:        cfg.SSH.Addr,
			HostKeyPath: cfg.SSH.HostKeyPath,
			Listener:    deps.SSHListener,
			Service:     engine,
			Auth:        authorizer,
			Events:      fanout,
		}
	}
	ok = true
	return s, nil
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	engine  *core.Engine
	bus     *eventbus.Bus
	httpSrv *httpapi.Server
	httpLn  net.Listener
	sshSrv  *sshserver.Server
	closers []func() error
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
	stopped chan struct{}
}

func (s *compositeServer) Service() core.Service {
	return s.engine
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 3)
	s.stopped = make(chan struct{})
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http", s.options.enableHTTP,
		"ssh", s.options.enableSSH,
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_path", s.cfg.HTTP.BasePath,
		"ssh_addr", s.cfg.SSH.Addr,
		"profiles", s.cfg.Profiles.Backend,
	)
	tabID := s.engine.EnsureAtLeastOneTab(s.ctx)
	log.Debug("server initial tab", "tab", tabID)

	go func() {
		defer close(s.stopped)
		if err := s.engine.Run(s.ctx); err != nil {
			log.Error("engine stopped", "err", err)
			s.errCh <- err
		}
	}()
	if s.options.enableHTTP && s.httpSrv != nil {
		go func() {
			if err := httpapi.Serve(s.ctx, s.httpLn, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
				log.Error("http server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	if s.options.enableSSH && s.sshSrv != nil {
		go func() {
			if err := s.sshSrv.ListenAndServe(s.ctx); err != nil {
				log.Error("ssh server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	stopped := s.stopped
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-stopped:
	}
	s.release()
	log.Info("server stopped")
	return nil
}

// release closes the engine, transport and profile store. Safe to call twice.
func (s *compositeServer) release() {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()
	if s.engine != nil {
		s.engine.Close()
	}
	if s.bus != nil {
		s.bus.Close()
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil && s.logger != nil {
			s.logger.Warn("server close failed", "err", err)
		}
	}
}
