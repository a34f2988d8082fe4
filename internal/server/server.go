// ABOUTME: Server orchestrator wiring storage, realtime fan-out and the HTTP surfaces together
// ABOUTME: Manages listeners (TCP or Tailscale), background jobs and graceful shutdown

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/hostel-messaging/internal/api"
	"github.com/2389/hostel-messaging/internal/auth"
	"github.com/2389/hostel-messaging/internal/broker"
	"github.com/2389/hostel-messaging/internal/config"
	"github.com/2389/hostel-messaging/internal/idempotency"
	"github.com/2389/hostel-messaging/internal/messaging"
	"github.com/2389/hostel-messaging/internal/presence"
	"github.com/2389/hostel-messaging/internal/reconcile"
	"github.com/2389/hostel-messaging/internal/session"
	"github.com/2389/hostel-messaging/internal/socket"
	"github.com/2389/hostel-messaging/internal/store"
)

// shutdownTimeout bounds graceful shutdown after Run's context is cancelled.
const shutdownTimeout = 5 * time.Second

// Server owns every component of a running messaging node.
type Server struct {
	config      *config.Config
	store       store.Store
	broker      *broker.Broker
	typing      *presence.Coordinator
	sessions    *session.Manager
	sends       *idempotency.Cache[*store.Message]
	service     *messaging.Service
	socket      *socket.Handler
	scheduler   *reconcile.Scheduler
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// stopBackground cancels the session sweeper
	stopBackground context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

// initStore opens the configured database.
func initStore(cfg *config.Config) (store.Store, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initVerifier returns a JWT verifier when a secret is configured, or nil
// to leave the API open.
func initVerifier(cfg *config.Config, logger *slog.Logger) (auth.TokenVerifier, error) {
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret not set, API and socket are unauthenticated")
		return nil, nil
	}
	v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}
	return v, nil
}

// New creates a Server from configuration. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	verifier, err := initVerifier(cfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	b := broker.New(logger)
	typing := presence.New(b, cfg.Presence.TypingTimeout, logger)
	sessions := session.NewManager(b, typing, logger)
	sends := idempotency.New[*store.Message](cfg.Idempotency.TTL, cfg.Idempotency.MaxEntries)
	svc := messaging.New(st, b, sends, logger)

	sock := socket.NewHandler(sessions, typing, svc, socket.Options{
		PingInterval:   cfg.Socket.PingInterval,
		IdleTimeout:    cfg.Socket.IdleTimeout,
		SendBuffer:     cfg.Socket.SendBuffer,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)

	s := &Server{
		config:   cfg,
		store:    st,
		broker:   b,
		typing:   typing,
		sessions: sessions,
		sends:    sends,
		service:  svc,
		socket:   sock,
		logger:   logger.With("component", "server"),
	}

	if cfg.Reconcile.Enabled {
		s.scheduler, err = reconcile.NewScheduler(cfg.Reconcile.Schedule, svc, logger)
		if err != nil {
			s.closeComponents()
			return nil, err
		}
	}

	router := api.NewRouter(api.RouterConfig{
		Handler:        api.NewHandler(svc, logger),
		Socket:         sock,
		Verifier:       verifier,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger,
	})

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Reconcile runs one preview reconciliation pass.
func (s *Server) Reconcile(ctx context.Context) (int, error) {
	return s.service.ReconcilePreviews(ctx)
}

// setupTCPListener listens on the configured HTTP address.
func (s *Server) setupTCPListener() (net.Listener, error) {
	s.logger.Info("starting hostel messaging", "http_addr", s.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", s.config.Server.HTTPAddr)
		}
		return s.setupTailscaleListener(ctx)
	}
	return s.setupTCPListener()
}

// startBackground starts the session sweeper and the reconcile schedule.
func (s *Server) startBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopBackground = cancel

	idle := 2 * s.config.Socket.IdleTimeout
	go s.sessions.RunSweeper(ctx, s.config.Socket.IdleTimeout, idle)

	if s.scheduler != nil {
		s.scheduler.Start()
	}
}

// startServer serves HTTP in a goroutine, returning its error channel.
func (s *Server) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts listening and blocks until ctx is cancelled or the server fails.
// Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return errors.Join(err, s.gracefulShutdown())
	}

	s.startBackground()
	errCh := s.startServer(ln)
	serverErr := s.waitForShutdownSignal(ctx, errCh)

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since Run's is already cancelled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "hostel-messaging", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener brings up a tsnet node and listens on it.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	return s.createTailscaleListener(tsCfg)
}

func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleListener picks Funnel, tailnet HTTPS or plain HTTP on :80.
func (s *Server) createTailscaleListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		s.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := s.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return s.createTailscaleTLSListener()
	default:
		ln, err := s.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener serves TLS with Tailscale's auto-provisioned certs.
func (s *Server) createTailscaleTLSListener() (net.Listener, error) {
	s.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := s.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := s.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents stops in-memory components. Safe on a partially built Server.
func (s *Server) closeComponents() {
	if s.socket != nil {
		s.socket.Close()
	}
	if s.stopBackground != nil {
		s.stopBackground()
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.typing != nil {
		s.typing.Close()
	}
	if s.sends != nil {
		s.sends.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("closing store", "error", err)
		}
	}
}

// Shutdown stops accepting requests, closes live sockets, stops background
// jobs and releases the store. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("shutting down")

		var errs []error

		// Hijacked websocket connections are not tracked by http.Server
		s.socket.Close()
		errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

		if s.tsnetServer != nil {
			errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
		}

		if s.stopBackground != nil {
			s.stopBackground()
		}
		if s.scheduler != nil {
			s.scheduler.Stop()
		}
		s.typing.Close()
		s.sends.Close()
		errs = appendCloseError(errs, "store close", s.store.Close())

		if len(errs) > 0 {
			s.shutdownErr = fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
		}
	})
	return s.shutdownErr
}
