// ABOUTME: Hub orchestrator that wires the store, auth, router, and HTTP server
// ABOUTME: Manages listeners, config watching, and graceful shutdown lifecycle

package hub

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
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/mcpgate/mcpgate/internal/auth"
	"github.com/mcpgate/mcpgate/internal/clientconfig"
	"github.com/mcpgate/mcpgate/internal/config"
	"github.com/mcpgate/mcpgate/internal/router"
	"github.com/mcpgate/mcpgate/internal/settings"
	"github.com/mcpgate/mcpgate/internal/store"
)

// Hub orchestrates the mcpgate server components: the settings store over
// SQLite, the access control service, the edge router, and the HTTP API.
type Hub struct {
	config      *config.Config
	backend     store.Backend
	settings    *settings.Store
	authSvc     *auth.Service
	edge        *router.Router
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	watcher     *fsnotify.Watcher
	logger      *slog.Logger
}

// initBackend creates the persistence backend from config and environment.
func initBackend(cfg *config.Config, logger *slog.Logger) (store.Backend, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("MCPGATE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	backend, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return backend, nil
}

// endpointOptions derives client config generation options from config.
func endpointOptions(cfg *config.Config) clientconfig.Options {
	opts := clientconfig.Options{
		Protocol:       cfg.Endpoint.Protocol,
		Domain:         cfg.Endpoint.Domain,
		Port:           cfg.Endpoint.Port,
		CustomEndpoint: cfg.Endpoint.CustomSSEPath,
	}
	if opts.Domain == "" {
		host := cfg.Server.HTTPAddr
		if cfg.Tailscale.Enabled {
			host = cfg.Tailscale.Hostname
		}
		opts.Domain = host
	}
	return opts
}

// New creates a new Hub instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	backend, err := initBackend(cfg, logger)
	if err != nil {
		return nil, err
	}

	var settingsOpts []settings.Option
	if cfg.Settings.CacheTTL > 0 {
		settingsOpts = append(settingsOpts, settings.WithTTL(cfg.Settings.CacheTTL))
	}
	settingsStore := settings.NewStore(backend, logger, settingsOpts...)

	var tokens *auth.TokenIssuer
	if cfg.Auth.JWTSecret != "" {
		tokens, err = auth.NewTokenIssuer([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating token issuer: %w", err)
		}
	}
	authSvc := auth.NewService(settingsStore, backend, tokens, logger)

	var routerOpts []router.Option
	if cfg.Upstream.HealthTimeout > 0 {
		routerOpts = append(routerOpts, router.WithHealthTimeout(cfg.Upstream.HealthTimeout))
	}
	edge, err := router.New(settingsStore, cfg.Upstream.URL, logger, routerOpts...)
	if err != nil {
		return nil, err
	}

	h := &Hub{
		config:   cfg,
		backend:  backend,
		settings: settingsStore,
		authSvc:  authSvc,
		edge:     edge,
		logger:   logger.With("component", "hub"),
	}

	mux := http.NewServeMux()

	// API endpoints - auth required if a JWT secret is configured
	h.registerAPIRoutes(mux, cfg, logger)

	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, promhttp.Handler())
		logger.Info("metrics endpoint enabled", "path", path)
	}

	// Everything else (health, /sse routes, passthrough) goes to the edge
	// router, which applies its own CORS and bearer policy.
	mux.Handle("/", edge)

	h.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return h, nil
}

// registerAPIRoutes registers API routes on the mux with or without auth middleware.
func (h *Hub) registerAPIRoutes(mux *http.ServeMux, cfg *config.Config, logger *slog.Logger) {
	var wrap func(http.Handler) http.Handler
	if cfg.Auth.JWTSecret != "" {
		wrap = auth.Middleware(h.authSvc)
		logger.Info("HTTP auth middleware enabled")
	} else {
		// Without a secret nobody can log in, so every API caller is
		// treated as a local admin. Single-operator deployments only.
		wrap = anonymousAdmin
		logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}

	// CORS runs outside auth so browser preflights never need credentials.
	mux.Handle("/api/login", h.cors(http.HandlerFunc(h.handleLogin)))
	mux.Handle("/api/settings", h.cors(wrap(http.HandlerFunc(h.handleSettings))))
	mux.Handle("/api/keys", h.cors(wrap(http.HandlerFunc(h.handleKeys))))
	mux.Handle("/api/keys/", h.cors(wrap(http.HandlerFunc(h.handleKeyByHash))))
	mux.Handle("/api/variables", h.cors(wrap(http.HandlerFunc(h.handleVariables))))
	mux.Handle("/api/variables/", h.cors(wrap(http.HandlerFunc(h.handleVariableByKey))))
	mux.Handle("/api/config", h.cors(wrap(http.HandlerFunc(h.handleClientConfig))))
}

// cors stamps the same CORS policy the edge router applies onto /api
// responses and short-circuits preflight requests, so the dashboard can
// call the API cross-origin.
func (h *Hub) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var allowed []string
		if doc, err := h.settings.Load(r.Context()); err == nil {
			allowed = doc.System.Routing.AllowedOrigins
		}
		router.SetCORSHeaders(w, r, allowed)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// anonymousAdmin attaches an admin caller to every request. Used only
// when auth is disabled.
func anonymousAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := &auth.Caller{Username: "admin", IsAdmin: true}
		next.ServeHTTP(w, r.WithContext(auth.WithCaller(r.Context(), caller)))
	})
}

// Run starts the hub server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (h *Hub) Run(ctx context.Context) error {
	ln, err := h.setupListener(ctx)
	if err != nil {
		return err
	}

	if err := h.startWatcher(); err != nil {
		h.logger.Warn("config watch unavailable", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := h.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		h.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		h.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := h.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (h *Hub) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.Shutdown(ctx)
}

// Shutdown gracefully stops the hub and releases resources.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.logger.Info("shutting down hub")

	var errs []error
	if err := h.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if h.watcher != nil {
		if err := h.watcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("watcher close: %w", err))
		}
	}
	if h.tsnetServer != nil {
		if err := h.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	if err := h.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// startWatcher watches the database directory and invalidates the
// settings cache when the backing data changes out of band.
func (h *Hub) startWatcher() error {
	dbPath := h.config.Database.Path
	if envPath := os.Getenv("MCPGATE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	if dbPath == "" || dbPath == ":memory:" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(dbPath)); err != nil {
		_ = watcher.Close()
		return err
	}
	h.watcher = watcher

	base := filepath.Base(dbPath)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasPrefix(filepath.Base(event.Name), base) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) != 0 {
					h.logger.Debug("database changed on disk, invalidating settings cache", "event", event.Op.String())
					h.settings.Invalidate()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				h.logger.Warn("config watch error", "error", err)
			}
		}
	}()
	return nil
}

// setupListener creates a listener based on configuration (Tailscale or TCP).
func (h *Hub) setupListener(ctx context.Context) (net.Listener, error) {
	if h.config.Tailscale.Enabled {
		if h.config.Server.HTTPAddr != "" {
			h.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", h.config.Server.HTTPAddr,
			)
		}
		return h.setupTailscaleListener(ctx)
	}

	h.logger.Info("starting hub", "http_addr", h.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", h.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
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
	return filepath.Join(homeDir, ".local", "share", "mcpgate", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet server and returns the HTTP listener.
func (h *Hub) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := h.config.Tailscale

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

	h.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	h.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := h.tsnetServer.Up(ctx)
	if err != nil {
		_ = h.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	h.logTailscaleStatus(tsCfg.Hostname, status)

	switch {
	case tsCfg.Funnel:
		h.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := h.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = h.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		return ln, nil
	case tsCfg.CertFile != "" && tsCfg.KeyFile != "":
		return h.createTailscaleTLSListener()
	default:
		ln, err := h.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = h.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// logTailscaleStatus logs info about the tailscale node status.
func (h *Hub) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		h.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}
	h.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (h *Hub) createTailscaleTLSListener() (net.Listener, error) {
	h.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := h.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = h.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := h.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = h.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}
