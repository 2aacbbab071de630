// ABOUTME: Stateless edge router: CORS, bearer gate, health, dispatch, SSE passthrough
// ABOUTME: Routes /sse traffic to servers or the upstream hub per routing policy

package router

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mcpgate/mcpgate/internal/settings"
	"github.com/mcpgate/mcpgate/internal/vars"
)

// DefaultHealthTimeout bounds the upstream probe in /health so a dead
// upstream degrades the response instead of hanging it.
const DefaultHealthTimeout = 5 * time.Second

// hopByHopHeaders are stripped before forwarding in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Router is the stateless edge handler. Per-request state lives on the
// stack; the only shared reads are settings snapshots and the upstream
// address, so requests parallelize without coordination.
type Router struct {
	settings      *settings.Store
	upstream      *url.URL
	client        *http.Client
	healthTimeout time.Duration
	logger        *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithHealthTimeout overrides the upstream probe timeout.
func WithHealthTimeout(d time.Duration) Option {
	return func(rt *Router) { rt.healthTimeout = d }
}

// WithClient overrides the outbound HTTP client. Tests only.
func WithClient(c *http.Client) Option {
	return func(rt *Router) { rt.client = c }
}

// New creates an edge router dispatching to upstreamURL for group,
// unified, and passthrough traffic. upstreamURL may be empty when the
// hub serves no upstream application; those routes then return 502.
func New(settingsStore *settings.Store, upstreamURL string, logger *slog.Logger, opts ...Option) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Router{
		settings:      settingsStore,
		client:        &http.Client{},
		healthTimeout: DefaultHealthTimeout,
		logger:        logger.With("component", "router"),
	}
	if upstreamURL != "" {
		u, err := url.Parse(upstreamURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid upstream url %q", upstreamURL)
		}
		rt.upstream = u
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt, nil
}

// ServeHTTP applies CORS and the optional bearer gate, then routes the
// request: /health, /sse paths, or transparent passthrough.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.settings.Load(r.Context())
	if err != nil {
		rt.writeError(w, http.StatusServiceUnavailable, "settings_unavailable", "settings unavailable")
		return
	}
	routing := doc.System.Routing

	SetCORSHeaders(w, r, routing.AllowedOrigins)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.URL.Path == "/health" {
		rt.handleHealth(w, r)
		return
	}

	if !routing.SkipAuth && routing.BearerAuthKey != "" {
		if !rt.checkBearer(r, routing.BearerAuthKey) {
			rt.writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
	}

	if name, ok := sseTarget(r.URL.Path); ok {
		rt.handleSSE(w, r, doc, name)
		return
	}

	requestsTotal.WithLabelValues("passthrough").Inc()
	rt.dispatch(w, r, rt.upstreamTarget(r.URL))
}

// checkBearer compares the presented token against the shared secret by
// digest so comparison time is independent of the secret contents.
func (rt *Router) checkBearer(r *http.Request, secret string) bool {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	presented := sha256.Sum256([]byte(strings.TrimPrefix(header, "Bearer ")))
	expected := sha256.Sum256([]byte(secret))
	return subtle.ConstantTimeCompare(presented[:], expected[:]) == 1
}

// sseTarget extracts the server or group name from an /sse path. The
// bare /sse path returns an empty name for the unified route.
func sseTarget(path string) (string, bool) {
	if path == "/sse" {
		return "", true
	}
	if name, ok := strings.CutPrefix(path, "/sse/"); ok && name != "" && !strings.Contains(name, "/") {
		return name, true
	}
	return "", false
}

// handleSSE resolves an /sse path against the document: a named server
// streams straight from its resolved URL, a named group or the unified
// route streams through the upstream application.
func (rt *Router) handleSSE(w http.ResponseWriter, r *http.Request, doc *settings.Document, name string) {
	// $smart is the client-side alias for the unified endpoint.
	if name == "$smart" {
		name = ""
	}

	if name == "" {
		if !doc.System.Routing.EnableGlobalRoute {
			rt.writeError(w, http.StatusNotFound, "not_found", "global route disabled")
			return
		}
		requestsTotal.WithLabelValues("sse_unified").Inc()
		rt.streamSSE(w, r, rt.upstreamTarget(r.URL), defaultPingIntervalMs)
		return
	}

	if srv, ok := doc.Servers[name]; ok {
		if !srv.Enabled || srv.Transport == settings.TransportStdio {
			rt.writeError(w, http.StatusNotFound, "not_found", "server not routable")
			return
		}
		requestsTotal.WithLabelValues("sse_server").Inc()
		target := vars.Resolve(srv.URL, doc.UserVariables(srv.Owner))
		ping := srv.KeepAliveIntervalMs
		if ping <= 0 {
			ping = defaultPingIntervalMs
		}
		rt.streamSSE(w, r, target, ping)
		return
	}

	if doc.System.Routing.EnableGroupNameRoute && doc.FindGroup(name) != nil {
		requestsTotal.WithLabelValues("sse_group").Inc()
		rt.streamSSE(w, r, rt.upstreamTarget(r.URL), defaultPingIntervalMs)
		return
	}

	rt.writeError(w, http.StatusNotFound, "not_found", "unknown server or group")
}

// upstreamTarget rebases the request URL onto the upstream address.
// Returns "" when no upstream is configured.
func (rt *Router) upstreamTarget(u *url.URL) string {
	if rt.upstream == nil {
		return ""
	}
	target := *rt.upstream
	target.Path = strings.TrimSuffix(target.Path, "/") + u.Path
	target.RawQuery = u.RawQuery
	return target.String()
}

// dispatch forwards a non-SSE request verbatim and relays the response.
// Router CORS headers win over upstream ones.
func (rt *Router) dispatch(w http.ResponseWriter, r *http.Request, target string) {
	if target == "" {
		rt.writeError(w, http.StatusBadGateway, "no_upstream", "no upstream configured")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		rt.writeError(w, http.StatusBadGateway, "bad_upstream", "cannot build upstream request")
		return
	}
	copyHeaders(req.Header, r.Header)

	resp, err := rt.client.Do(req)
	if err != nil {
		upstreamErrors.Inc()
		rt.logger.Warn("upstream dispatch failed", "target", target, "error", err)
		rt.writeError(w, http.StatusBadGateway, "upstream_unreachable", "upstream unreachable")
		return
	}
	defer resp.Body.Close()

	cors := corsSnapshot(w.Header())
	for k, vals := range resp.Header {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	restoreCORS(w.Header(), cors)

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		rt.logger.Debug("response relay interrupted", "error", err)
	}
}

// handleHealth composes the router's own liveness with a bounded probe
// of the upstream's /health. A dead upstream degrades the status rather
// than hanging the request.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	requestsTotal.WithLabelValues("health").Inc()

	body := map[string]any{
		"status": "ok",
		"router": map[string]any{"status": "ok"},
	}
	status := http.StatusOK

	if err := rt.settings.HealthCheck(r.Context()); err != nil {
		body["status"] = "degraded"
		body["settings"] = map[string]any{"status": "unreachable", "error": err.Error()}
		status = http.StatusServiceUnavailable
	} else {
		body["settings"] = map[string]any{"status": "ok"}
	}

	if rt.upstream != nil {
		upstream, ok := rt.probeUpstream(r.Context())
		body["upstream"] = upstream
		if !ok {
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// probeUpstream fetches the upstream /health within the health timeout.
func (rt *Router) probeUpstream(ctx context.Context) (map[string]any, bool) {
	ctx, cancel := context.WithTimeout(ctx, rt.healthTimeout)
	defer cancel()

	target := *rt.upstream
	target.Path = strings.TrimSuffix(target.Path, "/") + "/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return map[string]any{"status": "unreachable", "error": err.Error()}, false
	}
	resp, err := rt.client.Do(req)
	if err != nil {
		upstreamErrors.Inc()
		return map[string]any{"status": "unreachable", "error": err.Error()}, false
	}
	defer resp.Body.Close()

	var parsed map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&parsed); err != nil {
		parsed = map[string]any{"status": "unparseable"}
	}
	return parsed, resp.StatusCode == http.StatusOK
}

// SetCORSHeaders resolves the allowed origin and stamps CORS headers on
// every response. A response without CORS headers is a bug, so even a
// rejected origin gets the allow-list's first entry echoed back. The hub
// API mux applies the same policy to /api responses.
func SetCORSHeaders(w http.ResponseWriter, r *http.Request, allowed []string) {
	w.Header().Set("Access-Control-Allow-Origin", allowOrigin(allowed, r.Header.Get("Origin")))
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Last-Event-ID")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Type")
}

// allowOrigin picks the origin to echo: wildcard if configured, the
// request origin when allow-listed, otherwise the first configured entry.
func allowOrigin(allowed []string, origin string) string {
	if len(allowed) == 0 {
		return "*"
	}
	for _, a := range allowed {
		if a == "*" {
			return "*"
		}
	}
	for _, a := range allowed {
		if a == origin {
			return origin
		}
	}
	return allowed[0]
}

var corsHeaderNames = []string{
	"Access-Control-Allow-Origin",
	"Access-Control-Allow-Methods",
	"Access-Control-Allow-Headers",
	"Access-Control-Expose-Headers",
}

func corsSnapshot(h http.Header) map[string][]string {
	out := make(map[string][]string, len(corsHeaderNames))
	for _, name := range corsHeaderNames {
		out[name] = h.Values(name)
	}
	return out
}

func restoreCORS(h http.Header, snapshot map[string][]string) {
	for name, vals := range snapshot {
		h.Del(name)
		for _, v := range vals {
			h.Add(name, v)
		}
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vals := range src {
		if k == "Host" || isHopByHop(k) {
			continue
		}
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

func (rt *Router) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
