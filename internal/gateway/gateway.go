// Package gateway is the public HTTP surface: it authenticates a tenant,
// resolves its backend container via the Lifecycle Controller, and
// reverse-proxies the request into it (spec.md §4.7).
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"mcpgateway/internal/credential"
	"mcpgateway/internal/lifecycle"
	"mcpgateway/internal/metrics"
	"mcpgateway/internal/registry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// forwardedHeaders is the whitelist copied onto the proxied request
// (spec.md §4.7); everything else — notably the tenant's own credential
// header — is dropped before it reaches the backend container.
var forwardedHeaders = []string{"Content-Type", "Authorization", "User-Agent"}

// ProxyTimeout bounds a proxied request's round trip (spec.md §6).
const ProxyTimeout = 90 * time.Second

// Config names the header carrying the tenant credential.
type Config struct {
	CredentialHeader string // default "X-Outline-API-Key"
}

func (c Config) withDefaults() Config {
	if c.CredentialHeader == "" {
		c.CredentialHeader = "X-Outline-API-Key"
	}
	return c
}

// Gateway is the Request Gateway.
type Gateway struct {
	oracle     credential.Oracle
	controller *lifecycle.Controller
	registry   *registry.Registry
	cfg        Config
	tracer     trace.Tracer
	now        func() time.Time
	metrics    *metrics.Metrics
}

// New constructs a Gateway's http.Handler wiring. m may be nil, in which
// case metrics are skipped.
func New(oracle credential.Oracle, controller *lifecycle.Controller, reg *registry.Registry, cfg Config, m *metrics.Metrics) *Gateway {
	return &Gateway{
		oracle:     oracle,
		controller: controller,
		registry:   reg,
		cfg:        cfg.withDefaults(),
		tracer:     otel.Tracer("mcpgateway/gateway"),
		now:        time.Now,
		metrics:    m,
	}
}

// Handler builds the routed http.Handler: /health and /stats bypass
// credential validation and Resolve entirely (spec.md §4.7); everything
// else is proxied to the tenant's container.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /stats", g.handleStats)
	mux.HandleFunc("/", g.handleProxy)
	return mux
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := g.registry.Snapshot()
	type tenantStat struct {
		Fingerprint string `json:"fingerprint"`
		Status      string `json:"status"`
		HostPort    int    `json:"host_port"`
		LastUsedAt  string `json:"last_used_at"`
	}
	stats := make([]tenantStat, 0, len(snap))
	for _, rec := range snap {
		stats = append(stats, tenantStat{
			Fingerprint: string(rec.Fingerprint),
			Status:      string(rec.Status),
			HostPort:    rec.HostPort,
			LastUsedAt:  rec.LastUsedAt.UTC().Format(time.RFC3339),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"tenant_count": len(snap),
		"tenants":      stats,
	})
}

func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	ctx, span := g.tracer.Start(r.Context(), "gateway.Proxy")
	defer span.End()

	token := extractToken(r, g.cfg.CredentialHeader)
	if token == "" {
		g.writeError(w, errMissingCredentials)
		return
	}

	switch g.oracle.Validate(ctx, token) {
	case credential.Invalid, credential.Unavailable:
		g.writeError(w, errInvalidCredentials)
		return
	}

	start := g.now()
	resolved, err := g.controller.Resolve(ctx, token)
	if g.metrics != nil {
		g.metrics.ResolveDuration.Observe(g.now().Sub(start).Seconds())
	}
	if err != nil {
		slog.Error("resolve failed", "component", "gateway", "err", err)
		if g.metrics != nil {
			g.metrics.ResolveTotal.WithLabelValues("error").Inc()
		}
		g.writeError(w, err)
		return
	}
	if g.metrics != nil {
		g.metrics.ResolveTotal.WithLabelValues("ok").Inc()
	}

	target := &url.URL{Scheme: "http", Host: "localhost:" + strconv.Itoa(resolved.Port)}
	proxy := httputil.NewSingleHostReverseProxy(target)
	baseDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		baseDirector(req)
		if req.URL.Path == "/" {
			req.URL.Path = "/mcp"
		}
		stripHeaders(req, forwardedHeaders, g.cfg.CredentialHeader)
		req.Header.Set("Accept", "application/json, text/event-stream")
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		slog.Error("upstream proxy error", "component", "gateway", "container", resolved.ContainerName, "err", err)
		if errors.Is(err, context.DeadlineExceeded) {
			g.writeError(w, errors.Join(errUpstreamTimeoutTag, err))
			return
		}
		g.writeError(w, errUpstreamUnreachable(err))
	}

	ctx, cancel := context.WithTimeout(ctx, ProxyTimeout)
	defer cancel()

	if g.metrics == nil {
		proxy.ServeHTTP(w, r.WithContext(ctx))
		return
	}
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	proxy.ServeHTTP(rec, r.WithContext(ctx))
	g.metrics.ProxyRequestsTotal.WithLabelValues(statusClass(rec.status)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func extractToken(r *http.Request, header string) string {
	return r.Header.Get(header)
}

// stripHeaders rewrites req's headers to only the whitelisted set, then
// removes credentialHeader from what survives — the tenant container
// receives its credential through its environment, never through the
// header the client used to reach the gateway, even when that header
// name is itself on the whitelist (e.g. configured as "Authorization").
func stripHeaders(req *http.Request, allow []string, credentialHeader string) {
	kept := make(http.Header, len(allow))
	for _, h := range allow {
		if v := req.Header.Values(h); len(v) > 0 {
			kept[h] = v
		}
	}
	kept.Del(credentialHeader)
	req.Header = kept
}

func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{
		Error:      msg,
		StatusCode: status,
		Timestamp:  g.now().UTC().Format(time.RFC3339),
	})
}

func errUpstreamUnreachable(err error) error {
	return errors.Join(errUpstreamTag, err)
}
