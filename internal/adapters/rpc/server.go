package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"provenance/go-backend/internal/domains/contracts"
	"provenance/go-backend/internal/platform/privacylog"
	"provenance/go-backend/internal/platform/ratelimiter"
)

const (
	DefaultListenAddr     = "127.0.0.1:8787"
	defaultRequestTimeout = 15 * time.Second
	defaultRateLimitRPS   = 30
	defaultRateLimitBurst = 60
)

type ServerConfig struct {
	// ListenAddr is host:port or a multiaddr such as /ip4/127.0.0.1/tcp/8787.
	ListenAddr     string
	Token          string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
	RequestTimeout time.Duration
	// Metrics, when set, receives the server collectors and is exposed on
	// /metrics.
	Metrics *prometheus.Registry
	// Health adds details to the /healthz response.
	Health func(ctx context.Context) (any, error)
}

// Server exposes a registry and content store over JSON-RPC 2.0 on /rpc and
// serves stored blobs on /ipfs/<cid>.
type Server struct {
	httpServer *http.Server
	listenAddr string
	registry   contracts.Registry
	store      contracts.ContentStore
	token      string
	limiter    *ratelimiter.MapLimiter
	maxBody    int64
	timeout    time.Duration
	health     func(ctx context.Context) (any, error)
	requests   *prometheus.CounterVec
	logger     *slog.Logger
}

func NewServer(cfg ServerConfig, registry contracts.Registry, store contracts.ContentStore, logger *slog.Logger) (*Server, error) {
	if registry == nil {
		return nil, errors.New("rpc server requires a registry")
	}
	if logger == nil {
		logger = slog.Default()
	}
	addr, err := ParseListenAddr(cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	if cfg.RateLimitRPS == 0 && cfg.RateLimitBurst == 0 {
		cfg.RateLimitRPS, cfg.RateLimitBurst = defaultRateLimitRPS, defaultRateLimitBurst
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = maxRPCBodyBytes
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listenAddr: addr,
		registry:   registry,
		store:      store,
		token:      strings.TrimSpace(cfg.Token),
		limiter:    ratelimiter.New(cfg.RateLimitRPS, cfg.RateLimitBurst, 0),
		maxBody:    cfg.MaxBodyBytes,
		timeout:    cfg.RequestTimeout,
		health:     cfg.Health,
		logger:     logger,
	}
	if s.token == "" {
		logger.Warn("rpc token is not set; RPC auth disabled")
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/ipfs/", s.handleBlob)
	if cfg.Metrics != nil {
		s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "provenance",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "JSON-RPC requests by method and result code.",
		}, []string{"method", "code"})
		cfg.Metrics.MustRegister(s.requests)
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))
	}
	return s, nil
}

// Handler exposes the routing table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) ListenAddr() string {
	return s.listenAddr
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	default:
	}
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return err
	}
	s.logger.Info("rpc server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body := map[string]any{"status": "ok"}
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		details, err := s.health(ctx)
		if err != nil {
			s.logger.Error("health check failed", "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "degraded"})
			return
		}
		body["details"] = details
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.allow(w, r) {
		return
	}
	if s.store == nil {
		http.Error(w, "content store is not configured", http.StatusNotFound)
		return
	}
	cid := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/ipfs/"))
	if cid == "" || strings.Contains(cid, "/") {
		http.Error(w, "invalid content id", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	data, err := s.store.Get(ctx, "ipfs://"+cid)
	switch {
	case err == nil:
	case errors.Is(err, contracts.ErrContentNotFound):
		http.Error(w, "content not found", http.StatusNotFound)
		return
	case errors.Is(err, contracts.ErrMalformedLocator):
		http.Error(w, "invalid content id", http.StatusBadRequest)
		return
	case errors.Is(err, contracts.ErrContentCorrupted):
		s.logger.Error("stored blob is corrupted", "cid", cid, "error", err)
		http.Error(w, "stored content is corrupted", http.StatusInternalServerError)
		return
	case contracts.Retryable(err):
		s.logger.Error("blob read failed", "cid", cid, "error", err)
		http.Error(w, "content store unavailable", http.StatusServiceUnavailable)
		return
	default:
		s.logger.Error("blob read failed", "cid", cid, "error", err)
		http.Error(w, "content store error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	_, _ = w.Write(data)
}

// allow applies auth and the per-client rate limit.
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	token := extractToken(r)
	if s.token != "" && token != s.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	if !s.limiter.Allow(rateLimitKey(r, token), time.Now()) {
		s.logger.Warn("rpc rate limited", privacylog.SanitizeArgs("remote_addr", r.RemoteAddr)...)
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return false
	}
	return true
}

func extractToken(r *http.Request) string {
	token := strings.TrimSpace(r.Header.Get(tokenHeader))
	if token != "" {
		return token
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return ""
}

func rateLimitKey(r *http.Request, token string) string {
	if token != "" {
		return "token:" + token
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return "ip:unknown"
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return "ip:" + remote
	}
	if strings.TrimSpace(host) == "" {
		return "ip:unknown"
	}
	return "ip:" + host
}
