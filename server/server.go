package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/crypto/bcrypt"

	obo "github.com/giantswarm/obo-broker"
	"github.com/giantswarm/obo-broker/datatool"
	"github.com/giantswarm/obo-broker/instrumentation"
	"github.com/giantswarm/obo-broker/security"
)

// RateLimitConfig holds per-IP rate limiting configuration.
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool
}

// Config holds the HTTP server configuration.
type Config struct {
	// Tool executes container queries on behalf of callers (required).
	Tool *datatool.Tool

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// Instrumentation records HTTP metrics (optional).
	Instrumentation *instrumentation.Instrumentation

	// RateLimit configures per-IP limiting. Zero Rate disables it.
	RateLimit RateLimitConfig

	// APIKeyHash is an optional bcrypt hash of a shared API key. When set,
	// callers must present the key in X-API-Key. The plaintext key is
	// never stored by the server.
	APIKeyHash string

	// Auditor records security events (optional).
	Auditor *security.Auditor
}

// Server is the HTTP surface for the query tool. It is thin glue: every
// request is authenticated and executed by the broker stack, and the
// server's own job is status mapping, rate limiting, and correlation.
type Server struct {
	tool       *datatool.Tool
	logger     *slog.Logger
	metrics    *instrumentation.Metrics
	limiter    *security.RateLimiter
	auditor    *security.Auditor
	trustProxy bool
	apiKeyHash []byte
}

// New creates a Server from the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Tool == nil {
		return nil, errors.New("tool is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		tool:       cfg.Tool,
		logger:     logger,
		auditor:    cfg.Auditor,
		trustProxy: cfg.RateLimit.TrustProxy,
	}
	if cfg.Instrumentation != nil {
		s.metrics = cfg.Instrumentation.Metrics()
	}
	if cfg.RateLimit.Rate > 0 {
		s.limiter = security.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, logger)
	}
	if cfg.APIKeyHash != "" {
		s.apiKeyHash = []byte(cfg.APIKeyHash)
	}

	return s, nil
}

// Close releases server resources (the rate limiter's cleanup goroutine).
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// Router builds the chi router with the full middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(security.RequestIDMiddleware)
	r.Use(security.SecurityHeadersMiddleware)
	r.Use(s.observe)
	if s.limiter != nil {
		r.Use(s.rateLimit)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/query", s.handleQuery)

	return r
}

// queryPayload is the request body for POST /query.
type queryPayload struct {
	Container string `json:"container"`
	Query     string `json:"query,omitempty"`
}

// handleQuery runs a container query on behalf of the caller identified by
// the Authorization header.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	requestID := security.GetRequestID(r.Context())
	logger := s.logger.With("request_id", requestID)

	if !s.apiKeyAllowed(r) {
		writeError(w, http.StatusUnauthorized, "Unauthorized: invalid API key")
		return
	}

	authorization := r.Header.Get("Authorization")
	if authorization == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized: Authorization header required")
		return
	}

	var payload queryPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Bad request: invalid JSON body")
		return
	}

	result, err := s.tool.QueryData(r.Context(), authorization, payload.Container, payload.Query)
	if err != nil {
		s.writeToolError(w, logger, r, requestID, err)
		return
	}

	ip := security.ClientIP(r, s.trustProxy)
	switch result.Kind {
	case datatool.KindUnauthenticated:
		s.auditor.LogTokenRejected(ip, requestID)
	default:
		s.auditor.LogContainerQuery("", ip, requestID, payload.Container, string(result.Kind))
	}

	writeJSON(w, statusForKind(result.Kind), result)
}

// writeToolError maps the broker's typed errors onto response codes:
// identity-provider outages are the server's problem (5xx), rejected
// exchanges are the caller's (401/403). Internal detail stays in the log.
func (s *Server) writeToolError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, requestID string, err error) {
	switch {
	case obo.IsInfraError(err):
		logger.Error("identity provider unavailable", "err", err)
		writeError(w, http.StatusBadGateway, "Service unavailable: identity provider unreachable")
	case obo.IsExchangeError(err):
		var oboErr *obo.OboTokenError
		errors.As(err, &oboErr)
		logger.Warn("OBO exchange rejected", "code", oboErr.Code)
		s.auditor.LogDelegationRejected(security.ClientIP(r, s.trustProxy), requestID, oboErr.Code)
		writeError(w, statusForExchangeError(oboErr), "Unauthorized: could not obtain delegated access")
	default:
		logger.Error("query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

// statusForExchangeError distinguishes "the user has not consented to the
// downstream resource" (403) from every other rejected assertion (401).
func statusForExchangeError(err *obo.OboTokenError) int {
	if err.Code == "invalid_grant" || strings.Contains(strings.ToLower(err.Description), "consent") {
		return http.StatusForbidden
	}
	return http.StatusUnauthorized
}

// statusForKind maps a structured result kind to an HTTP status.
func statusForKind(kind datatool.ResultKind) int {
	switch kind {
	case datatool.KindOK:
		return http.StatusOK
	case datatool.KindInvalidContainer:
		return http.StatusBadRequest
	case datatool.KindUnauthenticated, datatool.KindUnauthorized:
		return http.StatusUnauthorized
	case datatool.KindForbidden:
		return http.StatusForbidden
	case datatool.KindNotFound:
		return http.StatusNotFound
	case datatool.KindTimeout:
		return http.StatusGatewayTimeout
	case datatool.KindConnectionError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// apiKeyAllowed verifies the optional shared API key. The server holds only
// a bcrypt hash; comparison cost also damps brute-force attempts.
func (s *Server) apiKeyAllowed(r *http.Request) bool {
	if len(s.apiKeyHash) == 0 {
		return true
	}
	key := r.Header.Get("X-API-Key")
	if key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(s.apiKeyHash, []byte(key)) == nil
}

// rateLimit enforces the per-IP limit.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := security.ClientIP(r, s.trustProxy)
		if !s.limiter.Allow(ip) {
			if s.metrics != nil {
				s.metrics.RateLimitExceeded.Add(r.Context(), 1)
			}
			s.logger.Warn("rate limit exceeded", "ip", ip)
			s.auditor.LogRateLimitExceeded(ip, security.GetRequestID(r.Context()))
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// observe records request count and latency per route and status.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		elapsed := float64(time.Since(start).Microseconds()) / 1000.0

		attrs := metric.WithAttributes(
			attribute.String(instrumentation.AttrHTTPMethod, r.Method),
			attribute.String(instrumentation.AttrHTTPEndpoint, r.URL.Path),
			attribute.String(instrumentation.AttrHTTPStatusCode, strconv.Itoa(ww.Status())),
		)
		s.metrics.HTTPRequestsTotal.Add(r.Context(), 1, attrs)
		s.metrics.HTTPRequestDuration.Record(r.Context(), elapsed, attrs)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

