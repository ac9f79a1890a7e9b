package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/membroker/api/handlers"
	"github.com/BaSui01/membroker/config"
	"github.com/BaSui01/membroker/internal/metrics"
	"github.com/BaSui01/membroker/internal/telemetry"
	"github.com/BaSui01/membroker/types"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so the first one listed is the outermost.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Recovery converts panics into 500 responses.
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered", zap.Any("error", err), zap.String("path", r.URL.Path))
					writeJSONError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID tags each request with an X-Request-ID header and threads the
// id through the context so response envelopes and logs can echo it. A
// client-supplied id is preserved.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = generateRequestID()
			}
			w.Header().Set("X-Request-ID", id)
			ctx := types.WithRequestID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// generateRequestID produces a random hex string suitable for request tracing.
func generateRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "req-" + hex.EncodeToString(b)
}

// SecurityHeaders adds common security response headers to every request.
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("X-XSS-Protection", "1; mode=block")
			w.Header().Set("Content-Security-Policy", "default-src 'self'")
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if id, ok := types.RequestID(r.Context()); ok {
				fields = append(fields, zap.String("request_id", id))
			}
			logger.Info("request", fields...)
		})
	}
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code
// and response body size for metrics recording.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	wroteHeader  bool
	bytesWritten int64
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher.
func (w *metricsResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// MetricsMiddleware records HTTP request duration, status, and sizes via
// the provided metrics.Collector. Path labels are normalized to keep
// Prometheus label cardinality bounded (e.g. "/api/v1/memory/<entry id>"
// becomes "/api/v1/memory/:id").
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			mrw := &metricsResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(mrw, r)

			duration := time.Since(start)
			path := normalizePath(r.URL.Path)
			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}

			collector.RecordHTTPRequest(
				r.Method,
				path,
				mrw.statusCode,
				duration,
				requestSize,
				mrw.bytesWritten,
			)
		})
	}
}

// pathSegmentPattern matches path segments that look like dynamic
// identifiers: memory entry ids (<category>_<date>_<time>_<hash> with an
// optional owner suffix), UUIDs, hex strings (8+ chars), or numeric ids.
var pathSegmentPattern = regexp.MustCompile(
	`^[a-z][a-z-]*_[0-9]{8}_[0-9]{6}_[0-9a-f]{8}(_.+)?$` +
		`|^[0-9a-fA-F]{8,}(-[0-9a-fA-F]{4,}){0,4}$` +
		`|^[0-9]+$`,
)

// normalizePath replaces dynamic path segments with ":id". For example:
//
//	/api/v1/memory/user-interaction_20250101_120000_ab12cd34 -> /api/v1/memory/:id
//	/api/v1/agents/agent-7/memory                            -> /api/v1/agents/:id/memory
//	/api/v1/memory/query                                     -> /api/v1/memory/query (unchanged)
func normalizePath(path string) string {
	// Fast path for known static routes
	switch path {
	case "/health", "/healthz", "/ready", "/readyz", "/version", "/metrics",
		"/api/v1/memory", "/api/v1/memory/query", "/api/v1/analytics/memory",
		"/api/v1/status", "/api/v1/maintenance/run",
		"/api/v1/config", "/api/v1/config/reload",
		"/api/v1/config/fields", "/api/v1/config/changes", "/api/v1/config/rollback":
		return path
	}

	segments := strings.Split(path, "/")
	normalized := false
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		// Agent ids are free-form, but always sit right after "agents".
		if i > 0 && segments[i-1] == "agents" {
			segments[i] = ":id"
			normalized = true
			continue
		}
		if pathSegmentPattern.MatchString(seg) {
			segments[i] = ":id"
			normalized = true
		}
	}
	if !normalized {
		return path
	}
	return strings.Join(segments, "/")
}

// OTelTracing creates a span for each HTTP request using the global OTel
// tracer and records the request metric instruments. It extracts incoming
// trace context from request headers and records standard HTTP semantic
// convention attributes on the span. instruments may be nil.
func OTelTracing(instruments *telemetry.RequestInstruments) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			propagator := otel.GetTextMapPropagator()
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			tracer := otel.Tracer("membroker/http")
			spanName := r.Method + " " + r.URL.Path
			ctx, span := tracer.Start(ctx, spanName,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLFull(r.URL.String()),
				),
			)
			defer span.End()

			start := time.Now()
			instruments.Begin(ctx)

			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			instruments.End(ctx, r.Method, normalizePath(r.URL.Path), rw.StatusCode, time.Since(start))
			span.SetAttributes(
				attribute.Int("http.response.status_code", rw.StatusCode),
			)
		})
	}
}

// IPRateLimiter applies a token bucket per client IP. Update retunes the
// buckets in place when the rate limit fields are hot reloaded.
type IPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*ipVisitor
	limit    rate.Limit
	burst    int
	logger   *zap.Logger
}

type ipVisitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a limiter and starts a janitor goroutine,
// bound to ctx, that drops visitors idle for more than a few minutes.
func NewIPRateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) *IPRateLimiter {
	l := &IPRateLimiter{
		visitors: make(map[string]*ipVisitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		logger:   logger,
	}
	go l.janitor(ctx)
	return l
}

func (l *IPRateLimiter) janitor(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			for ip, v := range l.visitors {
				if time.Since(v.lastSeen) > 3*time.Minute {
					delete(l.visitors, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Update retunes the limiter. Existing visitors pick up the new rate
// immediately; their accumulated tokens are preserved.
func (l *IPRateLimiter) Update(rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = rate.Limit(rps)
	l.burst = burst
	for _, v := range l.visitors {
		v.limiter.SetLimit(l.limit)
		v.limiter.SetBurst(burst)
	}
}

// Allow reports whether a request from ip may proceed.
func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	v, exists := l.visitors[ip]
	if !exists {
		v = &ipVisitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	l.mu.Unlock()
	return v.limiter.Allow()
}

// Middleware returns the HTTP middleware enforcing the per-IP limit.
func (l *IPRateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !l.Allow(ip) {
				writeJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// JWTAuth validates HS256 bearer tokens from the Authorization header and
// injects the subject claim into the request context as the calling agent
// id. skipPaths are exempt (health endpoints and scrapers).
func JWTAuth(cfg config.AuthConfig, skipPaths []string, logger *zap.Logger) Middleware {
	skipSet := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skipSet[p] = struct{}{}
	}

	secret := []byte(cfg.JWTSecret)
	keyFunc := func(token *jwt.Token) (any, error) {
		if len(secret) == 0 {
			return nil, fmt.Errorf("JWT secret not configured")
		}
		return secret, nil
	}
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := skipSet[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeJSONError(w, http.StatusUnauthorized, "AUTHENTICATION", "missing or malformed Authorization header")
				return
			}
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

			token, err := jwt.Parse(tokenStr, keyFunc, parserOpts...)
			if err != nil {
				logger.Debug("JWT validation failed", zap.Error(err))
				writeJSONError(w, http.StatusUnauthorized, "AUTHENTICATION", "invalid or expired token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || !token.Valid {
				writeJSONError(w, http.StatusUnauthorized, "AUTHENTICATION", "invalid token claims")
				return
			}

			// TokenTTL caps token age regardless of how far out the exp
			// claim reaches.
			if cfg.TokenTTL > 0 {
				iat, err := claims.GetIssuedAt()
				if err != nil || iat == nil {
					writeJSONError(w, http.StatusUnauthorized, "AUTHENTICATION", "token missing issued-at claim")
					return
				}
				if time.Since(iat.Time) > cfg.TokenTTL {
					writeJSONError(w, http.StatusUnauthorized, "AUTHENTICATION", "token exceeded maximum age")
					return
				}
			}

			// The subject names the calling agent; handlers use it as the
			// default owner for stored entries.
			ctx := r.Context()
			if sub, _ := claims.GetSubject(); sub != "" {
				ctx = types.WithAgentID(ctx, sub)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeJSONError writes an error envelope without going through the
// handler helpers; middleware rejections carry codes the broker error
// taxonomy does not model.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"success":false,"error":{"code":%q,"message":%q}}`, code, message)
}
