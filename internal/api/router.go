package api

import (
	"context"
	stdjson "encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/klauspost/compress/gzhttp"
	"github.com/klauspost/compress/gzip"

	"github.com/hatemosphere/cms-portal/internal/audit"
	"github.com/hatemosphere/cms-portal/internal/auth"
	"github.com/hatemosphere/cms-portal/internal/backup"
	"github.com/hatemosphere/cms-portal/internal/content"
	"github.com/hatemosphere/cms-portal/internal/objectstore"
	"github.com/hatemosphere/cms-portal/internal/session"
)

// TokenAuthority issues and validates API bearer tokens.
type TokenAuthority interface {
	IssueToken(ctx context.Context, email, password string) (string, time.Time, error)
	ValidateToken(ctx context.Context, token string) (*auth.Identity, error)
}

// BackupRunner performs an on-demand database backup.
type BackupRunner interface {
	Run(ctx context.Context) (*backup.Result, error)
}

// Pinger reports whether a dependency is ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves the HTML portal and the JSON API.
type Server struct {
	content     *content.Service
	objects     objectstore.Store
	sessions    *session.Manager
	tokens      TokenAuthority     // nil = JSON API accepts no bearer tokens
	roles       session.RoleLookup // role source for bearer-token requests
	backups     BackupRunner       // nil = on-demand backup disabled
	ready       Pinger
	pendingWait time.Duration
	maxUpload   int64
	cookie      session.CookieOptions

	skipManagementRoutes bool
	humaAPI              huma.API
	pages                *pages
}

// NewServer creates a new server.
func NewServer(svc *content.Service, objects objectstore.Store, sessions *session.Manager, opts ...ServerOption) *Server {
	s := &Server{
		content:     svc,
		objects:     objects,
		sessions:    sessions,
		pendingWait: 2 * time.Second,
		maxUpload:   50 << 20,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pages = newPages(svc.ImageURL)
	return s
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithTokenAuthority enables bearer-token authentication on the JSON API.
func WithTokenAuthority(ta TokenAuthority) ServerOption {
	return func(s *Server) { s.tokens = ta }
}

// WithRoles sets the role lookup used for bearer-token requests.
func WithRoles(roles session.RoleLookup) ServerOption {
	return func(s *Server) { s.roles = roles }
}

// WithBackups enables POST /api/admin/backup.
func WithBackups(b BackupRunner) ServerOption {
	return func(s *Server) { s.backups = b }
}

// WithReadiness sets the dependency checked by /readyz.
func WithReadiness(p Pinger) ServerOption {
	return func(s *Server) { s.ready = p }
}

// WithPendingWait sets how long a gated page waits for the session to settle
// before answering with the waiting page.
func WithPendingWait(d time.Duration) ServerOption {
	return func(s *Server) { s.pendingWait = d }
}

// WithMaxUploadBytes limits multipart request bodies.
func WithMaxUploadBytes(n int64) ServerOption {
	return func(s *Server) { s.maxUpload = n }
}

// WithCookieOptions sets the options used when clearing the client cookie.
func WithCookieOptions(o session.CookieOptions) ServerOption {
	return func(s *Server) { s.cookie = o }
}

// WithSkipManagementRoutes leaves /healthz, /readyz and /metrics to a
// separate management listener.
func WithSkipManagementRoutes() ServerOption {
	return func(s *Server) { s.skipManagementRoutes = true }
}

// humaJSONFormat uses stdlib encoding/json for huma request/response serialization.
var humaJSONFormat = huma.Format{
	Marshal: func(w io.Writer, v any) error {
		return stdjson.NewEncoder(w).Encode(v)
	},
	Unmarshal: stdjson.Unmarshal,
}

// newHumaConfig creates the huma configuration for the API.
func newHumaConfig() huma.Config {
	registry := huma.NewMapRegistry("#/components/schemas/", huma.DefaultSchemaNamer)
	config := huma.Config{
		OpenAPI: &huma.OpenAPI{
			OpenAPI: "3.1.0",
			Info: &huma.Info{
				Title:   "CMS Portal API",
				Version: "1.0.0",
			},
			Components: &huma.Components{
				Schemas: registry,
				SecuritySchemes: map[string]*huma.SecurityScheme{
					bearerScheme: {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
				},
			},
		},
		OpenAPIPath:   "", // Served by getOpenAPISpec.
		DocsPath:      "",
		SchemasPath:   "",
		Formats:       map[string]huma.Format{"application/json": humaJSONFormat, "json": humaJSONFormat},
		DefaultFormat: "application/json",
	}
	// Validation messages come from the content service, not the schema.
	config.FieldsOptionalByDefault = true
	return config
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Router returns the configured HTTP handler with all endpoints.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	api := humago.New(mux, newHumaConfig())
	api.UseMiddleware(metricsHumaMiddleware)
	api.UseMiddleware(s.bearerHumaMiddleware(api))
	api.UseMiddleware(s.gateHumaMiddleware(api))
	api.UseMiddleware(auditHumaMiddleware)
	s.humaAPI = api

	s.registerMeta(api)
	s.registerAuth(api)
	s.registerPosts(api)
	s.registerTags(api)
	s.registerDocuments(api)
	s.registerAdmin(api)

	s.registerWeb(mux)
	if !s.skipManagementRoutes {
		s.registerManagement(mux)
	}

	// HTTP-level middleware (outermost applied last).
	var handler http.Handler = mux
	handler = gzhttp.GzipHandler(handler)
	handler = gzipDecompressor(handler)
	handler = requestLogger(handler)
	handler = recoverer(handler)
	handler = realIP(handler)
	return handler
}

// registerManagement adds probes and metrics to mux.
func (s *Server) registerManagement(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", HealthHandler)
	mux.Handle("GET /readyz", ReadyHandler(s.ready))
	mux.Handle("GET /metrics", MetricsHandler())
}

// HealthHandler always reports ok.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONStatus(w, http.StatusOK, "ok")
}

// ReadyHandler reports whether p answers a ping.
func ReadyHandler(p Pinger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			if err := p.Ping(r.Context()); err != nil {
				slog.Warn("readiness check failed", "error", err)
				writeJSONStatus(w, http.StatusServiceUnavailable, "error")
				return
			}
		}
		writeJSONStatus(w, http.StatusOK, "ok")
	})
}

func writeJSONStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = stdjson.NewEncoder(w).Encode(map[string]string{"status": status})
}

// metricsHumaMiddleware records Prometheus metrics for each huma request using
// the operation path as the route label for clean, low-cardinality metrics.
func metricsHumaMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	next(ctx)
	elapsed := time.Since(start)

	route := ctx.Operation().Path
	status := ctx.Status()
	if status == 0 {
		status = 200
	}

	httpRequestsTotal.WithLabelValues(ctx.Method(), route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(ctx.Method(), route).Observe(elapsed.Seconds())
}

// auditHumaMiddleware logs structured audit entries for state-mutating API
// operations. It runs after the gate, so the identity is known for every
// operation that requires one.
func auditHumaMiddleware(ctx huma.Context, next func(huma.Context)) {
	next(ctx)

	method := ctx.Method()
	if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
		return
	}

	op := ctx.Operation()
	actor := "anonymous"
	role := ""
	if sess, ok := session.FromContext(ctx.Context()); ok && sess.Identity != nil {
		actor = sess.Identity.Email
		role = sess.Role.String()
	}

	status := ctx.Status()
	if status == 0 {
		status = 200
	}

	e := audit.Event{
		Actor:      actor,
		Role:       role,
		Action:     op.OperationID,
		Method:     method,
		Resource:   ctx.Param("id"),
		HTTPStatus: status,
		IP:         ctx.RemoteAddr(),
		Channel:    "api",
	}
	if status >= 400 {
		e.Warn("Audit Log: API Request")
	} else {
		e.Info("Audit Log: API Request")
	}
}

// requestLogger logs each HTTP request with method, path, status, and latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		slog.Info("request", //nolint:gosec // structured logger, not format string
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"latency", time.Since(start),
		)
	})
}

// realIP extracts the real client IP from X-Real-Ip or X-Forwarded-For headers.
func realIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rip := r.Header.Get("X-Real-Ip"); rip != "" {
			r.RemoteAddr = rip
		} else if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if i := strings.IndexByte(xff, ','); i > 0 {
				r.RemoteAddr = strings.TrimSpace(xff[:i])
			} else {
				r.RemoteAddr = xff
			}
		}
		next.ServeHTTP(w, r)
	})
}

// recoverer recovers from panics and returns a 500 Internal Server Error.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				slog.Error("panic recovered", "error", rvr, "method", r.Method, "path", r.URL.Path) //nolint:gosec // structured logger, not format string
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// gzipDecompressor transparently decompresses gzip request bodies.
func gzipDecompressor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") == "gzip" {
			gz, err := gzip.NewReader(r.Body)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_ = stdjson.NewEncoder(w).Encode(map[string]any{
					"code":    http.StatusBadRequest,
					"message": "invalid gzip body",
				})
				return
			}
			r.Body = io.NopCloser(gz)
			r.Header.Del("Content-Encoding")
		}
		next.ServeHTTP(w, r)
	})
}
