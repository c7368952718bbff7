package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hatemosphere/cms-portal/internal/audit"
	"github.com/hatemosphere/cms-portal/internal/content"
	"github.com/hatemosphere/cms-portal/internal/gate"
	"github.com/hatemosphere/cms-portal/internal/objectstore"
	"github.com/hatemosphere/cms-portal/internal/session"
	"github.com/hatemosphere/cms-portal/internal/storage"
)

// registerWeb registers the HTML views on the raw mux. Views fetch their own
// data; the routing layer only resolves the session and applies the gate.
func (s *Server) registerWeb(mux *http.ServeMux) {
	page := func(pattern, route string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, instrument(route, h))
	}
	identity := func(h http.HandlerFunc) http.HandlerFunc { return s.guard(gate.RequireIdentity, h) }
	admin := func(h http.HandlerFunc) http.HandlerFunc { return s.guard(gate.RequireAdmin, h) }

	page("GET /{$}", "/", s.public(s.handleHome))
	page("GET /blog", "/blog", s.public(s.handleBlog))
	page("GET /blog/{slug}", "/blog/{slug}", s.public(s.handlePost))
	page("GET /login", "/login", s.public(s.handleLoginPage))
	page("POST /login", "/login", s.handleLogin)
	page("POST /logout", "/logout", s.handleLogout)

	page("GET /dashboard", "/dashboard", identity(s.handleDashboard))
	page("GET /dashboard/documents/{id}/download", "/dashboard/documents/{id}/download", identity(s.handleDownload))

	page("GET /admin", "/admin", admin(s.handleAdmin))
	page("GET /admin/posts", "/admin/posts", admin(s.handleAdminPosts))
	page("GET /admin/posts/new", "/admin/posts/new", admin(s.handleNewPostForm))
	page("POST /admin/posts/new", "/admin/posts/new", admin(s.handleSavePost))
	page("GET /admin/posts/edit/{id}", "/admin/posts/edit/{id}", admin(s.handleEditPostForm))
	// Covers POST /admin/posts/edit/{id} and POST /admin/posts/{id}/delete,
	// which ServeMux cannot register side by side.
	page("POST /admin/posts/{first}/{second}", "/admin/posts/{first}/{second}", admin(s.handlePostAction))
	page("POST /admin/posts/{id}/images/{imageID}/delete", "/admin/posts/{id}/images/{imageID}/delete", admin(s.handleDeleteImage))
	page("GET /admin/documents", "/admin/documents", admin(s.handleAdminDocuments))
	page("GET /admin/documents/new", "/admin/documents/new", admin(s.handleDocumentForm))
	page("POST /admin/documents/new", "/admin/documents/new", admin(s.handleUploadDocument))
	page("POST /admin/documents/{id}/delete", "/admin/documents/{id}/delete", admin(s.handleDeleteDocument))
	page("GET /admin/tags", "/admin/tags", admin(s.handleAdminTags))
	page("POST /admin/tags", "/admin/tags", admin(s.handleCreateTag))
	page("POST /admin/tags/{id}", "/admin/tags/{id}", admin(s.handleUpdateTag))
	page("POST /admin/tags/{id}/delete", "/admin/tags/{id}/delete", admin(s.handleDeleteTag))

	page("GET /media/{bucket}/{key...}", "/media/{bucket}", s.handleMedia)
	page("/", "unmatched", s.handleNotFound)
}

// public attaches the current session snapshot, for the navigation bar only.
// It never waits for the session to settle.
func (s *Server) public(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.sessions.Get(w, r)
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		ctx := session.WithSession(session.WithStore(r.Context(), st), st.Snapshot())
		next(w, r.WithContext(ctx))
	}
}

// guard resolves the browser session and applies req. The session gets up to
// pendingWait to settle; after that a Pending session gets the waiting page.
func (s *Server) guard(req gate.Requirement, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.sessions.Get(w, r)
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		if err := st.Refresh(r.Context()); err != nil {
			slog.Warn("session refresh failed", "error", err)
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.pendingWait)
		sess, _ := st.Wait(ctx)
		cancel()

		state := gate.Evaluate(sess, req)
		gateDecisionsTotal.WithLabelValues("html", req.String(), state.String()).Inc()

		switch state {
		case gate.Authorized:
			ctx := session.WithSession(session.WithStore(r.Context(), st), sess)
			next(w, r.WithContext(ctx))
		case gate.Unauthenticated:
			http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
		case gate.Forbidden:
			audit.Event{
				Actor:      sess.Identity.Email,
				Role:       sess.Role.String(),
				Action:     "page.view",
				Status:     "denied",
				Resource:   r.URL.Path,
				Method:     r.Method,
				HTTPStatus: http.StatusForbidden,
				Reason:     "requires " + req.String(),
				IP:         r.RemoteAddr,
				Channel:    "html",
			}.Warn("Audit Log: Access Denied")
			s.pages.render(w, http.StatusForbidden, "forbidden", view{Title: "Access denied", Session: sess})
		default:
			w.Header().Set("Retry-After", "1")
			refresh := r.Method == http.MethodGet || r.Method == http.MethodHead
			s.pages.render(w, http.StatusOK, "pending", view{Title: "Loading", Data: refresh})
		}
	}
}

// currentSession returns the session attached by public or guard.
func currentSession(r *http.Request) session.Session {
	sess, _ := session.FromContext(r.Context())
	return sess
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/dashboard"
	}
	return next
}

// renderFailure shows the error page matching err: 404 for missing records,
// 500 otherwise.
func (s *Server) renderFailure(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.handleNotFound(w, r)
		return
	}
	s.renderError(w, r, err)
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("page failed", "method", r.Method, "path", r.URL.Path, "error", err) //nolint:gosec // structured logger, not format string
	s.pages.render(w, http.StatusInternalServerError, "error", view{Title: "Error", Session: currentSession(r)})
}

// handleNotFound answers unmatched paths: JSON under /api/, HTML elsewhere.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":404,"message":"not found"}`+"\n")
		return
	}
	s.pages.render(w, http.StatusNotFound, "notfound", view{Title: "Not found", Session: currentSession(r)})
}

// formError re-renders a form with the user-facing message of err, or fails
// the request when err carries none.
func (s *Server) formError(w http.ResponseWriter, r *http.Request, err error, page string, v view) {
	msg, ok := content.Message(err)
	if !ok {
		s.renderError(w, r, err)
		return
	}
	status, _ := statusFor(err)
	v.Session = currentSession(r)
	v.Error = msg
	s.pages.render(w, status, page, v)
}

// handleMedia serves objects from public buckets. Private buckets are only
// reachable through their gated views.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	bucket, key := r.PathValue("bucket"), r.PathValue("key")
	if !objectstore.IsPublic(bucket) || objectstore.ValidateKey(bucket, key) != nil {
		s.handleNotFound(w, r)
		return
	}
	rc, obj, err := s.objects.Download(r.Context(), bucket, key)
	if errors.Is(err, objectstore.ErrNotFound) {
		s.handleNotFound(w, r)
		return
	}
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	defer rc.Close()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	if obj.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if _, err := io.Copy(w, rc); err != nil {
		slog.Debug("media copy interrupted", "key", key, "error", err)
	}
}
