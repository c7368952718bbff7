package api

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/hatemosphere/cms-portal/internal/audit"
	"github.com/hatemosphere/cms-portal/internal/content"
	"github.com/hatemosphere/cms-portal/internal/storage"
)

// homePostsLimit is the number of latest posts shown on the home page.
const homePostsLimit = 3

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	posts, err := s.content.ListBlog(r.Context(), content.BlogQuery{})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if len(posts) > homePostsLimit {
		posts = posts[:homePostsLimit]
	}
	s.pages.render(w, http.StatusOK, "home", view{Session: currentSession(r), Data: posts})
}

type blogPage struct {
	Posts []content.BlogPost
	Tags  []storage.Tag
	Query string
	TagID string
}

func (s *Server) handleBlog(w http.ResponseWriter, r *http.Request) {
	q := content.BlogQuery{
		Search: r.URL.Query().Get("q"),
		TagID:  r.URL.Query().Get("tag"),
	}
	posts, err := s.content.ListBlog(r.Context(), q)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	tags, err := s.content.ListTags(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.pages.render(w, http.StatusOK, "blog", view{
		Title:   "Blog",
		Session: currentSession(r),
		Data:    blogPage{Posts: posts, Tags: tags, Query: q.Search, TagID: q.TagID},
	})
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	p, err := s.content.PostBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		s.renderFailure(w, r, err)
		return
	}
	s.pages.render(w, http.StatusOK, "post", view{Title: p.Title, Session: currentSession(r), Data: p})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	docs, err := s.content.ListDocuments(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.pages.render(w, http.StatusOK, "dashboard", view{Title: "Dashboard", Session: currentSession(r), Data: docs})
}

// handleDownload streams a document as an attachment named after its title.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	dl, err := s.content.OpenDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		s.renderFailure(w, r, err)
		return
	}
	defer dl.Close()

	sess := currentSession(r)
	audit.Event{
		Actor:    sess.Identity.Email,
		Role:     sess.Role.String(),
		Action:   "document.download",
		Status:   "succeeded",
		Resource: dl.Document.ID,
		Method:   r.Method,
		IP:       r.RemoteAddr,
		Channel:  "html",
	}.Info("Audit Log: Document Downloaded")

	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename}))
	if dl.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	}
	w.Header().Set("Cache-Control", "private, no-store")
	if _, err := io.Copy(w, dl); err != nil {
		slog.Warn("document download interrupted", "id", dl.Document.ID, "error", err)
	}
}
