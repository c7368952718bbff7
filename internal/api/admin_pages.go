package api

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/hatemosphere/cms-portal/internal/audit"
	"github.com/hatemosphere/cms-portal/internal/content"
	"github.com/hatemosphere/cms-portal/internal/storage"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temporary files.
const multipartMemory = 8 << 20

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	st, err := s.content.Stats(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.pages.render(w, http.StatusOK, "admin", view{Title: "Admin", Session: currentSession(r), Data: st})
}

func (s *Server) handleAdminPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := s.content.ListPosts(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.pages.render(w, http.StatusOK, "admin_posts", view{Title: "Posts", Session: currentSession(r), Data: posts})
}

// postForm is the post editor state, also used to re-render after a failed save.
type postForm struct {
	ID       string
	Action   string
	Title    string
	Slug     string
	Excerpt  string
	Content  string
	Tags     []storage.Tag
	Selected map[string]bool
	Images   []storage.PostImage
}

func (s *Server) newPostForm(r *http.Request, p *storage.Post) (*postForm, error) {
	tags, err := s.content.ListTags(r.Context())
	if err != nil {
		return nil, err
	}
	f := &postForm{Action: "/admin/posts/new", Tags: tags, Selected: map[string]bool{}}
	if p != nil {
		f.ID = p.ID
		f.Action = "/admin/posts/edit/" + p.ID
		f.Title = p.Title
		f.Slug = p.Slug
		if p.Excerpt != nil {
			f.Excerpt = *p.Excerpt
		}
		f.Content = p.Content
		f.Images = p.Images
		for _, t := range p.Tags {
			f.Selected[t.ID] = true
		}
	}
	return f, nil
}

func (s *Server) handleNewPostForm(w http.ResponseWriter, r *http.Request) {
	f, err := s.newPostForm(r, nil)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.pages.render(w, http.StatusOK, "post_form", view{Title: "New post", Session: currentSession(r), Data: f})
}

func (s *Server) handleEditPostForm(w http.ResponseWriter, r *http.Request) {
	p, err := s.content.Post(r.Context(), r.PathValue("id"))
	if err != nil {
		s.renderFailure(w, r, err)
		return
	}
	f, err := s.newPostForm(r, p)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.pages.render(w, http.StatusOK, "post_form", view{Title: "Edit post", Session: currentSession(r), Data: f})
}

// handlePostAction dispatches POST /admin/posts/edit/{id} and
// POST /admin/posts/{id}/delete.
func (s *Server) handlePostAction(w http.ResponseWriter, r *http.Request) {
	first, second := r.PathValue("first"), r.PathValue("second")
	switch {
	case first == "edit":
		s.savePost(w, r, second)
	case second == "delete":
		s.deletePost(w, r, first)
	default:
		s.handleNotFound(w, r)
	}
}

func (s *Server) handleSavePost(w http.ResponseWriter, r *http.Request) {
	s.savePost(w, r, "")
}

func (s *Server) savePost(w http.ResponseWriter, r *http.Request, id string) {
	if !s.parseMultipart(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck // temp file cleanup

	uploads, closeAll := formUploads(r.MultipartForm, "images")
	defer closeAll()

	in := content.PostInput{
		ID:      id,
		Title:   r.PostFormValue("title"),
		Slug:    r.PostFormValue("slug"),
		Excerpt: r.PostFormValue("excerpt"),
		Content: r.PostFormValue("content"),
		TagIDs:  r.PostForm["tags"],
		Images:  uploads,
	}
	p, err := s.content.SavePost(r.Context(), in)
	if err != nil {
		if id != "" && errors.Is(err, storage.ErrNotFound) {
			s.handleNotFound(w, r)
			return
		}
		var existing *storage.Post
		if id != "" {
			existing, _ = s.content.Post(r.Context(), id)
		}
		f, ferr := s.newPostForm(r, existing)
		if ferr != nil {
			s.renderError(w, r, ferr)
			return
		}
		f.Title, f.Slug, f.Excerpt, f.Content = in.Title, in.Slug, in.Excerpt, in.Content
		f.Selected = map[string]bool{}
		for _, t := range in.TagIDs {
			f.Selected[t] = true
		}
		title := "New post"
		if id != "" {
			title = "Edit post"
		}
		s.formError(w, r, err, "post_form", view{Title: title, Data: f})
		return
	}
	s.auditPage(r, "post.save", p.ID)
	http.Redirect(w, r, "/admin/posts", http.StatusSeeOther)
}

func (s *Server) deletePost(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.content.DeletePost(r.Context(), id); err != nil {
		s.renderFailure(w, r, err)
		return
	}
	s.auditPage(r, "post.delete", id)
	http.Redirect(w, r, "/admin/posts", http.StatusSeeOther)
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	postID, imageID := r.PathValue("id"), r.PathValue("imageID")
	if err := s.content.DeleteImage(r.Context(), imageID); err != nil {
		s.renderFailure(w, r, err)
		return
	}
	s.auditPage(r, "post.image.delete", imageID)
	http.Redirect(w, r, "/admin/posts/edit/"+postID, http.StatusSeeOther)
}

func (s *Server) handleAdminDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.content.ListDocuments(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.pages.render(w, http.StatusOK, "admin_documents", view{Title: "Documents", Session: currentSession(r), Data: docs})
}

type documentForm struct {
	Title       string
	Description string
	Accept      string
}

func newDocumentForm() documentForm {
	return documentForm{Accept: strings.Join(content.DocumentExtensions, ", ")}
}

func (s *Server) handleDocumentForm(w http.ResponseWriter, r *http.Request) {
	s.pages.render(w, http.StatusOK, "document_form", view{Title: "Upload document", Session: currentSession(r), Data: newDocumentForm()})
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if !s.parseMultipart(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck // temp file cleanup

	files, closeAll := formUploads(r.MultipartForm, "file")
	defer closeAll()

	in := content.DocumentInput{
		Title:       r.PostFormValue("title"),
		Description: r.PostFormValue("description"),
		UploadedBy:  currentSession(r).Identity.ID,
	}
	if len(files) > 0 {
		in.File = files[0]
	}
	d, err := s.content.UploadDocument(r.Context(), in)
	if err != nil {
		f := newDocumentForm()
		f.Title, f.Description = in.Title, in.Description
		s.formError(w, r, err, "document_form", view{Title: "Upload document", Data: f})
		return
	}
	s.auditPage(r, "document.upload", d.ID)
	http.Redirect(w, r, "/admin/documents", http.StatusSeeOther)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.content.DeleteDocument(r.Context(), id); err != nil {
		s.renderFailure(w, r, err)
		return
	}
	s.auditPage(r, "document.delete", id)
	http.Redirect(w, r, "/admin/documents", http.StatusSeeOther)
}

type tagsPage struct {
	Tags []storage.Tag
	Name string
	Slug string
}

func (s *Server) renderTags(w http.ResponseWriter, r *http.Request, status int, form tagsPage, msg string) {
	tags, err := s.content.ListTags(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	form.Tags = tags
	s.pages.render(w, status, "admin_tags", view{Title: "Tags", Session: currentSession(r), Error: msg, Data: form})
}

func (s *Server) handleAdminTags(w http.ResponseWriter, r *http.Request) {
	s.renderTags(w, r, http.StatusOK, tagsPage{}, "")
}

func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	in := content.TagInput{Name: r.PostFormValue("name"), Slug: r.PostFormValue("slug")}
	t, err := s.content.CreateTag(r.Context(), in)
	if err != nil {
		s.tagError(w, r, err, tagsPage{Name: in.Name, Slug: in.Slug})
		return
	}
	s.auditPage(r, "tag.create", t.ID)
	http.Redirect(w, r, "/admin/tags", http.StatusSeeOther)
}

func (s *Server) handleUpdateTag(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	in := content.TagInput{Name: r.PostFormValue("name"), Slug: r.PostFormValue("slug")}
	if _, err := s.content.UpdateTag(r.Context(), id, in); err != nil {
		s.tagError(w, r, err, tagsPage{})
		return
	}
	s.auditPage(r, "tag.update", id)
	http.Redirect(w, r, "/admin/tags", http.StatusSeeOther)
}

func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.content.DeleteTag(r.Context(), id); err != nil {
		s.renderFailure(w, r, err)
		return
	}
	s.auditPage(r, "tag.delete", id)
	http.Redirect(w, r, "/admin/tags", http.StatusSeeOther)
}

func (s *Server) tagError(w http.ResponseWriter, r *http.Request, err error, form tagsPage) {
	msg, ok := content.Message(err)
	if !ok {
		s.renderError(w, r, err)
		return
	}
	status, _ := statusFor(err)
	s.renderTags(w, r, status, form, msg)
}

// parseMultipart reads a multipart form bounded by maxUpload. It answers the
// request itself and returns false when the body cannot be parsed.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	err := r.ParseMultipartForm(multipartMemory)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
		return false
	}
	http.Error(w, "invalid form", http.StatusBadRequest)
	return false
}

// formUploads opens the files of a multipart field. The returned func closes
// them all.
func formUploads(form *multipart.Form, field string) ([]content.Upload, func()) {
	var (
		uploads []content.Upload
		files   []multipart.File
	)
	for _, fh := range form.File[field] {
		if fh.Filename == "" {
			continue
		}
		f, err := fh.Open()
		if err != nil {
			continue
		}
		files = append(files, f)
		uploads = append(uploads, content.Upload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		})
	}
	return uploads, func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
}

// auditPage records a successful admin mutation made through the HTML views.
func (s *Server) auditPage(r *http.Request, action, resource string) {
	sess := currentSession(r)
	e := audit.Event{
		Action:   action,
		Status:   "succeeded",
		Resource: resource,
		Method:   r.Method,
		IP:       r.RemoteAddr,
		Channel:  "html",
	}
	if sess.Identity != nil {
		e.Actor = sess.Identity.Email
		e.Role = sess.Role.String()
	}
	e.Info("Audit Log: Admin Change")
}
