package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/hatemosphere/cms-portal/internal/audit"
	"github.com/hatemosphere/cms-portal/internal/identity"
	"github.com/hatemosphere/cms-portal/internal/session"
)

type loginPage struct {
	Email string
	Next  string
}

// handleLoginPage serves the sign-in form. A browser that is already signed
// in goes straight to its destination.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	next := safeNext(r.URL.Query().Get("next"))
	if sess.Identity != nil {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	s.pages.render(w, http.StatusOK, "login", view{
		Title:   "Sign in",
		Session: sess,
		Data:    loginPage{Next: next},
	})
}

// handleLogin signs the browser in. The identity reaches the session store
// through the provider subscription before the redirect is sent.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.Get(w, r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	r = r.WithContext(session.WithSession(session.WithStore(r.Context(), st), st.Snapshot()))

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")
	next := safeNext(r.PostFormValue("next"))

	if email == "" || password == "" {
		s.pages.render(w, http.StatusBadRequest, "login", view{
			Title:   "Sign in",
			Session: currentSession(r),
			Error:   "Email and password are required.",
			Data:    loginPage{Email: email, Next: next},
		})
		return
	}

	if err := st.SignIn(r.Context(), email, password); err != nil {
		if !errors.Is(err, identity.ErrInvalidCredentials) {
			s.renderError(w, r, err)
			return
		}
		audit.Event{
			Actor:   email,
			Action:  "session.sign_in",
			Status:  "failed",
			Reason:  "invalid credentials",
			IP:      r.RemoteAddr,
			Channel: "html",
		}.Warn("Audit Log: Sign-in Failed")
		s.pages.render(w, http.StatusUnauthorized, "login", view{
			Title:   "Sign in",
			Session: currentSession(r),
			Error:   "Invalid email or password.",
			Data:    loginPage{Email: email, Next: next},
		})
		return
	}

	audit.Event{
		Actor:   email,
		Action:  "session.sign_in",
		Status:  "succeeded",
		IP:      r.RemoteAddr,
		Channel: "html",
	}.Info("Audit Log: Signed In")
	http.Redirect(w, r, next, http.StatusSeeOther)
}

// handleLogout signs the browser out and drops its client cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.Get(w, r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	actor := "anonymous"
	if id := st.Snapshot().Identity; id != nil {
		actor = id.Email
	}
	if err := st.SignOut(r.Context()); err != nil {
		s.renderError(w, r, err)
		return
	}
	audit.Event{
		Actor:   actor,
		Action:  "session.sign_out",
		Status:  "succeeded",
		IP:      r.RemoteAddr,
		Channel: "html",
	}.Info("Audit Log: Signed Out")

	session.ClearCookie(w, s.cookie)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
