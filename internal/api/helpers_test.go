package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hatemosphere/cms-portal/internal/auth"
	"github.com/hatemosphere/cms-portal/internal/content"
	"github.com/hatemosphere/cms-portal/internal/identity"
	"github.com/hatemosphere/cms-portal/internal/objectstore"
	"github.com/hatemosphere/cms-portal/internal/session"
	"github.com/hatemosphere/cms-portal/internal/storage"
)

const (
	memberEmail   = "member@example.com"
	adminEmail    = "admin@example.com"
	testPassword  = "correct horse battery staple"
	testJWTSecret = "test-secret"
)

// testPortal holds a running portal for end-to-end tests.
type testPortal struct {
	URL      string
	store    *storage.SQLiteStore
	objects  *objectstore.FSStore
	sessions *session.Manager
}

type portalConfig struct {
	roles      session.RoleLookup // page-side role source; nil = the profiles table
	serverOpts []ServerOption
}

func startPortal(t *testing.T) *testPortal {
	t.Helper()
	return startPortalWithConfig(t, portalConfig{})
}

func startPortalWithConfig(t *testing.T, cfg portalConfig) *testPortal {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	objects, err := objectstore.NewFSStore(filepath.Join(dir, "objects"), "/media")
	require.NoError(t, err)

	seedUser(t, store, "u-member", memberEmail, auth.RoleMember)
	seedUser(t, store, "u-admin", adminEmail, auth.RoleAdmin)

	tokens, err := auth.NewTokenIssuer(auth.JWTConfig{SigningKey: testJWTSecret, Issuer: "cms-portal"})
	require.NoError(t, err)
	provider := identity.NewProvider(store, tokens, identity.Config{SessionTTL: time.Hour})
	resolver := auth.NewRoleResolver(store)

	roles := cfg.roles
	if roles == nil {
		roles = resolver
	}
	sessions := session.NewManager(func(tok string) session.IdentityProvider {
		return provider.NewClient(tok)
	}, roles, session.ManagerConfig{})

	opts := append([]ServerOption{
		WithTokenAuthority(provider),
		WithRoles(resolver),
		WithReadiness(store),
		WithPendingWait(time.Second),
	}, cfg.serverOpts...)
	srv := NewServer(content.NewService(store, objects), objects, sessions, opts...)
	ts := httptest.NewServer(srv.Router())

	t.Cleanup(func() {
		ts.Close()
		sessions.Close()
		_ = store.Close()
	})
	return &testPortal{URL: ts.URL, store: store, objects: objects, sessions: sessions}
}

func seedUser(t *testing.T, store *storage.SQLiteStore, id, email string, role auth.Role) {
	t.Helper()
	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, &storage.User{ID: id, Email: email, PasswordHash: hash, CreatedAt: time.Now()}))
	require.NoError(t, store.SetRole(ctx, id, string(role)))
}

// browser returns a cookie-keeping client that does not follow redirects.
func (tp *testPortal) browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

type response struct {
	Code   int
	Header http.Header
	Body   string
}

func do(t *testing.T, c *http.Client, req *http.Request) response {
	t.Helper()
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return response{Code: resp.StatusCode, Header: resp.Header, Body: string(body)}
}

func (tp *testPortal) get(t *testing.T, c *http.Client, path string) response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, tp.URL+path, nil)
	require.NoError(t, err)
	return do(t, c, req)
}

func (tp *testPortal) postForm(t *testing.T, c *http.Client, path string, form url.Values) response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, tp.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(t, c, req)
}

// formFile is one file part of a multipart request.
type formFile struct {
	field, name, contentType string
	data                     []byte
}

func (tp *testPortal) postMultipart(t *testing.T, c *http.Client, path string, fields url.Values, files ...formFile) response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, vs := range fields {
		for _, v := range vs {
			require.NoError(t, mw.WriteField(k, v))
		}
	}
	for _, f := range files {
		h := make(map[string][]string)
		h["Content-Disposition"] = []string{`form-data; name="` + f.field + `"; filename="` + f.name + `"`}
		h["Content-Type"] = []string{f.contentType}
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, tp.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return do(t, c, req)
}

// login signs c in through the HTML form.
func (tp *testPortal) login(t *testing.T, c *http.Client, email string) {
	t.Helper()
	resp := tp.postForm(t, c, "/login", url.Values{"email": {email}, "password": {testPassword}})
	require.Equal(t, http.StatusSeeOther, resp.Code, resp.Body)
}

// apiCall sends a JSON request with an optional bearer token.
func (tp *testPortal) apiCall(t *testing.T, method, path, token string, body any) response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, tp.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return do(t, http.DefaultClient, req)
}

// token issues a bearer token through the API.
func (tp *testPortal) token(t *testing.T, email string) string {
	t.Helper()
	resp := tp.apiCall(t, http.MethodPost, "/api/auth/token", "", map[string]string{"email": email, "password": testPassword})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body)
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}
