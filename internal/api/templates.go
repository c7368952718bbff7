package api

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hatemosphere/cms-portal/internal/session"
	"github.com/hatemosphere/cms-portal/internal/storage"
)

// view is the data handed to every page template.
type view struct {
	Title   string
	Session session.Session
	Error   string
	Data    any
}

// pages holds the parsed HTML templates, one per page, each sharing the layout.
type pages struct {
	byName map[string]*template.Template
}

func newPages(imageURL func(storage.PostImage) string) *pages {
	funcs := template.FuncMap{
		"imageURL":    imageURL,
		"downloadURL": documentDownloadPath,
		"date":        func(t time.Time) string { return t.Format("2 Jan 2006") },
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
		"bytes":      humanBytes,
		"paragraphs": func(s string) []string { return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n\n") },
	}
	layout := template.Must(template.New("layout").Funcs(funcs).Parse(layoutTmpl))

	p := &pages{byName: map[string]*template.Template{}}
	for name, body := range pageTmpls {
		p.byName[name] = template.Must(template.Must(layout.Clone()).Parse(body))
	}
	return p
}

// render executes the named page into a buffer and writes it with status.
// A template failure never leaves a half-written page behind.
func (p *pages) render(w http.ResponseWriter, status int, name string, v view) {
	t, ok := p.byName[name]
	if !ok {
		slog.Error("unknown page template", "page", name)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", v); err != nil {
		slog.Error("render page", "page", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

const layoutTmpl = `{{define "layout"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
{{block "head" .}}{{end}}
<title>{{if .Title}}{{.Title}} · {{end}}CMS Portal</title>
<style>
  * { box-sizing: border-box; margin: 0; padding: 0; }
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: #f5f5f5; color: #333; line-height: 1.5; }
  header { background: #1a1a2e; color: #fff; }
  header .bar { max-width: 960px; margin: 0 auto; padding: 14px 20px; display: flex; gap: 20px; align-items: center; }
  header a { color: #e0e0e0; text-decoration: none; font-size: 14px; }
  header a.brand { color: #fff; font-weight: 600; font-size: 16px; margin-right: auto; }
  header form { display: inline; }
  header button { background: none; border: 1px solid #555; color: #e0e0e0; border-radius: 6px; padding: 4px 10px; cursor: pointer; font-size: 13px; }
  main { max-width: 960px; margin: 32px auto; padding: 0 20px; }
  .card { background: #fff; border-radius: 12px; box-shadow: 0 2px 12px rgba(0,0,0,0.1); padding: 32px; margin-bottom: 24px; }
  h1 { font-size: 24px; margin-bottom: 12px; color: #1a1a2e; }
  h2 { font-size: 18px; margin-bottom: 8px; color: #1a1a2e; }
  p { margin-bottom: 12px; }
  .muted { color: #888; font-size: 13px; }
  .error { background: #fdecea; color: #b3261e; border-radius: 6px; padding: 10px 14px; margin-bottom: 16px; font-size: 14px; }
  .tag { display: inline-block; background: #eef2ff; color: #3949ab; border-radius: 10px; padding: 2px 10px; font-size: 12px; margin-right: 4px; text-decoration: none; }
  table { width: 100%; border-collapse: collapse; font-size: 14px; }
  th, td { text-align: left; padding: 8px; border-bottom: 1px solid #eee; vertical-align: top; }
  label { display: block; font-size: 12px; font-weight: 600; color: #888; text-transform: uppercase; letter-spacing: 0.5px; margin: 14px 0 6px; }
  input[type=text], input[type=email], input[type=password], input[type=search], textarea, select { width: 100%; font-size: 14px; padding: 10px 12px; border: 1px solid #dadce0; border-radius: 6px; }
  textarea { min-height: 220px; font-family: inherit; }
  .btn { display: inline-block; padding: 8px 16px; background: #4285f4; color: #fff; border: none; border-radius: 6px; cursor: pointer; font-size: 14px; text-decoration: none; }
  .btn.danger { background: #d93025; }
  .inline { display: inline; }
  .cover { width: 100%; max-height: 280px; object-fit: cover; border-radius: 8px; margin-bottom: 12px; }
  .thumbs img { height: 96px; border-radius: 6px; margin-right: 8px; }
  .stats { display: flex; gap: 16px; }
  .stats .card { flex: 1; text-align: center; }
  .stats strong { display: block; font-size: 28px; color: #1a1a2e; }
</style>
</head>
<body>
<header><div class="bar">
  <a class="brand" href="/">CMS Portal</a>
  <a href="/blog">Blog</a>
  {{with .Session.Identity}}
    <a href="/dashboard">Dashboard</a>
    {{if $.Session.IsAdmin}}<a href="/admin">Admin</a>{{end}}
    <span class="muted">{{.Email}}</span>
    <form method="post" action="/logout"><button type="submit">Sign out</button></form>
  {{else}}
    <a href="/login">Sign in</a>
  {{end}}
</div></header>
<main>
{{if .Error}}<div class="error">{{.Error}}</div>{{end}}
{{template "content" .}}
</main>
</body>
</html>{{end}}`

var pageTmpls = map[string]string{
	"home": `{{define "content"}}
<div class="card">
  <h1>Welcome</h1>
  <p>News, articles and documents for members.</p>
  <a class="btn" href="/blog">Read the blog</a>
</div>
{{range .Data}}
<div class="card">
  {{with .Cover}}<img class="cover" src="{{imageURL .}}" alt="">{{end}}
  <h2><a href="/blog/{{.Slug}}">{{.Title}}</a></h2>
  <p class="muted">{{date .CreatedAt}}</p>
  {{with .Excerpt}}<p>{{.}}</p>{{end}}
</div>
{{end}}
{{end}}`,

	"blog": `{{define "content"}}
<div class="card">
  <h1>Blog</h1>
  <form method="get" action="/blog">
    <input type="search" name="q" value="{{.Data.Query}}" placeholder="Search posts">
    <select name="tag">
      <option value="">All tags</option>
      {{range .Data.Tags}}<option value="{{.ID}}"{{if eq .ID $.Data.TagID}} selected{{end}}>{{.Name}}</option>{{end}}
    </select>
    <p></p><button class="btn" type="submit">Filter</button>
  </form>
</div>
{{range .Data.Posts}}
<div class="card">
  {{with .Cover}}<img class="cover" src="{{imageURL .}}" alt="">{{end}}
  <h2><a href="/blog/{{.Slug}}">{{.Title}}</a></h2>
  <p class="muted">{{date .CreatedAt}}</p>
  {{with .Excerpt}}<p>{{.}}</p>{{end}}
  {{range .Tags}}<a class="tag" href="/blog?tag={{.ID}}">{{.Name}}</a>{{end}}
</div>
{{else}}
<div class="card"><p>No posts found.</p></div>
{{end}}
{{end}}`,

	"post": `{{define "content"}}
<div class="card">
  <h1>{{.Data.Title}}</h1>
  <p class="muted">{{date .Data.CreatedAt}}</p>
  {{range .Data.Tags}}<a class="tag" href="/blog?tag={{.ID}}">{{.Name}}</a>{{end}}
  <p></p>
  {{range .Data.Images}}<img class="cover" src="{{imageURL .}}" alt="{{deref .Caption}}">{{end}}
  {{range paragraphs .Data.Content}}<p>{{.}}</p>{{end}}
  <a href="/blog">&larr; All posts</a>
</div>
{{end}}`,

	"login": `{{define "content"}}
<div class="card" style="max-width:420px;margin:0 auto">
  <h1>Sign in</h1>
  <form method="post" action="/login">
    <input type="hidden" name="next" value="{{.Data.Next}}">
    <label for="email">Email</label>
    <input id="email" type="email" name="email" value="{{.Data.Email}}" required autofocus>
    <label for="password">Password</label>
    <input id="password" type="password" name="password" required>
    <p></p><button class="btn" type="submit">Sign in</button>
  </form>
</div>
{{end}}`,

	"pending": `{{define "head"}}{{if .Data}}<meta http-equiv="refresh" content="1">{{end}}{{end}}
{{define "content"}}
<div class="card">
  <h1>Loading your session…</h1>
  <p class="muted">This page refreshes on its own.</p>
</div>
{{end}}`,

	"forbidden": `{{define "content"}}
<div class="card">
  <h1>Access denied</h1>
  <p>Your account does not have permission to view this page.</p>
  <a href="/">Go home</a>
</div>
{{end}}`,

	"notfound": `{{define "content"}}
<div class="card">
  <h1>Page not found</h1>
  <a href="/">Go home</a>
</div>
{{end}}`,

	"error": `{{define "content"}}
<div class="card">
  <h1>Something went wrong</h1>
  <a href="/">Go home</a>
</div>
{{end}}`,

	"dashboard": `{{define "content"}}
<div class="card">
  <h1>Documents</h1>
  <table>
    <tr><th>Title</th><th>Size</th><th>Added</th><th></th></tr>
    {{range .Data}}
    <tr>
      <td>{{.Title}}{{with .Description}}<br><span class="muted">{{.}}</span>{{end}}</td>
      <td>{{bytes .Size}}</td>
      <td>{{date .CreatedAt}}</td>
      <td><a class="btn" href="{{downloadURL .ID}}">Download</a></td>
    </tr>
    {{else}}
    <tr><td colspan="4">No documents yet.</td></tr>
    {{end}}
  </table>
</div>
{{end}}`,

	"admin": `{{define "content"}}
<h1>Admin</h1>
<div class="stats">
  <div class="card"><strong>{{.Data.Posts}}</strong>posts</div>
  <div class="card"><strong>{{.Data.Documents}}</strong>documents</div>
  <div class="card"><strong>{{.Data.Tags}}</strong>tags</div>
</div>
<div class="card">
  <h2>Recent posts</h2>
  <table>
    {{range .Data.Recent}}<tr><td><a href="/admin/posts/edit/{{.ID}}">{{.Title}}</a></td><td>{{date .CreatedAt}}</td></tr>
    {{else}}<tr><td>No posts yet.</td></tr>{{end}}
  </table>
  <p></p>
  <a class="btn" href="/admin/posts/new">New post</a>
  <a class="btn" href="/admin/documents/new">Upload document</a>
  <a class="btn" href="/admin/tags">Tags</a>
</div>
{{end}}`,

	"admin_posts": `{{define "content"}}
<div class="card">
  <h1>Posts</h1>
  <p><a class="btn" href="/admin/posts/new">New post</a></p>
  <table>
    <tr><th>Title</th><th>Slug</th><th>Created</th><th></th></tr>
    {{range .Data}}
    <tr>
      <td><a href="/admin/posts/edit/{{.ID}}">{{.Title}}</a></td>
      <td>{{.Slug}}</td>
      <td>{{date .CreatedAt}}</td>
      <td><form class="inline" method="post" action="/admin/posts/{{.ID}}/delete"><button class="btn danger" type="submit">Delete</button></form></td>
    </tr>
    {{else}}
    <tr><td colspan="4">No posts yet.</td></tr>
    {{end}}
  </table>
</div>
{{end}}`,

	"post_form": `{{define "content"}}
<div class="card">
  <h1>{{if .Data.ID}}Edit post{{else}}New post{{end}}</h1>
  <form method="post" action="{{.Data.Action}}" enctype="multipart/form-data">
    <label for="title">Title</label>
    <input id="title" type="text" name="title" value="{{.Data.Title}}" required>
    <label for="slug">Slug</label>
    <input id="slug" type="text" name="slug" value="{{.Data.Slug}}" placeholder="derived from the title when empty">
    <label for="excerpt">Excerpt</label>
    <input id="excerpt" type="text" name="excerpt" value="{{.Data.Excerpt}}">
    <label for="content">Content</label>
    <textarea id="content" name="content" required>{{.Data.Content}}</textarea>
    <label>Tags</label>
    {{range .Data.Tags}}<label class="inline"><input type="checkbox" name="tags" value="{{.ID}}"{{if index $.Data.Selected .ID}} checked{{end}}> {{.Name}}</label> {{end}}
    <label for="images">Images</label>
    <input id="images" type="file" name="images" accept="image/*" multiple>
    <p></p><button class="btn" type="submit">Save</button>
  </form>
</div>
{{if .Data.Images}}
<div class="card thumbs">
  <h2>Images</h2>
  {{range .Data.Images}}
  <form class="inline" method="post" action="/admin/posts/{{$.Data.ID}}/images/{{.ID}}/delete">
    <img src="{{imageURL .}}" alt="{{deref .Caption}}">
    <button class="btn danger" type="submit">Remove</button>
  </form>
  {{end}}
</div>
{{end}}
{{end}}`,

	"admin_documents": `{{define "content"}}
<div class="card">
  <h1>Documents</h1>
  <p><a class="btn" href="/admin/documents/new">Upload document</a></p>
  <table>
    <tr><th>Title</th><th>Type</th><th>Size</th><th>Added</th><th></th></tr>
    {{range .Data}}
    <tr>
      <td><a href="{{downloadURL .ID}}">{{.Title}}</a></td>
      <td>{{.ContentType}}</td>
      <td>{{bytes .Size}}</td>
      <td>{{date .CreatedAt}}</td>
      <td><form class="inline" method="post" action="/admin/documents/{{.ID}}/delete"><button class="btn danger" type="submit">Delete</button></form></td>
    </tr>
    {{else}}
    <tr><td colspan="5">No documents yet.</td></tr>
    {{end}}
  </table>
</div>
{{end}}`,

	"document_form": `{{define "content"}}
<div class="card">
  <h1>Upload document</h1>
  <form method="post" action="/admin/documents/new" enctype="multipart/form-data">
    <label for="title">Title</label>
    <input id="title" type="text" name="title" value="{{.Data.Title}}" required>
    <label for="description">Description</label>
    <input id="description" type="text" name="description" value="{{.Data.Description}}">
    <label for="file">File ({{.Data.Accept}})</label>
    <input id="file" type="file" name="file" required>
    <p></p><button class="btn" type="submit">Upload</button>
  </form>
</div>
{{end}}`,

	"admin_tags": `{{define "content"}}
<div class="card">
  <h1>Tags</h1>
  <table>
    <tr><th>Name</th><th>Slug</th><th></th></tr>
    {{range .Data.Tags}}
    <tr>
      <td colspan="2">
        <form class="inline" method="post" action="/admin/tags/{{.ID}}">
          <input type="text" name="name" value="{{.Name}}" style="width:40%">
          <input type="text" name="slug" value="{{.Slug}}" style="width:40%">
          <button class="btn" type="submit">Save</button>
        </form>
      </td>
      <td><form class="inline" method="post" action="/admin/tags/{{.ID}}/delete"><button class="btn danger" type="submit">Delete</button></form></td>
    </tr>
    {{else}}
    <tr><td colspan="3">No tags yet.</td></tr>
    {{end}}
  </table>
</div>
<div class="card">
  <h2>New tag</h2>
  <form method="post" action="/admin/tags">
    <label for="name">Name</label>
    <input id="name" type="text" name="name" value="{{.Data.Name}}" required>
    <label for="slug">Slug</label>
    <input id="slug" type="text" name="slug" value="{{.Data.Slug}}" placeholder="derived from the name when empty">
    <p></p><button class="btn" type="submit">Create</button>
  </form>
</div>
{{end}}`,
}
