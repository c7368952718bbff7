package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// --- Tags ---

func (s *SQLiteStore) CreateTag(ctx context.Context, t *Tag) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (id, name, slug, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.Name, t.Slug, toMillis(t.CreatedAt))
	return mapConstraint(err, "create tag")
}

func (s *SQLiteStore) GetTag(ctx context.Context, id string) (*Tag, error) {
	t := &Tag{}
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, created_at FROM tags WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &t.Slug, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.CreatedAt = fromMillis(createdAt)
	return t, nil
}

func (s *SQLiteStore) UpdateTag(ctx context.Context, t *Tag) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tags SET name=?, slug=? WHERE id=?`, t.Name, t.Slug, t.ID)
	if err != nil {
		return mapConstraint(err, "update tag")
	}
	return requireAffected(res, "update tag")
}

// DeleteTag removes a tag. Post links cascade.
func (s *SQLiteStore) DeleteTag(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "delete tag")
}

func (s *SQLiteStore) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, slug, created_at FROM tags ORDER BY name COLLATE NOCASE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &createdAt); err != nil {
			return nil, err
		}
		if t.ID == "" || t.Slug == "" {
			slog.Warn("skipping malformed tag row", "id", t.ID)
			continue
		}
		t.CreatedAt = fromMillis(createdAt)
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// --- Posts ---

// CreatePost inserts a post and links it to tagIDs in one transaction.
func (s *SQLiteStore) CreatePost(ctx context.Context, p *Post, tagIDs []string) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.ExecContext(ctx,
		`INSERT INTO posts (id, title, slug, excerpt, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Slug, nullableString(p.Excerpt), p.Content, toMillis(p.CreatedAt), toMillis(p.UpdatedAt))
	if err != nil {
		return mapConstraint(err, "create post")
	}
	if err := linkTags(ctx, tx, p.ID, tagIDs); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdatePost rewrites a post's fields and replaces its tag set.
func (s *SQLiteStore) UpdatePost(ctx context.Context, p *Post, tagIDs []string) error {
	p.UpdatedAt = time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	res, err := tx.ExecContext(ctx,
		`UPDATE posts SET title=?, slug=?, excerpt=?, content=?, updated_at=? WHERE id=?`,
		p.Title, p.Slug, nullableString(p.Excerpt), p.Content, toMillis(p.UpdatedAt), p.ID)
	if err != nil {
		return mapConstraint(err, "update post")
	}
	if err := requireAffected(res, "update post"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM post_tags WHERE post_id=?`, p.ID); err != nil {
		return err
	}
	if err := linkTags(ctx, tx, p.ID, tagIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func linkTags(ctx context.Context, tx *sql.Tx, postID string, tagIDs []string) error {
	for _, tagID := range tagIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO post_tags (post_id, tag_id) VALUES (?, ?)`, postID, tagID)
		if err != nil {
			return mapConstraint(err, "link tag "+tagID)
		}
	}
	return nil
}

const postColumns = `p.id, p.title, p.slug, p.excerpt, p.content, p.created_at, p.updated_at`

func (s *SQLiteStore) GetPost(ctx context.Context, id string) (*Post, error) {
	return s.getPost(ctx, `SELECT `+postColumns+` FROM posts p WHERE p.id=?`, id)
}

func (s *SQLiteStore) GetPostBySlug(ctx context.Context, slug string) (*Post, error) {
	return s.getPost(ctx, `SELECT `+postColumns+` FROM posts p WHERE p.slug=?`, slug)
}

func (s *SQLiteStore) getPost(ctx context.Context, query string, arg string) (*Post, error) {
	var p Post
	var excerpt sql.NullString
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&p.ID, &p.Title, &p.Slug, &excerpt, &p.Content, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Excerpt = stringPtr(excerpt)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)

	posts := []Post{p}
	if err := s.loadRelations(ctx, posts); err != nil {
		return nil, err
	}
	return &posts[0], nil
}

// ListPosts returns posts newest first, with tags and images attached.
func (s *SQLiteStore) ListPosts(ctx context.Context, f PostFilter) ([]Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts p`
	var args []any
	if f.TagID != "" {
		query += ` JOIN post_tags pt ON pt.post_id = p.id WHERE pt.tag_id=?`
		args = append(args, f.TagID)
	}
	query += ` ORDER BY p.created_at DESC, p.rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var posts []Post
	for rows.Next() {
		var p Post
		var excerpt sql.NullString
		var createdAt, updatedAt int64
		if err := rows.Scan(&p.ID, &p.Title, &p.Slug, &excerpt, &p.Content, &createdAt, &updatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if p.ID == "" || p.Slug == "" || p.Title == "" {
			slog.Warn("skipping malformed post row", "id", p.ID, "slug", p.Slug)
			continue
		}
		p.Excerpt = stringPtr(excerpt)
		p.CreatedAt = fromMillis(createdAt)
		p.UpdatedAt = fromMillis(updatedAt)
		posts = append(posts, p)
	}
	// Close before issuing more queries: the pool holds a single connection.
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadRelations(ctx, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// loadRelations fills Tags and Images for each post in place.
func (s *SQLiteStore) loadRelations(ctx context.Context, posts []Post) error {
	if len(posts) == 0 {
		return nil
	}
	index := make(map[string]int, len(posts))
	args := make([]any, len(posts))
	for i, p := range posts {
		index[p.ID] = i
		args[i] = p.ID
	}
	in := placeholders(len(posts))

	rows, err := s.db.QueryContext(ctx,
		`SELECT pt.post_id, t.id, t.name, t.slug, t.created_at
		 FROM post_tags pt JOIN tags t ON t.id = pt.tag_id
		 WHERE pt.post_id IN (`+in+`) ORDER BY t.name COLLATE NOCASE`, args...)
	if err != nil {
		return fmt.Errorf("load post tags: %w", err)
	}
	for rows.Next() {
		var postID string
		var t Tag
		var createdAt int64
		if err := rows.Scan(&postID, &t.ID, &t.Name, &t.Slug, &createdAt); err != nil {
			rows.Close()
			return err
		}
		t.CreatedAt = fromMillis(createdAt)
		i := index[postID]
		posts[i].Tags = append(posts[i].Tags, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT id, post_id, image_path, caption, order_index, created_at
		 FROM post_images WHERE post_id IN (`+in+`) ORDER BY order_index, created_at`, args...)
	if err != nil {
		return fmt.Errorf("load post images: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return err
		}
		if img.Path == "" {
			slog.Warn("skipping post image without path", "id", img.ID, "post_id", img.PostID)
			continue
		}
		i := index[img.PostID]
		posts[i].Images = append(posts[i].Images, *img)
	}
	return rows.Err()
}

// DeletePost removes a post. Tag links and image rows cascade; image
// objects are the caller's responsibility.
func (s *SQLiteStore) DeletePost(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "delete post")
}

// --- Post images ---

func (s *SQLiteStore) AddPostImage(ctx context.Context, img *PostImage) error {
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO post_images (id, post_id, image_path, caption, order_index, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		img.ID, img.PostID, img.Path, nullableString(img.Caption), img.OrderIndex, toMillis(img.CreatedAt))
	return mapConstraint(err, "add post image")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*PostImage, error) {
	img := &PostImage{}
	var caption sql.NullString
	var createdAt int64
	if err := row.Scan(&img.ID, &img.PostID, &img.Path, &caption, &img.OrderIndex, &createdAt); err != nil {
		return nil, err
	}
	img.Caption = stringPtr(caption)
	img.CreatedAt = fromMillis(createdAt)
	return img, nil
}

func (s *SQLiteStore) GetPostImage(ctx context.Context, id string) (*PostImage, error) {
	img, err := scanImage(s.db.QueryRowContext(ctx,
		`SELECT id, post_id, image_path, caption, order_index, created_at FROM post_images WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return img, err
}

func (s *SQLiteStore) DeletePostImage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM post_images WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "delete post image")
}

// --- Documents ---

func (s *SQLiteStore) CreateDocument(ctx context.Context, d *Document) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, description, file_path, content_type, size, uploaded_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Title, nullableString(d.Description), d.FilePath, d.ContentType, d.Size, d.UploadedBy, toMillis(d.CreatedAt))
	return mapConstraint(err, "create document")
}

const documentColumns = `id, title, description, file_path, content_type, size, uploaded_by, created_at`

func scanDocument(row rowScanner) (*Document, error) {
	d := &Document{}
	var description sql.NullString
	var createdAt int64
	if err := row.Scan(&d.ID, &d.Title, &description, &d.FilePath, &d.ContentType, &d.Size, &d.UploadedBy, &createdAt); err != nil {
		return nil, err
	}
	d.Description = stringPtr(description)
	d.CreatedAt = fromMillis(createdAt)
	return d, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// ListDocuments returns documents newest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		if d.ID == "" || d.FilePath == "" || d.Title == "" {
			slog.Warn("skipping malformed document row", "id", d.ID)
			continue
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "delete document")
}

// --- Stats ---

func (s *SQLiteStore) Counts(ctx context.Context) (*Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM posts), (SELECT COUNT(*) FROM documents), (SELECT COUNT(*) FROM tags)`).
		Scan(&c.Posts, &c.Documents, &c.Tags)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
