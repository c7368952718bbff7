package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/hatemosphere/cms-portal/internal/objectstore"
	"github.com/hatemosphere/cms-portal/internal/storage"
)

var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true, "svg": true, "avif": true,
}

// BlogQuery filters the public blog listing.
type BlogQuery struct {
	Search string // case-insensitive match on title, excerpt or content
	TagID  string
}

// BlogPost is a post with its cover image resolved.
type BlogPost struct {
	storage.Post
	Cover *storage.PostImage
}

// ListBlog returns posts newest first, filtered by q.
func (s *Service) ListBlog(ctx context.Context, q BlogQuery) ([]BlogPost, error) {
	posts, err := s.store.ListPosts(ctx, storage.PostFilter{TagID: strings.TrimSpace(q.TagID)})
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]BlogPost, 0, len(posts))
	for _, p := range posts {
		if needle != "" && !matches(p, needle) {
			continue
		}
		out = append(out, BlogPost{Post: p, Cover: cover(p.Images)})
	}
	return out, nil
}

func matches(p storage.Post, needle string) bool {
	if strings.Contains(strings.ToLower(p.Title), needle) ||
		strings.Contains(strings.ToLower(p.Content), needle) {
		return true
	}
	return p.Excerpt != nil && strings.Contains(strings.ToLower(*p.Excerpt), needle)
}

// cover returns the image with the lowest order index.
func cover(images []storage.PostImage) *storage.PostImage {
	var best *storage.PostImage
	for i := range images {
		if best == nil || images[i].OrderIndex < best.OrderIndex {
			best = &images[i]
		}
	}
	return best
}

// ListPosts returns every post newest first.
func (s *Service) ListPosts(ctx context.Context) ([]storage.Post, error) {
	posts, err := s.store.ListPosts(ctx, storage.PostFilter{})
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return posts, nil
}

// PostBySlug returns the published post with the given slug.
func (s *Service) PostBySlug(ctx context.Context, slug string) (*storage.Post, error) {
	p, err := s.store.GetPostBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get post by slug: %w", err)
	}
	if p == nil {
		return nil, notFound("post not found")
	}
	return p, nil
}

// Post returns a post by id.
func (s *Service) Post(ctx context.Context, id string) (*storage.Post, error) {
	p, err := s.store.GetPost(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	if p == nil {
		return nil, notFound("post not found")
	}
	return p, nil
}

// PostInput is the editable part of a post. An empty ID creates a new post.
type PostInput struct {
	ID      string
	Title   string
	Slug    string // derived from Title when empty on create
	Excerpt string
	Content string
	TagIDs  []string
	Images  []Upload // appended with order index = position in this slice
}

// SavePost creates or updates a post, replaces its tag set and uploads new
// images. Image failures are logged and skipped.
func (s *Service) SavePost(ctx context.Context, in PostInput) (*storage.Post, error) {
	p := &storage.Post{
		ID:      strings.TrimSpace(in.ID),
		Title:   strings.TrimSpace(in.Title),
		Slug:    strings.TrimSpace(in.Slug),
		Content: strings.TrimSpace(in.Content),
	}
	if ex := strings.TrimSpace(in.Excerpt); ex != "" {
		p.Excerpt = &ex
	}
	creating := p.ID == ""
	if creating && p.Slug == "" {
		p.Slug = Slugify(p.Title)
	}
	switch {
	case p.Title == "":
		return nil, invalid("title is required")
	case p.Slug == "":
		return nil, invalid("slug is required")
	case p.Content == "":
		return nil, invalid("content is required")
	}
	tagIDs := dedupe(in.TagIDs)

	var err error
	if creating {
		p.ID = uuid.NewString()
		p.CreatedAt = s.now()
		err = s.store.CreatePost(ctx, p, tagIDs)
	} else {
		err = s.store.UpdatePost(ctx, p, tagIDs)
	}
	switch {
	case errors.Is(err, storage.ErrConflict):
		return nil, conflict("a post with this slug already exists")
	case errors.Is(err, storage.ErrNotFound) && !creating:
		if existing, gerr := s.store.GetPost(ctx, p.ID); gerr == nil && existing == nil {
			return nil, notFound("post not found")
		}
		return nil, invalid("unknown tag")
	case errors.Is(err, storage.ErrNotFound):
		return nil, invalid("unknown tag")
	case err != nil:
		return nil, fmt.Errorf("save post: %w", err)
	}

	s.attachImages(ctx, p.ID, in.Images)

	saved, err := s.store.GetPost(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("reload post: %w", err)
	}
	if saved == nil {
		return nil, notFound("post not found")
	}
	return saved, nil
}

func (s *Service) attachImages(ctx context.Context, postID string, images []Upload) {
	stamp := s.now().UnixMilli()
	for i, up := range images {
		if up.empty() {
			continue
		}
		ext := up.ext()
		if !imageExtensions[ext] {
			slog.Warn("skipping post image with unsupported extension", "post", postID, "file", up.Filename)
			continue
		}
		key := fmt.Sprintf("%s/%d-%d.%s", postID, stamp, i, ext)
		if err := s.objects.Upload(ctx, objectstore.BucketPostImages, key, up.Body, up.Size, up.contentType()); err != nil {
			slog.Warn("post image upload failed", "post", postID, "key", key, "error", err)
			continue
		}
		img := &storage.PostImage{
			ID:         uuid.NewString(),
			PostID:     postID,
			Path:       key,
			OrderIndex: i,
			CreatedAt:  s.now(),
		}
		if err := s.store.AddPostImage(ctx, img); err != nil {
			slog.Warn("post image insert failed", "post", postID, "key", key, "error", err)
			if rerr := s.objects.Remove(ctx, objectstore.BucketPostImages, key); rerr != nil {
				slog.Warn("orphaned post image", "key", key, "error", rerr)
			}
		}
	}
}

// DeletePost removes a post and, best-effort, its image objects.
func (s *Service) DeletePost(ctx context.Context, id string) error {
	p, err := s.store.GetPost(ctx, id)
	if err != nil {
		return fmt.Errorf("get post: %w", err)
	}
	if p == nil {
		return notFound("post not found")
	}
	if err := s.store.DeletePost(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return notFound("post not found")
		}
		return fmt.Errorf("delete post: %w", err)
	}
	if len(p.Images) > 0 {
		keys := make([]string, len(p.Images))
		for i, img := range p.Images {
			keys[i] = img.Path
		}
		if err := s.objects.Remove(ctx, objectstore.BucketPostImages, keys...); err != nil {
			slog.Warn("failed to remove post images", "post", id, "error", err)
		}
	}
	return nil
}

// DeleteImage removes an image object and then its row.
func (s *Service) DeleteImage(ctx context.Context, imageID string) error {
	img, err := s.store.GetPostImage(ctx, imageID)
	if err != nil {
		return fmt.Errorf("get post image: %w", err)
	}
	if img == nil {
		return notFound("image not found")
	}
	if err := s.objects.Remove(ctx, objectstore.BucketPostImages, img.Path); err != nil {
		return fmt.Errorf("remove image object: %w", err)
	}
	if err := s.store.DeletePostImage(ctx, imageID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return notFound("image not found")
		}
		return fmt.Errorf("delete post image: %w", err)
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
