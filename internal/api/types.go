package api

import (
	"time"

	"github.com/hatemosphere/cms-portal/internal/content"
	"github.com/hatemosphere/cms-portal/internal/storage"
)

// --- Auth ---

type CreateTokenInput struct {
	Body struct {
		Email    string `json:"email" doc:"Account email"`
		Password string `json:"password" doc:"Account password"`
	}
}

type CreateTokenOutput struct {
	Body struct {
		Token     string `json:"token"`
		TokenType string `json:"tokenType"`
		ExpiresAt int64  `json:"expiresAt" doc:"Unix seconds"`
	}
}

type GetSessionOutput struct {
	Body struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Role    string `json:"role"`
		IsAdmin bool   `json:"isAdmin"`
	}
}

// --- Posts ---

type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type Image struct {
	ID         string  `json:"id"`
	URL        string  `json:"url"`
	Caption    *string `json:"caption,omitempty"`
	OrderIndex int     `json:"orderIndex"`
}

type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	Excerpt   *string   `json:"excerpt,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Tags      []Tag     `json:"tags"`
	Images    []Image   `json:"images"`
	CoverURL  string    `json:"coverUrl,omitempty"`
}

type ListPostsInput struct {
	Query string `query:"q" doc:"Case-insensitive search over title, excerpt and content"`
	TagID string `query:"tag" doc:"Only posts with this tag id"`
}

type ListPostsOutput struct {
	Body struct {
		Posts []Post `json:"posts"`
	}
}

type GetPostInput struct {
	Slug string `path:"slug"`
}

type PostOutput struct {
	Body Post
}

type PostBody struct {
	Title   string   `json:"title"`
	Slug    string   `json:"slug,omitempty" doc:"Derived from the title when empty on create"`
	Excerpt string   `json:"excerpt,omitempty"`
	Content string   `json:"content"`
	TagIDs  []string `json:"tagIds,omitempty"`
}

type CreatePostInput struct {
	Body PostBody
}

type UpdatePostInput struct {
	ID   string `path:"id"`
	Body PostBody
}

type IDInput struct {
	ID string `path:"id"`
}

// --- Tags ---

type ListTagsOutput struct {
	Body struct {
		Tags []Tag `json:"tags"`
	}
}

type TagBody struct {
	Name string `json:"name"`
	Slug string `json:"slug,omitempty" doc:"Derived from the name when empty"`
}

type CreateTagInput struct {
	Body TagBody
}

type UpdateTagInput struct {
	ID   string `path:"id"`
	Body TagBody
}

type TagOutput struct {
	Body Tag
}

// --- Documents ---

type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
	DownloadURL string    `json:"downloadUrl"`
}

type ListDocumentsOutput struct {
	Body struct {
		Documents []Document `json:"documents"`
	}
}

// --- Admin ---

type GetStatsOutput struct {
	Body struct {
		Posts       int    `json:"posts"`
		Documents   int    `json:"documents"`
		Tags        int    `json:"tags"`
		RecentPosts []Post `json:"recentPosts"`
	}
}

type CreateBackupOutput struct {
	Body struct {
		Key    string `json:"key"`
		Pruned int    `json:"pruned"`
	}
}

// --- Conversions ---

func toTag(t storage.Tag) Tag {
	return Tag{ID: t.ID, Name: t.Name, Slug: t.Slug}
}

func toTags(tags []storage.Tag) []Tag {
	out := make([]Tag, 0, len(tags))
	for _, t := range tags {
		out = append(out, toTag(t))
	}
	return out
}

func (s *Server) toPost(p storage.Post) Post {
	out := Post{
		ID:        p.ID,
		Title:     p.Title,
		Slug:      p.Slug,
		Excerpt:   p.Excerpt,
		Content:   p.Content,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
		Tags:      toTags(p.Tags),
		Images:    make([]Image, 0, len(p.Images)),
	}
	for _, img := range p.Images {
		out.Images = append(out.Images, Image{
			ID:         img.ID,
			URL:        s.content.ImageURL(img),
			Caption:    img.Caption,
			OrderIndex: img.OrderIndex,
		})
	}
	return out
}

func (s *Server) toBlogPost(bp content.BlogPost) Post {
	out := s.toPost(bp.Post)
	if bp.Cover != nil {
		out.CoverURL = s.content.ImageURL(*bp.Cover)
	}
	return out
}

func toDocument(d storage.Document) Document {
	return Document{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		ContentType: d.ContentType,
		Size:        d.Size,
		CreatedAt:   d.CreatedAt,
		DownloadURL: documentDownloadPath(d.ID),
	}
}
