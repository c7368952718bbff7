package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hatemosphere/cms-portal/internal/content"
	"github.com/hatemosphere/cms-portal/internal/gate"
)

func (s *Server) registerPosts(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listPosts",
		Method:      http.MethodGet,
		Path:        "/api/posts",
		Summary:     "List blog posts, newest first",
		Tags:        []string{"Posts"},
	}, func(ctx context.Context, input *ListPostsInput) (*ListPostsOutput, error) {
		posts, err := s.content.ListBlog(ctx, content.BlogQuery{Search: input.Query, TagID: input.TagID})
		if err != nil {
			return nil, apiError(err)
		}
		out := &ListPostsOutput{}
		out.Body.Posts = make([]Post, 0, len(posts))
		for _, p := range posts {
			out.Body.Posts = append(out.Body.Posts, s.toBlogPost(p))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "getPost",
		Method:      http.MethodGet,
		Path:        "/api/posts/{slug}",
		Summary:     "Get a post by slug",
		Tags:        []string{"Posts"},
	}, func(ctx context.Context, input *GetPostInput) (*PostOutput, error) {
		p, err := s.content.PostBySlug(ctx, input.Slug)
		if err != nil {
			return nil, apiError(err)
		}
		return &PostOutput{Body: s.toPost(*p)}, nil
	})

	huma.Register(api, requires(huma.Operation{
		OperationID:   "createPost",
		Method:        http.MethodPost,
		Path:          "/api/posts",
		Summary:       "Create a post",
		Tags:          []string{"Posts"},
		DefaultStatus: http.StatusCreated,
	}, gate.RequireAdmin), func(ctx context.Context, input *CreatePostInput) (*PostOutput, error) {
		p, err := s.content.SavePost(ctx, postInput("", input.Body))
		if err != nil {
			return nil, apiError(err)
		}
		return &PostOutput{Body: s.toPost(*p)}, nil
	})

	huma.Register(api, requires(huma.Operation{
		OperationID: "updatePost",
		Method:      http.MethodPut,
		Path:        "/api/posts/{id}",
		Summary:     "Update a post and replace its tags",
		Tags:        []string{"Posts"},
	}, gate.RequireAdmin), func(ctx context.Context, input *UpdatePostInput) (*PostOutput, error) {
		p, err := s.content.SavePost(ctx, postInput(input.ID, input.Body))
		if err != nil {
			return nil, apiError(err)
		}
		return &PostOutput{Body: s.toPost(*p)}, nil
	})

	huma.Register(api, requires(huma.Operation{
		OperationID:   "deletePost",
		Method:        http.MethodDelete,
		Path:          "/api/posts/{id}",
		Summary:       "Delete a post and its images",
		Tags:          []string{"Posts"},
		DefaultStatus: http.StatusNoContent,
	}, gate.RequireAdmin), func(ctx context.Context, input *IDInput) (*struct{}, error) {
		if err := s.content.DeletePost(ctx, input.ID); err != nil {
			return nil, apiError(err)
		}
		return nil, nil
	})
}

func postInput(id string, b PostBody) content.PostInput {
	return content.PostInput{
		ID:      id,
		Title:   b.Title,
		Slug:    b.Slug,
		Excerpt: b.Excerpt,
		Content: b.Content,
		TagIDs:  b.TagIDs,
	}
}
