package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hatemosphere/cms-portal/internal/content"
	"github.com/hatemosphere/cms-portal/internal/gate"
)

func (s *Server) registerTags(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listTags",
		Method:      http.MethodGet,
		Path:        "/api/tags",
		Summary:     "List tags by name",
		Tags:        []string{"Tags"},
	}, func(ctx context.Context, input *struct{}) (*ListTagsOutput, error) {
		tags, err := s.content.ListTags(ctx)
		if err != nil {
			return nil, apiError(err)
		}
		out := &ListTagsOutput{}
		out.Body.Tags = toTags(tags)
		return out, nil
	})

	huma.Register(api, requires(huma.Operation{
		OperationID:   "createTag",
		Method:        http.MethodPost,
		Path:          "/api/tags",
		Summary:       "Create a tag",
		Tags:          []string{"Tags"},
		DefaultStatus: http.StatusCreated,
	}, gate.RequireAdmin), func(ctx context.Context, input *CreateTagInput) (*TagOutput, error) {
		t, err := s.content.CreateTag(ctx, content.TagInput{Name: input.Body.Name, Slug: input.Body.Slug})
		if err != nil {
			return nil, apiError(err)
		}
		return &TagOutput{Body: toTag(*t)}, nil
	})

	huma.Register(api, requires(huma.Operation{
		OperationID: "updateTag",
		Method:      http.MethodPut,
		Path:        "/api/tags/{id}",
		Summary:     "Rename a tag",
		Tags:        []string{"Tags"},
	}, gate.RequireAdmin), func(ctx context.Context, input *UpdateTagInput) (*TagOutput, error) {
		t, err := s.content.UpdateTag(ctx, input.ID, content.TagInput{Name: input.Body.Name, Slug: input.Body.Slug})
		if err != nil {
			return nil, apiError(err)
		}
		return &TagOutput{Body: toTag(*t)}, nil
	})

	huma.Register(api, requires(huma.Operation{
		OperationID:   "deleteTag",
		Method:        http.MethodDelete,
		Path:          "/api/tags/{id}",
		Summary:       "Delete a tag",
		Tags:          []string{"Tags"},
		DefaultStatus: http.StatusNoContent,
	}, gate.RequireAdmin), func(ctx context.Context, input *IDInput) (*struct{}, error) {
		if err := s.content.DeleteTag(ctx, input.ID); err != nil {
			return nil, apiError(err)
		}
		return nil, nil
	})
}
