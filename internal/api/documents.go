package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hatemosphere/cms-portal/internal/gate"
)

func documentDownloadPath(id string) string {
	return "/dashboard/documents/" + url.PathEscape(id) + "/download"
}

func (s *Server) registerDocuments(api huma.API) {
	huma.Register(api, requires(huma.Operation{
		OperationID: "listDocuments",
		Method:      http.MethodGet,
		Path:        "/api/documents",
		Summary:     "List documents available to signed-in users",
		Tags:        []string{"Documents"},
	}, gate.RequireIdentity), func(ctx context.Context, input *struct{}) (*ListDocumentsOutput, error) {
		docs, err := s.content.ListDocuments(ctx)
		if err != nil {
			return nil, apiError(err)
		}
		out := &ListDocumentsOutput{}
		out.Body.Documents = make([]Document, 0, len(docs))
		for _, d := range docs {
			out.Body.Documents = append(out.Body.Documents, toDocument(d))
		}
		return out, nil
	})

	huma.Register(api, requires(huma.Operation{
		OperationID:   "deleteDocument",
		Method:        http.MethodDelete,
		Path:          "/api/documents/{id}",
		Summary:       "Delete a document and its file",
		Tags:          []string{"Documents"},
		DefaultStatus: http.StatusNoContent,
	}, gate.RequireAdmin), func(ctx context.Context, input *IDInput) (*struct{}, error) {
		if err := s.content.DeleteDocument(ctx, input.ID); err != nil {
			return nil, apiError(err)
		}
		return nil, nil
	})
}
