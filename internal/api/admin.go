package api

import (
	"context"
	stdjson "encoding/json"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hatemosphere/cms-portal/internal/gate"
)

func (s *Server) registerAdmin(api huma.API) {
	huma.Register(api, requires(huma.Operation{
		OperationID: "getStats",
		Method:      http.MethodGet,
		Path:        "/api/admin/stats",
		Summary:     "Content counts and the most recent posts",
		Tags:        []string{"Admin"},
	}, gate.RequireAdmin), func(ctx context.Context, input *struct{}) (*GetStatsOutput, error) {
		st, err := s.content.Stats(ctx)
		if err != nil {
			return nil, apiError(err)
		}
		out := &GetStatsOutput{}
		out.Body.Posts = st.Posts
		out.Body.Documents = st.Documents
		out.Body.Tags = st.Tags
		out.Body.RecentPosts = make([]Post, 0, len(st.Recent))
		for _, p := range st.Recent {
			out.Body.RecentPosts = append(out.Body.RecentPosts, s.toPost(p))
		}
		return out, nil
	})

	huma.Register(api, requires(huma.Operation{
		OperationID: "createBackup",
		Method:      http.MethodPost,
		Path:        "/api/admin/backup",
		Summary:     "Snapshot the database into the backups bucket",
		Tags:        []string{"Admin"},
	}, gate.RequireAdmin), func(ctx context.Context, input *struct{}) (*CreateBackupOutput, error) {
		if s.backups == nil {
			return nil, huma.NewError(http.StatusNotImplemented, "backups are not configured")
		}
		res, err := s.backups.Run(ctx)
		if err != nil && res == nil {
			slog.Error("on-demand backup failed", "error", err)
			return nil, huma.NewError(http.StatusInternalServerError, "backup failed")
		}
		if err != nil {
			slog.Warn("backup stored but pruning failed", "key", res.Key, "error", err)
		}
		out := &CreateBackupOutput{}
		out.Body.Key = res.Key
		out.Body.Pruned = res.Pruned
		return out, nil
	})
}

// registerMeta registers the OpenAPI document route.
func (s *Server) registerMeta(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getOpenAPISpec",
		Method:      http.MethodGet,
		Path:        "/api/openapi",
		Tags:        []string{"Meta"},
	}, func(ctx context.Context, input *struct{}) (*huma.StreamResponse, error) {
		return &huma.StreamResponse{
			Body: func(ctx huma.Context) {
				ctx.SetHeader("Content-Type", "application/json")
				if s.humaAPI != nil {
					data, _ := stdjson.Marshal(s.humaAPI.OpenAPI())
					_, _ = ctx.BodyWriter().Write(data)
				} else {
					_, _ = ctx.BodyWriter().Write([]byte(`{}`))
				}
			},
		}, nil
	})
}
