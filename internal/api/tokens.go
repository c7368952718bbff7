package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hatemosphere/cms-portal/internal/audit"
	"github.com/hatemosphere/cms-portal/internal/gate"
	"github.com/hatemosphere/cms-portal/internal/identity"
	"github.com/hatemosphere/cms-portal/internal/session"
)

func (s *Server) registerAuth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "createToken",
		Method:      http.MethodPost,
		Path:        "/api/auth/token",
		Summary:     "Exchange email and password for a bearer token",
		Tags:        []string{"Auth"},
	}, func(ctx context.Context, input *CreateTokenInput) (*CreateTokenOutput, error) {
		if s.tokens == nil {
			return nil, huma.NewError(http.StatusNotFound, "token issuing is disabled")
		}
		if input.Body.Email == "" || input.Body.Password == "" {
			return nil, huma.NewError(http.StatusBadRequest, "email and password are required")
		}

		token, expiresAt, err := s.tokens.IssueToken(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			if errors.Is(err, identity.ErrInvalidCredentials) {
				audit.Event{
					Actor:   input.Body.Email,
					Action:  "token.issue",
					Status:  "failed",
					Reason:  "invalid credentials",
					Channel: "api",
				}.Warn("Audit Log: Sign-in Failed")
			}
			return nil, apiError(err)
		}

		audit.Event{
			Actor:   input.Body.Email,
			Action:  "token.issue",
			Status:  "succeeded",
			Channel: "api",
		}.Info("Audit Log: Token Issued")

		out := &CreateTokenOutput{}
		out.Body.Token = token
		out.Body.TokenType = "Bearer"
		out.Body.ExpiresAt = expiresAt.Unix()
		return out, nil
	})

	huma.Register(api, requires(huma.Operation{
		OperationID: "getSession",
		Method:      http.MethodGet,
		Path:        "/api/session",
		Summary:     "Current identity and role",
		Tags:        []string{"Auth"},
	}, gate.RequireIdentity), func(ctx context.Context, input *struct{}) (*GetSessionOutput, error) {
		sess, _ := session.FromContext(ctx)
		out := &GetSessionOutput{}
		out.Body.ID = sess.Identity.ID
		out.Body.Email = sess.Identity.Email
		out.Body.Role = sess.Role.String()
		out.Body.IsAdmin = sess.IsAdmin()
		return out, nil
	})
}
