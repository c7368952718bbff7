package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hatemosphere/cms-portal/internal/audit"
	"github.com/hatemosphere/cms-portal/internal/auth"
	"github.com/hatemosphere/cms-portal/internal/gate"
	"github.com/hatemosphere/cms-portal/internal/session"
)

const (
	gateMetadataKey = "gate"
	bearerScheme    = "bearer"
)

// requires attaches req to op and marks it as bearer-secured.
func requires(op huma.Operation, req gate.Requirement) huma.Operation {
	if op.Metadata == nil {
		op.Metadata = map[string]any{}
	}
	op.Metadata[gateMetadataKey] = req
	op.Security = []map[string][]string{{bearerScheme: {}}}
	return op
}

// requirementOf returns the gate attached to op, if any.
func requirementOf(op *huma.Operation) (gate.Requirement, bool) {
	if op == nil || op.Metadata == nil {
		return 0, false
	}
	req, ok := op.Metadata[gateMetadataKey].(gate.Requirement)
	return req, ok
}

// bearerHumaMiddleware validates an optional "Authorization: Bearer <jwt>"
// header and puts the identity on the context. A request without the header
// continues anonymously; a malformed or invalid token is rejected.
func (s *Server) bearerHumaMiddleware(api huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		header := ctx.Header("Authorization")
		if header == "" {
			next(ctx)
			return
		}

		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "invalid Authorization header format")
			return
		}
		if s.tokens == nil {
			_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "bearer tokens are not accepted")
			return
		}

		id, err := s.tokens.ValidateToken(ctx.Context(), strings.TrimSpace(token))
		if err != nil {
			slog.Debug("bearer token rejected", "error", err)
			_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "invalid token")
			return
		}
		next(huma.WithContext(ctx, auth.WithIdentity(ctx.Context(), id)))
	}
}

// gateHumaMiddleware enforces the gate.Requirement attached to an operation.
// The role is resolved synchronously, so the API never sees a role lag;
// Pending only happens when no role source is configured.
func (s *Server) gateHumaMiddleware(api huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		req, gated := requirementOf(ctx.Operation())
		id := auth.IdentityFromContext(ctx.Context())

		sess := session.Session{Identity: id}
		if id != nil && s.roles != nil {
			sess.Role = session.ResolveRole(ctx.Context(), s.roles, id.ID)
		}
		if !gated {
			next(huma.WithContext(ctx, session.WithSession(ctx.Context(), sess)))
			return
		}

		state := gate.Evaluate(sess, req)
		gateDecisionsTotal.WithLabelValues("api", req.String(), state.String()).Inc()

		switch state {
		case gate.Authorized:
			next(huma.WithContext(ctx, session.WithSession(ctx.Context(), sess)))
		case gate.Unauthenticated:
			_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "authentication required")
		case gate.Forbidden:
			audit.Event{
				Actor:      id.Email,
				Role:       sess.Role.String(),
				Action:     ctx.Operation().OperationID,
				Status:     "denied",
				Method:     ctx.Method(),
				HTTPStatus: http.StatusForbidden,
				Reason:     "requires " + req.String(),
				IP:         ctx.RemoteAddr(),
				Channel:    "api",
			}.Warn("Audit Log: Access Denied")
			_ = huma.WriteErr(api, ctx, http.StatusForbidden, "admin role required")
		default:
			ctx.SetHeader("Retry-After", "1")
			_ = huma.WriteErr(api, ctx, http.StatusServiceUnavailable, "session is still being resolved")
		}
	}
}
