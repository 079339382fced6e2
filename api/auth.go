/*
auth.go - Authentication and authorization middleware

PURPOSE:
  Turns a bearer token into a resolved identity on the request context,
  then gates routes on feature capabilities.

REQUEST FLOW:
  1. Authenticate: verify the token, resolve the subject through the
     identity cache, store the identity in the context
  2. RequireAll / RequireAny: evaluate capabilities for that identity
  3. Handler runs with IdentityFromContext

OUTCOMES:
  401  missing, malformed, or expired token; unknown subject
  403  inactive identity; capability check failed
  503  identity store unavailable or timed out
  500  anything else

  Denials are logged with the failed (category, permission) pairs. The
  pairs are only returned to the client when ExposeDenials is set.

SEE ALSO:
  - access/evaluator.go: RequireAll / RequireAny semantics
  - access/cache.go: Identity resolution
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/warp/clinic-engine/access"
	"github.com/warp/clinic-engine/core"
	"go.uber.org/zap"
)

type contextKey struct{}

var identityKey = contextKey{}

// IdentityFromContext returns the identity set by Authenticate.
func IdentityFromContext(ctx context.Context) (*access.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*access.Identity)
	return id, ok && id != nil
}

func withIdentity(ctx context.Context, id *access.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// Authorizer holds what the auth middleware needs.
type Authorizer struct {
	verifier  *access.TokenVerifier
	cache     *access.IdentityCache
	evaluator *access.Evaluator
	logger    *zap.Logger

	// ExposeDenials returns failed capability pairs in 403 bodies.
	ExposeDenials bool
}

func NewAuthorizer(verifier *access.TokenVerifier, cache *access.IdentityCache, evaluator *access.Evaluator, logger *zap.Logger) *Authorizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authorizer{verifier: verifier, cache: cache, evaluator: evaluator, logger: logger}
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

// Authenticate resolves the bearer token into an active identity.
func (a *Authorizer) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if err != nil {
			a.unauthorized(w, err)
			return
		}

		claims, err := a.verifier.Verify(raw)
		if err != nil {
			var authErr *core.AuthenticationError
			if errors.As(err, &authErr) {
				a.unauthorized(w, authErr)
				return
			}
			a.logger.Error("token verification failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
			return
		}

		identity, err := a.cache.Resolve(r.Context(), claims.Subject)
		if err != nil {
			a.identityFailure(w, claims.Subject, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
	})
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", &core.AuthenticationError{Reason: core.ReasonMissingToken}
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", &core.AuthenticationError{Reason: core.ReasonInvalidToken}
	}
	return strings.TrimSpace(token), nil
}

func (a *Authorizer) unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="clinic"`)
	writeError(w, http.StatusUnauthorized, core.Code(err), err.Error(), nil)
}

func (a *Authorizer) identityFailure(w http.ResponseWriter, subject string, err error) {
	switch {
	case errors.Is(err, core.ErrIdentityNotFound):
		a.logger.Warn("token subject has no identity", zap.String("identity_id", subject))
		a.unauthorized(w, &core.AuthenticationError{Reason: core.ReasonInvalidToken})
	case errors.Is(err, core.ErrIdentityInactive):
		a.logger.Info("inactive identity rejected", zap.String("identity_id", subject))
		writeError(w, http.StatusForbidden, core.Code(err), "account is inactive", nil)
	case core.IsTransient(err):
		a.logger.Error("identity store unavailable", zap.String("identity_id", subject), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, core.Code(err), "service temporarily unavailable", nil)
	default:
		a.logger.Error("identity resolution failed", zap.String("identity_id", subject), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

// =============================================================================
// AUTHORIZATION
// =============================================================================

// RequireAll lets the request through only when every capability is held.
func (a *Authorizer) RequireAll(caps ...core.Capability) func(http.Handler) http.Handler {
	return a.require("all", caps, a.evaluator.RequireAll)
}

// RequireAny lets the request through when at least one capability is held.
func (a *Authorizer) RequireAny(caps ...core.Capability) func(http.Handler) http.Handler {
	return a.require("any", caps, a.evaluator.RequireAny)
}

func (a *Authorizer) require(mode string, caps []core.Capability, check func(*access.Identity, ...core.Capability) access.Decision) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				a.unauthorized(w, &core.AuthenticationError{Reason: core.ReasonMissingToken})
				return
			}

			decision := check(identity, caps...)
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			denied := &core.PermissionDeniedError{IdentityID: identity.ID, Missing: decision.Failed}
			a.logger.Warn("permission denied",
				zap.String("identity_id", identity.ID),
				zap.String("mode", mode),
				zap.Stringers("failed", decision.Failed),
				zap.String("path", r.URL.Path))

			var details any
			if a.ExposeDenials {
				details = decision.Failed
			}
			writeError(w, http.StatusForbidden, core.Code(denied), core.ErrPermissionDenied.Error(), details)
		})
	}
}
