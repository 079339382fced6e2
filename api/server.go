/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers and capability
  checks to routes.

MIDDLEWARE STACK:
  1. RequestID:    Unique ID per request for tracing
  2. RequestLog:   zap access log (method, path, status, duration)
  3. Recoverer:    Panic recovery (500 instead of crash)
  4. CORS:         Cross-origin requests
  5. Authenticate: Bearer token -> identity (all /api routes)

ROUTE GROUPS:
  /health               Liveness, unauthenticated
  /api/me               Caller identity
  /api/products/*       Product catalog lifecycle
  /api/restock/*        Suggestions, restocks, history
  /api/admin/*          Identity administration
  /api/scenarios/*      Demo scenarios

SEE ALSO:
  - auth.go: Authenticate / RequireAll / RequireAny
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/clinic-engine/access"
	"go.uber.org/zap"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *Authorizer, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	inventory := func(p string) func(http.Handler) http.Handler {
		return auth.RequireAll(access.Cap(access.CategoryInventory, p))
	}
	historyReaders := auth.RequireAny(
		access.Cap(access.CategoryInventory, "canViewHistory"),
		access.Cap(access.CategoryReports, "canViewInventoryReports"),
	)
	manageRoles := auth.RequireAll(access.Cap(access.CategoryUserManagement, "canManageRoles"))
	managePermissions := auth.RequireAll(access.Cap(access.CategoryUserManagement, "canManagePermissions"))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Authenticate)

		r.Get("/me", h.Me)

		// Product routes
		r.Route("/products", func(r chi.Router) {
			r.With(inventory("canView")).Get("/", h.ListProducts)
			r.With(inventory("canEditProducts")).Put("/{id}/status", h.SetProductStatus)
			r.With(inventory("canDeleteProducts")).Delete("/{id}", h.DeleteProduct)
			r.With(inventory("canDeleteProducts")).Post("/{id}/restore", h.RestoreProduct)
		})

		// Restock routes
		r.Route("/restock", func(r chi.Router) {
			r.With(inventory("canView")).Get("/suggestions", h.Suggestions)
			r.With(inventory("canView")).Get("/alerts", h.Alerts)
			r.With(inventory("canCreateRestockOrders")).Post("/", h.Restock)
			r.With(auth.RequireAll(
				access.Cap(access.CategoryInventory, "canCreateRestockOrders"),
				access.Cap(access.CategoryInventory, "canBulkRestock"),
			)).Post("/bulk", h.BulkRestock)
			r.With(historyReaders).Get("/history", h.RestockHistory)
			r.With(historyReaders).Get("/batches", h.ListBatches)
			r.With(historyReaders).Get("/batches/{id}", h.GetBatch)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.With(managePermissions).Put("/identities/{id}", h.UpdateIdentity)
			r.With(managePermissions).Post("/identities/{id}/invalidate", h.InvalidateIdentity)
			r.With(auth.RequireAll(
				access.Cap(access.CategoryUserManagement, "canManagePermissions"),
				access.Cap(access.CategoryUserManagement, "canManageRoles"),
			)).Post("/identity-cache/clear", h.ClearIdentityCache)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.With(manageRoles).Post("/load", h.LoadScenario)
		})
	})

	return r
}

// RequestLogger logs one line per request with zap.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
