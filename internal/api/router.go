package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/assetforge/internal/assetservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *assetservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/assets", h.ListAssets)
	r.Get("/assets/*", h.GetAsset)
	r.Get("/status", h.Status)
	r.Get("/outputs", h.ListOutputs)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
