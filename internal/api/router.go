package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tracemark/internal/issuance"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *issuance.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Identity directory.
	r.Post("/identities", h.RegisterIdentity)
	r.Get("/identities", h.FindIdentity)
	r.Get("/identities/{id}", h.GetIdentity)
	r.Get("/identities/{id}/issuances", h.ListIssuances)

	// Issuance and attribution.
	r.Post("/issuances", h.Issue)
	r.Get("/issuances/{fingerprint}", h.LookupFingerprint)
	r.Post("/issuances/{fingerprint}/verify", h.Verify)
	r.Post("/scan", h.Scan)

	r.Get("/stats", h.Stats)

	// Issued artifacts.
	r.Get("/artifacts", h.ListArtifacts)
	r.Get("/artifacts/*", h.GetArtifact)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
