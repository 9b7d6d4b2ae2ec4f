// Package api implements the SES-compatible HTTP surface of the mock:
// the query-API action dispatcher plus the management endpoints test
// suites use to inspect and steer it.
package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/flitsmeister/mock-ses-server/internal/store"
	"github.com/flitsmeister/mock-ses-server/pkg/simcore"
)

// Handler holds all API handler state.
type Handler struct {
	store *store.MemoryStore
	mw    *simcore.Middleware
}

// NewHandler creates a new API handler.
func NewHandler(s *store.MemoryStore, mw *simcore.Middleware) *Handler {
	return &Handler{store: s, mw: mw}
}

// Routes mounts the SES API and management routes. The POST catch-all
// is the query-API endpoint: SES clients post their form-encoded
// action to any path, "/" included.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.FaultInjection)

		r.Get("/emails", h.ListEmails)
		r.Delete("/emails", h.ClearEmails)
		r.Get("/emails/wait", h.WaitEmails)
		r.Post("/errors", h.PushErrors)

		r.Post("/*", h.Action)
	})

	// Admin extras (not part of the wire-compatible surface)
	r.Get("/admin/emails", h.AdminListEmails)
}
