package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/portfolio", func(r chi.Router) {
		r.Get("/{owner}/balances", h.HandleGetBalances)
		r.Get("/{owner}/metadata", h.HandleGetMetadata)
		r.Post("/actions", h.HandleAction)
		r.Post("/flowchart", h.HandleFlowChart)
	})

	if h.dust != nil {
		r.Route("/dust", func(r chi.Router) {
			r.Get("/{owner}/{chain}", h.HandleGetDust)
			r.Post("/{owner}/{chain}", h.HandleConvertDust)
		})
	}
}
