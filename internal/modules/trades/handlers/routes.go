package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the trade lifecycle routes. The router must
// already run identity.Middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/trades", func(r chi.Router) {
		r.Post("/", h.HandleSubmit)
		r.Get("/", h.HandleListTrades)

		r.Route("/{tradeId}", func(r chi.Router) {
			r.Get("/", h.HandleGetTrade)
			r.Post("/approve", h.HandleApprove)
			r.Post("/update", h.HandleUpdate)
			r.Post("/cancel", h.HandleCancel)
			r.Post("/send_to_execute", h.HandleSendToExecute)
			r.Post("/book", h.HandleBook)
			r.Get("/history", h.HandleGetHistory)
			r.Get("/diff", h.HandleDiff)
			r.Get("/status", h.HandleGetStatus)
		})
	})
}
