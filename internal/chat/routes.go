package chat

import "github.com/go-chi/chi/v5"

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Route("/finbot", func(r chi.Router) {
		r.Get("/messages", h.HandleMessages)
		r.Post("/messages", h.HandleSubmit)
		r.Delete("/messages", h.HandleClear)

		r.Put("/input", h.HandleSetInput)
		r.Post("/send", h.HandleSend)

		r.Get("/quick", h.HandleQuickList)
		r.Post("/quick/{n}", h.HandleQuickFill)

		r.Get("/status", h.HandleStatus)
		r.Get("/events", h.HandleEvents)
	})
}
