package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/kpabk-connect/internal/middleware"
)

// SetupRouter настраивает маршруты страницы оплаты и обратных вызовов виджета.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/checkout/{session}", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/", h.Page)
		r.Post("/success", h.Success)
		r.Post("/failure", h.Failure)
		r.Post("/dismiss", h.Dismiss)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
