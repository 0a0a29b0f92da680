package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/barpoints-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса баллов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/user/balance", h.GetBalance)
			r.Get("/user/ledger", h.GetLedger)
			r.Get("/user/ledger/summary", h.GetLedgerSummary)

			r.Post("/users/{userID}/bonus", h.GrantBonus)

			r.Post("/products", h.CreateProduct)

			r.Route("/sales", func(r chi.Router) {
				r.Post("/", h.SubmitSale)
				r.Get("/", h.ListSales)
				r.Get("/{saleID}", h.GetSale)
				r.Post("/{saleID}/verify", h.VerifySale)
			})

			r.Route("/prizes", func(r chi.Router) {
				r.Get("/", h.ListPrizes)
				r.Post("/", h.CreatePrize)
				r.Put("/{prizeID}", h.UpdatePrize)
			})

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.GetCart)
				r.Delete("/", h.ClearCart)
				r.Post("/items", h.AddToCart)
				r.Put("/items/{prizeID}", h.UpdateCartItem)
				r.Delete("/items/{prizeID}", h.RemoveCartItem)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", h.Checkout)
				r.Get("/", h.ListOrders)
				r.Get("/{orderID}", h.GetOrder)
				r.Post("/{orderID}/cancel", h.CancelOrder)
				r.Post("/{orderID}/status", h.UpdateOrderStatus)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
