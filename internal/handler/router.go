package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-system/internal/middleware"
)

// NewRouter собирает маршрутизатор API витрины магазина.
func NewRouter(h *Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger(logger))
	r.Use(middleware.GzipMiddleware)

	r.Post("/api/user/register", h.Register)
	r.Post("/api/user/login", h.Login)

	r.Get("/api/products", h.ListProducts)
	r.Get("/api/products/{productID}", h.GetProduct)
	r.Get("/api/categories", h.ListCategories)

	// Уведомление провайдера аутентифицируется подписью тела, не cookie.
	r.Post("/webhook", h.Webhook)

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.OptionalMiddleware)

		r.Get("/api/basket", h.GetBasket)
		r.Post("/api/basket", h.UpdateBasket)
		r.Delete("/api/basket/{productID}", h.RemoveBasketEntry)
		r.Post("/api/basket/checkout", h.Checkout)
		r.Get("/success", h.Success)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/api/products", h.CreateProduct)
		r.Put("/api/products/{productID}", h.UpdateProduct)
		r.Delete("/api/products/{productID}", h.DeleteProduct)
		r.Post("/api/categories", h.CreateCategory)
		r.Delete("/api/categories/{categoryID}", h.DeleteCategory)
		r.Get("/api/warehouse", h.Warehouse)
		r.Get("/api/orders", h.ListOrders)
		r.Post("/api/orders/{orderID}/fulfill", h.FulfillOrder)
	})

	return r
}
