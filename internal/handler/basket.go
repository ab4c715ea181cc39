package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-system/internal/middleware"
	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/payment"
	"github.com/mmeshcher/storefront-system/internal/repository"
	"github.com/mmeshcher/storefront-system/internal/service"
)

// ListProducts возвращает каталог товаров с необязательными фильтрами
// по категории и ценовому диапазону.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	var filter repository.ProductFilter

	if raw := r.URL.Query().Get("category"); raw != "" {
		categoryID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		filter.CategoryID = categoryID
	}

	if raw := r.URL.Query().Get("price"); raw != "" {
		band, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		filter.PriceBand = band
	}

	products, err := h.service.ListProducts(r.Context(), filter)
	if err != nil {
		h.logger.Error("list products error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, products)
}

// GetProduct возвращает карточку одного товара.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	product, err := h.service.GetProduct(r.Context(), productID)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get product error", zap.Error(err), zap.Int64("productID", productID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, product)
}

// ListCategories возвращает список категорий каталога.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		h.logger.Error("list categories error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, categories)
}

// GetBasket возвращает содержимое корзины текущего владельца.
func (h *Handler) GetBasket(w http.ResponseWriter, r *http.Request) {
	owner, err := h.resolveOwner(w, r)
	if err != nil {
		h.logger.Error("resolve owner error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	items, err := h.service.ListBasket(r.Context(), owner)
	if err != nil {
		h.logger.Error("list basket error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, items)
}

type basketRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

// UpdateBasket изменяет количество товара в корзине: положительное значение
// добавляет позиции с проверкой остатка, отрицательное убавляет.
func (h *Handler) UpdateBasket(w http.ResponseWriter, r *http.Request) {
	var req basketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	owner, err := h.resolveOwner(w, r)
	if err != nil {
		h.logger.Error("resolve owner error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	switch {
	case req.Quantity > 0:
		err = h.service.TryReserve(r.Context(), owner, req.ProductID, req.Quantity)
	case req.Quantity < 0:
		err = h.service.Decrement(r.Context(), owner, req.ProductID, -req.Quantity)
	default:
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientStock):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, service.ErrInvalidQuantity):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, repository.ErrProductNotFound), errors.Is(err, repository.ErrBasketEntryNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("update basket error", zap.Error(err), zap.Int64("productID", req.ProductID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

// RemoveBasketEntry удаляет позицию из корзины целиком.
func (h *Handler) RemoveBasketEntry(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	owner, err := h.resolveOwner(w, r)
	if err != nil {
		h.logger.Error("resolve owner error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if err := h.service.RemoveBasketEntry(r.Context(), owner, productID); err != nil {
		if errors.Is(err, repository.ErrBasketEntryNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("remove basket entry error", zap.Error(err), zap.Int64("productID", productID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type checkoutResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type checkoutAlertsResponse struct {
	Alerts []string `json:"alerts"`
}

// Checkout создаёт платёжную сессию у внешнего провайдера для текущей корзины.
// Пустая корзина отвечает 204, нехватка остатков — 409 со списком проблемных
// позиций, отказ провайдера — 502.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	owner, err := h.resolveOwner(w, r)
	if err != nil {
		h.logger.Error("resolve owner error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	session, alerts, err := h.service.BuildCheckoutSession(r.Context(), owner)
	if err != nil {
		if errors.Is(err, service.ErrEmptyBasket) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.logger.Error("checkout error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	if len(alerts) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		if err := json.NewEncoder(w).Encode(checkoutAlertsResponse{Alerts: alerts}); err != nil {
			h.logger.Error("encode alerts error", zap.Error(err))
		}
		return
	}

	h.writeJSON(w, checkoutResponse{ID: session.ID, URL: session.URL})
}

// Success очищает корзину после возврата покупателя со страницы оплаты.
func (h *Handler) Success(w http.ResponseWriter, r *http.Request) {
	var owner model.Owner

	if userID, ok := middleware.GetUserIDFromContext(r.Context()); ok {
		owner = model.UserOwner(userID)
	} else {
		token, ok := h.authMiddleware.VisitorToken(r)
		if !ok {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		owner = model.VisitorOwner(token)
	}

	if err := h.service.ClearBasket(r.Context(), owner); err != nil {
		h.logger.Error("clear basket error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type webhookResponse struct {
	Success bool `json:"success"`
}

// Webhook принимает уведомление платёжного провайдера о завершении оплаты.
// Подпись проверяется до разбора тела; неизвестные типы событий
// подтверждаются без обработки.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	order, err := h.service.HandleNotification(r.Context(), payload, r.Header.Get(payment.SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrSignatureInvalid), errors.Is(err, payment.ErrMalformedPayload):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, repository.ErrProductNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("webhook error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	if order != nil {
		h.logger.Info("order settled",
			zap.Int64("orderID", order.ID),
			zap.Float64("amount", order.AmountTotal),
		)
	}

	h.writeJSON(w, webhookResponse{Success: true})
}
