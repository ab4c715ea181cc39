package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/repository"
)

type productRequest struct {
	CategoryID  int64  `json:"category_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Price       int64  `json:"price"`
	Available   int64  `json:"available"`
}

type createdResponse struct {
	ID int64 `json:"id"`
}

// CreateProduct добавляет новый товар в каталог. Требуются права управления.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	if !h.requirePermission(w, r, model.PermissionManage) {
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Price <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	product := &model.Product{
		CategoryID:  req.CategoryID,
		Name:        req.Name,
		Description: req.Description,
		Location:    req.Location,
		Price:       req.Price,
		Available:   req.Available,
	}

	id, err := h.service.CreateProduct(r.Context(), product)
	if err != nil {
		if errors.Is(err, repository.ErrCategoryNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("create product error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(createdResponse{ID: id}); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// UpdateProduct изменяет существующий товар. Требуются права управления.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	if !h.requirePermission(w, r, model.PermissionManage) {
		return
	}

	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Price <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	product := &model.Product{
		ID:          productID,
		CategoryID:  req.CategoryID,
		Name:        req.Name,
		Description: req.Description,
		Location:    req.Location,
		Price:       req.Price,
		Available:   req.Available,
	}

	if err := h.service.UpdateProduct(r.Context(), product); err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("update product error", zap.Error(err), zap.Int64("productID", productID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeleteProduct удаляет товар и все его позиции в корзинах.
// Требуются права управления.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if !h.requirePermission(w, r, model.PermissionManage) {
		return
	}

	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteProduct(r.Context(), productID); err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("delete product error", zap.Error(err), zap.Int64("productID", productID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type categoryRequest struct {
	Name string `json:"name"`
}

// CreateCategory добавляет новую категорию каталога. Требуются права управления.
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	if !h.requirePermission(w, r, model.PermissionManage) {
		return
	}

	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.CreateCategory(r.Context(), req.Name)
	if err != nil {
		h.logger.Error("create category error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(createdResponse{ID: id}); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// DeleteCategory удаляет пустую категорию. Категория с товарами отвечает 409.
func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if !h.requirePermission(w, r, model.PermissionManage) {
		return
	}

	categoryID, err := strconv.ParseInt(chi.URLParam(r, "categoryID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteCategory(r.Context(), categoryID); err != nil {
		switch {
		case errors.Is(err, repository.ErrCategoryNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrCategoryHasProducts):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("delete category error", zap.Error(err), zap.Int64("categoryID", categoryID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Warehouse возвращает складской перечень товаров с остатками и размещением.
// Требуются права доступа к складу.
func (h *Handler) Warehouse(w http.ResponseWriter, r *http.Request) {
	if !h.requirePermission(w, r, model.PermissionWarehouse) {
		return
	}

	products, err := h.service.ListProducts(r.Context(), repository.ProductFilter{})
	if err != nil {
		h.logger.Error("list warehouse error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, products)
}

// ListOrders возвращает заказы с указанным статусом, по умолчанию ожидающие
// отгрузки. Требуются права доступа к складу.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	if !h.requirePermission(w, r, model.PermissionWarehouse) {
		return
	}

	status := model.OrderStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.OrderStatusPending
	}
	if status != model.OrderStatusPending && status != model.OrderStatusFulfilled {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	orders, err := h.service.ListOrdersByStatus(r.Context(), status)
	if err != nil {
		h.logger.Error("list orders error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, orders)
}

// FulfillOrder помечает заказ отгруженным. Требуются права управления.
func (h *Handler) FulfillOrder(w http.ResponseWriter, r *http.Request) {
	if !h.requirePermission(w, r, model.PermissionManage) {
		return
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.FulfillOrder(r.Context(), orderID); err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("fulfill order error", zap.Error(err), zap.Int64("orderID", orderID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
