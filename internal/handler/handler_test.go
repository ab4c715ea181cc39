package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-system/internal/middleware"
	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/payment"
	"github.com/mmeshcher/storefront-system/internal/repository"
	"github.com/mmeshcher/storefront-system/internal/service"
)

type stubService struct {
	registerFn      func(ctx context.Context, username, email, password string) (int64, error)
	authenticateFn  func(ctx context.Context, email, password string) (int64, error)
	permissionFn    func(ctx context.Context, userID int64) (int, error)
	resolveFn       func(ctx context.Context, token string) (model.Owner, bool, error)
	listProductsFn  func(ctx context.Context, filter repository.ProductFilter) ([]model.Product, error)
	getProductFn    func(ctx context.Context, id int64) (*model.Product, error)
	tryReserveFn    func(ctx context.Context, owner model.Owner, productID, delta int64) error
	decrementFn     func(ctx context.Context, owner model.Owner, productID, n int64) error
	listBasketFn    func(ctx context.Context, owner model.Owner) ([]model.BasketItem, error)
	checkoutFn      func(ctx context.Context, owner model.Owner) (*payment.Session, []string, error)
	notificationFn  func(ctx context.Context, payload []byte, sigHeader string) (*model.Order, error)
	fulfillFn       func(ctx context.Context, id int64) error
	listOrdersFn    func(ctx context.Context, status model.OrderStatus) ([]model.Order, error)
	createProductFn func(ctx context.Context, p *model.Product) (int64, error)
}

func (s *stubService) RegisterUser(ctx context.Context, username, email, password string) (int64, error) {
	if s.registerFn != nil {
		return s.registerFn(ctx, username, email, password)
	}
	return 1, nil
}

func (s *stubService) AuthenticateUser(ctx context.Context, email, password string) (int64, error) {
	if s.authenticateFn != nil {
		return s.authenticateFn(ctx, email, password)
	}
	return 1, nil
}

func (s *stubService) GetUserPermission(ctx context.Context, userID int64) (int, error) {
	if s.permissionFn != nil {
		return s.permissionFn(ctx, userID)
	}
	return model.PermissionCustomer, nil
}

func (s *stubService) ResolveVisitor(ctx context.Context, token string) (model.Owner, bool, error) {
	if s.resolveFn != nil {
		return s.resolveFn(ctx, token)
	}
	return model.VisitorOwner("5f0c6e14-9f3e-4f6a-92f1-0a4ed0a1b2c3"), true, nil
}

func (s *stubService) ListProducts(ctx context.Context, filter repository.ProductFilter) ([]model.Product, error) {
	if s.listProductsFn != nil {
		return s.listProductsFn(ctx, filter)
	}
	return nil, nil
}

func (s *stubService) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	if s.getProductFn != nil {
		return s.getProductFn(ctx, id)
	}
	return nil, repository.ErrProductNotFound
}

func (s *stubService) CreateProduct(ctx context.Context, p *model.Product) (int64, error) {
	if s.createProductFn != nil {
		return s.createProductFn(ctx, p)
	}
	return 1, nil
}

func (s *stubService) UpdateProduct(ctx context.Context, p *model.Product) error { return nil }
func (s *stubService) DeleteProduct(ctx context.Context, id int64) error         { return nil }
func (s *stubService) CreateCategory(ctx context.Context, name string) (int64, error) {
	return 1, nil
}
func (s *stubService) ListCategories(ctx context.Context) ([]model.Category, error) { return nil, nil }
func (s *stubService) DeleteCategory(ctx context.Context, id int64) error           { return nil }

func (s *stubService) ListBasket(ctx context.Context, owner model.Owner) ([]model.BasketItem, error) {
	if s.listBasketFn != nil {
		return s.listBasketFn(ctx, owner)
	}
	return nil, nil
}

func (s *stubService) TryReserve(ctx context.Context, owner model.Owner, productID, delta int64) error {
	if s.tryReserveFn != nil {
		return s.tryReserveFn(ctx, owner, productID, delta)
	}
	return nil
}

func (s *stubService) Decrement(ctx context.Context, owner model.Owner, productID, n int64) error {
	if s.decrementFn != nil {
		return s.decrementFn(ctx, owner, productID, n)
	}
	return nil
}

func (s *stubService) RemoveBasketEntry(ctx context.Context, owner model.Owner, productID int64) error {
	return nil
}

func (s *stubService) ClearBasket(ctx context.Context, owner model.Owner) error { return nil }

func (s *stubService) BuildCheckoutSession(ctx context.Context, owner model.Owner) (*payment.Session, []string, error) {
	if s.checkoutFn != nil {
		return s.checkoutFn(ctx, owner)
	}
	return &payment.Session{ID: "cs_test", URL: "https://pay.example/cs_test"}, nil, nil
}

func (s *stubService) HandleNotification(ctx context.Context, payload []byte, sigHeader string) (*model.Order, error) {
	if s.notificationFn != nil {
		return s.notificationFn(ctx, payload, sigHeader)
	}
	return nil, nil
}

func (s *stubService) ListOrdersByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	if s.listOrdersFn != nil {
		return s.listOrdersFn(ctx, status)
	}
	return nil, nil
}

func (s *stubService) FulfillOrder(ctx context.Context, id int64) error {
	if s.fulfillFn != nil {
		return s.fulfillFn(ctx, id)
	}
	return nil
}

func newTestRouter(t *testing.T, svc Service) (http.Handler, *middleware.AuthMiddleware) {
	t.Helper()
	auth := middleware.NewAuthMiddleware("test-secret")
	h := NewHandler(svc, zap.NewNop(), auth)
	return NewRouter(h, zap.NewNop()), auth
}

func authCookie(t *testing.T, auth *middleware.AuthMiddleware, userID int64) *http.Cookie {
	t.Helper()
	w := httptest.NewRecorder()
	auth.SetAuthCookie(w, userID)
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("no auth cookie set")
	}
	return cookies[0]
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		registerFn func(ctx context.Context, username, email, password string) (int64, error)
		wantStatus int
	}{
		{
			name:       "ok",
			body:       `{"username":"alice","email":"alice@example.com","password":"secret"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "duplicate email",
			body:       `{"username":"alice","email":"alice@example.com","password":"secret"}`,
			registerFn: func(ctx context.Context, username, email, password string) (int64, error) { return 0, repository.ErrUserExists },
			wantStatus: http.StatusConflict,
		},
		{
			name:       "invalid email",
			body:       `{"username":"alice","email":"not-an-email","password":"secret"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing fields",
			body:       `{"username":"alice"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad json",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, &stubService{registerFn: tt.registerFn})

			r := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && len(w.Result().Cookies()) == 0 {
				t.Fatalf("auth cookie not set on successful register")
			}
		})
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := &stubService{
		authenticateFn: func(ctx context.Context, email, password string) (int64, error) {
			return 0, repository.ErrUserNotFound
		},
	}
	router, _ := newTestRouter(t, svc)

	r := httptest.NewRequest(http.MethodPost, "/api/user/login", bytes.NewBufferString(`{"email":"a@b.c","password":"x"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestGetProduct_NotFound(t *testing.T) {
	router, _ := newTestRouter(t, &stubService{})

	r := httptest.NewRequest(http.MethodGet, "/api/products/99", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestListProducts_Filters(t *testing.T) {
	var gotFilter repository.ProductFilter
	svc := &stubService{
		listProductsFn: func(ctx context.Context, filter repository.ProductFilter) ([]model.Product, error) {
			gotFilter = filter
			return []model.Product{{ID: 1, Name: "mug", Price: 12, Available: 3}}, nil
		},
	}
	router, _ := newTestRouter(t, svc)

	r := httptest.NewRequest(http.MethodGet, "/api/products?category=2&price=2", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotFilter.CategoryID != 2 || gotFilter.PriceBand != 2 {
		t.Fatalf("filter = %+v", gotFilter)
	}

	var products []model.Product
	if err := json.NewDecoder(w.Body).Decode(&products); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(products) != 1 || products[0].Name != "mug" {
		t.Fatalf("products = %+v", products)
	}
}

func TestUpdateBasket(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		reserveErr error
		wantStatus int
	}{
		{name: "add ok", body: `{"product_id":1,"quantity":2}`, wantStatus: http.StatusOK},
		{name: "insufficient stock", body: `{"product_id":1,"quantity":5}`, reserveErr: service.ErrInsufficientStock, wantStatus: http.StatusConflict},
		{name: "unknown product", body: `{"product_id":77,"quantity":1}`, reserveErr: repository.ErrProductNotFound, wantStatus: http.StatusNotFound},
		{name: "zero quantity", body: `{"product_id":1,"quantity":0}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{
				tryReserveFn: func(ctx context.Context, owner model.Owner, productID, delta int64) error {
					return tt.reserveErr
				},
			}
			router, _ := newTestRouter(t, svc)

			r := httptest.NewRequest(http.MethodPost, "/api/basket", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestUpdateBasket_SetsVisitorCookie(t *testing.T) {
	router, _ := newTestRouter(t, &stubService{})

	r := httptest.NewRequest(http.MethodPost, "/api/basket", bytes.NewBufferString(`{"product_id":1,"quantity":1}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("visitor cookie not set for anonymous request")
	}
}

func TestCheckout(t *testing.T) {
	tests := []struct {
		name       string
		checkoutFn func(ctx context.Context, owner model.Owner) (*payment.Session, []string, error)
		wantStatus int
	}{
		{
			name:       "ok",
			wantStatus: http.StatusOK,
		},
		{
			name: "empty basket",
			checkoutFn: func(ctx context.Context, owner model.Owner) (*payment.Session, []string, error) {
				return nil, nil, service.ErrEmptyBasket
			},
			wantStatus: http.StatusNoContent,
		},
		{
			name: "stock alerts",
			checkoutFn: func(ctx context.Context, owner model.Owner) (*payment.Session, []string, error) {
				return nil, []string{"product mug is out of stock: requested 5, available 2"}, nil
			},
			wantStatus: http.StatusConflict,
		},
		{
			name: "provider error",
			checkoutFn: func(ctx context.Context, owner model.Owner) (*payment.Session, []string, error) {
				return nil, nil, context.DeadlineExceeded
			},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, &stubService{checkoutFn: tt.checkoutFn})

			r := httptest.NewRequest(http.MethodPost, "/api/basket/checkout", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}

			if tt.wantStatus == http.StatusOK {
				var resp checkoutResponse
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
					t.Fatalf("decode response: %v", err)
				}
				if resp.URL == "" {
					t.Fatalf("empty session url")
				}
			}
		})
	}
}

func TestWebhook(t *testing.T) {
	tests := []struct {
		name           string
		notificationFn func(ctx context.Context, payload []byte, sigHeader string) (*model.Order, error)
		wantStatus     int
	}{
		{
			name: "settled",
			notificationFn: func(ctx context.Context, payload []byte, sigHeader string) (*model.Order, error) {
				return &model.Order{ID: 10, AmountTotal: 25.5}, nil
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "ignored event type",
			notificationFn: func(ctx context.Context, payload []byte, sigHeader string) (*model.Order, error) {
				return nil, nil
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "bad signature",
			notificationFn: func(ctx context.Context, payload []byte, sigHeader string) (*model.Order, error) {
				return nil, payment.ErrSignatureInvalid
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "unknown product",
			notificationFn: func(ctx context.Context, payload []byte, sigHeader string) (*model.Order, error) {
				return nil, repository.ErrProductNotFound
			},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, &stubService{notificationFn: tt.notificationFn})

			r := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(`{"type":"checkout.session.completed"}`))
			r.Header.Set(payment.SignatureHeader, "t=1,v1=00")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestBackOffice_PermissionDeniedAs404(t *testing.T) {
	svc := &stubService{
		permissionFn: func(ctx context.Context, userID int64) (int, error) {
			return model.PermissionCustomer, nil
		},
	}
	router, auth := newTestRouter(t, svc)

	r := httptest.NewRequest(http.MethodGet, "/api/warehouse", nil)
	r.AddCookie(authCookie(t, auth, 3))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestBackOffice_Unauthenticated(t *testing.T) {
	router, _ := newTestRouter(t, &stubService{})

	r := httptest.NewRequest(http.MethodGet, "/api/warehouse", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestWarehouse_WithPermission(t *testing.T) {
	svc := &stubService{
		permissionFn: func(ctx context.Context, userID int64) (int, error) {
			return model.PermissionWarehouse, nil
		},
		listProductsFn: func(ctx context.Context, filter repository.ProductFilter) ([]model.Product, error) {
			return []model.Product{{ID: 1, Name: "mug", Location: "A-3", Available: 7}}, nil
		},
	}
	router, auth := newTestRouter(t, svc)

	r := httptest.NewRequest(http.MethodGet, "/api/warehouse", nil)
	r.AddCookie(authCookie(t, auth, 3))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestListOrders_BadStatus(t *testing.T) {
	svc := &stubService{
		permissionFn: func(ctx context.Context, userID int64) (int, error) {
			return model.PermissionManage, nil
		},
	}
	router, auth := newTestRouter(t, svc)

	r := httptest.NewRequest(http.MethodGet, "/api/orders?status=shipped", nil)
	r.AddCookie(authCookie(t, auth, 3))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestFulfillOrder(t *testing.T) {
	var fulfilled int64
	svc := &stubService{
		permissionFn: func(ctx context.Context, userID int64) (int, error) {
			return model.PermissionManage, nil
		},
		fulfillFn: func(ctx context.Context, id int64) error {
			fulfilled = id
			return nil
		},
	}
	router, auth := newTestRouter(t, svc)

	r := httptest.NewRequest(http.MethodPost, "/api/orders/15/fulfill", nil)
	r.AddCookie(authCookie(t, auth, 3))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if fulfilled != 15 {
		t.Fatalf("fulfilled order id = %d, want 15", fulfilled)
	}
}

func TestSuccess_WithoutVisitor(t *testing.T) {
	router, _ := newTestRouter(t, &stubService{})

	r := httptest.NewRequest(http.MethodGet, "/success", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
