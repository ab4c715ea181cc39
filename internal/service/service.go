// Package service реализует бизнес-логику витрины магазина.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/payment"
	"github.com/mmeshcher/storefront-system/internal/repository"
	"github.com/mmeshcher/storefront-system/internal/validation"
)

// ErrInsufficientStock возвращается, когда резерв превысил бы доступный остаток товара.
var (
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidQuantity возвращается на нулевое или отрицательное изменение количества.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrEmptyBasket возвращается при попытке оформить пустую корзину.
	ErrEmptyBasket = errors.New("basket is empty")
	// ErrInvalidCredentials возвращается при неверной паре почта/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, username, email string, passwordHash []byte, permission int) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserPermission(ctx context.Context, userID int64) (int, error)
	CreateCategory(ctx context.Context, name string) (int64, error)
	ListCategories(ctx context.Context) ([]model.Category, error)
	DeleteCategory(ctx context.Context, id int64) error
	CreateProduct(ctx context.Context, p *model.Product) (int64, error)
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	ListProducts(ctx context.Context, filter repository.ProductFilter) ([]model.Product, error)
	UpdateProduct(ctx context.Context, p *model.Product) error
	DeleteProduct(ctx context.Context, id int64) error
	CreateVisitorToken(ctx context.Context, token string) error
	VisitorTokenExists(ctx context.Context, token string) (bool, error)
	GetBasketEntry(ctx context.Context, owner model.Owner, productID int64) (*model.BasketEntry, error)
	ListBasketItems(ctx context.Context, owner model.Owner) ([]model.BasketItem, error)
	UpsertBasketEntry(ctx context.Context, owner model.Owner, productID, delta int64) error
	DecrementBasketEntry(ctx context.Context, owner model.Owner, productID, n int64) error
	DeleteBasketEntry(ctx context.Context, owner model.Owner, productID int64) error
	DeleteBasketEntriesByOwner(ctx context.Context, owner model.Owner) error
	ApplySettlementLine(ctx context.Context, productID, quantity int64) error
	CreateOrder(ctx context.Context, o *model.Order) (int64, error)
	ListOrdersByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status model.OrderStatus) error
}

// PaymentClient описывает контракт платёжного провайдера, используемый сервисом.
type PaymentClient interface {
	CreateSession(ctx context.Context, req *payment.SessionRequest) (*payment.Session, error)
}

// Options содержит параметры оформления заказа и проверки уведомлений.
type Options struct {
	Currency         string
	Locale           string
	AllowedCountries []string
	SuccessURL       string
	CancelURL        string
	WebhookSecret    string
}

// Service содержит бизнес-логику витрины магазина.
type Service struct {
	repo          Repository
	paymentClient PaymentClient
	opts          Options
}

// NewService создаёт новый сервис с указанным репозиторием и платёжным клиентом.
func NewService(repo Repository, paymentClient PaymentClient, opts Options) *Service {
	return &Service{
		repo:          repo,
		paymentClient: paymentClient,
		opts:          opts,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя с базовыми правами покупателя.
func (s *Service) RegisterUser(ctx context.Context, username, email, password string) (int64, error) {
	hashed := hashPassword(email, password)
	id, err := s.repo.CreateUser(ctx, username, email, hashed, model.PermissionCustomer)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет почту и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (int64, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(email, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(email, password string) []byte {
	sum := sha256.Sum256([]byte(email + ":" + password))
	return sum[:]
}

// GetUserPermission возвращает уровень прав пользователя.
func (s *Service) GetUserPermission(ctx context.Context, userID int64) (int, error) {
	return s.repo.GetUserPermission(ctx, userID)
}

// ResolveVisitor возвращает владельца-посетителя по токену из cookie.
// Неизвестный или пустой токен заменяется новым, который сохраняется в
// хранилище; признак created сообщает вызывающему о необходимости выставить
// cookie. Повторные вызовы с выставленной cookie новых токенов не создают.
func (s *Service) ResolveVisitor(ctx context.Context, token string) (model.Owner, bool, error) {
	if validation.IsValidVisitorToken(token) {
		exists, err := s.repo.VisitorTokenExists(ctx, token)
		if err != nil {
			return model.Owner{}, false, err
		}
		if exists {
			return model.VisitorOwner(token), false, nil
		}
	}

	token = uuid.NewString()
	if err := s.repo.CreateVisitorToken(ctx, token); err != nil {
		return model.Owner{}, false, err
	}

	return model.VisitorOwner(token), true, nil
}

// TryReserve применяет запрошенное изменение резерва к корзине владельца.
// Нулевое изменение — ошибка, а не тихий успех. Проверка остатка и запись
// намеренно не изолированы друг от друга: параллельные резервы разных
// посетителей могут совместно превысить остаток, это разрешается расчётом
// по оплате.
func (s *Service) TryReserve(ctx context.Context, owner model.Owner, productID, delta int64) error {
	if delta <= 0 {
		return ErrInvalidQuantity
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return err
	}

	var current int64
	entry, err := s.repo.GetBasketEntry(ctx, owner, productID)
	switch {
	case err == nil:
		current = entry.Quantity
	case errors.Is(err, repository.ErrBasketEntryNotFound):
	default:
		return err
	}

	if current+delta > product.Available {
		return ErrInsufficientStock
	}

	return s.repo.UpsertBasketEntry(ctx, owner, productID, delta)
}

// Decrement уменьшает резерв владельца на n; обнулённая запись удаляется.
func (s *Service) Decrement(ctx context.Context, owner model.Owner, productID, n int64) error {
	if n <= 0 {
		return ErrInvalidQuantity
	}
	return s.repo.DecrementBasketEntry(ctx, owner, productID, n)
}

// RemoveBasketEntry удаляет запись корзины независимо от количества.
func (s *Service) RemoveBasketEntry(ctx context.Context, owner model.Owner, productID int64) error {
	return s.repo.DeleteBasketEntry(ctx, owner, productID)
}

// ListBasket возвращает содержимое корзины владельца.
func (s *Service) ListBasket(ctx context.Context, owner model.Owner) ([]model.BasketItem, error) {
	return s.repo.ListBasketItems(ctx, owner)
}

// ClearBasket удаляет все записи корзины владельца.
func (s *Service) ClearBasket(ctx context.Context, owner model.Owner) error {
	return s.repo.DeleteBasketEntriesByOwner(ctx, owner)
}

// BuildCheckoutSession собирает корзину владельца в платёжную сессию.
// Сначала из корзины удаляются записи товаров с исчерпанным остатком, затем
// по уже зачищенному состоянию собираются предупреждения о нехватке; при
// любых предупреждениях сессия не открывается. Ошибка провайдера не
// смешивается с нехваткой товара и возвращается отдельно.
func (s *Service) BuildCheckoutSession(ctx context.Context, owner model.Owner) (*payment.Session, []string, error) {
	items, err := s.repo.ListBasketItems(ctx, owner)
	if err != nil {
		return nil, nil, err
	}
	if len(items) == 0 {
		return nil, nil, ErrEmptyBasket
	}

	kept := items[:0]
	for _, it := range items {
		if it.Available <= 0 {
			if err := s.repo.DeleteBasketEntry(ctx, owner, it.ProductID); err != nil &&
				!errors.Is(err, repository.ErrBasketEntryNotFound) {
				return nil, nil, err
			}
			continue
		}
		kept = append(kept, it)
	}

	var alerts []string
	for _, it := range kept {
		if it.Quantity > it.Available {
			alerts = append(alerts, fmt.Sprintf("product %s is out of stock: requested %d, available %d",
				it.Name, it.Quantity, it.Available))
		}
	}
	if len(alerts) > 0 {
		return nil, alerts, nil
	}

	lineItems := make([]payment.LineItem, 0, len(kept))
	metadata := make(map[string]string, len(kept))
	for _, it := range kept {
		lineItems = append(lineItems, payment.LineItem{
			Name:       it.Name,
			UnitAmount: it.Price * 100,
			Quantity:   it.Quantity,
			Currency:   s.opts.Currency,
		})
		metadata[strconv.FormatInt(it.ProductID, 10)] = strconv.FormatInt(it.Quantity, 10)
	}

	session, err := s.paymentClient.CreateSession(ctx, &payment.SessionRequest{
		Mode:             "payment",
		LineItems:        lineItems,
		Metadata:         metadata,
		AllowedCountries: s.opts.AllowedCountries,
		SuccessURL:       s.opts.SuccessURL,
		CancelURL:        s.opts.CancelURL,
		Locale:           s.opts.Locale,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create payment session: %w", err)
	}

	return session, nil, nil
}

// CreateProduct сохраняет новый товар каталога.
func (s *Service) CreateProduct(ctx context.Context, p *model.Product) (int64, error) {
	return s.repo.CreateProduct(ctx, p)
}

// GetProduct возвращает товар по идентификатору.
func (s *Service) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// ListProducts возвращает товары каталога с учётом фильтров.
func (s *Service) ListProducts(ctx context.Context, filter repository.ProductFilter) ([]model.Product, error) {
	return s.repo.ListProducts(ctx, filter)
}

// UpdateProduct обновляет поля товара.
func (s *Service) UpdateProduct(ctx context.Context, p *model.Product) error {
	return s.repo.UpdateProduct(ctx, p)
}

// DeleteProduct удаляет товар и очищает ссылающиеся на него корзины.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	return s.repo.DeleteProduct(ctx, id)
}

// CreateCategory создаёт категорию каталога.
func (s *Service) CreateCategory(ctx context.Context, name string) (int64, error) {
	return s.repo.CreateCategory(ctx, name)
}

// ListCategories возвращает все категории каталога.
func (s *Service) ListCategories(ctx context.Context) ([]model.Category, error) {
	return s.repo.ListCategories(ctx)
}

// DeleteCategory удаляет категорию без товаров.
func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	return s.repo.DeleteCategory(ctx, id)
}

// ListOrdersByStatus возвращает заказы с указанным статусом.
func (s *Service) ListOrdersByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	return s.repo.ListOrdersByStatus(ctx, status)
}

// FulfillOrder закрывает заказ бэк-офисом.
func (s *Service) FulfillOrder(ctx context.Context, id int64) error {
	return s.repo.UpdateOrderStatus(ctx, id, model.OrderStatusFulfilled)
}
