// Package model содержит доменные сущности витрины магазина.
package model

import (
	"strconv"
	"time"
)

// Уровни прав доступа пользователя к функциям бэк-офиса.
const (
	PermissionCustomer  = 0
	PermissionWarehouse = 1
	PermissionManage    = 2
)

// User представляет зарегистрированного пользователя магазина.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash []byte
	Permission   int
	CreatedAt    time.Time
}

// Category описывает категорию товаров каталога.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Product описывает товар каталога. Available — единственный источник истины
// для контроля резервирования; уменьшается только расчётом по оплате и
// правками бэк-офиса. Поле знаковое: расчёт не ограничивает остаток нулём.
type Product struct {
	ID          int64     `json:"id"`
	CategoryID  int64     `json:"category_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Price       int64     `json:"price"`
	Available   int64     `json:"available"`
	CreatedAt   time.Time `json:"-"`
}

// OwnerKind различает два вида владельцев корзины.
type OwnerKind string

// Виды владельцев корзины: аутентифицированный пользователь и анонимный
// посетитель с токеном.
const (
	OwnerKindUser    OwnerKind = "user"
	OwnerKindVisitor OwnerKind = "visitor"
)

// Owner — закрытый двухвариантный тип владельца корзины. Корзина анонимного
// посетителя не сливается с корзиной пользователя при входе: записи остаются
// за токеном посетителя.
type Owner struct {
	Kind   OwnerKind
	UserID int64
	Token  string
}

// UserOwner возвращает владельца-пользователя.
func UserOwner(id int64) Owner {
	return Owner{Kind: OwnerKindUser, UserID: id}
}

// VisitorOwner возвращает владельца-посетителя по токену.
func VisitorOwner(token string) Owner {
	return Owner{Kind: OwnerKindVisitor, Token: token}
}

// Key возвращает строковый ключ владельца для хранения.
func (o Owner) Key() string {
	if o.Kind == OwnerKindUser {
		return strconv.FormatInt(o.UserID, 10)
	}
	return o.Token
}

// BasketEntry описывает резерв товара в корзине владельца.
// На пару (владелец, товар) существует не более одной записи.
type BasketEntry struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

// BasketItem — запись корзины вместе с текущим состоянием товара,
// используется перечислением корзины и сборкой платёжной сессии.
type BasketItem struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Available int64  `json:"available"`
	Quantity  int64  `json:"quantity"`
}

// OrderStatus описывает статус заказа.
type OrderStatus string

// Статусы заказа: создан расчётом по оплате, закрыт бэк-офисом.
const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFulfilled OrderStatus = "fulfilled"
)

// Order — неизменяемая запись о расчёте по оплате. Создаётся только
// обработчиком уведомлений провайдера; статус меняет только бэк-офис.
type Order struct {
	ID          int64       `json:"id"`
	City        string      `json:"city"`
	Country     string      `json:"country"`
	Line1       string      `json:"line1"`
	Line2       string      `json:"line2"`
	PostalCode  string      `json:"postal_code"`
	Body        string      `json:"body"`
	AmountTotal float64     `json:"amount_total"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
}
