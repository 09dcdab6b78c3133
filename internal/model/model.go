// Package model содержит доменные сущности клиента KPABK Connect.
package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Role описывает роль пользователя в системе.
type Role string

const (
	RoleUnknown  Role = ""
	RoleAdmin    Role = "ADMIN"
	RoleOutlet   Role = "OUTLET"
	RoleCustomer Role = "CUSTOMER"
)

// ParseRole приводит строковое представление роли к закрытому перечислению.
// Регистр и префикс ROLE_ игнорируются, неизвестные значения дают RoleUnknown.
func ParseRole(s string) Role {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "ROLE_")
	switch Role(s) {
	case RoleAdmin, RoleOutlet, RoleCustomer:
		return Role(s)
	default:
		return RoleUnknown
	}
}

// UnmarshalText нормализует роль при разборе ответа сервера.
func (r *Role) UnmarshalText(text []byte) error {
	*r = ParseRole(string(text))
	return nil
}

// UserProfile описывает текущего пользователя сессии.
type UserProfile struct {
	ID          int64  `json:"id,omitempty"`
	Email       string `json:"email"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Role        Role   `json:"role"`
	OutletID    *int64 `json:"outletId,omitempty"`
	OutletName  string `json:"outletName,omitempty"`
}

// Name возвращает отображаемое имя пользователя.
// Если displayName не задан, имя выводится из локальной части email.
func (u *UserProfile) Name() string {
	if u == nil {
		return "User"
	}
	if name := strings.TrimSpace(u.DisplayName); name != "" {
		return name
	}
	local, _, _ := strings.Cut(u.Email, "@")
	if local == "" {
		return "User"
	}
	return strings.ToUpper(local[:1]) + strings.ToLower(local[1:])
}

// LoginResponse описывает ответ на POST /auth/login.
type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Email       string `json:"email"`
	Role        Role   `json:"role"`
	OutletID    *int64 `json:"outletId,omitempty"`
	ID          int64  `json:"id,omitempty"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Profile возвращает профиль пользователя, содержащийся в ответе на вход.
func (l *LoginResponse) Profile() *UserProfile {
	return &UserProfile{
		ID:          l.ID,
		Email:       l.Email,
		FirstName:   l.FirstName,
		LastName:    l.LastName,
		DisplayName: l.DisplayName,
		Role:        l.Role,
		OutletID:    l.OutletID,
	}
}

// RegisterRequest описывает тело запроса POST /auth/register.
type RegisterRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      Role   `json:"role"`
	OutletID  *int64 `json:"outletId,omitempty"`
}

// Pagination содержит метаданные страницы списка в том виде, в каком их вернул сервер.
type Pagination struct {
	Page          int   `json:"page"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
}

// HasNext сообщает, есть ли на сервере следующая страница.
func (p Pagination) HasNext() bool {
	return p.Page+1 < p.TotalPages
}

// Page описывает страницу списка с метаданными пагинации.
type Page[T any] struct {
	Content []T `json:"content"`
	Pagination
}

// Outlet описывает торговую точку.
type Outlet struct {
	ID          int64     `json:"id"`
	OutletName  string    `json:"outletName"`
	OwnerName   string    `json:"ownerName"`
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	Address     string    `json:"address,omitempty"`
	City        string    `json:"city,omitempty"`
	State       string    `json:"state,omitempty"`
	Pincode     string    `json:"pincode,omitempty"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

// OutletRequest описывает тело запроса создания и изменения торговой точки.
type OutletRequest struct {
	OutletName  string `json:"outletName"`
	OwnerName   string `json:"ownerName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Address     string `json:"address,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	Pincode     string `json:"pincode,omitempty"`
	IsActive    *bool  `json:"isActive,omitempty"`
}

// OutletProduct описывает товар в ассортименте торговой точки.
type OutletProduct struct {
	ID                   int64    `json:"id,omitempty"`
	OutletID             int64    `json:"outletId,omitempty"`
	ProductID            string   `json:"productId"`
	ProductName          string   `json:"productName,omitempty"`
	BasePrice            float64  `json:"basePrice,omitempty"`
	OutletPrice          *float64 `json:"outletPrice,omitempty"`
	IsAvailable          bool     `json:"isAvailable"`
	MinimumOrderQuantity *int     `json:"minimumOrderQuantity,omitempty"`
	StockQuantity        *int     `json:"stockQuantity,omitempty"`
}

// OutletProductRequest описывает тело PUT /outlets/{id}/products.
type OutletProductRequest struct {
	ProductID            string   `json:"productId"`
	OutletPrice          *float64 `json:"outletPrice,omitempty"`
	IsAvailable          *bool    `json:"isAvailable,omitempty"`
	MinimumOrderQuantity *int     `json:"minimumOrderQuantity,omitempty"`
	StockQuantity        *int     `json:"stockQuantity,omitempty"`
}

// User описывает учётную запись пользователя в административном разделе.
type User struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"firstName,omitempty"`
	LastName    string    `json:"lastName,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Role        Role      `json:"role"`
	OutletID    *int64    `json:"outletId,omitempty"`
	OutletName  string    `json:"outletName,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

// UserRequest описывает тело запроса создания и изменения пользователя.
type UserRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Role      Role   `json:"role"`
	OutletID  *int64 `json:"outletId,omitempty"`
}

// ProductType описывает категорию товара в каталоге.
type ProductType string

const (
	ProductTypeVeg      ProductType = "VEG"
	ProductTypeNonVeg   ProductType = "NON_VEG"
	ProductTypeBeverage ProductType = "BEVERAGE"
	ProductTypeSnacks   ProductType = "SNACKS"
	ProductTypeDessert  ProductType = "DESSERT"
	ProductTypeOther    ProductType = "OTHER"
)

// ProductUnit описывает единицу продажи товара.
type ProductUnit string

const (
	UnitPacket   ProductUnit = "PAC"
	UnitKilogram ProductUnit = "KGS"
	UnitSet      ProductUnit = "SET"
	UnitPiece    ProductUnit = "PCS"
	UnitOther    ProductUnit = "OTHER"
)

// Product описывает товар каталога.
type Product struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	BasePrice    float64     `json:"basePrice"`
	ProductType  ProductType `json:"productType,omitempty"`
	Unit         ProductUnit `json:"unit,omitempty"`
	CategoryID   string      `json:"categoryId,omitempty"`
	CategoryName string      `json:"categoryName,omitempty"`
	ImageURL     string      `json:"imageUrl,omitempty"`
	IsActive     bool        `json:"isActive"`
}

// Category описывает категорию каталога.
type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"isActive"`
}

// CartItem описывает позицию корзины.
type CartItem struct {
	ID          int64       `json:"id"`
	UserID      int64       `json:"userId,omitempty"`
	ProductID   string      `json:"productId"`
	ProductName string      `json:"productName"`
	BasePrice   float64     `json:"basePrice"`
	ProductType ProductType `json:"productType,omitempty"`
	Unit        ProductUnit `json:"unit,omitempty"`
	Quantity    int         `json:"quantity"`
	AddedAt     time.Time   `json:"addedAt,omitzero"`
	UpdatedAt   time.Time   `json:"updatedAt,omitzero"`
}

// CartItemRequest описывает тело запросов добавления и изменения позиции корзины.
type CartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// OrderStatus описывает этап жизненного цикла заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusPreparing OrderStatus = "PREPARING"
	OrderStatusReady     OrderStatus = "READY"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// ParseOrderStatus проверяет строку статуса заказа.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparing,
		OrderStatusReady, OrderStatusDelivered, OrderStatusCancelled:
		return st, true
	}
	return "", false
}

// ID хранит идентификатор, который сервер присылает числом или строкой (UUID).
type ID string

// UnmarshalJSON принимает числовое и строковое представление идентификатора.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// String возвращает идентификатор как строку.
func (id ID) String() string {
	return string(id)
}

// OrderItem описывает позицию заказа.
type OrderItem struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice,omitempty"`
	LineTotal   float64 `json:"lineTotal,omitempty"`
}

// Order описывает заказ, созданный на сервере.
type Order struct {
	ID            ID          `json:"id"`
	OrderNumber   string      `json:"orderNumber,omitempty"`
	OutletID      int64       `json:"outletId"`
	CustomerID    *int64      `json:"customerId,omitempty"`
	Status        OrderStatus `json:"status,omitempty"`
	TotalAmount   float64     `json:"totalAmount,omitempty"`
	PaymentStatus string      `json:"paymentStatus,omitempty"`
	Items         []OrderItem `json:"items,omitempty"`
	CreatedAt     time.Time   `json:"createdAt,omitzero"`
	UpdatedAt     time.Time   `json:"updatedAt,omitzero"`
}

// OrderLine описывает позицию в запросе создания заказа.
type OrderLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// CreateOrderRequest описывает тело POST /orders.
type CreateOrderRequest struct {
	OutletID int64       `json:"outletId"`
	Items    []OrderLine `json:"items"`
}

// PaymentInitiation описывает ответ POST /payments/create/{orderId}.
// Поля сделаны указателями, чтобы отличать отсутствующее значение от нулевого.
type PaymentInitiation struct {
	PaymentID       ID       `json:"paymentId"`
	RazorpayOrderID string   `json:"razorpayOrderId"`
	Amount          *float64 `json:"amount"`
	Currency        string   `json:"currency,omitempty"`
	RazorpayKeyID   string   `json:"razorpayKeyId,omitempty"`
}

// VerifyPaymentRequest описывает тело POST /payment/verify.
type VerifyPaymentRequest struct {
	GatewayOrderID string `json:"gatewayOrderId"`
	PaymentID      string `json:"paymentId"`
	Signature      string `json:"signature"`
}

// VerifyPaymentResult описывает результат проверки платежа.
type VerifyPaymentResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// PaymentMethod описывает способ оплаты, передаваемый виджету.
type PaymentMethod string

const (
	PaymentMethodAny        PaymentMethod = ""
	PaymentMethodUPI        PaymentMethod = "upi"
	PaymentMethodCard       PaymentMethod = "card"
	PaymentMethodNetbanking PaymentMethod = "netbanking"
	PaymentMethodWallet     PaymentMethod = "wallet"
)

// ParsePaymentMethod сопоставляет выбор пользователя со способом оплаты шлюза.
// QR-код оплачивается через UPI.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return PaymentMethodAny, true
	case "upi", "qr":
		return PaymentMethodUPI, true
	case "card":
		return PaymentMethodCard, true
	case "netbanking":
		return PaymentMethodNetbanking, true
	case "wallet":
		return PaymentMethodWallet, true
	}
	return "", false
}
