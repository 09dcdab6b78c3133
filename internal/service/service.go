// Package service содержит типизированные вызовы REST API KPABK Connect.
// Все вызовы проходят через шлюз запросов.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mmeshcher/kpabk-connect/internal/model"
)

// API описывает контракт шлюза, используемый сервисом.
type API interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
	Post(ctx context.Context, path string, in, out any) error
	Put(ctx context.Context, path string, in, out any) error
	Patch(ctx context.Context, path string, query url.Values, in, out any) error
	Delete(ctx context.Context, path string) error
}

// Ошибки неполного ответа сервера.
var (
	ErrNoToken           = errors.New("no token in response")
	ErrNoOrderID         = errors.New("order response has no id")
	ErrIncompletePayment = errors.New("payment response is incomplete")
)

// Service содержит вызовы API backend.
type Service struct {
	api API
}

// NewService создаёт сервис поверх шлюза api.
func NewService(api API) *Service {
	return &Service{api: api}
}

// Login выполняет вход по email и паролю.
func (s *Service) Login(ctx context.Context, email, password string) (*model.LoginResponse, error) {
	var resp model.LoginResponse
	body := map[string]string{"email": email, "password": password}
	if err := s.api.Post(ctx, "/auth/login", body, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, ErrNoToken
	}
	return &resp, nil
}

// Register регистрирует нового пользователя.
func (s *Service) Register(ctx context.Context, req model.RegisterRequest) error {
	return s.api.Post(ctx, "/auth/register", req, nil)
}

// Me возвращает профиль текущего пользователя.
func (s *Service) Me(ctx context.Context) (*model.UserProfile, error) {
	var u model.UserProfile
	if err := s.api.Get(ctx, "/users/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// PageQuery задаёт параметры постраничного запроса.
type PageQuery struct {
	Page int
	Size int
}

func (q PageQuery) values() url.Values {
	v := url.Values{}
	size := q.Size
	if size <= 0 {
		size = 20
	}
	v.Set("page", strconv.Itoa(max(0, q.Page)))
	v.Set("size", strconv.Itoa(size))
	return v
}

// ListOutlets возвращает страницу торговых точек.
func (s *Service) ListOutlets(ctx context.Context, q PageQuery, isActive *bool) (*model.Page[model.Outlet], error) {
	v := q.values()
	if isActive != nil {
		v.Set("isActive", strconv.FormatBool(*isActive))
	}
	var page model.Page[model.Outlet]
	if err := s.api.Get(ctx, "/outlets", v, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetOutlet возвращает торговую точку по идентификатору.
func (s *Service) GetOutlet(ctx context.Context, id int64) (*model.Outlet, error) {
	var o model.Outlet
	if err := s.api.Get(ctx, outletPath(id), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateOutlet создаёт торговую точку.
func (s *Service) CreateOutlet(ctx context.Context, req model.OutletRequest) (*model.Outlet, error) {
	var o model.Outlet
	if err := s.api.Post(ctx, "/outlets", req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateOutlet изменяет торговую точку.
func (s *Service) UpdateOutlet(ctx context.Context, id int64, req model.OutletRequest) (*model.Outlet, error) {
	var o model.Outlet
	if err := s.api.Put(ctx, outletPath(id), req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// DeleteOutlet удаляет торговую точку.
func (s *Service) DeleteOutlet(ctx context.Context, id int64) error {
	return s.api.Delete(ctx, outletPath(id))
}

// ListOutletProducts возвращает ассортимент торговой точки.
func (s *Service) ListOutletProducts(ctx context.Context, outletID int64) ([]model.OutletProduct, error) {
	var items []model.OutletProduct
	if err := s.api.Get(ctx, outletPath(outletID)+"/products", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// GetOutletProduct возвращает товар ассортимента торговой точки.
func (s *Service) GetOutletProduct(ctx context.Context, outletID int64, productID string) (*model.OutletProduct, error) {
	var p model.OutletProduct
	path := outletPath(outletID) + "/products/" + url.PathEscape(productID)
	if err := s.api.Get(ctx, path, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertOutletProduct создаёт или изменяет товар в ассортименте торговой точки.
func (s *Service) UpsertOutletProduct(ctx context.Context, outletID int64, req model.OutletProductRequest) (*model.OutletProduct, error) {
	var p model.OutletProduct
	if err := s.api.Put(ctx, outletPath(outletID)+"/products", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SetOutletProductAvailability включает или выключает доступность товара в торговой точке.
func (s *Service) SetOutletProductAvailability(ctx context.Context, outletID int64, productID string, available bool) error {
	path := outletPath(outletID) + "/products/" + url.PathEscape(productID) + "/available"
	v := url.Values{"available": {strconv.FormatBool(available)}}
	return s.api.Patch(ctx, path, v, nil, nil)
}

func outletPath(id int64) string {
	return "/outlets/" + strconv.FormatInt(id, 10)
}

// ListUsers возвращает страницу пользователей. Непустая роль ограничивает выборку.
func (s *Service) ListUsers(ctx context.Context, q PageQuery, role model.Role) (*model.Page[model.User], error) {
	path := "/users"
	if role != model.RoleUnknown {
		path = "/users/by-role/" + string(role)
	}
	var page model.Page[model.User]
	if err := s.api.Get(ctx, path, q.values(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	if err := s.api.Get(ctx, userPath(id), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser создаёт пользователя.
func (s *Service) CreateUser(ctx context.Context, req model.UserRequest) (*model.User, error) {
	var u model.User
	if err := s.api.Post(ctx, "/users", req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUser изменяет пользователя.
func (s *Service) UpdateUser(ctx context.Context, id int64, req model.UserRequest) (*model.User, error) {
	var u model.User
	if err := s.api.Put(ctx, userPath(id), req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SetUserEnabled включает или блокирует пользователя.
func (s *Service) SetUserEnabled(ctx context.Context, id int64, enabled bool) error {
	v := url.Values{"enabled": {strconv.FormatBool(enabled)}}
	return s.api.Patch(ctx, userPath(id)+"/enabled", v, nil, nil)
}

func userPath(id int64) string {
	return "/users/" + strconv.FormatInt(id, 10)
}

// ProductFilter задаёт фильтры и сортировку каталога.
type ProductFilter struct {
	Name        string
	CategoryID  string
	ProductType model.ProductType
	Unit        model.ProductUnit
	MinPrice    *float64
	MaxPrice    *float64
	SortBy      string
	SortDir     string
	// IncludeInactive снимает фильтр isActive=true.
	IncludeInactive bool
}

func (f ProductFilter) values(q PageQuery) url.Values {
	v := q.values()
	sortBy, sortDir := f.SortBy, f.SortDir
	if sortBy == "" {
		sortBy = "name"
	}
	if sortDir == "" {
		sortDir = "asc"
	}
	v.Set("sortBy", sortBy)
	v.Set("sortDir", sortDir)
	if name := strings.TrimSpace(f.Name); name != "" {
		v.Set("name", name)
	}
	if f.CategoryID != "" {
		v.Set("categoryId", f.CategoryID)
	}
	if f.ProductType != "" {
		v.Set("productType", string(f.ProductType))
	}
	if f.Unit != "" {
		v.Set("unit", string(f.Unit))
	}
	if f.MinPrice != nil {
		v.Set("minPrice", strconv.FormatFloat(*f.MinPrice, 'f', -1, 64))
	}
	if f.MaxPrice != nil {
		v.Set("maxPrice", strconv.FormatFloat(*f.MaxPrice, 'f', -1, 64))
	}
	if !f.IncludeInactive {
		v.Set("isActive", "true")
	}
	return v
}

// ListProducts возвращает страницу каталога.
func (s *Service) ListProducts(ctx context.Context, q PageQuery, f ProductFilter) (*model.Page[model.Product], error) {
	var page model.Page[model.Product]
	if err := s.api.Get(ctx, "/products", f.values(q), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListCategories возвращает активные категории каталога.
func (s *Service) ListCategories(ctx context.Context) ([]model.Category, error) {
	var cats []model.Category
	if err := s.api.Get(ctx, "/categories", url.Values{"activeOnly": {"true"}}, &cats); err != nil {
		return nil, err
	}
	return cats, nil
}

// GetCart возвращает позиции корзины текущего пользователя.
func (s *Service) GetCart(ctx context.Context) ([]model.CartItem, error) {
	var items []model.CartItem
	if err := s.api.Get(ctx, "/cart", nil, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.CartItem{}
	}
	return items, nil
}

// AddToCart добавляет товар в корзину.
func (s *Service) AddToCart(ctx context.Context, productID string, quantity int) (*model.CartItem, error) {
	if quantity <= 0 {
		quantity = 1
	}
	var item model.CartItem
	req := model.CartItemRequest{ProductID: productID, Quantity: quantity}
	if err := s.api.Post(ctx, "/cart/add", req, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateCartItem меняет количество товара в корзине. Количество не может быть меньше 1.
func (s *Service) UpdateCartItem(ctx context.Context, productID string, quantity int) (*model.CartItem, error) {
	var item model.CartItem
	req := model.CartItemRequest{ProductID: productID, Quantity: max(1, quantity)}
	if err := s.api.Put(ctx, "/cart/update", req, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteCartItem удаляет позицию корзины по её идентификатору.
func (s *Service) DeleteCartItem(ctx context.Context, cartItemID int64) error {
	return s.api.Delete(ctx, "/cart/items/"+strconv.FormatInt(cartItemID, 10))
}

// CreateOrder создаёт заказ. Ответ без идентификатора заказа считается ошибкой.
func (s *Service) CreateOrder(ctx context.Context, req model.CreateOrderRequest) (*model.Order, error) {
	var o model.Order
	if err := s.api.Post(ctx, "/orders", req, &o); err != nil {
		return nil, err
	}
	if o.ID == "" {
		return nil, ErrNoOrderID
	}
	return &o, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	if err := s.api.Get(ctx, "/orders/"+url.PathEscape(id), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// MyOrders возвращает заказы текущего покупателя.
func (s *Service) MyOrders(ctx context.Context, q PageQuery) (*model.Page[model.Order], error) {
	var page model.Page[model.Order]
	if err := s.api.Get(ctx, "/orders/my-orders", q.values(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// OutletOrders возвращает заказы торговой точки.
func (s *Service) OutletOrders(ctx context.Context, outletID int64, q PageQuery) (*model.Page[model.Order], error) {
	var page model.Page[model.Order]
	if err := s.api.Get(ctx, outletPath(outletID)+"/orders", q.values(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// UpdateOrderStatus меняет статус заказа.
func (s *Service) UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) (*model.Order, error) {
	var o model.Order
	body := map[string]string{"status": string(status)}
	if err := s.api.Patch(ctx, "/orders/"+url.PathEscape(id)+"/status", nil, body, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// CreatePayment создаёт платёж по заказу. В ответе обязательны идентификатор
// платежа, идентификатор заказа шлюза и сумма.
func (s *Service) CreatePayment(ctx context.Context, orderID string) (*model.PaymentInitiation, error) {
	var p model.PaymentInitiation
	if err := s.api.Post(ctx, "/payments/create/"+url.PathEscape(orderID), nil, &p); err != nil {
		return nil, err
	}

	var missing []string
	if p.PaymentID == "" {
		missing = append(missing, "paymentId")
	}
	if p.RazorpayOrderID == "" {
		missing = append(missing, "razorpayOrderId")
	}
	if p.Amount == nil {
		missing = append(missing, "amount")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrIncompletePayment, strings.Join(missing, ", "))
	}
	return &p, nil
}

// VerifyPayment проверяет подпись платежа, полученную от виджета.
func (s *Service) VerifyPayment(ctx context.Context, req model.VerifyPaymentRequest) (*model.VerifyPaymentResult, error) {
	var res model.VerifyPaymentResult
	if err := s.api.Post(ctx, "/payment/verify", req, &res); err != nil {
		return nil, err
	}
	if res.Message == "" {
		if res.Success {
			res.Message = "Payment verified"
		} else {
			res.Message = "Verification failed"
		}
	}
	return &res, nil
}
