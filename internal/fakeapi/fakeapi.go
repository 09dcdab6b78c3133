// Package fakeapi поднимает in-memory backend KPABK Connect для тестов.
package fakeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/kpabk-connect/internal/model"
)

// Failure описывает подменённый ответ для маршрута.
type Failure struct {
	Status  int
	Message string
}

// Server реализует тестовый backend с состоянием в памяти.
type Server struct {
	mu sync.Mutex

	ValidToken string
	Password   string
	Profile    model.UserProfile

	Outlets    []model.Outlet
	Users      []model.User
	Products   []model.Product
	Categories []model.Category
	Cart       []model.CartItem
	Orders     []model.Order
	// OutletProducts хранит ассортимент по идентификатору точки.
	OutletProducts map[int64][]model.OutletProduct

	// OrderResponse, PaymentResponse и VerifyResponse отдаются как есть.
	OrderResponse   any
	PaymentResponse any
	VerifyResponse  any

	// Failures подменяет ответ по ключу "METHOD /path-pattern".
	Failures map[string]Failure

	calls      []string
	orderReqs  []model.CreateOrderRequest
	verifyReqs []model.VerifyPaymentRequest
	nextCartID int64

	ts *httptest.Server
}

// New запускает сервер и регистрирует его остановку в t.Cleanup.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		ValidToken:     "valid-token",
		Password:       "secret1",
		Profile:        model.UserProfile{ID: 1, Email: "admin@test.com", Role: model.RoleAdmin, DisplayName: "Admin"},
		OutletProducts: map[int64][]model.OutletProduct{},
		Failures:       map[string]Failure{},
		nextCartID:     100,
	}
	s.ts = httptest.NewServer(s.router())
	t.Cleanup(s.ts.Close)
	return s
}

// URL возвращает базовый адрес API.
func (s *Server) URL() string {
	return s.ts.URL + "/api"
}

// Calls возвращает журнал обращений в виде "METHOD /path".
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// OrderRequests возвращает полученные запросы создания заказа.
func (s *Server) OrderRequests() []model.CreateOrderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.CreateOrderRequest(nil), s.orderReqs...)
}

// VerifyRequests возвращает полученные запросы проверки платежа.
func (s *Server) VerifyRequests() []model.VerifyPaymentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.VerifyPaymentRequest(nil), s.verifyReqs...)
}

// Fail подменяет ответ маршрута key, например "PUT /cart/update".
func (s *Server) Fail(key string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failures[key] = Failure{Status: status, Message: message}
}

// Lock и Unlock дают тестам атомарно менять поля сервера.
func (s *Server) Lock()   { s.mu.Lock() }
func (s *Server) Unlock() { s.mu.Unlock() }

func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Use(s.record)
		r.Use(s.failures)

		r.Post("/auth/login", s.login)
		r.Post("/auth/register", s.noContent)

		r.Group(func(r chi.Router) {
			r.Use(s.auth)

			r.Get("/users/me", s.me)
			r.Get("/users", s.listUsers)
			r.Get("/users/by-role/{role}", s.listUsers)
			r.Get("/users/{id}", s.getUser)
			r.Post("/users", s.createUser)
			r.Put("/users/{id}", s.updateUser)
			r.Patch("/users/{id}/enabled", s.noContent)

			r.Get("/outlets", s.listOutlets)
			r.Get("/outlets/{id}", s.getOutlet)
			r.Post("/outlets", s.createOutlet)
			r.Put("/outlets/{id}", s.updateOutlet)
			r.Delete("/outlets/{id}", s.noContent)
			r.Get("/outlets/{id}/products", s.listOutletProducts)
			r.Put("/outlets/{id}/products", s.upsertOutletProduct)
			r.Patch("/outlets/{id}/products/{productId}/available", s.noContent)

			r.Get("/products", s.listProducts)
			r.Get("/categories", s.listCategories)

			r.Get("/cart", s.getCart)
			r.Post("/cart/add", s.addToCart)
			r.Put("/cart/update", s.updateCart)
			r.Delete("/cart/items/{id}", s.deleteCartItem)

			r.Post("/orders", s.createOrder)
			r.Get("/orders/my-orders", s.listOrders)
			r.Get("/outlets/{id}/orders", s.listOrders)
			r.Patch("/orders/{id}/status", s.updateOrderStatus)
			r.Post("/payments/create/{orderId}", s.createPayment)
			r.Post("/payment/verify", s.verifyPayment)
		})
	})

	return r
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, r.Method+" "+strings.TrimPrefix(r.URL.Path, "/api"))
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) failures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + strings.TrimPrefix(r.URL.Path, "/api")
		s.mu.Lock()
		f, ok := s.Failures[key]
		s.mu.Unlock()
		if ok {
			writeJSON(w, f.Status, map[string]string{"message": f.Message})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		valid := "Bearer " + s.ValidToken
		s.mu.Unlock()
		if r.Header.Get("Authorization") != valid {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Email != s.Profile.Email || req.Password != s.Password {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid email or password"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": s.ValidToken,
		"email":       s.Profile.Email,
		"role":        strings.ToLower(string(s.Profile.Role)),
		"id":          s.Profile.ID,
		"displayName": s.Profile.DisplayName,
	})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.Profile)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	role := model.ParseRole(chi.URLParam(r, "role"))
	s.mu.Lock()
	var users []model.User
	for _, u := range s.Users {
		if role == model.RoleUnknown || u.Role == role {
			users = append(users, u)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, paginate(users, r))
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.Users {
		if u.ID == id {
			writeJSON(w, http.StatusOK, u)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "User not found"})
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req model.UserRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	u := model.User{ID: int64(len(s.Users) + 1), Email: req.Email, Role: req.Role, Enabled: true, OutletID: req.OutletID}
	s.Users = append(s.Users, u)
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var req model.UserRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, u := range s.Users {
		if u.ID == id {
			s.Users[i].Email = req.Email
			s.Users[i].FirstName = req.FirstName
			s.Users[i].LastName = req.LastName
			writeJSON(w, http.StatusOK, s.Users[i])
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "User not found"})
}

func (s *Server) listOutlets(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	outlets := append([]model.Outlet(nil), s.Outlets...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, paginate(outlets, r))
}

func (s *Server) getOutlet(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.Outlets {
		if o.ID == id {
			writeJSON(w, http.StatusOK, o)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Outlet not found"})
}

func (s *Server) createOutlet(w http.ResponseWriter, r *http.Request) {
	var req model.OutletRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	o := model.Outlet{ID: int64(len(s.Outlets) + 1), OutletName: req.OutletName, OwnerName: req.OwnerName, Email: req.Email, IsActive: true}
	s.Outlets = append(s.Outlets, o)
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) updateOutlet(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var req model.OutletRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.Outlets {
		if o.ID == id {
			s.Outlets[i].OutletName = req.OutletName
			s.Outlets[i].OwnerName = req.OwnerName
			s.Outlets[i].Email = req.Email
			if req.IsActive != nil {
				s.Outlets[i].IsActive = *req.IsActive
			}
			writeJSON(w, http.StatusOK, s.Outlets[i])
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Outlet not found"})
}

func (s *Server) listOutletProducts(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.OutletProducts[id]
	if items == nil {
		items = []model.OutletProduct{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": items})
}

func (s *Server) upsertOutletProduct(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var req model.OutletProductRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	defer s.mu.Unlock()

	p := model.OutletProduct{OutletID: id, ProductID: req.ProductID, OutletPrice: req.OutletPrice}
	if req.IsAvailable != nil {
		p.IsAvailable = *req.IsAvailable
	}
	items := s.OutletProducts[id]
	for i := range items {
		if items[i].ProductID == req.ProductID {
			p.ID = items[i].ID
			items[i] = p
			writeJSON(w, http.StatusOK, map[string]any{"data": p})
			return
		}
	}
	p.ID = int64(len(items) + 1)
	s.OutletProducts[id] = append(items, p)
	writeJSON(w, http.StatusOK, map[string]any{"data": p})
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	products := append([]model.Product(nil), s.Products...)
	s.mu.Unlock()

	name := strings.ToLower(r.URL.Query().Get("name"))
	category := r.URL.Query().Get("categoryId")
	var filtered []model.Product
	for _, p := range products {
		if name != "" && !strings.Contains(strings.ToLower(p.Name), name) {
			continue
		}
		if category != "" && p.CategoryID != category {
			continue
		}
		filtered = append(filtered, p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": paginate(filtered, r)})
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cats := s.Categories
	if cats == nil {
		cats = []model.Category{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": cats})
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.Cart
	if items == nil {
		items = []model.CartItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": items, "message": "ok"})
}

func (s *Server) addToCart(w http.ResponseWriter, r *http.Request) {
	var req model.CartItemRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.Cart {
		if s.Cart[i].ProductID == req.ProductID {
			s.Cart[i].Quantity += req.Quantity
			writeJSON(w, http.StatusOK, map[string]any{"data": s.Cart[i]})
			return
		}
	}

	item := model.CartItem{ID: s.nextCartID, ProductID: req.ProductID, Quantity: req.Quantity}
	s.nextCartID++
	for _, p := range s.Products {
		if p.ID == req.ProductID {
			item.ProductName = p.Name
			item.BasePrice = p.BasePrice
			item.ProductType = p.ProductType
			item.Unit = p.Unit
		}
	}
	s.Cart = append(s.Cart, item)
	writeJSON(w, http.StatusOK, map[string]any{"data": item})
}

func (s *Server) updateCart(w http.ResponseWriter, r *http.Request) {
	var req model.CartItemRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.Cart {
		if s.Cart[i].ProductID == req.ProductID {
			s.Cart[i].Quantity = req.Quantity
			writeJSON(w, http.StatusOK, map[string]any{"data": s.Cart[i]})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Cart item not found"})
}

func (s *Server) deleteCartItem(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.Cart {
		if s.Cart[i].ID == id {
			s.Cart = append(s.Cart[:i], s.Cart[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Cart item not found"})
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req model.CreateOrderRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderReqs = append(s.orderReqs, req)
	resp := s.OrderResponse
	if resp == nil {
		resp = map[string]any{"id": "ord-1", "outletId": req.OutletID, "status": "PENDING"}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	outletID, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	s.mu.Lock()
	var orders []model.Order
	for _, o := range s.Orders {
		if outletID == 0 || o.OutletID == outletID {
			orders = append(orders, o)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, paginate(orders, r))
}

func (s *Server) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Status model.OrderStatus `json:"status"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.Orders {
		if s.Orders[i].ID.String() == id {
			s.Orders[i].Status = req.Status
			writeJSON(w, http.StatusOK, s.Orders[i])
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Order not found"})
}

func (s *Server) createPayment(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp := s.PaymentResponse
	if resp == nil {
		resp = map[string]any{
			"paymentId":       "pay-1",
			"razorpayOrderId": "order_gw_1",
			"amount":          120.5,
			"currency":        "INR",
			"razorpayKeyId":   "rzp_test_key",
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req model.VerifyPaymentRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyReqs = append(s.verifyReqs, req)
	resp := s.VerifyResponse
	if resp == nil {
		resp = map[string]any{"success": true, "message": "Payment verified"}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) noContent(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func paginate[T any](items []T, r *http.Request) model.Page[T] {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if size <= 0 {
		size = 20
	}
	total := len(items)
	start := min(page*size, total)
	end := min(start+size, total)

	content := append([]T{}, items[start:end]...)
	return model.Page[T]{
		Content: content,
		Pagination: model.Pagination{
			Page:          page,
			Size:          size,
			TotalElements: int64(total),
			TotalPages:    (total + size - 1) / size,
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(fmt.Sprintf("fakeapi: encode response: %v", err))
	}
}
