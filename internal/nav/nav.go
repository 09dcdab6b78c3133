// Package nav отслеживает текущий экран клиента и проверяет доступ к экранам.
package nav

import (
	"strings"
	"sync"

	"github.com/mmeshcher/kpabk-connect/internal/model"
)

// Пути экранов клиента.
const (
	PathLogin        = "/login"
	PathDashboard    = "/dashboard"
	PathProducts     = "/products"
	PathCart         = "/cart"
	PathCheckout     = "/checkout"
	PathOrderSuccess = "/order-success"
	PathOrders       = "/orders"
	PathAdminOutlets = "/admin/outlets"
	PathAdminUsers   = "/admin/users"
)

// Navigator хранит текущий экран и историю переходов.
type Navigator struct {
	mu        sync.Mutex
	current   string
	returnTo  string
	listeners []func(from, to string)
}

// NewNavigator создаёт навигатор, стоящий на экране start.
func NewNavigator(start string) *Navigator {
	return &Navigator{current: start}
}

// Current возвращает текущий экран.
func (n *Navigator) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// ReturnTo возвращает экран, с которого пользователя отправили на вход.
func (n *Navigator) ReturnTo() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.returnTo
}

// OnNavigate подписывает fn на переходы.
func (n *Navigator) OnNavigate(fn func(from, to string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, fn)
}

// Navigate переходит на экран to.
func (n *Navigator) Navigate(to string) {
	n.mu.Lock()
	from := n.current
	n.current = to
	listeners := append([]func(from, to string){}, n.listeners...)
	n.mu.Unlock()

	for _, fn := range listeners {
		fn(from, to)
	}
}

// RedirectToLogin переходит на экран входа, если пользователь ещё не на нём.
func (n *Navigator) RedirectToLogin() {
	n.mu.Lock()
	if isLogin(n.current) {
		n.mu.Unlock()
		return
	}
	n.returnTo = n.current
	n.mu.Unlock()

	n.Navigate(PathLogin)
}

func isLogin(path string) bool {
	return path == PathLogin || strings.HasPrefix(path, PathLogin+"/") || strings.HasPrefix(path, PathLogin+"?")
}

// Route описывает экран и роли, которым он доступен. Пустой список ролей
// означает доступ для любого аутентифицированного пользователя.
type Route struct {
	Path         string
	Public       bool
	AllowedRoles []model.Role
}

// Decision описывает результат проверки доступа.
type Decision struct {
	Allowed    bool
	RedirectTo string
	From       string
}

// Guard проверяет доступ к экранам.
type Guard struct {
	routes []Route
}

// DefaultRoutes возвращает таблицу экранов клиента.
func DefaultRoutes() []Route {
	admin := []model.Role{model.RoleAdmin}
	return []Route{
		{Path: PathLogin, Public: true},
		{Path: PathDashboard},
		{Path: PathProducts},
		{Path: PathCart},
		{Path: PathCheckout},
		{Path: PathOrderSuccess},
		{Path: PathOrders},
		{Path: PathAdminOutlets, AllowedRoles: admin},
		{Path: PathAdminUsers, AllowedRoles: admin},
	}
}

// NewGuard создаёт проверку доступа по таблице routes.
func NewGuard(routes []Route) *Guard {
	return &Guard{routes: routes}
}

// Check решает, можно ли открыть экран path при данном состоянии сессии.
func (g *Guard) Check(authenticated bool, role model.Role, path string) Decision {
	route, ok := g.match(path)
	if ok && route.Public {
		return Decision{Allowed: true}
	}

	if !authenticated {
		return Decision{RedirectTo: PathLogin, From: path}
	}

	if !ok || len(route.AllowedRoles) == 0 {
		return Decision{Allowed: true}
	}

	// Роль ещё не загружена: экран открывается.
	if role == model.RoleUnknown {
		return Decision{Allowed: true}
	}

	for _, r := range route.AllowedRoles {
		if r == role {
			return Decision{Allowed: true}
		}
	}
	return Decision{RedirectTo: PathDashboard}
}

// match ищет самый длинный совпадающий префикс пути.
func (g *Guard) match(path string) (Route, bool) {
	var (
		best  Route
		found bool
	)
	for _, r := range g.routes {
		if path == r.Path || strings.HasPrefix(path, r.Path+"/") {
			if !found || len(r.Path) > len(best.Path) {
				best = r
				found = true
			}
		}
	}
	return best, found
}
