package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/kpabk-connect/internal/busy"
	"github.com/mmeshcher/kpabk-connect/internal/checkout"
	"github.com/mmeshcher/kpabk-connect/internal/config"
	"github.com/mmeshcher/kpabk-connect/internal/gateway"
	"github.com/mmeshcher/kpabk-connect/internal/nav"
	"github.com/mmeshcher/kpabk-connect/internal/service"
	"github.com/mmeshcher/kpabk-connect/internal/session"
	"github.com/mmeshcher/kpabk-connect/internal/store"
	"github.com/mmeshcher/kpabk-connect/internal/validation"
)

var (
	errUsage        = errors.New("usage")
	errLoginNeeded  = errors.New("you are not logged in, run `kpabk login` first")
	errAccessDenied = errors.New("this command is not available for your role")
)

// app связывает компоненты клиента для одного запуска команды.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer

	nav     *nav.Navigator
	guard   *nav.Guard
	session *session.Store
	client  *gateway.Client
	svc     *service.Service
	busy    *busy.Indicator

	auth    *store.Auth
	cart    *store.Cart
	catalog *store.Catalog
	outlets *store.Outlets
	users   *store.Users

	// newWidget подменяется в тестах.
	newWidget func() hostedWidget
}

// hostedWidget описывает виджет оплаты со своим сервером.
type hostedWidget interface {
	checkout.Widget
	Listen() error
	Serve(ctx context.Context) error
}

func newApp(cfg *config.Config, storage session.Storage, in io.Reader, out, errOut io.Writer, logger *zap.Logger) *app {
	a := &app{
		cfg:    cfg,
		logger: logger,
		in:     bufio.NewReader(in),
		out:    out,
		errOut: errOut,
		nav:    nav.NewNavigator(nav.PathDashboard),
		guard:  nav.NewGuard(nav.DefaultRoutes()),
	}

	a.session = session.NewStore(storage, logger.Named("session"))
	hub := gateway.NewHub()
	a.client = gateway.NewClient(cfg.APIBaseURL, a.session, hub,
		gateway.WithTimeout(cfg.RequestTimeout),
		gateway.WithNavigator(a.nav),
		gateway.WithLogger(logger.Named("gateway")),
	)
	a.busy = busy.New(hub, errOut)
	a.svc = service.NewService(a.client)

	a.auth = store.NewAuth(a.svc, a.session, hub, logger.Named("auth"))
	a.cart = store.NewCart(a.svc, logger.Named("cart"))
	a.catalog = store.NewCatalog(a.svc)
	a.outlets = store.NewOutlets(a.svc)
	a.users = store.NewUsers(a.svc)

	a.nav.OnNavigate(func(from, to string) {
		logger.Debug("navigate", zap.String("from", from), zap.String("to", to))
	})
	a.newWidget = a.defaultWidget
	return a
}

func (a *app) close() {
	a.auth.Close()
	a.busy.Close()
}

// open поднимает сохранённую сессию и проверяет доступ к экрану path.
func (a *app) open(ctx context.Context, path string) error {
	if err := a.auth.Restore(ctx); err != nil && !gateway.IsUnauthorized(err) {
		a.logger.Warn("profile fetch failed", zap.Error(err))
	}

	st := a.auth.Snapshot()
	d := a.guard.Check(st.IsAuthenticated, st.Role(), path)
	if d.Allowed {
		a.nav.Navigate(path)
		return nil
	}

	if d.RedirectTo == nav.PathLogin {
		a.nav.Navigate(path)
		a.nav.RedirectToLogin()
		return errLoginNeeded
	}
	a.nav.Navigate(d.RedirectTo)
	return errAccessDenied
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// prompt читает строку ответа пользователя.
func (a *app) prompt(label string) (string, error) {
	fmt.Fprint(a.errOut, label)
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSpace(strings.TrimSuffix(label, ":")), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// describe превращает ошибку команды в сообщение для пользователя.
func describe(err error) string {
	var (
		formErr validation.Errors
		stepErr *checkout.StepError
		opErr   *store.OpError
	)
	switch {
	case errors.Is(err, errUsage):
		if err == errUsage {
			return usage
		}
		return strings.TrimPrefix(err.Error(), errUsage.Error()+": ") + "\n\n" + usage
	case errors.As(err, &formErr):
		return "Please fix the form: " + formErr.Error()
	case errors.As(err, &stepErr):
		if stepErr.SessionExpired {
			return "Your session has expired. Please log in again."
		}
		return stepErr.Message
	case errors.As(err, &opErr) && strings.HasPrefix(opErr.Op, "auth/"):
		return opErr.Message
	case gateway.IsUnauthorized(err):
		return "Your session has expired. Please log in again."
	case errors.As(err, &opErr):
		return opErr.Message
	}
	return err.Error()
}

const usage = `usage: kpabk [flags] <command> [args]

commands:
  login [-email E] [-password P]      log in and remember the session
  logout                              forget the session
  whoami                              show the current user
  register                            create a customer account
  products [-q name] [-category id] [-type T] [-sort field] [-dir asc|desc] [-pages N]
  cart                                show the cart
  cart add <productId> [qty]          add a product
  cart set <productId> <qty>          set the quantity
  cart inc|dec <productId>            change the quantity by one
  cart rm <productId>                 remove a product
  checkout -outlet ID [-method upi|qr|card|netbanking|wallet]
  orders [status <orderId> <status>] [-outlet ID]
  outlets [list|show ID|create|update ID|delete ID|products ID|availability ID PRODUCT on|off]
  users [list|show ID|create|update ID|enable ID|disable ID] [-role ADMIN|OUTLET]`
