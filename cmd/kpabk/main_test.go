package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/kpabk-connect/internal/checkout"
	"github.com/mmeshcher/kpabk-connect/internal/config"
	"github.com/mmeshcher/kpabk-connect/internal/fakeapi"
	"github.com/mmeshcher/kpabk-connect/internal/model"
	"github.com/mmeshcher/kpabk-connect/internal/nav"
	"github.com/mmeshcher/kpabk-connect/internal/repository"
	"github.com/mmeshcher/kpabk-connect/internal/session"
	"github.com/mmeshcher/kpabk-connect/internal/validation"
)

type testApp struct {
	*app
	out     *bytes.Buffer
	errOut  *bytes.Buffer
	storage session.Storage
}

func newTestApp(t *testing.T, srv *fakeapi.Server, storage session.Storage) *testApp {
	t.Helper()

	if storage == nil {
		storage = repository.NewFileRepository(filepath.Join(t.TempDir(), "session.json"))
	}
	cfg := &config.Config{
		APIBaseURL:      srv.URL(),
		SessionStore:    config.SessionStoreFile,
		CallbackAddress: "127.0.0.1:0",
	}

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	a := newApp(cfg, storage, strings.NewReader(""), out, errOut, zap.NewNop())
	t.Cleanup(a.close)
	return &testApp{app: a, out: out, errOut: errOut, storage: storage}
}

func (ta *testApp) exec(t *testing.T, args ...string) error {
	t.Helper()
	ta.out.Reset()
	return ta.run(context.Background(), args)
}

func (ta *testApp) login(t *testing.T) {
	t.Helper()
	require.NoError(t, ta.exec(t, "login", "-email", "admin@test.com", "-password", "secret1"))
}

func TestLoginPersistsAcrossRuns(t *testing.T) {
	srv := fakeapi.New(t)
	first := newTestApp(t, srv, nil)

	first.login(t)
	assert.Contains(t, first.out.String(), "Logged in as Admin (ADMIN)")
	assert.Equal(t, nav.PathDashboard, first.nav.Current())

	token, err := first.storage.Get(context.Background(), session.TokenKey)
	require.NoError(t, err)
	assert.Equal(t, "valid-token", token)

	second := newTestApp(t, srv, first.storage)
	require.NoError(t, second.exec(t, "whoami"))
	assert.Contains(t, second.out.String(), "admin@test.com")
	assert.Contains(t, second.out.String(), "ADMIN")
}

func TestLoginFailures(t *testing.T) {
	srv := fakeapi.New(t)
	ta := newTestApp(t, srv, nil)

	err := ta.exec(t, "login", "-email", "admin@test.com", "-password", "wrong-pass")
	require.Error(t, err)
	assert.Equal(t, "Invalid email or password", describe(err))

	before := len(srv.Calls())
	err = ta.exec(t, "login", "-email", "not-an-email", "-password", "x")
	var formErr validation.Errors
	require.ErrorAs(t, err, &formErr)
	assert.Contains(t, formErr, "email")
	assert.Contains(t, formErr, "password")
	assert.Len(t, srv.Calls(), before)
}

func TestProtectedCommandWithoutSession(t *testing.T) {
	srv := fakeapi.New(t)
	ta := newTestApp(t, srv, nil)

	err := ta.exec(t, "products")
	require.ErrorIs(t, err, errLoginNeeded)
	assert.Equal(t, nav.PathLogin, ta.nav.Current())
	assert.Equal(t, nav.PathProducts, ta.nav.ReturnTo())
	assert.Empty(t, srv.Calls())
}

func TestAdminCommandsNeedAdminRole(t *testing.T) {
	srv := fakeapi.New(t)
	srv.Profile.Role = model.RoleCustomer
	ta := newTestApp(t, srv, nil)
	ta.login(t)

	err := ta.exec(t, "outlets")
	require.ErrorIs(t, err, errAccessDenied)
	assert.Equal(t, nav.PathDashboard, ta.nav.Current())

	err = ta.exec(t, "orders", "status", "ord-1", "READY")
	require.ErrorIs(t, err, errAccessDenied)
}

func TestStaleTokenIsDropped(t *testing.T) {
	srv := fakeapi.New(t)
	storage := repository.NewFileRepository(filepath.Join(t.TempDir(), "session.json"))
	require.NoError(t, storage.Set(context.Background(), session.TokenKey, "stale-token"))

	ta := newTestApp(t, srv, storage)
	err := ta.exec(t, "cart")
	require.ErrorIs(t, err, errLoginNeeded)

	_, err = storage.Get(context.Background(), session.TokenKey)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestProductsAndCart(t *testing.T) {
	srv := fakeapi.New(t)
	srv.Products = []model.Product{
		{ID: "p1", Name: "Masala Dosa", BasePrice: 80, ProductType: model.ProductTypeVeg, IsActive: true},
		{ID: "p2", Name: "Filter Coffee", BasePrice: 30, ProductType: model.ProductTypeBeverage, IsActive: true},
	}
	ta := newTestApp(t, srv, nil)
	ta.login(t)

	require.NoError(t, ta.exec(t, "products", "-q", "dosa"))
	assert.Contains(t, ta.out.String(), "Masala Dosa")
	assert.NotContains(t, ta.out.String(), "Filter Coffee")
	assert.Contains(t, ta.out.String(), "1 of 1 products")

	require.NoError(t, ta.exec(t, "cart", "add", "p1", "2"))
	assert.Contains(t, ta.out.String(), "Masala Dosa")
	assert.Contains(t, ta.out.String(), "160.00")

	require.NoError(t, ta.exec(t, "cart", "inc", "p1"))
	item, ok := ta.cart.Snapshot().Find("p1")
	require.True(t, ok)
	assert.Equal(t, 3, item.Quantity)

	err := ta.exec(t, "cart", "set", "p1", "0")
	var formErr validation.Errors
	require.ErrorAs(t, err, &formErr)

	require.NoError(t, ta.exec(t, "cart", "rm", "p1"))
	assert.Contains(t, ta.out.String(), "Your cart is empty")

	err = ta.exec(t, "cart", "dec", "p9")
	assert.ErrorContains(t, err, "not in the cart")
}

type autoWidget struct {
	payload *checkout.SuccessPayload
	failure string
	opened  checkout.WidgetConfig
}

func (w *autoWidget) Listen() error { return nil }

func (w *autoWidget) Serve(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (w *autoWidget) Open(_ context.Context, cfg checkout.WidgetConfig, cb checkout.Callbacks) error {
	w.opened = cfg
	if w.payload != nil {
		go cb.OnSuccess(*w.payload)
	} else {
		go cb.OnFailure(w.failure)
	}
	return nil
}

func TestCheckout(t *testing.T) {
	srv := fakeapi.New(t)
	srv.Cart = []model.CartItem{
		{ID: 1, ProductID: "p1", ProductName: "Masala Dosa", BasePrice: 80, Quantity: 2},
	}
	ta := newTestApp(t, srv, nil)
	ta.login(t)

	w := &autoWidget{payload: &checkout.SuccessPayload{GatewayOrderID: "order_gw_1", PaymentID: "pay_gw_1", Signature: "sig"}}
	ta.newWidget = func() hostedWidget { return w }

	require.NoError(t, ta.exec(t, "checkout", "-outlet", "3", "-method", "qr"))
	assert.Contains(t, ta.out.String(), "Payment successful")
	assert.Contains(t, ta.out.String(), "ord-1")
	assert.Equal(t, nav.PathOrderSuccess, ta.nav.Current())

	assert.Equal(t, int64(12050), w.opened.Amount)
	assert.Equal(t, model.PaymentMethodUPI, w.opened.Method)
	assert.Equal(t, "admin@test.com", w.opened.Prefill.Email)

	orders := srv.OrderRequests()
	require.Len(t, orders, 1)
	assert.Equal(t, int64(3), orders[0].OutletID)
	assert.Equal(t, []model.VerifyPaymentRequest{{GatewayOrderID: "order_gw_1", PaymentID: "pay_gw_1", Signature: "sig"}}, srv.VerifyRequests())
	assert.Empty(t, ta.cart.Snapshot().Items)
	assert.Contains(t, ta.errOut.String(), "Verifying payment")
}

func TestCheckoutDeclined(t *testing.T) {
	srv := fakeapi.New(t)
	srv.Cart = []model.CartItem{{ID: 1, ProductID: "p1", BasePrice: 80, Quantity: 1}}
	ta := newTestApp(t, srv, nil)
	ta.login(t)

	ta.newWidget = func() hostedWidget { return &autoWidget{failure: "Card declined"} }

	err := ta.exec(t, "checkout", "-outlet", "3")
	require.Error(t, err)
	assert.Equal(t, "Card declined", describe(err))
	assert.Empty(t, srv.VerifyRequests())
	assert.Len(t, ta.cart.Snapshot().Items, 1)
}

func TestCheckoutEmptyCart(t *testing.T) {
	srv := fakeapi.New(t)
	ta := newTestApp(t, srv, nil)
	ta.login(t)
	ta.newWidget = func() hostedWidget { return &autoWidget{} }

	err := ta.exec(t, "checkout", "-outlet", "3")
	require.ErrorIs(t, err, checkout.ErrEmptyCart)
	assert.Empty(t, srv.OrderRequests())
}

func TestOrders(t *testing.T) {
	srv := fakeapi.New(t)
	srv.Orders = []model.Order{
		{ID: "ord-1", OrderNumber: "KP-0001", OutletID: 3, Status: model.OrderStatusPending, TotalAmount: 160},
	}
	ta := newTestApp(t, srv, nil)
	ta.login(t)

	require.NoError(t, ta.exec(t, "orders"))
	assert.Contains(t, ta.out.String(), "KP-0001")

	require.NoError(t, ta.exec(t, "orders", "status", "ord-1", "ready"))
	assert.Contains(t, ta.out.String(), "Order ord-1 is now READY")

	err := ta.exec(t, "orders", "status", "ord-1", "lost")
	assert.ErrorIs(t, err, errUsage)
}

func TestOutletsAndUsers(t *testing.T) {
	srv := fakeapi.New(t)
	srv.Outlets = []model.Outlet{{ID: 1, OutletName: "Main", OwnerName: "Ravi", Email: "main@test.com", IsActive: true}}
	outletID := int64(1)
	srv.Users = []model.User{
		{ID: 1, Email: "admin@test.com", Role: model.RoleAdmin, Enabled: true},
		{ID: 2, Email: "cook@test.com", Role: model.RoleOutlet, OutletID: &outletID, Enabled: true},
	}
	ta := newTestApp(t, srv, nil)
	ta.login(t)

	require.NoError(t, ta.exec(t, "outlets"))
	assert.Contains(t, ta.out.String(), "Main")

	require.NoError(t, ta.exec(t, "outlets", "create", "-name", "Second", "-owner", "Asha", "-email", "second@test.com"))
	assert.Contains(t, ta.out.String(), "Outlet 2 created")

	err := ta.exec(t, "outlets", "create", "-name", "Third")
	var formErr validation.Errors
	require.ErrorAs(t, err, &formErr)
	assert.Contains(t, formErr, "ownerName")

	require.NoError(t, ta.exec(t, "outlets", "update", "1", "-name", "Main Street"))
	assert.Equal(t, "Main Street", srv.Outlets[0].OutletName)
	assert.Equal(t, "Ravi", srv.Outlets[0].OwnerName)

	require.NoError(t, ta.exec(t, "users", "-role", "outlet"))
	assert.Contains(t, ta.out.String(), "cook@test.com")
	assert.NotContains(t, ta.out.String(), "admin@test.com")
	assert.Contains(t, srv.Calls(), "GET /users/by-role/OUTLET")

	err = ta.exec(t, "users", "create", "-email", "new@test.com", "-password", "secret1", "-role", "OUTLET")
	require.ErrorAs(t, err, &formErr)
	assert.Contains(t, formErr, "outletId")

	require.NoError(t, ta.exec(t, "users", "disable", "2"))
	assert.Contains(t, ta.out.String(), "User 2 disabled")
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "usage", err: errUsage, want: usage},
		{name: "step", err: &checkout.StepError{Step: checkout.CreatingOrder, Message: checkout.MsgOrderFailed, Err: errors.New("boom")}, want: checkout.MsgOrderFailed},
		{name: "expired step", err: &checkout.StepError{Message: checkout.MsgVerifyFailed, SessionExpired: true}, want: "Your session has expired. Please log in again."},
		{name: "plain", err: errors.New("disk full"), want: "disk full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describe(tt.err))
		})
	}
}

func TestUnknownCommand(t *testing.T) {
	srv := fakeapi.New(t)
	ta := newTestApp(t, srv, nil)

	err := ta.exec(t, "bake")
	require.ErrorIs(t, err, errUsage)
	assert.True(t, strings.HasPrefix(describe(err), `unknown command "bake"`))
}
