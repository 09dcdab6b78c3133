package checkout

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/kpabk-connect/internal/fakeapi"
	"github.com/mmeshcher/kpabk-connect/internal/gateway"
	"github.com/mmeshcher/kpabk-connect/internal/model"
	"github.com/mmeshcher/kpabk-connect/internal/repository"
	"github.com/mmeshcher/kpabk-connect/internal/service"
	"github.com/mmeshcher/kpabk-connect/internal/session"
	"github.com/mmeshcher/kpabk-connect/internal/store"
)

type fixture struct {
	api  *fakeapi.Server
	cart *store.Cart
	svc  *service.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	api := fakeapi.New(t)
	api.Cart = []model.CartItem{
		{ID: 1, ProductID: "p1", ProductName: "Masala Dosa", BasePrice: 100, Quantity: 2},
		{ID: 2, ProductID: "p2", ProductName: "Filter Coffee", BasePrice: 25, Quantity: 2},
	}
	api.OrderResponse = map[string]any{"id": 101, "outletId": 3, "status": "PENDING"}
	api.PaymentResponse = map[string]any{
		"paymentId":       55,
		"razorpayOrderId": "gw_1",
		"amount":          250,
		"currency":        "INR",
		"razorpayKeyId":   "rzp_test_key",
	}

	sess := session.NewStore(repository.NewFileRepository(filepath.Join(t.TempDir(), "s.json")), nil)
	require.NoError(t, sess.SetToken(context.Background(), api.ValidToken))

	svc := service.NewService(gateway.NewClient(api.URL(), sess, nil))
	cart := store.NewCart(svc, nil)
	require.NoError(t, cart.Fetch(context.Background()))

	return &fixture{api: api, cart: cart, svc: svc}
}

func succeed(signature string) WidgetFunc {
	return func(_ context.Context, cfg WidgetConfig, cb Callbacks) error {
		go cb.OnSuccess(SuccessPayload{GatewayOrderID: cfg.OrderID, PaymentID: "pay_gw_9", Signature: signature})
		return nil
	}
}

func dismiss() WidgetFunc {
	return func(_ context.Context, _ WidgetConfig, cb Callbacks) error {
		go cb.OnDismiss()
		return nil
	}
}

func TestRun_Success(t *testing.T) {
	f := newFixture(t)

	var gotCfg WidgetConfig
	widget := WidgetFunc(func(ctx context.Context, cfg WidgetConfig, cb Callbacks) error {
		gotCfg = cfg
		return succeed("sig")(ctx, cfg, cb)
	})
	w := New(f.svc, f.cart, widget, nil)

	var (
		mu     sync.Mutex
		states []State
	)
	w.OnTransition(func(tr Transition) {
		mu.Lock()
		states = append(states, tr.To)
		mu.Unlock()
	})

	receipt, err := w.Run(context.Background(), Request{OutletID: 3, Method: model.PaymentMethodUPI})
	require.NoError(t, err)

	assert.Equal(t, Succeeded, w.State())
	assert.Equal(t, "101", receipt.OrderID)
	assert.Equal(t, "55", receipt.PaymentID)
	assert.Empty(t, f.cart.Snapshot().Items)
	assert.Empty(t, f.cart.Snapshot().Error)

	assert.Equal(t, int64(25000), gotCfg.Amount)
	assert.Equal(t, "gw_1", gotCfg.OrderID)
	assert.Equal(t, "rzp_test_key", gotCfg.Key)
	assert.Equal(t, model.PaymentMethodUPI, gotCfg.Method)

	orders := f.api.OrderRequests()
	require.Len(t, orders, 1)
	assert.Equal(t, int64(3), orders[0].OutletID)
	assert.Equal(t, []model.OrderLine{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 2}}, orders[0].Items)

	assert.Equal(t, []model.VerifyPaymentRequest{{GatewayOrderID: "gw_1", PaymentID: "pay_gw_9", Signature: "sig"}}, f.api.VerifyRequests())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{CreatingOrder, CreatingPayment, AwaitingGatewayWidget, Verifying, Succeeded}, states)
}

func TestRun_PaymentMissingID(t *testing.T) {
	f := newFixture(t)
	f.api.PaymentResponse = map[string]any{"razorpayOrderId": "gw_1", "amount": 250}

	opened := false
	widget := WidgetFunc(func(context.Context, WidgetConfig, Callbacks) error {
		opened = true
		return nil
	})
	w := New(f.svc, f.cart, widget, nil)

	_, err := w.Run(context.Background(), Request{OutletID: 3})

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, CreatingPayment, stepErr.Step)
	assert.Equal(t, MsgPaymentFailed, stepErr.Message)
	assert.ErrorIs(t, err, service.ErrIncompletePayment)
	assert.False(t, stepErr.SessionExpired)

	assert.Equal(t, Idle, w.State())
	assert.Len(t, f.cart.Snapshot().Items, 2)
	assert.False(t, opened)
	assert.Empty(t, f.api.VerifyRequests())
}

func TestRun_OrderWithoutID(t *testing.T) {
	f := newFixture(t)
	f.api.OrderResponse = map[string]any{"status": "PENDING"}
	w := New(f.svc, f.cart, succeed("sig"), nil)

	_, err := w.Run(context.Background(), Request{OutletID: 3})

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, CreatingOrder, stepErr.Step)
	assert.Equal(t, MsgOrderFailed, stepErr.Message)
	assert.ErrorIs(t, err, service.ErrNoOrderID)
	for _, c := range f.api.Calls() {
		assert.NotContains(t, c, "/payments/create")
	}
	assert.Len(t, f.cart.Snapshot().Items, 2)
}

func TestRun_DismissThenRetry(t *testing.T) {
	f := newFixture(t)

	widget := dismiss()
	w := New(f.svc, f.cart, WidgetFunc(func(ctx context.Context, cfg WidgetConfig, cb Callbacks) error {
		return widget(ctx, cfg, cb)
	}), nil)

	_, err := w.Run(context.Background(), Request{OutletID: 3})

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, MsgCancelled, stepErr.Message)
	assert.True(t, stepErr.Cancelled)
	assert.Equal(t, Idle, w.State())
	assert.Len(t, f.cart.Snapshot().Items, 2)
	assert.False(t, w.Running())

	widget = succeed("sig")
	_, err = w.Run(context.Background(), Request{OutletID: 3})
	require.NoError(t, err)
	assert.Equal(t, Succeeded, w.State())
	assert.Empty(t, f.cart.Snapshot().Items)
}

func TestRun_WidgetFailure(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{name: "gateway message", message: "Card declined by bank", want: "Card declined by bank"},
		{name: "no message", message: "", want: MsgDeclined},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			widget := WidgetFunc(func(_ context.Context, _ WidgetConfig, cb Callbacks) error {
				go cb.OnFailure(tt.message)
				return nil
			})
			w := New(f.svc, f.cart, widget, nil)

			_, err := w.Run(context.Background(), Request{OutletID: 3})

			var stepErr *StepError
			require.ErrorAs(t, err, &stepErr)
			assert.Equal(t, AwaitingGatewayWidget, stepErr.Step)
			assert.Equal(t, tt.want, stepErr.Message)
			assert.False(t, stepErr.Cancelled)
			assert.Len(t, f.cart.Snapshot().Items, 2)
		})
	}
}

func TestRun_FirstCallbackWins(t *testing.T) {
	f := newFixture(t)
	widget := WidgetFunc(func(_ context.Context, cfg WidgetConfig, cb Callbacks) error {
		cb.OnDismiss()
		cb.OnSuccess(SuccessPayload{GatewayOrderID: cfg.OrderID, PaymentID: "late", Signature: "sig"})
		cb.OnFailure("late failure")
		return nil
	})
	w := New(f.svc, f.cart, widget, nil)

	_, err := w.Run(context.Background(), Request{OutletID: 3})

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.True(t, stepErr.Cancelled)
	assert.Empty(t, f.api.VerifyRequests())
}

func TestRun_VerificationRejected(t *testing.T) {
	f := newFixture(t)
	f.api.VerifyResponse = map[string]any{"success": false, "message": "Signature mismatch"}
	w := New(f.svc, f.cart, succeed("bad"), nil)

	_, err := w.Run(context.Background(), Request{OutletID: 3})

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, Verifying, stepErr.Step)
	assert.Equal(t, MsgVerifyFailed, stepErr.Message)
	assert.Contains(t, err.Error(), "Signature mismatch")
	assert.Len(t, f.cart.Snapshot().Items, 2)
}

func TestRun_VerificationCallFails(t *testing.T) {
	f := newFixture(t)
	f.api.Fail("POST /payment/verify", http.StatusBadGateway, "gateway down")
	w := New(f.svc, f.cart, succeed("sig"), nil)

	_, err := w.Run(context.Background(), Request{OutletID: 3})

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, MsgVerifyFailed, stepErr.Message)
	assert.Len(t, f.cart.Snapshot().Items, 2)
}

func TestRun_UnauthorizedMarksSessionExpired(t *testing.T) {
	f := newFixture(t)
	f.api.Fail("POST /orders", http.StatusUnauthorized, "Token expired")
	w := New(f.svc, f.cart, succeed("sig"), nil)

	_, err := w.Run(context.Background(), Request{OutletID: 3})

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.True(t, stepErr.SessionExpired)
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)
	assert.Len(t, f.cart.Snapshot().Items, 2)
}

func TestRun_ClientValidation(t *testing.T) {
	f := newFixture(t)
	w := New(f.svc, f.cart, succeed("sig"), nil)
	before := len(f.api.Calls())

	_, err := w.Run(context.Background(), Request{})
	require.ErrorIs(t, err, ErrNoOutlet)

	f.cart.Clear()
	_, err = w.Run(context.Background(), Request{OutletID: 3})
	require.ErrorIs(t, err, ErrEmptyCart)

	assert.Len(t, f.api.Calls(), before)
	assert.Equal(t, Idle, w.State())
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)

	opened := make(chan Callbacks, 1)
	widget := WidgetFunc(func(_ context.Context, _ WidgetConfig, cb Callbacks) error {
		opened <- cb
		return nil
	})
	w := New(f.svc, f.cart, widget, nil)

	done := make(chan error, 1)
	go func() {
		_, err := w.Run(context.Background(), Request{OutletID: 3})
		done <- err
	}()

	var cb Callbacks
	select {
	case cb = <-opened:
	case <-time.After(5 * time.Second):
		t.Fatalf("widget was not opened")
	}

	_, err := w.Run(context.Background(), Request{OutletID: 3})
	require.ErrorIs(t, err, ErrInProgress)
	assert.Len(t, f.api.OrderRequests(), 1)

	cb.OnDismiss()
	require.Error(t, <-done)
}

func TestRun_ContextCancelledWhileWaiting(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	widget := WidgetFunc(func(context.Context, WidgetConfig, Callbacks) error {
		cancel()
		return nil
	})
	w := New(f.svc, f.cart, widget, nil)

	_, err := w.Run(ctx, Request{OutletID: 3})

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.True(t, stepErr.Cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_WidgetOpenError(t *testing.T) {
	f := newFixture(t)
	widget := WidgetFunc(func(context.Context, WidgetConfig, Callbacks) error {
		return errors.New("address in use")
	})
	w := New(f.svc, f.cart, widget, nil)

	_, err := w.Run(context.Background(), Request{OutletID: 3})

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, MsgWidgetFailed, stepErr.Message)
	assert.Len(t, f.cart.Snapshot().Items, 2)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(25000), MinorUnits(250))
	assert.Equal(t, int64(12050), MinorUnits(120.5))
	assert.Equal(t, int64(1999), MinorUnits(19.99))
	assert.Equal(t, int64(30), MinorUnits(0.1+0.2))
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	w := New(f.svc, f.cart, succeed("sig"), nil)

	_, err := w.Run(context.Background(), Request{OutletID: 3})
	require.NoError(t, err)
	require.Equal(t, Succeeded, w.State())

	w.Reset()
	assert.Equal(t, Idle, w.State())
}

func TestRun_FailedReturnsToIdle(t *testing.T) {
	f := newFixture(t)
	w := New(f.svc, f.cart, dismiss(), nil)

	var (
		mu          sync.Mutex
		transitions []Transition
	)
	w.OnTransition(func(tr Transition) {
		mu.Lock()
		transitions = append(transitions, tr)
		mu.Unlock()
	})

	_, err := w.Run(context.Background(), Request{OutletID: 3})
	require.Error(t, err)
	assert.Equal(t, Idle, w.State())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, transitions, 5)
	failed := transitions[3]
	assert.Equal(t, Failed, failed.To)
	require.NotNil(t, failed.Err)
	assert.Equal(t, MsgCancelled, failed.Err.Message)
	assert.Equal(t, Transition{From: Failed, To: Idle}, transitions[4])
}

// stubAPI отдаёт заранее заданные ответы без обращения к серверу.
type stubAPI struct {
	mu       sync.Mutex
	order    *model.Order
	payment  *model.PaymentInitiation
	verify   *model.VerifyPaymentResult
	payments []string
	verifies int
}

func (s *stubAPI) CreateOrder(context.Context, model.CreateOrderRequest) (*model.Order, error) {
	return s.order, nil
}

func (s *stubAPI) CreatePayment(_ context.Context, orderID string) (*model.PaymentInitiation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = append(s.payments, orderID)
	return s.payment, nil
}

func (s *stubAPI) VerifyPayment(context.Context, model.VerifyPaymentRequest) (*model.VerifyPaymentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifies++
	return s.verify, nil
}

func amount(v float64) *float64 {
	return &v
}

func validStub() *stubAPI {
	return &stubAPI{
		order:   &model.Order{ID: "101"},
		payment: &model.PaymentInitiation{PaymentID: "55", RazorpayOrderID: "gw_1", Amount: amount(250)},
		verify:  &model.VerifyPaymentResult{Success: true},
	}
}

func TestRun_ChecksResponsesOfAnyAPI(t *testing.T) {
	tests := []struct {
		name     string
		tweak    func(s *stubAPI)
		step     State
		message  string
		target   error
		payments int
		verifies int
	}{
		{
			name:    "order without id",
			tweak:   func(s *stubAPI) { s.order = &model.Order{} },
			step:    CreatingOrder,
			message: MsgOrderFailed,
			target:  service.ErrNoOrderID,
		},
		{
			name:    "no order",
			tweak:   func(s *stubAPI) { s.order = nil },
			step:    CreatingOrder,
			message: MsgOrderFailed,
			target:  service.ErrNoOrderID,
		},
		{
			name:     "payment without amount",
			tweak:    func(s *stubAPI) { s.payment.Amount = nil },
			step:     CreatingPayment,
			message:  MsgPaymentFailed,
			target:   service.ErrIncompletePayment,
			payments: 1,
		},
		{
			name:     "payment without ids",
			tweak:    func(s *stubAPI) { s.payment = &model.PaymentInitiation{Amount: amount(250)} },
			step:     CreatingPayment,
			message:  MsgPaymentFailed,
			target:   service.ErrIncompletePayment,
			payments: 1,
		},
		{
			name:     "no payment",
			tweak:    func(s *stubAPI) { s.payment = nil },
			step:     CreatingPayment,
			message:  MsgPaymentFailed,
			target:   service.ErrIncompletePayment,
			payments: 1,
		},
		{
			name:     "no verification result",
			tweak:    func(s *stubAPI) { s.verify = nil },
			step:     Verifying,
			message:  MsgVerifyFailed,
			target:   ErrNotVerified,
			payments: 1,
			verifies: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			api := validStub()
			tt.tweak(api)
			w := New(api, f.cart, succeed("sig"), nil)

			receipt, err := w.Run(context.Background(), Request{OutletID: 3})
			assert.Nil(t, receipt)

			var stepErr *StepError
			require.ErrorAs(t, err, &stepErr)
			assert.Equal(t, tt.step, stepErr.Step)
			assert.Equal(t, tt.message, stepErr.Message)
			assert.ErrorIs(t, err, tt.target)

			assert.Len(t, api.payments, tt.payments)
			assert.Equal(t, tt.verifies, api.verifies)
			assert.Len(t, f.cart.Snapshot().Items, 2)
			assert.Equal(t, Idle, w.State())
		})
	}
}

func TestRun_StubAPISuccess(t *testing.T) {
	f := newFixture(t)
	api := validStub()
	w := New(api, f.cart, succeed("sig"), nil)

	receipt, err := w.Run(context.Background(), Request{OutletID: 3})
	require.NoError(t, err)
	assert.Equal(t, "101", receipt.OrderID)
	assert.Equal(t, []string{"101"}, api.payments)
	assert.Empty(t, f.cart.Snapshot().Items)
}

func TestRun_VerificationRejectedWithoutMessage(t *testing.T) {
	f := newFixture(t)
	api := validStub()
	api.verify = &model.VerifyPaymentResult{Success: false}
	w := New(api, f.cart, succeed("sig"), nil)

	_, err := w.Run(context.Background(), Request{OutletID: 3})

	require.ErrorIs(t, err, ErrNotVerified)
	assert.Equal(t, MsgVerifyFailed+": "+ErrNotVerified.Error(), err.Error())
	assert.NotContains(t, err.Error(), ": :")
}
