// Package checkout проводит оформление заказа: создание заказа, создание
// платежа, оплату в виджете платёжного шлюза и проверку подписи платежа.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mmeshcher/kpabk-connect/internal/gateway"
	"github.com/mmeshcher/kpabk-connect/internal/model"
	"github.com/mmeshcher/kpabk-connect/internal/service"
	"github.com/mmeshcher/kpabk-connect/internal/store"
)

// State описывает состояние процесса оформления.
type State int

const (
	Idle State = iota
	CreatingOrder
	CreatingPayment
	AwaitingGatewayWidget
	Verifying
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CreatingOrder:
		return "creating order"
	case CreatingPayment:
		return "creating payment"
	case AwaitingGatewayWidget:
		return "awaiting payment"
	case Verifying:
		return "verifying"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Сообщения об ошибках шагов.
const (
	MsgOrderFailed   = "Could not create order"
	MsgPaymentFailed = "Could not create payment"
	MsgWidgetFailed  = "Could not open payment window"
	MsgCancelled     = "Payment cancelled"
	MsgDeclined      = "Payment failed"
	MsgVerifyFailed  = "Payment verification failed"
)

// Ошибки, возвращаемые до обращения к серверу.
var (
	ErrInProgress = errors.New("checkout already in progress")
	ErrEmptyCart  = errors.New("cart is empty")
	ErrNoOutlet   = errors.New("outlet is not selected")
)

// ErrNotVerified означает, что сервер не подтвердил платёж.
var ErrNotVerified = errors.New("payment was not verified")

// StepError описывает сбой конкретного шага оформления.
type StepError struct {
	Step    State
	Message string
	// SessionExpired выставляется при ответе 401: шлюз уже сбросил сессию,
	// отдельное сообщение об ошибке оформления не показывается.
	SessionExpired bool
	Cancelled      bool
	Err            error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// API описывает вызовы, нужные для оформления.
type API interface {
	CreateOrder(ctx context.Context, req model.CreateOrderRequest) (*model.Order, error)
	CreatePayment(ctx context.Context, orderID string) (*model.PaymentInitiation, error)
	VerifyPayment(ctx context.Context, req model.VerifyPaymentRequest) (*model.VerifyPaymentResult, error)
}

// Cart описывает корзину, из которой оформляется заказ.
type Cart interface {
	Snapshot() store.CartState
	Clear()
}

// Request содержит параметры оформления.
type Request struct {
	OutletID int64
	Method   model.PaymentMethod
	Prefill  Prefill
}

// Receipt описывает результат успешной оплаты.
type Receipt struct {
	OrderID          string
	PaymentID        string
	GatewayOrderID   string
	GatewayPaymentID string
	Amount           float64
	Currency         string
	Message          string
}

// Transition описывает смену состояния.
type Transition struct {
	From State
	To   State
	Err  *StepError
}

// Workflow проводит оформление заказа из корзины.
type Workflow struct {
	api    API
	cart   Cart
	widget Widget
	logger *zap.Logger

	running atomic.Bool

	mu        sync.Mutex
	state     State
	next      int
	listeners map[int]func(Transition)
}

// New создаёт процесс оформления.
func New(api API, cart Cart, widget Widget, logger *zap.Logger) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		api:       api,
		cart:      cart,
		widget:    widget,
		logger:    logger,
		listeners: make(map[int]func(Transition)),
	}
}

// State возвращает текущее состояние.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Running сообщает, идёт ли сейчас оформление.
func (w *Workflow) Running() bool {
	return w.running.Load()
}

// OnTransition подписывает fn на смену состояний.
func (w *Workflow) OnTransition(fn func(Transition)) (unsubscribe func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.next
	w.next++
	w.listeners[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.listeners, id)
	}
}

// Reset возвращает процесс после успешной оплаты в Idle.
func (w *Workflow) Reset() {
	if w.running.Load() {
		return
	}
	w.transition(Idle, nil)
}

// Run проводит оформление. После Failed процесс сразу возвращается в Idle,
// Succeeded сохраняется до следующего запуска или Reset. Корзина очищается
// только после успешной проверки платежа.
func (w *Workflow) Run(ctx context.Context, req Request) (*Receipt, error) {
	if !w.running.CompareAndSwap(false, true) {
		return nil, ErrInProgress
	}
	defer w.running.Store(false)

	cart := w.cart.Snapshot()
	if len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}
	if req.OutletID <= 0 {
		return nil, ErrNoOutlet
	}

	w.transition(CreatingOrder, nil)
	lines := make([]model.OrderLine, 0, len(cart.Items))
	for _, it := range cart.Items {
		lines = append(lines, model.OrderLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	order, err := w.api.CreateOrder(ctx, model.CreateOrderRequest{OutletID: req.OutletID, Items: lines})
	if err != nil {
		return nil, w.fail(CreatingOrder, MsgOrderFailed, err)
	}
	if order == nil || order.ID == "" {
		return nil, w.fail(CreatingOrder, MsgOrderFailed, service.ErrNoOrderID)
	}
	w.logger.Info("order created", zap.String("order_id", order.ID.String()))

	w.transition(CreatingPayment, nil)
	payment, err := w.api.CreatePayment(ctx, order.ID.String())
	if err != nil {
		return nil, w.fail(CreatingPayment, MsgPaymentFailed, err)
	}
	if err := checkPayment(payment); err != nil {
		return nil, w.fail(CreatingPayment, MsgPaymentFailed, err)
	}

	w.transition(AwaitingGatewayWidget, nil)
	cfg := WidgetConfig{
		Key:         payment.RazorpayKeyID,
		Amount:      MinorUnits(*payment.Amount),
		Currency:    payment.Currency,
		OrderID:     payment.RazorpayOrderID,
		Name:        "KPABK Connect",
		Description: "Order " + order.ID.String(),
		Prefill:     req.Prefill,
		Method:      req.Method,
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	res, stepErr := w.awaitWidget(ctx, cfg)
	if stepErr != nil {
		return nil, w.failWith(stepErr)
	}

	w.transition(Verifying, nil)
	verify, err := w.api.VerifyPayment(ctx, model.VerifyPaymentRequest{
		GatewayOrderID: res.GatewayOrderID,
		PaymentID:      res.PaymentID,
		Signature:      res.Signature,
	})
	if err != nil {
		return nil, w.fail(Verifying, MsgVerifyFailed, err)
	}
	if verify == nil {
		return nil, w.fail(Verifying, MsgVerifyFailed, ErrNotVerified)
	}
	if !verify.Success {
		reason := ErrNotVerified
		if verify.Message != "" {
			reason = fmt.Errorf("%w: %s", ErrNotVerified, verify.Message)
		}
		return nil, w.fail(Verifying, MsgVerifyFailed, reason)
	}

	w.cart.Clear()
	w.transition(Succeeded, nil)
	w.logger.Info("payment verified",
		zap.String("order_id", order.ID.String()),
		zap.String("payment_id", payment.PaymentID.String()))

	return &Receipt{
		OrderID:          order.ID.String(),
		PaymentID:        payment.PaymentID.String(),
		GatewayOrderID:   res.GatewayOrderID,
		GatewayPaymentID: res.PaymentID,
		Amount:           *payment.Amount,
		Currency:         cfg.Currency,
		Message:          verify.Message,
	}, nil
}

// checkPayment проверяет, что ответ содержит всё нужное для виджета.
func checkPayment(p *model.PaymentInitiation) error {
	if p == nil {
		return fmt.Errorf("%w: empty response", service.ErrIncompletePayment)
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
		return fmt.Errorf("%w: missing %s", service.ErrIncompletePayment, strings.Join(missing, ", "))
	}
	return nil
}

// MinorUnits переводит сумму в минимальные единицы валюты (пайсы).
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

type outcome struct {
	success *SuccessPayload
	message string
	dismiss bool
}

// awaitWidget открывает виджет и ждёт первого из трёх исходов.
func (w *Workflow) awaitWidget(ctx context.Context, cfg WidgetConfig) (SuccessPayload, *StepError) {
	results := make(chan outcome, 1)
	var once sync.Once
	deliver := func(o outcome) {
		once.Do(func() { results <- o })
	}

	cb := Callbacks{
		OnSuccess: func(p SuccessPayload) { deliver(outcome{success: &p}) },
		OnFailure: func(msg string) { deliver(outcome{message: msg}) },
		OnDismiss: func() { deliver(outcome{dismiss: true}) },
	}

	if err := w.widget.Open(ctx, cfg, cb); err != nil {
		return SuccessPayload{}, &StepError{Step: AwaitingGatewayWidget, Message: MsgWidgetFailed, Err: err}
	}

	select {
	case o := <-results:
		switch {
		case o.success != nil:
			if o.success.GatewayOrderID == "" {
				o.success.GatewayOrderID = cfg.OrderID
			}
			return *o.success, nil
		case o.dismiss:
			return SuccessPayload{}, &StepError{Step: AwaitingGatewayWidget, Message: MsgCancelled, Cancelled: true}
		default:
			msg := o.message
			if msg == "" {
				msg = MsgDeclined
			}
			return SuccessPayload{}, &StepError{Step: AwaitingGatewayWidget, Message: msg}
		}
	case <-ctx.Done():
		return SuccessPayload{}, &StepError{Step: AwaitingGatewayWidget, Message: MsgCancelled, Cancelled: true, Err: ctx.Err()}
	}
}

func (w *Workflow) fail(step State, msg string, err error) *StepError {
	return w.failWith(&StepError{
		Step:           step,
		Message:        msg,
		SessionExpired: gateway.IsUnauthorized(err),
		Err:            err,
	})
}

func (w *Workflow) failWith(e *StepError) *StepError {
	if e.SessionExpired {
		w.logger.Info("checkout stopped, session expired", zap.Stringer("step", e.Step))
	} else {
		w.logger.Warn("checkout failed",
			zap.Stringer("step", e.Step),
			zap.String("message", e.Message),
			zap.Error(e.Err))
	}
	w.transition(Failed, e)
	w.transition(Idle, nil)
	return e
}

func (w *Workflow) transition(to State, err *StepError) {
	w.mu.Lock()
	from := w.state
	w.state = to
	fns := make([]func(Transition), 0, len(w.listeners))
	for _, fn := range w.listeners {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	t := Transition{From: from, To: to, Err: err}
	for _, fn := range fns {
		fn(t)
	}
}
