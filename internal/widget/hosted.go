// Package widget открывает виджет Razorpay Checkout на локальной странице оплаты
// и передаёт его исход процессу оформления заказа.
package widget

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/kpabk-connect/internal/checkout"
	"github.com/mmeshcher/kpabk-connect/internal/handler"
	"github.com/mmeshcher/kpabk-connect/internal/middleware"
)

// ErrNotListening возвращается Open до вызова Listen.
var ErrNotListening = errors.New("payment page server is not listening")

const shutdownTimeout = 5 * time.Second

type session struct {
	cfg  checkout.WidgetConfig
	cb   checkout.Callbacks
	stop func() bool
}

// Hosted реализует checkout.Widget через локальный HTTP-сервер со страницей оплаты.
type Hosted struct {
	addr   string
	auth   *middleware.AuthMiddleware
	logger *zap.Logger
	out    io.Writer

	// QR включает вывод QR-кода ссылки на страницу оплаты.
	QR bool

	mu       sync.Mutex
	sessions map[string]*session
	server   *http.Server
	ln       net.Listener
	baseURL  string
}

// NewHosted создаёт виджет. Ссылка на страницу оплаты печатается в out.
func NewHosted(addr, secret string, out io.Writer, logger *zap.Logger) *Hosted {
	if logger == nil {
		logger = zap.NewNop()
	}
	if out == nil {
		out = io.Discard
	}

	h := &Hosted{
		addr:     addr,
		auth:     middleware.NewAuthMiddleware(secret),
		logger:   logger,
		out:      out,
		QR:       true,
		sessions: make(map[string]*session),
	}
	h.server = &http.Server{
		Handler:           handler.NewHandler(h, logger, h.auth).SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return h
}

// Listen открывает порт сервера страницы оплаты.
func (h *Hosted) Listen() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.addr, err)
	}

	h.mu.Lock()
	h.ln = ln
	h.baseURL = "http://" + ln.Addr().String()
	h.mu.Unlock()
	return nil
}

// URL возвращает базовый адрес сервера.
func (h *Hosted) URL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.baseURL
}

// Serve обслуживает запросы до отмены ctx.
func (h *Hosted) Serve(ctx context.Context) error {
	h.mu.Lock()
	ln := h.ln
	h.mu.Unlock()
	if ln == nil {
		return ErrNotListening
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		h.logger.Info("payment page server started", zap.String("addr", ln.Addr().String()))
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("payment page server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("payment page server shutdown: %w", err)
		}
		h.logger.Info("payment page server stopped")
		return nil
	})

	return g.Wait()
}

// Open регистрирует сессию оплаты и печатает ссылку на её страницу.
// Сессия удаляется после первого исхода или отмены ctx.
func (h *Hosted) Open(ctx context.Context, cfg checkout.WidgetConfig, cb checkout.Callbacks) error {
	base := h.URL()
	if base == "" {
		return ErrNotListening
	}

	id := uuid.NewString()
	s := &session{cfg: cfg, cb: cb}

	h.mu.Lock()
	h.sessions[id] = s
	s.stop = context.AfterFunc(ctx, func() {
		if h.take(id) != nil {
			h.logger.Info("payment session expired", zap.String("session", id))
		}
	})
	h.mu.Unlock()

	link := fmt.Sprintf("%s/checkout/%s?%s=%s", base, id, middleware.TokenParam, url.QueryEscape(h.auth.Sign(id)))
	h.logger.Debug("payment session opened", zap.String("session", id), zap.String("order", cfg.OrderID))

	if _, err := fmt.Fprintf(h.out, "Open the payment page to pay %s %.2f:\n  %s\n", cfg.Currency, float64(cfg.Amount)/100, link); err != nil {
		h.take(id)
		return fmt.Errorf("print payment link: %w", err)
	}

	if h.QR {
		qr, err := qrcode.New(link, qrcode.Medium)
		if err != nil {
			h.logger.Warn("build payment QR code", zap.Error(err))
			return nil
		}
		fmt.Fprintln(h.out, qr.ToSmallString(false))
	}
	return nil
}

// Lookup возвращает параметры открытой сессии.
func (h *Hosted) Lookup(id string) (checkout.WidgetConfig, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return checkout.WidgetConfig{}, false
	}
	return s.cfg, true
}

// Success передаёт подтверждение оплаты и закрывает сессию.
func (h *Hosted) Success(id string, p checkout.SuccessPayload) bool {
	s := h.take(id)
	if s == nil {
		return false
	}
	if s.cb.OnSuccess != nil {
		s.cb.OnSuccess(p)
	}
	return true
}

// Failure передаёт ошибку оплаты и закрывает сессию.
func (h *Hosted) Failure(id, message string) bool {
	s := h.take(id)
	if s == nil {
		return false
	}
	if s.cb.OnFailure != nil {
		s.cb.OnFailure(message)
	}
	return true
}

// Dismiss передаёт закрытие виджета и закрывает сессию.
func (h *Hosted) Dismiss(id string) bool {
	s := h.take(id)
	if s == nil {
		return false
	}
	if s.cb.OnDismiss != nil {
		s.cb.OnDismiss()
	}
	return true
}

func (h *Hosted) take(id string) *session {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	h.mu.Unlock()

	if !ok {
		return nil
	}
	if s.stop != nil {
		s.stop()
	}
	return s
}
