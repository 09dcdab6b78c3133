// Package handler содержит HTTP-обработчики страницы оплаты и обратных вызовов
// виджета платёжного шлюза.
package handler

import (
	_ "embed"
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/kpabk-connect/internal/checkout"
	"github.com/mmeshcher/kpabk-connect/internal/middleware"
)

//go:embed checkout.html
var checkoutPage string

var pageTemplate = template.Must(template.New("checkout").Parse(checkoutPage))

// Sessions определяет контракт открытых сессий оплаты.
// Методы исхода возвращают false, если сессия неизвестна или уже завершена.
type Sessions interface {
	Lookup(id string) (checkout.WidgetConfig, bool)
	Success(id string, p checkout.SuccessPayload) bool
	Failure(id, message string) bool
	Dismiss(id string) bool
}

// Handler реализует HTTP-обработчики сервера обратных вызовов.
type Handler struct {
	sessions       Sessions
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт обработчик.
func NewHandler(s Sessions, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		sessions:       s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type pageData struct {
	SessionID   string
	Key         string
	Amount      int64
	Currency    string
	OrderID     string
	Name        string
	Description string
	Prefill     checkout.Prefill
	Method      string
}

// Page отдаёт страницу оплаты с виджетом Razorpay Checkout.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	cfg, ok := h.sessions.Lookup(id)
	if !ok {
		http.Error(w, http.StatusText(http.StatusGone), http.StatusGone)
		return
	}

	h.authMiddleware.SetAuthCookie(w, id)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	data := pageData{
		SessionID:   id,
		Key:         cfg.Key,
		Amount:      cfg.Amount,
		Currency:    cfg.Currency,
		OrderID:     cfg.OrderID,
		Name:        cfg.Name,
		Description: cfg.Description,
		Prefill:     cfg.Prefill,
		Method:      string(cfg.Method),
	}
	if err := pageTemplate.Execute(w, data); err != nil {
		h.logger.Error("render checkout page", zap.Error(err), zap.String("session", id))
	}
}

type successRequest struct {
	PaymentID string `json:"razorpay_payment_id"`
	OrderID   string `json:"razorpay_order_id"`
	Signature string `json:"razorpay_signature"`
}

// Success принимает подтверждение оплаты от виджета.
func (h *Handler) Success(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req successRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.PaymentID == "" || req.Signature == "" {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	h.finish(w, id, "success", h.sessions.Success(id, checkout.SuccessPayload{
		GatewayOrderID: req.OrderID,
		PaymentID:      req.PaymentID,
		Signature:      req.Signature,
	}))
}

type failureRequest struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Reason      string `json:"reason"`
	} `json:"error"`
}

// Failure принимает событие payment.failed от виджета.
func (h *Handler) Failure(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req failureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	msg := req.Error.Description
	if msg == "" {
		msg = req.Error.Reason
	}
	h.finish(w, id, "failure", h.sessions.Failure(id, msg))
}

// Dismiss принимает закрытие виджета без оплаты.
func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	h.finish(w, id, "dismiss", h.sessions.Dismiss(id))
}

// sessionID сверяет сессию из адреса с сессией подписанного токена.
func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	fromToken, ok := middleware.GetSessionIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return "", false
	}
	if fromURL := chi.URLParam(r, "session"); fromURL != "" && fromURL != fromToken {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return "", false
	}
	return fromToken, true
}

func (h *Handler) finish(w http.ResponseWriter, id, outcome string, accepted bool) {
	if !accepted {
		h.logger.Warn("callback for closed session", zap.String("session", id), zap.String("outcome", outcome))
		http.Error(w, http.StatusText(http.StatusGone), http.StatusGone)
		return
	}

	h.logger.Info("payment widget finished", zap.String("session", id), zap.String("outcome", outcome))
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": outcome}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}
