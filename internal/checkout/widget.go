package checkout

import (
	"context"

	"github.com/mmeshcher/kpabk-connect/internal/model"
)

// Prefill содержит данные покупателя, которые виджет подставляет в форму.
type Prefill struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// WidgetConfig содержит параметры открытия виджета шлюза.
// Amount задаётся в минимальных единицах валюты.
type WidgetConfig struct {
	Key         string
	Amount      int64
	Currency    string
	OrderID     string
	Name        string
	Description string
	Prefill     Prefill
	Method      model.PaymentMethod
}

// SuccessPayload содержит подтверждение оплаты от шлюза.
type SuccessPayload struct {
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

// Callbacks получают исход работы виджета. Учитывается только первый вызов.
type Callbacks struct {
	OnSuccess func(SuccessPayload)
	OnFailure func(message string)
	OnDismiss func()
}

// Widget открывает платёжный виджет шлюза. Open не блокируется до оплаты:
// исход сообщается через Callbacks.
type Widget interface {
	Open(ctx context.Context, cfg WidgetConfig, cb Callbacks) error
}

// WidgetFunc позволяет использовать функцию как Widget.
type WidgetFunc func(ctx context.Context, cfg WidgetConfig, cb Callbacks) error

// Open вызывает f.
func (f WidgetFunc) Open(ctx context.Context, cfg WidgetConfig, cb Callbacks) error {
	return f(ctx, cfg, cb)
}
