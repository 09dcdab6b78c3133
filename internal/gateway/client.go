// Package gateway содержит единую точку выхода всех запросов к backend KPABK Connect.
// Шлюз подставляет токен, считает незавершённые запросы и глобально
// реагирует на отказ в аутентификации.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// TokenSource отдаёт текущий токен и умеет однократно сбросить его.
type TokenSource interface {
	Token() string
	ClearIfCurrent(ctx context.Context, token string) bool
}

// Navigator перенаправляет пользователя на экран входа.
type Navigator interface {
	RedirectToLogin()
}

// Client инкапсулирует HTTP-взаимодействие с backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	hub        *Hub
	counter    *Counter
	nav        Navigator
	logger     *zap.Logger
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout задаёт общий таймаут запроса. Ноль оставляет поведение транспорта.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithNavigator задаёт получателя перенаправления на вход.
func WithNavigator(nav Navigator) Option {
	return func(c *Client) { c.nav = nav }
}

// WithLogger задаёт логгер.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient создаёт шлюз для backend по адресу baseURL.
func NewClient(baseURL string, tokens TokenSource, hub *Hub, opts ...Option) *Client {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	if hub == nil {
		hub = NewHub()
	}

	c := &Client{
		baseURL: base,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tokens: tokens,
		hub:    hub,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.counter = NewCounter(hub)
	return c
}

// Hub возвращает набор подписок шлюза.
func (c *Client) Hub() *Hub {
	return c.hub
}

// Pending возвращает число незавершённых запросов.
func (c *Client) Pending() int {
	return c.counter.Pending()
}

// Get выполняет GET-запрос и декодирует ответ в out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post выполняет POST-запрос.
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, in, out)
}

// Put выполняет PUT-запрос.
func (c *Client) Put(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPut, path, nil, in, out)
}

// Patch выполняет PATCH-запрос с параметрами в строке запроса.
func (c *Client) Patch(ctx context.Context, path string, query url.Values, in, out any) error {
	return c.Do(ctx, http.MethodPatch, path, query, in, out)
}

// Delete выполняет DELETE-запрос.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// Do выполняет запрос к backend. Тело in кодируется в JSON, ответ
// (или его поле data, если оно есть) декодируется в out.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var token string
	if c.tokens != nil {
		token = c.tokens.Token()
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	status, respBody, err := c.send(req)
	if err != nil {
		c.logger.Debug("request failed",
			zap.String("method", method), zap.String("path", path),
			zap.String("requestID", requestID), zap.Error(err))
		return fmt.Errorf("do request: %w", err)
	}

	c.logger.Debug("request done",
		zap.String("method", method), zap.String("path", path),
		zap.String("requestID", requestID), zap.Int("status", status))

	if status == http.StatusUnauthorized {
		c.handleUnauthorized(ctx, token)
	}

	if status < 200 || status > 299 {
		return &APIError{
			Status:    status,
			Message:   parseErrorMessage(respBody),
			RequestID: requestID,
		}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	if err := json.Unmarshal(unwrap(respBody), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// send отправляет запрос и читает тело. Счётчик увеличивается перед отправкой
// и уменьшается ровно один раз при любом исходе.
func (c *Client) send(req *http.Request) (int, []byte, error) {
	c.counter.Inc()
	defer c.counter.Dec()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) handleUnauthorized(ctx context.Context, token string) {
	if c.tokens == nil || !c.tokens.ClearIfCurrent(context.WithoutCancel(ctx), token) {
		return
	}

	c.logger.Info("session invalidated by server")
	c.hub.emitInvalidated()
	if c.nav != nil {
		c.nav.RedirectToLogin()
	}
}

// unwrap извлекает поле data из конверта { data, message }, если оно присутствует.
func unwrap(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return body
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return body
	}
	data, ok := envelope["data"]
	if !ok || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return body
	}
	return data
}
