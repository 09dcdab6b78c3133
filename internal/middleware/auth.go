// Package middleware содержит HTTP middleware сервера обратных вызовов оплаты.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

type contextKey string

const sessionIDKey contextKey = "checkoutSession"

const (
	// CookieName задаёт cookie, которым страница оплаты подтверждает обратные вызовы.
	CookieName = "kpabk_checkout"
	// TokenParam задаёт параметр адреса страницы оплаты с подписанным токеном.
	TokenParam = "token"

	cookieTTL = 30 * time.Minute
)

// AuthMiddleware проверяет подписанный токен сессии оплаты.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт AuthMiddleware с ключом secret.
// Пустой ключ заменяется случайным на время жизни процесса.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("kpabk-callback-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware принимает токен из параметра token или из cookie и кладёт
// идентификатор сессии оплаты в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get(TokenParam)
		if token == "" {
			if cookie, err := r.Cookie(CookieName); err == nil {
				token = cookie.Value
			}
		}
		if token == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		sessionID, ok := a.Parse(token)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), sessionIDKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetAuthCookie выставляет cookie с токеном сессии оплаты.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    a.Sign(sessionID),
		Path:     "/checkout/" + sessionID,
		Expires:  time.Now().Add(cookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// Sign возвращает токен вида "<sessionID>.<hmac>".
func (a *AuthMiddleware) Sign(sessionID string) string {
	return sessionID + "." + a.signature(sessionID)
}

// Parse проверяет подпись токена и возвращает идентификатор сессии.
func (a *AuthMiddleware) Parse(token string) (string, bool) {
	sessionID, signature, ok := strings.Cut(token, ".")
	if !ok || sessionID == "" || strings.Contains(signature, ".") {
		return "", false
	}

	if !hmac.Equal([]byte(signature), []byte(a.signature(sessionID))) {
		return "", false
	}
	return sessionID, true
}

func (a *AuthMiddleware) signature(sessionID string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(sessionID))
	return hex.EncodeToString(mac.Sum(nil))
}

// GetSessionIDFromContext извлекает идентификатор сессии оплаты из контекста.
func GetSessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok
}
