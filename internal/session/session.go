// Package session хранит токен аутентификации и профиль текущего пользователя.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/kpabk-connect/internal/model"
	"github.com/mmeshcher/kpabk-connect/internal/repository"
)

// TokenKey задаёт ключ токена в долговременном хранилище.
const TokenKey = "auth_token"

// Storage описывает долговременное хранилище ключ-значение.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Session описывает снимок состояния сессии.
type Session struct {
	Token           string
	User            *model.UserProfile
	IsAuthenticated bool
}

// Store хранит сессию в памяти и синхронно записывает токен в Storage.
type Store struct {
	mu      sync.RWMutex
	storage Storage
	logger  *zap.Logger
	now     func() time.Time

	token string
	user  *model.UserProfile
	authd bool
}

// NewStore создаёт хранилище сессии поверх storage.
func NewStore(storage Storage, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
}

// Token возвращает текущий токен или пустую строку.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Snapshot возвращает копию текущей сессии.
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Session{Token: s.token, User: s.user, IsAuthenticated: s.authd}
}

// SetToken сохраняет токен. Пустой токен означает выход.
// Состояние в памяти меняется всегда, ошибка записи возвращается вызывающему.
func (s *Store) SetToken(ctx context.Context, token string) error {
	s.mu.Lock()
	s.token = token
	s.authd = token != ""
	if token == "" {
		s.user = nil
	}
	s.mu.Unlock()

	return s.persist(ctx, token)
}

// SetUser сохраняет профиль, полученный с сервера.
func (s *Store) SetUser(user *model.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
}

// Restore читает сохранённый токен и оптимистично помечает сессию как аутентифицированную.
// JWT с истёкшим exp считается отсутствующим и удаляется из хранилища.
func (s *Store) Restore(ctx context.Context) (Session, error) {
	token, err := s.storage.Get(ctx, TokenKey)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return s.Snapshot(), fmt.Errorf("restore session: %w", err)
	}

	if token != "" && s.expired(token) {
		s.logger.Info("stored token expired, discarding")
		token = ""
		if err := s.storage.Delete(ctx, TokenKey); err != nil {
			s.logger.Warn("delete expired token", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.token = token
	s.authd = token != ""
	s.user = nil
	s.mu.Unlock()

	return s.Snapshot(), nil
}

// Clear удаляет токен и профиль.
func (s *Store) Clear(ctx context.Context) error {
	return s.SetToken(ctx, "")
}

// ClearIfCurrent очищает сессию, только если в ней всё ещё лежит token.
// Возвращает true, если очистка действительно произошла.
func (s *Store) ClearIfCurrent(ctx context.Context, token string) bool {
	s.mu.Lock()
	if token == "" || s.token != token {
		s.mu.Unlock()
		return false
	}
	s.token = ""
	s.user = nil
	s.authd = false
	s.mu.Unlock()

	if err := s.persist(ctx, ""); err != nil {
		s.logger.Error("clear invalidated token", zap.Error(err))
	}
	return true
}

// Claims возвращает незаверенные claims JWT-токена, если токен является JWT.
func (s *Store) Claims() (jwt.MapClaims, bool) {
	return parseClaims(s.Token())
}

func (s *Store) persist(ctx context.Context, token string) error {
	var err error
	if token == "" {
		err = s.storage.Delete(ctx, TokenKey)
	} else {
		err = s.storage.Set(ctx, TokenKey, token)
	}
	if err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	return nil
}

func (s *Store) expired(token string) bool {
	claims, ok := parseClaims(token)
	if !ok {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.After(s.now())
}

func parseClaims(token string) (jwt.MapClaims, bool) {
	if token == "" {
		return nil, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}
