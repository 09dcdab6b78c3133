package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/kpabk-connect/internal/gateway"
	"github.com/mmeshcher/kpabk-connect/internal/model"
	"github.com/mmeshcher/kpabk-connect/internal/session"
)

// AuthAPI описывает вызовы аутентификации.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (*model.LoginResponse, error)
	Register(ctx context.Context, req model.RegisterRequest) error
	Me(ctx context.Context) (*model.UserProfile, error)
}

// SessionStore описывает хранилище сессии, с которым работает слайс.
type SessionStore interface {
	SetToken(ctx context.Context, token string) error
	SetUser(user *model.UserProfile)
	Restore(ctx context.Context) (session.Session, error)
	Clear(ctx context.Context) error
}

// AuthState описывает состояние аутентификации.
type AuthState struct {
	User            *model.UserProfile
	Token           string
	IsAuthenticated bool
	Loading         bool
	Registered      bool
	Error           string
}

// Role возвращает роль текущего пользователя.
func (s AuthState) Role() model.Role {
	if s.User == nil {
		return model.RoleUnknown
	}
	return s.User.Role
}

type authOp int

const (
	authLogin authOp = iota
	authRegister
	authFetchUser
	authRestore
	authLogout
	authClearError
)

type authAction struct {
	op    authOp
	phase Phase

	token string
	user  *model.UserProfile
	err   string
}

func reduceAuth(s AuthState, a authAction) AuthState {
	switch a.op {
	case authLogin:
		switch a.phase {
		case Pending:
			s.Loading = true
			s.Error = ""
		case Fulfilled:
			s.Loading = false
			s.Token = a.token
			s.User = a.user
			s.IsAuthenticated = true
			s.Error = ""
		case Rejected:
			s.Loading = false
			s.Error = a.err
		}

	case authRegister:
		switch a.phase {
		case Pending:
			s.Loading = true
			s.Registered = false
			s.Error = ""
		case Fulfilled:
			s.Loading = false
			s.Registered = true
		case Rejected:
			s.Loading = false
			s.Error = a.err
		}

	case authFetchUser:
		switch a.phase {
		case Pending:
			s.Loading = true
		case Fulfilled:
			s.Loading = false
			s.User = a.user
			s.IsAuthenticated = true
			s.Error = ""
		case Rejected:
			s.Loading = false
			s.User = nil
			s.Token = ""
			s.IsAuthenticated = false
			s.Error = a.err
		}

	case authRestore:
		s.Token = a.token
		s.User = a.user
		s.IsAuthenticated = a.token != ""

	case authLogout:
		s = AuthState{}

	case authClearError:
		s.Error = ""
	}
	return s
}

func cloneAuth(s AuthState) AuthState {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// Auth управляет слайсом аутентификации.
type Auth struct {
	api     AuthAPI
	session SessionStore
	logger  *zap.Logger
	s       slice[AuthState, authAction]

	unsubscribe func()
}

// NewAuth создаёт слайс аутентификации. Если hub задан, слайс переходит
// в состояние выхода при событии сброса сессии.
func NewAuth(api AuthAPI, sess SessionStore, hub *gateway.Hub, logger *zap.Logger) *Auth {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Auth{
		api:     api,
		session: sess,
		logger:  logger,
		s: slice[AuthState, authAction]{
			reduce: reduceAuth,
			clone:  cloneAuth,
		},
	}
	if hub != nil {
		a.unsubscribe = hub.OnSessionInvalidated(func() {
			a.s.dispatch(authAction{op: authLogout})
		})
	}
	return a
}

// Close отписывает слайс от событий шлюза.
func (a *Auth) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}

// Snapshot возвращает копию состояния.
func (a *Auth) Snapshot() AuthState {
	return a.s.snapshot()
}

// Subscribe подписывает fn на изменения состояния.
func (a *Auth) Subscribe(fn func(AuthState)) (unsubscribe func()) {
	return a.s.subs.add(fn)
}

// Login выполняет вход и сохраняет токен.
func (a *Auth) Login(ctx context.Context, email, password string) error {
	a.s.dispatch(authAction{op: authLogin, phase: Pending})

	resp, err := a.api.Login(ctx, email, password)
	if err != nil {
		opErr := reject("auth/login", err, "Login failed")
		a.s.dispatch(authAction{op: authLogin, phase: Rejected, err: opErr.Message})
		return opErr
	}

	user := resp.Profile()
	if err := a.session.SetToken(ctx, resp.AccessToken); err != nil {
		// Сессия действует до конца процесса, но не переживёт перезапуск.
		a.logger.Warn("session token was not persisted", zap.Error(err))
	}
	a.session.SetUser(user)

	a.s.dispatch(authAction{op: authLogin, phase: Fulfilled, token: resp.AccessToken, user: user})
	return nil
}

// Register регистрирует пользователя.
func (a *Auth) Register(ctx context.Context, req model.RegisterRequest) error {
	a.s.dispatch(authAction{op: authRegister, phase: Pending})

	if err := a.api.Register(ctx, req); err != nil {
		opErr := reject("auth/register", err, "Registration failed")
		a.s.dispatch(authAction{op: authRegister, phase: Rejected, err: opErr.Message})
		return opErr
	}
	a.s.dispatch(authAction{op: authRegister, phase: Fulfilled})
	return nil
}

// Restore поднимает сохранённую сессию. При наличии токена пользователь
// сразу считается аутентифицированным, затем загружается его профиль.
func (a *Auth) Restore(ctx context.Context) error {
	sess, err := a.session.Restore(ctx)
	if err != nil {
		a.logger.Warn("session restore failed", zap.Error(err))
	}
	a.s.dispatch(authAction{op: authRestore, token: sess.Token, user: sess.User})

	if sess.Token == "" {
		return nil
	}
	return a.FetchCurrentUser(ctx)
}

// FetchCurrentUser загружает профиль. Ошибка сбрасывает сессию.
func (a *Auth) FetchCurrentUser(ctx context.Context) error {
	a.s.dispatch(authAction{op: authFetchUser, phase: Pending})

	user, err := a.api.Me(ctx)
	if err != nil {
		if clearErr := a.session.Clear(ctx); clearErr != nil {
			a.logger.Warn("session clear failed", zap.Error(clearErr))
		}
		opErr := reject("auth/me", err, "Failed to fetch user")
		a.s.dispatch(authAction{op: authFetchUser, phase: Rejected, err: opErr.Message})
		return opErr
	}

	a.session.SetUser(user)
	a.s.dispatch(authAction{op: authFetchUser, phase: Fulfilled, user: user})
	return nil
}

// Logout завершает сессию.
func (a *Auth) Logout(ctx context.Context) error {
	err := a.session.Clear(ctx)
	a.s.dispatch(authAction{op: authLogout})
	return err
}

// ClearError сбрасывает сообщение об ошибке.
func (a *Auth) ClearError() {
	a.s.dispatch(authAction{op: authClearError})
}
