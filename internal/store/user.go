package store

import (
	"context"
	"slices"

	"github.com/mmeshcher/kpabk-connect/internal/model"
	"github.com/mmeshcher/kpabk-connect/internal/service"
)

// UserAPI описывает вызовы администрирования пользователей.
type UserAPI interface {
	ListUsers(ctx context.Context, q service.PageQuery, role model.Role) (*model.Page[model.User], error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	CreateUser(ctx context.Context, req model.UserRequest) (*model.User, error)
	UpdateUser(ctx context.Context, id int64, req model.UserRequest) (*model.User, error)
	SetUserEnabled(ctx context.Context, id int64, enabled bool) error
}

// UserState описывает состояние раздела пользователей.
type UserState struct {
	Users         []model.User
	Pagination    model.Pagination
	Role          model.Role
	Selected      *model.User
	Loading       bool
	ActionLoading bool
	Error         string
}

type userOp int

const (
	userList userOp = iota
	userSave
	userEnabled
	userClearError
)

type userAction struct {
	op    userOp
	phase Phase

	id      int64
	enabled bool
	role    model.Role

	page *model.Page[model.User]
	user *model.User
	err  string
}

func reduceUser(s UserState, a userAction) UserState {
	switch a.op {
	case userList:
		switch a.phase {
		case Pending:
			s.Loading = true
			s.Error = ""
		case Fulfilled:
			s.Loading = false
			s.Error = ""
			s.Users = a.page.Content
			if s.Users == nil {
				s.Users = []model.User{}
			}
			s.Pagination = a.page.Pagination
			s.Role = a.role
		case Rejected:
			s.Loading = false
			s.Error = a.err
		}

	case userSave:
		switch a.phase {
		case Pending:
			s.ActionLoading = true
			s.Error = ""
		case Fulfilled:
			s.ActionLoading = false
			s.Error = ""
			s.Selected = a.user
			if i := slices.IndexFunc(s.Users, func(u model.User) bool { return u.ID == a.user.ID }); i >= 0 {
				s.Users = slices.Clone(s.Users)
				s.Users[i] = *a.user
			}
		case Rejected:
			s.ActionLoading = false
			s.Error = a.err
		}

	case userEnabled:
		switch a.phase {
		case Fulfilled:
			if i := slices.IndexFunc(s.Users, func(u model.User) bool { return u.ID == a.id }); i >= 0 {
				s.Users = slices.Clone(s.Users)
				s.Users[i].Enabled = a.enabled
			}
			if s.Selected != nil && s.Selected.ID == a.id {
				u := *s.Selected
				u.Enabled = a.enabled
				s.Selected = &u
			}
		case Rejected:
			s.Error = a.err
		}

	case userClearError:
		s.Error = ""
	}
	return s
}

func cloneUser(s UserState) UserState {
	s.Users = slices.Clone(s.Users)
	if s.Selected != nil {
		u := *s.Selected
		s.Selected = &u
	}
	return s
}

// Users управляет слайсом пользователей.
type Users struct {
	api UserAPI
	s   slice[UserState, userAction]
}

// NewUsers создаёт слайс пользователей.
func NewUsers(api UserAPI) *Users {
	return &Users{
		api: api,
		s: slice[UserState, userAction]{
			state:  UserState{Users: []model.User{}, Pagination: DefaultPagination},
			reduce: reduceUser,
			clone:  cloneUser,
		},
	}
}

// Snapshot возвращает копию состояния.
func (u *Users) Snapshot() UserState {
	return u.s.snapshot()
}

// Subscribe подписывает fn на изменения состояния.
func (u *Users) Subscribe(fn func(UserState)) (unsubscribe func()) {
	return u.s.subs.add(fn)
}

// List загружает страницу пользователей. Непустая роль ограничивает выборку.
func (u *Users) List(ctx context.Context, q service.PageQuery, role model.Role) error {
	u.s.dispatch(userAction{op: userList, phase: Pending})

	page, err := u.api.ListUsers(ctx, q, role)
	if err != nil {
		return u.rejected(userList, "user/list", err, "Failed to fetch users")
	}
	u.s.dispatch(userAction{op: userList, phase: Fulfilled, page: page, role: role})
	return nil
}

// NextPage загружает страницу, следующую за сохранённой, с тем же фильтром роли.
func (u *Users) NextPage(ctx context.Context) (bool, error) {
	st := u.Snapshot()
	if !st.Pagination.HasNext() {
		return false, nil
	}
	return true, u.List(ctx, service.PageQuery{Page: st.Pagination.Page + 1, Size: st.Pagination.Size}, st.Role)
}

// Get загружает пользователя.
func (u *Users) Get(ctx context.Context, id int64) error {
	u.s.dispatch(userAction{op: userSave, phase: Pending})

	user, err := u.api.GetUser(ctx, id)
	if err != nil {
		return u.rejected(userSave, "user/get", err, "User not found")
	}
	u.s.dispatch(userAction{op: userSave, phase: Fulfilled, user: user})
	return nil
}

// Create создаёт пользователя.
func (u *Users) Create(ctx context.Context, req model.UserRequest) error {
	u.s.dispatch(userAction{op: userSave, phase: Pending})

	user, err := u.api.CreateUser(ctx, req)
	if err != nil {
		return u.rejected(userSave, "user/create", err, "Failed to create user")
	}
	u.s.dispatch(userAction{op: userSave, phase: Fulfilled, user: user})
	return nil
}

// Update изменяет пользователя и обновляет его в загруженном списке.
func (u *Users) Update(ctx context.Context, id int64, req model.UserRequest) error {
	u.s.dispatch(userAction{op: userSave, phase: Pending})

	user, err := u.api.UpdateUser(ctx, id, req)
	if err != nil {
		return u.rejected(userSave, "user/update", err, "Failed to update user")
	}
	u.s.dispatch(userAction{op: userSave, phase: Fulfilled, user: user})
	return nil
}

// SetEnabled включает или блокирует пользователя.
func (u *Users) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	u.s.dispatch(userAction{op: userEnabled, phase: Pending})

	if err := u.api.SetUserEnabled(ctx, id, enabled); err != nil {
		return u.rejected(userEnabled, "user/enabled", err, "Failed to update user")
	}
	u.s.dispatch(userAction{op: userEnabled, phase: Fulfilled, id: id, enabled: enabled})
	return nil
}

// ClearError сбрасывает сообщение об ошибке.
func (u *Users) ClearError() {
	u.s.dispatch(userAction{op: userClearError})
}

func (u *Users) rejected(op userOp, name string, err error, fallback string) error {
	opErr := reject(name, err, fallback)
	u.s.dispatch(userAction{op: op, phase: Rejected, err: opErr.Message})
	return opErr
}
