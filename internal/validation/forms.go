// Package validation содержит проверки форм клиента до отправки на сервер.
package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/mmeshcher/kpabk-connect/internal/model"
)

// Минимальные длины паролей.
const (
	MinPasswordLength         = 6
	MinRegisterPasswordLength = 8
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Errors содержит ошибки формы по полям.
type Errors map[string]string

// Error перечисляет ошибки полей в алфавитном порядке.
func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, e[f]))
	}
	return strings.Join(parts, "; ")
}

// Err возвращает nil, если ошибок нет.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// IsValidEmail проверяет формат адреса электронной почты.
func IsValidEmail(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}

// IsValidPhone допускает цифры, пробелы, скобки, дефисы и ведущий плюс.
func IsValidPhone(phone string) bool {
	for i, ch := range phone {
		switch {
		case unicode.IsDigit(ch), ch == ' ', ch == '(', ch == ')', ch == '-':
		case ch == '+' && i == 0:
		default:
			return false
		}
	}
	return true
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func checkEmail(errs Errors, email string) {
	switch {
	case blank(email):
		errs["email"] = "Email is required"
	case !IsValidEmail(email):
		errs["email"] = "Enter a valid email address"
	}
}

func checkPassword(errs Errors, password string, minLen int) {
	switch {
	case password == "":
		errs["password"] = "Password is required"
	case len([]rune(password)) < minLen:
		errs["password"] = fmt.Sprintf("Password must be at least %d characters", minLen)
	}
}

// Login проверяет форму входа.
func Login(email, password string) error {
	errs := Errors{}
	checkEmail(errs, email)
	checkPassword(errs, password, MinPasswordLength)
	return errs.Err()
}

// Register проверяет форму регистрации. confirm должен совпадать с паролем.
func Register(req model.RegisterRequest, confirm string) error {
	errs := Errors{}
	if blank(req.FirstName) {
		errs["firstName"] = "First name is required"
	}
	if blank(req.LastName) {
		errs["lastName"] = "Last name is required"
	}
	checkEmail(errs, req.Email)
	checkPassword(errs, req.Password, MinRegisterPasswordLength)
	switch {
	case confirm == "":
		errs["confirmPassword"] = "Confirm password is required"
	case confirm != req.Password:
		errs["confirmPassword"] = "Passwords do not match"
	}
	return errs.Err()
}

// Outlet проверяет форму торговой точки.
func Outlet(req model.OutletRequest) error {
	errs := Errors{}
	if blank(req.OutletName) {
		errs["outletName"] = "Outlet name is required"
	}
	if blank(req.OwnerName) {
		errs["ownerName"] = "Owner name is required"
	}
	checkEmail(errs, req.Email)
	if !blank(req.PhoneNumber) && !IsValidPhone(req.PhoneNumber) {
		errs["phoneNumber"] = "Enter a valid phone number"
	}
	return errs.Err()
}

// User проверяет форму пользователя. Пароль обязателен только при создании.
func User(req model.UserRequest, create bool) error {
	errs := Errors{}
	checkEmail(errs, req.Email)

	if create || req.Password != "" {
		checkPassword(errs, req.Password, MinPasswordLength)
	}

	switch req.Role {
	case model.RoleAdmin, model.RoleOutlet:
	case model.RoleUnknown:
		errs["role"] = "Role is required"
	default:
		errs["role"] = "Role must be ADMIN or OUTLET"
	}

	if req.Role == model.RoleOutlet && (req.OutletID == nil || *req.OutletID <= 0) {
		errs["outletId"] = "Outlet is required"
	}
	return errs.Err()
}

// Quantity проверяет количество товара в корзине.
func Quantity(qty int) error {
	if qty < 1 {
		return Errors{"quantity": "Quantity must be at least 1"}
	}
	return nil
}
