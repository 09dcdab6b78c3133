package validation

import (
	"errors"
	"testing"

	"github.com/mmeshcher/kpabk-connect/internal/model"
)

func fields(t *testing.T, err error) Errors {
	t.Helper()
	if err == nil {
		return nil
	}
	var errs Errors
	if !errors.As(err, &errs) {
		t.Fatalf("error %T is not validation.Errors", err)
	}
	return errs
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		want     Errors
	}{
		{name: "valid", email: "admin@test.com", password: "secret1"},
		{name: "empty", want: Errors{"email": "Email is required", "password": "Password is required"}},
		{name: "bad email", email: "admin@test", password: "secret1", want: Errors{"email": "Enter a valid email address"}},
		{name: "short password", email: " admin@test.com ", password: "12345", want: Errors{"password": "Password must be at least 6 characters"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fields(t, Login(tt.email, tt.password))
			if len(got) != len(tt.want) {
				t.Fatalf("Login() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Fatalf("field %s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestRegister(t *testing.T) {
	req := model.RegisterRequest{FirstName: "Asha", LastName: "Rao", Email: "asha@test.com", Password: "longpass"}
	if err := Register(req, "longpass"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	errs := fields(t, Register(model.RegisterRequest{Email: "asha@test.com", Password: "short1"}, "other"))
	for _, f := range []string{"firstName", "lastName", "password", "confirmPassword"} {
		if _, ok := errs[f]; !ok {
			t.Fatalf("expected error for %s in %v", f, errs)
		}
	}
	if errs["confirmPassword"] != "Passwords do not match" {
		t.Fatalf("confirmPassword = %q", errs["confirmPassword"])
	}
}

func TestOutlet(t *testing.T) {
	tests := []struct {
		name   string
		req    model.OutletRequest
		fields []string
	}{
		{name: "valid", req: model.OutletRequest{OutletName: "Main", OwnerName: "Ravi", Email: "main@test.com", PhoneNumber: "+91 (80) 1234-5678"}},
		{name: "phone optional", req: model.OutletRequest{OutletName: "Main", OwnerName: "Ravi", Email: "main@test.com"}},
		{name: "required fields", req: model.OutletRequest{OutletName: "  "}, fields: []string{"outletName", "ownerName", "email"}},
		{name: "bad phone", req: model.OutletRequest{OutletName: "Main", OwnerName: "Ravi", Email: "main@test.com", PhoneNumber: "12+34"}, fields: []string{"phoneNumber"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := fields(t, Outlet(tt.req))
			if len(errs) != len(tt.fields) {
				t.Fatalf("Outlet() = %v, want fields %v", errs, tt.fields)
			}
			for _, f := range tt.fields {
				if _, ok := errs[f]; !ok {
					t.Fatalf("missing error for %s", f)
				}
			}
		})
	}
}

func TestUser(t *testing.T) {
	outletID := int64(7)

	tests := []struct {
		name   string
		req    model.UserRequest
		create bool
		fields []string
	}{
		{name: "admin create", req: model.UserRequest{Email: "a@test.com", Password: "secret1", Role: model.RoleAdmin}, create: true},
		{name: "outlet create", req: model.UserRequest{Email: "o@test.com", Password: "secret1", Role: model.RoleOutlet, OutletID: &outletID}, create: true},
		{name: "password required on create", req: model.UserRequest{Email: "a@test.com", Role: model.RoleAdmin}, create: true, fields: []string{"password"}},
		{name: "password optional on edit", req: model.UserRequest{Email: "a@test.com", Role: model.RoleAdmin}},
		{name: "outlet user without outlet", req: model.UserRequest{Email: "o@test.com", Role: model.RoleOutlet}, fields: []string{"outletId"}},
		{name: "role missing", req: model.UserRequest{Email: "o@test.com"}, fields: []string{"role"}},
		{name: "customer role", req: model.UserRequest{Email: "c@test.com", Role: model.RoleCustomer}, fields: []string{"role"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := fields(t, User(tt.req, tt.create))
			if len(errs) != len(tt.fields) {
				t.Fatalf("User() = %v, want fields %v", errs, tt.fields)
			}
			for _, f := range tt.fields {
				if _, ok := errs[f]; !ok {
					t.Fatalf("missing error for %s", f)
				}
			}
		})
	}
}

func TestQuantity(t *testing.T) {
	if err := Quantity(1); err != nil {
		t.Fatalf("Quantity(1) error = %v", err)
	}
	if err := Quantity(0); err == nil {
		t.Fatal("Quantity(0) must fail")
	}
}

func TestErrors_Error(t *testing.T) {
	err := Errors{"password": "Password is required", "email": "Email is required"}
	want := "email: Email is required; password: Password is required"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
	if (Errors{}).Err() != nil {
		t.Fatal("empty Errors must be nil error")
	}
}
