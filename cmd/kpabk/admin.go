package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/mmeshcher/kpabk-connect/internal/model"
	"github.com/mmeshcher/kpabk-connect/internal/nav"
	"github.com/mmeshcher/kpabk-connect/internal/service"
	"github.com/mmeshcher/kpabk-connect/internal/validation"
)

func subcommand(args []string, def string) (string, []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return def, args
	}
	return args[0], args[1:]
}

func needID(args []string, what string) (int64, []string, error) {
	if len(args) == 0 {
		return 0, nil, fmt.Errorf("%w: %s needs an id", errUsage, what)
	}
	id, err := parseID(args[0])
	return id, args[1:], err
}

func (a *app) outletsCmd(ctx context.Context, args []string) error {
	if err := a.open(ctx, nav.PathAdminOutlets); err != nil {
		return err
	}

	sub, rest := subcommand(args, "list")
	switch sub {
	case "list":
		return a.outletList(ctx, rest)
	case "show":
		id, _, err := needID(rest, "outlets show")
		if err != nil {
			return err
		}
		if err := a.outlets.Get(ctx, id); err != nil {
			return err
		}
		return a.printOutlet(a.outlets.Snapshot().Selected)
	case "create":
		return a.outletSave(ctx, 0, rest)
	case "update":
		id, rest, err := needID(rest, "outlets update")
		if err != nil {
			return err
		}
		return a.outletSave(ctx, id, rest)
	case "delete":
		id, _, err := needID(rest, "outlets delete")
		if err != nil {
			return err
		}
		if err := a.outlets.Delete(ctx, id); err != nil {
			return err
		}
		a.printf("Outlet %d deleted\n", id)
		return nil
	case "products":
		id, _, err := needID(rest, "outlets products")
		if err != nil {
			return err
		}
		if err := a.outlets.ListProducts(ctx, id); err != nil {
			return err
		}
		return a.printOutletProducts()
	case "availability":
		return a.outletAvailability(ctx, rest)
	}
	return fmt.Errorf("%w: unknown outlets command %q", errUsage, sub)
}

func (a *app) outletList(ctx context.Context, args []string) error {
	fs := newFlagSet("outlets list")
	page := fs.Int("page", 0, "page")
	size := fs.Int("size", 20, "page size")
	active := fs.String("active", "", "true or false")
	all := fs.Bool("all", false, "load every page")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	var isActive *bool
	if *active != "" {
		v, err := strconv.ParseBool(*active)
		if err != nil {
			return fmt.Errorf("%w: -active must be true or false", errUsage)
		}
		isActive = &v
	}

	if err := a.outlets.List(ctx, service.PageQuery{Page: *page, Size: *size}, isActive); err != nil {
		return err
	}

	w := a.table()
	fmt.Fprintln(w, "ID\tNAME\tOWNER\tEMAIL\tCITY\tACTIVE")
	for {
		st := a.outlets.Snapshot()
		for _, o := range st.Outlets {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%t\n", o.ID, o.OutletName, o.OwnerName, o.Email, o.City, o.IsActive)
		}
		if !*all {
			break
		}
		more, err := a.outlets.NextPage(ctx, isActive)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	p := a.outlets.Snapshot().Pagination
	a.printf("page %d of %d, %d outlets\n", p.Page+1, max(p.TotalPages, 1), p.TotalElements)
	return nil
}

func (a *app) printOutlet(o *model.Outlet) error {
	if o == nil {
		return nil
	}
	w := a.table()
	fmt.Fprintf(w, "ID:\t%d\n", o.ID)
	fmt.Fprintf(w, "Name:\t%s\n", o.OutletName)
	fmt.Fprintf(w, "Owner:\t%s\n", o.OwnerName)
	fmt.Fprintf(w, "Email:\t%s\n", o.Email)
	fmt.Fprintf(w, "Phone:\t%s\n", o.PhoneNumber)
	fmt.Fprintf(w, "Address:\t%s\n", strings.Trim(strings.Join([]string{o.Address, o.City, o.State, o.Pincode}, ", "), ", "))
	fmt.Fprintf(w, "Active:\t%t\n", o.IsActive)
	return w.Flush()
}

func (a *app) outletSave(ctx context.Context, id int64, args []string) error {
	fs := newFlagSet("outlets")
	fs.String("name", "", "outlet name")
	fs.String("owner", "", "owner name")
	fs.String("email", "", "email")
	fs.String("phone", "", "phone number")
	fs.String("address", "", "address")
	fs.String("city", "", "city")
	fs.String("state", "", "state")
	fs.String("pincode", "", "pincode")
	fs.String("active", "", "true or false")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	var req model.OutletRequest
	if id > 0 {
		if err := a.outlets.Get(ctx, id); err != nil {
			return err
		}
		cur := a.outlets.Snapshot().Selected
		active := cur.IsActive
		req = model.OutletRequest{
			OutletName:  cur.OutletName,
			OwnerName:   cur.OwnerName,
			Email:       cur.Email,
			PhoneNumber: cur.PhoneNumber,
			Address:     cur.Address,
			City:        cur.City,
			State:       cur.State,
			Pincode:     cur.Pincode,
			IsActive:    &active,
		}
	}

	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		v := strings.TrimSpace(f.Value.String())
		switch f.Name {
		case "name":
			req.OutletName = v
		case "owner":
			req.OwnerName = v
		case "email":
			req.Email = v
		case "phone":
			req.PhoneNumber = v
		case "address":
			req.Address = v
		case "city":
			req.City = v
		case "state":
			req.State = v
		case "pincode":
			req.Pincode = v
		case "active":
			b, err := strconv.ParseBool(v)
			if err != nil {
				flagErr = fmt.Errorf("%w: -active must be true or false", errUsage)
				return
			}
			req.IsActive = &b
		}
	})
	if flagErr != nil {
		return flagErr
	}
	if err := validation.Outlet(req); err != nil {
		return err
	}

	if id > 0 {
		if err := a.outlets.Update(ctx, id, req); err != nil {
			return err
		}
		a.printf("Outlet %d updated\n", id)
		return nil
	}

	if err := a.outlets.Create(ctx, req); err != nil {
		return err
	}
	if o := a.outlets.Snapshot().Selected; o != nil {
		a.printf("Outlet %d created\n", o.ID)
	}
	return nil
}

func (a *app) printOutletProducts() error {
	st := a.outlets.Snapshot()
	if len(st.Products) == 0 {
		a.printf("No products in this outlet\n")
		return nil
	}

	w := a.table()
	fmt.Fprintln(w, "PRODUCT\tNAME\tPRICE\tAVAILABLE")
	for _, p := range st.Products {
		price := p.BasePrice
		if p.OutletPrice != nil {
			price = *p.OutletPrice
		}
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%t\n", p.ProductID, p.ProductName, price, p.IsAvailable)
	}
	return w.Flush()
}

func (a *app) outletAvailability(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("%w: outlets availability <outletId> <productId> on|off", errUsage)
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	var available bool
	switch strings.ToLower(args[2]) {
	case "on", "true", "yes":
		available = true
	case "off", "false", "no":
	default:
		return fmt.Errorf("%w: availability must be on or off", errUsage)
	}

	if err := a.outlets.SetProductAvailability(ctx, id, args[1], available); err != nil {
		return err
	}
	a.printf("Product %s is now %s in outlet %d\n", args[1], map[bool]string{true: "available", false: "unavailable"}[available], id)
	return nil
}

func (a *app) usersCmd(ctx context.Context, args []string) error {
	if err := a.open(ctx, nav.PathAdminUsers); err != nil {
		return err
	}

	sub, rest := subcommand(args, "list")
	switch sub {
	case "list":
		return a.userList(ctx, rest)
	case "show":
		id, _, err := needID(rest, "users show")
		if err != nil {
			return err
		}
		if err := a.users.Get(ctx, id); err != nil {
			return err
		}
		return a.printUser(a.users.Snapshot().Selected)
	case "create":
		return a.userSave(ctx, 0, rest)
	case "update":
		id, rest, err := needID(rest, "users update")
		if err != nil {
			return err
		}
		return a.userSave(ctx, id, rest)
	case "enable", "disable":
		id, _, err := needID(rest, "users "+sub)
		if err != nil {
			return err
		}
		if err := a.users.SetEnabled(ctx, id, sub == "enable"); err != nil {
			return err
		}
		a.printf("User %d %sd\n", id, sub)
		return nil
	}
	return fmt.Errorf("%w: unknown users command %q", errUsage, sub)
}

func (a *app) userList(ctx context.Context, args []string) error {
	fs := newFlagSet("users list")
	page := fs.Int("page", 0, "page")
	size := fs.Int("size", 20, "page size")
	role := fs.String("role", "", "ADMIN or OUTLET")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	if err := a.users.List(ctx, service.PageQuery{Page: *page, Size: *size}, model.ParseRole(*role)); err != nil {
		return err
	}

	st := a.users.Snapshot()
	w := a.table()
	fmt.Fprintln(w, "ID\tEMAIL\tNAME\tROLE\tOUTLET\tENABLED")
	for _, u := range st.Users {
		outlet := ""
		if u.OutletID != nil {
			outlet = strconv.FormatInt(*u.OutletID, 10)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%t\n", u.ID, u.Email, strings.TrimSpace(u.FirstName+" "+u.LastName), u.Role, outlet, u.Enabled)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	a.printf("page %d of %d, %d users\n", st.Pagination.Page+1, max(st.Pagination.TotalPages, 1), st.Pagination.TotalElements)
	return nil
}

func (a *app) printUser(u *model.User) error {
	if u == nil {
		return nil
	}
	w := a.table()
	fmt.Fprintf(w, "ID:\t%d\n", u.ID)
	fmt.Fprintf(w, "Email:\t%s\n", u.Email)
	fmt.Fprintf(w, "Name:\t%s\n", strings.TrimSpace(u.FirstName+" "+u.LastName))
	fmt.Fprintf(w, "Phone:\t%s\n", u.Phone)
	fmt.Fprintf(w, "Role:\t%s\n", u.Role)
	if u.OutletID != nil {
		fmt.Fprintf(w, "Outlet:\t%d %s\n", *u.OutletID, u.OutletName)
	}
	fmt.Fprintf(w, "Enabled:\t%t\n", u.Enabled)
	return w.Flush()
}

func (a *app) userSave(ctx context.Context, id int64, args []string) error {
	fs := newFlagSet("users")
	fs.String("email", "", "email")
	fs.String("password", "", "password")
	fs.String("first", "", "first name")
	fs.String("last", "", "last name")
	fs.String("phone", "", "phone")
	fs.String("role", "", "ADMIN or OUTLET")
	fs.String("outlet", "", "outlet id for OUTLET users")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	var req model.UserRequest
	if id > 0 {
		if err := a.users.Get(ctx, id); err != nil {
			return err
		}
		cur := a.users.Snapshot().Selected
		req = model.UserRequest{
			Email:     cur.Email,
			FirstName: cur.FirstName,
			LastName:  cur.LastName,
			Phone:     cur.Phone,
			Role:      cur.Role,
			OutletID:  cur.OutletID,
		}
	}

	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		v := strings.TrimSpace(f.Value.String())
		switch f.Name {
		case "email":
			req.Email = v
		case "password":
			req.Password = f.Value.String()
		case "first":
			req.FirstName = v
		case "last":
			req.LastName = v
		case "phone":
			req.Phone = v
		case "role":
			req.Role = model.ParseRole(v)
		case "outlet":
			outletID, err := parseID(v)
			if err != nil {
				flagErr = err
				return
			}
			req.OutletID = &outletID
		}
	})
	if flagErr != nil {
		return flagErr
	}
	if req.Role != model.RoleOutlet {
		req.OutletID = nil
	}
	if err := validation.User(req, id == 0); err != nil {
		return err
	}

	if id > 0 {
		if err := a.users.Update(ctx, id, req); err != nil {
			return err
		}
		a.printf("User %d updated\n", id)
		return nil
	}

	if err := a.users.Create(ctx, req); err != nil {
		return err
	}
	if u := a.users.Snapshot().Selected; u != nil {
		a.printf("User %d created\n", u.ID)
	}
	return nil
}
