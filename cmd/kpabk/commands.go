package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/kpabk-connect/internal/checkout"
	"github.com/mmeshcher/kpabk-connect/internal/gateway"
	"github.com/mmeshcher/kpabk-connect/internal/model"
	"github.com/mmeshcher/kpabk-connect/internal/nav"
	"github.com/mmeshcher/kpabk-connect/internal/service"
	"github.com/mmeshcher/kpabk-connect/internal/store"
	"github.com/mmeshcher/kpabk-connect/internal/validation"
	"github.com/mmeshcher/kpabk-connect/internal/widget"
)

// run выполняет команду args.
func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return a.login(ctx, rest)
	case "logout":
		return a.logout(ctx)
	case "whoami":
		return a.whoami(ctx)
	case "register":
		return a.register(ctx, rest)
	case "products":
		return a.products(ctx, rest)
	case "cart":
		return a.cartCmd(ctx, rest)
	case "checkout":
		return a.checkoutCmd(ctx, rest)
	case "orders":
		return a.orders(ctx, rest)
	case "outlets":
		return a.outletsCmd(ctx, rest)
	case "users":
		return a.usersCmd(ctx, rest)
	case "help", "-h", "--help":
		fmt.Fprintln(a.out, usage)
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", errUsage, s)
	}
	return id, nil
}

func (a *app) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := newFlagSet("login")
	email := fs.String("email", "", "email")
	password := fs.String("password", "", "password")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a.nav.Navigate(nav.PathLogin)

	var err error
	if *email == "" {
		if *email, err = a.prompt("Email: "); err != nil {
			return err
		}
	}
	if *password == "" {
		if *password, err = a.prompt("Password: "); err != nil {
			return err
		}
	}
	if err := validation.Login(*email, *password); err != nil {
		return err
	}

	if err := a.auth.Login(ctx, strings.TrimSpace(*email), *password); err != nil {
		return err
	}

	st := a.auth.Snapshot()
	a.printf("Logged in as %s (%s)\n", st.User.Name(), st.Role())

	next := a.nav.ReturnTo()
	if next == "" {
		next = nav.PathDashboard
	}
	a.nav.Navigate(next)
	return nil
}

func (a *app) logout(ctx context.Context) error {
	if err := a.auth.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	a.nav.Navigate(nav.PathLogin)
	a.printf("Logged out\n")
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	if err := a.open(ctx, nav.PathDashboard); err != nil {
		return err
	}

	st := a.auth.Snapshot()
	w := a.table()
	fmt.Fprintf(w, "Name:\t%s\n", st.User.Name())
	if st.User != nil {
		fmt.Fprintf(w, "Email:\t%s\n", st.User.Email)
		if st.User.OutletID != nil {
			fmt.Fprintf(w, "Outlet:\t%d %s\n", *st.User.OutletID, st.User.OutletName)
		}
	}
	fmt.Fprintf(w, "Role:\t%s\n", st.Role())
	if claims, ok := a.session.Claims(); ok {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			fmt.Fprintf(w, "Session expires:\t%s\n", exp.Local().Format(time.RFC1123))
		}
	}
	return w.Flush()
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := newFlagSet("register")
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	email := fs.String("email", "", "email")
	password := fs.String("password", "", "password")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	confirm := *password
	if *password == "" {
		var err error
		if *password, err = a.prompt("Password: "); err != nil {
			return err
		}
		if confirm, err = a.prompt("Confirm password: "); err != nil {
			return err
		}
	}

	req := model.RegisterRequest{
		FirstName: strings.TrimSpace(*first),
		LastName:  strings.TrimSpace(*last),
		Email:     strings.TrimSpace(*email),
		Password:  *password,
		Role:      model.RoleCustomer,
	}
	if err := validation.Register(req, confirm); err != nil {
		return err
	}

	a.nav.Navigate(nav.PathLogin)
	if err := a.auth.Register(ctx, req); err != nil {
		return err
	}
	a.printf("Account created for %s, you can log in now\n", req.Email)
	return nil
}

func (a *app) products(ctx context.Context, args []string) error {
	fs := newFlagSet("products")
	name := fs.String("q", "", "name contains")
	category := fs.String("category", "", "category id")
	productType := fs.String("type", "", "product type")
	sortBy := fs.String("sort", "", "sort field")
	sortDir := fs.String("dir", "", "sort direction")
	size := fs.Int("size", 20, "page size")
	pages := fs.Int("pages", 1, "pages to load")
	categories := fs.Bool("categories", false, "list categories")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	if err := a.open(ctx, nav.PathProducts); err != nil {
		return err
	}

	filter := service.ProductFilter{
		Name:        *name,
		CategoryID:  *category,
		ProductType: model.ProductType(strings.ToUpper(*productType)),
		SortBy:      *sortBy,
		SortDir:     *sortDir,
	}
	if err := a.catalog.Load(ctx, filter, *size); err != nil {
		return err
	}
	for i := 1; i < *pages; i++ {
		more, err := a.catalog.NextPage(ctx)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}

	st := a.catalog.Snapshot()
	w := a.table()
	if *categories {
		fmt.Fprintln(w, "CATEGORY\tNAME")
		for _, c := range st.Categories {
			fmt.Fprintf(w, "%s\t%s\n", c.ID, c.Name)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "ID\tNAME\tTYPE\tPRICE")
	for _, p := range st.Products {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\n", p.ID, p.Name, p.ProductType, p.BasePrice)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	a.printf("%d of %d products", len(st.Products), st.Pagination.TotalElements)
	if st.HasMore() {
		a.printf(", more with -pages %d", st.Pagination.Page+2)
	}
	a.printf("\n")
	return nil
}

func (a *app) cartCmd(ctx context.Context, args []string) error {
	if err := a.open(ctx, nav.PathCart); err != nil {
		return err
	}
	if err := a.cart.Fetch(ctx); err != nil {
		return err
	}

	if len(args) > 0 {
		if err := a.cartAction(ctx, args[0], args[1:]); err != nil {
			return err
		}
	}
	return a.printCart()
}

func (a *app) cartAction(ctx context.Context, action string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: cart %s needs a product id", errUsage, action)
	}
	productID := args[0]

	quantity := func(def int) (int, error) {
		if len(args) < 2 {
			return def, nil
		}
		qty, err := strconv.Atoi(args[1])
		if err != nil {
			return 0, fmt.Errorf("%w: invalid quantity %q", errUsage, args[1])
		}
		return qty, validation.Quantity(qty)
	}

	switch action {
	case "add":
		qty, err := quantity(1)
		if err != nil {
			return err
		}
		return a.cart.Add(ctx, productID, qty)
	case "set":
		if len(args) < 2 {
			return fmt.Errorf("%w: cart set needs a quantity", errUsage)
		}
		qty, err := quantity(1)
		if err != nil {
			return err
		}
		return a.cart.UpdateQuantity(ctx, productID, qty)
	}

	item, ok := a.cart.Snapshot().Find(productID)
	if !ok {
		return fmt.Errorf("product %s is not in the cart", productID)
	}
	switch action {
	case "inc":
		return a.cart.Increase(ctx, item)
	case "dec":
		return a.cart.Decrease(ctx, item)
	case "rm":
		return a.cart.Remove(ctx, item.ID)
	}
	return fmt.Errorf("%w: unknown cart action %q", errUsage, action)
}

func (a *app) printCart() error {
	st := a.cart.Snapshot()
	if len(st.Items) == 0 {
		a.printf("Your cart is empty\n")
		return nil
	}

	w := a.table()
	fmt.Fprintln(w, "PRODUCT\tNAME\tQTY\tPRICE\tTOTAL")
	for _, it := range st.Items {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%.2f\n", it.ProductID, it.ProductName, it.Quantity, it.BasePrice, it.BasePrice*float64(it.Quantity))
	}
	fmt.Fprintf(w, "\t\t%d\t\t%.2f\n", st.TotalQuantity(), st.Subtotal())
	return w.Flush()
}

var stepText = map[checkout.State]string{
	checkout.CreatingOrder:         "Creating order…",
	checkout.CreatingPayment:       "Creating payment…",
	checkout.AwaitingGatewayWidget: "Waiting for payment in the browser…",
	checkout.Verifying:             "Verifying payment…",
}

func (a *app) defaultWidget() hostedWidget {
	return widget.NewHosted(a.cfg.CallbackAddress, a.cfg.CallbackSecret, a.out, a.logger.Named("widget"))
}

func (a *app) checkoutCmd(ctx context.Context, args []string) error {
	fs := newFlagSet("checkout")
	outlet := fs.Int64("outlet", 0, "outlet id")
	methodFlag := fs.String("method", "", "payment method")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	method, ok := model.ParsePaymentMethod(*methodFlag)
	if !ok {
		return fmt.Errorf("%w: unknown payment method %q", errUsage, *methodFlag)
	}

	if err := a.open(ctx, nav.PathCheckout); err != nil {
		return err
	}
	if err := a.cart.Fetch(ctx); err != nil {
		return err
	}

	user := a.auth.Snapshot().User
	req := checkout.Request{OutletID: *outlet, Method: method}
	if user != nil {
		if req.OutletID == 0 && user.OutletID != nil {
			req.OutletID = *user.OutletID
		}
		req.Prefill = checkout.Prefill{Name: user.Name(), Email: user.Email, Contact: user.Phone}
	}

	hosted := a.newWidget()
	if err := hosted.Listen(); err != nil {
		return fmt.Errorf("start payment page: %w", err)
	}

	wf := checkout.New(a.svc, a.cart, hosted, a.logger.Named("checkout"))
	unsubscribe := wf.OnTransition(func(t checkout.Transition) {
		if text, ok := stepText[t.To]; ok {
			fmt.Fprintln(a.errOut, text)
		}
	})
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()

	g.Go(func() error {
		return hosted.Serve(serveCtx)
	})

	var receipt *checkout.Receipt
	g.Go(func() error {
		defer stopServe()
		var err error
		receipt, err = wf.Run(gctx, req)
		return err
	})

	if err := g.Wait(); err != nil {
		var stepErr *checkout.StepError
		if errors.As(err, &stepErr) {
			a.logger.Info("checkout failed", zap.Stringer("step", stepErr.Step), zap.Error(err))
		}
		return err
	}

	a.nav.Navigate(nav.PathOrderSuccess)
	w := a.table()
	fmt.Fprintln(w, "Payment successful")
	fmt.Fprintf(w, "Order:\t%s\n", receipt.OrderID)
	fmt.Fprintf(w, "Payment:\t%s\n", receipt.GatewayPaymentID)
	fmt.Fprintf(w, "Amount:\t%s %.2f\n", receipt.Currency, receipt.Amount)
	if receipt.Message != "" {
		fmt.Fprintf(w, "Message:\t%s\n", receipt.Message)
	}
	return w.Flush()
}

func (a *app) orders(ctx context.Context, args []string) error {
	if err := a.open(ctx, nav.PathOrders); err != nil {
		return err
	}

	if len(args) > 0 && args[0] == "status" {
		return a.orderStatus(ctx, args[1:])
	}

	fs := newFlagSet("orders")
	outlet := fs.Int64("outlet", 0, "outlet id")
	page := fs.Int("page", 0, "page")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	q := service.PageQuery{Page: *page}
	var (
		list *model.Page[model.Order]
		err  error
	)
	if *outlet > 0 {
		list, err = a.svc.OutletOrders(ctx, *outlet, q)
	} else {
		list, err = a.svc.MyOrders(ctx, q)
	}
	if err != nil {
		return orderError("order/list", err, "Failed to load orders")
	}

	if len(list.Content) == 0 {
		a.printf("No orders yet\n")
		return nil
	}

	w := a.table()
	fmt.Fprintln(w, "ORDER\tSTATUS\tPAYMENT\tTOTAL\tCREATED")
	for _, o := range list.Content {
		number := o.OrderNumber
		if number == "" {
			number = o.ID.String()
		}
		created := ""
		if !o.CreatedAt.IsZero() {
			created = o.CreatedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n", number, o.Status, o.PaymentStatus, o.TotalAmount, created)
	}
	return w.Flush()
}

func (a *app) orderStatus(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: orders status <orderId> <status>", errUsage)
	}

	switch a.auth.Snapshot().Role() {
	case model.RoleAdmin, model.RoleOutlet:
	default:
		return errAccessDenied
	}

	status, ok := model.ParseOrderStatus(args[1])
	if !ok {
		return fmt.Errorf("%w: unknown order status %q", errUsage, args[1])
	}

	order, err := a.svc.UpdateOrderStatus(ctx, args[0], status)
	if err != nil {
		return orderError("order/status", err, "Failed to update order status")
	}
	a.printf("Order %s is now %s\n", order.ID, order.Status)
	return nil
}

func orderError(op string, err error, fallback string) error {
	return &store.OpError{Op: op, Message: gateway.Message(err, fallback), Err: err}
}
