package store

import (
	"context"
	"slices"

	"github.com/mmeshcher/kpabk-connect/internal/model"
	"github.com/mmeshcher/kpabk-connect/internal/service"
)

// OutletAPI описывает вызовы торговых точек.
type OutletAPI interface {
	ListOutlets(ctx context.Context, q service.PageQuery, isActive *bool) (*model.Page[model.Outlet], error)
	GetOutlet(ctx context.Context, id int64) (*model.Outlet, error)
	CreateOutlet(ctx context.Context, req model.OutletRequest) (*model.Outlet, error)
	UpdateOutlet(ctx context.Context, id int64, req model.OutletRequest) (*model.Outlet, error)
	DeleteOutlet(ctx context.Context, id int64) error
	ListOutletProducts(ctx context.Context, outletID int64) ([]model.OutletProduct, error)
	GetOutletProduct(ctx context.Context, outletID int64, productID string) (*model.OutletProduct, error)
	UpsertOutletProduct(ctx context.Context, outletID int64, req model.OutletProductRequest) (*model.OutletProduct, error)
	SetOutletProductAvailability(ctx context.Context, outletID int64, productID string, available bool) error
}

// DefaultPagination задаёт метаданные списка до первой загрузки.
var DefaultPagination = model.Pagination{Page: 0, Size: 20}

// OutletState описывает состояние раздела торговых точек.
type OutletState struct {
	Outlets         []model.Outlet
	Pagination      model.Pagination
	Selected        *model.Outlet
	Products        []model.OutletProduct
	SelectedProduct *model.OutletProduct
	Loading         bool
	ActionLoading   bool
	Error           string
}

type outletOp int

const (
	outletList outletOp = iota
	outletGet
	outletSave
	outletDelete
	outletProducts
	outletGetProduct
	outletUpsertProduct
	outletAvailability
	outletClearError
)

type outletAction struct {
	op    outletOp
	phase Phase

	id        int64
	productID string
	available bool

	page     *model.Page[model.Outlet]
	outlet   *model.Outlet
	products []model.OutletProduct
	product  *model.OutletProduct
	err      string
}

func reduceOutlet(s OutletState, a outletAction) OutletState {
	switch a.op {
	case outletList, outletProducts:
		switch a.phase {
		case Pending:
			s.Loading = true
			s.Error = ""
		case Fulfilled:
			s.Loading = false
			s.Error = ""
			if a.op == outletList {
				s.Outlets = a.page.Content
				if s.Outlets == nil {
					s.Outlets = []model.Outlet{}
				}
				s.Pagination = a.page.Pagination
			} else {
				s.Products = a.products
				if s.Products == nil {
					s.Products = []model.OutletProduct{}
				}
			}
		case Rejected:
			s.Loading = false
			s.Error = a.err
		}

	case outletGet, outletSave, outletDelete:
		switch a.phase {
		case Pending:
			s.ActionLoading = true
			s.Error = ""
		case Fulfilled:
			s.ActionLoading = false
			s.Error = ""
			if a.op == outletDelete {
				s.Outlets = slices.DeleteFunc(slices.Clone(s.Outlets), func(o model.Outlet) bool { return o.ID == a.id })
				if s.Selected != nil && s.Selected.ID == a.id {
					s.Selected = nil
				}
				break
			}
			s.Selected = a.outlet
			if a.op == outletSave {
				if i := slices.IndexFunc(s.Outlets, func(o model.Outlet) bool { return o.ID == a.outlet.ID }); i >= 0 {
					s.Outlets = slices.Clone(s.Outlets)
					s.Outlets[i] = *a.outlet
				}
			}
		case Rejected:
			s.ActionLoading = false
			s.Error = a.err
		}

	case outletGetProduct:
		switch a.phase {
		case Pending:
			s.ActionLoading = true
		case Fulfilled:
			s.ActionLoading = false
			s.SelectedProduct = a.product
		case Rejected:
			s.ActionLoading = false
			s.Error = a.err
		}

	case outletUpsertProduct:
		switch a.phase {
		case Fulfilled:
			if a.product == nil {
				break
			}
			i := slices.IndexFunc(s.Products, func(p model.OutletProduct) bool {
				return p.ProductID == a.product.ProductID || (a.product.ID != 0 && p.ID == a.product.ID)
			})
			if i >= 0 {
				s.Products = slices.Clone(s.Products)
				s.Products[i] = *a.product
			} else {
				s.Products = append([]model.OutletProduct{*a.product}, s.Products...)
			}
		case Rejected:
			s.Error = a.err
		}

	case outletAvailability:
		switch a.phase {
		case Fulfilled:
			if i := slices.IndexFunc(s.Products, func(p model.OutletProduct) bool { return p.ProductID == a.productID }); i >= 0 {
				s.Products = slices.Clone(s.Products)
				s.Products[i].IsAvailable = a.available
			}
		case Rejected:
			s.Error = a.err
		}

	case outletClearError:
		s.Error = ""
	}
	return s
}

func cloneOutlet(s OutletState) OutletState {
	s.Outlets = slices.Clone(s.Outlets)
	s.Products = slices.Clone(s.Products)
	if s.Selected != nil {
		o := *s.Selected
		s.Selected = &o
	}
	if s.SelectedProduct != nil {
		p := *s.SelectedProduct
		s.SelectedProduct = &p
	}
	return s
}

// Outlets управляет слайсом торговых точек.
type Outlets struct {
	api OutletAPI
	s   slice[OutletState, outletAction]
}

// NewOutlets создаёт слайс торговых точек.
func NewOutlets(api OutletAPI) *Outlets {
	return &Outlets{
		api: api,
		s: slice[OutletState, outletAction]{
			state: OutletState{
				Outlets:    []model.Outlet{},
				Products:   []model.OutletProduct{},
				Pagination: DefaultPagination,
			},
			reduce: reduceOutlet,
			clone:  cloneOutlet,
		},
	}
}

// Snapshot возвращает копию состояния.
func (o *Outlets) Snapshot() OutletState {
	return o.s.snapshot()
}

// Subscribe подписывает fn на изменения состояния.
func (o *Outlets) Subscribe(fn func(OutletState)) (unsubscribe func()) {
	return o.s.subs.add(fn)
}

// List загружает страницу торговых точек.
func (o *Outlets) List(ctx context.Context, q service.PageQuery, isActive *bool) error {
	o.s.dispatch(outletAction{op: outletList, phase: Pending})

	page, err := o.api.ListOutlets(ctx, q, isActive)
	if err != nil {
		return o.rejected(outletList, "outlet/list", err, "Failed to fetch outlets")
	}
	o.s.dispatch(outletAction{op: outletList, phase: Fulfilled, page: page})
	return nil
}

// NextPage загружает страницу, следующую за сохранённой.
func (o *Outlets) NextPage(ctx context.Context, isActive *bool) (bool, error) {
	p := o.Snapshot().Pagination
	if !p.HasNext() {
		return false, nil
	}
	return true, o.List(ctx, service.PageQuery{Page: p.Page + 1, Size: p.Size}, isActive)
}

// Get загружает торговую точку.
func (o *Outlets) Get(ctx context.Context, id int64) error {
	o.s.dispatch(outletAction{op: outletGet, phase: Pending})

	outlet, err := o.api.GetOutlet(ctx, id)
	if err != nil {
		return o.rejected(outletGet, "outlet/get", err, "Outlet not found")
	}
	o.s.dispatch(outletAction{op: outletGet, phase: Fulfilled, outlet: outlet})
	return nil
}

// Create создаёт торговую точку.
func (o *Outlets) Create(ctx context.Context, req model.OutletRequest) error {
	o.s.dispatch(outletAction{op: outletSave, phase: Pending})

	outlet, err := o.api.CreateOutlet(ctx, req)
	if err != nil {
		return o.rejected(outletSave, "outlet/create", err, "Failed to create outlet")
	}
	o.s.dispatch(outletAction{op: outletSave, phase: Fulfilled, outlet: outlet})
	return nil
}

// Update изменяет торговую точку и обновляет её в загруженном списке.
func (o *Outlets) Update(ctx context.Context, id int64, req model.OutletRequest) error {
	o.s.dispatch(outletAction{op: outletSave, phase: Pending})

	outlet, err := o.api.UpdateOutlet(ctx, id, req)
	if err != nil {
		return o.rejected(outletSave, "outlet/update", err, "Failed to update outlet")
	}
	o.s.dispatch(outletAction{op: outletSave, phase: Fulfilled, outlet: outlet})
	return nil
}

// Delete удаляет торговую точку и убирает её из списка.
func (o *Outlets) Delete(ctx context.Context, id int64) error {
	o.s.dispatch(outletAction{op: outletDelete, phase: Pending, id: id})

	if err := o.api.DeleteOutlet(ctx, id); err != nil {
		return o.rejected(outletDelete, "outlet/delete", err, "Failed to delete outlet")
	}
	o.s.dispatch(outletAction{op: outletDelete, phase: Fulfilled, id: id})
	return nil
}

// ListProducts загружает ассортимент торговой точки.
func (o *Outlets) ListProducts(ctx context.Context, outletID int64) error {
	o.s.dispatch(outletAction{op: outletProducts, phase: Pending})

	items, err := o.api.ListOutletProducts(ctx, outletID)
	if err != nil {
		return o.rejected(outletProducts, "outlet/products", err, "Failed to fetch products")
	}
	o.s.dispatch(outletAction{op: outletProducts, phase: Fulfilled, products: items})
	return nil
}

// GetProduct загружает товар ассортимента.
func (o *Outlets) GetProduct(ctx context.Context, outletID int64, productID string) error {
	o.s.dispatch(outletAction{op: outletGetProduct, phase: Pending})

	p, err := o.api.GetOutletProduct(ctx, outletID, productID)
	if err != nil {
		return o.rejected(outletGetProduct, "outlet/product", err, "Product not found")
	}
	o.s.dispatch(outletAction{op: outletGetProduct, phase: Fulfilled, product: p})
	return nil
}

// UpsertProduct сохраняет товар ассортимента и обновляет его в списке.
func (o *Outlets) UpsertProduct(ctx context.Context, outletID int64, req model.OutletProductRequest) error {
	o.s.dispatch(outletAction{op: outletUpsertProduct, phase: Pending})

	p, err := o.api.UpsertOutletProduct(ctx, outletID, req)
	if err != nil {
		return o.rejected(outletUpsertProduct, "outlet/upsert-product", err, "Failed to update product")
	}
	o.s.dispatch(outletAction{op: outletUpsertProduct, phase: Fulfilled, product: p})
	return nil
}

// SetProductAvailability включает или выключает товар в точке.
func (o *Outlets) SetProductAvailability(ctx context.Context, outletID int64, productID string, available bool) error {
	o.s.dispatch(outletAction{op: outletAvailability, phase: Pending})

	if err := o.api.SetOutletProductAvailability(ctx, outletID, productID, available); err != nil {
		return o.rejected(outletAvailability, "outlet/availability", err, "Failed to update availability")
	}
	o.s.dispatch(outletAction{op: outletAvailability, phase: Fulfilled, productID: productID, available: available})
	return nil
}

// ClearError сбрасывает сообщение об ошибке.
func (o *Outlets) ClearError() {
	o.s.dispatch(outletAction{op: outletClearError})
}

func (o *Outlets) rejected(op outletOp, name string, err error, fallback string) error {
	opErr := reject(name, err, fallback)
	o.s.dispatch(outletAction{op: op, phase: Rejected, err: opErr.Message})
	return opErr
}
