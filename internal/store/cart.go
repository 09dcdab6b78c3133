package store

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/mmeshcher/kpabk-connect/internal/model"
)

// CartAPI описывает вызовы корзины.
type CartAPI interface {
	GetCart(ctx context.Context) ([]model.CartItem, error)
	AddToCart(ctx context.Context, productID string, quantity int) (*model.CartItem, error)
	UpdateCartItem(ctx context.Context, productID string, quantity int) (*model.CartItem, error)
	DeleteCartItem(ctx context.Context, cartItemID int64) error
}

// CartState описывает состояние корзины.
type CartState struct {
	Items      []model.CartItem
	Loading    bool
	AddLoading bool
	// UpdatingProductID и DeletingItemID указывают на позицию, по которой идёт запрос.
	UpdatingProductID string
	DeletingItemID    int64
	Error             string
}

// TotalQuantity возвращает суммарное количество товаров в корзине.
func (s CartState) TotalQuantity() int {
	total := 0
	for _, it := range s.Items {
		total += it.Quantity
	}
	return total
}

// Subtotal возвращает сумму basePrice × quantity по всем позициям.
func (s CartState) Subtotal() float64 {
	var sum float64
	for _, it := range s.Items {
		sum += it.BasePrice * float64(it.Quantity)
	}
	return sum
}

// Find возвращает позицию корзины по идентификатору товара.
func (s CartState) Find(productID string) (model.CartItem, bool) {
	for _, it := range s.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return model.CartItem{}, false
}

type cartOp int

const (
	cartFetch cartOp = iota
	cartAdd
	cartUpdate
	cartRemove
	cartClear
	cartClearError
)

type cartAction struct {
	op    cartOp
	phase Phase

	productID  string
	quantity   int
	cartItemID int64

	items []model.CartItem
	item  *model.CartItem
	err   string
}

func reduceCart(s CartState, a cartAction) CartState {
	switch a.op {
	case cartFetch:
		switch a.phase {
		case Pending:
			s.Loading = true
			s.Error = ""
		case Fulfilled:
			s.Loading = false
			s.Items = a.items
			s.Error = ""
		case Rejected:
			s.Loading = false
			s.Error = a.err
		}

	case cartAdd:
		switch a.phase {
		case Pending:
			s.AddLoading = true
			s.Error = ""
		case Fulfilled:
			s.AddLoading = false
			s.Error = ""
		case Rejected:
			s.AddLoading = false
			s.Error = a.err
		}

	case cartUpdate:
		switch a.phase {
		case Pending:
			s.UpdatingProductID = a.productID
			s.Error = ""
			// Оптимистичное обновление зависит только от входа операции.
			if i := slices.IndexFunc(s.Items, func(it model.CartItem) bool { return it.ProductID == a.productID }); i >= 0 {
				s.Items = slices.Clone(s.Items)
				s.Items[i].Quantity = max(1, a.quantity)
			}
		case Fulfilled:
			s.UpdatingProductID = ""
			s.Error = ""
			if a.item != nil {
				if i := slices.IndexFunc(s.Items, func(it model.CartItem) bool { return it.ID == a.item.ID }); i >= 0 {
					s.Items = slices.Clone(s.Items)
					s.Items[i] = mergeCartItem(s.Items[i], *a.item)
				}
			}
		case Rejected:
			// Откат не выполняется: оптимистичное значение остаётся до повторной загрузки.
			s.UpdatingProductID = ""
			s.Error = a.err
		}

	case cartRemove:
		switch a.phase {
		case Pending:
			s.DeletingItemID = a.cartItemID
			s.Error = ""
		case Fulfilled:
			s.DeletingItemID = 0
			s.Items = slices.DeleteFunc(slices.Clone(s.Items), func(it model.CartItem) bool { return it.ID == a.cartItemID })
			s.Error = ""
		case Rejected:
			s.DeletingItemID = 0
			s.Error = a.err
		}

	case cartClear:
		s.Items = []model.CartItem{}
		s.Error = ""

	case cartClearError:
		s.Error = ""
	}
	return s
}

// mergeCartItem накладывает непустые поля ответа сервера на позицию корзины.
func mergeCartItem(cur, srv model.CartItem) model.CartItem {
	cur.ID = srv.ID
	if srv.UserID != 0 {
		cur.UserID = srv.UserID
	}
	if srv.ProductID != "" {
		cur.ProductID = srv.ProductID
	}
	if srv.ProductName != "" {
		cur.ProductName = srv.ProductName
	}
	if srv.BasePrice != 0 {
		cur.BasePrice = srv.BasePrice
	}
	if srv.ProductType != "" {
		cur.ProductType = srv.ProductType
	}
	if srv.Unit != "" {
		cur.Unit = srv.Unit
	}
	if srv.Quantity > 0 {
		cur.Quantity = srv.Quantity
	}
	if !srv.AddedAt.IsZero() {
		cur.AddedAt = srv.AddedAt
	}
	if !srv.UpdatedAt.IsZero() {
		cur.UpdatedAt = srv.UpdatedAt
	}
	return cur
}

func cloneCart(s CartState) CartState {
	s.Items = slices.Clone(s.Items)
	return s
}

// Cart управляет слайсом корзины.
type Cart struct {
	api    CartAPI
	logger *zap.Logger
	s      slice[CartState, cartAction]
}

// NewCart создаёт слайс корзины.
func NewCart(api CartAPI, logger *zap.Logger) *Cart {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cart{
		api:    api,
		logger: logger,
		s: slice[CartState, cartAction]{
			state:  CartState{Items: []model.CartItem{}},
			reduce: reduceCart,
			clone:  cloneCart,
		},
	}
}

// Snapshot возвращает копию состояния корзины.
func (c *Cart) Snapshot() CartState {
	return c.s.snapshot()
}

// Subscribe подписывает fn на изменения состояния.
func (c *Cart) Subscribe(fn func(CartState)) (unsubscribe func()) {
	return c.s.subs.add(fn)
}

// Fetch загружает корзину с сервера.
func (c *Cart) Fetch(ctx context.Context) error {
	c.s.dispatch(cartAction{op: cartFetch, phase: Pending})

	items, err := c.api.GetCart(ctx)
	if err != nil {
		opErr := reject("cart/fetch", err, "Failed to load cart")
		c.s.dispatch(cartAction{op: cartFetch, phase: Rejected, err: opErr.Message})
		return opErr
	}
	c.s.dispatch(cartAction{op: cartFetch, phase: Fulfilled, items: items})
	return nil
}

// Add добавляет товар в корзину и после ответа сервера загружает корзину целиком.
func (c *Cart) Add(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		quantity = 1
	}
	c.s.dispatch(cartAction{op: cartAdd, phase: Pending, productID: productID, quantity: quantity})

	if _, err := c.api.AddToCart(ctx, productID, quantity); err != nil {
		opErr := reject("cart/add", err, "Failed to add to cart")
		c.s.dispatch(cartAction{op: cartAdd, phase: Rejected, err: opErr.Message})
		return opErr
	}
	c.s.dispatch(cartAction{op: cartAdd, phase: Fulfilled})

	return c.Fetch(ctx)
}

// UpdateQuantity меняет количество товара. Новое значение (не меньше 1)
// появляется в состоянии до ответа сервера.
func (c *Cart) UpdateQuantity(ctx context.Context, productID string, quantity int) error {
	quantity = max(1, quantity)
	c.s.dispatch(cartAction{op: cartUpdate, phase: Pending, productID: productID, quantity: quantity})

	item, err := c.api.UpdateCartItem(ctx, productID, quantity)
	if err != nil {
		opErr := reject("cart/update", err, "Failed to update quantity")
		c.s.dispatch(cartAction{op: cartUpdate, phase: Rejected, productID: productID, err: opErr.Message})
		c.logger.Debug("cart quantity update rejected",
			zap.String("product_id", productID),
			zap.Int("quantity", quantity),
			zap.Error(err))
		return opErr
	}
	c.s.dispatch(cartAction{op: cartUpdate, phase: Fulfilled, productID: productID, item: item})
	return nil
}

// Increase увеличивает количество позиции на единицу.
func (c *Cart) Increase(ctx context.Context, item model.CartItem) error {
	return c.UpdateQuantity(ctx, item.ProductID, item.Quantity+1)
}

// Decrease уменьшает количество позиции на единицу. Позиция с количеством 1 не меняется.
func (c *Cart) Decrease(ctx context.Context, item model.CartItem) error {
	if item.Quantity <= 1 {
		return nil
	}
	return c.UpdateQuantity(ctx, item.ProductID, item.Quantity-1)
}

// Remove удаляет позицию корзины по её идентификатору.
func (c *Cart) Remove(ctx context.Context, cartItemID int64) error {
	c.s.dispatch(cartAction{op: cartRemove, phase: Pending, cartItemID: cartItemID})

	if err := c.api.DeleteCartItem(ctx, cartItemID); err != nil {
		opErr := reject("cart/remove", err, "Failed to remove item")
		c.s.dispatch(cartAction{op: cartRemove, phase: Rejected, cartItemID: cartItemID, err: opErr.Message})
		return opErr
	}
	c.s.dispatch(cartAction{op: cartRemove, phase: Fulfilled, cartItemID: cartItemID})
	return nil
}

// Clear очищает корзину локально, без обращения к серверу.
func (c *Cart) Clear() {
	c.s.dispatch(cartAction{op: cartClear})
}

// ClearError сбрасывает сообщение об ошибке.
func (c *Cart) ClearError() {
	c.s.dispatch(cartAction{op: cartClearError})
}
