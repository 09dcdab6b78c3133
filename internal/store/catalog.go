package store

import (
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/kpabk-connect/internal/model"
	"github.com/mmeshcher/kpabk-connect/internal/service"
)

// CatalogAPI описывает вызовы каталога.
type CatalogAPI interface {
	ListProducts(ctx context.Context, q service.PageQuery, f service.ProductFilter) (*model.Page[model.Product], error)
	ListCategories(ctx context.Context) ([]model.Category, error)
}

// CatalogState описывает состояние каталога с постраничной подгрузкой.
type CatalogState struct {
	Products    []model.Product
	Categories  []model.Category
	Pagination  model.Pagination
	Filter      service.ProductFilter
	Loading     bool
	LoadingMore bool
	Error       string

	// generation растёт с каждым Load, ответы прежних загрузок отбрасываются.
	generation uint64
}

// HasMore сообщает, есть ли ещё страницы для подгрузки.
func (s CatalogState) HasMore() bool {
	return s.Pagination.HasNext()
}

type catalogOp int

const (
	catalogLoad catalogOp = iota
	catalogMore
	catalogClearError
)

type catalogAction struct {
	op    catalogOp
	phase Phase
	gen   uint64

	filter     service.ProductFilter
	page       *model.Page[model.Product]
	categories []model.Category
	err        string
}

func reduceCatalog(s CatalogState, a catalogAction) CatalogState {
	switch a.op {
	case catalogLoad:
		switch a.phase {
		case Pending:
			s.generation++
			s.Loading = true
			s.LoadingMore = false
			s.Error = ""
			s.Filter = a.filter
			s.Products = []model.Product{}
			s.Pagination = DefaultPagination
		case Fulfilled:
			if a.gen != s.generation {
				return s
			}
			s.Loading = false
			s.Products = a.page.Content
			if s.Products == nil {
				s.Products = []model.Product{}
			}
			s.Pagination = a.page.Pagination
			if a.categories != nil {
				s.Categories = a.categories
			}
		case Rejected:
			if a.gen != s.generation {
				return s
			}
			s.Loading = false
			s.Error = a.err
		}

	case catalogMore:
		if a.phase != Pending && a.gen != s.generation {
			return s
		}
		switch a.phase {
		case Pending:
			s.LoadingMore = true
			s.Error = ""
		case Fulfilled:
			s.LoadingMore = false
			s.Products = append(slices.Clone(s.Products), a.page.Content...)
			s.Pagination = a.page.Pagination
		case Rejected:
			s.LoadingMore = false
			s.Error = a.err
		}

	case catalogClearError:
		s.Error = ""
	}
	return s
}

func cloneCatalog(s CatalogState) CatalogState {
	s.Products = slices.Clone(s.Products)
	s.Categories = slices.Clone(s.Categories)
	return s
}

// Catalog управляет слайсом каталога товаров.
type Catalog struct {
	api CatalogAPI
	s   slice[CatalogState, catalogAction]
}

// NewCatalog создаёт слайс каталога.
func NewCatalog(api CatalogAPI) *Catalog {
	return &Catalog{
		api: api,
		s: slice[CatalogState, catalogAction]{
			state:  CatalogState{Products: []model.Product{}, Pagination: DefaultPagination},
			reduce: reduceCatalog,
			clone:  cloneCatalog,
		},
	}
}

// Snapshot возвращает копию состояния.
func (c *Catalog) Snapshot() CatalogState {
	return c.s.snapshot()
}

// Subscribe подписывает fn на изменения состояния.
func (c *Catalog) Subscribe(fn func(CatalogState)) (unsubscribe func()) {
	return c.s.subs.add(fn)
}

// Load загружает первую страницу товаров по фильтру и список категорий.
// Оба запроса выполняются параллельно.
func (c *Catalog) Load(ctx context.Context, f service.ProductFilter, size int) error {
	gen := c.s.dispatch(catalogAction{op: catalogLoad, phase: Pending, filter: f}).generation

	var (
		page *model.Page[model.Product]
		cats []model.Category
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		page, err = c.api.ListProducts(gctx, service.PageQuery{Page: 0, Size: size}, f)
		return err
	})
	g.Go(func() error {
		var err error
		cats, err = c.api.ListCategories(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		opErr := reject("catalog/load", err, "Failed to load products")
		c.s.dispatch(catalogAction{op: catalogLoad, phase: Rejected, gen: gen, err: opErr.Message})
		return opErr
	}

	if cats == nil {
		cats = []model.Category{}
	}
	c.s.dispatch(catalogAction{op: catalogLoad, phase: Fulfilled, gen: gen, page: page, categories: cats})
	return nil
}

// NextPage подгружает следующую страницу по сохранённым метаданным пагинации
// и добавляет товары в конец списка. Возвращает false, если страниц больше нет,
// подгрузка уже идёт или за время запроса каталог загрузили заново.
func (c *Catalog) NextPage(ctx context.Context) (bool, error) {
	st, ok := c.s.dispatchIf(catalogAction{op: catalogMore, phase: Pending}, func(s CatalogState) bool {
		return !s.Loading && !s.LoadingMore && s.Pagination.HasNext()
	})
	if !ok {
		return false, nil
	}

	q := service.PageQuery{Page: st.Pagination.Page + 1, Size: st.Pagination.Size}
	page, err := c.api.ListProducts(ctx, q, st.Filter)
	if err != nil {
		opErr := reject("catalog/more", err, "Failed to load more products")
		c.s.dispatch(catalogAction{op: catalogMore, phase: Rejected, gen: st.generation, err: opErr.Message})
		return false, opErr
	}
	after := c.s.dispatch(catalogAction{op: catalogMore, phase: Fulfilled, gen: st.generation, page: page})
	return after.generation == st.generation, nil
}

// ClearError сбрасывает сообщение об ошибке.
func (c *Catalog) ClearError() {
	c.s.dispatch(catalogAction{op: catalogClearError})
}
