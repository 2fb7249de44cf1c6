package product

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rafata1/commerce-engine/model"
)

// fakeRepo keeps products in memory. Transact snapshots the state and
// restores it when fn fails, standing in for the database rollback.
type fakeRepo struct {
	mu       sync.Mutex
	products map[int64]model.Product
	nextID   int64
}

func newFakeRepo(seed ...model.Product) *fakeRepo {
	f := &fakeRepo{
		products: make(map[int64]model.Product),
		nextID:   1,
	}
	for _, p := range seed {
		if p.ID >= f.nextID {
			f.nextID = p.ID + 1
		}
		f.products[p.ID] = p
	}
	return f
}

func (f *fakeRepo) snapshot() map[int64]model.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	saved := make(map[int64]model.Product, len(f.products))
	for id, p := range f.products {
		saved[id] = p
	}
	return saved
}

func (f *fakeRepo) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	saved := f.snapshot()
	if err := fn(ctx); err != nil {
		f.mu.Lock()
		f.products = saved
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeRepo) Get(ctx context.Context, id int64) (model.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return model.Product{}, model.ErrProductNotFound
	}
	return p, nil
}

func (f *fakeRepo) LockForUpdate(ctx context.Context, id int64) (model.Product, error) {
	return f.Get(ctx, id)
}

func (f *fakeRepo) Insert(ctx context.Context, product model.Product) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	product.ID = f.nextID
	f.nextID++
	f.products[product.ID] = product
	return product.ID, nil
}

func (f *fakeRepo) Update(ctx context.Context, product model.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.products[product.ID]
	if !ok {
		return model.ErrProductNotFound
	}
	product.StockQuantity = existing.StockQuantity
	f.products[product.ID] = product
	return nil
}

func (f *fakeRepo) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.products, id)
	return nil
}

func (f *fakeRepo) List(ctx context.Context) ([]model.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []model.Product
	for _, p := range f.products {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (f *fakeRepo) ListByCategory(ctx context.Context, category string) ([]model.Product, error) {
	all, _ := f.List(ctx)
	var res []model.Product
	for _, p := range all {
		if p.Category == category && p.Status == model.ProductAvailable {
			res = append(res, p)
		}
	}
	return res, nil
}

func (f *fakeRepo) Search(ctx context.Context, criteria SearchCriteria) ([]model.Product, error) {
	all, _ := f.List(ctx)
	var res []model.Product
	for _, p := range all {
		if criteria.Name != "" && !strings.Contains(p.Name, criteria.Name) {
			continue
		}
		if criteria.InStockOnly && p.StockQuantity == 0 {
			continue
		}
		if criteria.MinPrice != nil && p.Price.LessThan(*criteria.MinPrice) {
			continue
		}
		if criteria.MaxPrice != nil && p.Price.GreaterThan(*criteria.MaxPrice) {
			continue
		}
		res = append(res, p)
	}
	return res, nil
}

func (f *fakeRepo) LowStock(ctx context.Context, threshold int) ([]model.Product, error) {
	all, _ := f.List(ctx)
	var res []model.Product
	for _, p := range all {
		if p.StockQuantity < threshold {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StockQuantity < res[j].StockQuantity })
	return res, nil
}

func (f *fakeRepo) UpdateStock(ctx context.Context, id int64, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return model.ErrProductNotFound
	}
	p.StockQuantity += delta
	f.products[id] = p
	return nil
}

func (f *fakeRepo) UpdatePricesByCategory(ctx context.Context, category string, multiplier decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, p := range f.products {
		if p.Category == category {
			p.Price = p.Price.Mul(multiplier)
			f.products[id] = p
		}
	}
	return nil
}

func (f *fakeRepo) stock(t *testing.T, id int64) int {
	t.Helper()
	p, err := f.Get(context.Background(), id)
	require.NoError(t, err)
	return p.StockQuantity
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedProduct(id int64, name string, p string, stock int) model.Product {
	return model.Product{
		ID:            id,
		Name:          name,
		Price:         price(p),
		StockQuantity: stock,
		Category:      "Electronics",
		Status:        model.ProductAvailable,
	}
}

func TestReserve(t *testing.T) {
	repo := newFakeRepo(seedProduct(1, "Laptop", "10.00", 5))
	svc := NewService(repo, zap.NewNop())
	ctx := context.Background()

	items, total, err := svc.Reserve(ctx, []ReserveItem{{ProductID: 1, Quantity: 3}})
	require.NoError(t, err)

	assert.True(t, total.Equal(price("30.00")), "total = %s", total)
	require.Len(t, items, 1)
	assert.Equal(t, int64(1), items[0].ProductID)
	assert.Equal(t, 3, items[0].Quantity)
	assert.True(t, items[0].Price.Equal(price("10.00")))
	assert.True(t, items[0].Subtotal.Equal(price("30.00")))
	assert.Equal(t, 2, repo.stock(t, 1))
}

func TestReserveInsufficientStock(t *testing.T) {
	repo := newFakeRepo(seedProduct(1, "Laptop", "10.00", 2))
	svc := NewService(repo, zap.NewNop())

	_, _, err := svc.Reserve(context.Background(), []ReserveItem{{ProductID: 1, Quantity: 3}})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInsufficientStock)

	var stockErr *model.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "Laptop", stockErr.ProductName)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 3, stockErr.Requested)

	assert.Equal(t, 2, repo.stock(t, 1), "failed reservation must not touch stock")
}

func TestReserveUnknownProduct(t *testing.T) {
	repo := newFakeRepo(seedProduct(1, "Laptop", "10.00", 5))
	svc := NewService(repo, zap.NewNop())

	_, _, err := svc.Reserve(context.Background(), []ReserveItem{{ProductID: 99, Quantity: 1}})
	assert.ErrorIs(t, err, model.ErrProductNotFound)
	assert.Equal(t, 5, repo.stock(t, 1))
}

func TestReserveAllOrNothing(t *testing.T) {
	repo := newFakeRepo(
		seedProduct(1, "Laptop", "10.00", 5),
		seedProduct(2, "Mouse", "2.50", 5),
		seedProduct(3, "Keyboard", "5.00", 1),
	)
	svc := NewService(repo, zap.NewNop())

	_, _, err := svc.Reserve(context.Background(), []ReserveItem{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 3},
		{ProductID: 3, Quantity: 5},
	})
	assert.ErrorIs(t, err, model.ErrInsufficientStock)

	assert.Equal(t, 5, repo.stock(t, 1), "earlier items must not be committed")
	assert.Equal(t, 5, repo.stock(t, 2), "earlier items must not be committed")
	assert.Equal(t, 1, repo.stock(t, 3))
}

func TestReserveDuplicateLinesShareStock(t *testing.T) {
	repo := newFakeRepo(seedProduct(1, "Laptop", "10.00", 5))
	svc := NewService(repo, zap.NewNop())

	_, _, err := svc.Reserve(context.Background(), []ReserveItem{
		{ProductID: 1, Quantity: 3},
		{ProductID: 1, Quantity: 3},
	})
	assert.ErrorIs(t, err, model.ErrInsufficientStock)
	assert.Equal(t, 5, repo.stock(t, 1))

	items, total, err := svc.Reserve(context.Background(), []ReserveItem{
		{ProductID: 1, Quantity: 3},
		{ProductID: 1, Quantity: 2},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.True(t, total.Equal(price("50.00")))
	assert.Equal(t, 0, repo.stock(t, 1))
}

func TestReserveRejectsBadInput(t *testing.T) {
	repo := newFakeRepo(seedProduct(1, "Laptop", "10.00", 5))
	svc := NewService(repo, zap.NewNop())
	ctx := context.Background()

	_, _, err := svc.Reserve(ctx, nil)
	assert.ErrorIs(t, err, model.ErrEmptyOrder)

	_, _, err = svc.Reserve(ctx, []ReserveItem{{ProductID: 1, Quantity: 0}})
	assert.ErrorIs(t, err, model.ErrInvalidQuantity)

	_, _, err = svc.Reserve(ctx, []ReserveItem{{ProductID: 1, Quantity: -2}})
	assert.ErrorIs(t, err, model.ErrInvalidQuantity)
	assert.Equal(t, 5, repo.stock(t, 1))
}

func TestRelease(t *testing.T) {
	repo := newFakeRepo(
		seedProduct(1, "Laptop", "10.00", 3),
		seedProduct(2, "Mouse", "2.50", 0),
	)
	svc := NewService(repo, zap.NewNop())

	err := svc.Release(context.Background(), []ReserveItem{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, repo.stock(t, 1))
	assert.Equal(t, 3, repo.stock(t, 2))
}

func TestReleaseDeletedProductIsNotFatal(t *testing.T) {
	repo := newFakeRepo(seedProduct(1, "Laptop", "10.00", 3))
	svc := NewService(repo, zap.NewNop())

	err := svc.Release(context.Background(), []ReserveItem{
		{ProductID: 99, Quantity: 4},
		{ProductID: 1, Quantity: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, repo.stock(t, 1), "surviving products are still restored")
}

func TestAdjustStock(t *testing.T) {
	repo := newFakeRepo(seedProduct(1, "Laptop", "10.00", 5))
	svc := NewService(repo, zap.NewNop())
	ctx := context.Background()

	quantity, err := svc.AdjustStock(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 15, quantity)

	quantity, err = svc.AdjustStock(ctx, 1, -15)
	require.NoError(t, err)
	assert.Equal(t, 0, quantity)

	_, err = svc.AdjustStock(ctx, 1, -1)
	assert.ErrorIs(t, err, model.ErrInsufficientStock)
	assert.Equal(t, 0, repo.stock(t, 1), "stock never goes negative")

	_, err = svc.AdjustStock(ctx, 99, 1)
	assert.ErrorIs(t, err, model.ErrProductNotFound)
}

func TestAdjustPricesByCategory(t *testing.T) {
	laptop := seedProduct(1, "Laptop", "100.00", 5)
	chair := seedProduct(2, "Chair", "40.00", 5)
	chair.Category = "Furniture"
	repo := newFakeRepo(laptop, chair)
	svc := NewService(repo, zap.NewNop())
	ctx := context.Background()

	err := svc.AdjustPricesByCategory(ctx, "Electronics", decimal.Zero)
	assert.Error(t, err, "multiplier must be positive")

	err = svc.AdjustPricesByCategory(ctx, "Electronics", price("0.9"))
	require.NoError(t, err)

	p, err := svc.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(price("90.00")), "price = %s", p.Price)

	p, err = svc.GetProduct(ctx, 2)
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(price("40.00")), "other categories untouched")
}

func TestCreateProductDefaultsStatus(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, zap.NewNop())

	created, err := svc.CreateProduct(context.Background(), model.Product{
		Name:     "Laptop",
		Price:    price("10.00"),
		Category: "Electronics",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ProductAvailable, created.Status)
	assert.NotZero(t, created.ID)

	_, err = svc.CreateProduct(context.Background(), model.Product{
		Name:   "Broken",
		Status: model.ProductStatus("GONE"),
	})
	assert.Error(t, err)
}

func TestLowStockProducts(t *testing.T) {
	repo := newFakeRepo(
		seedProduct(1, "Laptop", "10.00", 8),
		seedProduct(2, "Mouse", "2.50", 1),
		seedProduct(3, "Keyboard", "5.00", 4),
	)
	svc := NewService(repo, zap.NewNop())

	low, err := svc.LowStockProducts(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, low, 2)
	assert.Equal(t, int64(2), low[0].ID, "sorted by remaining stock")
	assert.Equal(t, int64(3), low[1].ID)
}
