package product

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rafata1/commerce-engine/model"
)

// ReserveItem is a requested (product, quantity) pair.
type ReserveItem struct {
	ProductID int64
	Quantity  int
}

type IService interface {
	// Reserve validates the requested quantities against current stock,
	// prices each line at the product's current price and decrements stock.
	// It must run inside the caller's transaction; any failure leaves no
	// adjustment behind.
	Reserve(ctx context.Context, items []ReserveItem) ([]model.OrderItem, decimal.Decimal, error)
	// Release returns previously reserved quantities to stock. A product
	// deleted since the reservation is logged and skipped, never fatal.
	Release(ctx context.Context, items []ReserveItem) error
	// AdjustStock is the single mutation path for stock quantities.
	AdjustStock(ctx context.Context, productID int64, delta int) (int, error)

	CreateProduct(ctx context.Context, product model.Product) (model.Product, error)
	UpdateProduct(ctx context.Context, product model.Product) error
	DeleteProduct(ctx context.Context, id int64) error
	GetProduct(ctx context.Context, id int64) (model.Product, error)
	ListProducts(ctx context.Context) ([]model.Product, error)
	ListByCategory(ctx context.Context, category string) ([]model.Product, error)
	SearchProducts(ctx context.Context, criteria SearchCriteria) ([]model.Product, error)
	LowStockProducts(ctx context.Context, threshold int) ([]model.Product, error)
	AdjustPricesByCategory(ctx context.Context, category string, multiplier decimal.Decimal) error
}

func NewService(repo IRepo, logger *zap.Logger) IService {
	return &service{
		repo:   repo,
		logger: logger,
	}
}

type service struct {
	repo   IRepo
	logger *zap.Logger
}

func (s service) Reserve(ctx context.Context, items []ReserveItem) ([]model.OrderItem, decimal.Decimal, error) {
	total := decimal.Zero
	if len(items) == 0 {
		return nil, total, model.ErrEmptyOrder
	}

	// Lock in product-id order so two orders sharing products cannot
	// deadlock each other.
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return items[order[i]].ProductID < items[order[j]].ProductID
	})

	res := make([]model.OrderItem, len(items))
	reserved := make(map[int64]int, len(items))
	for _, idx := range order {
		item := items[idx]
		if item.Quantity <= 0 {
			return nil, decimal.Zero, fmt.Errorf("%w: got %d for product %d", model.ErrInvalidQuantity, item.Quantity, item.ProductID)
		}

		p, err := s.repo.LockForUpdate(ctx, item.ProductID)
		if errors.Is(err, model.ErrProductNotFound) {
			return nil, decimal.Zero, fmt.Errorf("%w: %d", model.ErrProductNotFound, item.ProductID)
		}
		if err != nil {
			return nil, decimal.Zero, err
		}

		// Lines for the same product share one stock pool within a request.
		available := p.StockQuantity - reserved[item.ProductID]
		if available < item.Quantity {
			return nil, decimal.Zero, &model.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Available:   available,
				Requested:   item.Quantity,
			}
		}
		reserved[item.ProductID] += item.Quantity

		subtotal := p.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		res[idx] = model.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     p.Price,
			Subtotal:  subtotal,
		}
		total = total.Add(subtotal)
	}

	// All rows are locked and checked; only now touch stock, so a failure
	// above leaves nothing to undo.
	for id, quantity := range reserved {
		if err := s.repo.UpdateStock(ctx, id, -quantity); err != nil {
			return nil, decimal.Zero, err
		}
	}
	return res, total, nil
}

func (s service) Release(ctx context.Context, items []ReserveItem) error {
	sorted := make([]ReserveItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	for _, item := range sorted {
		_, err := s.repo.LockForUpdate(ctx, item.ProductID)
		if errors.Is(err, model.ErrProductNotFound) {
			s.logger.Warn("cannot restore stock to deleted product",
				zap.Int64("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity))
			continue
		}
		if err != nil {
			return err
		}

		if err := s.repo.UpdateStock(ctx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (s service) AdjustStock(ctx context.Context, productID int64, delta int) (int, error) {
	var newQuantity int
	err := s.repo.Transact(ctx, func(ctx context.Context) error {
		p, err := s.repo.LockForUpdate(ctx, productID)
		if err != nil {
			return err
		}

		if delta < 0 && p.StockQuantity+delta < 0 {
			return &model.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Available:   p.StockQuantity,
				Requested:   -delta,
			}
		}

		if err := s.repo.UpdateStock(ctx, productID, delta); err != nil {
			return err
		}
		newQuantity = p.StockQuantity + delta
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("stock adjusted",
		zap.Int64("product_id", productID),
		zap.Int("delta", delta),
		zap.Int("new_quantity", newQuantity))
	return newQuantity, nil
}

func (s service) CreateProduct(ctx context.Context, product model.Product) (model.Product, error) {
	if product.Status == "" {
		product.Status = model.ProductAvailable
	}
	if !product.Status.Valid() {
		return model.Product{}, fmt.Errorf("invalid product status: %s", product.Status)
	}

	id, err := s.repo.Insert(ctx, product)
	if err != nil {
		return model.Product{}, err
	}
	product.ID = id

	s.logger.Info("product created", zap.Int64("product_id", id), zap.String("name", product.Name))
	return product, nil
}

func (s service) UpdateProduct(ctx context.Context, product model.Product) error {
	if _, err := s.repo.Get(ctx, product.ID); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, product); err != nil {
		return err
	}
	s.logger.Info("product updated", zap.Int64("product_id", product.ID))
	return nil
}

func (s service) DeleteProduct(ctx context.Context, id int64) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("product deleted", zap.Int64("product_id", id))
	return nil
}

func (s service) GetProduct(ctx context.Context, id int64) (model.Product, error) {
	return s.repo.Get(ctx, id)
}

func (s service) ListProducts(ctx context.Context) ([]model.Product, error) {
	return s.repo.List(ctx)
}

func (s service) ListByCategory(ctx context.Context, category string) ([]model.Product, error) {
	return s.repo.ListByCategory(ctx, category)
}

func (s service) SearchProducts(ctx context.Context, criteria SearchCriteria) ([]model.Product, error) {
	return s.repo.Search(ctx, criteria)
}

func (s service) LowStockProducts(ctx context.Context, threshold int) ([]model.Product, error) {
	return s.repo.LowStock(ctx, threshold)
}

func (s service) AdjustPricesByCategory(ctx context.Context, category string, multiplier decimal.Decimal) error {
	if multiplier.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("price multiplier must be positive, got %s", multiplier)
	}

	if err := s.repo.UpdatePricesByCategory(ctx, category, multiplier); err != nil {
		return err
	}
	s.logger.Info("prices adjusted",
		zap.String("category", category),
		zap.String("multiplier", multiplier.String()))
	return nil
}
