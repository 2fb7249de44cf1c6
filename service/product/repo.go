package product

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/rafata1/commerce-engine/model"
	"github.com/rafata1/commerce-engine/store"
)

type IRepo interface {
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
	Get(ctx context.Context, id int64) (model.Product, error)
	LockForUpdate(ctx context.Context, id int64) (model.Product, error)
	Insert(ctx context.Context, product model.Product) (int64, error)
	Update(ctx context.Context, product model.Product) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]model.Product, error)
	ListByCategory(ctx context.Context, category string) ([]model.Product, error)
	Search(ctx context.Context, criteria SearchCriteria) ([]model.Product, error)
	LowStock(ctx context.Context, threshold int) ([]model.Product, error)
	UpdateStock(ctx context.Context, id int64, delta int) error
	UpdatePricesByCategory(ctx context.Context, category string, multiplier decimal.Decimal) error
}

// SearchCriteria is a dynamic filter; zero-valued fields are skipped.
type SearchCriteria struct {
	Name        string
	Categories  []string
	MinPrice    *decimal.Decimal
	MaxPrice    *decimal.Decimal
	InStockOnly bool
	Statuses    []model.ProductStatus
}

func NewRepo(db *sqlx.DB) IRepo {
	return &repo{
		db: db,
	}
}

type repo struct {
	db *sqlx.DB
}

func (r repo) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return store.Transact(ctx, r.db, fn)
}

var getProductQuery = "SELECT * FROM products WHERE id = ?"

func (r repo) Get(ctx context.Context, id int64) (model.Product, error) {
	var res model.Product
	err := sqlx.GetContext(ctx, store.Queryer(ctx, r.db), &res, getProductQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return res, model.ErrProductNotFound
	}
	return res, store.MapError(err)
}

var lockProductQuery = "SELECT * FROM products WHERE id = ? FOR UPDATE"

func (r repo) LockForUpdate(ctx context.Context, id int64) (model.Product, error) {
	var res model.Product
	err := sqlx.GetContext(ctx, store.Queryer(ctx, r.db), &res, lockProductQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return res, model.ErrProductNotFound
	}
	return res, store.MapError(err)
}

var insertProductQuery = `INSERT INTO products (name, description, price, stock_quantity, category, status)
VALUES (:name, :description, :price, :stock_quantity, :category, :status)`

func (r repo) Insert(ctx context.Context, product model.Product) (int64, error) {
	res, err := sqlx.NamedExecContext(ctx, store.Queryer(ctx, r.db), insertProductQuery, product)
	if err != nil {
		return 0, store.MapError(err)
	}
	return res.LastInsertId()
}

var updateProductQuery = `UPDATE products
SET name = :name, description = :description, price = :price, category = :category,
    status = :status, updated_at = CURRENT_TIMESTAMP
WHERE id = :id`

// Update deliberately leaves stock_quantity alone; stock moves only
// through UpdateStock.
func (r repo) Update(ctx context.Context, product model.Product) error {
	_, err := sqlx.NamedExecContext(ctx, store.Queryer(ctx, r.db), updateProductQuery, product)
	return store.MapError(err)
}

var deleteProductQuery = "DELETE FROM products WHERE id = ?"

func (r repo) Delete(ctx context.Context, id int64) error {
	_, err := store.Queryer(ctx, r.db).ExecContext(ctx, deleteProductQuery, id)
	return store.MapError(err)
}

var listProductsQuery = "SELECT * FROM products ORDER BY id"

func (r repo) List(ctx context.Context) ([]model.Product, error) {
	var res []model.Product
	err := sqlx.SelectContext(ctx, store.Queryer(ctx, r.db), &res, listProductsQuery)
	return res, store.MapError(err)
}

var listByCategoryQuery = "SELECT * FROM products WHERE category = ? AND status = 'AVAILABLE' ORDER BY created_at DESC"

func (r repo) ListByCategory(ctx context.Context, category string) ([]model.Product, error) {
	var res []model.Product
	err := sqlx.SelectContext(ctx, store.Queryer(ctx, r.db), &res, listByCategoryQuery, category)
	return res, store.MapError(err)
}

func (r repo) Search(ctx context.Context, criteria SearchCriteria) ([]model.Product, error) {
	var sb strings.Builder
	sb.WriteString("SELECT * FROM products WHERE 1=1")
	var args []interface{}

	if criteria.Name != "" {
		sb.WriteString(" AND name LIKE ?")
		args = append(args, "%"+criteria.Name+"%")
	}
	if len(criteria.Categories) > 0 {
		sb.WriteString(" AND category IN (?)")
		args = append(args, criteria.Categories)
	}
	if criteria.MinPrice != nil {
		sb.WriteString(" AND price >= ?")
		args = append(args, *criteria.MinPrice)
	}
	if criteria.MaxPrice != nil {
		sb.WriteString(" AND price <= ?")
		args = append(args, *criteria.MaxPrice)
	}
	if criteria.InStockOnly {
		sb.WriteString(" AND stock_quantity > 0")
	}
	if len(criteria.Statuses) > 0 {
		sb.WriteString(" AND status IN (?)")
		args = append(args, criteria.Statuses)
	}
	sb.WriteString(" ORDER BY id")

	query, args, err := sqlx.In(sb.String(), args...)
	if err != nil {
		return nil, err
	}

	var res []model.Product
	err = sqlx.SelectContext(ctx, store.Queryer(ctx, r.db), &res, query, args...)
	return res, store.MapError(err)
}

var lowStockQuery = "SELECT * FROM products WHERE stock_quantity < ? ORDER BY stock_quantity ASC"

func (r repo) LowStock(ctx context.Context, threshold int) ([]model.Product, error) {
	var res []model.Product
	err := sqlx.SelectContext(ctx, store.Queryer(ctx, r.db), &res, lowStockQuery, threshold)
	return res, store.MapError(err)
}

var updateStockQuery = "UPDATE products SET stock_quantity = stock_quantity + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?"

func (r repo) UpdateStock(ctx context.Context, id int64, delta int) error {
	_, err := store.Queryer(ctx, r.db).ExecContext(ctx, updateStockQuery, delta, id)
	return store.MapError(err)
}

var updatePricesByCategoryQuery = "UPDATE products SET price = price * ?, updated_at = CURRENT_TIMESTAMP WHERE category = ?"

func (r repo) UpdatePricesByCategory(ctx context.Context, category string, multiplier decimal.Decimal) error {
	_, err := store.Queryer(ctx, r.db).ExecContext(ctx, updatePricesByCategoryQuery, multiplier, category)
	return store.MapError(err)
}
