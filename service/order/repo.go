package order

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/rafata1/commerce-engine/model"
	"github.com/rafata1/commerce-engine/store"
)

type IRepo interface {
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
	Insert(ctx context.Context, order model.Order) (int64, error)
	InsertItems(ctx context.Context, items []model.OrderItem) error
	Get(ctx context.Context, id int64) (model.Order, error)
	LockForUpdate(ctx context.Context, id int64) (model.Order, error)
	GetItems(ctx context.Context, orderID int64) ([]model.OrderItem, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Order, error)
	UpdateStatus(ctx context.Context, id int64, status model.OrderStatus) error
	DeleteItems(ctx context.Context, orderID int64) error
	Delete(ctx context.Context, id int64) error
	Search(ctx context.Context, criteria SearchCriteria) ([]model.Order, error)
	TotalSpendByUser(ctx context.Context, userID int64) (decimal.Decimal, error)
	CountByDateRange(ctx context.Context, start, end time.Time) (int, error)
	TotalSoldQuantity(ctx context.Context, productID int64) (int, error)
	CreateOutbox(ctx context.Context, outbox model.Outbox) error
	GetPendingOutbox(ctx context.Context, limit int) ([]model.Outbox, error)
	MarkDoneOutboxes(ctx context.Context, ids []int64) error
}

// SearchCriteria is a dynamic filter; nil fields are skipped. SortBy is
// limited to a whitelist, everything else falls back to order_date.
type SearchCriteria struct {
	UserID        *int64
	Status        *model.OrderStatus
	StartDate     *time.Time
	EndDate       *time.Time
	MinAmount     *decimal.Decimal
	MaxAmount     *decimal.Decimal
	SortBy        string
	SortDirection string
}

var sortColumns = map[string]string{
	"order_date":   "order_date",
	"total_amount": "total_amount",
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

var insertOrderQuery = `INSERT INTO orders (user_id, status, total_amount, shipping_address)
VALUES (:user_id, :status, :total_amount, :shipping_address)`

func (r repo) Insert(ctx context.Context, order model.Order) (int64, error) {
	res, err := sqlx.NamedExecContext(ctx, store.Queryer(ctx, r.db), insertOrderQuery, order)
	if err != nil {
		return 0, store.MapError(err)
	}
	return res.LastInsertId()
}

var insertItemsQuery = `INSERT INTO order_items (order_id, product_id, quantity, price, subtotal)
VALUES (:order_id, :product_id, :quantity, :price, :subtotal)`

// InsertItems writes all lines of an order as one batch statement.
func (r repo) InsertItems(ctx context.Context, items []model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	_, err := sqlx.NamedExecContext(ctx, store.Queryer(ctx, r.db), insertItemsQuery, items)
	return store.MapError(err)
}

var getOrderQuery = "SELECT * FROM orders WHERE id = ?"

func (r repo) Get(ctx context.Context, id int64) (model.Order, error) {
	var res model.Order
	err := sqlx.GetContext(ctx, store.Queryer(ctx, r.db), &res, getOrderQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return res, model.ErrOrderNotFound
	}
	if err != nil {
		return res, store.MapError(err)
	}

	res.Items, err = r.GetItems(ctx, id)
	return res, err
}

var lockOrderQuery = "SELECT * FROM orders WHERE id = ? FOR UPDATE"

// LockForUpdate reads the order under a row lock so a status
// check-then-write sequence is serialized against concurrent writers for
// the rest of the transaction.
func (r repo) LockForUpdate(ctx context.Context, id int64) (model.Order, error) {
	var res model.Order
	err := sqlx.GetContext(ctx, store.Queryer(ctx, r.db), &res, lockOrderQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return res, model.ErrOrderNotFound
	}
	if err != nil {
		return res, store.MapError(err)
	}

	res.Items, err = r.GetItems(ctx, id)
	return res, err
}

var getItemsQuery = "SELECT * FROM order_items WHERE order_id = ? ORDER BY id"

func (r repo) GetItems(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	var res []model.OrderItem
	err := sqlx.SelectContext(ctx, store.Queryer(ctx, r.db), &res, getItemsQuery, orderID)
	return res, store.MapError(err)
}

var listByUserQuery = "SELECT * FROM orders WHERE user_id = ? ORDER BY order_date DESC"

func (r repo) ListByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	var res []model.Order
	err := sqlx.SelectContext(ctx, store.Queryer(ctx, r.db), &res, listByUserQuery, userID)
	return res, store.MapError(err)
}

var updateStatusQuery = "UPDATE orders SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?"

func (r repo) UpdateStatus(ctx context.Context, id int64, status model.OrderStatus) error {
	_, err := store.Queryer(ctx, r.db).ExecContext(ctx, updateStatusQuery, status, id)
	return store.MapError(err)
}

var deleteItemsQuery = "DELETE FROM order_items WHERE order_id = ?"

func (r repo) DeleteItems(ctx context.Context, orderID int64) error {
	_, err := store.Queryer(ctx, r.db).ExecContext(ctx, deleteItemsQuery, orderID)
	return store.MapError(err)
}

var deleteOrderQuery = "DELETE FROM orders WHERE id = ?"

func (r repo) Delete(ctx context.Context, id int64) error {
	_, err := store.Queryer(ctx, r.db).ExecContext(ctx, deleteOrderQuery, id)
	return store.MapError(err)
}

func (r repo) Search(ctx context.Context, criteria SearchCriteria) ([]model.Order, error) {
	var sb strings.Builder
	sb.WriteString("SELECT * FROM orders WHERE 1=1")
	var args []interface{}

	if criteria.UserID != nil {
		sb.WriteString(" AND user_id = ?")
		args = append(args, *criteria.UserID)
	}
	if criteria.Status != nil {
		sb.WriteString(" AND status = ?")
		args = append(args, *criteria.Status)
	}
	if criteria.StartDate != nil {
		sb.WriteString(" AND order_date >= ?")
		args = append(args, *criteria.StartDate)
	}
	if criteria.EndDate != nil {
		sb.WriteString(" AND order_date <= ?")
		args = append(args, *criteria.EndDate)
	}
	if criteria.MinAmount != nil {
		sb.WriteString(" AND total_amount >= ?")
		args = append(args, *criteria.MinAmount)
	}
	if criteria.MaxAmount != nil {
		sb.WriteString(" AND total_amount <= ?")
		args = append(args, *criteria.MaxAmount)
	}

	// Sort column and direction come from a whitelist, never from the
	// criteria string itself.
	column, ok := sortColumns[criteria.SortBy]
	if !ok {
		column = "order_date"
	}
	direction := "DESC"
	if strings.EqualFold(criteria.SortDirection, "ASC") {
		direction = "ASC"
	}
	sb.WriteString(" ORDER BY " + column + " " + direction)

	var res []model.Order
	err := sqlx.SelectContext(ctx, store.Queryer(ctx, r.db), &res, sb.String(), args...)
	return res, store.MapError(err)
}

var totalSpendQuery = "SELECT COALESCE(SUM(total_amount), 0) FROM orders WHERE user_id = ? AND status != 'CANCELLED'"

func (r repo) TotalSpendByUser(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var res decimal.Decimal
	err := sqlx.GetContext(ctx, store.Queryer(ctx, r.db), &res, totalSpendQuery, userID)
	return res, store.MapError(err)
}

var countByDateRangeQuery = "SELECT COUNT(*) FROM orders WHERE order_date BETWEEN ? AND ?"

func (r repo) CountByDateRange(ctx context.Context, start, end time.Time) (int, error) {
	var res int
	err := sqlx.GetContext(ctx, store.Queryer(ctx, r.db), &res, countByDateRangeQuery, start, end)
	return res, store.MapError(err)
}

var totalSoldQuantityQuery = "SELECT COALESCE(SUM(quantity), 0) FROM order_items WHERE product_id = ?"

func (r repo) TotalSoldQuantity(ctx context.Context, productID int64) (int, error) {
	var res int
	err := sqlx.GetContext(ctx, store.Queryer(ctx, r.db), &res, totalSoldQuantityQuery, productID)
	return res, store.MapError(err)
}

var createOutboxQuery = "INSERT INTO order_outboxes (content) VALUES (:content)"

func (r repo) CreateOutbox(ctx context.Context, outbox model.Outbox) error {
	_, err := sqlx.NamedExecContext(ctx, store.Queryer(ctx, r.db), createOutboxQuery, outbox)
	return store.MapError(err)
}

var getPendingOutboxQuery = "SELECT * FROM order_outboxes WHERE status = ? LIMIT ?"

func (r repo) GetPendingOutbox(ctx context.Context, limit int) ([]model.Outbox, error) {
	var res []model.Outbox
	err := sqlx.SelectContext(ctx, store.Queryer(ctx, r.db), &res, getPendingOutboxQuery, model.OutboxPending, limit)
	return res, store.MapError(err)
}

var markDoneOutboxesQuery = "UPDATE order_outboxes SET status = ? WHERE id IN (?)"

func (r repo) MarkDoneOutboxes(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(markDoneOutboxesQuery, model.OutboxCompleted, ids)
	if err != nil {
		return err
	}

	_, err = store.Queryer(ctx, r.db).ExecContext(ctx, query, args...)
	return store.MapError(err)
}
