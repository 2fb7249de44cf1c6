package order

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rafata1/commerce-engine/kafka"
	"github.com/rafata1/commerce-engine/model"
	"github.com/rafata1/commerce-engine/service/product"
)

type IService interface {
	CreateOrder(ctx context.Context, userID int64, shippingAddress string, items []product.ReserveItem) (model.Order, error)
	GetOrder(ctx context.Context, id int64) (model.Order, error)
	ListOrdersForUser(ctx context.Context, userID int64) ([]model.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error
	CancelOrder(ctx context.Context, orderID int64) error
	DeleteOrder(ctx context.Context, orderID int64) error
	SearchOrders(ctx context.Context, criteria SearchCriteria) ([]model.Order, error)
	TotalSpend(ctx context.Context, userID int64) (decimal.Decimal, error)
	CountOrdersByDateRange(ctx context.Context, start, end time.Time) (int, error)
	TotalSoldQuantity(ctx context.Context, productID int64) (int, error)
	RelayOutbox(ctx context.Context, limit int) error
}

func NewService(
	repo IRepo,
	ledger product.IService,
	producer kafka.IProducer,
	logger *zap.Logger,
) IService {
	return &service{
		repo:     repo,
		ledger:   ledger,
		producer: producer,
		logger:   logger,
	}
}

type service struct {
	repo     IRepo
	ledger   product.IService
	producer kafka.IProducer
	logger   *zap.Logger
}

// CreateOrder reserves stock, prices the lines at the products' current
// prices and persists the order, its items and an outbox event in one
// transaction. Any failure rolls the whole thing back, stock included.
func (s service) CreateOrder(ctx context.Context, userID int64, shippingAddress string, items []product.ReserveItem) (model.Order, error) {
	if len(items) == 0 {
		return model.Order{}, model.ErrEmptyOrder
	}

	var out model.Order
	err := s.repo.Transact(ctx, func(ctx context.Context) error {
		pricedItems, total, err := s.ledger.Reserve(ctx, items)
		if err != nil {
			return err
		}

		order := model.Order{
			UserID:          userID,
			Status:          model.OrderPending,
			TotalAmount:     total,
			ShippingAddress: shippingAddress,
		}
		id, err := s.repo.Insert(ctx, order)
		if err != nil {
			return err
		}

		for i := range pricedItems {
			pricedItems[i].OrderID = id
		}
		if err := s.repo.InsertItems(ctx, pricedItems); err != nil {
			return err
		}

		order.ID = id
		order.Items = pricedItems
		out = order

		return s.writeEvent(ctx, EventOrderCreated, order)
	})
	if err != nil {
		return model.Order{}, err
	}

	s.logger.Info("order created",
		zap.Int64("order_id", out.ID),
		zap.Int64("user_id", userID),
		zap.Int("items", len(out.Items)),
		zap.String("total_amount", out.TotalAmount.String()))
	return out, nil
}

func (s service) GetOrder(ctx context.Context, id int64) (model.Order, error) {
	return s.repo.Get(ctx, id)
}

func (s service) ListOrdersForUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.ListByUser(ctx, userID)
}

// UpdateStatus moves an order through the state machine. It never touches
// inventory; the compensating stock release belongs to CancelOrder only.
// The order row stays locked from the status check to the write, so a
// concurrent writer cannot sneak a transition in between.
func (s service) UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error {
	var from model.OrderStatus
	err := s.repo.Transact(ctx, func(ctx context.Context) error {
		order, err := s.repo.LockForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		if !status.Valid() || !order.Status.CanTransitionTo(status) {
			return &model.InvalidTransitionError{From: order.Status, To: status}
		}

		from = order.Status
		return s.repo.UpdateStatus(ctx, orderID, status)
	})
	if err != nil {
		return err
	}

	s.logger.Info("order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(status)))
	return nil
}

// CancelOrder flips the order to CANCELLED and returns its reserved
// quantities to stock. The status change and the releases commit together;
// a product deleted since the order was placed is logged and skipped so
// the cancellation itself still holds.
func (s service) CancelOrder(ctx context.Context, orderID int64) error {
	err := s.repo.Transact(ctx, func(ctx context.Context) error {
		// Locking read: of two concurrent cancellations, the second only
		// sees the order after the first committed CANCELLED, so the
		// stock release runs once.
		order, err := s.repo.LockForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		switch order.Status {
		case model.OrderCancelled:
			return model.ErrAlreadyCancelled
		case model.OrderDelivered:
			return model.ErrCannotCancelDelivered
		}

		if err := s.repo.UpdateStatus(ctx, orderID, model.OrderCancelled); err != nil {
			return err
		}

		release := make([]product.ReserveItem, 0, len(order.Items))
		for _, item := range order.Items {
			release = append(release, product.ReserveItem{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
			})
		}
		if err := s.ledger.Release(ctx, release); err != nil {
			return err
		}

		order.Status = model.OrderCancelled
		return s.writeEvent(ctx, EventOrderCancelled, order)
	})
	if err != nil {
		return err
	}

	s.logger.Info("order cancelled and stock restored", zap.Int64("order_id", orderID))
	return nil
}

// DeleteOrder removes the order and its items, children first. It does not
// release stock: deletion is data hygiene, not cancellation, and deleting a
// live order leaves its reservation consumed.
func (s service) DeleteOrder(ctx context.Context, orderID int64) error {
	err := s.repo.Transact(ctx, func(ctx context.Context) error {
		if _, err := s.repo.LockForUpdate(ctx, orderID); err != nil {
			return err
		}

		if err := s.repo.DeleteItems(ctx, orderID); err != nil {
			return err
		}
		return s.repo.Delete(ctx, orderID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("order deleted", zap.Int64("order_id", orderID))
	return nil
}

func (s service) SearchOrders(ctx context.Context, criteria SearchCriteria) ([]model.Order, error) {
	return s.repo.Search(ctx, criteria)
}

func (s service) TotalSpend(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return s.repo.TotalSpendByUser(ctx, userID)
}

func (s service) CountOrdersByDateRange(ctx context.Context, start, end time.Time) (int, error) {
	return s.repo.CountByDateRange(ctx, start, end)
}

func (s service) TotalSoldQuantity(ctx context.Context, productID int64) (int, error) {
	return s.repo.TotalSoldQuantity(ctx, productID)
}

// RelayOutbox pushes pending outbox rows to the broker and marks them done.
func (s service) RelayOutbox(ctx context.Context, limit int) error {
	outboxes, err := s.repo.GetPendingOutbox(ctx, limit)
	if err != nil {
		return err
	}
	if len(outboxes) == 0 {
		return nil
	}

	if err := s.producer.Push(extractContents(outboxes)); err != nil {
		return err
	}

	return s.repo.MarkDoneOutboxes(ctx, extractIDs(outboxes))
}

func (s service) writeEvent(ctx context.Context, eventType string, order model.Order) error {
	event := Event{
		Type:        eventType,
		OrderID:     order.ID,
		UserID:      order.UserID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount.String(),
	}
	for _, item := range order.Items {
		event.Items = append(event.Items, EventItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price.String(),
		})
	}

	content, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.repo.CreateOutbox(ctx, model.Outbox{Content: content})
}

func extractIDs(outboxes []model.Outbox) []int64 {
	var res []int64
	for _, outbox := range outboxes {
		res = append(res, outbox.ID)
	}
	return res
}

func extractContents(outboxes []model.Outbox) [][]byte {
	var res [][]byte
	for _, outbox := range outboxes {
		res = append(res, outbox.Content)
	}
	return res
}
