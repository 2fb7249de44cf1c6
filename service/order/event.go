package order

import "github.com/rafata1/commerce-engine/model"

const (
	EventOrderCreated   = "ORDER_CREATED"
	EventOrderCancelled = "ORDER_CANCELLED"
)

// Event is the outbox payload describing an order lifecycle change.
type Event struct {
	Type        string            `json:"type"`
	OrderID     int64             `json:"order_id"`
	UserID      int64             `json:"user_id"`
	Status      model.OrderStatus `json:"status"`
	TotalAmount string            `json:"total_amount"`
	Items       []EventItem       `json:"items,omitempty"`
}

type EventItem struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}
