package models

import "time"

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderStatus string

const (
	OrderStatusSuccess OrderStatus = "SUCCESS"
	OrderStatusFailed  OrderStatus = "FAILED"
)

// OrderRequest is a market order for a fixed quantity.
type OrderRequest struct {
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Quantity      int       `json:"quantity"`
	ClientOrderID string    `json:"client_order_id"`
}

// OrderResult is the broker's answer.
type OrderResult struct {
	Symbol        string      `json:"symbol"`
	Side          OrderSide   `json:"side"`
	Quantity      int         `json:"quantity"`
	ClientOrderID string      `json:"client_order_id,omitempty"`
	Status        OrderStatus `json:"status"`
	BrokerOrderID string      `json:"broker_order_id,omitempty"`
	Message       string      `json:"message,omitempty"`
	PlacedAt      time.Time   `json:"placed_at"`
}

// FailedOrder describes an order that never reached the book.
func FailedOrder(req OrderRequest, msg string, at time.Time) OrderResult {
	return OrderResult{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		ClientOrderID: req.ClientOrderID,
		Status:        OrderStatusFailed,
		Message:       msg,
		PlacedAt:      at,
	}
}

// SchedulerState is the run state of the decision loop.
type SchedulerState string

const (
	StateIdle     SchedulerState = "Idle"
	StateRunning  SchedulerState = "Running"
	StateStopping SchedulerState = "Stopping"
)

// DecisionEvent is what the journal records for every stored decision.
type DecisionEvent struct {
	ID       string             `json:"id"`
	Source   string             `json:"source"` // "tick" or "analyze"
	Decision AggregatedDecision `json:"decision"`
}
