package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle status carried by an order event.
type OrderStatus string

// Order statuses.
const (
	OrderStatusNew             OrderStatus = "New"
	OrderStatusSubmitted       OrderStatus = "Submitted"
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderStatusFilled          OrderStatus = "Filled"
	OrderStatusCanceled        OrderStatus = "Canceled"
	OrderStatusInvalid         OrderStatus = "Invalid"
)

// IsFill reports whether the status represents an executed quantity.
func (s OrderStatus) IsFill() bool {
	return s == OrderStatusFilled || s == OrderStatusPartiallyFilled
}

// IsClosed reports whether no further events are expected for the order.
func (s OrderStatus) IsClosed() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled || s == OrderStatusInvalid
}

// OrderDirection is the side of an order or fill.
type OrderDirection string

// Order directions.
const (
	OrderDirectionBuy  OrderDirection = "Buy"
	OrderDirectionSell OrderDirection = "Sell"
	OrderDirectionHold OrderDirection = "Hold"
)

// DirectionOf returns the direction implied by a signed quantity.
func DirectionOf(quantity int) OrderDirection {
	switch {
	case quantity > 0:
		return OrderDirectionBuy
	case quantity < 0:
		return OrderDirectionSell
	default:
		return OrderDirectionHold
	}
}

// OrderType is the kind of order behind a ticket.
type OrderType string

// Order types.
const (
	OrderTypeMarket         OrderType = "Market"
	OrderTypeOptionExercise OrderType = "OptionExercise"
)

// OrderTicket tracks a submitted order.
type OrderTicket struct {
	Time             time.Time       `json:"time"`
	AverageFillPrice decimal.Decimal `json:"average_fill_price"`
	Symbol           Symbol          `json:"symbol"`
	Type             OrderType       `json:"type"`
	Status           OrderStatus     `json:"status"`
	Tag              string          `json:"tag,omitempty"`
	ID               int             `json:"id"`
	Quantity         int             `json:"quantity"`
	QuantityFilled   int             `json:"quantity_filled"`
}

// Direction returns the side of the ticket.
func (t *OrderTicket) Direction() OrderDirection {
	return DirectionOf(t.Quantity)
}

// OrderEvent is a notification about an order produced by the engine.
// FillQuantity is signed: negative for sells.
type OrderEvent struct {
	Time         time.Time       `json:"time"`
	FillPrice    decimal.Decimal `json:"fill_price"`
	Fee          decimal.Decimal `json:"fee"`
	Symbol       Symbol          `json:"symbol"`
	Status       OrderStatus     `json:"status"`
	Direction    OrderDirection  `json:"direction"`
	Message      string          `json:"message,omitempty"`
	OrderID      int             `json:"order_id"`
	FillQuantity int             `json:"fill_quantity"`
	IsAssignment bool            `json:"is_assignment"`
}

func (e OrderEvent) String() string {
	s := fmt.Sprintf("%s order %d %s %s %d @ %s", e.Time.Format(time.RFC3339), e.OrderID, e.Status,
		e.Direction, e.FillQuantity, e.FillPrice.StringFixed(2))
	if e.IsAssignment {
		s += " (assignment)"
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	return e.Symbol.Value + " " + s
}
