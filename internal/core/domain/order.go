package domain

import "time"

type LineItem struct {
	ProductID   string
	Quantity    int
	Description string
}

// Allocation lists the keys checked out for one line item.
type Allocation struct {
	ProductID   string
	Description string
	Keys        []string
}

// PaymentEvent is a successful payment notification from the payment provider.
type PaymentEvent struct {
	EventID    string
	OrderID    string
	Email      string
	Items      []LineItem
	ReceivedAt time.Time
}

// FulfillmentTask is the queued unit of work created for an accepted PaymentEvent.
type FulfillmentTask struct {
	ID      string
	Event   PaymentEvent
	Attempt int
}

// KeyDelivery is what the notifier sends to the purchaser once a checkout has committed.
type KeyDelivery struct {
	OrderID     string
	Email       string
	Allocations []Allocation
}
