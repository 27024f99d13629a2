// Package orders implements the order lifecycle: creation with price and
// cost snapshots, the status state machine, stock release on
// cancellation and invoice creation on delivery.
package orders

import "time"

// Status represents the lifecycle of an order.
type Status string

const (
	StatusConfirmed Status = "CONFIRMED" // created, stock reserved
	StatusPrepared  Status = "PREPARED"  // picked in the warehouse
	StatusShipped   Status = "SHIPPED"   // handed to the delivery agent
	StatusDelivered Status = "DELIVERED" // client received goods, invoice issued
	StatusCancelled Status = "CANCELLED" // cancelled, stock released
)

// IsValid checks if the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusConfirmed, StatusPrepared, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is permitted.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// transitions is the allowed transition table. Anything absent is
// rejected; terminal states have no outgoing entries.
var transitions = map[Status][]Status{
	StatusConfirmed: {StatusPrepared, StatusCancelled},
	StatusPrepared:  {StatusShipped, StatusCancelled},
	StatusShipped:   {StatusDelivered},
}

// CanTransitionTo checks the transition table.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Order represents one client purchase.
type Order struct {
	ID                    int64
	Number                string
	ClientID              int64
	ClientName            string
	ClientEmail           string
	Status                Status
	TotalHT               float64
	RequiresAdminApproval bool
	DeliveryAddress       string
	DeliveryCity          string
	DeliveryPhone         string
	DeliveryAgent         *string
	ConfirmationCode      *string
	ShippedAt             *time.Time
	DeliveredAt           *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
	Items                 []Item
	Invoice               *InvoiceRef
}

// Item is one product line. Prices and costs are snapshotted at creation
// time; the order total is their sum, never a live lookup.
type Item struct {
	ID          int64
	OrderID     int64
	ProductID   int64
	VariantID   *int64
	Quantity    int
	PriceAtTime float64
	CostAtTime  float64
}

// InvoiceRef is the slice of the coupled invoice the state machine needs:
// whether one exists and whether it is locked by full payment.
type InvoiceRef struct {
	ID     int64
	Number string
	Status string
}

// ProductSnapshot carries the catalog values captured into an item.
type ProductSnapshot struct {
	ProductID int64
	VariantID *int64
	Name      string
	PriceHT   float64
	CostHT    float64
	Stock     int
}
