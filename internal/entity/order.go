package domain

import (
	"errors"
	"time"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderConfirmed  OrderStatus = "CONFIRMED"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderShipped    OrderStatus = "SHIPPED"
	OrderDelivered  OrderStatus = "DELIVERED"
	OrderCancelled  OrderStatus = "CANCELLED"
	OrderRefunded   OrderStatus = "REFUNDED"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

type ArchiveStatus string

const (
	ArchiveActive     ArchiveStatus = "ACTIVE"
	ArchivePending    ArchiveStatus = "PENDING_ARCHIVE"
	ArchiveArchived   ArchiveStatus = "ARCHIVED"
	ArchiveAnonymized ArchiveStatus = "ANONYMIZED"
)

var ErrInvalidStatus = errors.New("invalid order status")

// statusGraph lists the allowed forward transitions for admin updates.
// Cancellation is handled separately because it also restores inventory.
var statusGraph = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderConfirmed, OrderCancelled},
	OrderConfirmed:  {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderShipped},
	OrderShipped:    {OrderDelivered},
	OrderDelivered:  {OrderRefunded},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderProcessing, OrderShipped,
		OrderDelivered, OrderCancelled, OrderRefunded:
		return true
	}
	return false
}

// Terminal reports whether the order has reached an end state and is
// eligible for archival.
func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderCancelled || s == OrderRefunded
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, t := range statusGraph[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Address is snapshotted onto the order at checkout so later catalog or
// profile edits never change what was shipped where.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

func (a Address) Empty() bool {
	return a.Street == "" && a.City == "" && a.State == "" &&
		a.PostalCode == "" && a.Country == ""
}

type Order struct {
	ID              string
	UserID          string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	SubtotalCents   int64
	TaxCents        int64
	ShippingCents   int64
	TotalCents      int64
	Currency        string
	ShippingAddress Address
	BillingAddress  Address
	Notes           string
	IdempotencyKey  string
	ArchiveStatus   ArchiveStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem is a denormalized snapshot of the product at order time.
type OrderItem struct {
	ID         string
	OrderID    string
	ProductID  string
	Title      string
	PriceCents int64
	Quantity   int64
}
