package domain

import "time"

// InventoryRecord tracks owned units and units held by open carts.
// Invariant: 0 <= Reserved <= Quantity.
type InventoryRecord struct {
	ProductID string
	Quantity  int64
	Reserved  int64
}

func (r InventoryRecord) Available() int64 {
	return r.Quantity - r.Reserved
}

// CartItem is a live cart line. ReservedUntil bounds how long the line may
// hold its inventory reservation before the retention job releases it.
type CartItem struct {
	ID            string
	UserID        string
	ProductID     string
	Title         string
	PriceCents    int64
	Quantity      int64
	ReservedUntil time.Time
}
