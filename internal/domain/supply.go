package domain

import (
	"fmt"
	"time"
)

// Supply represents a sheet stock item that job materials draw on. Stock
// and Allocated are populated on reads; Allocated is the number of sheets
// still owed to jobs that are not yet done.
type Supply struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Color        *string   `json:"color,omitempty" db:"color"`
	ReorderPoint int       `json:"reorder_point" db:"reorder_point"`
	ReorderQty   int       `json:"reorder_qty" db:"reorder_qty"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`

	Stock     []SupplyStock `json:"stock,omitempty" db:"-"`
	Allocated int           `json:"allocated" db:"-"`
}

// NewSupply is the creation payload for a supply.
type NewSupply struct {
	Name         string
	Color        *string
	ReorderPoint int
	ReorderQty   int
}

// Location represents a storage site holding supply stock.
type Location struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SupplyStock is the on-hand sheet count of one supply at one location.
type SupplyStock struct {
	SupplyID   int64     `json:"supply_id" db:"supply_id"`
	LocationID int64     `json:"location_id" db:"location_id"`
	OnHand     int       `json:"on_hand" db:"on_hand"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// OnHandTotal sums a supply's stock across locations.
func OnHandTotal(stock []SupplyStock) int {
	total := 0
	for _, s := range stock {
		total += s.OnHand
	}
	return total
}

// AllocateStock walks the stock pools in the order given, drawing qty
// sheets first-fit, and returns the updated pools. When the pools cannot
// cover qty it returns ErrInsufficientStock and nothing is drawn.
func AllocateStock(stock []SupplyStock, qty int) ([]SupplyStock, error) {
	if total := OnHandTotal(stock); total < qty {
		return nil, fmt.Errorf("need %d, have %d: %w", qty, total, ErrInsufficientStock)
	}
	next := make([]SupplyStock, len(stock))
	copy(next, stock)
	remaining := qty
	for i := range next {
		if remaining == 0 {
			break
		}
		take := min(next[i].OnHand, remaining)
		next[i].OnHand -= take
		remaining -= take
	}
	return next, nil
}

// ReorderSuggestion proposes a purchase for a supply whose unallocated
// stock fell below its reorder point.
type ReorderSuggestion struct {
	SupplyID     int64  `json:"supply_id"`
	Name         string `json:"name"`
	OnHand       int    `json:"on_hand"`
	Allocated    int    `json:"allocated"`
	Available    int    `json:"available"`
	SuggestedQty int    `json:"suggested_qty"`
}

// SuggestReorder returns a purchase proposal for the supply, or nil when
// its available stock (on hand minus allocated) still meets the reorder
// point. The suggested quantity is at least the configured reorder batch
// and never less than the shortage itself.
func SuggestReorder(s Supply, onHand, allocated int) *ReorderSuggestion {
	available := onHand - allocated
	if available >= s.ReorderPoint {
		return nil
	}
	return &ReorderSuggestion{
		SupplyID:     s.ID,
		Name:         s.Name,
		OnHand:       onHand,
		Allocated:    allocated,
		Available:    available,
		SuggestedQty: max(s.ReorderQty, s.ReorderPoint-available),
	}
}
