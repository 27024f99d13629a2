// Package stock owns product stock levels and their movement trail.
// Stock is mutated here and nowhere else, and every mutation lands
// together with its movement row or not at all.
package stock

import "time"

// Direction of a stock movement.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Movement is one append-only audit record of a stock change.
type Movement struct {
	ID        int64
	ProductID int64
	VariantID *int64
	Direction Direction
	Quantity  int
	Reference string
	CreatedAt time.Time
}

// Level is the current stock position of a product or variant.
type Level struct {
	ProductID int64
	VariantID *int64
	Stock     int
	MinStock  int
}

// Below reports whether the level sits under its alert threshold.
func (l Level) Below() bool {
	return l.Stock < l.MinStock
}
