// Package cart holds the shopping cart state container: line items keyed by
// product id, quantity mutation and totals.
//
// State transitions are expressed as Intent values applied by the pure Reduce
// function; Store wraps Reduce with locking and persistence.
package cart

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/storefront-engine/internal/model"
)

// State is the persisted cart snapshot.
type State struct {
	Lines []model.CartLine `json:"lines" validate:"unique=ProductID,dive"`
}

// Validate rejects snapshots with duplicate products or empty lines.
func (s State) Validate() error { return model.Validate(s) }

// Intent is a requested cart transition.
type Intent interface {
	intentName() string
}

// AddItem adds Quantity units of Product. Quantity < 1 counts as 1.
type AddItem struct {
	Product  model.Product
	Quantity int
}

// RemoveItem deletes the line for ProductID.
type RemoveItem struct {
	ProductID int64
}

// SetQuantity overwrites a line's quantity; below 1 removes the line.
type SetQuantity struct {
	ProductID int64
	Quantity  int
}

// RemoveLines takes Lines out of the cart, subtracting each line's quantity
// from the matching cart line. Units added after Lines was read stay behind.
type RemoveLines struct {
	Lines []model.CartLine
}

// Clear empties the cart.
type Clear struct{}

func (AddItem) intentName() string     { return "add_item" }
func (RemoveItem) intentName() string  { return "remove_item" }
func (SetQuantity) intentName() string { return "set_quantity" }
func (RemoveLines) intentName() string { return "remove_lines" }
func (Clear) intentName() string       { return "clear" }

// Reduce returns the state that results from applying in to s.
// s is never modified.
func Reduce(s State, in Intent) State {
	switch in := in.(type) {
	case AddItem:
		qty := in.Quantity
		if qty < 1 {
			qty = 1
		}
		lines := cloneLines(s.Lines)
		if i := indexOf(lines, in.Product.ID); i >= 0 {
			// Existing line keeps its original price snapshot.
			lines[i].Quantity += qty
			return State{Lines: lines}
		}
		lines = append(lines, model.CartLine{
			ProductID: in.Product.ID,
			Name:      in.Product.Name,
			Price:     in.Product.Price,
			Quantity:  qty,
		})
		return State{Lines: lines}

	case RemoveItem:
		i := indexOf(s.Lines, in.ProductID)
		if i < 0 {
			return s
		}
		lines := make([]model.CartLine, 0, len(s.Lines)-1)
		lines = append(lines, s.Lines[:i]...)
		lines = append(lines, s.Lines[i+1:]...)
		return State{Lines: lines}

	case SetQuantity:
		if in.Quantity < 1 {
			return Reduce(s, RemoveItem{ProductID: in.ProductID})
		}
		i := indexOf(s.Lines, in.ProductID)
		if i < 0 {
			return s
		}
		lines := cloneLines(s.Lines)
		lines[i].Quantity = in.Quantity
		return State{Lines: lines}

	case RemoveLines:
		lines := cloneLines(s.Lines)
		for _, gone := range in.Lines {
			if i := indexOf(lines, gone.ProductID); i >= 0 {
				lines[i].Quantity -= gone.Quantity
			}
		}
		kept := lines[:0]
		for _, l := range lines {
			if l.Quantity > 0 {
				kept = append(kept, l)
			}
		}
		return State{Lines: kept}

	case Clear:
		return State{Lines: []model.CartLine{}}
	}
	return s
}

// TotalItems is the sum of quantities across all lines.
func (s State) TotalItems() int {
	n := 0
	for _, l := range s.Lines {
		n += l.Quantity
	}
	return n
}

// TotalPrice is Σ price × quantity using each line's snapshot price.
func (s State) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// Line returns the line for productID, if present.
func (s State) Line(productID int64) (model.CartLine, bool) {
	if i := indexOf(s.Lines, productID); i >= 0 {
		return s.Lines[i], true
	}
	return model.CartLine{}, false
}

func indexOf(lines []model.CartLine, productID int64) int {
	for i, l := range lines {
		if l.ProductID == productID {
			return i
		}
	}
	return -1
}

func cloneLines(lines []model.CartLine) []model.CartLine {
	out := make([]model.CartLine, len(lines))
	copy(out, lines)
	return out
}
