package domain

import (
	"fmt"
	"math"
)

// SaleStatus describes where a sale record sits in the quote lifecycle.
type SaleStatus string

const (
	// SaleStatusQuote is a saved cart with no stock or ledger effect.
	SaleStatusQuote SaleStatus = "quote"
	// SaleStatusCompleted has decremented stock and billed its service orders.
	SaleStatusCompleted SaleStatus = "completed"
	// SaleStatusRefunded has had every side effect of the completed sale reversed.
	SaleStatusRefunded SaleStatus = "refunded"
)

func (s SaleStatus) Valid() bool {
	switch s {
	case SaleStatusQuote, SaleStatusCompleted, SaleStatusRefunded:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a persisted sale may move from one status to
// another. Re-saving a quote as a quote is allowed; nothing leaves refunded.
func CanTransition(from SaleStatus, to SaleStatus) bool {
	switch from {
	case SaleStatusQuote:
		return to == SaleStatusQuote || to == SaleStatusCompleted
	case SaleStatusCompleted:
		return to == SaleStatusRefunded
	case SaleStatusRefunded:
		return false
	default:
		return false
	}
}

// ComputeTotals applies the discount once to the sum of line totals. The
// discount amount never exceeds the subtotal so the total is never negative.
func ComputeTotals(lines []CartLine, discount DiscountSpec) Totals {
	subtotal := int64(0)
	for _, line := range lines {
		subtotal += line.TotalCents()
	}

	amount := DiscountAmount(subtotal, discount)
	return Totals{
		SubtotalCents: subtotal,
		DiscountCents: amount,
		TotalCents:    subtotal - amount,
	}
}

func DiscountAmount(subtotalCents int64, discount DiscountSpec) int64 {
	if subtotalCents <= 0 || discount.Value <= 0 {
		return 0
	}

	var raw float64
	switch discount.Mode {
	case DiscountPercent:
		raw = float64(subtotalCents) * discount.Value / 100
	case DiscountFixed:
		raw = discount.Value
	}
	// Compare before converting: float64 to int64 overflows for huge values.
	if math.IsNaN(raw) || raw <= 0 {
		return 0
	}
	if raw >= float64(subtotalCents) {
		return subtotalCents
	}
	amount := int64(math.Round(raw))
	if amount > subtotalCents {
		return subtotalCents
	}
	return amount
}

// Validate checks the money invariants of a sale record before it is written.
func (s Sale) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: sale id is required", ErrInvalidRequest)
	}
	if !s.Status.Valid() {
		return fmt.Errorf("%w: unknown sale status %q", ErrInvalidRequest, s.Status)
	}
	if len(s.Lines) == 0 {
		return ErrEmptyCart
	}

	subtotal := int64(0)
	for _, line := range s.Lines {
		if line.Qty < 1 {
			return fmt.Errorf("%w: line %s has qty %d", ErrInvalidRequest, line.ID, line.Qty)
		}
		if line.Kind == LineKindServiceOrder && line.Qty != 1 {
			return fmt.Errorf("%w: service order line %s must have qty 1", ErrInvalidRequest, line.ID)
		}
		if line.LineTotalCents != line.TotalCents() {
			return fmt.Errorf("%w: line %s total mismatch", ErrInvalidRequest, line.ID)
		}
		subtotal += line.LineTotalCents
	}
	if subtotal != s.SubtotalCents {
		return fmt.Errorf("%w: subtotal mismatch", ErrInvalidRequest)
	}

	discount := s.DiscountCents
	if discount > s.SubtotalCents {
		discount = s.SubtotalCents
	}
	if discount < 0 || s.TotalCents != s.SubtotalCents-discount {
		return fmt.Errorf("%w: total mismatch", ErrInvalidRequest)
	}
	return nil
}

// SnapshotLines freezes cart lines into sale lines.
func SnapshotLines(lines []CartLine) []SaleLine {
	out := make([]SaleLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, SaleLine{CartLine: line, LineTotalCents: line.TotalCents()})
	}
	return out
}

// CartLines returns the cart view of the sale lines.
func (s Sale) CartLines() []CartLine {
	out := make([]CartLine, 0, len(s.Lines))
	for _, line := range s.Lines {
		out = append(out, line.CartLine)
	}
	return out
}

func CloneSale(src Sale) Sale {
	dup := src
	dup.Lines = make([]SaleLine, len(src.Lines))
	copy(dup.Lines, src.Lines)
	if src.RefundedAt != nil {
		at := *src.RefundedAt
		dup.RefundedAt = &at
	}
	return dup
}
