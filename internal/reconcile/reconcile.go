// Package reconcile compares cart snapshots taken at different points of a
// checkout. The cart can change in another tab while the buyer fills in the
// form, so the session re-reads it before payment and reports the delta.
package reconcile

import (
	"strconv"

	"github.com/shopspring/decimal"

	"storefront-checkout/internal/model"
)

// LineDiff describes how the cart moved between two snapshots.
type LineDiff struct {
	Added   []model.CartLine `json:"added,omitempty"`   // Lines in after but not before
	Removed []model.CartLine `json:"removed,omitempty"` // Lines in before but not after
	Changed []LineChange     `json:"changed,omitempty"` // Lines in both with a different quantity or price
}

// LineChange is a line present in both snapshots whose quantity or unit
// price moved.
type LineChange struct {
	ProductID   int             `json:"product_id"`
	VariationID int             `json:"variation_id,omitempty"`
	Name        string          `json:"name,omitempty"`
	OldQuantity int             `json:"old_quantity"`
	NewQuantity int             `json:"new_quantity"`
	OldPrice    decimal.Decimal `json:"old_unit_price"`
	NewPrice    decimal.Decimal `json:"new_unit_price"`
}

// IsEmpty returns true if the snapshots hold the same lines.
func (d *LineDiff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// SubtotalDelta returns after minus before for the lines in the diff.
func (d *LineDiff) SubtotalDelta() decimal.Decimal {
	delta := model.Subtotal(d.Added).Sub(model.Subtotal(d.Removed))
	for _, c := range d.Changed {
		oldTotal := c.OldPrice.Mul(decimal.NewFromInt(int64(c.OldQuantity)))
		newTotal := c.NewPrice.Mul(decimal.NewFromInt(int64(c.NewQuantity)))
		delta = delta.Add(newTotal.Sub(oldTotal))
	}
	return delta
}

// DiffLines computes the delta between two cart snapshots.
// Lines match on product and variation; output follows the input order.
//
// Algorithm:
//  1. Index before by key
//  2. Walk after: unknown key → added; known key with different qty or price → changed
//  3. Walk before: key missing from after → removed
func DiffLines(before, after []model.CartLine) *LineDiff {
	diff := &LineDiff{}

	beforeByKey := make(map[string]model.CartLine, len(before))
	for _, l := range before {
		beforeByKey[lineKey(l)] = l
	}
	afterKeys := make(map[string]bool, len(after))

	for _, l := range after {
		key := lineKey(l)
		afterKeys[key] = true

		old, exists := beforeByKey[key]
		if !exists {
			diff.Added = append(diff.Added, l)
			continue
		}
		if old.Quantity != l.Quantity || !old.UnitPrice.Equal(l.UnitPrice) {
			diff.Changed = append(diff.Changed, LineChange{
				ProductID:   l.ProductID,
				VariationID: l.VariationID,
				Name:        l.Name,
				OldQuantity: old.Quantity,
				NewQuantity: l.Quantity,
				OldPrice:    old.UnitPrice,
				NewPrice:    l.UnitPrice,
			})
		}
	}

	for _, l := range before {
		if !afterKeys[lineKey(l)] {
			diff.Removed = append(diff.Removed, l)
		}
	}

	return diff
}

// lineKey uses the product ID alone, or product:variation for variants.
func lineKey(l model.CartLine) string {
	if l.VariationID == 0 {
		return strconv.Itoa(l.ProductID)
	}
	return strconv.Itoa(l.ProductID) + ":" + strconv.Itoa(l.VariationID)
}
