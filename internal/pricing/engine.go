package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// DiscountType describes how a line item's configured discount is applied.
type DiscountType string

const (
	// DiscountPercentage applies the discount value as a percentage of the sale price.
	DiscountPercentage DiscountType = "percentage"
	// DiscountValue applies the discount value as a flat amount per unit.
	DiscountValue DiscountType = "value"
)

// DiscountMode selects between an operator-entered discount and per-item rules.
type DiscountMode string

const (
	ModeManual    DiscountMode = "manual"
	ModeAutomatic DiscountMode = "automatic"
)

// ErrUnknownDiscountMode is returned for modes other than manual, automatic or empty.
var ErrUnknownDiscountMode = errors.New("pricing: discount mode must be manual or automatic")

// Valid reports whether m is a known mode. Empty means automatic.
func (m DiscountMode) Valid() bool {
	return m == "" || m == ModeManual || m == ModeAutomatic
}

// perItem reports whether configured per-item discounts apply under m.
func (m DiscountMode) perItem() bool {
	return m == "" || m == ModeAutomatic
}

var hundred = decimal.NewFromInt(100)

// LineItem is one product entry of an order snapshot.
type LineItem struct {
	ProductID     string          `json:"productId" validate:"required"`
	Name          string          `json:"name"`
	SalePrice     decimal.Decimal `json:"salePrice"`
	PurchasePrice decimal.Decimal `json:"purchasePrice"`
	CGST          decimal.Decimal `json:"cgst"`
	SGST          decimal.Decimal `json:"sgst"`
	Cess          decimal.Decimal `json:"cess"`
	DiscountValue decimal.Decimal `json:"discountValue"`
	DiscountType  DiscountType    `json:"discountType,omitempty"`
	OfferName     string          `json:"offerName,omitempty"`
	PackSize      int             `json:"packSize,omitempty"`
}

// TaxRate returns the combined tax percentage of the item.
func (it LineItem) TaxRate() decimal.Decimal {
	return it.CGST.Add(it.SGST).Add(it.Cess)
}

// Selection is the chosen quantity and optional sale price override for a product.
type Selection struct {
	Quantity  int64            `json:"quantity"`
	SalePrice *decimal.Decimal `json:"salePrice,omitempty"`
}

// SelectionMap keys selections by product identifier.
type SelectionMap map[string]Selection

// resolve returns the effective unit price and quantity for an item.
func (m SelectionMap) resolve(it LineItem) (decimal.Decimal, decimal.Decimal) {
	sel, ok := m[it.ProductID]
	if !ok {
		return it.SalePrice, decimal.Zero
	}
	price := it.SalePrice
	if sel.SalePrice != nil {
		price = *sel.SalePrice
	}
	qty := sel.Quantity
	if qty < 0 {
		qty = 0
	}
	return price, decimal.NewFromInt(qty)
}

// HasQuantity reports whether any selection carries a positive quantity.
func (m SelectionMap) HasQuantity() bool {
	for _, sel := range m {
		if sel.Quantity > 0 {
			return true
		}
	}
	return false
}

// DiscountConfig carries the discount inputs of an order.
type DiscountConfig struct {
	Mode        DiscountMode    `json:"mode"`
	ManualValue decimal.Decimal `json:"manualValue"`
	ActiveFlags map[string]bool `json:"activeFlags,omitempty"`
}

// Validate rejects unknown discount modes.
func (c DiscountConfig) Validate() error {
	if !c.Mode.Valid() {
		return ErrUnknownDiscountMode
	}
	return nil
}

// TotalAmount sums selected sale price times selected quantity over all items.
func TotalAmount(items []LineItem, selections SelectionMap) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		price, qty := selections.resolve(it)
		total = total.Add(price.Mul(qty))
	}
	return total
}

// TaxAmount sums the combined tax percentage of each item applied to its sale price and quantity.
func TaxAmount(items []LineItem, selections SelectionMap) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		price, qty := selections.resolve(it)
		total = total.Add(it.TaxRate().Mul(price).Mul(qty).Div(hundred))
	}
	return total
}

// Subtotal is the total amount less tax.
func Subtotal(items []LineItem, selections SelectionMap) decimal.Decimal {
	return TotalAmount(items, selections).Sub(TaxAmount(items, selections))
}

// Discount computes the order discount. Manual mode returns the manual value
// unchanged. Automatic mode (also used when mode is empty) sums configured
// per-item discounts times quantity, skipping items explicitly flagged inactive.
func Discount(items []LineItem, selections SelectionMap, mode DiscountMode, manualValue decimal.Decimal, activeFlags map[string]bool) decimal.Decimal {
	if mode == ModeManual {
		return manualValue
	}
	if !mode.perItem() {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, it := range items {
		if active, ok := activeFlags[it.ProductID]; ok && !active {
			continue
		}
		price, qty := selections.resolve(it)
		total = total.Add(unitDiscount(it, price).Mul(qty))
	}
	return total
}

func unitDiscount(it LineItem, price decimal.Decimal) decimal.Decimal {
	if it.DiscountValue.IsZero() {
		return decimal.Zero
	}
	switch it.DiscountType {
	case DiscountPercentage:
		return price.Mul(it.DiscountValue).Div(hundred)
	case DiscountValue:
		return it.DiscountValue
	default:
		return decimal.Zero
	}
}
