package pricing

import "github.com/shopspring/decimal"

// OrderTotals aggregates the derived amounts of an order. It is recomputed from
// inputs on every request and never persisted on its own.
type OrderTotals struct {
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	TaxAmount    decimal.Decimal `json:"taxAmount"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	Shipping     decimal.Decimal `json:"shipping"`
	GrandTotal   decimal.Decimal `json:"grandTotal"`
	RoundedTotal decimal.Decimal `json:"roundedTotal"`
	RoundOff     decimal.Decimal `json:"roundOff"`
	PurchaseCost decimal.Decimal `json:"purchaseCost"`
	Profit       decimal.Decimal `json:"profit"`
}

// Line is the per-item breakdown used by invoices.
type Line struct {
	ProductID  string          `json:"productId"`
	Name       string          `json:"name"`
	PackSize   int             `json:"packSize,omitempty"`
	Quantity   int64           `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Amount     decimal.Decimal `json:"amount"`
	CGSTRate   decimal.Decimal `json:"cgstRate"`
	SGSTRate   decimal.Decimal `json:"sgstRate"`
	CessRate   decimal.Decimal `json:"cessRate"`
	CGSTAmount decimal.Decimal `json:"cgstAmount"`
	SGSTAmount decimal.Decimal `json:"sgstAmount"`
	CessAmount decimal.Decimal `json:"cessAmount"`
	TaxAmount  decimal.Decimal `json:"taxAmount"`
	Taxable    decimal.Decimal `json:"taxable"`
	Discount   decimal.Decimal `json:"discount"`
	OfferName  string          `json:"offerName,omitempty"`
}

// Compute derives the full totals for an order.
func Compute(items []LineItem, selections SelectionMap, discount DiscountConfig, shipping decimal.Decimal) OrderTotals {
	total := TotalAmount(items, selections)
	tax := TaxAmount(items, selections)
	disc := Discount(items, selections, discount.Mode, discount.ManualValue, discount.ActiveFlags)
	if shipping.IsNegative() {
		shipping = decimal.Zero
	}
	grand := total.Sub(disc).Add(shipping)
	rounded := grand.Round(0)

	cost := decimal.Zero
	for _, it := range items {
		_, qty := selections.resolve(it)
		cost = cost.Add(it.PurchasePrice.Mul(qty))
	}
	subtotal := total.Sub(tax)

	return OrderTotals{
		TotalAmount:  total,
		TaxAmount:    tax,
		Subtotal:     subtotal,
		Discount:     disc,
		Shipping:     shipping,
		GrandTotal:   grand,
		RoundedTotal: rounded,
		RoundOff:     rounded.Sub(grand),
		PurchaseCost: cost,
		Profit:       subtotal.Sub(disc).Sub(cost),
	}
}

// Lines returns the breakdown for every item with a positive selected quantity,
// in item order.
func Lines(items []LineItem, selections SelectionMap, discount DiscountConfig) []Line {
	out := make([]Line, 0, len(items))
	for _, it := range items {
		price, qty := selections.resolve(it)
		if !qty.IsPositive() {
			continue
		}
		amount := price.Mul(qty)
		cgst := it.CGST.Mul(amount).Div(hundred)
		sgst := it.SGST.Mul(amount).Div(hundred)
		cess := it.Cess.Mul(amount).Div(hundred)
		tax := cgst.Add(sgst).Add(cess)

		lineDiscount := decimal.Zero
		if discount.Mode.perItem() {
			if active, ok := discount.ActiveFlags[it.ProductID]; !ok || active {
				lineDiscount = unitDiscount(it, price).Mul(qty)
			}
		}

		out = append(out, Line{
			ProductID:  it.ProductID,
			Name:       it.Name,
			PackSize:   it.PackSize,
			Quantity:   qty.IntPart(),
			UnitPrice:  price,
			Amount:     amount,
			CGSTRate:   it.CGST,
			SGSTRate:   it.SGST,
			CessRate:   it.Cess,
			CGSTAmount: cgst,
			SGSTAmount: sgst,
			CessAmount: cess,
			TaxAmount:  tax,
			Taxable:    amount.Sub(tax),
			Discount:   lineDiscount,
			OfferName:  it.OfferName,
		})
	}
	return out
}
