package invoice

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-bizops/internal/pricing"
)

// Variant selects an invoice layout.
type Variant string

const (
	VariantShort         Variant = "short"
	VariantComprehensive Variant = "comprehensive"
)

// ParseVariant returns the variant named by s, falling back to def when s is empty.
func ParseVariant(s string, def Variant) (Variant, bool) {
	switch Variant(s) {
	case "":
		return def, def == VariantShort || def == VariantComprehensive
	case VariantShort, VariantComprehensive:
		return Variant(s), true
	}
	return "", false
}

// Bank holds remittance details.
type Bank struct {
	Name    string `json:"name,omitempty"`
	Account string `json:"account,omitempty"`
	IFSC    string `json:"ifsc,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

// Organization is the seller block of an invoice.
type Organization struct {
	Name    string `json:"name"`
	GSTIN   string `json:"gstin,omitempty"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	LogoURL string `json:"logoUrl,omitempty"`
	Bank    Bank   `json:"bank"`
}

// Customer is the buyer block of an invoice.
type Customer struct {
	Name  string `json:"name" validate:"required"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
	GSTIN string `json:"gstin,omitempty"`
}

// Address is the billing address.
type Address struct {
	Line    string `json:"line"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pin     string `json:"pin"`
	Country string `json:"country,omitempty"`
}

// Payment records how the invoice was settled.
type Payment struct {
	Method    string `json:"method,omitempty"`
	Reference string `json:"reference,omitempty"`
	Recorded  bool   `json:"recorded"`
}

// Invoice is a frozen order snapshot. It is never mutated after Freeze.
type Invoice struct {
	Number       string              `json:"number"`
	IssuedAt     time.Time           `json:"issuedAt"`
	OrderID      string              `json:"orderId,omitempty"`
	Currency     string              `json:"currency"`
	Customer     Customer            `json:"customer"`
	Address      Address             `json:"address"`
	Lines        []pricing.Line      `json:"lines"`
	Totals       pricing.OrderTotals `json:"totals"`
	Organization Organization        `json:"organization"`
	Payment      Payment             `json:"payment"`
	Notes        string              `json:"notes,omitempty"`
}

// Draft carries the inputs an invoice is derived from.
type Draft struct {
	OrderID    string                 `json:"orderId,omitempty"`
	Customer   Customer               `json:"customer" validate:"required"`
	Address    Address                `json:"address"`
	Items      []pricing.LineItem     `json:"items" validate:"required,min=1,dive"`
	Selections pricing.SelectionMap   `json:"selections"`
	Discount   pricing.DiscountConfig `json:"discount"`
	Shipping   decimal.Decimal        `json:"shipping"`
	Payment    Payment                `json:"payment"`
	Notes      string                 `json:"notes,omitempty"`
}

// Freeze computes lines and totals from d and returns the snapshot.
func Freeze(number string, issuedAt time.Time, currency string, org Organization, d Draft) Invoice {
	return Invoice{
		Number:       number,
		IssuedAt:     issuedAt.UTC(),
		OrderID:      d.OrderID,
		Currency:     currency,
		Customer:     d.Customer,
		Address:      d.Address,
		Lines:        pricing.Lines(d.Items, d.Selections, d.Discount),
		Totals:       pricing.Compute(d.Items, d.Selections, d.Discount, d.Shipping),
		Organization: org,
		Payment:      d.Payment,
		Notes:        d.Notes,
	}
}

// TaxSummary groups line taxes by combined rate.
type TaxSummary struct {
	Rate    decimal.Decimal
	Taxable decimal.Decimal
	CGST    decimal.Decimal
	SGST    decimal.Decimal
	Cess    decimal.Decimal
	Total   decimal.Decimal
}

// TaxSummaries returns one row per distinct combined tax rate in line order.
func (inv Invoice) TaxSummaries() []TaxSummary {
	var out []TaxSummary
	index := map[string]int{}
	for _, l := range inv.Lines {
		rate := l.CGSTRate.Add(l.SGSTRate).Add(l.CessRate)
		key := rate.String()
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, TaxSummary{Rate: rate})
		}
		row := &out[i]
		row.Taxable = row.Taxable.Add(l.Taxable)
		row.CGST = row.CGST.Add(l.CGSTAmount)
		row.SGST = row.SGST.Add(l.SGSTAmount)
		row.Cess = row.Cess.Add(l.CessAmount)
		row.Total = row.Total.Add(l.TaxAmount)
	}
	return out
}
