package invoice

import (
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-bizops/internal/obs"
)

var (
	small     = props.Text{Size: 8}
	smallNum  = props.Text{Size: 8, Align: align.Right}
	headLeft  = props.Text{Size: 8, Style: fontstyle.Bold}
	headRight = props.Text{Size: 8, Style: fontstyle.Bold, Align: align.Right}
)

// RenderPDF returns the comprehensive layout of inv as a PDF document.
func RenderPDF(inv Invoice) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(8, "Tax Invoice", props.Text{Size: 18, Style: fontstyle.Bold}),
		text.NewCol(4, inv.Number, props.Text{Size: 12, Style: fontstyle.Bold, Align: align.Right}),
	)
	m.AddRow(8,
		text.NewCol(8, "Date: "+formatDate(inv.IssuedAt), small),
		text.NewCol(4, orderLabel(inv.OrderID), smallNum),
	)

	org := inv.Organization
	addr := inv.Address
	m.AddRow(30,
		col.New(6).Add(
			text.New(org.Name, props.Text{Size: 10, Style: fontstyle.Bold}),
			text.New(org.Address, props.Text{Size: 8, Top: 5}),
			text.New(labelled("GSTIN", org.GSTIN), props.Text{Size: 8, Top: 14}),
			text.New(joinNonEmpty(org.Phone, org.Email), props.Text{Size: 8, Top: 19}),
		),
		col.New(6).Add(
			text.New("Bill to", props.Text{Size: 8, Style: fontstyle.Bold}),
			text.New(inv.Customer.Name, props.Text{Size: 10, Top: 4}),
			text.New(joinNonEmpty(addr.Line, addr.Line2), props.Text{Size: 8, Top: 10}),
			text.New(joinNonEmpty(addr.City, addr.State, addr.Pin), props.Text{Size: 8, Top: 14}),
			text.New(labelled("GSTIN", inv.Customer.GSTIN), props.Text{Size: 8, Top: 19}),
		),
	)

	m.AddRow(8,
		text.NewCol(3, "Item", headLeft),
		text.NewCol(1, "Qty", headRight),
		text.NewCol(1, "Rate", headRight),
		text.NewCol(2, "Taxable", headRight),
		text.NewCol(1, "CGST", headRight),
		text.NewCol(1, "SGST", headRight),
		text.NewCol(1, "Cess", headRight),
		text.NewCol(2, "Amount", headRight),
	)
	for _, l := range inv.Lines {
		m.AddRow(7,
			text.NewCol(3, l.Name, small),
			text.NewCol(1, fmt.Sprintf("%d", l.Quantity), smallNum),
			text.NewCol(1, formatMoney(l.UnitPrice), smallNum),
			text.NewCol(2, formatMoney(l.Taxable), smallNum),
			text.NewCol(1, formatMoney(l.CGSTAmount), smallNum),
			text.NewCol(1, formatMoney(l.SGSTAmount), smallNum),
			text.NewCol(1, formatMoney(l.CessAmount), smallNum),
			text.NewCol(2, formatMoney(l.Amount), smallNum),
		)
	}

	m.AddRow(8, text.NewCol(12, "Tax summary", props.Text{Size: 9, Style: fontstyle.Bold, Top: 3}))
	for _, ts := range inv.TaxSummaries() {
		m.AddRow(6,
			text.NewCol(3, formatPercent(ts.Rate), small),
			text.NewCol(3, formatMoney(ts.Taxable), smallNum),
			text.NewCol(2, formatMoney(ts.CGST), smallNum),
			text.NewCol(2, formatMoney(ts.SGST), smallNum),
			text.NewCol(2, formatMoney(ts.Cess), smallNum),
		)
	}

	t := inv.Totals
	totals := []struct {
		label string
		value decimal.Decimal
	}{
		{"Total", t.TotalAmount},
		{"Tax", t.TaxAmount},
		{"Discount", t.Discount.Neg()},
		{"Shipping", t.Shipping},
		{"Grand total", t.GrandTotal},
		{"Round off", t.RoundOff},
	}
	for _, row := range totals {
		m.AddRow(6,
			col.New(8),
			text.NewCol(2, row.label, small),
			text.NewCol(2, formatMoney(row.value), smallNum),
		)
	}
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Payable "+inv.Currency, headLeft),
		text.NewCol(2, formatMoney(t.RoundedTotal), headRight),
	)
	m.AddRow(10, text.NewCol(12, AmountInWords(t.RoundedTotal), props.Text{Size: 9, Style: fontstyle.Italic, Top: 3}))

	if b := org.Bank; b.Account != "" {
		m.AddRow(16, col.New(12).Add(
			text.New("Bank details", props.Text{Size: 8, Style: fontstyle.Bold}),
			text.New(joinNonEmpty(b.Name, b.Branch), props.Text{Size: 8, Top: 4}),
			text.New("A/C "+b.Account+"  IFSC "+b.IFSC, props.Text{Size: 8, Top: 8}),
		))
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	obs.ObserveCounter(obs.InvoiceRenderTotal, string(VariantComprehensive), "pdf")
	return doc.GetBytes(), nil
}

func orderLabel(id string) string {
	if id == "" {
		return ""
	}
	return "Order: " + id
}

func labelled(label, value string) string {
	if value == "" {
		return ""
	}
	return label + " " + value
}

func joinNonEmpty(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += p
	}
	return out
}
