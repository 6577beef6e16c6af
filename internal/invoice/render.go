package invoice

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-bizops/internal/obs"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("invoice").Funcs(template.FuncMap{
	"money":   formatMoney,
	"percent": formatPercent,
	"date":    formatDate,
	"words":   AmountInWords,
	"inc":     func(i int) int { return i + 1 },
}).ParseFS(templateFS, "templates/*.html.tmpl"))

// Render writes the HTML document of inv in the requested layout.
func Render(w io.Writer, variant Variant, inv Invoice) error {
	if variant != VariantShort && variant != VariantComprehensive {
		return fmt.Errorf("invoice: unknown variant %q", variant)
	}
	if err := templates.ExecuteTemplate(w, string(variant)+".html.tmpl", inv); err != nil {
		return err
	}
	obs.ObserveCounter(obs.InvoiceRenderTotal, string(variant), "html")
	return nil
}

func formatMoney(v decimal.Decimal) string {
	return v.StringFixed(2)
}

func formatPercent(v decimal.Decimal) string {
	return v.String() + "%"
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("02 Jan 2006")
}
