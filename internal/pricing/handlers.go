package pricing

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-bizops/internal/common"
)

// QuoteRequest is the payload of POST /api/v1/pricing/quote.
type QuoteRequest struct {
	Items      []LineItem      `json:"items" validate:"required,min=1,dive"`
	Selections SelectionMap    `json:"selections"`
	Discount   DiscountConfig  `json:"discount"`
	Shipping   decimal.Decimal `json:"shipping"`
}

// QuoteResponse carries the computed totals and per-line breakdown.
type QuoteResponse struct {
	Totals OrderTotals `json:"totals"`
	Lines  []Line      `json:"lines"`
}

// Handler exposes the stateless pricing endpoint.
type Handler struct{}

// Quote handles POST /api/v1/pricing/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := req.Discount.Validate(); err != nil {
		common.WriteError(w, common.BadRequest("discount.mode must be manual or automatic"))
		return
	}
	common.Data(w, http.StatusOK, QuoteResponse{
		Totals: Compute(req.Items, req.Selections, req.Discount, req.Shipping),
		Lines:  Lines(req.Items, req.Selections, req.Discount),
	})
}
