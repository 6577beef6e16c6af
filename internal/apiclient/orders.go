package apiclient

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-bizops/internal/pricing"
)

// Address is a postal address as accepted by the business API.
type Address struct {
	Line    string `json:"line"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pin     string `json:"pin"`
	Country string `json:"country,omitempty"`
}

// Customer identifies the buyer of an order.
type Customer struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
	GSTIN string `json:"gstin,omitempty"`
}

// OrderItem is one line of the submitted order.
type OrderItem struct {
	ProductID     string          `json:"productId"`
	Name          string          `json:"name"`
	Quantity      int64           `json:"quantity"`
	SalePrice     decimal.Decimal `json:"salePrice"`
	PurchasePrice decimal.Decimal `json:"purchasePrice"`
	CGST          decimal.Decimal `json:"cgst"`
	SGST          decimal.Decimal `json:"sgst"`
	Cess          decimal.Decimal `json:"cess"`
	Discount      decimal.Decimal `json:"discount"`
	OfferName     string          `json:"offerName,omitempty"`
}

// OrderRequest is the assembled order object posted at checkout.
type OrderRequest struct {
	Customer      Customer             `json:"customer"`
	Address       Address              `json:"address"`
	WarehouseID   string               `json:"warehouseId,omitempty"`
	Items         []OrderItem          `json:"items"`
	DiscountMode  pricing.DiscountMode `json:"discountMode"`
	Totals        pricing.OrderTotals  `json:"totals"`
	PaymentMethod string               `json:"paymentMethod"`
	InvoiceNumber string               `json:"invoiceNumber"`
	Notes         string               `json:"notes,omitempty"`
	PlacedAt      time.Time            `json:"placedAt"`
}

// OrderResponse is the business API's acknowledgement of a created order.
type OrderResponse struct {
	ID     string `json:"id"`
	Number string `json:"number,omitempty"`
	Status string `json:"status,omitempty"`
}

// CreateOrder posts an order to the order-creation endpoint. The request is
// sent once; a failure is never retried because the upstream may have
// committed the order. An acknowledgement without an id or number is treated
// as an upstream error.
func (c *Client) CreateOrder(ctx context.Context, order OrderRequest) (OrderResponse, error) {
	var out OrderResponse
	if err := c.do(ctx, "create_order", http.MethodPost, "/orders", order, &out); err != nil {
		return OrderResponse{}, err
	}
	if out.ID == "" {
		out.ID = out.Number
	}
	if out.ID == "" {
		c.Logger.Error().Str("invoice", order.InvoiceNumber).Msg("order acknowledged without an id")
		return OrderResponse{}, &Error{Op: "create_order", Status: http.StatusBadGateway, Message: "order acknowledged without an id"}
	}
	return out, nil
}
