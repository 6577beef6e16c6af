package apiclient

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRequest records a payment against an order.
type PaymentRequest struct {
	OrderID   string          `json:"orderId"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference string          `json:"reference,omitempty"`
	PaidAt    time.Time       `json:"paidAt"`
}

// PaymentResponse is the business API's acknowledgement of a payment record.
type PaymentResponse struct {
	ID string `json:"id"`
}

// CreatePayment posts a payment record to the payment endpoint.
func (c *Client) CreatePayment(ctx context.Context, payment PaymentRequest) (PaymentResponse, error) {
	var out PaymentResponse
	err := c.do(ctx, "create_payment", http.MethodPost, "/payments", payment, &out)
	return out, err
}
