package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Method is the payment instrument chosen at checkout.
type Method string

const (
	MethodCash         Method = "cash"
	MethodCard         Method = "card"
	MethodUPI          Method = "upi"
	MethodBankTransfer Method = "bank_transfer"
	MethodCredit       Method = "credit"
)

// Methods lists the accepted payment methods in display order.
var Methods = []Method{MethodCash, MethodCard, MethodUPI, MethodBankTransfer, MethodCredit}

// ErrUnknownMethod is returned for payment methods outside Methods.
var ErrUnknownMethod = errors.New("payment: unknown method")

// ParseMethod normalises a user supplied method name.
func ParseMethod(value string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Methods {
		if m == known {
			return m, nil
		}
	}
	return "", ErrUnknownMethod
}

// Record is a payment made against an order.
type Record struct {
	OrderID   string          `json:"orderId" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Method    Method          `json:"method" validate:"required,oneof=cash card upi bank_transfer credit"`
	Reference string          `json:"reference,omitempty" validate:"max=128"`
	PaidAt    time.Time       `json:"paidAt"`
}

// Recorder persists payment records with the system of record.
type Recorder interface {
	Record(ctx context.Context, rec Record) (string, error)
}
