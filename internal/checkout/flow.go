package checkout

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-bizops/internal/apiclient"
	"github.com/noah-isme/backend-bizops/internal/obs"
	"github.com/noah-isme/backend-bizops/internal/payment"
	"github.com/noah-isme/backend-bizops/internal/pricing"
)

// Step is a stage of the checkout flow.
type Step string

const (
	StepCart    Step = "cart"
	StepAddress Step = "address"
	StepPayment Step = "payment"
)

var steps = []Step{StepCart, StepAddress, StepPayment}

// ErrInvalidStep is returned for transitions the flow does not allow.
var ErrInvalidStep = errors.New("checkout: invalid step")

// StepError explains why a transition was refused.
type StepError struct {
	From    Step
	To      Step
	Missing []string
}

func (e *StepError) Error() string {
	msg := "cannot move from " + string(e.From)
	if e.To != "" {
		msg += " to " + string(e.To)
	}
	if len(e.Missing) > 0 {
		msg += ": missing " + strings.Join(e.Missing, ", ")
	}
	return msg
}

// Is makes StepError match ErrInvalidStep.
func (e *StepError) Is(target error) bool { return target == ErrInvalidStep }

// PaymentInput is the payment choice captured at the Payment step.
type PaymentInput struct {
	Method    payment.Method `json:"method,omitempty"`
	Reference string         `json:"reference,omitempty"`
}

// Session is the server-held view-model of one checkout.
type Session struct {
	ID          string                 `json:"id"`
	Step        Step                   `json:"step"`
	Customer    apiclient.Customer     `json:"customer"`
	WarehouseID string                 `json:"warehouseId,omitempty"`
	Items       []pricing.LineItem     `json:"items"`
	Selections  pricing.SelectionMap   `json:"selections"`
	Discount    pricing.DiscountConfig `json:"discount"`
	Shipping    decimal.Decimal        `json:"shipping"`
	Address     apiclient.Address      `json:"address"`
	Payment     PaymentInput           `json:"payment"`
	Notes       string                 `json:"notes,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// Totals recomputes the order totals from the current inputs.
func (s *Session) Totals() pricing.OrderTotals {
	return pricing.Compute(s.Items, s.Selections, s.Discount, s.Shipping)
}

// Advance moves to the next step after the shallow checks of the current one.
func (s *Session) Advance() error {
	i := stepIndex(s.Step)
	if i < 0 || i == len(steps)-1 {
		return &StepError{From: s.Step}
	}
	next := steps[i+1]
	if missing := s.missing(s.Step); len(missing) > 0 {
		return &StepError{From: s.Step, To: next, Missing: missing}
	}
	obs.ObserveCounter(obs.CheckoutStepTotal, string(s.Step), string(next))
	s.Step = next
	return nil
}

// Back moves one step backwards. It fails at the first step.
func (s *Session) Back() error {
	i := stepIndex(s.Step)
	if i <= 0 {
		return &StepError{From: s.Step}
	}
	prev := steps[i-1]
	obs.ObserveCounter(obs.CheckoutStepTotal, string(s.Step), string(prev))
	s.Step = prev
	return nil
}

// missing lists the required fields of step that are not filled in.
func (s *Session) missing(step Step) []string {
	var out []string
	switch step {
	case StepCart:
		if !s.hasSelectedItem() {
			out = append(out, "selections")
		}
	case StepAddress:
		for _, f := range []struct{ name, value string }{
			{"address.line", s.Address.Line},
			{"address.city", s.Address.City},
			{"address.state", s.Address.State},
			{"address.pin", s.Address.Pin},
		} {
			if strings.TrimSpace(f.value) == "" {
				out = append(out, f.name)
			}
		}
	case StepPayment:
		if s.Payment.Method == "" {
			out = append(out, "payment.method")
		}
	}
	return out
}

// hasSelectedItem reports whether any listed item carries a positive quantity.
func (s *Session) hasSelectedItem() bool {
	for _, it := range s.Items {
		if sel, ok := s.Selections[it.ProductID]; ok && sel.Quantity > 0 {
			return true
		}
	}
	return false
}

func stepIndex(step Step) int {
	for i, s := range steps {
		if s == step {
			return i
		}
	}
	return -1
}
