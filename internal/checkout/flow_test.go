package checkout

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-bizops/internal/apiclient"
	"github.com/noah-isme/backend-bizops/internal/pricing"
)

func cartSession() *Session {
	return &Session{
		ID:   "s1",
		Step: StepCart,
		Items: []pricing.LineItem{
			{ProductID: "a", Name: "Widget", SalePrice: decimal.NewFromInt(100), CGST: decimal.NewFromInt(9), SGST: decimal.NewFromInt(9)},
		},
		Selections: pricing.SelectionMap{},
	}
}

func TestAdvanceRequiresSelection(t *testing.T) {
	sess := cartSession()
	err := sess.Advance()
	require.ErrorIs(t, err, ErrInvalidStep)
	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	require.Equal(t, []string{"selections"}, stepErr.Missing)
	require.Equal(t, StepCart, sess.Step)

	sess.Selections["ghost"] = pricing.Selection{Quantity: 3}
	require.ErrorIs(t, sess.Advance(), ErrInvalidStep)

	sess.Selections["a"] = pricing.Selection{Quantity: 1}
	require.NoError(t, sess.Advance())
	require.Equal(t, StepAddress, sess.Step)
}

func TestAdvanceRequiresAddressFields(t *testing.T) {
	sess := cartSession()
	sess.Step = StepAddress
	sess.Address = apiclient.Address{Line: "12 Market Road", City: "Pune"}

	err := sess.Advance()
	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	require.Equal(t, []string{"address.state", "address.pin"}, stepErr.Missing)

	sess.Address.State = "MH"
	sess.Address.Pin = "411001"
	require.NoError(t, sess.Advance())
	require.Equal(t, StepPayment, sess.Step)

	require.ErrorIs(t, sess.Advance(), ErrInvalidStep)
}

func TestBack(t *testing.T) {
	sess := cartSession()
	sess.Step = StepPayment
	require.NoError(t, sess.Back())
	require.Equal(t, StepAddress, sess.Step)
	require.NoError(t, sess.Back())
	require.Equal(t, StepCart, sess.Step)
	require.ErrorIs(t, sess.Back(), ErrInvalidStep)
}

func TestSessionTotals(t *testing.T) {
	sess := cartSession()
	sess.Selections["a"] = pricing.Selection{Quantity: 2}
	totals := sess.Totals()
	require.True(t, decimal.NewFromInt(200).Equal(totals.TotalAmount))
	require.True(t, decimal.NewFromInt(36).Equal(totals.TaxAmount))
	require.True(t, decimal.NewFromInt(164).Equal(totals.Subtotal))
}
