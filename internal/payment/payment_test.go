package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubRecorder struct {
	got Record
	err error
}

func (s *stubRecorder) Record(_ context.Context, rec Record) (string, error) {
	s.got = rec
	return "pay-1", s.err
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod(" UPI ")
	require.NoError(t, err)
	require.Equal(t, MethodUPI, m)

	_, err = ParseMethod("cheque")
	require.ErrorIs(t, err, ErrUnknownMethod)
}

func TestCreateRecordsPayment(t *testing.T) {
	rec := &stubRecorder{}
	h := &Handler{Recorder: rec}
	body := `{"orderId":"ord-1","amount":"250.50","method":"card","reference":"txn-9"}`
	rr := httptest.NewRecorder()
	h.Create(rr, httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "ord-1", rec.got.OrderID)
	require.Equal(t, "250.5", rec.got.Amount.String())
	require.Equal(t, MethodCard, rec.got.Method)
}

func TestCreateValidates(t *testing.T) {
	h := &Handler{Recorder: &stubRecorder{}}
	cases := []string{
		`{"orderId":"ord-1","amount":"10","method":"cheque"}`,
		`{"amount":"10","method":"cash"}`,
		`{"orderId":"ord-1","amount":"0","method":"cash"}`,
	}
	for _, body := range cases {
		rr := httptest.NewRecorder()
		h.Create(rr, httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, rr.Code, body)
		require.Contains(t, rr.Body.String(), "VALIDATION_ERROR")
	}
}

func TestCreateSurfacesUpstreamFailure(t *testing.T) {
	h := &Handler{Recorder: &stubRecorder{err: errors.New("dial tcp: refused")}}
	rr := httptest.NewRecorder()
	h.Create(rr, httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"orderId":"o","amount":"1","method":"cash"}`)))
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Contains(t, rr.Body.String(), "UPSTREAM_ERROR")
}
