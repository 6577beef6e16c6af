package apiclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-bizops/internal/apiclient"
	"github.com/noah-isme/backend-bizops/internal/common"
	"github.com/noah-isme/backend-bizops/internal/resilience"
)

func newClient(t *testing.T, h http.HandlerFunc) *apiclient.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return apiclient.New(srv.URL+"/", "secret", resilience.HTTPClient{
		Client:      srv.Client(),
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
	}, zerolog.Nop())
}

func TestCreateOrderSendsAuthAndDecodesEnvelope(t *testing.T) {
	cl := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/orders", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Equal(t, "shop-1", r.Header.Get("X-Client-ID"))

		var order apiclient.OrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&order))
		require.Len(t, order.Items, 1)
		require.Equal(t, "cash", order.PaymentMethod)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"ord-9","status":"created"}}`))
	})

	ctx := common.WithClientID(context.Background(), "shop-1")
	out, err := cl.CreateOrder(ctx, apiclient.OrderRequest{
		Items:         []apiclient.OrderItem{{ProductID: "p1", Quantity: 2, SalePrice: decimal.NewFromInt(10)}},
		PaymentMethod: "cash",
	})
	require.NoError(t, err)
	require.Equal(t, "ord-9", out.ID)
}

func TestCreatePaymentBareResponse(t *testing.T) {
	cl := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/payments", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"pay-1"}`))
	})
	out, err := cl.CreatePayment(context.Background(), apiclient.PaymentRequest{OrderID: "ord-9", Amount: decimal.NewFromInt(5), Method: "upi"})
	require.NoError(t, err)
	require.Equal(t, "pay-1", out.ID)
}

func TestNon2xxBecomesError(t *testing.T) {
	cl := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"message":"customer is blocked"}}`))
	})
	_, err := cl.CreateOrder(context.Background(), apiclient.OrderRequest{})

	var apiErr *apiclient.Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	require.Equal(t, "customer is blocked", apiErr.Message)
	require.Equal(t, http.StatusUnprocessableEntity, apiclient.StatusOf(err))

	appErr := apiclient.AppError(err)
	require.Equal(t, "UPSTREAM_ERROR", appErr.Code)
	require.Equal(t, http.StatusBadGateway, appErr.HTTPStatus)
}

func TestServerErrorsAreRetriedThenReported(t *testing.T) {
	calls := 0
	cl := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	})
	_, err := cl.OrganizationProfile(context.Background())
	require.Equal(t, 2, calls)
	require.Equal(t, http.StatusServiceUnavailable, apiclient.StatusOf(err))
}

func TestOrderAndPaymentPostsAreNotRetried(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		first := hits[r.URL.Path] == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"second"}`))
	}))
	t.Cleanup(srv.Close)
	cl := apiclient.New(srv.URL, "", resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 3, BaseBackoff: time.Millisecond}, zerolog.Nop())
	ctx := context.Background()

	_, err := cl.CreateOrder(ctx, apiclient.OrderRequest{InvoiceNumber: "INV-1"})
	require.Equal(t, http.StatusBadGateway, apiclient.StatusOf(err))
	_, err = cl.CreatePayment(ctx, apiclient.PaymentRequest{OrderID: "ord-1"})
	require.Equal(t, http.StatusBadGateway, apiclient.StatusOf(err))
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, map[string]int{"/orders": 1, "/payments": 1}, hits)
}

func TestCreateOrderWithoutIDIsUpstreamError(t *testing.T) {
	cl := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"status":"created"}}`))
	})
	_, err := cl.CreateOrder(context.Background(), apiclient.OrderRequest{})
	require.Equal(t, http.StatusBadGateway, apiclient.StatusOf(err))
	require.Equal(t, "UPSTREAM_ERROR", apiclient.AppError(err).Code)
}

func TestNotFoundMapsToNotFound(t *testing.T) {
	cl := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"no profile"}`))
	})
	_, err := cl.OrganizationProfile(context.Background())
	require.Equal(t, "NOT_FOUND", apiclient.AppError(err).Code)
}

func TestListOptions(t *testing.T) {
	cl := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/warehouses/options", r.URL.Path)
		_, _ = w.Write([]byte(`[{"_id":"w1","name":"Main"},{"id":7,"title":"Overflow"},{"name":"orphan"}]`))
	})
	opts, err := cl.ListOptions(context.Background(), apiclient.KindWarehouses)
	require.NoError(t, err)
	require.Len(t, opts, 2)
	require.Equal(t, "w1", opts[0].Value)
	require.Equal(t, "Main", opts[0].Label)
	require.Equal(t, "7", opts[1].Value)
	require.Equal(t, "Overflow", opts[1].Label)
}

func TestListOptionsRejectsUnknownKind(t *testing.T) {
	cl := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected call")
	})
	_, err := cl.ListOptions(context.Background(), apiclient.Kind("batches"))
	require.Error(t, err)
}
