package options

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-bizops/internal/apiclient"
	"github.com/noah-isme/backend-bizops/internal/cache"
)

type fakeSource struct {
	calls int
	err   error
}

func (f *fakeSource) ListOptions(_ context.Context, kind apiclient.Kind) ([]apiclient.Option, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []apiclient.Option{{Value: "1", Label: string(kind) + "-one"}}, nil
}

func newService(t *testing.T, src Source) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &Service{Source: src, Cache: cache.NewJSON(client, time.Minute), Logger: zerolog.Nop()}, mr
}

func TestListReadsThroughCache(t *testing.T) {
	src := &fakeSource{}
	svc, mr := newService(t, src)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		opts, err := svc.List(ctx, apiclient.KindCustomers)
		require.NoError(t, err)
		require.Equal(t, "customers-one", opts[0].Label)
	}
	require.Equal(t, 1, src.calls)
	require.True(t, mr.Exists("bizops:default:options:customers"))

	require.NoError(t, svc.Invalidate(ctx, apiclient.KindCustomers))
	_, err := svc.List(ctx, apiclient.KindCustomers)
	require.NoError(t, err)
	require.Equal(t, 2, src.calls)
}

func TestHandler(t *testing.T) {
	svc, _ := newService(t, &fakeSource{})
	r := chi.NewRouter()
	r.Get("/options/{kind}", (&Handler{Svc: svc}).List)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/options/products", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"data":[{"value":"1","label":"products-one"}]}`, rr.Body.String())

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/options/batches", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerUpstreamFailure(t *testing.T) {
	svc, _ := newService(t, &fakeSource{err: &apiclient.Error{Op: "list_products", Status: 500, Message: "boom"}})
	r := chi.NewRouter()
	r.Get("/options/{kind}", (&Handler{Svc: svc}).List)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/options/products", nil))
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Contains(t, rr.Body.String(), "UPSTREAM_ERROR")
}
