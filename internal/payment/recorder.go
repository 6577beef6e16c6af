package payment

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-bizops/internal/apiclient"
	"github.com/noah-isme/backend-bizops/internal/obs"
)

// APIRecorder posts payment records to the business API.
type APIRecorder struct {
	Client *apiclient.Client
	Logger zerolog.Logger
	Now    func() time.Time
}

// Record posts rec and returns the upstream payment id.
func (r APIRecorder) Record(ctx context.Context, rec Record) (string, error) {
	if rec.PaidAt.IsZero() {
		rec.PaidAt = r.now()
	}
	resp, err := r.Client.CreatePayment(ctx, apiclient.PaymentRequest{
		OrderID:   rec.OrderID,
		Amount:    rec.Amount,
		Method:    string(rec.Method),
		Reference: rec.Reference,
		PaidAt:    rec.PaidAt.UTC(),
	})
	if err != nil {
		obs.ObserveCounter(obs.PaymentRecordTotal, string(rec.Method), "error")
		return "", err
	}
	obs.ObserveCounter(obs.PaymentRecordTotal, string(rec.Method), "ok")
	r.Logger.Info().Str("order_id", rec.OrderID).Str("payment_id", resp.ID).Str("method", string(rec.Method)).Msg("payment recorded")
	return resp.ID, nil
}

func (r APIRecorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
