package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-bizops/internal/cache"
	"github.com/noah-isme/backend-bizops/internal/common"
)

// Invoice template variants.
const (
	TemplateShort         = "short"
	TemplateComprehensive = "comprehensive"
)

// Key names under the client namespace.
const (
	keyInvoiceTemplate   = "invoiceTemplate"
	keyInvoiceCount      = "invoiceCount"
	keyAnimationsEnabled = "animationsEnabled"
	keyWishlist          = "customerWishlist"
	keyOrders            = "customerOrders"
)

// DefaultOrdersLimit caps the cached recent orders list.
const DefaultOrdersLimit = 50

const maxTxRetries = 5

// ErrInvalidTemplate is returned when the invoice template preference is not a known variant.
var ErrInvalidTemplate = errors.New("prefs: invalid invoice template")

// Preferences are the per-client settings.
type Preferences struct {
	InvoiceTemplate   string `json:"invoiceTemplate"`
	InvoiceCount      int64  `json:"invoiceCount"`
	AnimationsEnabled bool   `json:"animationsEnabled"`
}

// Patch carries optional preference updates.
type Patch struct {
	InvoiceTemplate   *string `json:"invoiceTemplate,omitempty"`
	AnimationsEnabled *bool   `json:"animationsEnabled,omitempty"`
}

// OrderSummary is the cached view of a submitted order.
type OrderSummary struct {
	OrderID       string          `json:"orderId"`
	InvoiceNumber string          `json:"invoiceNumber"`
	CustomerName  string          `json:"customerName"`
	GrandTotal    decimal.Decimal `json:"grandTotal"`
	PaymentMethod string          `json:"paymentMethod"`
	PlacedAt      time.Time       `json:"placedAt"`
}

// Store keeps preferences and small client-side caches in Redis.
type Store struct {
	R           *redis.Client
	OrdersLimit int
}

// ValidTemplate reports whether v names an invoice variant.
func ValidTemplate(v string) bool {
	return v == TemplateShort || v == TemplateComprehensive
}

// Get returns the preferences of the client in ctx, applying defaults for unset keys.
func (s *Store) Get(ctx context.Context) (Preferences, error) {
	vals, err := s.R.MGet(ctx,
		cache.ClientKey(ctx, "prefs", keyInvoiceTemplate),
		cache.ClientKey(ctx, "prefs", keyInvoiceCount),
		cache.ClientKey(ctx, "prefs", keyAnimationsEnabled),
	).Result()
	if err != nil {
		return Preferences{}, err
	}
	out := Preferences{InvoiceTemplate: TemplateShort, AnimationsEnabled: true}
	if v, ok := vals[0].(string); ok && ValidTemplate(v) {
		out.InvoiceTemplate = v
	}
	if v, ok := vals[1].(string); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out.InvoiceCount = n
		}
	}
	if v, ok := vals[2].(string); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			out.AnimationsEnabled = b
		}
	}
	return out, nil
}

// Update applies patch and returns the resulting preferences.
func (s *Store) Update(ctx context.Context, patch Patch) (Preferences, error) {
	if patch.InvoiceTemplate != nil && !ValidTemplate(*patch.InvoiceTemplate) {
		return Preferences{}, ErrInvalidTemplate
	}
	_, err := s.R.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if patch.InvoiceTemplate != nil {
			pipe.Set(ctx, cache.ClientKey(ctx, "prefs", keyInvoiceTemplate), *patch.InvoiceTemplate, 0)
		}
		if patch.AnimationsEnabled != nil {
			pipe.Set(ctx, cache.ClientKey(ctx, "prefs", keyAnimationsEnabled), strconv.FormatBool(*patch.AnimationsEnabled), 0)
		}
		return nil
	})
	if err != nil {
		return Preferences{}, err
	}
	return s.Get(ctx)
}

// NextInvoiceCount atomically increments the client's invoice counter and returns the new value.
func (s *Store) NextInvoiceCount(ctx context.Context) (int64, error) {
	return s.R.Incr(ctx, cache.ClientKey(ctx, "prefs", keyInvoiceCount)).Result()
}

// Wishlist returns the product ids in the client's wishlist, oldest first.
func (s *Store) Wishlist(ctx context.Context) ([]string, error) {
	var ids []string
	if _, err := s.readJSON(ctx, s.R, cache.ClientKey(ctx, keyWishlist), &ids); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// AddToWishlist appends productID unless it is already present.
func (s *Store) AddToWishlist(ctx context.Context, productID string) ([]string, error) {
	var out []string
	err := s.mutateJSON(ctx, cache.ClientKey(ctx, keyWishlist), func(raw []byte) (any, error) {
		var ids []string
		if err := unmarshalOrEmpty(raw, &ids); err != nil {
			return nil, err
		}
		for _, id := range ids {
			if id == productID {
				out = ids
				return nil, nil
			}
		}
		out = append(ids, productID)
		return out, nil
	})
	return out, err
}

// RemoveFromWishlist drops productID from the wishlist if present.
func (s *Store) RemoveFromWishlist(ctx context.Context, productID string) ([]string, error) {
	out := []string{}
	err := s.mutateJSON(ctx, cache.ClientKey(ctx, keyWishlist), func(raw []byte) (any, error) {
		var ids []string
		if err := unmarshalOrEmpty(raw, &ids); err != nil {
			return nil, err
		}
		kept := make([]string, 0, len(ids))
		for _, id := range ids {
			if id != productID {
				kept = append(kept, id)
			}
		}
		out = kept
		return kept, nil
	})
	return out, err
}

// RecentOrders returns the cached order summaries, newest first.
func (s *Store) RecentOrders(ctx context.Context) ([]OrderSummary, error) {
	var orders []OrderSummary
	if _, err := s.readJSON(ctx, s.R, cache.ClientKey(ctx, keyOrders), &orders); err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []OrderSummary{}
	}
	return orders, nil
}

// AppendOrder prepends summary to the recent orders list and trims it to the limit.
func (s *Store) AppendOrder(ctx context.Context, summary OrderSummary) error {
	limit := s.OrdersLimit
	if limit <= 0 {
		limit = DefaultOrdersLimit
	}
	return s.mutateJSON(ctx, cache.ClientKey(ctx, keyOrders), func(raw []byte) (any, error) {
		var orders []OrderSummary
		if err := unmarshalOrEmpty(raw, &orders); err != nil {
			return nil, err
		}
		orders = append([]OrderSummary{summary}, orders...)
		if len(orders) > limit {
			orders = orders[:limit]
		}
		return orders, nil
	})
}

func (s *Store) readJSON(ctx context.Context, c redis.Cmdable, key string, dst any) (bool, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("prefs: decode %s: %w", key, err)
	}
	return true, nil
}

// mutateJSON runs fn under WATCH so concurrent writers to the same key retry
// instead of overwriting each other. A nil result from fn leaves the key untouched.
func (s *Store) mutateJSON(ctx context.Context, key string, fn func(raw []byte) (any, error)) error {
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		next, err := fn(raw)
		if err != nil || next == nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := s.R.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return common.NewAppError("CONFLICT", "concurrent update, retry", http.StatusConflict, redis.TxFailedErr)
}

func unmarshalOrEmpty(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
