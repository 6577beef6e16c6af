package apiclient

import (
	"context"
	"fmt"
	"net/http"
)

// Kind names an option list exposed by the business API.
type Kind string

const (
	KindProducts   Kind = "products"
	KindCustomers  Kind = "customers"
	KindSuppliers  Kind = "suppliers"
	KindWarehouses Kind = "warehouses"
)

// Valid reports whether k is a known option list.
func (k Kind) Valid() bool {
	switch k {
	case KindProducts, KindCustomers, KindSuppliers, KindWarehouses:
		return true
	}
	return false
}

// Option is one selectable entry. Attributes keeps the full upstream record.
type Option struct {
	Value      string         `json:"value"`
	Label      string         `json:"label"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ListOptions fetches the option list for kind.
func (c *Client) ListOptions(ctx context.Context, kind Kind) ([]Option, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("apiclient: unknown option kind %q", kind)
	}
	var records []map[string]any
	if err := c.do(ctx, "list_"+string(kind), http.MethodGet, "/"+string(kind)+"/options", nil, &records); err != nil {
		return nil, err
	}
	out := make([]Option, 0, len(records))
	for _, rec := range records {
		value := firstString(rec, "id", "_id", "code")
		if value == "" {
			continue
		}
		label := firstString(rec, "name", "label", "title")
		if label == "" {
			label = value
		}
		out = append(out, Option{Value: value, Label: label, Attributes: rec})
	}
	return out, nil
}

func firstString(rec map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := rec[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
