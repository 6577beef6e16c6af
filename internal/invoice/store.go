package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-bizops/internal/common"
)

var (
	// ErrNotFound indicates no archived invoice carries the requested number.
	ErrNotFound = errors.New("invoice: not found")
	// ErrDuplicate indicates an invoice with the same number is already archived.
	ErrDuplicate = errors.New("invoice: duplicate number")
	// ErrStoreUnavailable indicates the archive dependency is not configured.
	ErrStoreUnavailable = errors.New("invoice: store unavailable")
)

// Store archives frozen invoices per client.
type Store interface {
	Save(ctx context.Context, inv Invoice) error
	Get(ctx context.Context, number string) (Invoice, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

// Save inserts inv under the client carried by ctx.
func (s *pgStore) Save(ctx context.Context, inv Invoice) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	snapshot, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("encode invoice: %w", err)
	}
	var orderID any
	if inv.OrderID != "" {
		orderID = inv.OrderID
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO invoices (client_id, number, order_id, customer_name, grand_total, issued_at, snapshot)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		common.ClientID(ctx), inv.Number, orderID, inv.Customer.Name, inv.Totals.RoundedTotal.StringFixed(2), inv.IssuedAt, snapshot)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// Get loads the archived snapshot for number.
func (s *pgStore) Get(ctx context.Context, number string) (Invoice, error) {
	if s == nil || s.pool == nil {
		return Invoice{}, ErrStoreUnavailable
	}
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM invoices WHERE client_id = $1 AND number = $2`,
		common.ClientID(ctx), number).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrNotFound
		}
		return Invoice{}, err
	}
	var inv Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return Invoice{}, fmt.Errorf("decode invoice: %w", err)
	}
	return inv, nil
}
