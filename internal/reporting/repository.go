package reporting

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
)

// Repository runs aggregate queries against PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// DocumentTotals counts documents of kind and sums totals of the non-cancelled ones.
func (r *Repository) DocumentTotals(ctx context.Context, kind documents.Kind) (Totals, error) {
	table := "bills"
	if kind == documents.KindPurchase {
		table = "purchases"
	}
	var t Totals
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*),
       COALESCE(SUM(total) FILTER (WHERE status <> 'CANCELLED'), 0),
       COUNT(*) FILTER (WHERE status = 'PENDING')
FROM `+table).Scan(&t.Count, &t.Amount, &t.Open)
	return t, err
}

// TopSellers ranks items by quantity moved out through bills.
func (r *Repository) TopSellers(ctx context.Context, limit int) ([]TopItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT m.item_code, i.name, SUM(m.quantity)::int AS qty
FROM stock_movements m JOIN items i ON i.code = m.item_code
WHERE m.ref_type = 'bill'
GROUP BY m.item_code, i.name
ORDER BY qty DESC, m.item_code
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []TopItem{}
	for rows.Next() {
		var it TopItem
		if err := rows.Scan(&it.ItemCode, &it.ItemName, &it.Quantity); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// LowStockCount counts items at or below their threshold.
func (r *Repository) LowStockCount(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM items i LEFT JOIN inventory_levels l ON l.item_code = i.code
WHERE COALESCE(l.quantity, 0) <= i.low_stock_threshold`).Scan(&n)
	return n, err
}
