package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository persists catalog data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const itemColumns = `code, name, category, unit_price, tax_rate, unit, low_stock_threshold, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.Code, &it.Name, &it.Category, &it.UnitPrice, &it.TaxRate, &it.Unit, &it.LowStockThreshold, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

// InsertItem stores a new item.
func (r *Repository) InsertItem(ctx context.Context, item Item) (Item, error) {
	created, err := scanItem(r.pool.QueryRow(ctx, `INSERT INTO items (code, name, category, unit_price, tax_rate, unit, low_stock_threshold)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+itemColumns,
		item.Code, item.Name, item.Category, item.UnitPrice, item.TaxRate, item.Unit, item.LowStockThreshold))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Item{}, ErrDuplicateItem
		}
		return Item{}, err
	}
	return created, nil
}

// UpdateItem rewrites mutable attributes.
func (r *Repository) UpdateItem(ctx context.Context, item Item) (Item, error) {
	updated, err := scanItem(r.pool.QueryRow(ctx, `UPDATE items SET name=$2, category=$3, unit_price=$4, tax_rate=$5, unit=$6, low_stock_threshold=$7, updated_at=NOW()
WHERE code=$1 RETURNING `+itemColumns,
		item.Code, item.Name, item.Category, item.UnitPrice, item.TaxRate, item.Unit, item.LowStockThreshold))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return updated, err
}

// DeleteItem removes an unreferenced item.
func (r *Repository) DeleteItem(ctx context.Context, code string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		// The projection row is derived; drop it with the item when no movement exists.
		if _, err := tx.Exec(ctx, `DELETE FROM inventory_levels l WHERE l.item_code=$1
AND NOT EXISTS (SELECT 1 FROM stock_movements m WHERE m.item_code = l.item_code)`, code); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM items WHERE code=$1`, code)
		if err != nil {
			if db.IsForeignKeyViolation(err) {
				return ErrItemInUse
			}
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrItemNotFound
		}
		return nil
	})
}

// GetItem loads one item.
func (r *Repository) GetItem(ctx context.Context, code string) (Item, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE code=$1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return item, err
}

// GetItems loads the items with the given codes, keyed by code. Missing codes are absent.
func (r *Repository) GetItems(ctx context.Context, codes []string) (map[string]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM items WHERE code = ANY($1)`, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]Item, len(codes))
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out[item.Code] = item
	}
	return out, rows.Err()
}

// ListItems returns every item ordered by code.
func (r *Repository) ListItems(ctx context.Context) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// InsertCounterparty stores a customer or vendor.
func (r *Repository) InsertCounterparty(ctx context.Context, cp Counterparty) (Counterparty, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO counterparties (id, kind, name, email, phone, address)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING created_at`, cp.ID, string(cp.Kind), cp.Name, cp.Email, cp.Phone, cp.Address).Scan(&cp.CreatedAt)
	return cp, err
}

// GetCounterparty loads a counterparty of the given kind.
func (r *Repository) GetCounterparty(ctx context.Context, kind CounterpartyKind, id uuid.UUID) (Counterparty, error) {
	var cp Counterparty
	err := r.pool.QueryRow(ctx, `SELECT id, kind, name, email, phone, address, created_at FROM counterparties WHERE id=$1 AND kind=$2`, id, string(kind)).
		Scan(&cp.ID, &cp.Kind, &cp.Name, &cp.Email, &cp.Phone, &cp.Address, &cp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Counterparty{}, ErrCounterpartyNotFound
	}
	return cp, err
}

// ListCounterparties lists customers or vendors by name.
func (r *Repository) ListCounterparties(ctx context.Context, kind CounterpartyKind) ([]Counterparty, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, kind, name, email, phone, address, created_at FROM counterparties WHERE kind=$1 ORDER BY name, id`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Counterparty{}
	for rows.Next() {
		var cp Counterparty
		if err := rows.Scan(&cp.ID, &cp.Kind, &cp.Name, &cp.Email, &cp.Phone, &cp.Address, &cp.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}
