package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// TxRepository exposes the transactional operations used by the service.
// Callers outside this package obtain one through NewTxRepository so ledger
// writes join their transaction.
type TxRepository interface {
	LockLevel(ctx context.Context, itemCode string) (int, error)
	SetLevel(ctx context.Context, itemCode string, qty int) error
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	MovementsForReplay(ctx context.Context, itemCode string) ([]Movement, error)
	Levels(ctx context.Context) (map[string]int, error)
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	db dbtx
}

// NewTxRepository binds ledger operations to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{db: tx}
}

// WithTx runs fn in a ReadCommitted transaction. Projection rows are locked
// explicitly, so concurrent writers of one item queue instead of aborting.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithReadCommittedTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{db: tx})
	})
}

// WithSnapshot runs fn in a read-only RepeatableRead transaction so every read
// sees the same committed state.
func (r *Repository) WithSnapshot(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return db.WithTxOptions(ctx, r.pool, opts, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{db: tx})
	})
}

// ItemExists reports whether the catalog has the item.
func (r *Repository) ItemExists(ctx context.Context, itemCode string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM items WHERE code=$1)`, itemCode).Scan(&exists)
	return exists, err
}

// GetLevel returns the projected quantity; 0 when the item never moved.
func (r *Repository) GetLevel(ctx context.Context, itemCode string) (StockLevel, error) {
	var lvl StockLevel
	err := r.pool.QueryRow(ctx, `SELECT i.code, i.name, i.unit, COALESCE(l.quantity, 0), i.low_stock_threshold, COALESCE(l.updated_at, i.created_at)
FROM items i LEFT JOIN inventory_levels l ON l.item_code = i.code
WHERE i.code=$1`, itemCode).Scan(&lvl.ItemCode, &lvl.ItemName, &lvl.Unit, &lvl.Quantity, &lvl.LowStockThreshold, &lvl.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockLevel{}, ErrUnknownItem
	}
	return lvl, err
}

// ListLevels returns the projection for every item ordered by code.
func (r *Repository) ListLevels(ctx context.Context) ([]StockLevel, error) {
	return r.queryLevels(ctx, `SELECT i.code, i.name, i.unit, COALESCE(l.quantity, 0), i.low_stock_threshold, COALESCE(l.updated_at, i.created_at)
FROM items i LEFT JOIN inventory_levels l ON l.item_code = i.code
ORDER BY i.code`)
}

// ListLowStock returns items at or below their threshold, most urgent first.
func (r *Repository) ListLowStock(ctx context.Context) ([]StockLevel, error) {
	return r.queryLevels(ctx, `SELECT i.code, i.name, i.unit, COALESCE(l.quantity, 0) AS qty, i.low_stock_threshold, COALESCE(l.updated_at, i.created_at)
FROM items i LEFT JOIN inventory_levels l ON l.item_code = i.code
WHERE COALESCE(l.quantity, 0) <= i.low_stock_threshold
ORDER BY qty ASC, i.code ASC`)
}

func (r *Repository) queryLevels(ctx context.Context, sql string) ([]StockLevel, error) {
	rows, err := r.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	levels := []StockLevel{}
	for rows.Next() {
		var lvl StockLevel
		if err := rows.Scan(&lvl.ItemCode, &lvl.ItemName, &lvl.Unit, &lvl.Quantity, &lvl.LowStockThreshold, &lvl.UpdatedAt); err != nil {
			return nil, err
		}
		levels = append(levels, lvl)
	}
	return levels, rows.Err()
}

// ListMovements returns up to limit movements newest first, optionally for one item.
func (r *Repository) ListMovements(ctx context.Context, itemCode string, limit int) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE ($1 = '' OR item_code = $1)
ORDER BY created_at DESC, id DESC
LIMIT $2`, itemCode, limit)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

const movementColumns = `id, item_code, kind, quantity, balance_after, reason, ref_type, ref_id, created_by, created_at`

func collectMovements(rows pgx.Rows) ([]Movement, error) {
	defer rows.Close()
	out := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ItemCode, &m.Kind, &m.Quantity, &m.BalanceAfter, &m.Reason, &m.RefType, &m.RefID, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LockLevel returns the current quantity and holds the projection row lock until
// the transaction ends. The upsert takes the lock in one round trip, including
// for the first movement of an item.
func (r *txRepository) LockLevel(ctx context.Context, itemCode string) (int, error) {
	var qty int
	err := r.db.QueryRow(ctx, `INSERT INTO inventory_levels (item_code, quantity, updated_at)
VALUES ($1, 0, NOW())
ON CONFLICT (item_code) DO UPDATE SET item_code = EXCLUDED.item_code
RETURNING quantity`, itemCode).Scan(&qty)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return 0, ErrUnknownItem
		}
		return 0, err
	}
	return qty, nil
}

func (r *txRepository) SetLevel(ctx context.Context, itemCode string, qty int) error {
	_, err := r.db.Exec(ctx, `UPDATE inventory_levels SET quantity=$2, updated_at=NOW() WHERE item_code=$1`, itemCode, qty)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO stock_movements (item_code, kind, quantity, balance_after, reason, ref_type, ref_id, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at`,
		m.ItemCode, string(m.Kind), m.Quantity, m.BalanceAfter, m.Reason, m.RefType, m.RefID, m.CreatedBy).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return Movement{}, ErrUnknownItem
		}
		return Movement{}, err
	}
	return m, nil
}

// MovementsForReplay returns every movement of the item oldest first.
func (r *txRepository) MovementsForReplay(ctx context.Context, itemCode string) ([]Movement, error) {
	rows, err := r.db.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE item_code=$1 ORDER BY created_at ASC, id ASC`, itemCode)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

// Levels returns the projected quantity of every item; items that never moved report 0.
func (r *txRepository) Levels(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `SELECT i.code, COALESCE(l.quantity, 0) FROM items i LEFT JOIN inventory_levels l ON l.item_code = i.code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var code string
		var qty int
		if err := rows.Scan(&code, &qty); err != nil {
			return nil, err
		}
		out[code] = qty
	}
	return out, rows.Err()
}
