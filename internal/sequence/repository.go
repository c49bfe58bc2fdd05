package sequence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// TxRepository allocates numbers inside a caller-owned transaction.
type TxRepository interface {
	// Increment bumps the counter to max(last, floor)+1 and returns the new value.
	Increment(ctx context.Context, series Series, year, floor int) (int, error)
}

// Repository persists counters in document_sequences.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds allocation to an open transaction. The counter row stays
// locked until the transaction ends and a rollback releases the number.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) Increment(ctx context.Context, series Series, year, floor int) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `INSERT INTO document_sequences (series, year, last_number, updated_at)
VALUES ($1, $2, $3 + 1, NOW())
ON CONFLICT (series, year) DO UPDATE
SET last_number = GREATEST(document_sequences.last_number, $3) + 1, updated_at = NOW()
RETURNING last_number`, string(series), year, floor).Scan(&n)
	return n, err
}

// WithTx runs fn in a ReadCommitted transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("sequence repository not initialised")
	}
	return db.WithReadCommittedTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Current returns the last issued counter, 0 when the series has not issued in year.
func (r *Repository) Current(ctx context.Context, series Series, year int) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT last_number FROM document_sequences WHERE series=$1 AND year=$2`, string(series), year).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// Raise lifts the counter to at least floor without issuing a number.
func (r *Repository) Raise(ctx context.Context, series Series, year, floor int) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO document_sequences (series, year, last_number, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (series, year) DO UPDATE
SET last_number = GREATEST(document_sequences.last_number, EXCLUDED.last_number), updated_at = NOW()`, string(series), year, floor)
	return err
}
