package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// KeyDB is satisfied by *pgxpool.Pool.
type KeyDB interface {
	Execer
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// IdempotencyStore persists processed keys. Keys are scoped per module, so the
// same client key may be reused for a bill and a purchase.
type IdempotencyStore struct {
	db  KeyDB
	now func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(db KeyDB) *IdempotencyStore {
	return &IdempotencyStore{db: db, now: time.Now}
}

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = httpx.NewError(httpx.ErrDuplicate, "idempotent request already processed")

// CheckAndInsert ensures key uniqueness per module.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	_, err := s.db.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, scopedKey(module, key), module, s.now())
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

// Complete links key to the entity its request created.
func (s *IdempotencyStore) Complete(ctx context.Context, key, module string, ref uuid.UUID) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(ctx, `UPDATE idempotency_keys SET ref_id=$2 WHERE key=$1`, scopedKey(module, key), ref)
	return err
}

// Lookup returns the entity recorded by Complete. uuid.Nil means the key is
// unknown or its request has not finished.
func (s *IdempotencyStore) Lookup(ctx context.Context, key, module string) (uuid.UUID, error) {
	if s == nil {
		return uuid.Nil, nil
	}
	var ref pgtype.UUID
	err := s.db.QueryRow(ctx, `SELECT ref_id FROM idempotency_keys WHERE key=$1`, scopedKey(module, key)).Scan(&ref)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	if !ref.Valid {
		return uuid.Nil, nil
	}
	return uuid.UUID(ref.Bytes), nil
}

// Cleanup removes entries older than retention and reports how many were deleted.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := s.now().Add(-olderThan)
	tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, key, module string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1`, scopedKey(module, key))
	return err
}

func scopedKey(module, key string) string {
	return module + ":" + key
}
