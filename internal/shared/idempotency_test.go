package shared

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

type keyRow struct {
	at  time.Time
	ref uuid.UUID
}

type keyTable struct {
	keys map[string]keyRow
	last []any
}

func (k *keyTable) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	k.last = args
	switch {
	case strings.HasPrefix(sql, "INSERT"):
		key := args[0].(string)
		if _, ok := k.keys[key]; ok {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505", ConstraintName: "idempotency_keys_pkey"}
		}
		k.keys[key] = keyRow{at: args[2].(time.Time)}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.HasPrefix(sql, "UPDATE"):
		key := args[0].(string)
		row, ok := k.keys[key]
		if !ok {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		row.ref = args[1].(uuid.UUID)
		k.keys[key] = row
		return pgconn.NewCommandTag("UPDATE 1"), nil
	case len(args) == 1:
		if cutoff, ok := args[0].(time.Time); ok {
			n := 0
			for key, row := range k.keys {
				if row.at.Before(cutoff) {
					delete(k.keys, key)
					n++
				}
			}
			return pgconn.NewCommandTag("DELETE " + strconv.Itoa(n)), nil
		}
		delete(k.keys, args[0].(string))
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	return pgconn.CommandTag{}, errors.New("unexpected statement")
}

type refRow struct {
	row keyRow
	ok  bool
}

func (r refRow) Scan(dest ...any) error {
	if !r.ok {
		return pgx.ErrNoRows
	}
	out := dest[0].(*pgtype.UUID)
	*out = pgtype.UUID{Bytes: r.row.ref, Valid: r.row.ref != uuid.Nil}
	return nil
}

func (k *keyTable) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	row, ok := k.keys[args[0].(string)]
	return refRow{row: row, ok: ok}
}

func TestIdempotencyStore(t *testing.T) {
	table := &keyTable{keys: map[string]keyRow{}}
	store := NewIdempotencyStore(table)
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "req-1", "documents:bill"))
	err := store.CheckAndInsert(ctx, "req-1", "documents:bill")
	require.ErrorIs(t, err, ErrIdempotencyConflict)
	require.ErrorIs(t, err, httpx.ErrDuplicate)
	require.NoError(t, store.CheckAndInsert(ctx, "req-1", "documents:purchase"))

	require.NoError(t, store.Delete(ctx, "req-1", "documents:bill"))
	require.NoError(t, store.CheckAndInsert(ctx, "req-1", "documents:bill"))

	clock = clock.Add(8 * 24 * time.Hour)
	deleted, err := store.Cleanup(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)
	require.Empty(t, table.keys)

	require.Error(t, store.CheckAndInsert(ctx, "", "documents:bill"))
}

func TestIdempotencyStoreRecordsCreatedEntity(t *testing.T) {
	store := NewIdempotencyStore(&keyTable{keys: map[string]keyRow{}})
	ctx := context.Background()

	ref, err := store.Lookup(ctx, "req-9", "documents:bill")
	require.NoError(t, err)
	require.Equal(t, uuid.Nil, ref)

	require.NoError(t, store.CheckAndInsert(ctx, "req-9", "documents:bill"))
	ref, err = store.Lookup(ctx, "req-9", "documents:bill")
	require.NoError(t, err)
	require.Equal(t, uuid.Nil, ref, "in-flight key has no entity yet")

	id := uuid.New()
	require.NoError(t, store.Complete(ctx, "req-9", "documents:bill", id))
	ref, err = store.Lookup(ctx, "req-9", "documents:bill")
	require.NoError(t, err)
	require.Equal(t, id, ref)

	ref, err = store.Lookup(ctx, "req-9", "documents:purchase")
	require.NoError(t, err)
	require.Equal(t, uuid.Nil, ref)
}
