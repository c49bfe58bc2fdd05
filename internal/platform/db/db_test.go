package db

import (
	"errors"
	"context"
	"fmt"
	"net"
	"strings"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert bill: %w", &pgconn.PgError{Code: CodeUniqueViolation, ConstraintName: "bills_number_key"})
	assert.True(t, IsUniqueViolation(unique))
	assert.Equal(t, "bills_number_key", ConstraintName(unique))
	assert.False(t, IsTransient(unique))

	assert.True(t, IsTransient(&pgconn.PgError{Code: CodeSerializationFailure}))
	assert.True(t, IsTransient(&pgconn.PgError{Code: CodeDeadlockDetected}))
	assert.True(t, IsForeignKeyViolation(&pgconn.PgError{Code: CodeForeignKeyViolation}))

	plain := errors.New("connection reset")
	assert.Empty(t, PgCode(plain))
	assert.Empty(t, ConstraintName(plain))
	assert.False(t, IsTransient(plain))
}

func TestIsUnavailable(t *testing.T) {
	reset := &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection reset", fmt.Errorf("insert bill: %w", reset), true},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"begin", fmt.Errorf("%w: %w", ErrBeginTx, context.DeadlineExceeded), true},
		{"commit", fmt.Errorf("%w: %w", ErrCommitTx, reset), true},
		{"commit rejected by server", fmt.Errorf("%w: %w", ErrCommitTx, &pgconn.PgError{Code: CodeSerializationFailure}), false},
		{"unique violation", &pgconn.PgError{Code: CodeUniqueViolation}, false},
		{"other", errors.New("disk full"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsUnavailable(tc.err))
		})
	}
}

func TestSchemaDeclaresLedgerTables(t *testing.T) {
	ddl := Schema()
	for _, table := range []string{
		"items", "counterparties", "stock_movements", "inventory_levels", "document_sequences",
		"bills", "bill_lines", "purchases", "purchase_lines", "idempotency_keys", "audit_logs",
	} {
		assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
	assert.Contains(t, ddl, "ADD COLUMN IF NOT EXISTS ref_id UUID")
	assert.False(t, strings.Contains(ddl, "DROP TABLE"))
}
