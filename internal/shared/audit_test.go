package shared

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type captureExec struct {
	args []any
}

func (c *captureExec) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	c.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestAuditLoggerRecord(t *testing.T) {
	exec := &captureExec{}
	logger := NewAuditLogger(exec)

	err := logger.Record(context.Background(), AuditLog{
		Action:   "documents.bill.create",
		Entity:   "bill",
		EntityID: "8d1f",
		Meta:     map[string]any{"number": "INV-2024-001"},
	})
	require.NoError(t, err)
	require.Equal(t, "system", exec.args[0])
	require.Equal(t, "documents.bill.create", exec.args[1])

	var meta map[string]any
	require.NoError(t, json.Unmarshal(exec.args[4].([]byte), &meta))
	require.Equal(t, "INV-2024-001", meta["number"])
	require.Nil(t, exec.args[5])
}

func TestAuditLoggerRejectsIncomplete(t *testing.T) {
	logger := NewAuditLogger(&captureExec{})
	err := logger.Record(context.Background(), AuditLog{Action: "x"})
	require.ErrorIs(t, err, ErrIncompleteAudit)

	var nilLogger *AuditLogger
	require.Error(t, nilLogger.Record(context.Background(), AuditLog{}))
}
