package events

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

// recordingTx captures Exec calls; every other pgx.Tx method comes from the
// embedded nil interface and panics if used.
type recordingTx struct {
	pgx.Tx
	calls []execCall
}

func (r *recordingTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.calls = append(r.calls, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestPGWriter_Append(t *testing.T) {
	tx := &recordingTx{}
	w := NewWriter()

	err := w.Append(context.Background(), tx, "lost", "l-1", TypeMatchConfirmed, map[string]any{"counterpart_id": "f-1"})
	require.NoError(t, err)

	require.Len(t, tx.calls, 1)
	assert.True(t, strings.Contains(tx.calls[0].sql, "report_events"))
	assert.Equal(t, []any{"lost", "l-1", "MATCH_CONFIRMED", `{"counterpart_id":"f-1"}`}, tx.calls[0].args)
}

func TestPGWriter_EnqueueNilPayload(t *testing.T) {
	tx := &recordingTx{}

	require.NoError(t, NewWriter().Enqueue(context.Background(), tx, TopicReportCreated, nil))

	require.Len(t, tx.calls, 1)
	assert.Equal(t, []any{TopicReportCreated, "{}"}, tx.calls[0].args)
}
