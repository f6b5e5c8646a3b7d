package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "transcripts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndReadTranscript(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordSession(ctx, "sess-1", "How do I add a fade out?", "suite"))
	require.NoError(t, store.RecordTurn(ctx, "sess-1", "user", "How do I add a fade out?", ""))
	require.NoError(t, store.RecordTurn(ctx, "sess-1", "assistant", "Step 1 of 3: Open the clip.", "WAIT_USER_ACTION"))

	turns, err := store.Transcript(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "assistant", turns[1].Role)
	assert.Equal(t, "WAIT_USER_ACTION", turns[1].State)
	assert.False(t, turns[0].CreatedAt.IsZero())
}

func TestRecordSessionUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordSession(ctx, "sess-1", "first question", ""))
	require.NoError(t, store.RecordSession(ctx, "sess-1", "second question", "intro"))

	var query, edition string
	err := store.db.QueryRowContext(ctx,
		`SELECT query, edition FROM sessions WHERE id = ?`, "sess-1").Scan(&query, &edition)
	require.NoError(t, err)
	assert.Equal(t, "second question", query)
	assert.Equal(t, "intro", edition)
}

func TestTranscriptEmptySession(t *testing.T) {
	store := openTestStore(t)

	turns, err := store.Transcript(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, turns)
}
