package session_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/strands-workflow/workflow/session"
)

func TestCreateLoadRoundTrip(t *testing.T) {
	store := session.NewStore(t.TempDir(), 0)

	sess := session.New("sess-1", "demo", "chain", time.Now())
	sess.Variables["topic"] = "widgets"
	require.NoError(t, store.Create(sess))

	loaded, err := store.Load("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "demo", loaded.Metadata.WorkflowName)
	assert.Equal(t, "widgets", loaded.Variables["topic"])
	assert.Equal(t, session.StatusPending, loaded.Metadata.Status)
}

func TestSaveUpdatesStatusAndTokenUsage(t *testing.T) {
	store := session.NewStore(t.TempDir(), 0)
	sess := session.New("sess-2", "demo", "chain", time.Now())
	require.NoError(t, store.Create(sess))

	sess.Metadata.Status = session.StatusCompleted
	sess.TokenUsage.TotalInputTokens = 100
	sess.TokenUsage.TotalOutputTokens = 40
	require.NoError(t, store.Save(sess))

	loaded, err := store.Load("sess-2")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, loaded.Metadata.Status)
	assert.Equal(t, 140, loaded.CumulativeTokens())
}

func TestSpecSnapshotRoundTrips(t *testing.T) {
	store := session.NewStore(t.TempDir(), 0)
	sess := session.New("sess-3", "demo", "chain", time.Now())
	sess.SpecSnapshot = "name: demo\nversion: \"1\"\n"
	require.NoError(t, store.Create(sess))

	loaded, err := store.Load("sess-3")
	require.NoError(t, err)
	assert.Equal(t, sess.SpecSnapshot, loaded.SpecSnapshot)
}

func TestListOrdersNewestFirst(t *testing.T) {
	dir := t.TempDir()
	store := session.NewStore(dir, 0)

	older := session.New("old", "demo", "chain", time.Now().Add(-time.Hour))
	newer := session.New("new", "demo", "chain", time.Now())
	require.NoError(t, store.Create(older))
	require.NoError(t, store.Create(newer))

	metas, err := store.List()
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "new", metas[0].SessionID)
}

func TestCleanupRemovesStaleSessions(t *testing.T) {
	dir := t.TempDir()
	store := session.NewStore(dir, 0)

	stale := session.New("stale", "demo", "chain", time.Now().Add(-48*time.Hour))
	stale.Metadata.UpdatedAt = time.Now().Add(-48 * time.Hour)
	writeRawSession(t, dir, stale)

	fresh := session.New("fresh", "demo", "chain", time.Now())
	require.NoError(t, store.Create(fresh))

	removed, err := store.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, removed)

	_, err = store.Load("fresh")
	require.NoError(t, err)
}

// writeRawSession persists sess's state directly, bypassing Store.Save's
// timestamp refresh, so tests can construct sessions with a backdated
// UpdatedAt to exercise age-based cleanup.
func writeRawSession(t *testing.T, root string, sess *session.Session) {
	t.Helper()
	dir := filepath.Join(root, "session_"+sess.Metadata.SessionID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.MarshalIndent(sess, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.json"), data, 0o644))
}

func TestDeleteRemovesSessionDirectory(t *testing.T) {
	store := session.NewStore(t.TempDir(), 0)
	sess := session.New("gone", "demo", "chain", time.Now())
	require.NoError(t, store.Create(sess))
	require.NoError(t, store.Delete("gone"))

	_, err := store.Load("gone")
	require.Error(t, err)
}
