package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stagehand/internal/clock"
	"github.com/roach88/stagehand/internal/document"
	"github.com/roach88/stagehand/internal/events"
	"github.com/roach88/stagehand/internal/journal"
	"github.com/roach88/stagehand/internal/store"
	"github.com/roach88/stagehand/internal/testutil"
	"github.com/roach88/stagehand/internal/tree"
)

// seedStore records a document edited three times through a persisting
// document, the way the server does it.
func seedStore(t *testing.T, dbPath string) *store.Store {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	d := document.New("doc-1", document.Options{Source: clock.NewFastSource(), Persister: st})
	require.NoError(t, d.LoadXML([]byte(testutil.Events)))
	require.NoError(t, st.CreateDocument(ctx, d.ID(), d.Timeline(false)))

	_, err = d.Trigger(ctx, "event1", nil)
	require.NoError(t, err)
	_, err = d.Paste(ctx, "//tl:par[@xml:id='target']", tree.End, "", `<note />`, document.MimeXML)
	require.NoError(t, err)
	_, err = d.Trigger(ctx, "event2", []events.Param{{Parameter: "./tl:sleep/@tl:dur", Value: "7"}})
	require.NoError(t, err)
	require.Equal(t, int64(3), d.Generation())
	return st
}

func runReplayCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestReplayMissingDatabaseFlag(t *testing.T) {
	_, err := runReplayCommand(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReplayEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	st.Close()

	out, err := runReplayCommand(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No documents found")
}

func TestReplayMatchesSnapshot(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	seedStore(t, dbPath)

	out, err := runReplayCommand(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Replay Summary: 1 document(s)")
	assert.Contains(t, out, "✓ Document: doc-1")
	assert.Contains(t, out, "Batches: 3, generation 3")
	assert.Contains(t, out, "✓ All documents rebuild to their snapshot")
}

func TestReplayJSONOutput(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	seedStore(t, dbPath)

	out, err := runReplayCommand(t, "json", "--db", dbPath, "--document", "doc-1")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.AllMatch)
	require.Len(t, resp.Data.Documents, 1)
	doc := resp.Data.Documents[0]
	assert.Equal(t, "doc-1", doc.DocumentID)
	assert.Equal(t, 3, doc.Batches)
	assert.Equal(t, int64(3), doc.SnapshotGeneration)
	assert.True(t, doc.Complete)
	assert.Empty(t, doc.Diff)
}

func TestReplayDetectsTamperedSnapshot(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st := seedStore(t, dbPath)
	require.NoError(t, st.SaveSnapshot(context.Background(), "doc-1", `<tl:document tls:generation="3" />`, 3))

	out, err := runReplayCommand(t, "text", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Document: doc-1")
	assert.Contains(t, out, "rebuilt document differs from snapshot")
	assert.Contains(t, out, "- <tl:document tls:generation=\"3\" />")
	assert.Contains(t, out, "✗ Replay verification failed")
}

func TestReplayReportsGaps(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st := seedStore(t, dbPath)
	require.NoError(t, st.SaveBatch(context.Background(), "doc-1", journal.Batch{
		Generation: 6,
		Operations: []journal.Command{journal.Delete("/tl:document/tl:par[1]")},
	}))

	out, err := runReplayCommand(t, "json", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_REPLAY", resp.Error.Code)
	assert.Contains(t, out, `"gaps":[4,5]`)
}

func TestReplayUnknownDocument(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	seedStore(t, dbPath)

	_, err := runReplayCommand(t, "text", "--db", dbPath, "--document", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
