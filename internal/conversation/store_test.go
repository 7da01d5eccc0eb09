package conversation

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ospreyhq/osprey/internal/provider"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	m := NewManager()
	m.Append(provider.Message{Role: provider.RoleUser, Content: "fix the flaky test"})
	m.Append(provider.Message{
		Role:    provider.RoleAssistant,
		Content: "looking at it",
		ToolCalls: []provider.ToolCall{
			{ID: "call_1", Name: "read_file", Args: map[string]any{"path": "main.go"}},
		},
	})
	m.Append(provider.Message{Role: provider.RoleTool, ToolCallID: "call_1", Content: "package main"})

	require.NoError(t, store.Save("abc123", m))

	loaded, err := store.Load("abc123")
	require.NoError(t, err)
	msgs := loaded.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "fix the flaky test", msgs[0].Content)
	assert.Equal(t, "call_1", msgs[1].ToolCalls[0].ID)
	assert.Equal(t, "call_1", msgs[2].ToolCallID)
	assert.Equal(t, m.StartedAt().Unix(), loaded.StartedAt().Unix())
}

func TestLoadMissingIsNotExist(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Load("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadRejectsInvalidMessages(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	content := `{"timestamp":"2026-01-01T00:00:00Z","messages":[{"role":"wizard","content":"hi"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(content), 0o644))

	_, err := store.Load("bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid message role")
}

func TestListNewestFirstAndSkipsGarbage(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	older := &Manager{startedAt: time.Now().Add(-time.Hour)}
	older.Append(provider.Message{Role: provider.RoleUser, Content: "old task"})
	newer := &Manager{startedAt: time.Now()}
	newer.Append(provider.Message{Role: provider.RoleUser, Content: "new task"})

	require.NoError(t, store.Save("older", older))
	require.NoError(t, store.Save("newer", newer))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644))

	metas, err := store.List()
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "newer", metas[0].ID)
	assert.Equal(t, "older", metas[1].ID)
	assert.Equal(t, "new task", metas[0].Preview)
	assert.Equal(t, 1, metas[0].Messages)
}

func TestListEmptyDirectory(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "does-not-exist-yet"))
	metas, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestPreviewClipsLongContent(t *testing.T) {
	long := strings.Repeat("word ", 40)
	got := preview([]provider.Message{{Role: provider.RoleUser, Content: long}})
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len([]rune(got)), 80)
}

func TestManagerMessagesReturnsCopy(t *testing.T) {
	m := NewManager()
	m.Append(provider.Message{Role: provider.RoleUser, Content: "original"})

	got := m.Messages()
	got[0].Content = "mutated"

	assert.Equal(t, "original", m.Messages()[0].Content)
}
