package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testState(task string) *PhaseState {
	st := New("planner", "1.4.0", PhasePlan, task)
	st.Status = StatusInProgress
	st.Metadata.Parameters = map[string]any{"depth": "full"}
	return st
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStore(nil)

	written := testState("refactor the parser")
	written.SetResult(PhasePlan, "three step plan")
	written.AddArtifact("notes/plan.md")
	require.NoError(t, store.Write(path, written))

	got, err := store.Read(path)
	require.NoError(t, err)

	assert.Equal(t, written.Metadata.AgentName, got.Metadata.AgentName)
	assert.Equal(t, written.Metadata.AgentVersion, got.Metadata.AgentVersion)
	assert.True(t, written.Metadata.InvocationTimestamp.Equal(got.Metadata.InvocationTimestamp))
	assert.Equal(t, written.Phase, got.Phase)
	assert.Equal(t, written.Status, got.Status)
	assert.Equal(t, written.TaskDescription, got.TaskDescription)
	assert.Equal(t, written.Results, got.Results)
	assert.Equal(t, []string{"notes/plan.md"}, got.Artifacts)
	assert.Equal(t, []PhaseError{}, got.Errors)
}

func TestReadMissingFileIsNotFound(t *testing.T) {
	store := NewStore(nil)
	_, err := store.Read(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReadDistinguishesSyntaxFromFormat(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(nil)

	tests := []struct {
		name       string
		content    string
		wantSyntax bool
		wantReason string
	}{
		{"unparseable text", "{definitely not json", true, ""},
		{"top level array", "[1,2,3]", false, "state must be an object"},
		{"missing metadata", `{"phase":"plan","status":"pending"}`, false, "missing metadata"},
		{"metadata not object", `{"metadata":"yes","phase":"plan","status":"pending"}`, false, "metadata must be an object"},
		{
			"missing agent name",
			`{"metadata":{"agentVersion":"1.0","invocationTimestamp":"2026-01-01T00:00:00Z"},"phase":"plan","status":"pending"}`,
			false, "missing metadata.agentName",
		},
		{
			"empty agent version",
			`{"metadata":{"agentName":"a","agentVersion":"","invocationTimestamp":"2026-01-01T00:00:00Z"},"phase":"plan","status":"pending"}`,
			false, "metadata.agentVersion must be a non-empty string",
		},
		{
			"bad phase",
			`{"metadata":{"agentName":"a","agentVersion":"1","invocationTimestamp":"2026-01-01T00:00:00Z"},"phase":"deploy","status":"pending"}`,
			false, `invalid phase "deploy"`,
		},
		{
			"bad status",
			`{"metadata":{"agentName":"a","agentVersion":"1","invocationTimestamp":"2026-01-01T00:00:00Z"},"phase":"plan","status":"done"}`,
			false, `invalid status "done"`,
		},
		{
			"errors not a list",
			`{"metadata":{"agentName":"a","agentVersion":"1","invocationTimestamp":"2026-01-01T00:00:00Z"},"phase":"plan","status":"pending","errors":"oops"}`,
			false, "errors must be a list",
		},
		{
			"artifacts not a list",
			`{"metadata":{"agentName":"a","agentVersion":"1","invocationTimestamp":"2026-01-01T00:00:00Z"},"phase":"plan","status":"pending","artifacts":{"a":1}}`,
			false, "artifacts must be a list",
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, fmt.Sprintf("case%d.json", i))
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := store.Read(path)
			require.Error(t, err)
			var ferr *FormatError
			require.True(t, errors.As(err, &ferr), "want FormatError, got %v", err)
			assert.Equal(t, tt.wantSyntax, ferr.Syntax)
			if tt.wantReason != "" {
				assert.Contains(t, ferr.Reason, tt.wantReason)
			}
		})
	}
}

func TestReadNormalizesNullLists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	content := `{"metadata":{"agentName":"a","agentVersion":"1","invocationTimestamp":"2026-01-01T00:00:00Z"},"phase":"build","status":"completed","errors":null,"artifacts":null}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, err := NewStore(nil).Read(path)
	require.NoError(t, err)
	assert.NotNil(t, got.Errors)
	assert.NotNil(t, got.Artifacts)
}

func TestWriteRefusesInvalidState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	st := testState("task")
	st.Status = Status("banana")

	err := NewStore(nil).Write(path, st)
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "nothing should have been written")
}

func TestSecondWriterWaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	lockPath := path + ".lock"
	store := NewStore(nil)

	require.NoError(t, os.WriteFile(lockPath, []byte("held\n"), 0o644))
	go func() {
		time.Sleep(300 * time.Millisecond)
		os.Remove(lockPath)
	}()

	start := time.Now()
	require.NoError(t, store.Write(path, testState("waits politely")))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond, "writer should have waited for the lock")
}

func TestLockTimeoutSurfacesTypedError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStore(nil)
	store.lockRetries = 3
	store.lockDelay = 10 * time.Millisecond

	require.NoError(t, os.WriteFile(path+".lock", []byte("held\n"), 0o644))

	_, err := store.Read(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockTimeout))
	var lerr *LockError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, 3, lerr.Attempts)
}

func TestLockFullBudgetTakesAboutTwoAndAHalfSeconds(t *testing.T) {
	if testing.Short() {
		t.Skip("full lock budget takes ~2.5s")
	}
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStore(nil)
	require.NoError(t, os.WriteFile(path+".lock", []byte("held\n"), 0o644))

	start := time.Now()
	_, err := store.Read(path)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockTimeout))
	assert.GreaterOrEqual(t, elapsed, 2*time.Second)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestLockReleasedAfterOperations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStore(nil)

	require.NoError(t, store.Write(path, testState("first")))
	_, err := store.Read(path)
	require.NoError(t, err)

	_, statErr := os.Stat(path + ".lock")
	assert.True(t, os.IsNotExist(statErr), "lock must not outlive the operation")
}

func TestRotationShiftsArchivesAndDropsOldest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStore(nil)
	store.maxSize = 100 // force rotation on every write

	for i := 1; i <= 7; i++ {
		st := testState(fmt.Sprintf("version %d", i))
		require.NoError(t, store.Write(path, st))
	}

	// Current file holds the newest write, archives hold the previous five.
	current, err := store.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "version 7", current.TaskDescription)

	for slot := 1; slot <= 5; slot++ {
		raw, err := os.ReadFile(fmt.Sprintf("%s.%d", path, slot))
		require.NoError(t, err, "archive %d should exist", slot)
		var st PhaseState
		require.NoError(t, json.Unmarshal(raw, &st))
		assert.Equal(t, fmt.Sprintf("version %d", 7-slot), st.TaskDescription)
	}

	_, err = os.Stat(path + ".6")
	assert.True(t, os.IsNotExist(err), "only five archives are kept")
}

func TestAddErrorAppendsWithoutOverwriting(t *testing.T) {
	st := testState("task")
	st.AddError(PhasePlan, "first failure", "stack one")
	st.MarkFailed(PhaseBuild, "second failure")

	require.Len(t, st.Errors, 2)
	assert.Equal(t, "first failure", st.Errors[0].Message)
	assert.Equal(t, PhaseBuild, st.Errors[1].Phase)
	assert.Equal(t, StatusFailed, st.Status)
	assert.False(t, st.Errors[0].Timestamp.IsZero())
}

func TestSetResultTargetsOwnSlot(t *testing.T) {
	st := testState("task")
	st.SetResult(PhaseExplore, "found the hot path")
	assert.Empty(t, st.Results.Plan)
	assert.Empty(t, st.Results.Build)
	assert.Equal(t, "found the hot path", st.Results.Exploration)
}
