package memory

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSaverCoalescesRapidMarks(t *testing.T) {
	var saves atomic.Int32
	s := newSaver(20*time.Millisecond, func() error {
		saves.Add(1)
		return nil
	}, zap.NewNop())
	defer s.Close()

	for i := 0; i < 10; i++ {
		s.MarkDirty()
	}

	assert.Eventually(t, func() bool { return saves.Load() == 1 },
		time.Second, 5*time.Millisecond, "ten rapid marks collapse into one save")

	// A mark after the window schedules a fresh save.
	s.MarkDirty()
	assert.Eventually(t, func() bool { return saves.Load() == 2 },
		time.Second, 5*time.Millisecond)
}

func TestSaverFlushWritesPendingAndReportsErrors(t *testing.T) {
	var saves atomic.Int32
	failing := errors.New("disk broke")
	fail := atomic.Bool{}
	s := newSaver(time.Minute, func() error {
		saves.Add(1)
		if fail.Load() {
			return failing
		}
		return nil
	}, zap.NewNop())
	defer s.Close()

	// Nothing pending: flush is a no-op.
	require.NoError(t, s.Flush())
	assert.Equal(t, int32(0), saves.Load())

	s.MarkDirty()
	require.NoError(t, s.Flush())
	assert.Equal(t, int32(1), saves.Load())

	fail.Store(true)
	s.MarkDirty()
	assert.ErrorIs(t, s.Flush(), failing)
}

func TestSaverCloseDrainsAndIsIdempotent(t *testing.T) {
	var saves atomic.Int32
	s := newSaver(time.Minute, func() error {
		saves.Add(1)
		return nil
	}, zap.NewNop())

	s.MarkDirty()
	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), saves.Load(), "close drains the dirty flag")

	require.NoError(t, s.Close())
	require.NoError(t, s.Flush(), "flush after close reports the close outcome")
	assert.Equal(t, int32(1), saves.Load())
}
