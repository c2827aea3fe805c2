package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(i int) Entry {
	return Entry{HTML: fmt.Sprintf("<p>%d</p>", i), Timestamp: int64(i)}
}

func TestUndoEmpty(t *testing.T) {
	s := New(0)
	_, err := s.Undo()
	assert.ErrorIs(t, err, ErrNothingToUndo)
	assert.False(t, s.CanUndo())
	assert.Equal(t, -1, s.Cursor())

	s.Push(entry(0))
	_, err = s.Undo()
	assert.ErrorIs(t, err, ErrNothingToUndo)
}

func TestUndoWalksBack(t *testing.T) {
	s := New(10)
	for i := 0; i < 3; i++ {
		s.Push(entry(i))
	}

	e, err := s.Undo()
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Timestamp)

	e, err = s.Undo()
	require.NoError(t, err)
	assert.Equal(t, int64(0), e.Timestamp)

	_, err = s.Undo()
	assert.ErrorIs(t, err, ErrNothingToUndo)
}

func TestPushTruncatesForwardHistory(t *testing.T) {
	s := New(10)
	for i := 0; i < 5; i++ {
		s.Push(entry(i))
	}
	_, _ = s.Undo()
	_, _ = s.Undo()
	assert.Equal(t, 2, s.Cursor())

	s.Push(entry(99))
	assert.Equal(t, 4, s.Len())
	assert.Equal(t, 3, s.Cursor())

	entries := s.Entries()
	assert.Equal(t, int64(99), entries[3].Timestamp)
}

func TestCapacityEviction(t *testing.T) {
	s := New(DefaultCapacity)
	for i := 0; i < 60; i++ {
		s.Push(entry(i))
	}

	assert.Equal(t, 50, s.Len())
	assert.Equal(t, 49, s.Cursor())

	entries := s.Entries()
	assert.Equal(t, int64(10), entries[0].Timestamp, "oldest 10 evicted")
	assert.Equal(t, int64(59), entries[49].Timestamp)
}

func TestCurrent(t *testing.T) {
	s := New(5)
	_, ok := s.Current()
	assert.False(t, ok)

	s.Push(entry(1))
	s.Push(entry(2))
	cur, ok := s.Current()
	assert.True(t, ok)
	assert.Equal(t, int64(2), cur.Timestamp)

	_, _ = s.Undo()
	cur, _ = s.Current()
	assert.Equal(t, int64(1), cur.Timestamp)
}
