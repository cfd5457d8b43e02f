package repository

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tecu23/duel-server/pkg/game"
)

func newSession(id, room string, white game.ParticipantID) *game.Session {
	return game.NewSession(id, room, white, game.Config{Clock: clockwork.NewFakeClock()})
}

func TestSaveAndLookup(t *testing.T) {
	r := NewInMemoryRepository(zaptest.NewLogger(t))

	s := newSession("s1", "room-1", "A")
	require.NoError(t, r.Save(s, "A"))

	got, err := r.Get("s1")
	require.NoError(t, err)
	assert.Same(t, s, got)

	byRoom, ok := r.FindByRoom("room-1")
	require.True(t, ok)
	assert.Same(t, s, byRoom)

	_, ok = r.FindByRoom("room-2")
	assert.False(t, ok)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.Equal(t, 1, r.Count())
}

func TestParticipantIndex(t *testing.T) {
	r := NewInMemoryRepository(nil)

	s1 := newSession("s1", "", "A")
	s2 := newSession("s2", "", "C")
	require.NoError(t, r.Save(s1, "A", "B"))
	require.NoError(t, r.Save(s2, "C"))
	require.NoError(t, r.AddParticipant("s2", "A"))

	assert.ElementsMatch(t, []*game.Session{s1, s2}, r.FindByParticipant("A"))
	assert.ElementsMatch(t, []*game.Session{s1}, r.FindByParticipant("B"))
	assert.Empty(t, r.FindByParticipant("D"))

	assert.ErrorIs(t, r.AddParticipant("missing", "A"), ErrSessionNotFound)
}

func TestRemoveClearsIndexes(t *testing.T) {
	r := NewInMemoryRepository(nil)

	s := newSession("s1", "room-1", "A")
	require.NoError(t, r.Save(s, "A", "B"))

	assert.True(t, r.Remove("s1"))
	assert.False(t, r.Remove("s1"))

	_, ok := r.FindByRoom("room-1")
	assert.False(t, ok)
	assert.Empty(t, r.FindByParticipant("A"))
	assert.Equal(t, 0, r.Count())
}

func TestListActive(t *testing.T) {
	r := NewInMemoryRepository(nil)

	pending := newSession("s1", "room-1", "A")
	active := newSession("s2", "", "C")
	require.NoError(t, active.Join("D"))
	require.True(t, active.Start(60, 60))
	t.Cleanup(func() { active.End("done") })

	require.NoError(t, r.Save(pending, "A"))
	require.NoError(t, r.Save(active, "C", "D"))

	assert.Equal(t, []*game.Session{active}, r.ListActive())
	assert.Len(t, r.List(), 2)
}
