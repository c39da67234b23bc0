package bracket

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestArena builds a first-to-one-leg bracket so a single RecordLeg finishes a match.
func newTestArena(t *testing.T, players int) (*Arena, []Player) {
	t.Helper()

	tournament := testTournament()
	one := 1
	tournament.DefaultLegsToWin = &one

	seeded := Seed(makePlayers(players), nil)
	matches, err := Build(tournament, seeded, time.Now())
	require.NoError(t, err)

	arena, err := NewArena(matches)
	require.NoError(t, err)
	return arena, seeded
}

func playMatch(t *testing.T, a *Arena, m *Match, winner Slot) []Event {
	t.Helper()
	_, err := a.Bind(m.ID, uuid.New(), time.Now())
	require.NoError(t, err)
	events, err := a.RecordLeg(m.ID, winner, time.Now())
	require.NoError(t, err)
	return events
}

func TestNewArena_Validation(t *testing.T) {
	arena, _ := newTestArena(t, 8)
	matches := arena.Matches()

	t.Run("Missing match", func(t *testing.T) {
		_, err := NewArena(matches[1:])
		assert.Error(t, err)
	})

	t.Run("Duplicate position", func(t *testing.T) {
		dup := append([]Match{}, matches...)
		dup[1].Ordinal = 0
		_, err := NewArena(dup)
		assert.Error(t, err)
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := NewArena(nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestArena_SuccessorArithmetic(t *testing.T) {
	arena, _ := newTestArena(t, 8)

	for _, m := range arena.Round(1) {
		next, slot := arena.Successor(m)
		require.NotNil(t, next)
		assert.Equal(t, 2, next.RoundNumber)
		assert.Equal(t, m.Ordinal/2, next.Ordinal)
		if m.Ordinal%2 == 0 {
			assert.Equal(t, SlotHome, slot)
		} else {
			assert.Equal(t, SlotAway, slot)
		}
		assert.Same(t, m, arena.Feeder(next, slot))
	}

	next, _ := arena.Successor(arena.Final())
	assert.Nil(t, next)
	assert.Nil(t, arena.Feeder(arena.At(1, 0), SlotHome))
}

func TestArena_RecordLegAdvancesWinner(t *testing.T) {
	arena, seeded := newTestArena(t, 4)

	first := arena.At(1, 0)
	events := playMatch(t, arena, first, SlotHome)
	assert.Equal(t, []EventType{EventLegWon, EventSetWon, EventGameFinished, EventBracketAdvanced}, eventTypes(events))

	final := arena.Final()
	require.NotNil(t, final.Player1ID)
	assert.Equal(t, seeded[0].ID, *final.Player1ID)
	assert.Nil(t, final.Player2ID)
	assert.Equal(t, MatchWaiting, final.Status)

	second := arena.At(1, 1)
	playMatch(t, arena, second, SlotAway)
	require.NotNil(t, final.Player2ID)
	assert.Equal(t, seeded[2].ID, *final.Player2ID)
	assert.True(t, final.Ready())

	assert.False(t, arena.Finished())
	events = playMatch(t, arena, final, SlotAway)
	assert.Equal(t, EventGameFinished, events[len(events)-1].Type)
	assert.True(t, arena.Finished())

	eliminated := arena.Eliminated()
	assert.Len(t, eliminated, 3)
	assert.False(t, eliminated[seeded[2].ID])

	dirty := arena.Dirty()
	assert.Len(t, dirty, 3)
	assert.Equal(t, 1, dirty[0].RoundNumber)
	assert.Equal(t, 2, dirty[2].RoundNumber)
}

func TestArena_Walkover(t *testing.T) {
	arena, seeded := newTestArena(t, 4)

	m := arena.At(1, 1)
	events, err := arena.Walkover(m.ID, SlotHome, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventGameFinished, EventBracketAdvanced}, eventTypes(events))
	assert.True(t, m.IsWalkover)
	assert.Equal(t, seeded[1].ID, *arena.Final().Player2ID)
}

func TestArena_ResetCascades(t *testing.T) {
	arena, _ := newTestArena(t, 8)

	playMatch(t, arena, arena.At(1, 0), SlotHome)
	playMatch(t, arena, arena.At(1, 1), SlotHome)

	semi := arena.At(2, 0)
	require.True(t, semi.Ready())
	_, err := arena.Bind(semi.ID, uuid.New(), time.Now())
	require.NoError(t, err)

	events, err := arena.Reset(arena.At(1, 1).ID)
	require.NoError(t, err)

	// The semi had started with the reset match's winner, so it goes back too
	assert.Equal(t, []EventType{EventGameReset, EventGameReset}, eventTypes(events))
	assert.Equal(t, MatchWaiting, semi.Status)
	assert.Nil(t, semi.BoardID)
	assert.NotNil(t, semi.Player1ID)
	assert.Nil(t, semi.Player2ID)
	assert.Equal(t, MatchWaiting, arena.At(1, 1).Status)
}

func TestArena_ResetUnstartedSuccessorOnlyClearsSlot(t *testing.T) {
	arena, _ := newTestArena(t, 8)

	playMatch(t, arena, arena.At(1, 2), SlotAway)
	semi := arena.At(2, 1)
	require.NotNil(t, semi.Player1ID)

	events, err := arena.Reset(arena.At(1, 2).ID)
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventGameReset}, eventTypes(events))
	assert.Nil(t, semi.Player1ID)
}

func TestArena_ResetFrom(t *testing.T) {
	arena, _ := newTestArena(t, 6)

	// Round 1 has byes for the top two seeds and two real matches
	for _, m := range arena.Round(1) {
		if !m.IsBye {
			playMatch(t, arena, m, SlotHome)
		}
	}
	for _, m := range arena.Round(2) {
		require.True(t, m.Ready())
		playMatch(t, arena, m, SlotAway)
	}
	final := arena.Final()
	require.True(t, final.Ready())
	_, err := arena.Bind(final.ID, uuid.New(), time.Now())
	require.NoError(t, err)

	_, err = arena.ResetFrom(2)
	require.NoError(t, err)

	for _, m := range arena.Round(2) {
		assert.Equal(t, MatchWaiting, m.Status)
		assert.True(t, m.Ready(), "round 2 players come from round 1 and stay")
	}
	assert.Equal(t, MatchWaiting, final.Status)
	assert.Nil(t, final.BoardID)
	assert.Nil(t, final.Player1ID)
	assert.Nil(t, final.Player2ID)

	for _, m := range arena.Round(1) {
		assert.Equal(t, MatchFinished, m.Status)
	}

	_, err = arena.ResetFrom(1)
	require.NoError(t, err)
	for _, m := range arena.Round(1) {
		if m.IsBye {
			assert.Equal(t, MatchFinished, m.Status, "byes are structural")
			next, slot := arena.Successor(m)
			assert.NotNil(t, next.Player(slot))
		} else {
			assert.Equal(t, MatchWaiting, m.Status)
		}
	}
	assert.Empty(t, arena.Eliminated())
}

func TestArena_ResetFromUnknownRound(t *testing.T) {
	arena, _ := newTestArena(t, 4)

	for _, round := range []int{0, 3, -1} {
		_, err := arena.ResetFrom(round)
		assert.ErrorIs(t, err, ErrRoundNotFound)
	}
}

func TestArena_AdvanceIntoStartedSuccessorFails(t *testing.T) {
	arena, _ := newTestArena(t, 4)

	playMatch(t, arena, arena.At(1, 0), SlotHome)
	playMatch(t, arena, arena.At(1, 1), SlotHome)
	final := arena.Final()
	_, err := arena.Bind(final.ID, uuid.New(), time.Now())
	require.NoError(t, err)

	// Force a finished feeder back to ACTIVE so its winner would land in a running final
	feeder := arena.At(1, 0)
	feeder.Status = MatchActive
	_, err = arena.RecordLeg(feeder.ID, SlotAway, time.Now())
	assert.ErrorIs(t, err, ErrInvalidMatchState)
}
