package views

import (
	"testing"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareBracketData(t *testing.T) {
	p1 := bracket.Player{ID: uuid.New(), DisplayName: "Anna"}
	p2 := bracket.Player{ID: uuid.New(), DisplayName: "Bert"}

	matches := []bracket.Match{
		{ID: uuid.New(), RoundNumber: 2, Ordinal: 0},
		{ID: uuid.New(), RoundNumber: 1, Ordinal: 1},
		{ID: uuid.New(), RoundNumber: 1, Ordinal: 0, Player1ID: &p1.ID, Player2ID: &p2.ID},
	}

	data := PrepareBracketData(&bracket.Tournament{Name: "Cup"}, []bracket.Player{p1, p2}, matches)

	require.Equal(t, []int{1, 2}, data.RoundNums)
	require.Len(t, data.Rounds[1], 2)
	assert.Equal(t, 0, data.Rounds[1][0].Ordinal)
	assert.Equal(t, 1, data.Rounds[1][1].Ordinal)
	assert.Len(t, data.Rounds[2], 1)
	assert.Equal(t, "Final", data.RoundNames[2])
	assert.Equal(t, "Semi-final", data.RoundNames[1])
	assert.Equal(t, "Anna", data.PlayerMap[p1.ID].DisplayName)
}

func TestRoundName(t *testing.T) {
	testCases := []struct {
		round, total int
		expected     string
	}{
		{5, 5, "Final"},
		{4, 5, "Semi-final"},
		{3, 5, "Quarter-final"},
		{2, 5, "Round 2"},
		{1, 1, "Final"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, RoundName(tc.round, tc.total))
	}
}
