package bracket

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func displayNames(players []Player) []string {
	names := make([]string, len(players))
	for i, p := range players {
		names[i] = p.DisplayName
	}
	return names
}

func scoresFor(players []Player, scores map[int]int) []ShootoutResult {
	var results []ShootoutResult
	for idx, score := range scores {
		results = append(results, ShootoutResult{PlayerID: players[idx].ID, Score: score})
	}
	return results
}

func TestSeed_Ordering(t *testing.T) {
	testCases := []struct {
		name     string
		count    int
		scores   map[int]int
		expected []string
	}{
		{
			name:     "Highest score first",
			count:    4,
			scores:   map[int]int{0: 40, 1: 180, 2: 100, 3: 60},
			expected: []string{"Player 2", "Player 3", "Player 4", "Player 1"},
		},
		{
			name:     "Ties keep registration order",
			count:    4,
			scores:   map[int]int{0: 60, 1: 100, 2: 100, 3: 60},
			expected: []string{"Player 2", "Player 3", "Player 1", "Player 4"},
		},
		{
			name:     "Unscored players go last",
			count:    5,
			scores:   map[int]int{1: 20, 3: 140},
			expected: []string{"Player 4", "Player 2", "Player 1", "Player 3", "Player 5"},
		},
		{
			name:     "Zero is still a score",
			count:    3,
			scores:   map[int]int{2: 0},
			expected: []string{"Player 3", "Player 1", "Player 2"},
		},
		{
			name:     "No scores at all",
			count:    3,
			expected: []string{"Player 1", "Player 2", "Player 3"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			players := makePlayers(tc.count)
			seeded := Seed(players, scoresFor(players, tc.scores))

			if diff := cmp.Diff(tc.expected, displayNames(seeded)); diff != "" {
				t.Errorf("seed order mismatch (-want +got):\n%s", diff)
			}
			for i, p := range seeded {
				require.NotNil(t, p.Seed)
				assert.Equal(t, i+1, *p.Seed)
			}
		})
	}
}

func TestSeed_Deterministic(t *testing.T) {
	players := makePlayers(16)
	scores := make([]ShootoutResult, 0, len(players))
	for i, p := range players {
		scores = append(scores, ShootoutResult{PlayerID: p.ID, Score: (i * 37) % 5})
	}

	first := Seed(players, scores)

	// Input order must not matter
	reversed := make([]Player, len(players))
	for i := range players {
		reversed[len(players)-1-i] = players[i]
	}
	second := Seed(reversed, scores)

	assert.Equal(t, first, second)
}

func TestSeedTournament(t *testing.T) {
	players := makePlayers(4)
	players[2].Status = PlayerRegistered
	players[3].Status = PlayerWithdrawn

	t.Run("Only confirmed players are seeded", func(t *testing.T) {
		seeded, err := SeedTournament(testTournament(), players, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"Player 1", "Player 2"}, displayNames(seeded))
	})

	t.Run("Fails outside of the shootout", func(t *testing.T) {
		for _, status := range []TournamentStatus{TournamentRegistrationOpen, TournamentActive, TournamentFinished} {
			tournament := testTournament()
			tournament.Status = status

			_, err := SeedTournament(tournament, players, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrIncompleteSeeding)
		}
	})

	t.Run("Scores for unknown players are ignored", func(t *testing.T) {
		scores := []ShootoutResult{{PlayerID: uuid.New(), Score: 501}}
		seeded, err := SeedTournament(testTournament(), players, scores)
		require.NoError(t, err)
		assert.Len(t, seeded, 2)
	})
}
