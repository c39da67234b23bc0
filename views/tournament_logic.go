package views

import (
	"fmt"
	"sort"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/google/uuid"
)

// BracketData is the bracket grouped by round, for clients that draw it themselves.
type BracketData struct {
	Tournament *bracket.Tournament          `json:"tournament"`
	Rounds     map[int][]bracket.Match      `json:"rounds"`
	RoundNums  []int                        `json:"roundNumbers"`
	RoundNames map[int]string               `json:"roundNames"`
	PlayerMap  map[uuid.UUID]bracket.Player `json:"players"`
}

func PrepareBracketData(t *bracket.Tournament, players []bracket.Player, matches []bracket.Match) BracketData {
	playerMap := make(map[uuid.UUID]bracket.Player, len(players))
	for _, p := range players {
		playerMap[p.ID] = p
	}

	rounds := make(map[int][]bracket.Match)
	var roundNums []int
	for _, m := range matches {
		if _, exists := rounds[m.RoundNumber]; !exists {
			roundNums = append(roundNums, m.RoundNumber)
		}
		rounds[m.RoundNumber] = append(rounds[m.RoundNumber], m)
	}

	sort.Ints(roundNums)
	for _, r := range roundNums {
		sort.Slice(rounds[r], func(i, j int) bool {
			return rounds[r][i].Ordinal < rounds[r][j].Ordinal
		})
	}

	names := make(map[int]string, len(roundNums))
	for _, r := range roundNums {
		names[r] = RoundName(r, len(roundNums))
	}

	return BracketData{
		Tournament: t,
		Rounds:     rounds,
		RoundNums:  roundNums,
		RoundNames: names,
		PlayerMap:  playerMap,
	}
}

// RoundName names the last three rounds, earlier rounds are numbered.
func RoundName(round, totalRounds int) string {
	switch totalRounds - round {
	case 0:
		return "Final"
	case 1:
		return "Semi-final"
	case 2:
		return "Quarter-final"
	default:
		return fmt.Sprintf("Round %d", round)
	}
}
