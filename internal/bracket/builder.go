package bracket

import (
	"fmt"
	"math"
	"time"

	"github.com/AdamBeresnev/dartsturnier/internal/utils"
	"github.com/google/uuid"
)

// Gets the nearest power of 2 while rounding up, so with input 5 it returns 8 and so on
func BracketSize(count int) int {
	if count <= 0 {
		return 0
	}

	// Log2 -> Ceil -> 2^^log2 to round up
	log2 := math.Ceil(math.Log2(float64(count)))
	return int(math.Pow(2, log2))
}

// SeedPairs returns the 0-based seed indices meeting in each first-round match. Seeds 1 and 2
// land in opposite halves and indices past the player count are byes.
func SeedPairs(bracketSize int) [][2]int {
	if bracketSize == 0 {
		return [][2]int{}
	}

	order := []int{0}
	for len(order) < bracketSize {
		var next []int
		currentCount := len(order) * 2

		for _, seed := range order {
			next = append(next, seed)
			next = append(next, (currentCount-1)-seed)
		}
		order = next
	}

	pairs := make([][2]int, 0, bracketSize/2)
	for i := 0; i < len(order); i += 2 {
		pairs = append(pairs, [2]int{order[i], order[i+1]})
	}
	return pairs
}

// Build creates every match of a single elimination bracket for players ordered by seed.
// First-round byes are finished immediately and their players moved on.
func Build(t *Tournament, seeded []Player, now time.Time) ([]Match, error) {
	if len(seeded) < 2 {
		tid := t.ID
		return nil, &OpError{
			Op:           "build bracket",
			Err:          ErrInsufficientPlayers,
			TournamentID: &tid,
			Msg:          fmt.Sprintf("%d confirmed players", len(seeded)),
		}
	}

	bracketSize := BracketSize(len(seeded))
	totalRounds := int(math.Log2(float64(bracketSize)))

	matches := make([]Match, 0, bracketSize-1)
	for r := 1; r <= totalRounds; r++ {
		policy := t.PolicyFor(r)
		for i := 0; i < bracketSize>>r; i++ {
			matches = append(matches, Match{
				ID:           uuid.New(),
				TournamentID: t.ID,
				RoundNumber:  r,
				Ordinal:      i,
				Status:       MatchWaiting,
				LegsToWin:    policy.LegsToWin,
				SetsToWin:    policy.SetsToWin,
				CheckoutMode: t.CheckoutMode,
				CreatedAt:    now,
			})
		}
	}

	arena, err := NewArena(matches)
	if err != nil {
		return nil, err
	}

	for i, pair := range SeedPairs(bracketSize) {
		m := arena.At(1, i)
		if pair[0] < len(seeded) {
			m.Player1ID = utils.Ptr(seeded[pair[0]].ID)
		}
		if pair[1] < len(seeded) {
			m.Player2ID = utils.Ptr(seeded[pair[1]].ID)
		}
	}

	// Byes only occur in round 1 but advancing through the arena keeps propagation transitive
	for _, m := range arena.Round(1) {
		var slot Slot
		switch {
		case m.Player1ID != nil && m.Player2ID == nil:
			slot = SlotHome
		case m.Player1ID == nil && m.Player2ID != nil:
			slot = SlotAway
		default:
			continue
		}

		m.Status = MatchFinished
		m.WinnerSlot = &slot
		m.IsBye = true
		m.FinishedAt = &now
		if _, err := arena.advance(m); err != nil {
			return nil, err
		}
	}

	return arena.Matches(), nil
}

// CheckRebuild fails with ErrBracketLocked once any non-bye match has left WAITING or carries
// recorded legs.
func CheckRebuild(existing []Match) error {
	for i := range existing {
		m := existing[i]
		if m.IsBye {
			continue
		}
		if m.Status != MatchWaiting {
			return matchError("build bracket", ErrBracketLocked, &m, "match is %s", m.Status)
		}
		if m.hasResults() {
			return matchError("build bracket", ErrBracketLocked, &m, "match has recorded legs")
		}
	}
	return nil
}
