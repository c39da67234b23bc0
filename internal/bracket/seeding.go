package bracket

import (
	"fmt"
	"sort"

	"github.com/AdamBeresnev/dartsturnier/internal/utils"
	"github.com/google/uuid"
)

// Seed orders players by shootout score, highest first. Ties keep registration order and
// players without a score go last. The returned players carry dense 1-based seeds.
func Seed(players []Player, scores []ShootoutResult) []Player {
	byPlayer := make(map[uuid.UUID]int, len(scores))
	for _, s := range scores {
		byPlayer[s.PlayerID] = s.Score
	}

	seeded := make([]Player, len(players))
	copy(seeded, players)

	sort.SliceStable(seeded, func(i, j int) bool {
		si, iScored := byPlayer[seeded[i].ID]
		sj, jScored := byPlayer[seeded[j].ID]
		if iScored != jScored {
			return iScored
		}
		if iScored && si != sj {
			return si > sj
		}
		if seeded[i].RegistrationOrder != seeded[j].RegistrationOrder {
			return seeded[i].RegistrationOrder < seeded[j].RegistrationOrder
		}
		return seeded[i].RegisteredAt.Before(seeded[j].RegisteredAt)
	})

	for i := range seeded {
		seeded[i].Seed = utils.Ptr(i + 1)
	}
	return seeded
}

// SeedTournament seeds the confirmed players of a tournament that is in its shootout phase.
func SeedTournament(t *Tournament, players []Player, scores []ShootoutResult) ([]Player, error) {
	if t.Status != TournamentShootout {
		tid := t.ID
		return nil, &OpError{
			Op:           "seed",
			Err:          ErrIncompleteSeeding,
			TournamentID: &tid,
			Msg:          fmt.Sprintf("tournament is %s", t.Status),
		}
	}

	confirmed := make([]Player, 0, len(players))
	for _, p := range players {
		if p.Status == PlayerConfirmed {
			confirmed = append(confirmed, p)
		}
	}
	return Seed(confirmed, scores), nil
}
