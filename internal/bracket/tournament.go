package bracket

import (
	"slices"
	"time"

	"github.com/AdamBeresnev/dartsturnier/internal/utils"
	"github.com/google/uuid"
)

type TournamentStatus string

const (
	TournamentUpcoming         TournamentStatus = "UPCOMING"
	TournamentRegistrationOpen TournamentStatus = "REGISTRATION_OPEN"
	TournamentShootout         TournamentStatus = "SHOOTOUT"
	TournamentActive           TournamentStatus = "ACTIVE"
	TournamentFinished         TournamentStatus = "FINISHED"
)

type CheckoutMode string

const (
	SingleOut CheckoutMode = "SINGLE"
	DoubleOut CheckoutMode = "DOUBLE"
)

type Tournament struct {
	ID           uuid.UUID        `db:"id" json:"id"`
	Name         string           `db:"name" json:"name"`
	Status       TournamentStatus `db:"status" json:"status"`
	MaxPlayers   int              `db:"max_players" json:"maxPlayers"`
	CheckoutMode CheckoutMode     `db:"checkout_mode" json:"checkoutMode"`

	// Nil falls back to first-to-2, or first-to-3 from round 5 on
	DefaultLegsToWin *int `db:"default_legs_to_win" json:"defaultLegsToWin,omitempty"`
	DefaultSetsToWin int  `db:"default_sets_to_win" json:"defaultSetsToWin"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`

	RoundPolicies []RoundPolicy `db:"-" json:"roundPolicies,omitempty"`
}

type RoundPolicy struct {
	TournamentID uuid.UUID `db:"tournament_id" json:"-"`
	RoundNumber  int       `db:"round_number" json:"roundNumber"`
	LegsToWin    int       `db:"legs_to_win" json:"legsToWin"`
	SetsToWin    int       `db:"sets_to_win" json:"setsToWin"`
}

// LegsToWinForBestOf converts a "best of X legs" format into the number of legs needed.
func LegsToWinForBestOf(bestOf int) int {
	if bestOf < 1 {
		return 1
	}
	return (bestOf + 1) / 2
}

// PolicyFor resolves the legs and sets needed to win a match in the given round.
func (t *Tournament) PolicyFor(round int) RoundPolicy {
	for _, p := range t.RoundPolicies {
		if p.RoundNumber == round {
			if p.SetsToWin < 1 {
				p.SetsToWin = 1
			}
			return p
		}
	}

	policy := RoundPolicy{TournamentID: t.ID, RoundNumber: round, SetsToWin: t.DefaultSetsToWin}
	if policy.SetsToWin < 1 {
		policy.SetsToWin = 1
	}

	switch legs := utils.OrZero(t.DefaultLegsToWin); {
	case legs > 0:
		policy.LegsToWin = legs
	case round >= 5:
		policy.LegsToWin = 3
	default:
		policy.LegsToWin = 2
	}
	return policy
}

var forwardTransitions = map[TournamentStatus]TournamentStatus{
	TournamentUpcoming:         TournamentRegistrationOpen,
	TournamentRegistrationOpen: TournamentShootout,
	TournamentShootout:         TournamentActive,
	TournamentActive:           TournamentFinished,
}

// Reversions only an admin reset may perform
var adminReversions = map[TournamentStatus][]TournamentStatus{
	TournamentShootout: {TournamentRegistrationOpen},
	TournamentActive:   {TournamentShootout},
	TournamentFinished: {TournamentActive, TournamentShootout},
}

func (t *Tournament) CanAdvanceTo(next TournamentStatus) bool {
	return forwardTransitions[t.Status] == next
}

func (t *Tournament) CanRevertTo(prev TournamentStatus) bool {
	return slices.Contains(adminReversions[t.Status], prev)
}
