package bracket

import (
	"time"

	"github.com/google/uuid"
)

type PlayerStatus string

const (
	PlayerRegistered PlayerStatus = "REGISTERED"
	PlayerConfirmed  PlayerStatus = "CONFIRMED"
	PlayerActive     PlayerStatus = "ACTIVE"
	PlayerEliminated PlayerStatus = "ELIMINATED"
	PlayerWithdrawn  PlayerStatus = "WITHDRAWN"
)

type Player struct {
	ID           uuid.UUID `db:"id" json:"id"`
	TournamentID uuid.UUID `db:"tournament_id" json:"tournamentId"`
	DisplayName  string    `db:"display_name" json:"displayName"`

	// Nil until the tournament leaves SHOOTOUT
	Seed   *int         `db:"seed" json:"seed,omitempty"`
	Status PlayerStatus `db:"status" json:"status"`

	RegistrationOrder int       `db:"registration_order" json:"registrationOrder"`
	RegisteredAt      time.Time `db:"registered_at" json:"registeredAt"`
}

type ShootoutResult struct {
	TournamentID uuid.UUID `db:"tournament_id" json:"tournamentId"`
	PlayerID     uuid.UUID `db:"player_id" json:"playerId"`
	Score        int       `db:"score" json:"score"`
	RecordedAt   time.Time `db:"recorded_at" json:"recordedAt"`
}
