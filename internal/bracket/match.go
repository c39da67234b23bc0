package bracket

import (
	"time"

	"github.com/google/uuid"
)

type MatchStatus string

const (
	MatchWaiting  MatchStatus = "WAITING"
	MatchActive   MatchStatus = "ACTIVE"
	MatchFinished MatchStatus = "FINISHED"
)

// Slot is the side of a match a player occupies, 1 for home and 2 for away.
type Slot int

const (
	SlotHome Slot = 1
	SlotAway Slot = 2
)

func (s Slot) Valid() bool {
	return s == SlotHome || s == SlotAway
}

func (s Slot) Other() Slot {
	if s == SlotHome {
		return SlotAway
	}
	return SlotHome
}

type Match struct {
	ID           uuid.UUID `db:"id" json:"id"`
	TournamentID uuid.UUID `db:"tournament_id" json:"tournamentId"`

	// Position in the bracket, ordinal is 0-based within the round
	RoundNumber int `db:"round_number" json:"roundNumber"`
	Ordinal     int `db:"ordinal" json:"ordinal"`

	Player1ID *uuid.UUID `db:"player1_id" json:"player1Id,omitempty"`
	Player2ID *uuid.UUID `db:"player2_id" json:"player2Id,omitempty"`
	BoardID   *uuid.UUID `db:"board_id" json:"boardId,omitempty"`

	Status MatchStatus `db:"status" json:"status"`

	CurrentLeg  int `db:"current_leg" json:"currentLeg"`
	CurrentSet  int `db:"current_set" json:"currentSet"`
	Player1Legs int `db:"player1_legs" json:"player1Legs"`
	Player2Legs int `db:"player2_legs" json:"player2Legs"`
	Player1Sets int `db:"player1_sets" json:"player1Sets"`
	Player2Sets int `db:"player2_sets" json:"player2Sets"`

	LegsToWin    int          `db:"legs_to_win" json:"legsToWin"`
	SetsToWin    int          `db:"sets_to_win" json:"setsToWin"`
	CheckoutMode CheckoutMode `db:"checkout_mode" json:"checkoutMode"`

	WinnerSlot *Slot `db:"winner_slot" json:"winnerSlot,omitempty"`
	IsBye      bool  `db:"is_bye" json:"isBye"`
	IsWalkover bool  `db:"is_walkover" json:"isWalkover"`

	StartedAt  *time.Time `db:"started_at" json:"startedAt,omitempty"`
	FinishedAt *time.Time `db:"finished_at" json:"finishedAt,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}

func (m *Match) IsWinner(slot Slot) bool {
	return m.Status == MatchFinished && m.WinnerSlot != nil && *m.WinnerSlot == slot
}

func (m *Match) IsLoser(slot Slot) bool {
	return m.Status == MatchFinished && m.WinnerSlot != nil && *m.WinnerSlot != slot
}

func (m *Match) Player(slot Slot) *uuid.UUID {
	if slot == SlotHome {
		return m.Player1ID
	}
	return m.Player2ID
}

func (m *Match) SetPlayer(slot Slot, id *uuid.UUID) {
	if slot == SlotHome {
		m.Player1ID = id
	} else {
		m.Player2ID = id
	}
}

// Ready reports whether both players are known.
func (m *Match) Ready() bool {
	return m.Player1ID != nil && m.Player2ID != nil
}

func (m *Match) Winner() *uuid.UUID {
	if m.Status != MatchFinished || m.WinnerSlot == nil {
		return nil
	}
	return m.Player(*m.WinnerSlot)
}

func (m *Match) Loser() *uuid.UUID {
	if m.Status != MatchFinished || m.WinnerSlot == nil || m.IsBye {
		return nil
	}
	return m.Player(m.WinnerSlot.Other())
}

func (m *Match) legs(slot Slot) *int {
	if slot == SlotHome {
		return &m.Player1Legs
	}
	return &m.Player2Legs
}

func (m *Match) sets(slot Slot) *int {
	if slot == SlotHome {
		return &m.Player1Sets
	}
	return &m.Player2Sets
}

// hasResults reports whether any leg or set has been recorded. A released match keeps them.
func (m *Match) hasResults() bool {
	return m.Player1Legs+m.Player2Legs+m.Player1Sets+m.Player2Sets > 0
}

func (m *Match) pristine() bool {
	return m.Status == MatchWaiting && m.BoardID == nil && m.WinnerSlot == nil &&
		m.CurrentLeg == 0 && m.Player1Legs == 0 && m.Player2Legs == 0 &&
		m.Player1Sets == 0 && m.Player2Sets == 0
}
