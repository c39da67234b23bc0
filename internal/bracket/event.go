package bracket

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventGameAssigned      EventType = "GAME_ASSIGNED"
	EventLegWon            EventType = "LEG_WON"
	EventSetWon            EventType = "SET_WON"
	EventGameFinished      EventType = "GAME_FINISHED"
	EventGameReleased      EventType = "GAME_RELEASED"
	EventGameReset         EventType = "GAME_RESET"
	EventBracketAdvanced   EventType = "BRACKET_ADVANCED"
	EventThrowUpdated      EventType = "THROW_UPDATED"
	EventTournamentUpdated EventType = "TOURNAMENT_STATUS_CHANGED"
)

// Event is emitted by state transitions and published once the transition has been committed.
// OccurredAt is stamped at publish time.
type Event struct {
	Type         EventType      `json:"type"`
	TournamentID uuid.UUID      `json:"tournamentId"`
	MatchID      *uuid.UUID     `json:"matchId,omitempty"`
	BoardID      *uuid.UUID     `json:"boardId,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	OccurredAt   time.Time      `json:"occurredAt"`
}

func NewMatchEvent(t EventType, m *Match, payload map[string]any) Event {
	id := m.ID
	e := Event{Type: t, TournamentID: m.TournamentID, MatchID: &id, Payload: payload}
	if m.BoardID != nil {
		board := *m.BoardID
		e.BoardID = &board
	}
	return e
}

func NewTournamentEvent(t *Tournament, from TournamentStatus) Event {
	return Event{
		Type:         EventTournamentUpdated,
		TournamentID: t.ID,
		Payload:      map[string]any{"from": from, "to": t.Status},
	}
}
