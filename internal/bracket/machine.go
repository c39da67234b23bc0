package bracket

import (
	"time"

	"github.com/google/uuid"
)

// The functions below are the match state machine. Each takes a match by value and returns the
// next state together with the events the transition emits, leaving persistence to the caller.

// Bind puts a WAITING match with both players known onto a board.
func Bind(m Match, boardID uuid.UUID, now time.Time) (Match, []Event, error) {
	if m.Status != MatchWaiting {
		return m, nil, matchError("bind", ErrInvalidMatchState, &m, "match is %s", m.Status)
	}
	if !m.Ready() {
		return m, nil, matchError("bind", ErrInvalidMatchState, &m, "players not resolved")
	}

	m.Status = MatchActive
	m.BoardID = &boardID
	if m.StartedAt == nil {
		m.StartedAt = &now
	}
	if m.CurrentLeg == 0 {
		m.CurrentLeg = 1
	}
	if m.CurrentSet == 0 {
		m.CurrentSet = 1
	}

	return m, []Event{NewMatchEvent(EventGameAssigned, &m, map[string]any{
		"roundNumber": m.RoundNumber,
		"ordinal":     m.Ordinal,
		"player1Id":   m.Player1ID,
		"player2Id":   m.Player2ID,
	})}, nil
}

// RecordLeg credits the current leg to the player in slot, closing the set and the match when
// their thresholds are reached.
func RecordLeg(m Match, slot Slot, now time.Time) (Match, []Event, error) {
	if !slot.Valid() {
		return m, nil, matchError("record leg", ErrInvalidMatchState, &m, "invalid slot %d", slot)
	}
	if m.Status != MatchActive {
		return m, nil, matchError("record leg", ErrInvalidMatchState, &m, "match is %s", m.Status)
	}

	*m.legs(slot)++
	events := []Event{NewMatchEvent(EventLegWon, &m, map[string]any{
		"slot":        slot,
		"leg":         m.CurrentLeg,
		"set":         m.CurrentSet,
		"player1Legs": m.Player1Legs,
		"player2Legs": m.Player2Legs,
	})}

	if *m.legs(slot) < m.LegsToWin {
		m.CurrentLeg++
		return m, events, nil
	}

	*m.sets(slot)++
	m.Player1Legs, m.Player2Legs = 0, 0
	events = append(events, NewMatchEvent(EventSetWon, &m, map[string]any{
		"slot":        slot,
		"set":         m.CurrentSet,
		"player1Sets": m.Player1Sets,
		"player2Sets": m.Player2Sets,
	}))

	if *m.sets(slot) < m.SetsToWin {
		m.CurrentLeg++
		m.CurrentSet++
		return m, events, nil
	}

	m, ev := finish(m, slot, false, now)
	return m, append(events, ev), nil
}

// Walkover finishes the match for slot without playing it.
func Walkover(m Match, slot Slot, now time.Time) (Match, []Event, error) {
	if !slot.Valid() {
		return m, nil, matchError("walkover", ErrInvalidMatchState, &m, "invalid slot %d", slot)
	}
	if m.Status == MatchFinished {
		return m, nil, matchError("walkover", ErrInvalidMatchState, &m, "match already finished")
	}
	if !m.Ready() {
		return m, nil, matchError("walkover", ErrInvalidMatchState, &m, "players not resolved")
	}

	m, ev := finish(m, slot, true, now)
	return m, []Event{ev}, nil
}

// Release takes an ACTIVE match off its board. Leg and set progress is kept.
func Release(m Match) (Match, []Event, error) {
	if m.Status != MatchActive {
		return m, nil, matchError("release", ErrInvalidMatchState, &m, "match is %s", m.Status)
	}

	ev := NewMatchEvent(EventGameReleased, &m, nil)
	m.Status = MatchWaiting
	m.BoardID = nil
	return m, []Event{ev}, nil
}

// Reset returns the match to a pristine WAITING state. Players stay, they belong to the feeders.
func Reset(m Match) (Match, []Event, error) {
	if m.IsBye {
		return m, nil, matchError("reset", ErrInvalidMatchState, &m, "bye matches cannot be reset")
	}
	if m.pristine() {
		return m, nil, nil
	}

	ev := NewMatchEvent(EventGameReset, &m, map[string]any{"previousStatus": m.Status})
	m.Status = MatchWaiting
	m.BoardID = nil
	m.WinnerSlot = nil
	m.IsWalkover = false
	m.CurrentLeg, m.CurrentSet = 0, 0
	m.Player1Legs, m.Player2Legs = 0, 0
	m.Player1Sets, m.Player2Sets = 0, 0
	m.StartedAt, m.FinishedAt = nil, nil
	return m, []Event{ev}, nil
}

func finish(m Match, slot Slot, walkover bool, now time.Time) (Match, Event) {
	m.Status = MatchFinished
	m.WinnerSlot = &slot
	m.IsWalkover = walkover
	m.FinishedAt = &now

	return m, NewMatchEvent(EventGameFinished, &m, map[string]any{
		"winnerSlot":  slot,
		"winnerId":    m.Player(slot),
		"walkover":    walkover,
		"player1Sets": m.Player1Sets,
		"player2Sets": m.Player2Sets,
	})
}
