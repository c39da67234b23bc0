package bracket

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Arena holds a tournament's matches indexed by (round, ordinal). Successors and feeders are
// found arithmetically, so no match stores a link to another.
type Arena struct {
	rounds [][]*Match
	byID   map[uuid.UUID]*Match
	dirty  map[uuid.UUID]*Match
}

func NewArena(matches []Match) (*Arena, error) {
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no matches", ErrNotFound)
	}

	maxRound := 0
	for i := range matches {
		if matches[i].RoundNumber > maxRound {
			maxRound = matches[i].RoundNumber
		}
	}

	a := &Arena{
		rounds: make([][]*Match, maxRound),
		byID:   make(map[uuid.UUID]*Match, len(matches)),
		dirty:  make(map[uuid.UUID]*Match),
	}
	for r := 1; r <= maxRound; r++ {
		a.rounds[r-1] = make([]*Match, 1<<(maxRound-r))
	}

	for i := range matches {
		m := matches[i]
		r, o := m.RoundNumber, m.Ordinal
		if r < 1 || o < 0 || o >= len(a.rounds[r-1]) {
			return nil, fmt.Errorf("match %s at round %d ordinal %d is outside the bracket", m.ID, r, o)
		}
		if a.rounds[r-1][o] != nil {
			return nil, fmt.Errorf("duplicate match at round %d ordinal %d", r, o)
		}
		a.rounds[r-1][o] = &m
		a.byID[m.ID] = &m
	}

	for r, round := range a.rounds {
		for o, m := range round {
			if m == nil {
				return nil, fmt.Errorf("missing match at round %d ordinal %d", r+1, o)
			}
		}
	}

	return a, nil
}

func (a *Arena) Rounds() int {
	return len(a.rounds)
}

// Round returns the matches of a 1-based round ordered by ordinal.
func (a *Arena) Round(r int) []*Match {
	if r < 1 || r > len(a.rounds) {
		return nil
	}
	return a.rounds[r-1]
}

func (a *Arena) At(round, ordinal int) *Match {
	matches := a.Round(round)
	if ordinal < 0 || ordinal >= len(matches) {
		return nil
	}
	return matches[ordinal]
}

func (a *Arena) Match(id uuid.UUID) (*Match, bool) {
	m, ok := a.byID[id]
	return m, ok
}

func (a *Arena) Final() *Match {
	return a.At(len(a.rounds), 0)
}

// Successor returns the match the winner of m moves into and the slot they take there.
// The final has no successor.
func (a *Arena) Successor(m *Match) (*Match, Slot) {
	next := a.At(m.RoundNumber+1, m.Ordinal/2)
	if next == nil {
		return nil, 0
	}
	if m.Ordinal%2 == 0 {
		return next, SlotHome
	}
	return next, SlotAway
}

// Feeder returns the match whose winner fills slot of m, nil in round 1.
func (a *Arena) Feeder(m *Match, slot Slot) *Match {
	return a.At(m.RoundNumber-1, m.Ordinal*2+int(slot)-1)
}

// Matches returns a copy of every match ordered by round and ordinal.
func (a *Arena) Matches() []Match {
	out := make([]Match, 0, len(a.byID))
	for _, round := range a.rounds {
		for _, m := range round {
			out = append(out, *m)
		}
	}
	return out
}

// Dirty returns the matches changed since the arena was loaded, ordered by round and ordinal.
func (a *Arena) Dirty() []Match {
	out := make([]Match, 0, len(a.dirty))
	for _, m := range a.dirty {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoundNumber != out[j].RoundNumber {
			return out[i].RoundNumber < out[j].RoundNumber
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	return out
}

// Eliminated returns the players who lost a finished match.
func (a *Arena) Eliminated() map[uuid.UUID]bool {
	out := make(map[uuid.UUID]bool)
	for _, m := range a.byID {
		if loser := m.Loser(); loser != nil {
			out[*loser] = true
		}
	}
	return out
}

func (a *Arena) Finished() bool {
	final := a.Final()
	return final != nil && final.Status == MatchFinished
}

func (a *Arena) lookup(id uuid.UUID) (*Match, error) {
	m, ok := a.byID[id]
	if !ok {
		return nil, &OpError{Op: "lookup", Err: ErrNotFound, MatchID: &id}
	}
	return m, nil
}

func (a *Arena) apply(m *Match, next Match) {
	*m = next
	a.dirty[m.ID] = m
}

func (a *Arena) Bind(id, boardID uuid.UUID, now time.Time) ([]Event, error) {
	m, err := a.lookup(id)
	if err != nil {
		return nil, err
	}
	next, events, err := Bind(*m, boardID, now)
	if err != nil {
		return nil, err
	}
	a.apply(m, next)
	return events, nil
}

func (a *Arena) RecordLeg(id uuid.UUID, slot Slot, now time.Time) ([]Event, error) {
	m, err := a.lookup(id)
	if err != nil {
		return nil, err
	}
	next, events, err := RecordLeg(*m, slot, now)
	if err != nil {
		return nil, err
	}
	a.apply(m, next)

	if m.Status == MatchFinished {
		advanced, err := a.advance(m)
		if err != nil {
			return nil, err
		}
		events = append(events, advanced...)
	}
	return events, nil
}

func (a *Arena) Walkover(id uuid.UUID, slot Slot, now time.Time) ([]Event, error) {
	m, err := a.lookup(id)
	if err != nil {
		return nil, err
	}
	next, events, err := Walkover(*m, slot, now)
	if err != nil {
		return nil, err
	}
	a.apply(m, next)

	advanced, err := a.advance(m)
	if err != nil {
		return nil, err
	}
	return append(events, advanced...), nil
}

func (a *Arena) Release(id uuid.UUID) ([]Event, error) {
	m, err := a.lookup(id)
	if err != nil {
		return nil, err
	}
	next, events, err := Release(*m)
	if err != nil {
		return nil, err
	}
	a.apply(m, next)
	return events, nil
}

// Reset returns a match to WAITING and takes its winner back out of the bracket, resetting any
// successor that already started with that winner.
func (a *Arena) Reset(id uuid.UUID) ([]Event, error) {
	m, err := a.lookup(id)
	if err != nil {
		return nil, err
	}
	return a.reset(m)
}

// ResetFrom resets every match in the given round and all later rounds. Byes are kept.
func (a *Arena) ResetFrom(round int) ([]Event, error) {
	if round < 1 || round > len(a.rounds) {
		return nil, &OpError{Op: "reset round", Err: ErrRoundNotFound, Msg: fmt.Sprintf("round %d", round)}
	}

	var events []Event
	for r := round; r <= len(a.rounds); r++ {
		for _, m := range a.rounds[r-1] {
			if m.IsBye {
				continue
			}
			evs, err := a.reset(m)
			if err != nil {
				return nil, err
			}
			events = append(events, evs...)
		}
	}
	return events, nil
}

func (a *Arena) reset(m *Match) ([]Event, error) {
	var events []Event

	if winner := m.Winner(); winner != nil {
		if next, slot := a.Successor(m); next != nil {
			if held := next.Player(slot); held != nil && *held == *winner {
				if !next.pristine() {
					evs, err := a.reset(next)
					if err != nil {
						return nil, err
					}
					events = append(events, evs...)
				}
				next.SetPlayer(slot, nil)
				a.dirty[next.ID] = next
			}
		}
	}

	next, evs, err := Reset(*m)
	if err != nil {
		return nil, err
	}
	a.apply(m, next)
	return append(events, evs...), nil
}

// advance writes the winner of a finished match into its successor.
func (a *Arena) advance(m *Match) ([]Event, error) {
	next, slot := a.Successor(m)
	if next == nil {
		return nil, nil
	}
	if next.Status != MatchWaiting {
		return nil, matchError("advance", ErrInvalidMatchState, next, "successor is %s", next.Status)
	}

	winner := m.Winner()
	next.SetPlayer(slot, winner)
	a.dirty[next.ID] = next

	return []Event{NewMatchEvent(EventBracketAdvanced, next, map[string]any{
		"fromMatchId": m.ID,
		"slot":        slot,
		"playerId":    winner,
	})}, nil
}
