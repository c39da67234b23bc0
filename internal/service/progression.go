package service

import (
	"context"
	"fmt"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/AdamBeresnev/dartsturnier/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// progression loads a tournament's bracket inside a transaction, applies a change to it and writes
// back everything the change touched. It is shared by the services that move matches.
type progression struct {
	store *store.TournamentStore
}

type arenaFunc func(a *bracket.Arena, t *bracket.Tournament) ([]bracket.Event, error)

func (p progression) apply(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID, fn arenaFunc) ([]bracket.Event, error) {
	t, err := p.store.GetTournament(ctx, tx, tournamentID)
	if err != nil {
		return nil, err
	}
	matches, err := p.store.GetMatches(ctx, tx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get matches: %w", err)
	}
	arena, err := bracket.NewArena(matches)
	if err != nil {
		return nil, fmt.Errorf("failed to load bracket of tournament %s: %w", tournamentID, err)
	}

	loaded := make(map[uuid.UUID]bracket.MatchStatus, len(matches))
	for _, m := range matches {
		loaded[m.ID] = m.Status
	}

	evs, err := fn(arena, t)
	if err != nil {
		return nil, err
	}

	for _, m := range arena.Dirty() {
		if err := p.store.UpdateMatch(ctx, tx, &m, loaded[m.ID]); err != nil {
			return nil, fmt.Errorf("failed to update match %d/%d: %w", m.RoundNumber, m.Ordinal, err)
		}
	}

	if err := p.syncPlayers(ctx, tx, t.ID, arena); err != nil {
		return nil, err
	}

	statusEvent, err := p.syncTournament(ctx, tx, t, arena)
	if err != nil {
		return nil, err
	}
	if statusEvent != nil {
		evs = append(evs, *statusEvent)
	}
	return evs, nil
}

// syncPlayers marks the losers of finished matches ELIMINATED and brings players whose loss was
// reset back to ACTIVE.
func (p progression) syncPlayers(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID, arena *bracket.Arena) error {
	players, err := p.store.GetPlayers(ctx, tx, tournamentID)
	if err != nil {
		return fmt.Errorf("failed to get players: %w", err)
	}
	eliminated := arena.Eliminated()

	for _, pl := range players {
		var want bracket.PlayerStatus
		switch {
		case pl.Status == bracket.PlayerActive && eliminated[pl.ID]:
			want = bracket.PlayerEliminated
		case pl.Status == bracket.PlayerEliminated && !eliminated[pl.ID]:
			want = bracket.PlayerActive
		default:
			continue
		}
		if err := p.store.UpdatePlayerStatus(ctx, tx, pl.ID, want); err != nil {
			return fmt.Errorf("failed to update player status: %w", err)
		}
	}
	return nil
}

// syncTournament finishes the tournament with its final, and reopens it when the final is reset.
func (p progression) syncTournament(ctx context.Context, tx *sqlx.Tx, t *bracket.Tournament, arena *bracket.Arena) (*bracket.Event, error) {
	var next bracket.TournamentStatus
	switch {
	case t.Status == bracket.TournamentActive && arena.Finished():
		next = bracket.TournamentFinished
	case t.Status == bracket.TournamentFinished && !arena.Finished():
		next = bracket.TournamentActive
	default:
		return nil, nil
	}

	from := t.Status
	if err := p.store.UpdateTournamentStatus(ctx, tx, t.ID, from, next); err != nil {
		return nil, fmt.Errorf("failed to update tournament status: %w", err)
	}
	t.Status = next
	ev := bracket.NewTournamentEvent(t, from)
	return &ev, nil
}
