package service

import (
	"context"
	"fmt"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/AdamBeresnev/dartsturnier/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type BracketGeneration struct {
	db    *sqlx.DB
	store *store.TournamentStore
	deps  Deps
}

func NewBracketService(db *sqlx.DB, store *store.TournamentStore, deps Deps) *BracketGeneration {
	return &BracketGeneration{db: db, store: store, deps: deps.withDefaults()}
}

type BracketData struct {
	Tournament *bracket.Tournament
	Players    []bracket.Player
	Matches    []bracket.Match
}

func (s *BracketGeneration) GetBracketData(ctx context.Context, tournamentID uuid.UUID) (*BracketData, error) {
	tournament, err := s.store.GetTournament(ctx, s.db, tournamentID)
	if err != nil {
		return nil, err
	}

	players, err := s.store.GetPlayers(ctx, s.db, tournamentID)
	if err != nil {
		return nil, err
	}

	matches, err := s.store.GetMatches(ctx, s.db, tournamentID)
	if err != nil {
		return nil, err
	}

	return &BracketData{
		Tournament: tournament,
		Players:    players,
		Matches:    matches,
	}, nil
}

// build replaces the tournament's bracket with one generated from seeded. It runs on the caller's
// transaction, so either the whole bracket is stored or none of it.
func (s *BracketGeneration) build(ctx context.Context, tx *sqlx.Tx, t *bracket.Tournament, seeded []bracket.Player) ([]bracket.Match, error) {
	existing, err := s.store.GetMatches(ctx, tx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get existing matches: %w", err)
	}
	if err := bracket.CheckRebuild(existing); err != nil {
		tid := t.ID
		return nil, &bracket.OpError{Op: "build bracket", Err: err, TournamentID: &tid, Msg: "matches already started"}
	}

	matches, err := bracket.Build(t, seeded, s.deps.Now())
	if err != nil {
		return nil, err
	}

	if len(existing) > 0 {
		if err := s.store.DeleteMatches(ctx, tx, t.ID); err != nil {
			return nil, fmt.Errorf("failed to delete previous bracket: %w", err)
		}
	}
	if err := s.store.CreateMatches(ctx, tx, matches); err != nil {
		return nil, err
	}

	s.deps.Logger.Info("bracket built",
		"tournament_id", t.ID,
		"players", len(seeded),
		"bracket_size", bracket.BracketSize(len(seeded)),
		"matches", len(matches),
	)
	return matches, nil
}
