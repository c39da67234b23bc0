package service

import (
	"context"
	"fmt"
	"time"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/AdamBeresnev/dartsturnier/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type SeedingService struct {
	db    *sqlx.DB
	store *store.TournamentStore
	deps  Deps
}

func NewSeedingService(db *sqlx.DB, store *store.TournamentStore, deps Deps) *SeedingService {
	return &SeedingService{db: db, store: store, deps: deps.withDefaults()}
}

// RecordShootoutScore stores (or replaces) a confirmed player's shootout score.
func (s *SeedingService) RecordShootoutScore(ctx context.Context, playerID uuid.UUID, score int) (*bracket.ShootoutResult, error) {
	if err := requireAdmin(ctx, "record shootout score"); err != nil {
		return nil, err
	}
	if score < 0 {
		return nil, fmt.Errorf("%w: negative shootout score %d", bracket.ErrInvalidInput, score)
	}

	var result *bracket.ShootoutResult
	err := store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		player, err := s.store.GetPlayer(ctx, tx, playerID)
		if err != nil {
			return err
		}
		t, err := s.store.GetTournament(ctx, tx, player.TournamentID)
		if err != nil {
			return err
		}
		if t.Status != bracket.TournamentShootout {
			return fmt.Errorf("%w: shootout scores can only be recorded during the shootout, tournament is %s",
				bracket.ErrInvalidTransition, t.Status)
		}
		if player.Status != bracket.PlayerConfirmed {
			return fmt.Errorf("%w: player %s is %s", bracket.ErrInvalidInput, player.DisplayName, player.Status)
		}

		result = &bracket.ShootoutResult{
			TournamentID: t.ID,
			PlayerID:     player.ID,
			Score:        score,
			RecordedAt:   s.deps.Now(),
		}
		return s.store.UpsertShootoutResult(ctx, tx, result)
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.Info("shootout score recorded", "player_id", playerID, "score", score)
	return result, nil
}

// Standings previews the seeding the current shootout scores would produce.
func (s *SeedingService) Standings(ctx context.Context, tournamentID uuid.UUID) ([]bracket.Player, error) {
	t, err := s.store.GetTournament(ctx, s.db, tournamentID)
	if err != nil {
		return nil, err
	}
	return s.seed(ctx, s.db, t)
}

// seed orders the confirmed players of a SHOOTOUT tournament. Inside Start it runs on the
// transaction so the seeds match the scores that were read.
func (s *SeedingService) seed(ctx context.Context, q sqlx.QueryerContext, t *bracket.Tournament) ([]bracket.Player, error) {
	started := time.Now()

	players, err := s.store.GetPlayers(ctx, q, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get players: %w", err)
	}
	scores, err := s.store.GetShootoutResults(ctx, q, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get shootout results: %w", err)
	}

	seeded, err := bracket.SeedTournament(t, players, scores)
	if err != nil {
		return nil, err
	}
	s.deps.Logger.Debug("players seeded", "tournament_id", t.ID, "players", len(seeded), "scores", len(scores),
		"took", time.Since(started))
	return seeded, nil
}
