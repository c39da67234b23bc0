package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/AdamBeresnev/dartsturnier/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const maxDisplayNameLength = 50

type PlayerService struct {
	db    *sqlx.DB
	store *store.TournamentStore
	deps  Deps
}

func NewPlayerService(db *sqlx.DB, store *store.TournamentStore, deps Deps) *PlayerService {
	return &PlayerService{db: db, store: store, deps: deps.withDefaults()}
}

func normalizeDisplayName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" || len([]rune(name)) > maxDisplayNameLength {
		return "", fmt.Errorf("%w: display name must be 1-%d characters", bracket.ErrInvalidInput, maxDisplayNameLength)
	}
	return name, nil
}

// Register signs a player up for a tournament with open registration. Self-registration is
// public and needs no principal: the route is rate limited, and the tournament has to be
// REGISTRATION_OPEN with a free place. Players only count once an admin confirms them.
func (s *PlayerService) Register(ctx context.Context, tournamentID uuid.UUID, displayName string) (*bracket.Player, error) {
	name, err := normalizeDisplayName(displayName)
	if err != nil {
		return nil, err
	}

	var player *bracket.Player
	err = store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		t, err := s.store.GetTournament(ctx, tx, tournamentID)
		if err != nil {
			return err
		}
		if t.Status != bracket.TournamentRegistrationOpen {
			return &bracket.OpError{
				Op:           "register",
				Err:          bracket.ErrRegistrationClosed,
				TournamentID: &t.ID,
				Msg:          fmt.Sprintf("tournament is %s", t.Status),
			}
		}
		player, err = s.register(ctx, tx, t, name, bracket.PlayerRegistered)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.Info("player registered", "tournament_id", tournamentID, "player_id", player.ID)
	return player, nil
}

// RegisterMany enters one confirmed player per line. Blank lines are skipped.
func (s *PlayerService) RegisterMany(ctx context.Context, tournamentID uuid.UUID, names string) ([]bracket.Player, error) {
	if err := requireAdmin(ctx, "register players"); err != nil {
		return nil, err
	}

	var lines []string
	for _, line := range strings.Split(names, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		name, err := normalizeDisplayName(line)
		if err != nil {
			return nil, err
		}
		lines = append(lines, name)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no player names given", bracket.ErrInvalidInput)
	}

	var players []bracket.Player
	err := store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		t, err := s.store.GetTournament(ctx, tx, tournamentID)
		if err != nil {
			return err
		}
		if t.Status != bracket.TournamentUpcoming && t.Status != bracket.TournamentRegistrationOpen {
			return &bracket.OpError{
				Op:           "register players",
				Err:          bracket.ErrRegistrationClosed,
				TournamentID: &t.ID,
				Msg:          fmt.Sprintf("tournament is %s", t.Status),
			}
		}

		for _, name := range lines {
			p, err := s.register(ctx, tx, t, name, bracket.PlayerConfirmed)
			if err != nil {
				return err
			}
			players = append(players, *p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.Info("players registered", "tournament_id", tournamentID, "count", len(players))
	return players, nil
}

// register enforces capacity and unique names inside the caller's transaction.
func (s *PlayerService) register(ctx context.Context, tx *sqlx.Tx, t *bracket.Tournament, name string, status bracket.PlayerStatus) (*bracket.Player, error) {
	if t.MaxPlayers > 0 {
		count, err := s.store.CountPlayers(ctx, tx, t.ID, bracket.PlayerRegistered, bracket.PlayerConfirmed)
		if err != nil {
			return nil, fmt.Errorf("failed to count players: %w", err)
		}
		if count >= t.MaxPlayers {
			return nil, &bracket.OpError{
				Op:           "register",
				Err:          bracket.ErrTournamentFull,
				TournamentID: &t.ID,
				Msg:          fmt.Sprintf("%d of %d places taken", count, t.MaxPlayers),
			}
		}
	}

	existing, err := s.store.GetPlayers(ctx, tx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get players: %w", err)
	}
	for _, p := range existing {
		if p.Status != bracket.PlayerWithdrawn && strings.EqualFold(p.DisplayName, name) {
			return nil, fmt.Errorf("%w: %q is already registered", store.ErrDuplicate, name)
		}
	}

	order, err := s.store.NextRegistrationOrder(ctx, tx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get registration order: %w", err)
	}

	player := &bracket.Player{
		ID:                uuid.New(),
		TournamentID:      t.ID,
		DisplayName:       name,
		Status:            status,
		RegistrationOrder: order,
		RegisteredAt:      s.deps.Now(),
	}
	if err := s.store.CreatePlayer(ctx, tx, player); err != nil {
		return nil, err
	}
	return player, nil
}

// Confirm admits a registered player to the shootout.
func (s *PlayerService) Confirm(ctx context.Context, playerID uuid.UUID) (*bracket.Player, error) {
	return s.setStatus(ctx, "confirm player", playerID, bracket.PlayerConfirmed,
		[]bracket.TournamentStatus{bracket.TournamentUpcoming, bracket.TournamentRegistrationOpen},
		[]bracket.PlayerStatus{bracket.PlayerRegistered})
}

// Withdraw removes a player before the bracket is built. Their shootout score is ignored when seeding.
func (s *PlayerService) Withdraw(ctx context.Context, playerID uuid.UUID) (*bracket.Player, error) {
	return s.setStatus(ctx, "withdraw player", playerID, bracket.PlayerWithdrawn,
		[]bracket.TournamentStatus{bracket.TournamentUpcoming, bracket.TournamentRegistrationOpen, bracket.TournamentShootout},
		[]bracket.PlayerStatus{bracket.PlayerRegistered, bracket.PlayerConfirmed})
}

func (s *PlayerService) setStatus(ctx context.Context, op string, playerID uuid.UUID, to bracket.PlayerStatus, phases []bracket.TournamentStatus, from []bracket.PlayerStatus) (*bracket.Player, error) {
	if err := requireAdmin(ctx, op); err != nil {
		return nil, err
	}

	var player *bracket.Player
	err := store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		player, err = s.store.GetPlayer(ctx, tx, playerID)
		if err != nil {
			return err
		}
		t, err := s.store.GetTournament(ctx, tx, player.TournamentID)
		if err != nil {
			return err
		}
		if !slices.Contains(phases, t.Status) {
			return &bracket.OpError{
				Op:           op,
				Err:          bracket.ErrInvalidTransition,
				TournamentID: &t.ID,
				Msg:          fmt.Sprintf("tournament is %s", t.Status),
			}
		}
		if !slices.Contains(from, player.Status) {
			return fmt.Errorf("%w: player %s is %s", bracket.ErrInvalidInput, player.DisplayName, player.Status)
		}

		if err := s.store.UpdatePlayerStatus(ctx, tx, player.ID, to); err != nil {
			return err
		}
		player.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.Info("player status changed", "player_id", playerID, "status", to)
	return player, nil
}

func (s *PlayerService) ListPlayers(ctx context.Context, tournamentID uuid.UUID) ([]bracket.Player, error) {
	if _, err := s.store.GetTournament(ctx, s.db, tournamentID); err != nil {
		return nil, err
	}
	return s.store.GetPlayers(ctx, s.db, tournamentID)
}
