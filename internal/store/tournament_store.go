package store

import (
	"context"
	"fmt"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// TournamentStore persists tournaments, players, shootout results and matches. Reads take a
// sqlx.QueryerContext so they can run on the pool or inside the caller's transaction.
type TournamentStore struct {
	db *sqlx.DB
}

func NewTournamentStore(db *sqlx.DB) *TournamentStore {
	return &TournamentStore{db: db}
}

const (
	createTournamentQuery = `INSERT INTO tournaments (id, name, status, max_players, checkout_mode, default_legs_to_win, default_sets_to_win, created_at)
		VALUES (:id, :name, :status, :max_players, :checkout_mode, :default_legs_to_win, :default_sets_to_win, :created_at)`
	updateTournamentQuery = `UPDATE tournaments SET
		name = :name,
		max_players = :max_players,
		checkout_mode = :checkout_mode,
		default_legs_to_win = :default_legs_to_win,
		default_sets_to_win = :default_sets_to_win
		WHERE id = :id`
	createPlayerQuery = `INSERT INTO players (id, tournament_id, display_name, seed, status, registration_order, registered_at)
		VALUES (:id, :tournament_id, :display_name, :seed, :status, :registration_order, :registered_at)`
	upsertShootoutQuery = `INSERT INTO shootout_results (tournament_id, player_id, score, recorded_at)
		VALUES (:tournament_id, :player_id, :score, :recorded_at)
		ON CONFLICT (tournament_id, player_id) DO UPDATE SET score = excluded.score, recorded_at = excluded.recorded_at`
	createMatchQuery = `INSERT INTO matches (id, tournament_id, round_number, ordinal, player1_id, player2_id, board_id, status,
		current_leg, current_set, player1_legs, player2_legs, player1_sets, player2_sets,
		legs_to_win, sets_to_win, checkout_mode, winner_slot, is_bye, is_walkover, started_at, finished_at, created_at)
		VALUES (:id, :tournament_id, :round_number, :ordinal, :player1_id, :player2_id, :board_id, :status,
		:current_leg, :current_set, :player1_legs, :player2_legs, :player1_sets, :player2_sets,
		:legs_to_win, :sets_to_win, :checkout_mode, :winner_slot, :is_bye, :is_walkover, :started_at, :finished_at, :created_at)`
	updateMatchQuery = `UPDATE matches SET
		player1_id = :player1_id,
		player2_id = :player2_id,
		board_id = :board_id,
		status = :status,
		current_leg = :current_leg,
		current_set = :current_set,
		player1_legs = :player1_legs,
		player2_legs = :player2_legs,
		player1_sets = :player1_sets,
		player2_sets = :player2_sets,
		winner_slot = :winner_slot,
		is_walkover = :is_walkover,
		started_at = :started_at,
		finished_at = :finished_at
		WHERE id = :id AND status = :expected_status`
	eligibleMatchQuery = `SELECT m.* FROM matches m
		JOIN tournaments t ON t.id = m.tournament_id
		WHERE t.status = ? AND m.status = ?
		AND m.player1_id IS NOT NULL AND m.player2_id IS NOT NULL
		ORDER BY m.round_number ASC, m.ordinal ASC, t.created_at ASC, m.id ASC
		LIMIT 1`
)

func (s *TournamentStore) CreateTournament(ctx context.Context, tx *sqlx.Tx, tournament *bracket.Tournament) error {
	_, err := tx.NamedExecContext(ctx, createTournamentQuery, tournament)
	if err != nil {
		return classify(err)
	}
	return s.ReplaceRoundPolicies(ctx, tx, tournament.ID, tournament.RoundPolicies)
}

func (s *TournamentStore) UpdateTournament(ctx context.Context, tx *sqlx.Tx, tournament *bracket.Tournament) error {
	res, err := tx.NamedExecContext(ctx, updateTournamentQuery, tournament)
	if err := checkAffected(res, err, "tournament", tournament.ID); err != nil {
		return err
	}
	return s.ReplaceRoundPolicies(ctx, tx, tournament.ID, tournament.RoundPolicies)
}

// UpdateTournamentStatus moves a tournament from one status to another and fails if the
// tournament was no longer in the expected status.
func (s *TournamentStore) UpdateTournamentStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from, to bracket.TournamentStatus) error {
	res, err := tx.ExecContext(ctx, tx.Rebind("UPDATE tournaments SET status = ? WHERE id = ? AND status = ?"), to, id, from)
	return checkAffected(res, err, "tournament", id)
}

func (s *TournamentStore) ReplaceRoundPolicies(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID, policies []bracket.RoundPolicy) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM round_policies WHERE tournament_id = ?"), tournamentID); err != nil {
		return err
	}
	if len(policies) == 0 {
		return nil
	}

	rows := make([]bracket.RoundPolicy, len(policies))
	for i, p := range policies {
		p.TournamentID = tournamentID
		rows[i] = p
	}
	_, err := tx.NamedExecContext(ctx, `INSERT INTO round_policies (tournament_id, round_number, legs_to_win, sets_to_win)
		VALUES (:tournament_id, :round_number, :legs_to_win, :sets_to_win)`, rows)
	return classify(err)
}

func (s *TournamentStore) GetTournament(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*bracket.Tournament, error) {
	var tournament bracket.Tournament
	if err := sqlx.GetContext(ctx, q, &tournament, s.db.Rebind("SELECT * FROM tournaments WHERE id = ?"), id); err != nil {
		return nil, notFound(err, "tournament", id)
	}

	err := sqlx.SelectContext(ctx, q, &tournament.RoundPolicies,
		s.db.Rebind("SELECT * FROM round_policies WHERE tournament_id = ? ORDER BY round_number ASC"), id)
	if err != nil {
		return nil, fmt.Errorf("failed to get round policies: %w", err)
	}
	return &tournament, nil
}

func (s *TournamentStore) ListTournaments(ctx context.Context, q sqlx.QueryerContext) ([]bracket.Tournament, error) {
	var tournaments []bracket.Tournament
	err := sqlx.SelectContext(ctx, q, &tournaments, "SELECT * FROM tournaments ORDER BY created_at DESC")
	return tournaments, err
}

func (s *TournamentStore) CreatePlayer(ctx context.Context, tx *sqlx.Tx, player *bracket.Player) error {
	_, err := tx.NamedExecContext(ctx, createPlayerQuery, player)
	return classify(err)
}

func (s *TournamentStore) NextRegistrationOrder(ctx context.Context, q sqlx.QueryerContext, tournamentID uuid.UUID) (int, error) {
	var order int
	err := sqlx.GetContext(ctx, q, &order,
		s.db.Rebind("SELECT COALESCE(MAX(registration_order), 0) + 1 FROM players WHERE tournament_id = ?"), tournamentID)
	return order, err
}

// CountPlayers counts the players of a tournament, optionally restricted to some statuses.
func (s *TournamentStore) CountPlayers(ctx context.Context, q sqlx.QueryerContext, tournamentID uuid.UUID, statuses ...bracket.PlayerStatus) (int, error) {
	query := "SELECT COUNT(*) FROM players WHERE tournament_id = ?"
	args := []any{tournamentID}
	if len(statuses) > 0 {
		var err error
		query, args, err = sqlx.In(query+" AND status IN (?)", tournamentID, statuses)
		if err != nil {
			return 0, err
		}
	}

	var count int
	err := sqlx.GetContext(ctx, q, &count, s.db.Rebind(query), args...)
	return count, err
}

// GetPlayers returns the players of a tournament, seeded players first in seed order.
func (s *TournamentStore) GetPlayers(ctx context.Context, q sqlx.QueryerContext, tournamentID uuid.UUID) ([]bracket.Player, error) {
	var players []bracket.Player
	err := sqlx.SelectContext(ctx, q, &players, s.db.Rebind(`SELECT * FROM players WHERE tournament_id = ?
		ORDER BY CASE WHEN seed IS NULL THEN 1 ELSE 0 END, seed ASC, registration_order ASC`), tournamentID)
	return players, err
}

func (s *TournamentStore) GetPlayer(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*bracket.Player, error) {
	var player bracket.Player
	if err := sqlx.GetContext(ctx, q, &player, s.db.Rebind("SELECT * FROM players WHERE id = ?"), id); err != nil {
		return nil, notFound(err, "player", id)
	}
	return &player, nil
}

func (s *TournamentStore) UpdatePlayerStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status bracket.PlayerStatus) error {
	res, err := tx.ExecContext(ctx, tx.Rebind("UPDATE players SET status = ? WHERE id = ?"), status, id)
	return checkAffected(res, err, "player", id)
}

// SavePlayerSeeds writes the seed and status of each player.
func (s *TournamentStore) SavePlayerSeeds(ctx context.Context, tx *sqlx.Tx, players []bracket.Player) error {
	for _, p := range players {
		res, err := tx.ExecContext(ctx, tx.Rebind("UPDATE players SET seed = ?, status = ? WHERE id = ?"), p.Seed, p.Status, p.ID)
		if err := checkAffected(res, err, "player", p.ID); err != nil {
			return err
		}
	}
	return nil
}

// ClearSeeds drops every seed of a tournament and returns started players to CONFIRMED.
func (s *TournamentStore) ClearSeeds(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE players SET seed = NULL,
		status = CASE WHEN status IN (?, ?) THEN ? ELSE status END
		WHERE tournament_id = ?`),
		bracket.PlayerActive, bracket.PlayerEliminated, bracket.PlayerConfirmed, tournamentID)
	return err
}

func (s *TournamentStore) UpsertShootoutResult(ctx context.Context, tx *sqlx.Tx, result *bracket.ShootoutResult) error {
	_, err := tx.NamedExecContext(ctx, upsertShootoutQuery, result)
	return classify(err)
}

func (s *TournamentStore) GetShootoutResults(ctx context.Context, q sqlx.QueryerContext, tournamentID uuid.UUID) ([]bracket.ShootoutResult, error) {
	var results []bracket.ShootoutResult
	err := sqlx.SelectContext(ctx, q, &results,
		s.db.Rebind("SELECT * FROM shootout_results WHERE tournament_id = ? ORDER BY score DESC"), tournamentID)
	return results, err
}

func (s *TournamentStore) CreateMatches(ctx context.Context, tx *sqlx.Tx, matches []bracket.Match) error {
	if len(matches) == 0 {
		return nil
	}
	// Inserted one by one, SQLite caps the number of bound variables per statement
	for i := range matches {
		if _, err := tx.NamedExecContext(ctx, createMatchQuery, &matches[i]); err != nil {
			return classify(fmt.Errorf("failed to insert match %d/%d: %w", matches[i].RoundNumber, matches[i].Ordinal, err))
		}
	}
	return nil
}

func (s *TournamentStore) DeleteMatches(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM matches WHERE tournament_id = ?"), tournamentID)
	return err
}

func (s *TournamentStore) GetMatches(ctx context.Context, q sqlx.QueryerContext, tournamentID uuid.UUID) ([]bracket.Match, error) {
	var matches []bracket.Match
	err := sqlx.SelectContext(ctx, q, &matches,
		s.db.Rebind("SELECT * FROM matches WHERE tournament_id = ? ORDER BY round_number ASC, ordinal ASC"), tournamentID)
	return matches, err
}

func (s *TournamentStore) GetMatch(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*bracket.Match, error) {
	var match bracket.Match
	if err := sqlx.GetContext(ctx, q, &match, s.db.Rebind("SELECT * FROM matches WHERE id = ?"), id); err != nil {
		return nil, notFound(err, "match", id)
	}
	return &match, nil
}

type matchUpdate struct {
	*bracket.Match
	ExpectedStatus bracket.MatchStatus `db:"expected_status"`
}

// UpdateMatch writes a match back, provided it is still in the status it was read with.
func (s *TournamentStore) UpdateMatch(ctx context.Context, tx *sqlx.Tx, match *bracket.Match, expected bracket.MatchStatus) error {
	res, err := tx.NamedExecContext(ctx, updateMatchQuery, matchUpdate{Match: match, ExpectedStatus: expected})
	return checkAffected(res, err, "match", match.ID)
}

// NextEligibleMatch returns the WAITING match with both players known that comes first in
// (round, ordinal) order across all ACTIVE tournaments, or nil.
func (s *TournamentStore) NextEligibleMatch(ctx context.Context, q sqlx.QueryerContext) (*bracket.Match, error) {
	var matches []bracket.Match
	err := sqlx.SelectContext(ctx, q, &matches, s.db.Rebind(eligibleMatchQuery), bracket.TournamentActive, bracket.MatchWaiting)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return &matches[0], nil
}

// ActiveMatchForBoard returns the match currently played on a board, or nil.
func (s *TournamentStore) ActiveMatchForBoard(ctx context.Context, q sqlx.QueryerContext, boardID uuid.UUID) (*bracket.Match, error) {
	var matches []bracket.Match
	err := sqlx.SelectContext(ctx, q, &matches,
		s.db.Rebind("SELECT * FROM matches WHERE board_id = ? AND status = ?"), boardID, bracket.MatchActive)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return &matches[0], nil
}
