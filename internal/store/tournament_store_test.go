package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/AdamBeresnev/dartsturnier/internal/db"
	"github.com/AdamBeresnev/dartsturnier/internal/utils"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory SQLite database and applies migrations
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	database, err := sqlx.Connect("sqlite3", db.SQLiteDSN("file::memory:"))
	require.NoError(t, err, "Failed to connect to in-memory DB")

	// Every connection to :memory: is its own database
	database.SetMaxOpenConns(1)

	_, err = database.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	require.NoError(t, db.RunMigrations(database.DB, db.DriverSQLite), "Failed to apply migrations")

	t.Cleanup(func() { database.Close() })
	return database
}

func inTx(t *testing.T, database *sqlx.DB, fn func(tx *sqlx.Tx) error) {
	t.Helper()
	require.NoError(t, WithTx(context.Background(), database, fn))
}

func createTestTournament(t *testing.T, database *sqlx.DB, status bracket.TournamentStatus, players int) (*bracket.Tournament, []bracket.Player) {
	t.Helper()
	store := NewTournamentStore(database)
	ctx := context.Background()

	tournament := &bracket.Tournament{
		ID:               uuid.New(),
		Name:             "Test Tournament",
		Status:           status,
		MaxPlayers:       32,
		CheckoutMode:     bracket.DoubleOut,
		DefaultSetsToWin: 1,
		CreatedAt:        time.Now().UTC(),
	}

	var created []bracket.Player
	inTx(t, database, func(tx *sqlx.Tx) error {
		if err := store.CreateTournament(ctx, tx, tournament); err != nil {
			return err
		}
		for i := 0; i < players; i++ {
			p := bracket.Player{
				ID:                uuid.New(),
				TournamentID:      tournament.ID,
				DisplayName:       fmt.Sprintf("Player %d", i+1),
				Status:            bracket.PlayerConfirmed,
				RegistrationOrder: i + 1,
				RegisteredAt:      time.Now().UTC(),
			}
			if err := store.CreatePlayer(ctx, tx, &p); err != nil {
				return err
			}
			created = append(created, p)
		}
		return nil
	})
	return tournament, created
}

func TestCreateTournament(t *testing.T) {
	database := setupTestDB(t)
	store := NewTournamentStore(database)
	ctx := context.Background()

	tournament := &bracket.Tournament{
		ID:               uuid.New(),
		Name:             "Club Championship",
		Status:           bracket.TournamentUpcoming,
		MaxPlayers:       16,
		CheckoutMode:     bracket.SingleOut,
		DefaultLegsToWin: utils.Ptr(3),
		DefaultSetsToWin: 1,
		CreatedAt:        time.Now().UTC(),
		RoundPolicies: []bracket.RoundPolicy{
			{RoundNumber: 4, LegsToWin: 4, SetsToWin: 1},
			{RoundNumber: 3, LegsToWin: 3, SetsToWin: 2},
		},
	}

	inTx(t, database, func(tx *sqlx.Tx) error {
		return store.CreateTournament(ctx, tx, tournament)
	})

	fetched, err := store.GetTournament(ctx, database, tournament.ID)
	require.NoError(t, err)

	assert.Equal(t, tournament.ID, fetched.ID)
	assert.Equal(t, tournament.Name, fetched.Name)
	assert.Equal(t, bracket.TournamentUpcoming, fetched.Status)
	assert.Equal(t, bracket.SingleOut, fetched.CheckoutMode)
	require.NotNil(t, fetched.DefaultLegsToWin)
	assert.Equal(t, 3, *fetched.DefaultLegsToWin)
	assert.WithinDuration(t, tournament.CreatedAt, fetched.CreatedAt, time.Second)

	require.Len(t, fetched.RoundPolicies, 2)
	assert.Equal(t, 3, fetched.RoundPolicies[0].RoundNumber)
	assert.Equal(t, 2, fetched.RoundPolicies[0].SetsToWin)
	assert.Equal(t, 4, fetched.PolicyFor(4).LegsToWin)
	assert.Equal(t, 3, fetched.PolicyFor(1).LegsToWin)

	_, err = store.GetTournament(ctx, database, uuid.New())
	assert.ErrorIs(t, err, bracket.ErrNotFound)
}

func TestUpdateTournamentStatus(t *testing.T) {
	database := setupTestDB(t)
	store := NewTournamentStore(database)
	ctx := context.Background()
	tournament, _ := createTestTournament(t, database, bracket.TournamentUpcoming, 0)

	inTx(t, database, func(tx *sqlx.Tx) error {
		return store.UpdateTournamentStatus(ctx, tx, tournament.ID, bracket.TournamentUpcoming, bracket.TournamentRegistrationOpen)
	})

	err := WithTx(ctx, database, func(tx *sqlx.Tx) error {
		return store.UpdateTournamentStatus(ctx, tx, tournament.ID, bracket.TournamentUpcoming, bracket.TournamentShootout)
	})
	assert.ErrorIs(t, err, bracket.ErrConcurrentAssignment, "status moved on underneath the caller")

	fetched, err := store.GetTournament(ctx, database, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, bracket.TournamentRegistrationOpen, fetched.Status)
}

func TestPlayersAndSeeds(t *testing.T) {
	database := setupTestDB(t)
	store := NewTournamentStore(database)
	ctx := context.Background()
	tournament, players := createTestTournament(t, database, bracket.TournamentShootout, 4)

	next, err := store.NextRegistrationOrder(ctx, database, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, next)

	inTx(t, database, func(tx *sqlx.Tx) error {
		return store.UpdatePlayerStatus(ctx, tx, players[3].ID, bracket.PlayerWithdrawn)
	})

	total, err := store.CountPlayers(ctx, database, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	confirmed, err := store.CountPlayers(ctx, database, tournament.ID, bracket.PlayerConfirmed, bracket.PlayerActive)
	require.NoError(t, err)
	assert.Equal(t, 3, confirmed)

	// Seed in reverse registration order
	seeded := []bracket.Player{players[2], players[1], players[0]}
	for i := range seeded {
		seeded[i].Seed = utils.Ptr(i + 1)
		seeded[i].Status = bracket.PlayerActive
	}
	inTx(t, database, func(tx *sqlx.Tx) error {
		return store.SavePlayerSeeds(ctx, tx, seeded)
	})

	fetched, err := store.GetPlayers(ctx, database, tournament.ID)
	require.NoError(t, err)
	require.Len(t, fetched, 4)
	assert.Equal(t, players[2].ID, fetched[0].ID)
	assert.Equal(t, players[0].ID, fetched[2].ID)
	assert.Nil(t, fetched[3].Seed, "withdrawn player is unseeded and sorts last")
	assert.Equal(t, bracket.PlayerActive, fetched[0].Status)

	inTx(t, database, func(tx *sqlx.Tx) error {
		return store.ClearSeeds(ctx, tx, tournament.ID)
	})

	fetched, err = store.GetPlayers(ctx, database, tournament.ID)
	require.NoError(t, err)
	for _, p := range fetched {
		assert.Nil(t, p.Seed)
		assert.NotEqual(t, bracket.PlayerActive, p.Status)
	}
	assert.Equal(t, players[0].ID, fetched[0].ID, "unseeded players fall back to registration order")

	_, err = store.GetPlayer(ctx, database, uuid.New())
	assert.ErrorIs(t, err, bracket.ErrNotFound)
}

func TestUpsertShootoutResult(t *testing.T) {
	database := setupTestDB(t)
	store := NewTournamentStore(database)
	ctx := context.Background()
	tournament, players := createTestTournament(t, database, bracket.TournamentShootout, 2)

	for _, score := range []int{60, 140} {
		inTx(t, database, func(tx *sqlx.Tx) error {
			return store.UpsertShootoutResult(ctx, tx, &bracket.ShootoutResult{
				TournamentID: tournament.ID,
				PlayerID:     players[0].ID,
				Score:        score,
				RecordedAt:   time.Now().UTC(),
			})
		})
	}

	results, err := store.GetShootoutResults(ctx, database, tournament.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 140, results[0].Score)
}

func buildMatches(t *testing.T, tournament *bracket.Tournament, players []bracket.Player) []bracket.Match {
	t.Helper()
	matches, err := bracket.Build(tournament, bracket.Seed(players, nil), time.Now().UTC())
	require.NoError(t, err)
	return matches
}

func TestCreateAndGetMatches(t *testing.T) {
	database := setupTestDB(t)
	store := NewTournamentStore(database)
	ctx := context.Background()
	tournament, players := createTestTournament(t, database, bracket.TournamentActive, 5)

	matches := buildMatches(t, tournament, players)
	inTx(t, database, func(tx *sqlx.Tx) error {
		return store.CreateMatches(ctx, tx, matches)
	})

	fetched, err := store.GetMatches(ctx, database, tournament.ID)
	require.NoError(t, err)
	require.Len(t, fetched, len(matches))

	for i := range matches {
		want, got := matches[i], fetched[i]
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.RoundNumber, got.RoundNumber)
		assert.Equal(t, want.Ordinal, got.Ordinal)
		assert.Equal(t, want.Player1ID, got.Player1ID)
		assert.Equal(t, want.Player2ID, got.Player2ID)
		assert.Equal(t, want.Status, got.Status)
		assert.Equal(t, want.IsBye, got.IsBye)
		assert.Equal(t, want.WinnerSlot, got.WinnerSlot)
		assert.Equal(t, want.LegsToWin, got.LegsToWin)
		assert.Equal(t, bracket.DoubleOut, got.CheckoutMode)
	}

	_, err = bracket.NewArena(fetched)
	require.NoError(t, err, "stored bracket can be rebuilt into an arena")

	inTx(t, database, func(tx *sqlx.Tx) error {
		return store.DeleteMatches(ctx, tx, tournament.ID)
	})
	fetched, err = store.GetMatches(ctx, database, tournament.ID)
	require.NoError(t, err)
	assert.Empty(t, fetched)
}

func TestUpdateMatch_ExpectedStatus(t *testing.T) {
	database := setupTestDB(t)
	store := NewTournamentStore(database)
	boards := NewBoardStore(database)
	ctx := context.Background()
	tournament, players := createTestTournament(t, database, bracket.TournamentActive, 2)
	board := createTestBoard(t, database, boards, "Board 1", 1)

	matches := buildMatches(t, tournament, players)
	inTx(t, database, func(tx *sqlx.Tx) error {
		return store.CreateMatches(ctx, tx, matches)
	})

	bound, _, err := bracket.Bind(matches[0], board.ID, time.Now().UTC())
	require.NoError(t, err)

	inTx(t, database, func(tx *sqlx.Tx) error {
		return store.UpdateMatch(ctx, tx, &bound, bracket.MatchWaiting)
	})

	// A second writer that read the match while it was still WAITING loses
	err = WithTx(ctx, database, func(tx *sqlx.Tx) error {
		return store.UpdateMatch(ctx, tx, &bound, bracket.MatchWaiting)
	})
	assert.ErrorIs(t, err, bracket.ErrConcurrentAssignment)
	assert.True(t, bracket.IsRetryable(err))

	fetched, err := store.GetMatch(ctx, database, bound.ID)
	require.NoError(t, err)
	assert.Equal(t, bracket.MatchActive, fetched.Status)
	require.NotNil(t, fetched.BoardID)
	assert.Equal(t, board.ID, *fetched.BoardID)
	assert.NotNil(t, fetched.StartedAt)

	active, err := store.ActiveMatchForBoard(ctx, database, board.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, bound.ID, active.ID)
}

func TestActiveMatchPerBoardIsUnique(t *testing.T) {
	database := setupTestDB(t)
	store := NewTournamentStore(database)
	boards := NewBoardStore(database)
	ctx := context.Background()
	tournament, players := createTestTournament(t, database, bracket.TournamentActive, 4)
	board := createTestBoard(t, database, boards, "Board 1", 1)

	matches := buildMatches(t, tournament, players)
	inTx(t, database, func(tx *sqlx.Tx) error {
		return store.CreateMatches(ctx, tx, matches)
	})

	first, _, err := bracket.Bind(matches[0], board.ID, time.Now().UTC())
	require.NoError(t, err)
	second, _, err := bracket.Bind(matches[1], board.ID, time.Now().UTC())
	require.NoError(t, err)

	inTx(t, database, func(tx *sqlx.Tx) error {
		return store.UpdateMatch(ctx, tx, &first, bracket.MatchWaiting)
	})
	err = WithTx(ctx, database, func(tx *sqlx.Tx) error {
		return store.UpdateMatch(ctx, tx, &second, bracket.MatchWaiting)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, bracket.ErrConcurrentAssignment)
}

func TestNextEligibleMatch(t *testing.T) {
	database := setupTestDB(t)
	store := NewTournamentStore(database)
	ctx := context.Background()

	// Registration tournaments are never scheduled
	pending, pendingPlayers := createTestTournament(t, database, bracket.TournamentShootout, 4)
	inTx(t, database, func(tx *sqlx.Tx) error {
		return store.CreateMatches(ctx, tx, buildMatches(t, pending, pendingPlayers))
	})

	none, err := store.NextEligibleMatch(ctx, database)
	require.NoError(t, err)
	assert.Nil(t, none)

	tournament, players := createTestTournament(t, database, bracket.TournamentActive, 6)
	matches := buildMatches(t, tournament, players)
	inTx(t, database, func(tx *sqlx.Tx) error {
		return store.CreateMatches(ctx, tx, matches)
	})

	next, err := store.NextEligibleMatch(ctx, database)
	require.NoError(t, err)
	require.NotNil(t, next)

	// Ordinal 0 is a bye for seed 1, so the first playable match is ordinal 1
	assert.Equal(t, 1, next.RoundNumber)
	assert.Equal(t, 1, next.Ordinal)
	assert.Equal(t, tournament.ID, next.TournamentID)
}
