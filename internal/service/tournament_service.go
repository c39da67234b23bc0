package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/AdamBeresnev/dartsturnier/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const maxTournamentNameLength = 100

type TournamentService struct {
	db        *sqlx.DB
	store     *store.TournamentStore
	seeding   *SeedingService
	brackets  *BracketGeneration
	scheduler *BoardScheduler
	progress  progression
	deps      Deps
}

// NewTournamentService wires the orchestrator. The scheduler may be nil.
func NewTournamentService(db *sqlx.DB, store *store.TournamentStore, seeding *SeedingService, brackets *BracketGeneration, scheduler *BoardScheduler, deps Deps) *TournamentService {
	return &TournamentService{
		db:        db,
		store:     store,
		seeding:   seeding,
		brackets:  brackets,
		scheduler: scheduler,
		progress:  progression{store: store},
		deps:      deps.withDefaults(),
	}
}

// RoundPolicyInput sets the format of one round. BestOf, when set, wins over LegsToWin.
type RoundPolicyInput struct {
	RoundNumber int `json:"roundNumber"`
	BestOf      int `json:"bestOf,omitempty"`
	LegsToWin   int `json:"legsToWin,omitempty"`
	SetsToWin   int `json:"setsToWin,omitempty"`
}

type CreateTournamentInput struct {
	Name             string               `json:"name"`
	MaxPlayers       int                  `json:"maxPlayers"`
	CheckoutMode     bracket.CheckoutMode `json:"checkoutMode"`
	DefaultLegsToWin *int                 `json:"defaultLegsToWin,omitempty"`
	DefaultSetsToWin int                  `json:"defaultSetsToWin"`
	RoundPolicies    []RoundPolicyInput   `json:"roundPolicies,omitempty"`
}

func roundPolicies(inputs []RoundPolicyInput) ([]bracket.RoundPolicy, error) {
	seen := make(map[int]bool, len(inputs))
	policies := make([]bracket.RoundPolicy, 0, len(inputs))
	for _, in := range inputs {
		if in.RoundNumber < 1 {
			return nil, fmt.Errorf("%w: round number %d", bracket.ErrInvalidInput, in.RoundNumber)
		}
		if seen[in.RoundNumber] {
			return nil, fmt.Errorf("%w: round %d configured twice", bracket.ErrInvalidInput, in.RoundNumber)
		}
		seen[in.RoundNumber] = true

		legs := in.LegsToWin
		if in.BestOf > 0 {
			legs = bracket.LegsToWinForBestOf(in.BestOf)
		}
		if legs < 1 {
			return nil, fmt.Errorf("%w: round %d needs at least one leg to win", bracket.ErrInvalidInput, in.RoundNumber)
		}
		sets := in.SetsToWin
		if sets < 1 {
			sets = 1
		}
		policies = append(policies, bracket.RoundPolicy{RoundNumber: in.RoundNumber, LegsToWin: legs, SetsToWin: sets})
	}
	return policies, nil
}

func (in CreateTournamentInput) tournament(now time.Time) (*bracket.Tournament, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > maxTournamentNameLength {
		return nil, fmt.Errorf("%w: tournament name must be 1-%d characters", bracket.ErrInvalidInput, maxTournamentNameLength)
	}
	if in.MaxPlayers < 0 {
		return nil, fmt.Errorf("%w: max players cannot be negative", bracket.ErrInvalidInput)
	}
	if in.DefaultLegsToWin != nil && *in.DefaultLegsToWin < 1 {
		return nil, fmt.Errorf("%w: default legs to win must be positive", bracket.ErrInvalidInput)
	}

	mode := in.CheckoutMode
	switch mode {
	case "":
		mode = bracket.DoubleOut
	case bracket.SingleOut, bracket.DoubleOut:
	default:
		return nil, fmt.Errorf("%w: unknown checkout mode %q", bracket.ErrInvalidInput, mode)
	}

	policies, err := roundPolicies(in.RoundPolicies)
	if err != nil {
		return nil, err
	}

	sets := in.DefaultSetsToWin
	if sets < 1 {
		sets = 1
	}
	return &bracket.Tournament{
		ID:               uuid.New(),
		Name:             name,
		Status:           bracket.TournamentUpcoming,
		MaxPlayers:       in.MaxPlayers,
		CheckoutMode:     mode,
		DefaultLegsToWin: in.DefaultLegsToWin,
		DefaultSetsToWin: sets,
		CreatedAt:        now,
		RoundPolicies:    policies,
	}, nil
}

func (s *TournamentService) CreateTournament(ctx context.Context, input CreateTournamentInput) (*bracket.Tournament, error) {
	if err := requireAdmin(ctx, "create tournament"); err != nil {
		return nil, err
	}

	tournament, err := input.tournament(s.deps.Now())
	if err != nil {
		return nil, err
	}

	err = store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return s.store.CreateTournament(ctx, tx, tournament)
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.Info("tournament created", "tournament_id", tournament.ID, "name", tournament.Name)
	return tournament, nil
}

// SetRoundPolicies replaces the per-round formats. Matches copy their format when the bracket is
// built, so policies are frozen once the tournament is ACTIVE.
func (s *TournamentService) SetRoundPolicies(ctx context.Context, tournamentID uuid.UUID, inputs []RoundPolicyInput) (*bracket.Tournament, error) {
	if err := requireAdmin(ctx, "set round policies"); err != nil {
		return nil, err
	}
	policies, err := roundPolicies(inputs)
	if err != nil {
		return nil, err
	}

	var tournament *bracket.Tournament
	err = store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		tournament, err = s.store.GetTournament(ctx, tx, tournamentID)
		if err != nil {
			return err
		}
		if tournament.Status == bracket.TournamentActive || tournament.Status == bracket.TournamentFinished {
			return &bracket.OpError{
				Op:           "set round policies",
				Err:          bracket.ErrBracketLocked,
				TournamentID: &tournament.ID,
				Msg:          fmt.Sprintf("tournament is %s", tournament.Status),
			}
		}
		tournament.RoundPolicies = policies
		return s.store.UpdateTournament(ctx, tx, tournament)
	})
	if err != nil {
		return nil, err
	}
	return tournament, nil
}

func (s *TournamentService) OpenRegistration(ctx context.Context, tournamentID uuid.UUID) (*bracket.Tournament, error) {
	return s.changeStatus(ctx, "open registration", tournamentID, bracket.TournamentUpcoming, bracket.TournamentRegistrationOpen)
}

// CloseRegistration freezes the player list and starts the shootout.
func (s *TournamentService) CloseRegistration(ctx context.Context, tournamentID uuid.UUID) (*bracket.Tournament, error) {
	return s.changeStatus(ctx, "close registration", tournamentID, bracket.TournamentRegistrationOpen, bracket.TournamentShootout)
}

// ReopenRegistration takes a tournament in its shootout back to registration.
func (s *TournamentService) ReopenRegistration(ctx context.Context, tournamentID uuid.UUID) (*bracket.Tournament, error) {
	return s.changeStatus(ctx, "reopen registration", tournamentID, bracket.TournamentShootout, bracket.TournamentRegistrationOpen)
}

// changeStatus performs the registration phase transitions. Starting and finishing a tournament
// go through Start and match progression instead.
func (s *TournamentService) changeStatus(ctx context.Context, op string, tournamentID uuid.UUID, from, to bracket.TournamentStatus) (*bracket.Tournament, error) {
	if err := requireAdmin(ctx, op); err != nil {
		return nil, err
	}

	var (
		tournament *bracket.Tournament
		ev         bracket.Event
	)
	err := store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		tournament, err = s.store.GetTournament(ctx, tx, tournamentID)
		if err != nil {
			return err
		}

		if tournament.Status != from || (!tournament.CanAdvanceTo(to) && !tournament.CanRevertTo(to)) {
			return &bracket.OpError{
				Op:           op,
				Err:          bracket.ErrInvalidTransition,
				TournamentID: &tournament.ID,
				Msg:          fmt.Sprintf("tournament is %s", tournament.Status),
			}
		}
		if err := s.store.UpdateTournamentStatus(ctx, tx, tournament.ID, from, to); err != nil {
			return err
		}
		tournament.Status = to
		ev = bracket.NewTournamentEvent(tournament, from)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.Info("tournament status changed", "tournament_id", tournamentID, "status", to)
	s.deps.publish(ctx, []bracket.Event{ev})
	return tournament, nil
}

// Start seeds the confirmed players, builds the bracket and activates the tournament in one
// transaction.
func (s *TournamentService) Start(ctx context.Context, tournamentID uuid.UUID) (tournament *bracket.Tournament, err error) {
	if err := requireAdmin(ctx, "start tournament"); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := s.deps.startSpan(ctx, "TournamentService.Start", attribute.String("tournament.id", tournamentID.String()))
	defer func() { s.deps.finish(span, "start_tournament", start, err) }()

	var evs []bracket.Event
	err = store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		tournament, err = s.store.GetTournament(ctx, tx, tournamentID)
		if err != nil {
			return err
		}
		if tournament.Status == bracket.TournamentActive || tournament.Status == bracket.TournamentFinished {
			return &bracket.OpError{
				Op:           "start tournament",
				Err:          bracket.ErrInvalidTransition,
				TournamentID: &tournament.ID,
				Msg:          fmt.Sprintf("tournament is %s", tournament.Status),
			}
		}
		evs, err = s.start(ctx, tx, tournament)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.deps.publish(ctx, evs)
	s.scheduler.autoAssign(ctx)
	return tournament, nil
}

// start runs on a SHOOTOUT tournament inside the caller's transaction.
func (s *TournamentService) start(ctx context.Context, tx *sqlx.Tx, t *bracket.Tournament) ([]bracket.Event, error) {
	seeded, err := s.seeding.seed(ctx, tx, t)
	if err != nil {
		return nil, err
	}
	matches, err := s.brackets.build(ctx, tx, t, seeded)
	if err != nil {
		return nil, err
	}

	for i := range seeded {
		seeded[i].Status = bracket.PlayerActive
	}
	if err := s.store.SavePlayerSeeds(ctx, tx, seeded); err != nil {
		return nil, fmt.Errorf("failed to save seeds: %w", err)
	}

	from := t.Status
	if err := s.store.UpdateTournamentStatus(ctx, tx, t.ID, from, bracket.TournamentActive); err != nil {
		return nil, err
	}
	t.Status = bracket.TournamentActive

	s.deps.Logger.Info("tournament started", "tournament_id", t.ID, "players", len(seeded), "matches", len(matches))
	return []bracket.Event{bracket.NewTournamentEvent(t, from)}, nil
}

// ResetRound sends every non-bye match of round and later rounds back to WAITING. A FINISHED
// tournament becomes ACTIVE again.
func (s *TournamentService) ResetRound(ctx context.Context, tournamentID uuid.UUID, round int) (err error) {
	if err := requireAdmin(ctx, "reset round"); err != nil {
		return err
	}

	start := time.Now()
	ctx, span := s.deps.startSpan(ctx, "TournamentService.ResetRound",
		attribute.String("tournament.id", tournamentID.String()),
		attribute.Int("round", round),
	)
	defer func() { s.deps.finish(span, "reset_round", start, err) }()

	var evs []bracket.Event
	err = store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		evs, err = s.progress.apply(ctx, tx, tournamentID, func(a *bracket.Arena, t *bracket.Tournament) ([]bracket.Event, error) {
			if t.Status != bracket.TournamentActive && t.Status != bracket.TournamentFinished {
				return nil, &bracket.OpError{
					Op:           "reset round",
					Err:          bracket.ErrInvalidTransition,
					TournamentID: &t.ID,
					Msg:          fmt.Sprintf("tournament is %s", t.Status),
				}
			}
			return a.ResetFrom(round)
		})
		return err
	})
	if err != nil {
		return err
	}

	s.deps.Logger.Info("round reset", "tournament_id", tournamentID, "round", round, "events", len(evs))
	s.deps.publish(ctx, evs)
	s.scheduler.autoAssign(ctx)
	return nil
}

// ResetTournament destroys the bracket and returns the tournament to its shootout, keeping the
// players and their shootout scores. Unless force is set it refuses once a match has started.
func (s *TournamentService) ResetTournament(ctx context.Context, tournamentID uuid.UUID, force bool) (err error) {
	if err := requireAdmin(ctx, "reset tournament"); err != nil {
		return err
	}

	start := time.Now()
	ctx, span := s.deps.startSpan(ctx, "TournamentService.ResetTournament",
		attribute.String("tournament.id", tournamentID.String()),
		attribute.Bool("force", force),
	)
	defer func() { s.deps.finish(span, "reset_tournament", start, err) }()

	var evs []bracket.Event
	err = store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		t, err := s.store.GetTournament(ctx, tx, tournamentID)
		if err != nil {
			return err
		}
		if t.Status != bracket.TournamentShootout && !t.CanRevertTo(bracket.TournamentShootout) {
			return &bracket.OpError{
				Op:           "reset tournament",
				Err:          bracket.ErrInvalidTransition,
				TournamentID: &t.ID,
				Msg:          fmt.Sprintf("tournament is %s", t.Status),
			}
		}

		matches, err := s.store.GetMatches(ctx, tx, t.ID)
		if err != nil {
			return fmt.Errorf("failed to get matches: %w", err)
		}
		if !force {
			if err := bracket.CheckRebuild(matches); err != nil {
				return err
			}
		}
		for i := range matches {
			if matches[i].Status == bracket.MatchActive {
				evs = append(evs, bracket.NewMatchEvent(bracket.EventGameReleased, &matches[i], nil))
			}
		}

		ev, err := s.clear(ctx, tx, t)
		if err != nil {
			return err
		}
		if ev != nil {
			evs = append(evs, *ev)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.deps.Logger.Warn("tournament reset", "tournament_id", tournamentID, "force", force)
	s.deps.publish(ctx, evs)
	s.scheduler.autoAssign(ctx)
	return nil
}

// clear deletes the matches and seeds of t and moves it back to SHOOTOUT. It returns the status
// event, or nil when t already was in its shootout.
func (s *TournamentService) clear(ctx context.Context, tx *sqlx.Tx, t *bracket.Tournament) (*bracket.Event, error) {
	if err := s.store.DeleteMatches(ctx, tx, t.ID); err != nil {
		return nil, fmt.Errorf("failed to delete matches: %w", err)
	}
	if err := s.store.ClearSeeds(ctx, tx, t.ID); err != nil {
		return nil, fmt.Errorf("failed to clear seeds: %w", err)
	}
	if t.Status == bracket.TournamentShootout {
		return nil, nil
	}

	from := t.Status
	if err := s.store.UpdateTournamentStatus(ctx, tx, t.ID, from, bracket.TournamentShootout); err != nil {
		return nil, err
	}
	t.Status = bracket.TournamentShootout
	ev := bracket.NewTournamentEvent(t, from)
	return &ev, nil
}

// RegenerateBracket re-seeds and rebuilds the bracket of an ACTIVE tournament that has not
// started any match yet, picking up shootout scores recorded late.
func (s *TournamentService) RegenerateBracket(ctx context.Context, tournamentID uuid.UUID) (tournament *bracket.Tournament, err error) {
	if err := requireAdmin(ctx, "regenerate bracket"); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := s.deps.startSpan(ctx, "TournamentService.RegenerateBracket", attribute.String("tournament.id", tournamentID.String()))
	defer func() { s.deps.finish(span, "regenerate_bracket", start, err) }()

	var evs []bracket.Event
	err = store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		tournament, err = s.store.GetTournament(ctx, tx, tournamentID)
		if err != nil {
			return err
		}
		if tournament.Status != bracket.TournamentActive {
			return &bracket.OpError{
				Op:           "regenerate bracket",
				Err:          bracket.ErrInvalidTransition,
				TournamentID: &tournament.ID,
				Msg:          fmt.Sprintf("tournament is %s", tournament.Status),
			}
		}
		matches, err := s.store.GetMatches(ctx, tx, tournament.ID)
		if err != nil {
			return fmt.Errorf("failed to get matches: %w", err)
		}
		if err := bracket.CheckRebuild(matches); err != nil {
			return err
		}

		if _, err := s.clear(ctx, tx, tournament); err != nil {
			return err
		}
		evs, err = s.start(ctx, tx, tournament)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.Info("bracket regenerated", "tournament_id", tournamentID)
	s.deps.publish(ctx, evs)
	s.scheduler.autoAssign(ctx)
	return tournament, nil
}

func (s *TournamentService) Get(ctx context.Context, tournamentID uuid.UUID) (*bracket.Tournament, error) {
	return s.store.GetTournament(ctx, s.db, tournamentID)
}

func (s *TournamentService) List(ctx context.Context) ([]bracket.Tournament, error) {
	return s.store.ListTournaments(ctx, s.db)
}

type TournamentOverview struct {
	Tournament  *bracket.Tournament      `json:"tournament"`
	Players     []bracket.Player         `json:"players"`
	Matches     []bracket.Match          `json:"matches"`
	Shootout    []bracket.ShootoutResult `json:"shootout"`
	NextMatchID *uuid.UUID               `json:"nextMatchId,omitempty"`
}

// Overview loads everything a tournament page shows.
func (s *TournamentService) Overview(ctx context.Context, tournamentID uuid.UUID) (*TournamentOverview, error) {
	overview := &TournamentOverview{}
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		t, err := s.store.GetTournament(gCtx, s.db, tournamentID)
		if err != nil {
			return err
		}
		overview.Tournament = t
		return nil
	})
	g.Go(func() error {
		players, err := s.store.GetPlayers(gCtx, s.db, tournamentID)
		if err != nil {
			return fmt.Errorf("failed to get players: %w", err)
		}
		overview.Players = players
		return nil
	})
	g.Go(func() error {
		matches, err := s.store.GetMatches(gCtx, s.db, tournamentID)
		if err != nil {
			return fmt.Errorf("failed to get matches: %w", err)
		}
		overview.Matches = matches
		return nil
	})
	g.Go(func() error {
		results, err := s.store.GetShootoutResults(gCtx, s.db, tournamentID)
		if err != nil {
			return fmt.Errorf("failed to get shootout results: %w", err)
		}
		overview.Shootout = results
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Matches come ordered by round and ordinal
	for i := range overview.Matches {
		m := overview.Matches[i]
		if m.Status == bracket.MatchWaiting && m.Ready() {
			overview.NextMatchID = &m.ID
			break
		}
	}
	return overview, nil
}
