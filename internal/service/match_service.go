package service

import (
	"context"
	"fmt"
	"time"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/AdamBeresnev/dartsturnier/internal/store"
	"github.com/AdamBeresnev/dartsturnier/internal/throwcache"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
)

type MatchService struct {
	db        *sqlx.DB
	store     *store.TournamentStore
	progress  progression
	throws    *throwcache.Cache
	scheduler *BoardScheduler
	deps      Deps
}

// NewMatchService wires scoring. The scheduler refills boards after a match finishes and may be nil.
func NewMatchService(db *sqlx.DB, store *store.TournamentStore, throws *throwcache.Cache, scheduler *BoardScheduler, deps Deps) *MatchService {
	return &MatchService{
		db:        db,
		store:     store,
		progress:  progression{store: store},
		throws:    throws,
		scheduler: scheduler,
		deps:      deps.withDefaults(),
	}
}

type MatchData struct {
	Match   *bracket.Match    `json:"match"`
	Player1 *bracket.Player   `json:"player1,omitempty"`
	Player2 *bracket.Player   `json:"player2,omitempty"`
	Throw   *throwcache.Throw `json:"currentThrow,omitempty"`
}

func (s *MatchService) GetMatchViewData(ctx context.Context, matchID uuid.UUID) (*MatchData, error) {
	match, err := s.store.GetMatch(ctx, s.db, matchID)
	if err != nil {
		return nil, err
	}

	data := &MatchData{Match: match}
	if match.Player1ID != nil {
		if data.Player1, err = s.store.GetPlayer(ctx, s.db, *match.Player1ID); err != nil {
			return nil, fmt.Errorf("failed to get player 1: %w", err)
		}
	}
	if match.Player2ID != nil {
		if data.Player2, err = s.store.GetPlayer(ctx, s.db, *match.Player2ID); err != nil {
			return nil, fmt.Errorf("failed to get player 2: %w", err)
		}
	}
	if throw, ok := s.GetThrow(matchID); ok {
		data.Throw = &throw
	}
	return data, nil
}

// RecordLeg credits a leg to slot. expectedLeg must equal the match's current leg, so a terminal
// that submits the same leg twice gets ErrInvalidMatchState instead of a double count. Board
// terminals always have to send it, admins may leave it nil to correct a score by hand.
func (s *MatchService) RecordLeg(ctx context.Context, matchID uuid.UUID, slot bracket.Slot, expectedLeg *int) (*bracket.Match, error) {
	return s.transition(ctx, "record_leg", matchID, func(a *bracket.Arena, t *bracket.Tournament, m *bracket.Match) ([]bracket.Event, error) {
		if err := requireScorer(ctx, "record leg", m); err != nil {
			return nil, err
		}
		if err := requireRunning(t, m); err != nil {
			return nil, err
		}
		if expectedLeg == nil && !isAdmin(ctx) {
			return nil, &bracket.OpError{
				Op:           "record leg",
				Err:          bracket.ErrInvalidMatchState,
				TournamentID: &t.ID,
				MatchID:      &m.ID,
				BoardID:      m.BoardID,
				Msg:          fmt.Sprintf("expected leg is required, current leg is %d", m.CurrentLeg),
			}
		}
		if expectedLeg != nil && *expectedLeg != m.CurrentLeg {
			return nil, &bracket.OpError{
				Op:           "record leg",
				Err:          bracket.ErrInvalidMatchState,
				TournamentID: &t.ID,
				MatchID:      &m.ID,
				BoardID:      m.BoardID,
				Msg:          fmt.Sprintf("leg %d already recorded, current leg is %d", *expectedLeg, m.CurrentLeg),
			}
		}
		return a.RecordLeg(m.ID, slot, s.deps.Now())
	})
}

// Walkover awards the match to slot without play.
func (s *MatchService) Walkover(ctx context.Context, matchID uuid.UUID, slot bracket.Slot) (*bracket.Match, error) {
	if err := requireAdmin(ctx, "walkover"); err != nil {
		return nil, err
	}
	return s.transition(ctx, "walkover", matchID, func(a *bracket.Arena, t *bracket.Tournament, m *bracket.Match) ([]bracket.Event, error) {
		if err := requireRunning(t, m); err != nil {
			return nil, err
		}
		return a.Walkover(m.ID, slot, s.deps.Now())
	})
}

// Reset returns the match to WAITING and takes its winner back out of later rounds.
func (s *MatchService) Reset(ctx context.Context, matchID uuid.UUID) (*bracket.Match, error) {
	if err := requireAdmin(ctx, "reset match"); err != nil {
		return nil, err
	}
	return s.transition(ctx, "reset_match", matchID, func(a *bracket.Arena, t *bracket.Tournament, m *bracket.Match) ([]bracket.Event, error) {
		if t.Status != bracket.TournamentActive && t.Status != bracket.TournamentFinished {
			return nil, fmt.Errorf("%w: tournament is %s", bracket.ErrInvalidTransition, t.Status)
		}
		return a.Reset(m.ID)
	})
}

type matchFunc func(a *bracket.Arena, t *bracket.Tournament, m *bracket.Match) ([]bracket.Event, error)

func (s *MatchService) transition(ctx context.Context, op string, matchID uuid.UUID, fn matchFunc) (updated *bracket.Match, err error) {
	start := time.Now()
	ctx, span := s.deps.startSpan(ctx, "MatchService."+op, attribute.String("match.id", matchID.String()))
	defer func() { s.deps.finish(span, op, start, err) }()

	var evs []bracket.Event
	err = store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		match, err := s.store.GetMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}

		evs, err = s.progress.apply(ctx, tx, match.TournamentID, func(a *bracket.Arena, t *bracket.Tournament) ([]bracket.Event, error) {
			m, ok := a.Match(matchID)
			if !ok {
				return nil, fmt.Errorf("%w: match %s", bracket.ErrNotFound, matchID)
			}
			evs, err := fn(a, t, m)
			if err != nil {
				return nil, err
			}
			copied := *m
			updated = &copied
			return evs, nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.Info("match updated",
		"op", op,
		"match_id", matchID,
		"status", updated.Status,
		"player1_legs", updated.Player1Legs,
		"player2_legs", updated.Player2Legs,
		"events", len(evs),
	)

	// A recorded or reset result makes the live throw stale
	s.throws.Delete(matchID)
	s.deps.publish(ctx, evs)

	if freesBoard(evs) {
		s.scheduler.autoAssign(ctx)
	}
	return updated, nil
}

// requireRunning rejects scoring outside an ACTIVE tournament.
func requireRunning(t *bracket.Tournament, m *bracket.Match) error {
	if t.Status == bracket.TournamentActive {
		return nil
	}
	return &bracket.OpError{
		Op:           "score",
		Err:          bracket.ErrInvalidMatchState,
		TournamentID: &t.ID,
		MatchID:      &m.ID,
		Msg:          fmt.Sprintf("tournament is %s", t.Status),
	}
}

func freesBoard(evs []bracket.Event) bool {
	for _, e := range evs {
		if e.Type == bracket.EventGameFinished || e.Type == bracket.EventGameReset {
			return true
		}
	}
	return false
}

// SubmitThrow publishes the visit in progress on an ACTIVE match.
func (s *MatchService) SubmitThrow(ctx context.Context, throw throwcache.Throw) (*throwcache.Throw, error) {
	match, err := s.store.GetMatch(ctx, s.db, throw.MatchID)
	if err != nil {
		return nil, err
	}
	if err := requireScorer(ctx, "submit throw", match); err != nil {
		return nil, err
	}
	if match.Status != bracket.MatchActive {
		return nil, &bracket.OpError{
			Op:      "submit throw",
			Err:     bracket.ErrInvalidMatchState,
			MatchID: &match.ID,
			Msg:     fmt.Sprintf("match is %s", match.Status),
		}
	}

	stored, err := s.throws.Set(throw)
	if err != nil {
		return nil, err
	}
	s.deps.publish(ctx, []bracket.Event{bracket.NewMatchEvent(bracket.EventThrowUpdated, match, map[string]any{
		"player": stored.Slot,
		"darts":  stored.Darts,
		"score":  stored.Score,
	})})
	return &stored, nil
}

func (s *MatchService) GetThrow(matchID uuid.UUID) (throwcache.Throw, bool) {
	return s.throws.Get(matchID)
}
