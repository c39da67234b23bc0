package service

import (
	"context"
	"fmt"
	"time"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/AdamBeresnev/dartsturnier/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
)

// Assignment is a match bound to a board by the scheduler.
type Assignment struct {
	Match bracket.Match `json:"match"`
	Board bracket.Board `json:"board"`
}

// BoardScheduler binds runnable matches to free boards. Each bind runs in a serializing
// transaction, so concurrent callers never share a board or a match.
type BoardScheduler struct {
	db         *sqlx.DB
	store      *store.TournamentStore
	boards     *store.BoardStore
	progress   progression
	deps       Deps
	auto       bool
	maxRetries int
}

// NewBoardScheduler creates the scheduler. With auto set, boards are refilled whenever a match
// finishes or is reset, otherwise only AssignNext and AssignAll bind matches.
func NewBoardScheduler(db *sqlx.DB, store *store.TournamentStore, boards *store.BoardStore, auto bool, maxRetries int, deps Deps) *BoardScheduler {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &BoardScheduler{
		db:         db,
		store:      store,
		boards:     boards,
		progress:   progression{store: store},
		deps:       deps.withDefaults(),
		auto:       auto,
		maxRetries: maxRetries,
	}
}

// AssignNext binds the earliest eligible match to the best free board. It returns nil when
// nothing is eligible or no board is free.
func (s *BoardScheduler) AssignNext(ctx context.Context) (*Assignment, error) {
	if err := requireAdmin(ctx, "assign next"); err != nil {
		return nil, err
	}
	return s.assignNext(ctx)
}

// assignNext is also called by the services after a board frees up, on behalf of the system.
func (s *BoardScheduler) assignNext(ctx context.Context) (result *Assignment, err error) {
	start := time.Now()
	ctx, span := s.deps.startSpan(ctx, "BoardScheduler.AssignNext")
	defer func() { s.deps.finish(span, "assign_next", start, err) }()

	var evs []bracket.Event
	err = store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		next, err := s.store.NextEligibleMatch(ctx, tx)
		if err != nil {
			return fmt.Errorf("failed to find eligible match: %w", err)
		}
		if next == nil {
			return nil
		}

		free, err := s.boards.FreeBoards(ctx, tx)
		if err != nil {
			return fmt.Errorf("failed to find free boards: %w", err)
		}
		if len(free) == 0 {
			return nil
		}
		board := free[0]

		var bound bracket.Match
		evs, err = s.progress.apply(ctx, tx, next.TournamentID, func(a *bracket.Arena, _ *bracket.Tournament) ([]bracket.Event, error) {
			evs, err := a.Bind(next.ID, board.ID, s.deps.Now())
			if err != nil {
				return nil, err
			}
			m, _ := a.Match(next.ID)
			bound = *m
			return evs, nil
		})
		if err != nil {
			return err
		}

		result = &Assignment{Match: bound, Board: board}
		return nil
	})
	if err != nil {
		if bracket.IsRetryable(err) && s.deps.Metrics != nil {
			s.deps.Metrics.AssignmentConflicts.Inc()
		}
		return nil, err
	}

	if result != nil {
		span.SetAttributes(
			attribute.String("match.id", result.Match.ID.String()),
			attribute.String("board.id", result.Board.ID.String()),
		)
		s.deps.Logger.Info("match assigned",
			"match_id", result.Match.ID,
			"round", result.Match.RoundNumber,
			"ordinal", result.Match.Ordinal,
			"board", result.Board.Name,
		)
	}
	s.deps.publish(ctx, evs)
	return result, nil
}

// AssignAll keeps assigning until no board is free or nothing is eligible.
func (s *BoardScheduler) AssignAll(ctx context.Context) ([]Assignment, error) {
	if err := requireAdmin(ctx, "assign all"); err != nil {
		return nil, err
	}
	return s.assignAll(ctx)
}

// assignAll retries lost races up to maxRetries times in a row.
func (s *BoardScheduler) assignAll(ctx context.Context) ([]Assignment, error) {
	var assigned []Assignment
	conflicts := 0

	for {
		a, err := s.assignNext(ctx)
		switch {
		case bracket.IsRetryable(err):
			conflicts++
			if conflicts >= s.maxRetries {
				return assigned, err
			}
			s.deps.Logger.Debug("assignment conflict, retrying", "attempt", conflicts)
			continue
		case err != nil:
			return assigned, err
		case a == nil:
			return assigned, nil
		}
		conflicts = 0
		assigned = append(assigned, *a)
	}
}

// autoAssign fills free boards after a change that may have made boards or matches available.
// Failures are logged since the change that triggered it already committed.
func (s *BoardScheduler) autoAssign(ctx context.Context) {
	if s == nil || !s.auto {
		return
	}
	if _, err := s.assignAll(ctx); err != nil {
		s.deps.Logger.Warn("automatic assignment failed", "error", err)
	}
}

// ReleaseBoard takes the board's ACTIVE match back to WAITING, keeping its progress. It returns
// the released match, or nil if the board was idle.
func (s *BoardScheduler) ReleaseBoard(ctx context.Context, boardID uuid.UUID) (released *bracket.Match, err error) {
	if err := requireAdmin(ctx, "release board"); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := s.deps.startSpan(ctx, "BoardScheduler.ReleaseBoard", attribute.String("board.id", boardID.String()))
	defer func() { s.deps.finish(span, "release_board", start, err) }()

	var evs []bracket.Event
	err = store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := s.boards.GetBoard(ctx, tx, boardID); err != nil {
			return err
		}
		released, evs, err = s.release(ctx, tx, boardID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if released != nil {
		s.deps.Logger.Info("board released", "board_id", boardID, "match_id", released.ID)
	}
	s.deps.publish(ctx, evs)
	return released, nil
}

// release runs inside the caller's transaction so board deactivation and release commit together.
func (s *BoardScheduler) release(ctx context.Context, tx *sqlx.Tx, boardID uuid.UUID) (*bracket.Match, []bracket.Event, error) {
	active, err := s.store.ActiveMatchForBoard(ctx, tx, boardID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get active match of board: %w", err)
	}
	if active == nil {
		return nil, nil, nil
	}

	var released bracket.Match
	evs, err := s.progress.apply(ctx, tx, active.TournamentID, func(a *bracket.Arena, _ *bracket.Tournament) ([]bracket.Event, error) {
		evs, err := a.Release(active.ID)
		if err != nil {
			return nil, err
		}
		m, _ := a.Match(active.ID)
		released = *m
		return evs, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &released, evs, nil
}

// ActiveAssignments lists the boards currently holding a match.
func (s *BoardScheduler) ActiveAssignments(ctx context.Context) ([]Assignment, error) {
	boards, err := s.boards.ListBoards(ctx, s.db)
	if err != nil {
		return nil, err
	}

	var out []Assignment
	for _, b := range boards {
		m, err := s.store.ActiveMatchForBoard(ctx, s.db, b.ID)
		if err != nil {
			return nil, err
		}
		if m != nil {
			out = append(out, Assignment{Match: *m, Board: b})
		}
	}
	return out, nil
}
