package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/AdamBeresnev/dartsturnier/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type BoardService struct {
	db        *sqlx.DB
	store     *store.BoardStore
	scheduler *BoardScheduler
	deps      Deps
}

// NewBoardService manages the board registry. The scheduler releases the match of a board that is
// switched off.
func NewBoardService(db *sqlx.DB, boards *store.BoardStore, scheduler *BoardScheduler, deps Deps) *BoardService {
	return &BoardService{db: db, store: boards, scheduler: scheduler, deps: deps.withDefaults()}
}

type CreateBoardInput struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	// Generated when empty
	AccessCode string `json:"accessCode,omitempty"`
}

// CreatedBoard carries the access code, which is only ever returned here and by RotateCode.
type CreatedBoard struct {
	bracket.Board
	AccessCode string `json:"accessCode"`
}

func (s *BoardService) CreateBoard(ctx context.Context, input CreateBoardInput) (*CreatedBoard, error) {
	if err := requireAdmin(ctx, "create board"); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: board name is required", bracket.ErrInvalidInput)
	}
	code, err := s.accessCode(input.AccessCode)
	if err != nil {
		return nil, err
	}

	board := bracket.Board{
		ID:         uuid.New(),
		Name:       name,
		AccessCode: code,
		Priority:   input.Priority,
		IsActive:   true,
		CreatedAt:  s.deps.Now(),
	}
	err = store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return s.store.CreateBoard(ctx, tx, &board)
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.Info("board created", "board_id", board.ID, "name", board.Name, "priority", board.Priority)
	return &CreatedBoard{Board: board, AccessCode: code}, nil
}

func (s *BoardService) accessCode(code string) (string, error) {
	if code == "" {
		return bracket.GenerateAccessCode()
	}
	return bracket.NormalizeAccessCode(code)
}

func (s *BoardService) ListBoards(ctx context.Context) ([]bracket.Board, error) {
	return s.store.ListBoards(ctx, s.db)
}

// SetActive switches a board on or off. Deactivating a board that holds a match sends the match
// back to WAITING in the same transaction, keeping its progress.
func (s *BoardService) SetActive(ctx context.Context, boardID uuid.UUID, active bool) (*bracket.Board, error) {
	if err := requireAdmin(ctx, "set board active"); err != nil {
		return nil, err
	}

	var (
		board *bracket.Board
		evs   []bracket.Event
	)
	err := store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		board, err = s.store.GetBoard(ctx, tx, boardID)
		if err != nil {
			return err
		}
		if board.IsActive == active {
			return nil
		}

		board.IsActive = active
		if err := s.store.UpdateBoard(ctx, tx, board); err != nil {
			return err
		}
		if active {
			return nil
		}
		_, evs, err = s.scheduler.release(ctx, tx, boardID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.Info("board updated", "board_id", boardID, "active", active)
	s.deps.publish(ctx, evs)
	// A released match may go to another free board
	s.scheduler.autoAssign(ctx)
	return board, nil
}

// RotateCode replaces the access code of a board and returns the new one. Existing board
// sessions stay valid, header logins with the old code stop working.
func (s *BoardService) RotateCode(ctx context.Context, boardID uuid.UUID) (*CreatedBoard, error) {
	if err := requireAdmin(ctx, "rotate board code"); err != nil {
		return nil, err
	}
	code, err := bracket.GenerateAccessCode()
	if err != nil {
		return nil, err
	}

	var board *bracket.Board
	err = store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		if board, err = s.store.GetBoard(ctx, tx, boardID); err != nil {
			return err
		}
		return s.store.UpdateAccessCode(ctx, tx, boardID, code)
	})
	if err != nil {
		return nil, err
	}

	board.AccessCode = code
	s.deps.Logger.Info("board access code rotated", "board_id", boardID)
	return &CreatedBoard{Board: *board, AccessCode: code}, nil
}

// ResolveBoard authenticates a board terminal by its access code. Unknown codes and inactive
// boards are both reported as ErrUnauthorized.
func (s *BoardService) ResolveBoard(ctx context.Context, accessCode string) (*bracket.Board, error) {
	code, err := bracket.NormalizeAccessCode(accessCode)
	if err != nil {
		return nil, err
	}

	board, err := s.store.GetBoardByAccessCode(ctx, s.db, code)
	switch {
	case errors.Is(err, bracket.ErrNotFound):
		return nil, &bracket.OpError{Op: "resolve board", Err: bracket.ErrUnauthorized, Msg: "unknown access code"}
	case err != nil:
		return nil, err
	case !board.IsActive:
		return nil, &bracket.OpError{Op: "resolve board", Err: bracket.ErrUnauthorized, BoardID: &board.ID, Msg: "board is inactive"}
	}
	return board, nil
}

func (s *BoardService) GetBoard(ctx context.Context, id uuid.UUID) (*bracket.Board, error) {
	return s.store.GetBoard(ctx, s.db, id)
}
