package store

import (
	"context"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type BoardStore struct {
	db *sqlx.DB
}

const (
	getBoardQuery             = "SELECT * FROM boards WHERE id = ?"
	getBoardByAccessCodeQuery = "SELECT * FROM boards WHERE access_code = ?"
	listBoardsQuery           = "SELECT * FROM boards ORDER BY priority ASC, name ASC"
	createBoardQuery          = `
		INSERT INTO boards (id, name, access_code, priority, is_active, created_at) VALUES
		(:id, :name, :access_code, :priority, :is_active, :created_at)
	`
	updateBoardQuery = `
		UPDATE boards SET
		name = :name,
		priority = :priority,
		is_active = :is_active
		WHERE id = :id
	`
	// Active boards that are not holding an ACTIVE match, best first
	freeBoardsQuery = `
		SELECT b.* FROM boards b
		WHERE b.is_active = ?
		AND NOT EXISTS (SELECT 1 FROM matches m WHERE m.board_id = b.id AND m.status = ?)
		ORDER BY b.priority ASC, b.name ASC
	`
)

func NewBoardStore(db *sqlx.DB) *BoardStore {
	return &BoardStore{db: db}
}

func (s *BoardStore) GetBoard(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*bracket.Board, error) {
	var board bracket.Board
	if err := sqlx.GetContext(ctx, q, &board, s.db.Rebind(getBoardQuery), id); err != nil {
		return nil, notFound(err, "board", id)
	}
	return &board, nil
}

// GetBoardByAccessCode expects a code already normalized with bracket.NormalizeAccessCode.
func (s *BoardStore) GetBoardByAccessCode(ctx context.Context, q sqlx.QueryerContext, code string) (*bracket.Board, error) {
	var board bracket.Board
	if err := sqlx.GetContext(ctx, q, &board, s.db.Rebind(getBoardByAccessCodeQuery), code); err != nil {
		return nil, notFound(err, "board with access code", "****")
	}
	return &board, nil
}

func (s *BoardStore) ListBoards(ctx context.Context, q sqlx.QueryerContext) ([]bracket.Board, error) {
	var boards []bracket.Board
	err := sqlx.SelectContext(ctx, q, &boards, listBoardsQuery)
	return boards, err
}

func (s *BoardStore) CreateBoard(ctx context.Context, tx *sqlx.Tx, board *bracket.Board) error {
	_, err := tx.NamedExecContext(ctx, createBoardQuery, board)
	return classify(err)
}

func (s *BoardStore) UpdateBoard(ctx context.Context, tx *sqlx.Tx, board *bracket.Board) error {
	res, err := tx.NamedExecContext(ctx, updateBoardQuery, board)
	return checkAffected(res, err, "board", board.ID)
}

func (s *BoardStore) FreeBoards(ctx context.Context, q sqlx.QueryerContext) ([]bracket.Board, error) {
	var boards []bracket.Board
	err := sqlx.SelectContext(ctx, q, &boards, s.db.Rebind(freeBoardsQuery), true, bracket.MatchActive)
	return boards, err
}

// UpdateAccessCode stores a new, already normalized, access code for a board.
func (s *BoardStore) UpdateAccessCode(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, code string) error {
	res, err := tx.ExecContext(ctx, tx.Rebind("UPDATE boards SET access_code = ? WHERE id = ?"), code, id)
	return checkAffected(res, err, "board", id)
}
