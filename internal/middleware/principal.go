package middleware

import (
	"context"

	"github.com/google/uuid"
)

type ContextKey string

const PrincipalKey ContextKey = "principal"

type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleBoard Role = "BOARD"
)

// Principal is the authenticated caller. BoardID is only set for board terminals.
type Principal struct {
	Role    Role
	Subject string
	BoardID uuid.UUID
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// OwnsBoard reports whether p is the terminal of the given board.
func (p Principal) OwnsBoard(boardID *uuid.UUID) bool {
	return p.Role == RoleBoard && boardID != nil && *boardID == p.BoardID
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

func GetPrincipalFromContext(ctx context.Context) (Principal, bool) {
	val := ctx.Value(PrincipalKey)
	if val == nil {
		return Principal{}, false
	}
	p, ok := val.(Principal)
	return p, ok
}
