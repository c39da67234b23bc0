package bracket

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrIncompleteSeeding    = errors.New("incomplete seeding")
	ErrInsufficientPlayers  = errors.New("insufficient players")
	ErrBracketLocked        = errors.New("bracket locked")
	ErrInvalidMatchState    = errors.New("invalid match state")
	ErrConcurrentAssignment = errors.New("concurrent assignment conflict")
	ErrUnauthorized         = errors.New("unauthorized operation")

	ErrNotFound           = errors.New("not found")
	ErrRoundNotFound      = errors.New("round not found")
	ErrInvalidTransition  = errors.New("invalid tournament transition")
	ErrTournamentFull     = errors.New("tournament full")
	ErrRegistrationClosed = errors.New("registration closed")
	ErrInvalidAccessCode  = errors.New("invalid access code")
	ErrInvalidInput       = errors.New("invalid input")
)

// OpError attaches the failing operation and the entities it touched to one of the sentinel errors.
type OpError struct {
	Op           string
	Err          error
	TournamentID *uuid.UUID
	MatchID      *uuid.UUID
	BoardID      *uuid.UUID
	Msg          string
}

func (e *OpError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	sb.WriteString(": ")
	sb.WriteString(e.Err.Error())
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.MatchID != nil {
		fmt.Fprintf(&sb, " (match %s)", e.MatchID)
	}
	if e.BoardID != nil {
		fmt.Fprintf(&sb, " (board %s)", e.BoardID)
	}
	return sb.String()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the operation lost a race and can be submitted again as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentAssignment)
}

func matchError(op string, kind error, m *Match, format string, args ...any) *OpError {
	e := &OpError{Op: op, Err: kind, Msg: fmt.Sprintf(format, args...)}
	if m != nil {
		id, tid := m.ID, m.TournamentID
		e.MatchID = &id
		e.TournamentID = &tid
		if m.BoardID != nil {
			board := *m.BoardID
			e.BoardID = &board
		}
	}
	return e
}
