package httputil

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/AdamBeresnev/dartsturnier/internal/store"
	"github.com/AdamBeresnev/dartsturnier/internal/throwcache"
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

func InternalServerError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	WriteJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal Server Error", Code: "INTERNAL"})
}

func BadRequest(w http.ResponseWriter, msg string, err error) {
	if err != nil {
		slog.Warn("bad request", "message", msg, "error", err)
	} else {
		slog.Warn("bad request", "message", msg)
	}
	WriteJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: "BAD_REQUEST"})
}

func NotFound(w http.ResponseWriter, msg string, err error) {
	if err != nil {
		slog.Warn("not found", "message", msg, "error", err)
	} else {
		slog.Warn("not found", "message", msg)
	}
	WriteJSON(w, http.StatusNotFound, errorBody{Error: msg, Code: "NOT_FOUND"})
}

func Unauthorized(w http.ResponseWriter, msg string) {
	slog.Warn("unauthorized", "message", msg)
	WriteJSON(w, http.StatusUnauthorized, errorBody{Error: msg, Code: "UNAUTHENTICATED"})
}

// Error writes the response for an error returned by a service.
func Error(w http.ResponseWriter, msg string, err error) {
	status, code := Status(err)
	if status == http.StatusInternalServerError {
		InternalServerError(w, msg, err)
		return
	}

	slog.Warn(msg, "error", err, "status", status)
	WriteJSON(w, status, errorBody{
		Error:     err.Error(),
		Code:      code,
		Retryable: bracket.IsRetryable(err),
	})
}

// Status maps domain errors to an HTTP status and a stable machine readable code.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, bracket.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, bracket.ErrRoundNotFound):
		return http.StatusNotFound, "ROUND_NOT_FOUND"
	case errors.Is(err, bracket.ErrUnauthorized):
		return http.StatusForbidden, "UNAUTHORIZED"
	case errors.Is(err, bracket.ErrConcurrentAssignment):
		return http.StatusConflict, "CONCURRENT_ASSIGNMENT"
	case errors.Is(err, bracket.ErrBracketLocked):
		return http.StatusConflict, "BRACKET_LOCKED"
	case errors.Is(err, bracket.ErrInvalidMatchState):
		return http.StatusConflict, "INVALID_MATCH_STATE"
	case errors.Is(err, bracket.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, bracket.ErrTournamentFull):
		return http.StatusConflict, "TOURNAMENT_FULL"
	case errors.Is(err, bracket.ErrRegistrationClosed):
		return http.StatusConflict, "REGISTRATION_CLOSED"
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, "DUPLICATE"
	case errors.Is(err, bracket.ErrIncompleteSeeding):
		return http.StatusUnprocessableEntity, "INCOMPLETE_SEEDING"
	case errors.Is(err, bracket.ErrInsufficientPlayers):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_PLAYERS"
	case errors.Is(err, bracket.ErrInvalidAccessCode):
		return http.StatusBadRequest, "INVALID_ACCESS_CODE"
	case errors.Is(err, bracket.ErrInvalidInput), errors.Is(err, throwcache.ErrInvalidThrow):
		return http.StatusBadRequest, "INVALID_INPUT"
	}
	return http.StatusInternalServerError, "INTERNAL"
}
