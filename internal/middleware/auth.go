package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/AdamBeresnev/dartsturnier/internal/httputil"
	"github.com/alexedwards/scs/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	BoardCodeHeader = "X-Board-Code"
	sessionBoardKey = "boardID"
)

var ErrInvalidToken = errors.New("invalid token")

// BoardResolver turns board credentials into an active board.
type BoardResolver interface {
	ResolveBoard(ctx context.Context, accessCode string) (*bracket.Board, error)
	GetBoard(ctx context.Context, id uuid.UUID) (*bracket.Board, error)
}

type adminClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type Authenticator struct {
	secret   []byte
	boards   BoardResolver
	sessions *scs.SessionManager
	logger   *slog.Logger
}

func NewAuthenticator(secret string, boards BoardResolver, sessions *scs.SessionManager, logger *slog.Logger) *Authenticator {
	return &Authenticator{secret: []byte(secret), boards: boards, sessions: sessions, logger: logger}
}

// IssueAdminToken signs an ADMIN token. Tokens are normally minted by the operator tooling.
func (a *Authenticator) IssueAdminToken(subject string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}
	now := time.Now()
	claims := &adminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: string(RoleAdmin),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (a *Authenticator) ParseAdminToken(raw string) (Principal, error) {
	if len(a.secret) == 0 {
		return Principal{}, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(raw, &adminClaims{}, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*adminClaims)
	if !ok || !token.Valid || Role(claims.Role) != RoleAdmin {
		return Principal{}, ErrInvalidToken
	}
	return Principal{Role: RoleAdmin, Subject: claims.Subject}, nil
}

// Authenticate resolves the caller from a bearer token, a board code header, or a board session,
// in that order. Requests without credentials continue anonymously. Bad credentials are rejected.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if auth := r.Header.Get("Authorization"); auth != "" {
			raw, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok {
				httputil.Unauthorized(w, "Malformed authorization header")
				return
			}
			p, err := a.ParseAdminToken(raw)
			if err != nil {
				a.logger.Warn("rejected admin token", "error", err)
				httputil.Unauthorized(w, "Invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, p)))
			return
		}

		if code := r.Header.Get(BoardCodeHeader); code != "" {
			board, err := a.boards.ResolveBoard(ctx, code)
			if err != nil {
				a.logger.Warn("rejected board code", "error", err)
				httputil.Unauthorized(w, "Invalid board code")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, boardPrincipal(board))))
			return
		}

		if a.sessions != nil {
			if idStr := a.sessions.GetString(ctx, sessionBoardKey); idStr != "" {
				board, err := a.sessionBoard(ctx, idStr)
				if err != nil {
					a.sessions.Remove(ctx, sessionBoardKey)
					httputil.Unauthorized(w, "Board session expired")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, boardPrincipal(board))))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) sessionBoard(ctx context.Context, idStr string) (*bracket.Board, error) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	board, err := a.boards.GetBoard(ctx, id)
	if err != nil {
		return nil, err
	}
	if !board.IsActive {
		return nil, fmt.Errorf("%w: board %s is inactive", bracket.ErrUnauthorized, id)
	}
	return board, nil
}

// StartBoardSession logs a board terminal in. The session token is renewed to prevent fixation.
func (a *Authenticator) StartBoardSession(ctx context.Context, accessCode string) (*bracket.Board, error) {
	board, err := a.boards.ResolveBoard(ctx, accessCode)
	if err != nil {
		return nil, err
	}
	if err := a.sessions.RenewToken(ctx); err != nil {
		return nil, fmt.Errorf("failed to renew session token: %w", err)
	}
	a.sessions.Put(ctx, sessionBoardKey, board.ID.String())
	return board, nil
}

func (a *Authenticator) EndBoardSession(ctx context.Context) error {
	return a.sessions.Destroy(ctx)
}

func boardPrincipal(b *bracket.Board) Principal {
	return Principal{Role: RoleBoard, Subject: b.Name, BoardID: b.ID}
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := GetPrincipalFromContext(r.Context())
		if !ok {
			httputil.Unauthorized(w, "Authentication required")
			return
		}
		if !p.IsAdmin() {
			httputil.Error(w, "admin route", bracket.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireBoardOrAdmin lets any authenticated caller through. Per-match ownership is checked by the services.
func RequireBoardOrAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetPrincipalFromContext(r.Context()); !ok {
			httputil.Unauthorized(w, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
