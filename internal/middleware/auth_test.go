package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/alexedwards/scs/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeBoards struct {
	boards map[string]*bracket.Board
}

func (f *fakeBoards) ResolveBoard(_ context.Context, code string) (*bracket.Board, error) {
	b, ok := f.boards[code]
	if !ok || !b.IsActive {
		return nil, bracket.ErrUnauthorized
	}
	return b, nil
}

func (f *fakeBoards) GetBoard(_ context.Context, id uuid.UUID) (*bracket.Board, error) {
	for _, b := range f.boards {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, bracket.ErrNotFound
}

func newTestAuthenticator(t *testing.T) (*Authenticator, *bracket.Board, *scs.SessionManager) {
	t.Helper()
	board := &bracket.Board{ID: uuid.New(), Name: "Board 1", AccessCode: "ABCDEF123456", IsActive: true}
	sessions := scs.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth := NewAuthenticator("test-secret", &fakeBoards{boards: map[string]*bracket.Board{board.AccessCode: board}}, sessions, logger)
	return auth, board, sessions
}

// principalEcho reports the principal the handler saw.
func principalEcho(seen *Principal, found *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen, *found = GetPrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticate(t *testing.T) {
	auth, board, sessions := newTestAuthenticator(t)

	adminToken, err := auth.IssueAdminToken("ops", time.Hour)
	require.NoError(t, err)

	expired, err := auth.IssueAdminToken("ops", -time.Minute)
	require.NoError(t, err)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &adminClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Role:             string(RoleAdmin),
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	tests := []struct {
		name      string
		headers   map[string]string
		status    int
		found     bool
		principal Principal
	}{
		{
			name:      "admin bearer",
			headers:   map[string]string{"Authorization": "Bearer " + adminToken},
			status:    http.StatusOK,
			found:     true,
			principal: Principal{Role: RoleAdmin, Subject: "ops"},
		},
		{
			name:    "expired bearer",
			headers: map[string]string{"Authorization": "Bearer " + expired},
			status:  http.StatusUnauthorized,
		},
		{
			name:    "wrong signing key",
			headers: map[string]string{"Authorization": "Bearer " + foreign},
			status:  http.StatusUnauthorized,
		},
		{
			name:    "not a bearer",
			headers: map[string]string{"Authorization": "Basic Zm9vOmJhcg=="},
			status:  http.StatusUnauthorized,
		},
		{
			name:      "board code",
			headers:   map[string]string{BoardCodeHeader: board.AccessCode},
			status:    http.StatusOK,
			found:     true,
			principal: Principal{Role: RoleBoard, Subject: board.Name, BoardID: board.ID},
		},
		{
			name:    "unknown board code",
			headers: map[string]string{BoardCodeHeader: "ZZZZZZZZ"},
			status:  http.StatusUnauthorized,
		},
		{
			name:   "anonymous",
			status: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen Principal
			var found bool
			handler := sessions.LoadAndSave(auth.Authenticate(principalEcho(&seen, &found)))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.found, found)
			if tt.found {
				assert.Equal(t, tt.principal, seen)
			}
		})
	}
}

func TestBoardSession(t *testing.T) {
	auth, board, sessions := newTestAuthenticator(t)

	login := sessions.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := auth.StartBoardSession(r.Context(), r.URL.Query().Get("code"))
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	login.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/board/session?code=NOPE1234", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	login.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/board/session?code="+board.AccessCode, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	var seen Principal
	var found bool
	handler := sessions.LoadAndSave(auth.Authenticate(principalEcho(&seen, &found)))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, found)
	assert.Equal(t, board.ID, seen.BoardID)
	assert.True(t, seen.OwnsBoard(&board.ID))
	assert.False(t, seen.IsAdmin())

	// Deactivating the board ends the session on the next request
	board.IsActive = false
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdmin(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := RequireAdmin(ok)

	serve := func(ctx context.Context) int {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil).WithContext(ctx))
		return rec.Code
	}

	bg := context.Background()
	assert.Equal(t, http.StatusUnauthorized, serve(bg))
	assert.Equal(t, http.StatusForbidden, serve(WithPrincipal(bg, Principal{Role: RoleBoard, BoardID: uuid.New()})))
	assert.Equal(t, http.StatusOK, serve(WithPrincipal(bg, Principal{Role: RoleAdmin})))

	rec := httptest.NewRecorder()
	RequireBoardOrAdmin(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil).
		WithContext(WithPrincipal(bg, Principal{Role: RoleBoard, BoardID: uuid.New()})))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Every(time.Hour), 2)
	handler := RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, serve("10.0.0.1:5000"))
	assert.Equal(t, http.StatusOK, serve("10.0.0.1:5001"))
	assert.Equal(t, http.StatusTooManyRequests, serve("10.0.0.1:5002"))
	assert.Equal(t, http.StatusOK, serve("10.0.0.2:5000"), "other addresses have their own bucket")
}
