package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/AdamBeresnev/dartsturnier/internal/config"
	"github.com/AdamBeresnev/dartsturnier/internal/httputil"
	"github.com/AdamBeresnev/dartsturnier/internal/live"
	"github.com/AdamBeresnev/dartsturnier/internal/middleware"
	"github.com/AdamBeresnev/dartsturnier/internal/service"
	"github.com/AdamBeresnev/dartsturnier/internal/throwcache"
	"github.com/AdamBeresnev/dartsturnier/views"
	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

type handlers struct {
	svc  *services
	auth *middleware.Authenticator
	hub  *live.Hub
}

func newRouter(cfg *config.Config, svc *services, auth *middleware.Authenticator, sessionManager *scs.SessionManager, hub *live.Hub, registry *prometheus.Registry) http.Handler {
	h := &handlers{svc: svc, auth: auth, hub: hub}
	limiter := middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.BoardCodeHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(sessionManager.LoadAndSave)
	r.Use(auth.Authenticate)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Public
	r.Get("/tournaments", h.listTournaments)
	r.Get("/tournaments/{id}", h.overview)
	r.Get("/tournaments/{id}/bracket", h.bracket)
	r.Get("/tournaments/{id}/standings", h.standings)
	r.Get("/tournaments/{id}/ws", h.tournamentWS)
	r.Get("/matches/{id}", h.matchView)
	r.Get("/matches/{id}/throw", h.getThrow)
	r.With(middleware.RateLimit(limiter)).Post("/tournaments/{id}/players", h.register)

	// Board terminals
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(limiter))

		r.Post("/board/session", h.boardLogin)
		r.Delete("/board/session", h.boardLogout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireBoardOrAdmin)

			r.Get("/board/ws", h.boardWS)
			r.Post("/matches/{id}/legs", h.recordLeg)
			r.Post("/matches/{id}/throw", h.submitThrow)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireAdmin)

		r.Post("/tournaments", h.createTournament)
		r.Put("/tournaments/{id}/round-policies", h.setRoundPolicies)
		r.Post("/tournaments/{id}/registration/open", h.openRegistration)
		r.Post("/tournaments/{id}/registration/close", h.closeRegistration)
		r.Post("/tournaments/{id}/registration/reopen", h.reopenRegistration)
		r.Post("/tournaments/{id}/players", h.registerMany)
		r.Post("/tournaments/{id}/start", h.start)
		r.Post("/tournaments/{id}/regenerate", h.regenerate)
		r.Post("/tournaments/{id}/reset", h.resetTournament)
		r.Post("/tournaments/{id}/rounds/{round}/reset", h.resetRound)

		r.Post("/players/{id}/confirm", h.confirmPlayer)
		r.Post("/players/{id}/withdraw", h.withdrawPlayer)
		r.Put("/players/{id}/shootout", h.recordShootout)

		r.Post("/matches/{id}/walkover", h.walkover)
		r.Post("/matches/{id}/reset", h.resetMatch)

		r.Get("/boards", h.listBoards)
		r.Post("/boards", h.createBoard)
		r.Put("/boards/{id}/active", h.setBoardActive)
		r.Post("/boards/{id}/code", h.rotateCode)
		r.Post("/boards/{id}/release", h.releaseBoard)

		r.Get("/assignments", h.activeAssignments)
		r.Post("/assignments/next", h.assignNext)
		r.Post("/assignments/all", h.assignAll)
	})

	return r
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, "Invalid "+name+" ID", err)
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) listTournaments(w http.ResponseWriter, r *http.Request) {
	tournaments, err := h.svc.tournaments.List(r.Context())
	if err != nil {
		httputil.Error(w, "Failed to list tournaments", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tournaments)
}

func (h *handlers) overview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournament")
	if !ok {
		return
	}
	overview, err := h.svc.tournaments.Overview(r.Context(), id)
	if err != nil {
		httputil.Error(w, "Failed to get tournament", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, overview)
}

func (h *handlers) bracket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournament")
	if !ok {
		return
	}
	data, err := h.svc.brackets.GetBracketData(r.Context(), id)
	if err != nil {
		httputil.Error(w, "Failed to get bracket", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, views.PrepareBracketData(data.Tournament, data.Players, data.Matches))
}

func (h *handlers) standings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournament")
	if !ok {
		return
	}
	players, err := h.svc.seeding.Standings(r.Context(), id)
	if err != nil {
		httputil.Error(w, "Failed to get standings", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, players)
}

func (h *handlers) tournamentWS(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournament")
	if !ok {
		return
	}
	if _, err := h.svc.tournaments.Get(r.Context(), id); err != nil {
		httputil.Error(w, "Failed to get tournament", err)
		return
	}
	h.hub.ServeWS(w, r, []string{live.TournamentRoom(id)})
}

// boardWS joins a terminal to its board room, plus the room of the tournament it is following.
func (h *handlers) boardWS(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipalFromContext(r.Context())
	if p.Role != middleware.RoleBoard {
		httputil.BadRequest(w, "Board credentials required", nil)
		return
	}
	rooms := []string{live.BoardRoom(p.BoardID)}
	if raw := r.URL.Query().Get("tournament"); raw != "" {
		tid, err := uuid.Parse(raw)
		if err != nil {
			httputil.BadRequest(w, "Invalid tournament ID", err)
			return
		}
		rooms = append(rooms, live.TournamentRoom(tid))
	}
	h.hub.ServeWS(w, r, rooms)
}

func (h *handlers) matchView(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "match")
	if !ok {
		return
	}
	data, err := h.svc.matches.GetMatchViewData(r.Context(), id)
	if err != nil {
		httputil.Error(w, "Failed to get match data", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, data)
}

func (h *handlers) getThrow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "match")
	if !ok {
		return
	}
	throw, found := h.svc.matches.GetThrow(id)
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, throw)
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournament")
	if !ok {
		return
	}
	var body struct {
		DisplayName string `json:"displayName"`
	}
	if err := httputil.DecodeJSON(w, r, &body); err != nil {
		httputil.BadRequest(w, "Invalid request body", err)
		return
	}
	player, err := h.svc.players.Register(r.Context(), id, body.DisplayName)
	if err != nil {
		httputil.Error(w, "Failed to register player", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, player)
}

func (h *handlers) boardLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccessCode string `json:"accessCode"`
	}
	if err := httputil.DecodeJSON(w, r, &body); err != nil {
		httputil.BadRequest(w, "Invalid request body", err)
		return
	}
	board, err := h.auth.StartBoardSession(r.Context(), body.AccessCode)
	if err != nil {
		httputil.Error(w, "Board login failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, board)
}

func (h *handlers) boardLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.EndBoardSession(r.Context()); err != nil {
		httputil.InternalServerError(w, "Failed to end board session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) recordLeg(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "match")
	if !ok {
		return
	}
	var body struct {
		Winner      bracket.Slot `json:"winner"`
		ExpectedLeg *int         `json:"expectedLeg,omitempty"`
	}
	if err := httputil.DecodeJSON(w, r, &body); err != nil {
		httputil.BadRequest(w, "Invalid request body", err)
		return
	}
	match, err := h.svc.matches.RecordLeg(r.Context(), id, body.Winner, body.ExpectedLeg)
	if err != nil {
		httputil.Error(w, "Failed to record leg", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, match)
}

func (h *handlers) submitThrow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "match")
	if !ok {
		return
	}
	var throw throwcache.Throw
	if err := httputil.DecodeJSON(w, r, &throw); err != nil {
		httputil.BadRequest(w, "Invalid request body", err)
		return
	}
	throw.MatchID = id
	stored, err := h.svc.matches.SubmitThrow(r.Context(), throw)
	if err != nil {
		httputil.Error(w, "Failed to submit throw", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stored)
}

func (h *handlers) createTournament(w http.ResponseWriter, r *http.Request) {
	var input service.CreateTournamentInput
	if err := httputil.DecodeJSON(w, r, &input); err != nil {
		httputil.BadRequest(w, "Invalid request body", err)
		return
	}
	tournament, err := h.svc.tournaments.CreateTournament(r.Context(), input)
	if err != nil {
		httputil.Error(w, "Failed to create tournament", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, tournament)
}

func (h *handlers) setRoundPolicies(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournament")
	if !ok {
		return
	}
	var inputs []service.RoundPolicyInput
	if err := httputil.DecodeJSON(w, r, &inputs); err != nil {
		httputil.BadRequest(w, "Invalid request body", err)
		return
	}
	tournament, err := h.svc.tournaments.SetRoundPolicies(r.Context(), id, inputs)
	if err != nil {
		httputil.Error(w, "Failed to set round policies", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tournament)
}

// tournamentAction adapts a tournament operation that takes only the tournament id.
func (h *handlers) tournamentAction(w http.ResponseWriter, r *http.Request, msg string, fn func(r *http.Request, id uuid.UUID) (*bracket.Tournament, error)) {
	id, ok := pathID(w, r, "tournament")
	if !ok {
		return
	}
	tournament, err := fn(r, id)
	if err != nil {
		httputil.Error(w, msg, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tournament)
}

func (h *handlers) openRegistration(w http.ResponseWriter, r *http.Request) {
	h.tournamentAction(w, r, "Failed to open registration", func(r *http.Request, id uuid.UUID) (*bracket.Tournament, error) {
		return h.svc.tournaments.OpenRegistration(r.Context(), id)
	})
}

func (h *handlers) closeRegistration(w http.ResponseWriter, r *http.Request) {
	h.tournamentAction(w, r, "Failed to close registration", func(r *http.Request, id uuid.UUID) (*bracket.Tournament, error) {
		return h.svc.tournaments.CloseRegistration(r.Context(), id)
	})
}

func (h *handlers) reopenRegistration(w http.ResponseWriter, r *http.Request) {
	h.tournamentAction(w, r, "Failed to reopen registration", func(r *http.Request, id uuid.UUID) (*bracket.Tournament, error) {
		return h.svc.tournaments.ReopenRegistration(r.Context(), id)
	})
}

func (h *handlers) start(w http.ResponseWriter, r *http.Request) {
	h.tournamentAction(w, r, "Failed to start tournament", func(r *http.Request, id uuid.UUID) (*bracket.Tournament, error) {
		return h.svc.tournaments.Start(r.Context(), id)
	})
}

func (h *handlers) regenerate(w http.ResponseWriter, r *http.Request) {
	h.tournamentAction(w, r, "Failed to regenerate bracket", func(r *http.Request, id uuid.UUID) (*bracket.Tournament, error) {
		return h.svc.tournaments.RegenerateBracket(r.Context(), id)
	})
}

func (h *handlers) resetTournament(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournament")
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := h.svc.tournaments.ResetTournament(r.Context(), id, force); err != nil {
		httputil.Error(w, "Failed to reset tournament", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) resetRound(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournament")
	if !ok {
		return
	}
	round, err := strconv.Atoi(chi.URLParam(r, "round"))
	if err != nil {
		httputil.BadRequest(w, "Invalid round number", err)
		return
	}
	if err := h.svc.tournaments.ResetRound(r.Context(), id, round); err != nil {
		httputil.Error(w, "Failed to reset round", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) registerMany(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournament")
	if !ok {
		return
	}
	var body struct {
		Names string `json:"names"`
	}
	if err := httputil.DecodeJSON(w, r, &body); err != nil {
		httputil.BadRequest(w, "Invalid request body", err)
		return
	}
	players, err := h.svc.players.RegisterMany(r.Context(), id, body.Names)
	if err != nil {
		httputil.Error(w, "Failed to register players", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, players)
}

func (h *handlers) confirmPlayer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "player")
	if !ok {
		return
	}
	player, err := h.svc.players.Confirm(r.Context(), id)
	if err != nil {
		httputil.Error(w, "Failed to confirm player", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, player)
}

func (h *handlers) withdrawPlayer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "player")
	if !ok {
		return
	}
	player, err := h.svc.players.Withdraw(r.Context(), id)
	if err != nil {
		httputil.Error(w, "Failed to withdraw player", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, player)
}

func (h *handlers) recordShootout(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "player")
	if !ok {
		return
	}
	var body struct {
		Score int `json:"score"`
	}
	if err := httputil.DecodeJSON(w, r, &body); err != nil {
		httputil.BadRequest(w, "Invalid request body", err)
		return
	}
	result, err := h.svc.seeding.RecordShootoutScore(r.Context(), id, body.Score)
	if err != nil {
		httputil.Error(w, "Failed to record shootout score", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *handlers) walkover(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "match")
	if !ok {
		return
	}
	var body struct {
		Winner bracket.Slot `json:"winner"`
	}
	if err := httputil.DecodeJSON(w, r, &body); err != nil {
		httputil.BadRequest(w, "Invalid request body", err)
		return
	}
	match, err := h.svc.matches.Walkover(r.Context(), id, body.Winner)
	if err != nil {
		httputil.Error(w, "Failed to award walkover", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, match)
}

func (h *handlers) resetMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "match")
	if !ok {
		return
	}
	match, err := h.svc.matches.Reset(r.Context(), id)
	if err != nil {
		httputil.Error(w, "Failed to reset match", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, match)
}

func (h *handlers) listBoards(w http.ResponseWriter, r *http.Request) {
	boards, err := h.svc.boards.ListBoards(r.Context())
	if err != nil {
		httputil.Error(w, "Failed to list boards", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, boards)
}

func (h *handlers) createBoard(w http.ResponseWriter, r *http.Request) {
	var input service.CreateBoardInput
	if err := httputil.DecodeJSON(w, r, &input); err != nil {
		httputil.BadRequest(w, "Invalid request body", err)
		return
	}
	board, err := h.svc.boards.CreateBoard(r.Context(), input)
	if err != nil {
		httputil.Error(w, "Failed to create board", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, board)
}

func (h *handlers) setBoardActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "board")
	if !ok {
		return
	}
	var body struct {
		Active bool `json:"active"`
	}
	if err := httputil.DecodeJSON(w, r, &body); err != nil {
		httputil.BadRequest(w, "Invalid request body", err)
		return
	}
	board, err := h.svc.boards.SetActive(r.Context(), id, body.Active)
	if err != nil {
		httputil.Error(w, "Failed to update board", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, board)
}

func (h *handlers) rotateCode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "board")
	if !ok {
		return
	}
	board, err := h.svc.boards.RotateCode(r.Context(), id)
	if err != nil {
		httputil.Error(w, "Failed to rotate access code", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, board)
}

func (h *handlers) releaseBoard(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "board")
	if !ok {
		return
	}
	match, err := h.svc.scheduler.ReleaseBoard(r.Context(), id)
	if err != nil {
		httputil.Error(w, "Failed to release board", err)
		return
	}
	if match == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, match)
}

func (h *handlers) activeAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.svc.scheduler.ActiveAssignments(r.Context())
	if err != nil {
		httputil.Error(w, "Failed to list assignments", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, assignments)
}

func (h *handlers) assignNext(w http.ResponseWriter, r *http.Request) {
	assignment, err := h.svc.scheduler.AssignNext(r.Context())
	if err != nil {
		httputil.Error(w, "Failed to assign match", err)
		return
	}
	if assignment == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, assignment)
}

func (h *handlers) assignAll(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.svc.scheduler.AssignAll(r.Context())
	if err != nil {
		httputil.Error(w, "Failed to assign matches", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"assigned":   assignments,
		"assignedAt": time.Now().UTC(),
	})
}
