package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/AdamBeresnev/dartsturnier/internal/config"
	"github.com/AdamBeresnev/dartsturnier/internal/db"
	"github.com/AdamBeresnev/dartsturnier/internal/events"
	"github.com/AdamBeresnev/dartsturnier/internal/live"
	"github.com/AdamBeresnev/dartsturnier/internal/metrics"
	"github.com/AdamBeresnev/dartsturnier/internal/middleware"
	"github.com/AdamBeresnev/dartsturnier/internal/service"
	"github.com/AdamBeresnev/dartsturnier/internal/store"
	"github.com/AdamBeresnev/dartsturnier/internal/throwcache"
	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	app := &cli.App{
		Name:  "dartsturnier",
		Usage: "darts tournament progression server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "config.yaml", Usage: "path to the configuration file", EnvVars: []string{"CONFIG_FILE"}},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			boardsCommand(),
			tokenCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// app holds what every command shares. Commands other than serve skip the hub and the bus.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sqlx.DB
}

func setup(c *cli.Context) (*app, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	database, err := db.InitDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, db: database}, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run migrations and start the HTTP server",
		Action: func(c *cli.Context) error {
			a, err := setup(c)
			if err != nil {
				return err
			}
			defer a.db.Close()

			if err := db.RunMigrations(a.db.DB, a.cfg.Database.Driver); err != nil {
				return err
			}
			return a.serve(c.Context)
		},
	}
}

func (a *app) serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	bus := events.NewBus(a.logger)
	defer bus.Close()

	hub := live.NewHub(a.cfg.Server.AllowedOrigins, a.logger, m)
	go hub.Run(ctx)

	msgs, err := bus.Subscribe(ctx, events.Topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}
	go hub.Consume(ctx, msgs)

	throws := throwcache.New(a.cfg.ThrowCache.TTL)
	go throws.Run(ctx, a.cfg.ThrowCache.SweepInterval)

	deps := service.Deps{
		Publisher: events.NewWatermillPublisher(bus, a.logger),
		Metrics:   m,
		Tracer:    otel.Tracer("dartsturnier"),
		Logger:    a.logger,
	}
	svc := newServices(a.db, a.cfg, throws, deps)

	sessionManager := scs.New()
	sessionManager.Lifetime = a.cfg.Auth.SessionLifetime
	sessionManager.Cookie.HttpOnly = true
	sessionManager.Cookie.SameSite = http.SameSiteLaxMode
	if a.cfg.Database.Driver == db.DriverSQLite {
		sessionManager.Store = sqlite3store.New(a.db.DB)
	} else {
		sessionManager.Store = memstore.New()
	}

	if a.cfg.Auth.JWTSecret == "" {
		a.logger.Warn("no JWT secret configured, admin routes are unreachable")
	}
	auth := middleware.NewAuthenticator(a.cfg.Auth.JWTSecret, svc.boards, sessionManager, a.logger)

	server := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      newRouter(a.cfg, svc, auth, sessionManager, hub, registry),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     slog.NewLogLogger(a.logger.Handler(), slog.LevelError),
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", "addr", server.Addr, "auto_assign", a.cfg.Scheduler.AutoAssign)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}

type services struct {
	tournaments *service.TournamentService
	players     *service.PlayerService
	seeding     *service.SeedingService
	brackets    *service.BracketGeneration
	matches     *service.MatchService
	scheduler   *service.BoardScheduler
	boards      *service.BoardService
}

func newServices(database *sqlx.DB, cfg *config.Config, throws *throwcache.Cache, deps service.Deps) *services {
	tournamentStore := store.NewTournamentStore(database)
	boardStore := store.NewBoardStore(database)

	scheduler := service.NewBoardScheduler(database, tournamentStore, boardStore, cfg.Scheduler.AutoAssign, cfg.Scheduler.MaxAssignRetries, deps)
	seeding := service.NewSeedingService(database, tournamentStore, deps)
	brackets := service.NewBracketService(database, tournamentStore, deps)

	return &services{
		tournaments: service.NewTournamentService(database, tournamentStore, seeding, brackets, scheduler, deps),
		players:     service.NewPlayerService(database, tournamentStore, deps),
		seeding:     seeding,
		brackets:    brackets,
		matches:     service.NewMatchService(database, tournamentStore, throws, scheduler, deps),
		scheduler:   scheduler,
		boards:      service.NewBoardService(database, boardStore, scheduler, deps),
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "database migrations",
		Subcommands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply all pending migrations",
				Action: func(c *cli.Context) error {
					a, err := setup(c)
					if err != nil {
						return err
					}
					defer a.db.Close()

					if err := db.RunMigrations(a.db.DB, a.cfg.Database.Driver); err != nil {
						return err
					}
					a.logger.Info("migrations applied")
					return nil
				},
			},
			{
				Name:  "down",
				Usage: "roll back migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "steps", Value: 1, Usage: "number of migrations to roll back"},
				},
				Action: func(c *cli.Context) error {
					a, err := setup(c)
					if err != nil {
						return err
					}
					defer a.db.Close()

					if err := db.RollbackMigrations(a.db.DB, a.cfg.Database.Driver, c.Int("steps")); err != nil {
						return err
					}
					a.logger.Info("migrations rolled back", "steps", c.Int("steps"))
					return nil
				},
			},
		},
	}
}

// operatorContext runs board commands with admin rights. Whoever can reach the database is the operator.
func operatorContext(c *cli.Context) context.Context {
	return middleware.WithPrincipal(c.Context, middleware.Principal{Role: middleware.RoleAdmin, Subject: "cli"})
}

// withBoards opens the database and hands the board service to fn.
func withBoards(c *cli.Context, fn func(ctx context.Context, a *app, boards *service.BoardService) error) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.db.Close()

	deps := service.Deps{Logger: a.logger}
	svc := newServices(a.db, a.cfg, throwcache.New(a.cfg.ThrowCache.TTL), deps)
	return fn(operatorContext(c), a, svc.boards)
}

func boardsCommand() *cli.Command {
	return &cli.Command{
		Name:  "boards",
		Usage: "manage dartboards",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "register a board and print its access code",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "priority", Usage: "lower boards are filled first"},
					&cli.StringFlag{Name: "code", Usage: "access code, generated when empty"},
				},
				Action: func(c *cli.Context) error {
					name := strings.Join(c.Args().Slice(), " ")
					return withBoards(c, func(ctx context.Context, _ *app, boards *service.BoardService) error {
						created, err := boards.CreateBoard(ctx, service.CreateBoardInput{
							Name:       name,
							Priority:   c.Int("priority"),
							AccessCode: c.String("code"),
						})
						if err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", created.ID, created.Name, created.AccessCode)
						return nil
					})
				},
			},
			{
				Name:  "list",
				Usage: "list boards",
				Action: func(c *cli.Context) error {
					return withBoards(c, func(ctx context.Context, _ *app, boards *service.BoardService) error {
						list, err := boards.ListBoards(ctx)
						if err != nil {
							return err
						}
						w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
						fmt.Fprintln(w, "ID\tNAME\tPRIORITY\tACTIVE")
						for _, b := range list {
							fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", b.ID, b.Name, b.Priority, b.IsActive)
						}
						return w.Flush()
					})
				},
			},
			{
				Name:      "deactivate",
				Usage:     "take a board out of rotation, releasing its match",
				ArgsUsage: "<board id>",
				Action: func(c *cli.Context) error {
					id, err := uuid.Parse(c.Args().First())
					if err != nil {
						return fmt.Errorf("invalid board id: %w", err)
					}
					return withBoards(c, func(ctx context.Context, a *app, boards *service.BoardService) error {
						board, err := boards.SetActive(ctx, id, false)
						if err != nil {
							return err
						}
						a.logger.Info("board deactivated", "board_id", board.ID, "name", board.Name)
						return nil
					})
				},
			},
			{
				Name:      "rotate-code",
				Usage:     "replace the access code of a board",
				ArgsUsage: "<board id>",
				Action: func(c *cli.Context) error {
					id, err := uuid.Parse(c.Args().First())
					if err != nil {
						return fmt.Errorf("invalid board id: %w", err)
					}
					return withBoards(c, func(ctx context.Context, _ *app, boards *service.BoardService) error {
						rotated, err := boards.RotateCode(ctx, id)
						if err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "%s\t%s\n", rotated.Name, rotated.AccessCode)
						return nil
					})
				},
			},
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "issue an admin bearer token",
		ArgsUsage: "<subject>",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour, Usage: "token lifetime"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			subject := c.Args().First()
			if subject == "" {
				subject = "admin"
			}

			auth := middleware.NewAuthenticator(cfg.Auth.JWTSecret, nil, nil, newLogger(cfg.Log))
			token, err := auth.IssueAdminToken(subject, c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, token)
			return nil
		},
	}
}
