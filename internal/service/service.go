package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/AdamBeresnev/dartsturnier/internal/events"
	"github.com/AdamBeresnev/dartsturnier/internal/metrics"
	"github.com/AdamBeresnev/dartsturnier/internal/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Deps carries what every service needs besides the database.
type Deps struct {
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
	Logger    *slog.Logger
	Now       func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Publisher == nil {
		d.Publisher = &events.Recorder{}
	}
	if d.Tracer == nil {
		d.Tracer = noop.NewTracerProvider().Tracer("dartsturnier")
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return d
}

func (d Deps) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return d.Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// finish ends span and records the operation duration.
func (d Deps) finish(span trace.Span, op string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	d.Metrics.Observe(op, start, err)
}

// publish sends committed events. The state change already happened, so a failed publish is
// logged rather than returned.
func (d Deps) publish(ctx context.Context, evs []bracket.Event) {
	if len(evs) == 0 {
		return
	}
	now := d.Now()
	for i := range evs {
		if evs[i].OccurredAt.IsZero() {
			evs[i].OccurredAt = now
		}
	}
	d.count(evs)
	if err := d.Publisher.Publish(ctx, evs...); err != nil {
		d.Logger.Error("failed to publish events", "count", len(evs), "error", err)
	}
}

func (d Deps) count(evs []bracket.Event) {
	if d.Metrics == nil {
		return
	}
	for _, e := range evs {
		switch e.Type {
		case bracket.EventLegWon:
			d.Metrics.LegsRecorded.Inc()
		case bracket.EventGameFinished:
			walkover, _ := e.Payload["walkover"].(bool)
			d.Metrics.MatchFinished(walkover)
		case bracket.EventGameAssigned:
			d.Metrics.Assignments.Inc()
		case bracket.EventGameReleased:
			d.Metrics.BoardsReleased.Inc()
		case bracket.EventGameReset:
			d.Metrics.MatchResets.Inc()
		}
	}
}

func requireAdmin(ctx context.Context, op string) error {
	p, ok := middleware.GetPrincipalFromContext(ctx)
	if !ok || !p.IsAdmin() {
		return &bracket.OpError{Op: op, Err: bracket.ErrUnauthorized, Msg: "admin only"}
	}
	return nil
}

func isAdmin(ctx context.Context) bool {
	p, ok := middleware.GetPrincipalFromContext(ctx)
	return ok && p.IsAdmin()
}

// requireScorer allows admins and the terminal of the board the match is played on.
func requireScorer(ctx context.Context, op string, m *bracket.Match) error {
	p, ok := middleware.GetPrincipalFromContext(ctx)
	if ok && (p.IsAdmin() || p.OwnsBoard(m.BoardID)) {
		return nil
	}
	id, tid := m.ID, m.TournamentID
	return &bracket.OpError{
		Op:           op,
		Err:          bracket.ErrUnauthorized,
		TournamentID: &tid,
		MatchID:      &id,
		BoardID:      m.BoardID,
		Msg:          "not the board of this match",
	}
}
