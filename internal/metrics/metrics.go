package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dartsturnier"

type Metrics struct {
	LegsRecorded        prometheus.Counter
	MatchesFinished     *prometheus.CounterVec
	Assignments         prometheus.Counter
	AssignmentConflicts prometheus.Counter
	BoardsReleased      prometheus.Counter
	MatchResets         prometheus.Counter
	TransitionDuration  *prometheus.HistogramVec
	LiveConnections     prometheus.Gauge
}

// New registers the collectors on reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LegsRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "legs_recorded_total",
			Help:      "Legs recorded across all matches.",
		}),
		MatchesFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_finished_total",
			Help:      "Matches finished, split by walkover.",
		}, []string{"walkover"}),
		Assignments: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "board_assignments_total",
			Help:      "Matches bound to a board.",
		}),
		AssignmentConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "board_assignment_conflicts_total",
			Help:      "Assignments that lost a race and were rolled back.",
		}),
		BoardsReleased: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "boards_released_total",
			Help:      "Active matches taken off their board without finishing.",
		}),
		MatchResets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_resets_total",
			Help:      "Matches returned to WAITING by a reset.",
		}),
		TransitionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transition_duration_seconds",
			Help:      "Time spent in a state-changing operation, transaction included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "outcome"}),
		LiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_connections",
			Help:      "Open websocket connections.",
		}),
	}
}

// Observe records the duration of op since start. Nil receivers are ignored.
func (m *Metrics) Observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.TransitionDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

func (m *Metrics) MatchFinished(walkover bool) {
	if m == nil {
		return
	}
	m.MatchesFinished.WithLabelValues(strconv.FormatBool(walkover)).Inc()
}
