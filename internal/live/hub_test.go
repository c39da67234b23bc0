package live

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/AdamBeresnev/dartsturnier/internal/events"
	"github.com/AdamBeresnev/dartsturnier/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *httptest.Server, *metrics.Metrics) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())
	hub := NewHub(nil, logger, m)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.URL.Query()["room"])
	}))
	t.Cleanup(srv.Close)
	return hub, srv, m
}

func dial(t *testing.T, srv *httptest.Server, rooms ...string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?room=" + strings.Join(rooms, "&room=")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) bracket.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var e bracket.Event
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

func TestHub_RoutesByTournamentAndBoard(t *testing.T) {
	hub, srv, m := startHub(t)

	tournamentID, boardID, otherBoard := uuid.New(), uuid.New(), uuid.New()
	spectator := dial(t, srv, TournamentRoom(tournamentID))
	terminal := dial(t, srv, TournamentRoom(tournamentID), BoardRoom(boardID))
	otherTerminal := dial(t, srv, BoardRoom(otherBoard))

	require.Eventually(t, func() bool {
		return hub.RoomSize(TournamentRoom(tournamentID)) == 2 && hub.RoomSize(BoardRoom(otherBoard)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.LiveConnections))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := events.NewBus(logger)
	t.Cleanup(func() { bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sub, err := bus.Subscribe(ctx, events.Topic)
	require.NoError(t, err)
	go hub.Consume(ctx, sub)

	matchID := uuid.New()
	e := bracket.Event{Type: bracket.EventGameAssigned, TournamentID: tournamentID, MatchID: &matchID, BoardID: &boardID}
	require.NoError(t, events.NewWatermillPublisher(bus, logger).Publish(ctx, e))

	assert.Equal(t, e, readEvent(t, spectator))
	assert.Equal(t, e, readEvent(t, terminal))

	// A client in both rooms gets the event once
	require.NoError(t, terminal.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = terminal.ReadMessage()
	assert.Error(t, err)

	require.NoError(t, otherTerminal.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = otherTerminal.ReadMessage()
	assert.Error(t, err, "other boards do not see the event")
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub, srv, m := startHub(t)
	room := TournamentRoom(uuid.New())

	conn := dial(t, srv, room)
	require.Eventually(t, func() bool { return hub.RoomSize(room) == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.RoomSize(room) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LiveConnections))
}
