package events

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatermillPublisher_RoundTrip(t *testing.T) {
	logger := testLogger()
	bus := NewBus(logger)
	t.Cleanup(func() { bus.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := bus.Subscribe(ctx, Topic)
	require.NoError(t, err)

	matchID, boardID := uuid.New(), uuid.New()
	sent := []bracket.Event{
		{
			Type:         bracket.EventGameAssigned,
			TournamentID: uuid.New(),
			MatchID:      &matchID,
			BoardID:      &boardID,
			Payload:      map[string]any{"roundNumber": float64(1)},
			OccurredAt:   time.Date(2026, time.March, 14, 20, 30, 0, 0, time.UTC),
		},
		{Type: bracket.EventTournamentUpdated, TournamentID: uuid.New()},
	}

	pub := NewWatermillPublisher(bus, logger)
	published := make(chan error, 1)
	go func() { published <- pub.Publish(ctx, sent...) }()

	for i, want := range sent {
		select {
		case msg := <-msgs:
			got, err := Decode(msg)
			require.NoError(t, err)
			msg.Ack()

			assert.Equal(t, want, got, "event %d", i)
			assert.Equal(t, want.TournamentID.String(), msg.Metadata.Get(MetadataTournamentID))
			assert.Equal(t, string(want.Type), msg.Metadata.Get(MetadataEventType))
			if want.BoardID != nil {
				assert.Equal(t, want.BoardID.String(), msg.Metadata.Get(MetadataBoardID))
			} else {
				assert.Empty(t, msg.Metadata.Get(MetadataBoardID))
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	require.NoError(t, <-published)
}

func TestWatermillPublisher_NoEvents(t *testing.T) {
	bus := NewBus(testLogger())
	t.Cleanup(func() { bus.Close() })

	pub := NewWatermillPublisher(bus, testLogger())
	assert.NoError(t, pub.Publish(context.Background()))
}

func TestRecorder(t *testing.T) {
	var r Recorder
	ctx := context.Background()

	require.NoError(t, r.Publish(ctx,
		bracket.Event{Type: bracket.EventLegWon},
		bracket.Event{Type: bracket.EventGameFinished},
		bracket.Event{Type: bracket.EventLegWon},
	))

	assert.Len(t, r.Events(), 3)
	assert.Len(t, r.OfType(bracket.EventLegWon), 2)
	assert.Empty(t, r.OfType(bracket.EventGameReset))

	r.Reset()
	assert.Empty(t, r.Events())
}
