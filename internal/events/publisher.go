package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topic carries every bracket event. Consumers route on the metadata keys below.
const Topic = "dartsturnier.events"

const (
	MetadataTournamentID = "tournament_id"
	MetadataEventType    = "event_type"
	MetadataBoardID      = "board_id"
)

// Publisher is called by the services after a transaction has committed.
type Publisher interface {
	Publish(ctx context.Context, events ...bracket.Event) error
}

type WatermillPublisher struct {
	pub    message.Publisher
	logger *slog.Logger
}

func NewWatermillPublisher(pub message.Publisher, logger *slog.Logger) *WatermillPublisher {
	return &WatermillPublisher{pub: pub, logger: logger}
}

func (p *WatermillPublisher) Publish(ctx context.Context, events ...bracket.Event) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]*message.Message, 0, len(events))
	for _, e := range events {
		msg, err := Encode(e)
		if err != nil {
			return err
		}
		msg.SetContext(ctx)
		msgs = append(msgs, msg)
	}

	if err := p.pub.Publish(Topic, msgs...); err != nil {
		return fmt.Errorf("failed to publish %d events: %w", len(msgs), err)
	}
	p.logger.Debug("events published", "count", len(msgs), "first_type", events[0].Type)
	return nil
}

func Encode(e bracket.Event) (*message.Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", e.Type, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataTournamentID, e.TournamentID.String())
	msg.Metadata.Set(MetadataEventType, string(e.Type))
	if e.BoardID != nil {
		msg.Metadata.Set(MetadataBoardID, e.BoardID.String())
	}
	return msg, nil
}

func Decode(msg *message.Message) (bracket.Event, error) {
	var e bracket.Event
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return e, fmt.Errorf("failed to decode event %s: %w", msg.UUID, err)
	}
	return e, nil
}

// NewBus returns the in-process pub/sub connecting the services to the live hub.
// Publish waits for subscriber acks so each subscriber sees events in commit order.
func NewBus(logger *slog.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256, BlockPublishUntilSubscriberAck: true},
		watermill.NewSlogLogger(logger),
	)
}
