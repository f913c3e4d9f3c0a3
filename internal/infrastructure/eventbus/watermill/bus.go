package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/hero-dungeon/dungeond/internal/core/domain"
	"github.com/hero-dungeon/dungeond/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const (
	eventTypeKey     = "event_type"
	outputBufferSize = 256
)

type eventBus struct {
	pubsub *gochannel.GoChannel
}

// NewEventBus returns an in-process bus, events are lost if nobody is
// subscribed to their topic.
func NewEventBus() ports.EventBus {
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: outputBufferSize},
		newLoggerAdapter(log.StandardLogger()),
	)
	return &eventBus{pubsub}
}

func (b *eventBus) Publish(ctx context.Context, events ...domain.Event) error {
	for _, event := range events {
		msg, err := toMessage(event)
		if err != nil {
			return err
		}
		msg.SetContext(ctx)
		if err := b.pubsub.Publish(event.GetTopic(), msg); err != nil {
			return fmt.Errorf("failed to publish %s event: %s", event.GetType(), err)
		}
	}
	return nil
}

func (b *eventBus) Subscribe(
	ctx context.Context, topic string, handler func(domain.Event),
) error {
	messages, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %s", topic, err)
	}

	go func() {
		for msg := range messages {
			event, err := fromMessage(msg)
			if err != nil {
				log.WithError(err).Warnf("dropping message %s on topic %s", msg.UUID, topic)
				msg.Ack()
				continue
			}
			handler(event)
			msg.Ack()
		}
	}()
	return nil
}

func (b *eventBus) Close() error {
	return b.pubsub.Close()
}

func toMessage(event domain.Event) (*message.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s event: %s", event.GetType(), err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(eventTypeKey, strconv.Itoa(int(event.GetType())))
	return msg, nil
}

func fromMessage(msg *message.Message) (domain.Event, error) {
	v, err := strconv.Atoi(msg.Metadata.Get(eventTypeKey))
	if err != nil {
		return nil, fmt.Errorf("invalid event type: %s", err)
	}
	eventType := domain.EventType(v)
	decode, ok := decoders[eventType]
	if !ok {
		return nil, fmt.Errorf("unknown event type %d", v)
	}
	event, err := decode(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize %s event: %s", eventType, err)
	}
	return event, nil
}

var decoders = map[domain.EventType]func([]byte) (domain.Event, error){
	domain.EventTypeSessionStarted:       decode[domain.SessionStarted],
	domain.EventTypeOracleDataFetched:    decode[domain.OracleDataFetched],
	domain.EventTypeFeeComputed:          decode[domain.FeeComputed],
	domain.EventTypeEntrySubmitted:       decode[domain.EntrySubmitted],
	domain.EventTypeEntryConfirmed:       decode[domain.EntryConfirmed],
	domain.EventTypeRequestIdentified:    decode[domain.RequestIdentified],
	domain.EventTypeSessionResolved:      decode[domain.SessionResolved],
	domain.EventTypeSessionFailed:        decode[domain.SessionFailed],
	domain.EventTypeDungeonEntered:       decode[domain.DungeonEntered],
	domain.EventTypeDungeonResolved:      decode[domain.DungeonResolved],
	domain.EventTypeHeroMinted:           decode[domain.HeroMinted],
	domain.EventTypeHeroLeveledUp:        decode[domain.HeroLeveledUp],
	domain.EventTypeDungeonFought:        decode[domain.DungeonFought],
	domain.EventTypeRewardEarned:         decode[domain.RewardEarned],
	domain.EventTypeMarketEventTriggered: decode[domain.MarketEventTriggered],
}

func decode[T domain.Event](payload []byte) (domain.Event, error) {
	var event T
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	return event, nil
}
