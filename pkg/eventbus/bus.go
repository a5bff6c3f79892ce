// Package eventbus carries relay events over watermill, either in process
// (gochannel) or across processes (Redis Streams).
package eventbus

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/docsrelay/pkg/logging"
	"github.com/go-go-golems/docsrelay/pkg/relay"
)

// Handler receives each decoded event. It must not block for long: the
// dispatcher it usually forwards to starts its own goroutine.
type Handler func(ctx context.Context, ev relay.Event)

type Bus struct {
	settings Settings
	pub      message.Publisher
	sub      message.Subscriber
	shared   bool // pub and sub are the same gochannel
	client   redis.UniversalClient
	log      zerolog.Logger

	closeOnce sync.Once
}

// New builds the bus for s.Transport. For redis it dials its own client.
func New(ctx context.Context, s Settings, logger zerolog.Logger) (*Bus, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s = s.withDefaults()
	if s.Transport == TransportMemory {
		return NewMemory(s, logger), nil
	}

	opts, err := redis.ParseURL(s.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse event bus redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping event bus redis")
	}
	b, err := NewRedis(client, s, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return b, nil
}

func NewMemory(s Settings, logger zerolog.Logger) *Bus {
	s = s.withDefaults()
	wl := logging.NewWatermill(logger)
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: s.Buffer}, wl)
	return &Bus{
		settings: s,
		pub:      ch,
		sub:      ch,
		shared:   true,
		log:      busLogger(logger, s),
	}
}

// NewRedis builds a Redis Streams bus on an existing client. The bus owns the
// client and closes it in Close.
func NewRedis(client redis.UniversalClient, s Settings, logger zerolog.Logger) (*Bus, error) {
	s = s.withDefaults()
	wl := logging.NewWatermill(logger)
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, wl)
	if err != nil {
		return nil, errors.Wrap(err, "create redis stream publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, wl)
	if err != nil {
		_ = pub.Close()
		return nil, errors.Wrap(err, "create redis stream subscriber")
	}
	return &Bus{
		settings: s,
		pub:      pub,
		sub:      sub,
		client:   client,
		log:      busLogger(logger, s),
	}, nil
}

func busLogger(l zerolog.Logger, s Settings) zerolog.Logger {
	return l.With().Str("component", "eventbus").Str("transport", s.Transport).Str("topic", s.Topic).Logger()
}

func (b *Bus) Topic() string { return b.settings.Topic }

// Publish encodes ev as JSON and hands it to the transport.
func (b *Bus) Publish(ctx context.Context, ev relay.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	id := ev.ID
	if id == "" {
		id = watermill.NewUUID()
	}
	msg := message.NewMessage(id, payload)
	msg.Metadata.Set("platform", ev.Platform)
	msg.Metadata.Set("session_key", ev.SessionKey)
	msg.SetContext(ctx)
	if err := b.pub.Publish(b.settings.Topic, msg); err != nil {
		return errors.Wrapf(err, "publish event %s", id)
	}
	b.log.Debug().Str("event_id", id).Str("platform", ev.Platform).Msg("event published")
	return nil
}

// Consume subscribes to the topic and feeds decoded events to h until ctx is
// done or the bus is closed. The subscription is live when Consume returns;
// the returned channel is closed when the loop exits.
func (b *Bus) Consume(ctx context.Context, h Handler) (<-chan struct{}, error) {
	if b.client != nil {
		if err := EnsureGroupAtTail(ctx, b.client, b.settings.Topic, b.settings.Group); err != nil {
			return nil, err
		}
	}
	msgs, err := b.sub.Subscribe(ctx, b.settings.Topic)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe")
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.log.Info().Msg("event consumer started")
		for msg := range msgs {
			var ev relay.Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.log.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("failed to decode event, dropping")
				msg.Ack()
				continue
			}
			if ev.ID == "" {
				ev.ID = msg.UUID
			}
			h(ctx, ev)
			msg.Ack()
		}
		b.log.Info().Msg("event consumer stopped")
	}()
	return done, nil
}

func (b *Bus) Close() error {
	var errs []string
	b.closeOnce.Do(func() {
		if err := b.pub.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if !b.shared {
			if err := b.sub.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if b.client != nil {
			if err := b.client.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	})
	if len(errs) > 0 {
		return errors.Errorf("close event bus: %s", strings.Join(errs, "; "))
	}
	return nil
}

// EnsureGroupAtTail creates the consumer group at "$" if it does not exist,
// so a fresh worker does not replay the whole stream.
func EnsureGroupAtTail(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create consumer group %s on %s", group, stream)
	}
	return nil
}
