package eventbus

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	TransportMemory = "memory"
	TransportRedis  = "redis"

	DefaultTopic = "docsrelay.events"
	DefaultGroup = "docsrelay-workers"
)

// Settings selects the transport carrying inbound events from the platform
// gateways to the workers. The memory transport only works inside a single
// process.
type Settings struct {
	Transport string `mapstructure:"transport"`
	RedisURL  string `mapstructure:"redis-url"`
	Topic     string `mapstructure:"topic"`
	Group     string `mapstructure:"group"`
	Consumer  string `mapstructure:"consumer"`
	Buffer    int64  `mapstructure:"buffer"`
}

func (s Settings) withDefaults() Settings {
	if s.Transport == "" {
		s.Transport = TransportMemory
	}
	if s.Topic == "" {
		s.Topic = DefaultTopic
	}
	if s.Group == "" {
		s.Group = DefaultGroup
	}
	if s.Consumer == "" {
		s.Consumer = "worker-" + uuid.NewString()[:8]
	}
	if s.Buffer <= 0 {
		s.Buffer = 64
	}
	return s
}

func (s Settings) Validate() error {
	switch s.Transport {
	case "", TransportMemory:
		return nil
	case TransportRedis:
		if s.RedisURL == "" {
			return errors.New("event bus: redis transport needs redis-url")
		}
		return nil
	default:
		return errors.Errorf("event bus: unknown transport %q", s.Transport)
	}
}
