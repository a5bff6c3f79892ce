// Package platform holds what the chat adapters share: the sink inbound
// events are handed to.
package platform

import (
	"context"

	"github.com/go-go-golems/docsrelay/pkg/relay"
)

// Publisher accepts translated inbound events. The event bus implements it;
// in tests a func is enough.
type Publisher interface {
	Publish(ctx context.Context, ev relay.Event) error
}

type PublisherFunc func(ctx context.Context, ev relay.Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev relay.Event) error { return f(ctx, ev) }
