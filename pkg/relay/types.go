package relay

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrMalformedEvent marks an inbound event without a session key or text.
var ErrMalformedEvent = errors.New("malformed event")

// ErrEmitFailed marks a platform send failure while emitting chunks.
var ErrEmitFailed = errors.New("emitting reply failed")

// Event is one inbound message from a platform adapter. It is plain data so it
// can travel over the event bus; the reply channel is identified by
// Platform, ChannelID and ThreadID.
type Event struct {
	ID         string    `json:"id"`
	Platform   string    `json:"platform"`
	SessionKey string    `json:"session_key"`
	Text       string    `json:"text"`
	ChannelID  string    `json:"channel_id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`

	// Stateless events are answered without reading or writing history
	// (public channel messages on Discord).
	Stateless bool `json:"stateless,omitempty"`
}

// Replier is the outbound side of a platform, bound to one reply channel.
type Replier interface {
	// Send posts one message. Calls are sequential for a given reply.
	Send(ctx context.Context, text string) error
	// Typing shows a transient working indicator. Best effort.
	Typing(ctx context.Context) error
	// MaxMessageLength is the platform's message size limit in characters;
	// zero means unlimited.
	MaxMessageLength() int
}

// ReplierFactory resolves the reply channel of an event for one platform.
type ReplierFactory interface {
	Replier(ev Event) (Replier, error)
}

type ReplierFactoryFunc func(ev Event) (Replier, error)

func (f ReplierFactoryFunc) Replier(ev Event) (Replier, error) { return f(ev) }
