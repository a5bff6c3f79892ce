// Package console is the terminal adapter used by the ask and chat commands.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-go-golems/docsrelay/pkg/relay"
)

const Platform = "console"

// Replier prints replies to w. Typing is a no-op.
type Replier struct {
	mu    sync.Mutex
	w     io.Writer
	limit int
}

var _ relay.Replier = (*Replier)(nil)

// NewReplier writes to w; limit is the chunk size, zero for unlimited.
func NewReplier(w io.Writer, limit int) *Replier {
	return &Replier{w: w, limit: limit}
}

func (r *Replier) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := fmt.Fprintln(r.w, text)
	return errors.Wrap(err, "write reply")
}

func (r *Replier) Typing(context.Context) error { return nil }

func (r *Replier) MaxMessageLength() int { return r.limit }

func NewEvent(session, text string) relay.Event {
	return relay.Event{
		ID:         uuid.NewString(),
		Platform:   Platform,
		SessionKey: session,
		Text:       text,
		ChannelID:  "stdout",
		ReceivedAt: time.Now(),
	}
}

// ReadEvents turns each non-empty line of in into an event for session and
// calls fn with it, in order. It returns at EOF or when ctx is done.
func ReadEvents(ctx context.Context, in io.Reader, session string, fn func(relay.Event)) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return errors.Wrap(err, "read input")
				default:
					return nil
				}
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			fn(NewEvent(session, line))
		}
	}
}
