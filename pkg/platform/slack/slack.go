// Package slack connects the relay to Slack over Socket Mode.
package slack

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/go-go-golems/docsrelay/pkg/platform"
	"github.com/go-go-golems/docsrelay/pkg/relay"
)

const (
	Platform                = "slack"
	DefaultMaxMessageLength = 4000
	DefaultTypingText       = "Typing..."
)

type Settings struct {
	AppToken string `mapstructure:"app-token"`
	BotToken string `mapstructure:"bot-token"`
	// SigningSecret is only needed for HTTP event delivery; Socket Mode
	// authenticates with the app token.
	SigningSecret    string `mapstructure:"signing-secret"`
	MaxMessageLength int    `mapstructure:"max-message-length"`
	TypingText       string `mapstructure:"typing-text"`
}

func (s Settings) Enabled() bool {
	return strings.TrimSpace(s.BotToken) != ""
}

func (s Settings) Validate() error {
	if !s.Enabled() {
		return nil
	}
	if !strings.HasPrefix(s.AppToken, "xapp-") {
		return errors.New("slack: SLACK_APP_TOKEN must be an app-level token (xapp-...)")
	}
	return nil
}

func (s Settings) limit() int {
	if s.MaxMessageLength == 0 {
		return DefaultMaxMessageLength
	}
	return s.MaxMessageLength
}

func NewClient(s Settings) *slack.Client {
	return slack.New(s.BotToken, slack.OptionAppLevelToken(s.AppToken))
}

var mentionRe = regexp.MustCompile(`<@[A-Z0-9]+>`)

// Message is the part of a Slack message event the relay reads.
type Message struct {
	User            string
	BotID           string
	SubType         string
	Text            string
	Channel         string
	TimeStamp       string
	ThreadTimeStamp string
}

// EventFromMessage translates a Slack message. Replies go to the thread the
// message belongs to, or start one under it.
func EventFromMessage(m Message) (relay.Event, bool) {
	if m.BotID != "" || m.SubType != "" {
		return relay.Event{}, false
	}
	text := strings.TrimSpace(mentionRe.ReplaceAllString(m.Text, ""))
	if m.User == "" || text == "" {
		return relay.Event{}, false
	}
	thread := m.ThreadTimeStamp
	if thread == "" {
		thread = m.TimeStamp
	}
	return relay.Event{
		ID:         m.Channel + ":" + m.TimeStamp,
		Platform:   Platform,
		SessionKey: m.User,
		Text:       text,
		ChannelID:  m.Channel,
		ThreadID:   thread,
		ReceivedAt: parseTS(m.TimeStamp),
	}, true
}

func parseTS(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil || f <= 0 {
		return time.Now()
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC()
}

// messageFromEvent extracts app mentions and direct messages. Channel
// messages that mention the bot arrive as both kinds; only the mention is
// kept.
func messageFromEvent(inner slackevents.EventsAPIInnerEvent) (Message, bool) {
	switch ev := inner.Data.(type) {
	case *slackevents.AppMentionEvent:
		return Message{
			User:            ev.User,
			BotID:           ev.BotID,
			Text:            ev.Text,
			Channel:         ev.Channel,
			TimeStamp:       ev.TimeStamp,
			ThreadTimeStamp: ev.ThreadTimeStamp,
		}, true
	case *slackevents.MessageEvent:
		if ev.ChannelType != "im" {
			return Message{}, false
		}
		return Message{
			User:            ev.User,
			BotID:           ev.BotID,
			SubType:         ev.SubType,
			Text:            ev.Text,
			Channel:         ev.Channel,
			TimeStamp:       ev.TimeStamp,
			ThreadTimeStamp: ev.ThreadTimeStamp,
		}, true
	}
	return Message{}, false
}

// Gateway runs the Socket Mode loop and publishes translated events.
type Gateway struct {
	api *slack.Client
	sm  *socketmode.Client
	pub platform.Publisher
	log zerolog.Logger
}

func NewGateway(api *slack.Client, pub platform.Publisher, logger zerolog.Logger) *Gateway {
	return &Gateway{
		api: api,
		sm:  socketmode.New(api),
		pub: pub,
		log: logger.With().Str("component", "slack").Logger(),
	}
}

// Run blocks until ctx is done or the socket connection fails for good.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.api.SetUserPresenceContext(ctx, "auto"); err != nil {
		g.log.Error().Err(err).Msg("setting presence failed")
	} else {
		g.log.Info().Str("presence", "auto").Msg("presence set")
	}

	go g.consume(ctx)
	g.log.Info().Msg("starting slack socket mode")
	if err := g.sm.RunContext(ctx); err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "slack socket mode")
	}
	return nil
}

func (g *Gateway) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-g.sm.Events:
			if !ok {
				return
			}
			g.handleSocketEvent(ctx, evt)
		}
	}
}

func (g *Gateway) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		g.log.Debug().Msg("connecting to slack")
	case socketmode.EventTypeConnected:
		g.log.Info().Msg("connected to slack")
	case socketmode.EventTypeConnectionError:
		g.log.Warn().Interface("data", evt.Data).Msg("slack connection error")
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			g.log.Warn().Msg("unexpected events api payload")
			return
		}
		if evt.Request != nil {
			g.sm.Ack(*evt.Request)
		}
		if apiEvent.Type == slackevents.CallbackEvent {
			g.handleInner(ctx, apiEvent.InnerEvent)
		}
	}
}

func (g *Gateway) handleInner(ctx context.Context, inner slackevents.EventsAPIInnerEvent) {
	m, ok := messageFromEvent(inner)
	if !ok {
		return
	}
	ev, ok := EventFromMessage(m)
	if !ok {
		if m.BotID == "" && m.SubType == "" {
			g.log.Error().Str("channel", m.Channel).Msg("user id or text missing from slack event")
		}
		return
	}
	g.log.Info().Str("event_id", ev.ID).Str("type", inner.Type).Msg("message received")
	if err := g.pub.Publish(ctx, ev); err != nil {
		g.log.Error().Err(err).Str("event_id", ev.ID).Msg("publishing slack event failed")
	}
}

// Poster is the Web API call replies go through.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Replier posts into one thread. Slack bots have no typing API, so Typing
// posts a single placeholder message the first time it is called.
type Replier struct {
	api        Poster
	channel    string
	thread     string
	limit      int
	typingText string
	typingOnce sync.Once
}

var _ relay.Replier = (*Replier)(nil)

func (r *Replier) Send(ctx context.Context, text string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if r.thread != "" {
		opts = append(opts, slack.MsgOptionTS(r.thread))
	}
	_, _, err := r.api.PostMessageContext(ctx, r.channel, opts...)
	return errors.Wrapf(err, "post to slack channel %s", r.channel)
}

func (r *Replier) Typing(ctx context.Context) error {
	var err error
	r.typingOnce.Do(func() {
		err = r.Send(ctx, r.typingText)
	})
	return err
}

func (r *Replier) MaxMessageLength() int { return r.limit }

func NewReplierFactory(api Poster, s Settings) relay.ReplierFactory {
	typing := s.TypingText
	if typing == "" {
		typing = DefaultTypingText
	}
	return relay.ReplierFactoryFunc(func(ev relay.Event) (relay.Replier, error) {
		if ev.ChannelID == "" {
			return nil, errors.Errorf("slack event %s has no channel", ev.ID)
		}
		return &Replier{
			api:        api,
			channel:    ev.ChannelID,
			thread:     ev.ThreadID,
			limit:      s.limit(),
			typingText: typing,
		}, nil
	})
}
