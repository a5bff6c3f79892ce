// Package discord connects the relay to Discord through discordgo.
package discord

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/docsrelay/pkg/platform"
	"github.com/go-go-golems/docsrelay/pkg/relay"
)

const (
	Platform                = "discord"
	DefaultMaxMessageLength = 2000
)

type Settings struct {
	Token            string `mapstructure:"token"`
	MaxMessageLength int    `mapstructure:"max-message-length"`
	// HistoryInGuilds keeps history for guild channel messages too. Off by
	// default: only direct messages are conversational.
	HistoryInGuilds bool `mapstructure:"history-in-guilds"`
}

func (s Settings) Enabled() bool { return strings.TrimSpace(s.Token) != "" }

func (s Settings) limit() int {
	if s.MaxMessageLength == 0 {
		return DefaultMaxMessageLength
	}
	return s.MaxMessageLength
}

// NewSession builds a discordgo session with the intents the relay needs. It
// is not opened: the worker role only uses its REST side.
func NewSession(s Settings) (*discordgo.Session, error) {
	dg, err := discordgo.New("Bot " + s.Token)
	if err != nil {
		return nil, errors.Wrap(err, "create discord session")
	}
	dg.Identify.Intents = discordgo.IntentGuildMessages | discordgo.IntentDirectMessages | discordgo.IntentMessageContent
	return dg, nil
}

// EventFromMessage translates a Discord message. It reports false for the
// bot's own messages, other bots and empty content.
func EventFromMessage(selfID string, m *discordgo.Message, historyInGuilds bool) (relay.Event, bool) {
	if m == nil || m.Author == nil || m.Author.ID == selfID || m.Author.Bot {
		return relay.Event{}, false
	}
	if strings.TrimSpace(m.Content) == "" {
		return relay.Event{}, false
	}
	receivedAt := m.Timestamp
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	return relay.Event{
		ID:         m.ID,
		Platform:   Platform,
		SessionKey: m.Author.ID,
		Text:       m.Content,
		ChannelID:  m.ChannelID,
		ReceivedAt: receivedAt,
		Stateless:  m.GuildID != "" && !historyInGuilds,
	}, true
}

// Gateway listens on the Discord websocket and publishes every relevant
// message.
type Gateway struct {
	session  *discordgo.Session
	settings Settings
	pub      platform.Publisher
	log      zerolog.Logger
}

func NewGateway(session *discordgo.Session, s Settings, pub platform.Publisher, logger zerolog.Logger) *Gateway {
	return &Gateway{
		session:  session,
		settings: s,
		pub:      pub,
		log:      logger.With().Str("component", "discord").Logger(),
	}
}

// Run opens the connection and blocks until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	remove := g.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		for _, guild := range r.Guilds {
			g.log.Info().Str("guild_id", guild.ID).Str("guild", guild.Name).Msg("connected to guild")
		}
	})
	defer remove()
	removeMsg := g.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		g.onMessage(ctx, s.State.User.ID, m.Message)
	})
	defer removeMsg()

	if err := g.session.Open(); err != nil {
		return errors.Wrap(err, "open discord gateway")
	}
	g.log.Info().Msg("discord gateway connected")
	<-ctx.Done()
	g.log.Info().Msg("closing discord gateway")
	if err := g.session.Close(); err != nil {
		return errors.Wrap(err, "close discord gateway")
	}
	return nil
}

func (g *Gateway) onMessage(ctx context.Context, selfID string, m *discordgo.Message) {
	ev, ok := EventFromMessage(selfID, m, g.settings.HistoryInGuilds)
	if !ok {
		return
	}
	if err := g.pub.Publish(ctx, ev); err != nil {
		g.log.Error().Err(err).Str("event_id", ev.ID).Msg("publishing discord event failed")
	}
}

// API is the REST surface replies go through.
type API interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

type Replier struct {
	api       API
	channelID string
	limit     int
}

var _ relay.Replier = (*Replier)(nil)

func (r *Replier) Send(ctx context.Context, text string) error {
	_, err := r.api.ChannelMessageSend(r.channelID, text, discordgo.WithContext(ctx))
	return errors.Wrapf(err, "send to discord channel %s", r.channelID)
}

func (r *Replier) Typing(ctx context.Context) error {
	return errors.Wrap(r.api.ChannelTyping(r.channelID, discordgo.WithContext(ctx)), "discord typing")
}

func (r *Replier) MaxMessageLength() int { return r.limit }

// NewReplierFactory binds replies to the event's channel.
func NewReplierFactory(api API, s Settings) relay.ReplierFactory {
	return relay.ReplierFactoryFunc(func(ev relay.Event) (relay.Replier, error) {
		if ev.ChannelID == "" {
			return nil, errors.Errorf("discord event %s has no channel", ev.ID)
		}
		return &Replier{api: api, channelID: ev.ChannelID, limit: s.limit()}, nil
	})
}
