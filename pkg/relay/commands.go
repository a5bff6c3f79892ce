package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/go-go-golems/docsrelay/pkg/history"
)

const (
	CommandHelp         = "help"
	CommandClearHistory = "clearhistory"

	DefaultCommandPrefix = "!"
)

// ParseCommand returns the lowercased command name when text is a single
// prefixed word such as "!help".
func ParseCommand(text, prefix string) (string, bool) {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", false
	}
	fields := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(fields) == 0 {
		return "", false
	}
	return strings.ToLower(fields[0]), true
}

// Commands is the user-facing command surface shared by the adapters.
type Commands struct {
	prefix string
	store  *history.Store
	log    zerolog.Logger
}

func NewCommands(prefix string, store *history.Store, logger zerolog.Logger) *Commands {
	if prefix == "" {
		prefix = DefaultCommandPrefix
	}
	return &Commands{
		prefix: prefix,
		store:  store,
		log:    logger.With().Str("component", "commands").Logger(),
	}
}

func (c *Commands) HelpText() string {
	return fmt.Sprintf("Available commands:\n%[1]s%[2]s - Show this message\n%[1]s%[3]s - Clear your message history",
		c.prefix, CommandHelp, CommandClearHistory)
}

// Handle answers known commands and reports whether ev was one. Unknown
// prefixed words are left to the orchestrator.
func (c *Commands) Handle(ctx context.Context, ev Event, r Replier) bool {
	name, ok := ParseCommand(ev.Text, c.prefix)
	if !ok {
		return false
	}
	log := c.log.With().Str("command", name).Str("platform", ev.Platform).Str("session_key", ev.SessionKey).Logger()

	var reply string
	switch name {
	case CommandHelp:
		reply = c.HelpText()
	case CommandClearHistory:
		if strings.TrimSpace(ev.SessionKey) == "" {
			log.Error().Msg("clearhistory without session key")
			return true
		}
		if err := c.store.Clear(ctx, ev.SessionKey); err != nil {
			reply = "Sorry, I couldn't clear your history. Please try again later."
		} else {
			reply = "Your message history has been cleared."
		}
	default:
		return false
	}

	log.Info().Msg("handling command")
	if err := r.Send(ctx, reply); err != nil {
		log.Error().Err(err).Msg("sending command reply failed")
	}
	return true
}
