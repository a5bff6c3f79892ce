package history

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrStoreUnavailable marks failures of the backing store. Store never returns
// it from Fetch/Append/Trim; it is only visible through Clear and the backends.
var ErrStoreUnavailable = errors.New("history store unavailable")

// Backend is the persistence primitive behind a Store: one ordered list of raw
// entries per session key. Implementations must make Push and Trim atomic per
// key; the Store holds no locks across calls.
type Backend interface {
	// Range returns the newest limit entries of key, oldest first, together
	// with the sequence number of the first returned entry. Sequence numbers
	// grow by one per pushed entry and survive Trim and Delete, so a number is
	// never handed out twice for the same key.
	Range(ctx context.Context, key string, limit int) ([]string, int64, error)
	// Push appends entries in order.
	Push(ctx context.Context, key string, entries ...string) error
	// Trim keeps only the newest limit entries.
	Trim(ctx context.Context, key string, limit int) error
	// Delete removes every entry of key.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Store is the best-effort conversation log used by the relay. History is a
// continuity aid, so every operation except Clear degrades instead of failing.
type Store struct {
	backend Backend
	log     zerolog.Logger
}

func NewStore(backend Backend, logger zerolog.Logger) *Store {
	return &Store{
		backend: backend,
		log:     logger.With().Str("component", "history").Logger(),
	}
}

// Fetch returns up to limit of the most recent turns for key, oldest first.
// Unknown keys and store failures both yield an empty slice.
func (s *Store) Fetch(ctx context.Context, key string, limit int) []Turn {
	key = strings.TrimSpace(key)
	if key == "" || limit <= 0 {
		return []Turn{}
	}
	entries, first, err := s.backend.Range(ctx, key, limit)
	if err != nil {
		s.log.Error().Err(err).Str("session_key", key).Int("limit", limit).Msg("fetching history failed, continuing without history")
		return []Turn{}
	}
	if len(entries) > limit {
		first += int64(len(entries) - limit)
		entries = entries[len(entries)-limit:]
	}
	turns := make([]Turn, 0, len(entries))
	for i, e := range entries {
		turns = append(turns, ParseEntry(e, first+int64(i)))
	}
	return turns
}

// Append records one exchange: the user turn, then the bot turn.
func (s *Store) Append(ctx context.Context, key, userText, botText string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	err := s.backend.Push(ctx, key, FormatEntry(RoleUser, userText), FormatEntry(RoleBot, botText))
	if err != nil {
		s.log.Error().Err(err).Str("session_key", key).Msg("appending to history failed")
	}
}

// Trim drops all but the newest limit raw entries. A limit of zero clears the
// session; negative limits are ignored.
func (s *Store) Trim(ctx context.Context, key string, limit int) {
	key = strings.TrimSpace(key)
	if key == "" || limit < 0 {
		return
	}
	var err error
	if limit == 0 {
		err = s.backend.Delete(ctx, key)
	} else {
		err = s.backend.Trim(ctx, key, limit)
	}
	if err != nil {
		s.log.Error().Err(err).Str("session_key", key).Int("limit", limit).Msg("trimming history failed")
	}
}

// Clear deletes the whole history of key.
func (s *Store) Clear(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("history: empty session key")
	}
	if err := s.backend.Delete(ctx, key); err != nil {
		s.log.Error().Err(err).Str("session_key", key).Msg("clearing history failed")
		return errors.Wrapf(err, "clear history for %s", key)
	}
	s.log.Info().Str("session_key", key).Msg("history cleared")
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
