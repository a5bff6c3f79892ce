package history

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"

	DefaultWindow = 5
)

type Settings struct {
	Backend    string        `mapstructure:"backend"`
	Redis      RedisSettings `mapstructure:",squash"`
	SQLitePath string        `mapstructure:"sqlite-path"`
	Window     int           `mapstructure:"window"`
	WindowUnit string        `mapstructure:"window-unit"`
}

func (s Settings) ParseWindow() (Window, error) {
	unit, err := ParseWindowUnit(s.WindowUnit)
	if err != nil {
		return Window{}, err
	}
	if s.Window < 0 {
		return Window{}, errors.Errorf("history window must not be negative, got %d", s.Window)
	}
	return Window{Size: s.Window, Unit: unit}, nil
}

func (s Settings) Validate() error {
	if _, err := s.ParseWindow(); err != nil {
		return err
	}
	switch strings.ToLower(s.Backend) {
	case BackendRedis, "":
		if strings.TrimSpace(s.Redis.URL) == "" {
			return errors.New("redis history backend requires REDIS_URL")
		}
	case BackendSQLite:
		if strings.TrimSpace(s.SQLitePath) == "" {
			return errors.New("sqlite history backend requires history.sqlite-path")
		}
	case BackendMemory:
	default:
		return errors.Errorf("unknown history backend %q", s.Backend)
	}
	return nil
}

// Open connects the configured backend and wraps it in a Store.
func Open(ctx context.Context, s Settings, logger zerolog.Logger) (*Store, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	var (
		b   Backend
		err error
	)
	switch strings.ToLower(s.Backend) {
	case BackendRedis, "":
		b, err = DialRedisBackend(ctx, s.Redis, logger)
	case BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(s.SQLitePath), 0o755); err != nil {
			return nil, errors.Wrap(err, "create sqlite directory")
		}
		var dsn string
		dsn, err = SQLiteDSNForFile(s.SQLitePath)
		if err == nil {
			b, err = NewSQLiteBackend(dsn)
		}
	case BackendMemory:
		b = NewMemoryBackend()
	}
	if err != nil {
		return nil, err
	}
	return NewStore(b, logger), nil
}
