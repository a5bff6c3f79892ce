package history

import (
	"fmt"
	"strings"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser Role = "User"
	RoleBot  Role = "Bot"
)

// Turn is one stored message of a session. Sequence counts every entry ever
// pushed for the session, starting at zero, and is not reset by trimming.
type Turn struct {
	Role     Role   `json:"role" yaml:"role"`
	Text     string `json:"text" yaml:"text"`
	Sequence int64  `json:"sequence" yaml:"sequence"`
}

// String renders the turn in its persisted "<Role>: <text>" form.
func (t Turn) String() string {
	return FormatEntry(t.Role, t.Text)
}

// FormatEntry renders a raw store entry.
func FormatEntry(role Role, text string) string {
	return fmt.Sprintf("%s: %s", role, text)
}

// ParseEntry turns a raw store entry back into a Turn. Entries that carry no
// known role prefix are kept as user text so that foreign data never breaks a
// fetch.
func ParseEntry(entry string, sequence int64) Turn {
	for _, role := range []Role{RoleUser, RoleBot} {
		prefix := string(role) + ": "
		if strings.HasPrefix(entry, prefix) {
			return Turn{Role: role, Text: strings.TrimPrefix(entry, prefix), Sequence: sequence}
		}
	}
	return Turn{Role: RoleUser, Text: entry, Sequence: sequence}
}

// Render joins turns into one block, oldest first, one "<Role>: <text>" per line.
func Render(turns []Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, t.String())
	}
	return strings.Join(lines, "\n")
}
