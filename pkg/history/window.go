package history

import (
	"strings"

	"github.com/pkg/errors"
)

// WindowUnit says how a window size is counted.
type WindowUnit string

const (
	// UnitPairs counts user/bot exchanges, two raw entries each.
	UnitPairs WindowUnit = "pairs"
	// UnitEntries counts raw entries.
	UnitEntries WindowUnit = "entries"
)

// Window is the bounded view of a session used when composing prompts.
type Window struct {
	Size int
	Unit WindowUnit
}

func ParseWindowUnit(s string) (WindowUnit, error) {
	switch WindowUnit(strings.ToLower(strings.TrimSpace(s))) {
	case UnitPairs, "":
		return UnitPairs, nil
	case UnitEntries:
		return UnitEntries, nil
	default:
		return "", errors.Errorf("unknown history window unit %q (want pairs or entries)", s)
	}
}

// Entries is the raw entry count the window covers.
func (w Window) Entries() int {
	if w.Size <= 0 {
		return 0
	}
	if w.Unit == UnitEntries {
		return w.Size
	}
	return w.Size * 2
}
