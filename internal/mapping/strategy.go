// Package mapping turns a flat list of absolute source paths into virtual
// paths under the mount root.
package mapping

import (
	"errors"
	"fmt"
	"strings"
)

// Strategy selects how virtual paths are derived from source paths.
type Strategy int

const (
	// Copy replicates the full source path under the mount root.
	Copy Strategy = iota
	// Flat places every file directly in the mount root under its base name.
	Flat
	// Common strips the directory prefix shared by all source paths.
	Common
)

// ErrUnknownStrategy is returned by ParseStrategy for unrecognized names.
var ErrUnknownStrategy = errors.New("unknown mapping strategy")

var strategyNames = map[Strategy]string{
	Copy:   "copy",
	Flat:   "flat",
	Common: "common",
}

// StrategyNames lists the recognized strategy names in display order.
func StrategyNames() []string {
	return []string{"copy", "flat", "common"}
}

// String returns the command-line name of the strategy.
func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// ParseStrategy accepts exactly "copy", "flat" or "common".
func ParseStrategy(name string) (Strategy, error) {
	for s, n := range strategyNames {
		if n == name {
			return s, nil
		}
	}
	return Copy, fmt.Errorf("%w %q (want one of %s)", ErrUnknownStrategy, name,
		strings.Join(StrategyNames(), ", "))
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	if _, ok := strategyNames[s]; !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownStrategy, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
