package currency

import (
	"errors"
	"sort"
	"strings"
)

// Code is a single currency symbol, e.g. BTC or USD
type Code string

// NewCode returns a trimmed uppercase currency code
func NewCode(s string) Code {
	return Code(strings.ToUpper(strings.TrimSpace(s)))
}

// String returns the code as a string
func (c Code) String() string {
	return string(c)
}

// Upper returns an uppercased copy of the code
func (c Code) Upper() Code {
	return Code(strings.ToUpper(string(c)))
}

// Lower returns a lowercased copy of the code
func (c Code) Lower() Code {
	return Code(strings.ToLower(string(c)))
}

// IsEmpty returns whether the code holds a symbol
func (c Code) IsEmpty() bool {
	return c == ""
}

// ErrNoFiatSymbols is returned when a fiat set is constructed without members
var ErrNoFiatSymbols = errors.New("no fiat symbols supplied")

// FiatSet holds the configured fiat denominations. The first symbol supplied
// is the canonical unit all volumes are expressed in.
type FiatSet struct {
	canonical Code
	members   map[Code]struct{}
}

// NewFiatSet returns a FiatSet from an ordered symbol list
func NewFiatSet(symbols ...string) (*FiatSet, error) {
	if len(symbols) == 0 {
		return nil, ErrNoFiatSymbols
	}
	s := &FiatSet{members: make(map[Code]struct{}, len(symbols))}
	for i := range symbols {
		c := NewCode(symbols[i])
		if c.IsEmpty() {
			continue
		}
		if s.canonical.IsEmpty() {
			s.canonical = c
		}
		s.members[c] = struct{}{}
	}
	if len(s.members) == 0 {
		return nil, ErrNoFiatSymbols
	}
	return s, nil
}

// Contains returns whether the code is a configured fiat symbol
func (s *FiatSet) Contains(c Code) bool {
	_, ok := s.members[c.Upper()]
	return ok
}

// ContainsString is a convenience wrapper over Contains
func (s *FiatSet) ContainsString(symbol string) bool {
	return s.Contains(NewCode(symbol))
}

// Canonical returns the unit volumes are denominated in
func (s *FiatSet) Canonical() Code {
	return s.canonical
}

// Slice returns the member symbols sorted alphabetically
func (s *FiatSet) Slice() []string {
	out := make([]string, 0, len(s.members))
	for c := range s.members {
		out = append(out, c.String())
	}
	sort.Strings(out)
	return out
}
