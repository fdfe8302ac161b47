package currency

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Separators recognised inside upstream symbol strings, in match priority
// order.
var Separators = []string{"/", "-", "_"}

// ErrNoSeparator is returned when a symbol string cannot be split into a pair
var ErrNoSeparator = errors.New("no separator found in symbol string")

// Pair holds a base and quote currency
type Pair struct {
	Delimiter string `json:"delimiter"`
	Base      Code   `json:"base"`
	Quote     Code   `json:"quote"`
}

// NewPair returns a Pair from base and quote strings
func NewPair(base, quote string) Pair {
	return Pair{
		Base:  NewCode(base),
		Quote: NewCode(quote),
	}
}

// NewPairDelimiter splits the symbol string at delimiter and returns a Pair
func NewPairDelimiter(symbol, delimiter string) (Pair, error) {
	parts := strings.SplitN(symbol, delimiter, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("cannot split %q on %q into base and quote", symbol, delimiter)
	}
	return Pair{
		Delimiter: delimiter,
		Base:      NewCode(parts[0]),
		Quote:     NewCode(parts[1]),
	}, nil
}

// NewPairFromString converts a symbol string into a Pair, scanning for the
// known separators in priority order
func NewPairFromString(symbol string) (Pair, error) {
	for _, sep := range Separators {
		if strings.Contains(symbol, sep) {
			return NewPairDelimiter(symbol, sep)
		}
	}
	return Pair{}, fmt.Errorf("%w: %q", ErrNoSeparator, symbol)
}

// NewPairFromUnderlying derives a pair from a symbol string anchored by a
// known underlying currency, e.g. name "THETA-PERP" with underlying "THETA"
// yields base PERP quote THETA. The underlying always becomes the quote; the
// remainder of the name, stripped of separators, becomes the base.
func NewPairFromUnderlying(name, underlying string) (Pair, error) {
	if underlying == "" {
		return Pair{}, errors.New("underlying currency is empty")
	}
	i := strings.Index(name, underlying)
	if i == -1 {
		return Pair{}, fmt.Errorf("underlying %q not found in symbol %q", underlying, name)
	}
	remainder := name[:i] + name[i+len(underlying):]
	for _, sep := range Separators {
		remainder = strings.ReplaceAll(remainder, sep, "")
	}
	if remainder == "" {
		return Pair{}, fmt.Errorf("symbol %q holds no base beside underlying %q", name, underlying)
	}
	return Pair{
		Base:  NewCode(remainder),
		Quote: NewCode(underlying),
	}, nil
}

// String returns the pair as base<delimiter>quote
func (p Pair) String() string {
	return p.Base.String() + p.Delimiter + p.Quote.String()
}

// Canonical returns the uppercase dash-joined market name, e.g. BTC-USD
func (p Pair) Canonical() string {
	return p.Base.Upper().String() + "-" + p.Quote.Upper().String()
}

// Upper converts the pair to uppercase
func (p Pair) Upper() Pair {
	return Pair{
		Delimiter: p.Delimiter,
		Base:      p.Base.Upper(),
		Quote:     p.Quote.Upper(),
	}
}

// Lower converts the pair to lowercase
func (p Pair) Lower() Pair {
	return Pair{
		Delimiter: p.Delimiter,
		Base:      p.Base.Lower(),
		Quote:     p.Quote.Lower(),
	}
}

// Equal compares two pairs case-insensitively
func (p Pair) Equal(other Pair) bool {
	return strings.EqualFold(p.Base.String(), other.Base.String()) &&
		strings.EqualFold(p.Quote.String(), other.Quote.String())
}

// IsEmpty returns whether the pair is missing a currency code
func (p Pair) IsEmpty() bool {
	return p.Base.IsEmpty() || p.Quote.IsEmpty()
}

// UnmarshalJSON conforms the type to the json.Unmarshaler interface
func (p *Pair) UnmarshalJSON(d []byte) error {
	var symbol string
	if err := json.Unmarshal(d, &symbol); err != nil {
		return err
	}
	pair, err := NewPairFromString(symbol)
	if err != nil {
		return err
	}
	*p = pair
	return nil
}

// MarshalJSON conforms the type to the json.Marshaler interface
func (p Pair) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}
