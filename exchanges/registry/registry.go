// Package registry maps exchange names to their venue drivers.
package registry

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coinpulse/marketmanager/exchanges"
	"github.com/coinpulse/marketmanager/exchanges/bitfinex"
	"github.com/coinpulse/marketmanager/exchanges/kraken"
)

// ErrUnknownExchange is returned when no driver matches the requested name
var ErrUnknownExchange = errors.New("exchange not supported")

// New returns the driver for name. The client may be nil; drivers fall back
// to their package defaults.
func New(name string, client *http.Client) (exchanges.Exchange, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case kraken.Name:
		return kraken.New(client), nil
	case bitfinex.Name:
		return bitfinex.New(client), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, name)
	}
}

// Supported reports whether a driver exists for name
func Supported(name string) bool {
	_, err := New(name, nil)
	return err == nil
}

// Available lists the supported exchange names
func Available() []string {
	return []string{bitfinex.Name, kraken.Name}
}
